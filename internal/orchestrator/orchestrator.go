// Package orchestrator owns the job lifecycle: it validates submissions,
// drives the fetch/extract pipeline, persists results through the repository
// collaborator, and publishes lifecycle events. No other component mutates
// job state.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/zonedesk/ingest/internal/extractor"
	"github.com/zonedesk/ingest/internal/metrics"
	"github.com/zonedesk/ingest/internal/pipeline"
)

// Config controls orchestrator behavior.
type Config struct {
	// ConcurrencyLimit bounds concurrent target fetches within one job.
	ConcurrencyLimit int
	// MaxAutoRetries bounds automatic re-runs after transient failures.
	MaxAutoRetries int
	// FetchTimeout applies per target fetch.
	FetchTimeout time.Duration
	// ArchivePrefix namespaces raw snapshot paths.
	ArchivePrefix string
}

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// ExtractFunc structures raw markup according to a schema. Injected so tests
// can substitute a fake without standing up page fixtures.
type ExtractFunc func(content []byte, schema extractor.Schema) (pipeline.Record, error)

// Orchestrator holds the job registry and the injected collaborators. The
// registry lives and dies with the instance; there is no ambient global
// state.
type Orchestrator struct {
	mu   sync.RWMutex
	jobs map[string]*pipeline.Job

	fetcher pipeline.Fetcher
	schemas *extractor.Registry
	extract ExtractFunc
	repo    pipeline.Repository
	bus     pipeline.Bus
	archive pipeline.Archive
	clock   pipeline.Clock
	idGen   pipeline.IDGenerator
	logger  *zap.Logger
	cfg     Config

	// baseCtx outlives any single caller so abandoned runs still reach a
	// terminal state and publish their event.
	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup
}

// New constructs an Orchestrator. The archive collaborator may be nil, in
// which case raw snapshots are not kept; a nil extract falls back to the
// real extractor.
func New(
	fetcher pipeline.Fetcher,
	schemas *extractor.Registry,
	extract ExtractFunc,
	repo pipeline.Repository,
	bus pipeline.Bus,
	archive pipeline.Archive,
	clock pipeline.Clock,
	idGen pipeline.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ConcurrencyLimit <= 0 {
		cfg.ConcurrencyLimit = 3
	}
	if cfg.MaxAutoRetries < 0 {
		cfg.MaxAutoRetries = 0
	} else if cfg.MaxAutoRetries == 0 {
		cfg.MaxAutoRetries = 1
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	if extract == nil {
		extract = extractor.Extract
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		jobs:       make(map[string]*pipeline.Job),
		fetcher:    fetcher,
		schemas:    schemas,
		extract:    extract,
		repo:       repo,
		bus:        bus,
		archive:    archive,
		clock:      clock,
		idGen:      idGen,
		logger:     logger,
		cfg:        cfg,
		baseCtx:    baseCtx,
		baseCancel: cancel,
	}
}

// Close stops accepting work and waits for in-flight runs to finish.
func (o *Orchestrator) Close() {
	o.baseCancel()
	o.wg.Wait()
}

// Submit validates and registers a new job in scheduled state. Resubmission
// is not idempotent: every call creates a fresh job id.
func (o *Orchestrator) Submit(kind pipeline.JobKind, targets []pipeline.Target, schedule string) (string, error) {
	if !pipeline.ValidKind(kind) {
		return "", &pipeline.ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown job kind %q", kind)}
	}
	if len(targets) == 0 {
		return "", &pipeline.ValidationError{Field: "targets", Reason: "at least one target is required"}
	}
	for i, t := range targets {
		if t.URL == "" {
			return "", &pipeline.ValidationError{Field: "targets", Reason: fmt.Sprintf("target %d has no url", i)}
		}
		if t.Schema == "" {
			return "", &pipeline.ValidationError{Field: "targets", Reason: fmt.Sprintf("target %d has no schema", i)}
		}
		if _, err := o.schemas.Get(t.Schema); err != nil {
			return "", &pipeline.ValidationError{Field: "targets", Reason: err.Error()}
		}
	}
	if schedule == "" {
		schedule = pipeline.ScheduleManual
	}
	if err := ValidateSchedule(schedule); err != nil {
		return "", err
	}

	id, err := o.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	job := &pipeline.Job{
		ID:        id,
		Kind:      kind,
		Schedule:  schedule,
		Status:    pipeline.StatusScheduled,
		Targets:   append([]pipeline.Target(nil), targets...),
		Submitted: o.clock.Now(),
	}

	o.mu.Lock()
	o.jobs[id] = job
	o.mu.Unlock()

	o.logger.Info("job submitted",
		zap.String("job_id", id),
		zap.String("kind", string(kind)),
		zap.String("schedule", schedule),
		zap.Int("targets", len(targets)),
	)
	return id, nil
}

// ValidateSchedule accepts the literal "manual" or a five-field cron
// expression.
func ValidateSchedule(schedule string) error {
	if schedule == pipeline.ScheduleManual {
		return nil
	}
	if _, err := cronParser.Parse(schedule); err != nil {
		return &pipeline.ValidationError{
			Field:  "schedule",
			Reason: fmt.Sprintf("not a cron expression or %q: %v", pipeline.ScheduleManual, err),
		}
	}
	return nil
}

// Status returns a read-only snapshot of the job.
func (o *Orchestrator) Status(jobID string) (pipeline.Job, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	job, ok := o.jobs[jobID]
	if !ok {
		return pipeline.Job{}, &pipeline.ValidationError{Field: "job_id", Reason: "job not found"}
	}
	return snapshot(job), nil
}

// Cancel withdraws a job that has not been dispatched yet. Cancelling a
// running job is not supported: the run proceeds to a terminal state and
// callers bound their wait with a deadline at the Run boundary instead.
func (o *Orchestrator) Cancel(jobID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	job, ok := o.jobs[jobID]
	if !ok {
		return &pipeline.ValidationError{Field: "job_id", Reason: "job not found"}
	}
	if job.Status != pipeline.StatusScheduled {
		return &pipeline.ValidationError{
			Field:  "job_id",
			Reason: fmt.Sprintf("cannot cancel job in state %q", job.Status),
		}
	}
	delete(o.jobs, jobID)
	o.logger.Info("job canceled before dispatch", zap.String("job_id", jobID))
	return nil
}

// Run dispatches the job and waits for it to finish or for ctx to expire.
// On expiry the caller gets the current snapshot and ctx's error, but the
// run continues detached: a terminal state is always recorded and its event
// always published. There is no hard job-kill primitive.
func (o *Orchestrator) Run(ctx context.Context, jobID string) (pipeline.Job, error) {
	if err := o.markRunning(jobID); err != nil {
		return pipeline.Job{}, err
	}

	done := make(chan struct{})
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer close(done)
		o.execute(jobID)
	}()

	select {
	case <-done:
		return o.Status(jobID)
	case <-ctx.Done():
		job, _ := o.Status(jobID)
		return job, fmt.Errorf("run wait abandoned: %w", ctx.Err())
	}
}

func (o *Orchestrator) markRunning(jobID string) error {
	o.mu.Lock()
	job, ok := o.jobs[jobID]
	if !ok {
		o.mu.Unlock()
		return &pipeline.ValidationError{Field: "job_id", Reason: "job not found"}
	}
	if job.Status != pipeline.StatusScheduled && job.Status != pipeline.StatusRetry {
		status := job.Status
		o.mu.Unlock()
		return &pipeline.ValidationError{
			Field:  "job_id",
			Reason: fmt.Sprintf("cannot run job in state %q", status),
		}
	}
	job.Status = pipeline.StatusRunning
	job.Attempts++
	now := o.clock.Now()
	job.LastRunAt = &now
	job.ErrorKind = ""
	job.ErrorText = ""
	job.Skipped = nil
	kind := job.Kind
	o.mu.Unlock()

	metrics.IncActiveRuns()
	o.publish(pipeline.EventJobStarted, jobID, map[string]any{
		"job_id": jobID,
		"kind":   string(kind),
	})
	return nil
}

func (o *Orchestrator) publish(eventType, jobID string, payload map[string]any) {
	evtID, err := o.idGen.NewID()
	if err != nil {
		evtID = jobID
	}
	o.bus.Publish(pipeline.Event{
		ID:        evtID,
		Type:      eventType,
		Timestamp: o.clock.Now(),
		Payload:   payload,
	})
}

func snapshot(job *pipeline.Job) pipeline.Job {
	out := *job
	out.Targets = append([]pipeline.Target(nil), job.Targets...)
	out.Skipped = append([]pipeline.SkippedTarget(nil), job.Skipped...)
	if job.LastRunAt != nil {
		t := *job.LastRunAt
		out.LastRunAt = &t
	}
	return out
}
