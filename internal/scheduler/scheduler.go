// Package scheduler drives recurring ingestion: each registered entry
// submits a fresh job from its template on every cron tick and runs it.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/zonedesk/ingest/internal/orchestrator"
	"github.com/zonedesk/ingest/internal/pipeline"
)

// Scheduler wraps a cron runner around the orchestrator. Job instances are
// independent: a slow or failed run never blocks the next tick.
type Scheduler struct {
	cron       *cron.Cron
	orch       *orchestrator.Orchestrator
	logger     *zap.Logger
	runTimeout time.Duration
}

// New constructs a Scheduler. runTimeout bounds how long each tick waits for
// its run; the run itself always continues to a terminal state.
func New(orch *orchestrator.Orchestrator, runTimeout time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if runTimeout <= 0 {
		runTimeout = 5 * time.Minute
	}
	return &Scheduler{
		cron:       cron.New(),
		orch:       orch,
		logger:     logger,
		runTimeout: runTimeout,
	}
}

// Schedule registers a recurring job template. The spec must be a five-field
// cron expression; "manual" templates have no business here.
func (s *Scheduler) Schedule(kind pipeline.JobKind, targets []pipeline.Target, spec string) (cron.EntryID, error) {
	if err := orchestrator.ValidateSchedule(spec); err != nil {
		return 0, err
	}
	if spec == pipeline.ScheduleManual {
		return 0, &pipeline.ValidationError{Field: "schedule", Reason: "recurring entries need a cron expression"}
	}
	entryID, err := s.cron.AddFunc(spec, func() {
		s.tick(kind, targets, spec)
	})
	if err != nil {
		return 0, &pipeline.ValidationError{Field: "schedule", Reason: err.Error()}
	}
	s.logger.Info("recurring job scheduled",
		zap.String("kind", string(kind)),
		zap.String("spec", spec),
		zap.Int("targets", len(targets)),
	)
	return entryID, nil
}

// Remove drops a recurring entry.
func (s *Scheduler) Remove(id cron.EntryID) {
	s.cron.Remove(id)
}

// Start begins dispatching ticks.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts tick dispatch and waits for running ticks to hand off.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) tick(kind pipeline.JobKind, targets []pipeline.Target, spec string) {
	jobID, err := s.orch.Submit(kind, targets, spec)
	if err != nil {
		s.logger.Error("scheduled submission failed",
			zap.String("kind", string(kind)),
			zap.String("spec", spec),
			zap.Error(err),
		)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.runTimeout)
	defer cancel()
	job, err := s.orch.Run(ctx, jobID)
	if err != nil {
		s.logger.Warn("scheduled run abandoned by deadline",
			zap.String("job_id", jobID),
			zap.Error(err),
		)
		return
	}
	s.logger.Info("scheduled run finished",
		zap.String("job_id", jobID),
		zap.String("status", string(job.Status)),
	)
}
