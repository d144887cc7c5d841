package orchestrator

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/zonedesk/ingest/internal/metrics"
	"github.com/zonedesk/ingest/internal/pipeline"
)

// Error kind labels surfaced in job records and failure events.
const (
	errKindNetwork    = "NetworkError"
	errKindBlocked    = "BlockedError"
	errKindExtraction = "ExtractionError"
	errKindStore      = "StoreError"
)

// runFailure aborts a job: a mandatory target exhausted its options.
type runFailure struct {
	kind      string
	message   string
	transient bool
}

type targetResult struct {
	resourceKind string
	records      int
	skip         *pipeline.SkippedTarget
	fatal        *runFailure
}

// execute drives one run of the job: concurrent target fan-out bounded by
// the concurrency limit, then a single terminal transition.
func (o *Orchestrator) execute(jobID string) {
	defer metrics.DecActiveRuns()

	o.mu.RLock()
	job, ok := o.jobs[jobID]
	if !ok {
		o.mu.RUnlock()
		return
	}
	targets := append([]pipeline.Target(nil), job.Targets...)
	kind := job.Kind
	attempts := job.Attempts
	o.mu.RUnlock()

	results := make([]targetResult, len(targets))
	sem := make(chan struct{}, o.cfg.ConcurrencyLimit)
	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(idx int, t pipeline.Target) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[idx] = o.processTarget(jobID, t)
		}(i, target)
	}
	wg.Wait()

	var (
		fatal    *runFailure
		skipped  []pipeline.SkippedTarget
		families = map[string]struct{}{}
		records  int
	)
	for _, res := range results {
		switch {
		case res.fatal != nil:
			if fatal == nil || (!fatal.transient && res.fatal.transient) {
				// Keep a transient failure when there is one so the retry
				// policy sees the run as retryable.
				fatal = res.fatal
			}
		case res.skip != nil:
			skipped = append(skipped, *res.skip)
		default:
			records += res.records
			if res.resourceKind != "" {
				families[res.resourceKind] = struct{}{}
			}
		}
	}

	if fatal != nil {
		o.finishFailed(jobID, kind, attempts, fatal, skipped, families)
		return
	}
	o.finishCompleted(jobID, kind, records, skipped, families)
}

func (o *Orchestrator) processTarget(jobID string, target pipeline.Target) targetResult {
	ctx, cancel := context.WithTimeout(o.baseCtx, o.cfg.FetchTimeout)
	defer cancel()

	resp, err := o.fetcher.Fetch(ctx, pipeline.FetchRequest{
		URL:     target.URL,
		Timeout: o.cfg.FetchTimeout,
	})
	if err != nil {
		return o.targetFailure(jobID, target, err)
	}

	o.archiveSnapshot(ctx, jobID, target.URL, resp.Body)

	schema, err := o.schemas.Get(target.Schema)
	if err != nil {
		// Schemas are validated at submission; a miss here means the
		// registry changed underneath a scheduled job.
		return o.targetFailure(jobID, target, &pipeline.ExtractionError{Field: "schema", Reason: err.Error()})
	}
	record, err := o.extract(resp.Body, schema)
	if err != nil {
		return o.targetFailure(jobID, target, err)
	}

	family := resourceFamily(target.Schema)
	naturalKey := naturalKeyOf(record, target.URL)
	if _, err := o.repo.Upsert(o.baseCtx, family, naturalKey, record); err != nil {
		o.logger.Error("record upsert failed",
			zap.String("job_id", jobID),
			zap.String("url", target.URL),
			zap.Error(err),
		)
		return targetResult{fatal: &runFailure{
			kind:    errKindStore,
			message: err.Error(),
		}}
	}

	o.logger.Debug("target processed",
		zap.String("job_id", jobID),
		zap.String("url", target.URL),
		zap.String("family", family),
	)
	return targetResult{resourceKind: family, records: 1}
}

func (o *Orchestrator) targetFailure(jobID string, target pipeline.Target, err error) targetResult {
	kind, transient := classifyError(err)
	if target.Mandatory {
		o.logger.Warn("mandatory target failed",
			zap.String("job_id", jobID),
			zap.String("url", target.URL),
			zap.String("error_kind", kind),
			zap.Error(err),
		)
		return targetResult{fatal: &runFailure{
			kind:      kind,
			message:   fmt.Sprintf("%s: %v", target.URL, err),
			transient: transient,
		}}
	}
	o.logger.Info("optional target skipped",
		zap.String("job_id", jobID),
		zap.String("url", target.URL),
		zap.String("error_kind", kind),
	)
	return targetResult{skip: &pipeline.SkippedTarget{
		URL:       target.URL,
		ErrorKind: kind,
		ErrorText: err.Error(),
	}}
}

func (o *Orchestrator) archiveSnapshot(ctx context.Context, jobID, url string, body []byte) {
	if o.archive == nil || len(body) == 0 {
		return
	}
	digest := sha256.Sum256(body)
	path := fmt.Sprintf("%s/%s/%x.html", strings.Trim(o.cfg.ArchivePrefix, "/"), jobID, digest[:8])
	if o.cfg.ArchivePrefix == "" {
		path = fmt.Sprintf("%s/%x.html", jobID, digest[:8])
	}
	if _, err := o.archive.Put(ctx, path, "text/html; charset=utf-8", body); err != nil {
		// Snapshots are best-effort; losing one never fails the job.
		o.logger.Warn("snapshot archive failed",
			zap.String("job_id", jobID),
			zap.String("url", url),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) finishCompleted(
	jobID string,
	kind pipeline.JobKind,
	records int,
	skipped []pipeline.SkippedTarget,
	families map[string]struct{},
) {
	o.mu.Lock()
	if job, ok := o.jobs[jobID]; ok {
		job.Status = pipeline.StatusCompleted
		job.Skipped = skipped
	}
	o.mu.Unlock()

	metrics.ObserveJob(string(pipeline.StatusCompleted))
	o.logger.Info("job completed",
		zap.String("job_id", jobID),
		zap.Int("records", records),
		zap.Int("skipped", len(skipped)),
	)
	o.publish(pipeline.EventJobCompleted, jobID, map[string]any{
		"job_id":         jobID,
		"kind":           string(kind),
		"records":        records,
		"resource_kinds": sortedKeys(families),
		"skipped":        skippedPayload(skipped),
	})
}

func (o *Orchestrator) finishFailed(
	jobID string,
	kind pipeline.JobKind,
	attempts int,
	fatal *runFailure,
	skipped []pipeline.SkippedTarget,
	families map[string]struct{},
) {
	retry := fatal.transient && attempts <= o.cfg.MaxAutoRetries

	o.mu.Lock()
	if job, ok := o.jobs[jobID]; ok {
		job.ErrorKind = fatal.kind
		job.ErrorText = fatal.message
		job.Skipped = skipped
		if retry {
			job.Status = pipeline.StatusRetry
		} else {
			job.Status = pipeline.StatusFailed
		}
	}
	o.mu.Unlock()

	if retry {
		o.logger.Warn("job failed transiently, re-enqueueing",
			zap.String("job_id", jobID),
			zap.Int("attempt", attempts),
			zap.String("error_kind", fatal.kind),
		)
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			if o.baseCtx.Err() != nil {
				return
			}
			if err := o.markRunning(jobID); err != nil {
				return
			}
			o.execute(jobID)
		}()
		return
	}

	metrics.ObserveJob(string(pipeline.StatusFailed))
	o.logger.Error("job failed",
		zap.String("job_id", jobID),
		zap.String("error_kind", fatal.kind),
		zap.String("error", fatal.message),
	)
	o.publish(pipeline.EventJobFailed, jobID, map[string]any{
		"job_id":         jobID,
		"kind":           string(kind),
		"error_kind":     fatal.kind,
		"error":          fatal.message,
		"resource_kinds": sortedKeys(families),
		"skipped":        skippedPayload(skipped),
	})
}

// classifyError maps pipeline errors to the job-level taxonomy. Anything
// unrecognized counts as a network fault, the conservative retryable bucket.
func classifyError(err error) (kind string, transient bool) {
	var fe *pipeline.FetchError
	if errors.As(err, &fe) {
		if fe.Kind == pipeline.FetchBlocked {
			return errKindBlocked, false
		}
		return errKindNetwork, fe.Transient()
	}
	var ee *pipeline.ExtractionError
	if errors.As(err, &ee) {
		return errKindExtraction, false
	}
	var se *pipeline.StoreError
	if errors.As(err, &se) {
		return errKindStore, false
	}
	return errKindNetwork, true
}

// resourceFamily derives the cache/persistence namespace from a schema name:
// "freezone-profile" and "freezone-list" both land in "freezone".
func resourceFamily(schemaName string) string {
	if idx := strings.IndexByte(schemaName, '-'); idx > 0 {
		return schemaName[:idx]
	}
	return schemaName
}

func naturalKeyOf(record pipeline.Record, fallback string) string {
	if name, ok := record["name"].(string); ok && name != "" {
		return name
	}
	return fallback
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func skippedPayload(skipped []pipeline.SkippedTarget) []map[string]any {
	out := make([]map[string]any, 0, len(skipped))
	for _, s := range skipped {
		out = append(out, map[string]any{
			"url":        s.URL,
			"error_kind": s.ErrorKind,
			"error":      s.ErrorText,
		})
	}
	return out
}
