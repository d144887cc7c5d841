// Package pipeline defines the core types and interfaces shared by the
// ingestion subsystems: fetching, extraction, orchestration, caching and the
// event bus.
package pipeline

import (
	"net/http"
	"time"
)

// JobKind enumerates the supported ingestion job families.
type JobKind string

// Job kinds accepted at submission time.
const (
	KindSiteCrawl     JobKind = "site-crawl"
	KindDocumentFetch JobKind = "document-fetch"
	KindActivityScan  JobKind = "activity-scan"
	KindGeneric       JobKind = "generic"
)

// ValidKind reports whether k is a recognized job kind.
func ValidKind(k JobKind) bool {
	switch k {
	case KindSiteCrawl, KindDocumentFetch, KindActivityScan, KindGeneric:
		return true
	default:
		return false
	}
}

// JobStatus represents the lifecycle state of an ingestion job.
type JobStatus string

// Job status values. Jobs are created in StatusScheduled and end in
// StatusCompleted or StatusFailed; StatusRetry marks a transient failure
// waiting to be re-run.
const (
	StatusScheduled JobStatus = "scheduled"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusRetry     JobStatus = "retry"
)

// Terminal reports whether the status is an end state.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ScheduleManual is the literal accepted in place of a cron expression for
// on-demand jobs.
const ScheduleManual = "manual"

// Target is one external resource a job must fetch and extract.
type Target struct {
	URL       string `json:"url"`
	Schema    string `json:"schema"`
	Mandatory bool   `json:"mandatory"`
}

// Job is the metadata tracked for each submitted ingestion request. The
// orchestrator owns the record for its entire lifecycle; callers only ever
// see snapshots.
type Job struct {
	ID        string          `json:"id"`
	Kind      JobKind         `json:"kind"`
	Schedule  string          `json:"schedule"`
	Status    JobStatus       `json:"status"`
	Targets   []Target        `json:"targets"`
	Submitted time.Time       `json:"submitted_at"`
	LastRunAt *time.Time      `json:"last_run_at,omitempty"`
	Attempts  int             `json:"attempts"`
	ErrorKind string          `json:"error_kind,omitempty"`
	ErrorText string          `json:"error_text,omitempty"`
	Skipped   []SkippedTarget `json:"skipped,omitempty"`
}

// SkippedTarget records a non-mandatory target a job gave up on, and why.
// Partial success is surfaced, never hidden.
type SkippedTarget struct {
	URL       string `json:"url"`
	ErrorKind string `json:"error_kind"`
	ErrorText string `json:"error_text"`
}

// FetchRequest captures everything needed to fetch one target.
type FetchRequest struct {
	URL     string
	Headers http.Header
	Timeout time.Duration
}

// FetchResponse is the result returned by a fetch transport.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Rendered   bool
}

// Record is the structured output of extracting one page. Field values are
// scalars (string), lists ([]string) or key-value tables (map[string]string)
// depending on the schema.
type Record map[string]any

// Event is an immutable bus notification. Marshalled form is the stable wire
// shape consumed by external subscribers: {id, type, timestamp, payload}.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

// Event types published by the orchestrator.
const (
	EventJobStarted   = "scraper-job-started"
	EventJobCompleted = "scraper-job-completed"
	EventJobFailed    = "scraper-job-failed"
)
