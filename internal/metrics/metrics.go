// Package metrics exposes Prometheus collectors for the ingestion pipeline.
package metrics

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsTotal            *prometheus.CounterVec
	fetchTotal           *prometheus.CounterVec
	fetchDurationSeconds *prometheus.HistogramVec
	cacheOpsTotal        *prometheus.CounterVec
	busEventsTotal       *prometheus.CounterVec
	busDroppedTotal      prometheus.Counter
	activeJobRuns        prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_jobs_total",
				Help: "Total number of jobs reaching a terminal state, labeled by status.",
			},
			[]string{"status"},
		)

		fetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_fetch_total",
				Help: "Total fetch attempts, labeled by origin and outcome.",
			},
			[]string{"origin", "outcome"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_fetch_duration_seconds",
				Help:    "Histogram of fetch latencies, labeled by origin.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"origin"},
		)

		cacheOpsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_cache_ops_total",
				Help: "Total cache operations, labeled by op and result.",
			},
			[]string{"op", "result"},
		)

		busEventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_bus_events_total",
				Help: "Total events published on the bus, labeled by type.",
			},
			[]string{"type"},
		)

		busDroppedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_bus_dropped_total",
				Help: "Total events dropped by saturated subscriber queues.",
			},
		)

		activeJobRuns = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ingest_active_job_runs",
				Help: "Number of jobs currently running.",
			},
		)
	})
}

// SanitizeOrigin extracts a lowercase hostname label from a URL, returning
// "unknown" for unparseable input.
func SanitizeOrigin(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler exposing the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveJob increments the terminal job counter for the given status.
func ObserveJob(status string) {
	if jobsTotal == nil {
		return
	}
	jobsTotal.WithLabelValues(status).Inc()
}

// ObserveFetch records one fetch attempt outcome and its latency.
func ObserveFetch(origin, outcome string, duration time.Duration) {
	if fetchTotal == nil {
		return
	}
	sanitized := SanitizeOrigin(origin)
	fetchTotal.WithLabelValues(sanitized, outcome).Inc()
	fetchDurationSeconds.WithLabelValues(sanitized).Observe(duration.Seconds())
}

// ObserveCache records a cache operation result ("hit", "miss", "expired").
func ObserveCache(op, result string) {
	if cacheOpsTotal == nil {
		return
	}
	cacheOpsTotal.WithLabelValues(op, result).Inc()
}

// ObserveBusEvent increments the published-event counter for the type.
func ObserveBusEvent(eventType string) {
	if busEventsTotal == nil {
		return
	}
	busEventsTotal.WithLabelValues(eventType).Inc()
}

// ObserveBusDrop counts an event dropped due to subscriber backpressure.
func ObserveBusDrop() {
	if busDroppedTotal == nil {
		return
	}
	busDroppedTotal.Inc()
}

// IncActiveRuns increments the running-jobs gauge.
func IncActiveRuns() {
	if activeJobRuns == nil {
		return
	}
	activeJobRuns.Inc()
}

// DecActiveRuns decrements the running-jobs gauge.
func DecActiveRuns() {
	if activeJobRuns == nil {
		return
	}
	activeJobRuns.Dec()
}
