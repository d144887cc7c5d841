package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestObserveBeforeInitIsSafe verifies every observer is a no-op until Init
// runs.
func TestObserveBeforeInitIsSafe(t *testing.T) {
	// Must run before any Init call in this process; collectors are nil-guarded
	// so ordering against the other test is harmless either way.
	ObserveJob("completed")
	ObserveFetch("https://zones.test/x", "success", time.Second)
	ObserveCache("get", "hit")
	ObserveBusEvent("scraper-job-started")
	ObserveBusDrop()
	IncActiveRuns()
	DecActiveRuns()
}

// TestInitIsIdempotent verifies repeated Init calls do not re-register
// collectors.
func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()
	require.NotNil(t, jobsTotal)

	ObserveJob("completed")
	ObserveFetch("https://zones.test/x", "success", 250*time.Millisecond)
}

// TestSanitizeOrigin verifies hostname extraction and the unknown fallback.
func TestSanitizeOrigin(t *testing.T) {
	t.Parallel()

	require.Equal(t, "zones.test", SanitizeOrigin("https://zones.test/path?q=1"))
	require.Equal(t, "zones.test", SanitizeOrigin("zones.test/path"))
	require.Equal(t, "zones.test", SanitizeOrigin("http://ZONES.TEST"))
	require.Equal(t, "unknown", SanitizeOrigin("://bad"))
	require.Equal(t, "unknown", SanitizeOrigin(""))
}
