package colly

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zonedesk/ingest/internal/pipeline"
)

// TestFetchReturnsBodyAndHeaders verifies a plain 200 response round-trips.
func TestFetchReturnsBodyAndHeaders(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><h1>DMCC</h1></html>"))
	}))
	defer srv.Close()

	tr := New(Config{Timeout: 5 * time.Second})
	resp, err := tr.Fetch(context.Background(), pipeline.FetchRequest{URL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	require.Contains(t, string(resp.Body), "DMCC")
	require.Equal(t, "text/html", resp.Headers.Get("Content-Type"))
	require.Greater(t, resp.Duration, time.Duration(0))
}

// TestFetchKeepsErrorStatusResponses verifies non-2xx statuses come back as
// responses so the client can classify them.
func TestFetchKeepsErrorStatusResponses(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	tr := New(Config{Timeout: 5 * time.Second})
	resp, err := tr.Fetch(context.Background(), pipeline.FetchRequest{URL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Equal(t, "3", resp.Headers.Get("Retry-After"))
}

// TestFetchForwardsRequestHeaders verifies custom headers reach the origin.
func TestFetchForwardsRequestHeaders(t *testing.T) {
	t.Parallel()

	var gotLang string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLang = r.Header.Get("Accept-Language")
	}))
	defer srv.Close()

	tr := New(Config{Timeout: 5 * time.Second})
	_, err := tr.Fetch(context.Background(), pipeline.FetchRequest{
		URL:     srv.URL,
		Headers: http.Header{"Accept-Language": []string{"en-AE"}},
	})
	require.NoError(t, err)
	require.Equal(t, "en-AE", gotLang)
}

// TestFetchTransportFailure verifies unreachable origins error out without a
// response.
func TestFetchTransportFailure(t *testing.T) {
	t.Parallel()

	tr := New(Config{Timeout: time.Second})
	_, err := tr.Fetch(context.Background(), pipeline.FetchRequest{URL: "http://127.0.0.1:1/nope"})
	require.Error(t, err)
}

// TestFetchContextCancellation verifies a canceled context aborts the wait.
func TestFetchContextCancellation(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	tr := New(Config{Timeout: 10 * time.Second})
	start := time.Now()
	_, err := tr.Fetch(ctx, pipeline.FetchRequest{URL: srv.URL})
	require.Error(t, err)
	require.Less(t, time.Since(start), 5*time.Second)
}
