// Package fetcher provides the rate-limited, retrying fetch client used by
// the orchestrator. The client wraps a transport fixed at construction: full
// mode renders scripted pages through a headless browser, http-only mode
// issues raw requests. It knows nothing about jobs or the cache.
package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	collytransport "github.com/zonedesk/ingest/internal/fetcher/colly"
	"github.com/zonedesk/ingest/internal/fetcher/headless"
	"github.com/zonedesk/ingest/internal/metrics"
	"github.com/zonedesk/ingest/internal/pipeline"
)

// Mode selects the fetch backend, decided once at startup.
type Mode string

// Fetch modes.
const (
	ModeFull     Mode = "full"
	ModeHTTPOnly Mode = "http-only"
)

// Config controls Client behavior.
type Config struct {
	Mode         Mode
	UserAgent    string
	Timeout      time.Duration
	MaxRetries   int
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	RequestDelay time.Duration
	// MaxParallelRender caps concurrent browser sessions in full mode.
	MaxParallelRender int
}

// transport is the raw single-request backend behind the Client.
type transport interface {
	Fetch(ctx context.Context, req pipeline.FetchRequest) (pipeline.FetchResponse, error)
}

// Client implements pipeline.Fetcher with politeness throttling, bounded
// retries with jittered backoff, and typed error classification.
type Client struct {
	cfg       Config
	transport transport
	retry     pipeline.RetryPolicy
	limiter   *originLimiter
	logger    *zap.Logger
}

// New constructs a Client. Requesting full mode when no browser backend can
// be allocated degrades to http-only instead of failing: a sandboxed
// deployment only limits which pages can be extracted, it never breaks the
// pipeline by itself.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RequestDelay <= 0 {
		cfg.RequestDelay = 1500 * time.Millisecond
	}

	var inner transport
	switch cfg.Mode {
	case ModeFull:
		ht, err := headless.New(headless.Config{
			MaxParallel:       cfg.MaxParallelRender,
			UserAgent:         cfg.UserAgent,
			NavigationTimeout: cfg.Timeout,
		})
		if err != nil {
			logger.Warn("headless backend unavailable, degrading to http-only mode", zap.Error(err))
			cfg.Mode = ModeHTTPOnly
			inner = collytransport.New(collytransport.Config{UserAgent: cfg.UserAgent, Timeout: cfg.Timeout})
		} else {
			inner = ht
		}
	default:
		cfg.Mode = ModeHTTPOnly
		inner = collytransport.New(collytransport.Config{UserAgent: cfg.UserAgent, Timeout: cfg.Timeout})
	}

	return &Client{
		cfg:       cfg,
		transport: inner,
		retry:     pipeline.NewExponentialRetryPolicy(cfg.MaxRetries, cfg.BackoffBase, cfg.BackoffMax),
		limiter:   newOriginLimiter(cfg.RequestDelay),
		logger:    logger,
	}
}

// NewWithTransport builds a Client around an explicit transport (tests).
func NewWithTransport(cfg Config, inner transport, logger *zap.Logger) *Client {
	c := New(Config{
		Mode:         ModeHTTPOnly,
		UserAgent:    cfg.UserAgent,
		Timeout:      cfg.Timeout,
		MaxRetries:   cfg.MaxRetries,
		BackoffBase:  cfg.BackoffBase,
		BackoffMax:   cfg.BackoffMax,
		RequestDelay: cfg.RequestDelay,
	}, logger)
	c.transport = inner
	return c
}

// Mode reports the mode the client settled on at construction.
func (c *Client) Mode() Mode {
	return c.cfg.Mode
}

// Fetch retrieves req.URL, retrying transient failures up to the configured
// budget. On exhaustion it returns a *pipeline.FetchError; it never panics
// and never returns an untyped failure.
func (c *Client) Fetch(ctx context.Context, req pipeline.FetchRequest) (pipeline.FetchResponse, error) {
	if err := validateURL(req.URL); err != nil {
		return pipeline.FetchResponse{}, &pipeline.FetchError{Kind: pipeline.FetchParse, URL: req.URL, Err: err}
	}

	var lastErr *pipeline.FetchError
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx, req.URL); err != nil {
			return pipeline.FetchResponse{}, &pipeline.FetchError{Kind: pipeline.FetchTimeout, URL: req.URL, Err: err}
		}

		start := time.Now()
		resp, err := c.transport.Fetch(ctx, req)
		fetchErr := c.classify(req.URL, resp, err)
		if fetchErr == nil {
			metrics.ObserveFetch(req.URL, "success", time.Since(start))
			return resp, nil
		}
		metrics.ObserveFetch(req.URL, string(fetchErr.Kind), time.Since(start))
		lastErr = fetchErr

		shouldRetry := c.retry.ShouldRetry(fetchErr, attempt)
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			// 429 is the one client error worth retrying.
			shouldRetry = attempt < c.cfg.MaxRetries && ctx.Err() == nil
		case fetchErr.Kind == pipeline.FetchTimeout && ctx.Err() == nil:
			// A per-request deadline is transient even though it wraps
			// context.DeadlineExceeded; only the caller's own context
			// expiring stops the loop.
			shouldRetry = attempt < c.cfg.MaxRetries
		}
		if !shouldRetry {
			break
		}

		delay := c.retry.Backoff(attempt)
		if resp.StatusCode == http.StatusTooManyRequests {
			if hint := retryAfter(resp.Headers); hint > 0 {
				delay = hint
			}
		}
		c.logger.Debug("retrying fetch",
			zap.String("url", req.URL),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", delay),
			zap.String("kind", string(fetchErr.Kind)),
		)
		if err := sleepCtx(ctx, delay); err != nil {
			return pipeline.FetchResponse{}, &pipeline.FetchError{Kind: pipeline.FetchTimeout, URL: req.URL, Err: err}
		}
	}
	return pipeline.FetchResponse{}, lastErr
}

// classify maps a transport result to the error taxonomy. nil means success.
func (c *Client) classify(url string, resp pipeline.FetchResponse, err error) *pipeline.FetchError {
	if err != nil {
		kind := pipeline.FetchNetwork
		if errors.Is(err, context.DeadlineExceeded) {
			kind = pipeline.FetchTimeout
		}
		return &pipeline.FetchError{Kind: kind, URL: url, Err: err}
	}

	status := resp.StatusCode
	switch {
	case status >= 200 && status < 300:
		if looksBlocked(resp.Body) {
			return &pipeline.FetchError{
				Kind: pipeline.FetchBlocked,
				URL:  url,
				Err:  fmt.Errorf("anti-scraping interstitial detected (status %d)", status),
			}
		}
		return nil
	case status == http.StatusTooManyRequests:
		// Retried with the Retry-After hint; exhausted 429s count as blocked.
		return &pipeline.FetchError{Kind: pipeline.FetchBlocked, URL: url, Err: fmt.Errorf("rate limited (status 429)")}
	case status >= 400 && status < 500:
		return &pipeline.FetchError{Kind: pipeline.FetchBlocked, URL: url, Err: fmt.Errorf("origin refused target (status %d)", status)}
	case status >= 500:
		return &pipeline.FetchError{Kind: pipeline.FetchNetwork, URL: url, Err: fmt.Errorf("server error (status %d)", status)}
	default:
		return &pipeline.FetchError{Kind: pipeline.FetchParse, URL: url, Err: fmt.Errorf("unexpected status %d", status)}
	}
}

var blockedMarkers = [][]byte{
	[]byte("captcha"),
	[]byte("access denied"),
	[]byte("are you a robot"),
	[]byte("attention required"),
	[]byte("unusual traffic"),
}

// looksBlocked spots anti-bot interstitials served with a 200.
func looksBlocked(body []byte) bool {
	if len(body) == 0 {
		return false
	}
	lower := bytes.ToLower(body)
	for _, marker := range blockedMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func retryAfter(headers http.Header) time.Duration {
	if headers == nil {
		return 0
	}
	raw := headers.Get("Retry-After")
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if !u.IsAbs() || u.Hostname() == "" {
		return fmt.Errorf("url must be absolute: %q", raw)
	}
	return nil
}
