package fetcher

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// originLimiter spaces out consecutive requests to the same origin. Each
// origin gets its own token bucket with burst 1, so the configured delay is
// a true minimum interval.
type originLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	interval time.Duration
}

func newOriginLimiter(minInterval time.Duration) *originLimiter {
	return &originLimiter{
		limiters: make(map[string]*rate.Limiter),
		interval: minInterval,
	}
}

// Wait blocks until the origin's next request slot, respecting the context.
func (l *originLimiter) Wait(ctx context.Context, rawURL string) error {
	if l.interval <= 0 {
		return nil
	}
	origin := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		origin = u.Hostname()
	}

	l.mu.Lock()
	limiter, exists := l.limiters[origin]
	if !exists {
		limiter = rate.NewLimiter(rate.Every(l.interval), 1)
		l.limiters[origin] = limiter
	}
	l.mu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("politeness wait: %w", err)
	}
	return nil
}
