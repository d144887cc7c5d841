// Package cache implements the process-shared key-value store used by read
// paths to avoid redundant fetches. Entries carry a per-key TTL; expiry is
// lazy-checked on read and optionally swept on an interval. Invalidation is
// synchronous: once Invalidate or InvalidateByPrefix returns, affected keys
// miss until repopulated.
package cache

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zonedesk/ingest/internal/metrics"
	"github.com/zonedesk/ingest/internal/pipeline"
)

// TTLSet groups the TTL tiers exposed through configuration.
type TTLSet struct {
	Short  time.Duration
	Medium time.Duration
	Long   time.Duration
}

// Config controls Store behavior.
type Config struct {
	// SweepInterval bounds memory growth by proactively evicting expired
	// entries. Zero disables the sweeper; lazy expiry still applies.
	SweepInterval time.Duration
	Clock         pipeline.Clock
	Logger        *zap.Logger
}

type entry struct {
	value     any
	expiresAt time.Time
}

// Store is a TTL map safe for concurrent use. The store is a pure mechanism:
// it does not know how to repopulate itself, callers follow the read-through
// pattern (miss, fetch authoritative, Set).
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry
	clock   pipeline.Clock
	logger  *zap.Logger

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// New constructs a Store and starts the background sweeper when configured.
func New(cfg Config) *Store {
	clock := cfg.Clock
	if clock == nil {
		clock = realClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		entries: make(map[string]entry),
		clock:   clock,
		logger:  logger,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	if cfg.SweepInterval > 0 {
		go s.sweepLoop(cfg.SweepInterval)
	} else {
		close(s.doneCh)
	}
	return s
}

// Get returns the cached value for key. Expired entries behave as a miss and
// are evicted on the spot.
func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		metrics.ObserveCache("get", "miss")
		return nil, false
	}
	if !s.clock.Now().Before(e.expiresAt) {
		s.mu.Lock()
		// Re-check under the write lock; a concurrent Set may have refreshed it.
		if cur, still := s.entries[key]; still && !s.clock.Now().Before(cur.expiresAt) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		metrics.ObserveCache("get", "expired")
		return nil, false
	}
	metrics.ObserveCache("get", "hit")
	return e.value, true
}

// Set stores value under key, overwriting unconditionally and resetting the
// TTL. Non-positive TTLs store an already-expired entry, which the next read
// evicts.
func (s *Store) Set(key string, value any, ttl time.Duration) {
	s.mu.Lock()
	s.entries[key] = entry{
		value:     value,
		expiresAt: s.clock.Now().Add(ttl),
	}
	s.mu.Unlock()
	metrics.ObserveCache("set", "ok")
}

// Invalidate removes a single entry immediately.
func (s *Store) Invalidate(key string) {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	metrics.ObserveCache("invalidate", "ok")
}

// InvalidateByPrefix removes every entry whose key starts with prefix and
// returns the number of entries dropped. Used after a mutation that affects
// an entire resource family, e.g. an item write also drops the "kind:all"
// list entry.
func (s *Store) InvalidateByPrefix(prefix string) int {
	s.mu.Lock()
	removed := 0
	for key := range s.entries {
		if strings.HasPrefix(key, prefix) {
			delete(s.entries, key)
			removed++
		}
	}
	s.mu.Unlock()
	if removed > 0 {
		s.logger.Debug("cache prefix invalidated",
			zap.String("prefix", prefix),
			zap.Int("removed", removed),
		)
	}
	metrics.ObserveCache("invalidate_prefix", "ok")
	return removed
}

// Len returns the number of live entries, expired ones included until swept.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close stops the sweeper goroutine. Safe to call multiple times.
func (s *Store) Close() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	<-s.doneCh
}

func (s *Store) sweepLoop(interval time.Duration) {
	defer close(s.doneCh)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Store) sweep() {
	now := s.clock.Now()
	s.mu.Lock()
	removed := 0
	for key, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	s.mu.Unlock()
	if removed > 0 {
		s.logger.Debug("cache sweep evicted entries", zap.Int("removed", removed))
	}
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now().UTC()
}
