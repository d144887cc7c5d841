// Package bus implements the in-process publish/subscribe channel carrying
// job-lifecycle and cache-invalidation events between otherwise-decoupled
// modules. Publishing is fire-and-forget: handlers run on their own
// goroutines, handler failures are caught and logged here, and a saturated
// subscriber drops events instead of blocking the publisher.
package bus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zonedesk/ingest/internal/metrics"
	"github.com/zonedesk/ingest/internal/pipeline"
)

const (
	defaultSubscriberBuffer = 256
	dropLogInterval         = 5 * time.Second
)

// Config controls Bus behavior.
type Config struct {
	// SubscriberBuffer bounds each subscriber's queue depth (default 256).
	SubscriberBuffer int
	Logger           *zap.Logger
}

type subscriber struct {
	id      uint64
	handler func(pipeline.Event)
	ch      chan pipeline.Event
	stopCh  chan struct{}
}

// Bus fans events out to per-type subscribers. Each subscriber drains its own
// bounded queue, so one slow or failing handler never affects the publisher
// or its peers. Events published before a handler subscribes are not
// replayed.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]*subscriber
	nextID atomic.Uint64
	closed bool

	bufferSize  int
	logger      *zap.Logger
	dropLimiter dropLimiter
	dropped     atomic.Int64
	wg          sync.WaitGroup
}

// New constructs a Bus ready to accept subscriptions and events.
func New(cfg Config) *Bus {
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = defaultSubscriberBuffer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subs:        make(map[string]map[uint64]*subscriber),
		bufferSize:  cfg.SubscriberBuffer,
		logger:      logger,
		dropLimiter: dropLimiter{interval: dropLogInterval},
	}
}

// Publish delivers evt to every subscriber registered for its type. It never
// blocks and never returns handler errors. A missing ID or timestamp is
// filled in so the wire shape stays stable for external bridges.
func (b *Bus) Publish(evt pipeline.Event) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	metrics.ObserveBusEvent(evt.Type)

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs[evt.Type] {
		select {
		case sub.ch <- evt:
		default:
			b.dropped.Add(1)
			metrics.ObserveBusDrop()
			if b.dropLimiter.Allow(time.Now()) {
				count := b.dropped.Swap(0)
				b.logger.Warn("bus events dropped due to subscriber backpressure",
					zap.String("event_type", evt.Type),
					zap.Int64("dropped", count),
				)
			}
		}
	}
}

// Subscribe registers handler for eventType and returns a handle for
// Unsubscribe. The handler runs on a dedicated goroutine; relative order
// between subscribers is unspecified, but each subscriber sees one
// publisher's events in publish order.
func (b *Bus) Subscribe(eventType string, handler func(pipeline.Event)) pipeline.Subscription {
	sub := &subscriber{
		id:      b.nextID.Add(1),
		handler: handler,
		ch:      make(chan pipeline.Event, b.bufferSize),
		stopCh:  make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return pipeline.Subscription{}
	}
	if b.subs[eventType] == nil {
		b.subs[eventType] = make(map[uint64]*subscriber)
	}
	b.subs[eventType][sub.id] = sub
	b.mu.Unlock()

	b.wg.Add(1)
	go b.drain(eventType, sub)

	return pipeline.Subscription{EventType: eventType, ID: sub.id}
}

// Unsubscribe removes the handler identified by sub. In-flight deliveries may
// still complete; queued undelivered events are discarded.
func (b *Bus) Unsubscribe(sub pipeline.Subscription) {
	b.mu.Lock()
	s, ok := b.subs[sub.EventType][sub.ID]
	if ok {
		delete(b.subs[sub.EventType], sub.ID)
	}
	b.mu.Unlock()
	if ok {
		close(s.stopCh)
	}
}

// Close detaches every subscriber and waits for their goroutines to exit.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var all []*subscriber
	for _, byID := range b.subs {
		for _, s := range byID {
			all = append(all, s)
		}
	}
	b.subs = make(map[string]map[uint64]*subscriber)
	b.mu.Unlock()

	for _, s := range all {
		close(s.stopCh)
	}
	b.wg.Wait()
}

func (b *Bus) drain(eventType string, sub *subscriber) {
	defer b.wg.Done()
	for {
		select {
		case <-sub.stopCh:
			return
		case evt := <-sub.ch:
			b.invoke(eventType, sub, evt)
		}
	}
}

func (b *Bus) invoke(eventType string, sub *subscriber, evt pipeline.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("bus handler panicked",
				zap.String("event_type", eventType),
				zap.Uint64("subscriber", sub.id),
				zap.Any("panic", r),
			)
		}
	}()
	sub.handler(evt)
}

type dropLimiter struct {
	interval time.Duration
	last     atomic.Int64
}

func (d *dropLimiter) Allow(now time.Time) bool {
	if d == nil || d.interval <= 0 {
		return true
	}
	nano := now.UnixNano()
	last := d.last.Load()
	if nano-last < d.interval.Nanoseconds() {
		return false
	}
	return d.last.CompareAndSwap(last, nano)
}
