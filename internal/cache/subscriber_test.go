package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zonedesk/ingest/internal/pipeline"
)

// stubBus delivers events synchronously to registered handlers.
type stubBus struct {
	nextID   uint64
	handlers map[uint64]struct {
		eventType string
		fn        func(pipeline.Event)
	}
}

func newStubBus() *stubBus {
	return &stubBus{handlers: make(map[uint64]struct {
		eventType string
		fn        func(pipeline.Event)
	})}
}

func (b *stubBus) Publish(evt pipeline.Event) {
	for _, h := range b.handlers {
		if h.eventType == evt.Type {
			h.fn(evt)
		}
	}
}

func (b *stubBus) Subscribe(eventType string, handler func(pipeline.Event)) pipeline.Subscription {
	b.nextID++
	b.handlers[b.nextID] = struct {
		eventType string
		fn        func(pipeline.Event)
	}{eventType, handler}
	return pipeline.Subscription{EventType: eventType, ID: b.nextID}
}

func (b *stubBus) Unsubscribe(sub pipeline.Subscription) {
	delete(b.handlers, sub.ID)
}

// TestInvalidatorDropsFamiliesOnCompletion verifies a job-completed event
// purges every resource family it names, list entries included.
func TestInvalidatorDropsFamiliesOnCompletion(t *testing.T) {
	t.Parallel()

	store := New(Config{})
	defer store.Close()
	store.Set("freezone:dmcc", "item", time.Minute)
	store.Set("freezone:all", "list", time.Minute)
	store.Set("activity:trading", "other", time.Minute)

	bus := newStubBus()
	inv := NewInvalidator(store, nil)
	inv.Register(bus)

	bus.Publish(pipeline.Event{
		Type:    pipeline.EventJobCompleted,
		Payload: map[string]any{"resource_kinds": []string{"freezone"}},
	})

	_, ok := store.Get("freezone:dmcc")
	require.False(t, ok)
	_, ok = store.Get("freezone:all")
	require.False(t, ok)
	_, ok = store.Get("activity:trading")
	require.True(t, ok)
}

// TestInvalidatorHandlesFailureEvents verifies partial writes from a failed
// run still purge the affected families.
func TestInvalidatorHandlesFailureEvents(t *testing.T) {
	t.Parallel()

	store := New(Config{})
	defer store.Close()
	store.Set("activity:all", "list", time.Minute)

	bus := newStubBus()
	inv := NewInvalidator(store, nil)
	inv.Register(bus)

	bus.Publish(pipeline.Event{
		Type:    pipeline.EventJobFailed,
		Payload: map[string]any{"resource_kinds": []any{"activity"}},
	})

	_, ok := store.Get("activity:all")
	require.False(t, ok)
}

// TestInvalidatorDeregister verifies removed subscriptions stop invalidating.
func TestInvalidatorDeregister(t *testing.T) {
	t.Parallel()

	store := New(Config{})
	defer store.Close()
	store.Set("freezone:dmcc", "item", time.Minute)

	bus := newStubBus()
	inv := NewInvalidator(store, nil)
	inv.Register(bus)
	inv.Deregister(bus)

	bus.Publish(pipeline.Event{
		Type:    pipeline.EventJobCompleted,
		Payload: map[string]any{"resource_kinds": []string{"freezone"}},
	})

	_, ok := store.Get("freezone:dmcc")
	require.True(t, ok)
}

// TestInvalidatorIgnoresMalformedPayload verifies events without usable
// resource kinds are a no-op.
func TestInvalidatorIgnoresMalformedPayload(t *testing.T) {
	t.Parallel()

	store := New(Config{})
	defer store.Close()
	store.Set("freezone:dmcc", "item", time.Minute)

	bus := newStubBus()
	inv := NewInvalidator(store, nil)
	inv.Register(bus)

	bus.Publish(pipeline.Event{Type: pipeline.EventJobCompleted, Payload: map[string]any{"resource_kinds": 42}})
	bus.Publish(pipeline.Event{Type: pipeline.EventJobCompleted})

	_, ok := store.Get("freezone:dmcc")
	require.True(t, ok)
}
