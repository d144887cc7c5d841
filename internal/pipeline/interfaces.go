package pipeline

import (
	"context"
	"time"
)

// Fetcher retrieves one external resource and returns its raw content. Errors
// are always *FetchError so callers can branch on the failure kind.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error)
}

// Repository is the persistence collaborator for extracted records. Upserts
// are idempotent by (kind, naturalKey); the orchestrator never touches
// storage primitives directly.
type Repository interface {
	Upsert(ctx context.Context, kind string, naturalKey string, record Record) (string, error)
	GetByID(ctx context.Context, id string) (Record, error)
	GetAll(ctx context.Context, filter map[string]string) ([]Record, error)
}

// Bus carries lifecycle and invalidation events to decoupled subscribers.
// Publish is fire-and-forget: it never blocks on handlers and handler
// failures never reach the publisher.
type Bus interface {
	Publish(evt Event)
	Subscribe(eventType string, handler func(Event)) Subscription
	Unsubscribe(sub Subscription)
}

// Subscription identifies one registered handler for later removal.
type Subscription struct {
	EventType string
	ID        uint64
}

// Archive persists raw fetched content and returns a URI for the stored blob.
type Archive interface {
	Put(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Clock returns the current time (swappable in tests).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job and event identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
