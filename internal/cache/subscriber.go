package cache

import (
	"go.uber.org/zap"

	"github.com/zonedesk/ingest/internal/pipeline"
)

// Invalidator subscribes to job lifecycle events and drops the cache entries
// for every resource family a completed job wrote. Job-completion-driven
// invalidation rides the bus; synchronous write paths outside job completion
// call the Store directly instead.
type Invalidator struct {
	store  *Store
	logger *zap.Logger
	subs   []pipeline.Subscription
}

// NewInvalidator constructs an Invalidator bound to store.
func NewInvalidator(store *Store, logger *zap.Logger) *Invalidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Invalidator{
		store:  store,
		logger: logger,
	}
}

// Register subscribes the invalidator to completion and failure events on
// bus. Failures invalidate too: a failed run may have upserted records for
// targets that succeeded before the failure.
func (i *Invalidator) Register(bus pipeline.Bus) {
	i.subs = append(i.subs,
		bus.Subscribe(pipeline.EventJobCompleted, i.handle),
		bus.Subscribe(pipeline.EventJobFailed, i.handle),
	)
}

// Deregister removes the invalidator's subscriptions from bus.
func (i *Invalidator) Deregister(bus pipeline.Bus) {
	for _, sub := range i.subs {
		bus.Unsubscribe(sub)
	}
	i.subs = nil
}

func (i *Invalidator) handle(evt pipeline.Event) {
	kinds, ok := evt.Payload["resource_kinds"].([]string)
	if !ok {
		if raw, anyOK := evt.Payload["resource_kinds"].([]any); anyOK {
			for _, k := range raw {
				if s, isStr := k.(string); isStr {
					kinds = append(kinds, s)
				}
			}
		}
	}
	for _, kind := range kinds {
		removed := i.store.InvalidateByPrefix(kind)
		i.logger.Debug("invalidated cache family after job event",
			zap.String("event_type", evt.Type),
			zap.String("kind", kind),
			zap.Int("removed", removed),
		)
	}
}
