// Package pubsub forwards bus events across the process boundary via Google
// Cloud Pub/Sub using the stable JSON wire shape.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/zonedesk/ingest/internal/pipeline"
)

// Bridge subscribes to job lifecycle events and republishes each one to a
// Pub/Sub topic as `{id, type, timestamp, payload}` JSON. Forwarding failures
// are logged, never propagated; the in-process bus already guarantees
// publisher isolation.
type Bridge struct {
	topic  *pubsub.Topic
	logger *zap.Logger
	subs   []pipeline.Subscription
}

// NewBridge wraps an existing topic handle.
func NewBridge(topic *pubsub.Topic, logger *zap.Logger) (*Bridge, error) {
	if topic == nil {
		return nil, fmt.Errorf("pubsub topic is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{topic: topic, logger: logger}, nil
}

// Register attaches the bridge to every lifecycle event type on bus.
func (b *Bridge) Register(bus pipeline.Bus) {
	for _, eventType := range []string{
		pipeline.EventJobStarted,
		pipeline.EventJobCompleted,
		pipeline.EventJobFailed,
	} {
		b.subs = append(b.subs, bus.Subscribe(eventType, b.forward))
	}
}

// Deregister removes the bridge's subscriptions from bus.
func (b *Bridge) Deregister(bus pipeline.Bus) {
	for _, sub := range b.subs {
		bus.Unsubscribe(sub)
	}
	b.subs = nil
}

func (b *Bridge) forward(evt pipeline.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		b.logger.Error("marshal event for pubsub", zap.String("event_id", evt.ID), zap.Error(err))
		return
	}
	ctx := context.Background()
	result := b.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"event_type": evt.Type},
	})
	if _, err := result.Get(ctx); err != nil {
		b.logger.Error("forward event to pubsub",
			zap.String("event_id", evt.ID),
			zap.String("event_type", evt.Type),
			zap.Error(err),
		)
	}
}
