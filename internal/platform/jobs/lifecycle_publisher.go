// Package jobs hands lifecycle events to asynchronous consumers over Pub/Sub.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel/propagation"

	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/services"
)

// lifecycleMessage is the wire format consumed by the notification workers.
type lifecycleMessage struct {
	Type           string    `json:"type"`
	EntityID       string    `json:"entityId"`
	OrderID        string    `json:"orderId"`
	CustomerID     string    `json:"customerId,omitempty"`
	PreviousStatus string    `json:"previousStatus"`
	CurrentStatus  string    `json:"currentStatus"`
	Actor          string    `json:"actor,omitempty"`
	Amount         int64     `json:"amount,omitempty"`
	Currency       string    `json:"currency,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// LifecyclePublisher publishes lifecycle events ordered per order id.
type LifecyclePublisher struct {
	topic *pubsub.Topic
}

var _ services.LifecycleNotifier = (*LifecyclePublisher)(nil)

// NewLifecyclePublisher enables message ordering on topic and wraps it.
func NewLifecyclePublisher(topic *pubsub.Topic) (*LifecyclePublisher, error) {
	if topic == nil {
		return nil, errors.New("lifecycle publisher: topic is required")
	}
	topic.EnableMessageOrdering = true
	return &LifecyclePublisher{topic: topic}, nil
}

// PublishLifecycleEvent blocks until Pub/Sub acknowledges the message.
func (p *LifecyclePublisher) PublishLifecycleEvent(ctx context.Context, event services.LifecycleEvent) error {
	data, err := json.Marshal(lifecycleMessage(event))
	if err != nil {
		return fmt.Errorf("marshal lifecycle event: %w", err)
	}
	attrs := map[string]string{
		"type":          event.Type,
		"orderId":       event.OrderID,
		"currentStatus": event.CurrentStatus,
	}
	propagation.TraceContext{}.Inject(ctx, propagation.MapCarrier(attrs))

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attrs,
		OrderingKey: event.OrderID,
	})
	if _, err := result.Get(ctx); err != nil {
		// A failed publish pauses the ordering key until resumed.
		p.topic.ResumePublish(event.OrderID)
		return fmt.Errorf("publish lifecycle event %s: %w", event.Type, err)
	}
	return nil
}

// Stop flushes pending messages.
func (p *LifecyclePublisher) Stop() {
	p.topic.Stop()
}
