package events

import (
	"context"

	"github.com/cyfrying/foodtruck/pkg/commsutil"
)

// EventPublisher is the interface for publishing domain events.
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *OrderCreatedEvent) error
	PublishMenuChanged(ctx context.Context, event *MenuChangedEvent) error
	PublishKillSwitchChanged(ctx context.Context, event *KillSwitchChangedEvent) error
}

// NoOpPublisher is an EventPublisher that does nothing (used when NATS_URL is unset).
type NoOpPublisher struct{}

func (p *NoOpPublisher) PublishOrderCreated(context.Context, *OrderCreatedEvent) error { return nil }
func (p *NoOpPublisher) PublishMenuChanged(context.Context, *MenuChangedEvent) error   { return nil }
func (p *NoOpPublisher) PublishKillSwitchChanged(context.Context, *KillSwitchChangedEvent) error {
	return nil
}

// CallbackPublisher is an EventPublisher that hands every event to a callback (for testing).
type CallbackPublisher struct {
	callback func(ctx context.Context, topic string, event interface{}) error
}

// NewCallbackPublisher creates a new CallbackPublisher.
func NewCallbackPublisher(cb func(ctx context.Context, topic string, event interface{}) error) *CallbackPublisher {
	return &CallbackPublisher{callback: cb}
}

func (p *CallbackPublisher) PublishOrderCreated(ctx context.Context, event *OrderCreatedEvent) error {
	return p.callback(ctx, commsutil.TopicOrderCreated, event)
}

func (p *CallbackPublisher) PublishMenuChanged(ctx context.Context, event *MenuChangedEvent) error {
	return p.callback(ctx, commsutil.TopicMenuChanged, event)
}

func (p *CallbackPublisher) PublishKillSwitchChanged(ctx context.Context, event *KillSwitchChangedEvent) error {
	return p.callback(ctx, commsutil.TopicKillSwitchChanged, event)
}
