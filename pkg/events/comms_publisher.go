package events

import (
	"context"
	"fmt"
	"log/slog"

	comms "github.com/nats-io/nats.go"

	"github.com/cyfrying/foodtruck/pkg/commsutil"
)

const commsPublisherLogPrefix = "events:comms_publisher"

// CommsPublisherOpts configures CommsPublisher. Nil or zero values use defaults.
type CommsPublisherOpts struct {
	// Namespace prefixes every subject (SERVICE_NAME).
	Namespace string
	// Source identifies this instance in published messages.
	Source string
}

// CommsPublisher publishes domain events to COMMS subjects.
type CommsPublisher struct {
	nc        *comms.Conn
	namespace string
	source    string
}

// NewCommsPublisher creates a new CommsPublisher. Pass nil for opts to use defaults.
func NewCommsPublisher(nc *comms.Conn, opts *CommsPublisherOpts) *CommsPublisher {
	p := &CommsPublisher{nc: nc, namespace: commsutil.DefaultNamespace}
	if opts != nil {
		if opts.Namespace != "" {
			p.namespace = opts.Namespace
		}
		p.source = opts.Source
	}
	return p
}

// PublishOrderCreated publishes to <namespace>.orders.created.
func (p *CommsPublisher) PublishOrderCreated(_ context.Context, event *OrderCreatedEvent) error {
	return p.publish(commsutil.TopicOrderCreated, event)
}

// PublishMenuChanged publishes to <namespace>.menu.changed.
func (p *CommsPublisher) PublishMenuChanged(_ context.Context, event *MenuChangedEvent) error {
	return p.publish(commsutil.TopicMenuChanged, event)
}

// PublishKillSwitchChanged publishes to <namespace>.killswitch.changed.
func (p *CommsPublisher) PublishKillSwitchChanged(_ context.Context, event *KillSwitchChangedEvent) error {
	return p.publish(commsutil.TopicKillSwitchChanged, event)
}

func (p *CommsPublisher) publish(topic string, event interface{}) error {
	data, err := commsutil.EncodePayload(topic, p.source, event)
	if err != nil {
		return fmt.Errorf("%s - failed to encode event: %w", commsPublisherLogPrefix, err)
	}

	subject := commsutil.BuildSubject(p.namespace, topic)
	if err := p.nc.Publish(subject, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, subject, err))
		return err
	}

	slog.Debug(fmt.Sprintf("%s - Published %s", commsPublisherLogPrefix, subject))
	return nil
}
