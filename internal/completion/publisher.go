// Package completion emits the downstream "notification done" events.
package completion

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-notification-relay/pkg/relay"
)

// DefaultTopic is both the destination and the routing key of completion events.
const DefaultTopic = "notification.done"

// TimestampFormat renders deliverAt in UTC with millisecond precision.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// Event is the wire body of a completion event.
type Event struct {
	Identifier string `json:"identifier"`
	DeliverAt  string `json:"deliverAt"`
}

// NewEvent builds the event for a persisted delivery record.
func NewEvent(identifier string, deliverAt time.Time) Event {
	return Event{
		Identifier: identifier,
		DeliverAt:  deliverAt.UTC().Format(TimestampFormat),
	}
}

// Publisher sends exactly one event per call to a fixed topic. It does not retry.
type Publisher struct {
	transport  relay.EventTransport
	topic      string
	routingKey string
	logger     *slog.Logger
}

// NewPublisher creates a publisher whose destination and routing key are both topic.
func NewPublisher(transport relay.EventTransport, topic string, logger *slog.Logger) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Publisher{
		transport:  transport,
		topic:      topic,
		routingKey: topic,
		logger:     logger.With("component", "CompletionPublisher"),
	}
}

func (p *Publisher) Publish(ctx context.Context, identifier string, deliverAt time.Time) error {
	body, err := json.Marshal(NewEvent(identifier, deliverAt))
	if err != nil {
		return fmt.Errorf("failed to marshal completion event: %w", err)
	}

	if err := p.transport.Publish(ctx, p.topic, p.routingKey, body); err != nil {
		return fmt.Errorf("failed to publish completion event to %s: %w", p.topic, err)
	}

	p.logger.Debug("Completion event published", "identifier", identifier, "topic", p.topic)
	return nil
}
