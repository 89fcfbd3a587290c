// Package relay defines the contracts between the relay controller and its collaborators:
// the broker, the push gateway and the delivery record store.
package relay

import (
	"context"
	"time"
)

// Delivery is a single message handed to the relay by a broker.
type Delivery interface {
	// ID is the broker-assigned identifier, used for logging only.
	ID() string
	// Body is the raw, undecoded message payload.
	Body() []byte
	// Ack removes the message from the queue. It is never requeued afterwards.
	Ack() error
}

// Handler processes one delivery. Consumers call it sequentially.
type Handler func(ctx context.Context, d Delivery)

// Consumer subscribes to the inbound queue with manual acknowledgment.
type Consumer interface {
	// Consume blocks, invoking handler once per message in delivery order, until ctx is
	// cancelled or the subscription fails permanently.
	Consume(ctx context.Context, handler Handler) error
}

// EventTransport is the broker's publish primitive.
type EventTransport interface {
	// Publish sends body to the destination with the given routing label.
	Publish(ctx context.Context, destination, routingKey string, body []byte) error
}

// Dispatcher delivers a single push notification to a device.
type Dispatcher interface {
	// Dispatch performs one attempt. A nil error means the gateway accepted the message.
	Dispatch(ctx context.Context, deviceID, text string) error
}

// RecordStore persists delivery records. It is append-only.
type RecordStore interface {
	Save(ctx context.Context, identifier string, deliverAt time.Time) error
}

// CompletionPublisher emits the downstream completion event for a persisted record.
type CompletionPublisher interface {
	Publish(ctx context.Context, identifier string, deliverAt time.Time) error
}
