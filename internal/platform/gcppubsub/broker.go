// Package gcppubsub runs the relay against Google Cloud Pub/Sub: a subscription stands in
// for the notification queue and a topic for the completion exchange.
package gcppubsub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-notification-relay/pkg/relay"
)

// RoutingKeyAttribute carries the routing label, since Pub/Sub topics have none.
const RoutingKeyAttribute = "routing_key"

type Broker struct {
	client         *pubsub.Client
	subscriptionID string
	logger         *slog.Logger

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

func NewBroker(client *pubsub.Client, subscriptionID string, logger *slog.Logger) *Broker {
	return &Broker{
		client:         client,
		subscriptionID: subscriptionID,
		logger:         logger.With("component", "PubSubBroker"),
		publishers:     make(map[string]*pubsub.Publisher),
	}
}

// Consume receives one message at a time from the subscription. Messages are never
// nacked; the handler decides when to ack. It returns nil once ctx is cancelled.
func (b *Broker) Consume(ctx context.Context, handler relay.Handler) error {
	sub := b.client.Subscriber(b.subscriptionID)
	sub.ReceiveSettings.MaxOutstandingMessages = 1
	sub.ReceiveSettings.NumGoroutines = 1

	b.logger.Info("Receiving from subscription", "subscription", b.subscriptionID)
	err := sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		handler(ctx, newDelivery(ctx, m))
	})
	if err != nil {
		return fmt.Errorf("pubsub receive on %s failed: %w", b.subscriptionID, err)
	}
	return nil
}

// Publish sends body to topic and waits for the server to accept it.
func (b *Broker) Publish(ctx context.Context, topic, routingKey string, body []byte) error {
	result := b.publisher(topic).Publish(ctx, &pubsub.Message{
		Data:       body,
		Attributes: map[string]string{RoutingKeyAttribute: routingKey},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("pubsub publish to %s failed: %w", topic, err)
	}
	return nil
}

func (b *Broker) publisher(topic string) *pubsub.Publisher {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.publishers[topic]
	if !ok {
		p = b.client.Publisher(topic)
		b.publishers[topic] = p
	}
	return p
}

// Close flushes and stops the publishers. The client itself is owned by the caller.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, p := range b.publishers {
		p.Stop()
		delete(b.publishers, topic)
	}
	return nil
}

// ackTimeout bounds the wait for the server's ack response.
const ackTimeout = 10 * time.Second

type delivery struct {
	ctx    context.Context
	m      *pubsub.Message
	settle func(ctx context.Context) error
}

// newDelivery acks through AckWithResult. Without exactly-once delivery on the subscription
// the result resolves at once and only reports client-side failures.
func newDelivery(ctx context.Context, m *pubsub.Message) *delivery {
	return &delivery{
		ctx: ctx,
		m:   m,
		settle: func(ctx context.Context) error {
			_, err := m.AckWithResult().Get(ctx)
			return err
		},
	}
}

func (d *delivery) ID() string   { return d.m.ID }
func (d *delivery) Body() []byte { return d.m.Data }

// Ack outlives receive cancellation so a message taken during shutdown is still settled.
func (d *delivery) Ack() error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(d.ctx), ackTimeout)
	defer cancel()
	if err := d.settle(ctx); err != nil {
		return fmt.Errorf("pubsub ack of %s failed: %w", d.m.ID, err)
	}
	return nil
}

// Resources names what EnsureResources provisions.
type Resources struct {
	ProjectID      string
	RequestTopicID string
	SubscriptionID string
	CompletionID   string
}

// EnsureResources creates the completion topic and, when RequestTopicID is set, the request
// subscription. Existing resources are left alone. No dead-letter policy is attached:
// dropped messages stay dropped.
func EnsureResources(ctx context.Context, client *pubsub.Client, res Resources, logger *slog.Logger) error {
	completion := ResourceName(res.ProjectID, res.CompletionID, Topics)
	_, err := client.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: completion})
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return fmt.Errorf("could not create topic %s: %w", completion, err)
	}

	if res.RequestTopicID == "" {
		logger.Debug("No request topic configured, assuming subscription exists", "sub", res.SubscriptionID)
		return nil
	}

	subConfig := &pubsubpb.Subscription{
		Name:               ResourceName(res.ProjectID, res.SubscriptionID, Subscriptions),
		Topic:              ResourceName(res.ProjectID, res.RequestTopicID, Topics),
		AckDeadlineSeconds: 10,
	}
	logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
	_, err = client.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
			return nil
		}
		return fmt.Errorf("could not create sub %s: %w", subConfig.Name, err)
	}
	return nil
}

type Kind string

const (
	Topics        Kind = "topics"
	Subscriptions Kind = "subscriptions"
)

// ResourceName builds a fully qualified Pub/Sub resource name.
func ResourceName(project, id string, kind Kind) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, kind, id)
}
