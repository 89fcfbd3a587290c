// Package rabbitmq connects the relay to a RabbitMQ broker: it consumes the notification
// queue with manual acknowledgment and publishes completion events to a topic exchange.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/tinywideclouds/go-notification-relay/pkg/relay"
)

const (
	DefaultQueue          = "notification.fcm"
	DefaultExchange       = "notification.done"
	DefaultPrefetch       = 1
	DefaultReconnectDelay = 5 * time.Second
)

// ErrPublishNacked is returned when the broker refuses a published message.
var ErrPublishNacked = errors.New("broker nacked publish")

// Channel defines the subset of an AMQP channel the broker uses. Dial adapts *amqp.Channel.
type Channel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Confirm(noWait bool) error
	PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (Confirmation, error)
	Close() error
}

// Confirmation is the broker's pending answer to one publish. *amqp.DeferredConfirmation
// satisfies it.
type Confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

// Dialer opens a channel on a fresh connection. The closer releases the connection.
type Dialer func(url string) (Channel, io.Closer, error)

// Dial is the production Dialer.
func Dial(url string) (Channel, io.Closer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("amqp dial failed: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("amqp channel open failed: %w", err)
	}
	return &amqpChannel{Channel: ch}, conn, nil
}

type amqpChannel struct {
	*amqp.Channel
}

func (c *amqpChannel) PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (Confirmation, error) {
	dc, err := c.Channel.PublishWithDeferredConfirmWithContext(ctx, exchange, key, mandatory, immediate, msg)
	if err != nil || dc == nil {
		return nil, err
	}
	return dc, nil
}

type Config struct {
	URL            string
	Queue          string
	Exchange       string
	Prefetch       int
	ReconnectDelay time.Duration
}

// Broker owns the connection and channel shared by consumption and publishing.
type Broker struct {
	cfg    Config
	dial   Dialer
	logger *slog.Logger

	mu     sync.Mutex
	ch     Channel
	closer io.Closer
}

// NewBroker creates an unconnected broker. Call Connect before use.
func NewBroker(cfg Config, dial Dialer, logger *slog.Logger) *Broker {
	if cfg.Queue == "" {
		cfg.Queue = DefaultQueue
	}
	if cfg.Exchange == "" {
		cfg.Exchange = DefaultExchange
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = DefaultPrefetch
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if dial == nil {
		dial = Dial
	}
	return &Broker{
		cfg:    cfg,
		dial:   dial,
		logger: logger.With("component", "RabbitMQBroker"),
	}
}

// Connect dials the broker and declares the durable queue and topic exchange.
func (b *Broker) Connect(_ context.Context) error {
	ch, closer, err := b.dial(b.cfg.URL)
	if err != nil {
		return err
	}
	if err := b.declare(ch); err != nil {
		_ = ch.Close()
		_ = closer.Close()
		return err
	}

	b.mu.Lock()
	old, oldCloser := b.ch, b.closer
	b.ch, b.closer = ch, closer
	b.mu.Unlock()

	if old != nil {
		_ = old.Close()
		_ = oldCloser.Close()
	}
	b.logger.Info("Connected to RabbitMQ", "queue", b.cfg.Queue, "exchange", b.cfg.Exchange)
	return nil
}

func (b *Broker) declare(ch Channel) error {
	if _, err := ch.QueueDeclare(b.cfg.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", b.cfg.Queue, err)
	}
	if err := ch.ExchangeDeclare(b.cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", b.cfg.Exchange, err)
	}
	if err := ch.Qos(b.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set prefetch: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("failed to enable publisher confirms: %w", err)
	}
	return nil
}

func (b *Broker) channel() (Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ch == nil {
		return nil, errors.New("rabbitmq broker is not connected")
	}
	return b.ch, nil
}

// Consume delivers queue messages to handler one at a time. When the broker closes the
// delivery stream it reconnects every ReconnectDelay until ctx is cancelled.
func (b *Broker) Consume(ctx context.Context, handler relay.Handler) error {
	for {
		ch, err := b.channel()
		if err != nil {
			return err
		}
		deliveries, err := ch.Consume(b.cfg.Queue, "", false, false, false, false, nil)
		if err != nil {
			b.logger.Error("Failed to start consuming", "queue", b.cfg.Queue, "err", err)
		} else if err := b.drain(ctx, deliveries, handler); err != nil {
			return err
		}

		b.logger.Warn("Disconnected from RabbitMQ, reconnecting", "delay", b.cfg.ReconnectDelay)
		if err := b.reconnect(ctx); err != nil {
			return err
		}
	}
}

// drain returns nil when the delivery stream closes, or ctx.Err() on cancellation.
func (b *Broker) drain(ctx context.Context, deliveries <-chan amqp.Delivery, handler relay.Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			handler(ctx, &delivery{d: d})
		}
	}
}

func (b *Broker) reconnect(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.cfg.ReconnectDelay):
		}
		if err := b.Connect(ctx); err != nil {
			b.logger.Error("Reconnect attempt failed", "err", err)
			continue
		}
		return nil
	}
}

// Publish sends a persistent JSON message to the exchange with the given routing key and
// waits for the broker to confirm it. A nack, or a channel closed before the confirm
// arrives, is an error.
func (b *Broker) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	ch, err := b.channel()
	if err != nil {
		return err
	}
	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("amqp publish failed: %w", err)
	}
	if confirm == nil {
		return errors.New("amqp channel is not in confirm mode")
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("waiting for publish confirm: %w", err)
	}
	if !acked {
		return fmt.Errorf("%w: exchange %s, routing key %s", ErrPublishNacked, exchange, routingKey)
	}
	return nil
}

// Close releases the channel and the connection.
func (b *Broker) Close() error {
	b.mu.Lock()
	ch, closer := b.ch, b.closer
	b.ch, b.closer = nil, nil
	b.mu.Unlock()

	if ch == nil {
		return nil
	}
	chErr := ch.Close()
	connErr := closer.Close()
	if errors.Is(chErr, amqp.ErrClosed) {
		chErr = nil
	}
	if errors.Is(connErr, amqp.ErrClosed) {
		connErr = nil
	}
	return errors.Join(chErr, connErr)
}

type delivery struct {
	d amqp.Delivery
}

func (d *delivery) ID() string {
	if d.d.MessageId != "" {
		return d.d.MessageId
	}
	return strconv.FormatUint(d.d.DeliveryTag, 10)
}

func (d *delivery) Body() []byte { return d.d.Body }

func (d *delivery) Ack() error { return d.d.Ack(false) }
