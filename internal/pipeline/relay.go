package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-notification-relay/pkg/relay"
)

// DefaultMessageTimeout bounds a single pass once the message has been acknowledged.
const DefaultMessageTimeout = 30 * time.Second

// Relay is the consume loop. It owns acknowledgment timing and drives
// validate -> ack -> dispatch -> record -> publish for each message, one at a time.
//
// Messages are acknowledged as soon as they validate, before any side effect is attempted.
// Everything after the ack is best effort: a failure is logged and the message is gone.
// This gives at-most-once processing and is intentional; adding requeue or retry here
// changes the delivery guarantee and needs idempotent record and event keying first.
type Relay struct {
	consumer   relay.Consumer
	dispatcher relay.Dispatcher
	store      relay.RecordStore
	publisher  relay.CompletionPublisher
	logger     *slog.Logger

	now            func() time.Time
	messageTimeout time.Duration
}

// Option customises a Relay.
type Option func(*Relay)

// WithClock replaces the clock used for deliverAt timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Relay) { r.now = now }
}

// WithMessageTimeout bounds the post-ack part of each pass.
func WithMessageTimeout(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.messageTimeout = d
		}
	}
}

// NewRelay wires the relay controller to its collaborators.
func NewRelay(
	consumer relay.Consumer,
	dispatcher relay.Dispatcher,
	store relay.RecordStore,
	publisher relay.CompletionPublisher,
	logger *slog.Logger,
	opts ...Option,
) *Relay {
	r := &Relay{
		consumer:       consumer,
		dispatcher:     dispatcher,
		store:          store,
		publisher:      publisher,
		logger:         logger.With("component", "Relay"),
		now:            time.Now,
		messageTimeout: DefaultMessageTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run consumes until ctx is cancelled. A message already past acknowledgment when ctx is
// cancelled is allowed to finish its pass.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("Relay consuming notification requests")
	err := r.consumer.Consume(ctx, func(ctx context.Context, d relay.Delivery) {
		r.Handle(ctx, d)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("consumer stopped: %w", err)
	}
	r.logger.Info("Relay stopped")
	return nil
}

// Handle runs one delivery through the pipeline and reports where it ended.
func (r *Relay) Handle(ctx context.Context, d relay.Delivery) Result {
	res := Result{MessageID: d.ID()}
	log := r.logger.With("message_id", d.ID())

	req, err := ParseRequest(d.Body())
	if err != nil {
		res.Outcome = OutcomeRejected
		if errors.Is(err, ErrMalformedPayload) {
			res.Outcome = OutcomeMalformed
		}
		res.Err = err

		var vErr *ValidationError
		if errors.As(err, &vErr) {
			log.Warn("Validation failed, dropping message", "violations", vErr.Violations)
		} else {
			log.Warn("Malformed payload, dropping message", "err", err)
		}

		if ackErr := d.Ack(); ackErr != nil {
			log.Error("Failed to acknowledge dropped message", "err", ackErr)
			res.Err = errors.Join(err, fmt.Errorf("%w: %w", ErrAckFailed, ackErr))
			return res
		}
		res.Acked = true
		return res
	}

	res.Identifier = req.Identifier
	log = log.With("identifier", req.Identifier)
	log.Debug("Received notification request", "type", req.Type)

	// An unacknowledged message will be redelivered, so it must not be processed here.
	if err := d.Ack(); err != nil {
		res.Outcome = OutcomeAckFailed
		res.Err = fmt.Errorf("%w: %w", ErrAckFailed, err)
		log.Error("Failed to acknowledge message, leaving it to the broker", "err", err)
		return res
	}
	res.Acked = true

	passCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.messageTimeout)
	defer cancel()

	if err := r.dispatcher.Dispatch(passCtx, req.DeviceID, req.Text); err != nil {
		res.Outcome = OutcomeDispatchFailed
		res.Err = fmt.Errorf("%w: %w", ErrDispatchFailed, err)
		log.Error("Push dispatch failed", "err", err)
		return res
	}

	deliverAt := r.now().UTC().Truncate(time.Millisecond)
	res.DeliverAt = deliverAt

	if err := r.store.Save(passCtx, req.Identifier, deliverAt); err != nil {
		res.Outcome = OutcomeRecordFailed
		res.Err = fmt.Errorf("%w: %w", ErrRecordFailed, err)
		log.Error("Failed to save delivery record", "err", err)
		return res
	}

	if err := r.publisher.Publish(passCtx, req.Identifier, deliverAt); err != nil {
		res.Outcome = OutcomePublishFailed
		res.Err = fmt.Errorf("%w: %w", ErrPublishFailed, err)
		log.Error("Failed to publish completion event", "err", err)
		return res
	}

	res.Outcome = OutcomeDone
	log.Info("Notification processed and published", "deliver_at", deliverAt)
	return res
}
