package pipeline

import (
	"errors"
	"time"
)

var (
	// ErrMalformedPayload means the body could not be decoded into a JSON object.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrAckFailed means the broker refused the acknowledgment of a valid message.
	ErrAckFailed = errors.New("acknowledgment failed")
	// ErrDispatchFailed means the push gateway rejected the notification or was unreachable.
	ErrDispatchFailed = errors.New("dispatch failed")
	// ErrRecordFailed means the delivery record could not be persisted.
	ErrRecordFailed = errors.New("record store failed")
	// ErrPublishFailed means the completion event could not be sent.
	ErrPublishFailed = errors.New("completion publish failed")
)

// Outcome is the terminal state of one message's pass through the relay.
type Outcome string

const (
	OutcomeMalformed      Outcome = "malformed"
	OutcomeRejected       Outcome = "rejected"
	OutcomeAckFailed      Outcome = "ack_failed"
	OutcomeDispatchFailed Outcome = "dispatch_failed"
	OutcomeRecordFailed   Outcome = "record_failed"
	OutcomePublishFailed  Outcome = "publish_failed"
	OutcomeDone           Outcome = "done"
)

// Result summarises how a single delivery was handled.
type Result struct {
	MessageID  string
	Identifier string
	Outcome    Outcome
	// Acked reports whether the broker accepted the acknowledgment.
	Acked bool
	// DeliverAt is zero unless dispatch succeeded.
	DeliverAt time.Time
	Err       error
}
