// Package pipeline contains the core message processing components for the relay.
package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"
)

// NotificationRequest is the inbound payload of the notification queue.
type NotificationRequest struct {
	Identifier string `json:"identifier"`
	Type       string `json:"type"`
	DeviceID   string `json:"deviceId"`
	Text       string `json:"text"`
}

// requiredFields lists the payload keys in the order violations are reported.
var requiredFields = []string{"identifier", "type", "deviceId", "text"}

// FieldViolation describes why a single required field was rejected.
type FieldViolation struct {
	Field  string
	Reason string
}

// ValidationError is returned when a decoded payload lacks one or more required fields.
type ValidationError struct {
	Violations []FieldViolation
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.Field+": "+v.Reason)
	}
	return "invalid notification request: " + strings.Join(parts, "; ")
}

// Decode turns a raw message body into a structured value. Anything that is not a JSON
// object fails with ErrMalformedPayload.
func Decode(body []byte) (map[string]any, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: payload is null", ErrMalformedPayload)
	}
	return raw, nil
}

// Validate checks that identifier, type, deviceId and text are present, strings, and
// non-empty. Field values are returned untouched; unknown keys are ignored.
func Validate(raw map[string]any) (*NotificationRequest, error) {
	values := make(map[string]string, len(requiredFields))
	var violations []FieldViolation

	for _, field := range requiredFields {
		v, ok := raw[field]
		if !ok || v == nil {
			violations = append(violations, FieldViolation{Field: field, Reason: "is required"})
			continue
		}
		s, ok := v.(string)
		if !ok {
			violations = append(violations, FieldViolation{Field: field, Reason: "must be a string"})
			continue
		}
		if s == "" {
			violations = append(violations, FieldViolation{Field: field, Reason: "must not be empty"})
			continue
		}
		values[field] = s
	}

	if len(violations) > 0 {
		return nil, &ValidationError{Violations: violations}
	}

	return &NotificationRequest{
		Identifier: values["identifier"],
		Type:       values["type"],
		DeviceID:   values["deviceId"],
		Text:       values["text"],
	}, nil
}

// ParseRequest decodes and validates a raw message body in one step.
func ParseRequest(body []byte) (*NotificationRequest, error) {
	raw, err := Decode(body)
	if err != nil {
		return nil, err
	}
	return Validate(raw)
}
