// Package fcm delivers push notifications through Firebase Cloud Messaging.
package fcm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/messaging"
)

// MockProjectID is the placeholder project that switches the dispatcher into mock mode.
const MockProjectID = "mock-project-id"

// DefaultTitle is the notification title shown on the device.
const DefaultTitle = "Incoming message"

// ErrInvalidToken means FCM rejected the device id itself. Retrying will not help.
var ErrInvalidToken = errors.New("fcm rejected device token")

// MessagingClient defines the subset of the Firebase Messaging API we use.
// *messaging.Client satisfies it.
type MessagingClient interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

type Dispatcher struct {
	client MessagingClient
	title  string
	logger *slog.Logger
}

// IsMockProject reports whether projectID is absent or the mock placeholder.
func IsMockProject(projectID string) bool {
	return projectID == "" || projectID == MockProjectID
}

// NewDispatcher creates a single-attempt FCM dispatcher. A nil client puts it in mock mode,
// where every dispatch succeeds without contacting Firebase.
func NewDispatcher(client MessagingClient, title string, logger *slog.Logger) *Dispatcher {
	if title == "" {
		title = DefaultTitle
	}
	return &Dispatcher{
		client: client,
		title:  title,
		logger: logger.With("component", "FCMDispatcher"),
	}
}

// Mock reports whether the dispatcher skips the real gateway.
func (d *Dispatcher) Mock() bool {
	return d.client == nil
}

func (d *Dispatcher) Dispatch(ctx context.Context, deviceID, text string) error {
	if d.Mock() {
		d.logger.Info("[MOCK] Sending FCM", "device_id", deviceID, "body", text)
		return nil
	}

	msg := &messaging.Message{
		Token: deviceID,
		Notification: &messaging.Notification{
			Title: d.title,
			Body:  text,
		},
	}

	messageID, err := d.client.Send(ctx, msg)
	if err != nil {
		if messaging.IsInvalidArgument(err) || messaging.IsRegistrationTokenNotRegistered(err) {
			return fmt.Errorf("%w: %w", ErrInvalidToken, err)
		}
		return fmt.Errorf("fcm send failed: %w", err)
	}

	d.logger.Debug("FCM accepted message", "fcm_message_id", messageID)
	return nil
}
