package fcm_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-notification-relay/internal/platform/fcm"
)

// MockClient satisfies the MessagingClient interface
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Send(ctx context.Context, msg *messaging.Message) (string, error) {
	args := m.Called(ctx, msg)
	return args.String(0), args.Error(1)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFCMDispatch(t *testing.T) {
	logger := newTestLogger()
	ctx := context.Background()

	t.Run("Happy Path - message built from device id and text", func(t *testing.T) {
		mockClient := new(MockClient)
		dispatcher := fcm.NewDispatcher(mockClient, "", logger)

		expected := &messaging.Message{
			Token:        "dev-1",
			Notification: &messaging.Notification{Title: fcm.DefaultTitle, Body: "hello"},
		}
		mockClient.On("Send", ctx, expected).Return("projects/p/messages/1", nil)

		err := dispatcher.Dispatch(ctx, "dev-1", "hello")

		require.NoError(t, err)
		assert.False(t, dispatcher.Mock())
		mockClient.AssertExpectations(t)
	})

	t.Run("Custom title", func(t *testing.T) {
		mockClient := new(MockClient)
		dispatcher := fcm.NewDispatcher(mockClient, "Ping", logger)
		mockClient.On("Send", ctx, mock.MatchedBy(func(m *messaging.Message) bool {
			return m.Notification.Title == "Ping"
		})).Return("id", nil)

		require.NoError(t, dispatcher.Dispatch(ctx, "dev-1", "hello"))
		mockClient.AssertExpectations(t)
	})

	t.Run("Transport Failure", func(t *testing.T) {
		mockClient := new(MockClient)
		dispatcher := fcm.NewDispatcher(mockClient, "", logger)
		mockClient.On("Send", ctx, mock.Anything).Return("", errors.New("network down"))

		err := dispatcher.Dispatch(ctx, "dev-1", "hello")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "fcm send failed")
		assert.Contains(t, err.Error(), "network down")
		assert.NotErrorIs(t, err, fcm.ErrInvalidToken)
	})

	t.Run("Mock mode never calls a client", func(t *testing.T) {
		dispatcher := fcm.NewDispatcher(nil, "", logger)

		assert.True(t, dispatcher.Mock())
		assert.NoError(t, dispatcher.Dispatch(ctx, "dev-1", "hello"))
	})

	// Note: IsRegistrationTokenNotRegistered classification depends on Firebase's internal
	// error types, which are not constructible from outside the SDK.
}

func TestIsMockProject(t *testing.T) {
	assert.True(t, fcm.IsMockProject(""))
	assert.True(t, fcm.IsMockProject(fcm.MockProjectID))
	assert.False(t, fcm.IsMockProject("my-real-project"))
}
