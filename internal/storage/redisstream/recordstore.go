// Package redisstream keeps delivery records as entries of a Redis stream.
package redisstream

import (
	"context"
	"fmt"
	"time"

	"github.com/tinywideclouds/go-notification-relay/internal/completion"
)

const DefaultStream = "notification:deliveries"

// StreamClient defines the subset of Redis commands we need.
type StreamClient interface {
	// Append adds one entry (XADD *) and returns its stream id.
	Append(ctx context.Context, stream string, values map[string]any) (string, error)
}

// RecordStore appends one stream entry per delivery. Entries are never trimmed or edited here.
// deliver_at uses the same millisecond layout as the completion event.
type RecordStore struct {
	client StreamClient
	stream string
}

func NewRecordStore(client StreamClient, stream string) *RecordStore {
	if stream == "" {
		stream = DefaultStream
	}
	return &RecordStore{client: client, stream: stream}
}

func (s *RecordStore) Save(ctx context.Context, identifier string, deliverAt time.Time) error {
	values := map[string]any{
		"identifier": identifier,
		"deliver_at": deliverAt.UTC().Format(completion.TimestampFormat),
	}
	if _, err := s.client.Append(ctx, s.stream, values); err != nil {
		return fmt.Errorf("redis append to %s failed: %w", s.stream, err)
	}
	return nil
}
