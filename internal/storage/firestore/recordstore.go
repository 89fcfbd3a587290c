package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
)

// DefaultCollection holds one document per delivery.
const DefaultCollection = "fcm_jobs"

// RecordStore implements relay.RecordStore using Google Cloud Firestore.
type RecordStore struct {
	client     *firestore.Client
	collection string
}

func NewRecordStore(client *firestore.Client, collection string) *RecordStore {
	if collection == "" {
		collection = DefaultCollection
	}
	return &RecordStore{client: client, collection: collection}
}

// deliveryRecord is the internal DB representation.
type deliveryRecord struct {
	Identifier string    `firestore:"identifier"`
	DeliverAt  time.Time `firestore:"deliver_at"`
}

// Save appends a record under a fresh document id. Identifiers are not unique, so they
// cannot serve as the key.
func (s *RecordStore) Save(ctx context.Context, identifier string, deliverAt time.Time) error {
	record := deliveryRecord{Identifier: identifier, DeliverAt: deliverAt}
	if _, err := s.client.Collection(s.collection).Doc(uuid.NewString()).Create(ctx, record); err != nil {
		return fmt.Errorf("firestore create delivery record failed: %w", err)
	}
	return nil
}
