// Package sqlite keeps delivery records in the fcm_job table of a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tinywideclouds/go-notification-relay/internal/completion"
)

// Keep in sync with the fcm_job table consumers query.
const schema = `
CREATE TABLE IF NOT EXISTS fcm_job (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    -- not unique: the same request id may be delivered more than once
    identifier TEXT NOT NULL,
    deliver_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fcm_job_identifier
    ON fcm_job(identifier);
`

// RecordStore implements relay.RecordStore on SQLite.
type RecordStore struct {
	db *sql.DB
}

// Open opens (or creates) the database at dsn and applies the schema.
func Open(dsn string) (*RecordStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// One writer; also keeps ":memory:" databases on a single connection.
	db.SetMaxOpenConns(1)

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &RecordStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (s *RecordStore) Save(ctx context.Context, identifier string, deliverAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fcm_job (identifier, deliver_at) VALUES (?, ?)`,
		identifier, deliverAt.UTC().Format(completion.TimestampFormat),
	)
	if err != nil {
		return fmt.Errorf("sqlite insert delivery record failed: %w", err)
	}
	return nil
}

// DB exposes the handle for read-side tooling and tests.
func (s *RecordStore) DB() *sql.DB {
	return s.db
}

func (s *RecordStore) Close() error {
	return s.db.Close()
}
