package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-notification-relay/internal/storage/sqlite"
)

type row struct {
	identifier string
	deliverAt  string
}

func readRows(t *testing.T, store *sqlite.RecordStore) []row {
	t.Helper()
	rows, err := store.DB().Query(`SELECT identifier, deliver_at FROM fcm_job ORDER BY id`)
	require.NoError(t, err)
	defer rows.Close()

	var out []row
	for rows.Next() {
		var r row
		require.NoError(t, rows.Scan(&r.identifier, &r.deliverAt))
		out = append(out, r)
	}
	require.NoError(t, rows.Err())
	return out
}

func TestRecordStore_Save(t *testing.T) {
	ctx := context.Background()

	t.Run("Appends rows, duplicates included", func(t *testing.T) {
		store, err := sqlite.Open(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })

		first := time.Date(2024, 5, 1, 12, 30, 45, 123_000_000, time.UTC)
		second := first.Add(time.Second)

		require.NoError(t, store.Save(ctx, "n1", first))
		require.NoError(t, store.Save(ctx, "n1", second))

		assert.Equal(t, []row{
			{identifier: "n1", deliverAt: "2024-05-01T12:30:45.123Z"},
			{identifier: "n1", deliverAt: "2024-05-01T12:30:46.123Z"},
		}, readRows(t, store))
	})

	t.Run("Schema is reapplied safely on reopen", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "relay.db")

		store, err := sqlite.Open(path)
		require.NoError(t, err)
		require.NoError(t, store.Save(ctx, "n2", time.Now()))
		require.NoError(t, store.Close())

		reopened, err := sqlite.Open(path)
		require.NoError(t, err)
		t.Cleanup(func() { _ = reopened.Close() })

		rows := readRows(t, reopened)
		require.Len(t, rows, 1)
		assert.Equal(t, "n2", rows[0].identifier)
	})

	t.Run("Save after close fails", func(t *testing.T) {
		store, err := sqlite.Open(":memory:")
		require.NoError(t, err)
		require.NoError(t, store.Close())

		assert.Error(t, store.Save(ctx, "n3", time.Now()))
	})
}
