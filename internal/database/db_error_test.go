package database

import (
	"context"
	"io"
	"testing"
	"time"

	"signalsync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestDB_ErrorPaths(t *testing.T) {
	logger := zerolog.New(io.Discard)
	db, err := NewDB(":memory:", &logger)
	assert.NoError(t, err)
	db.Close() // Close the DB to trigger errors

	ctx := context.Background()
	now := time.Now()

	t.Run("Enqueue_Error", func(t *testing.T) {
		_, _, err := db.Enqueue(ctx, queueItem(models.EntityUser, 1))
		assert.Error(t, err)
	})

	t.Run("ClaimNextBatch_Error", func(t *testing.T) {
		_, err := db.ClaimNextBatch(ctx, now, 5, "t")
		assert.Error(t, err)
	})

	t.Run("ReclaimStuck_Error", func(t *testing.T) {
		_, err := db.ReclaimStuck(ctx, time.Minute, now)
		assert.Error(t, err)
	})

	t.Run("InsertHistory_Error", func(t *testing.T) {
		err := db.InsertHistory(ctx, &models.SyncHistoryRecord{EntityType: models.EntityUser})
		assert.Error(t, err)
	})

	t.Run("ListUnsyncedUsers_Error", func(t *testing.T) {
		_, err := db.ListUnsyncedUsers(ctx)
		assert.Error(t, err)
	})

	t.Run("CountUnsynced_Error", func(t *testing.T) {
		_, err := db.CountUnsynced(ctx)
		assert.Error(t, err)
	})

	t.Run("WithTx_Error", func(t *testing.T) {
		err := db.WithTx(ctx, func(q *Queries) error { return nil })
		assert.Error(t, err)
	})

	t.Run("MarkSynced_Error", func(t *testing.T) {
		err := db.MarkSynced(ctx, models.EntityUser, 1, nil, now)
		assert.Error(t, err)
	})
}
