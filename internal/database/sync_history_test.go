package database

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"signalsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestHistoryInsertAndQuery(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	records := []*models.SyncHistoryRecord{
		{EntityType: models.EntityUser, EntityID: 1, Action: models.ActionUpdate, Direction: models.LocalToRemote,
			Status: models.StatusSuccess, SyncedAt: base, RemoteID: strPtr("user-1"),
			RemoteResponse: json.RawMessage(`{"remoteId":"user-1","status":"ok"}`)},
		{EntityType: models.EntityUser, EntityID: 1, Action: models.ActionUpdate, Direction: models.LocalToRemote,
			Status: models.StatusFailed, SyncedAt: base.Add(time.Hour), ErrorCategory: strPtr("transient"),
			ErrorMessage: strPtr("timeout"), NextRetryAt: timePtr(base.Add(time.Hour + 5*time.Minute))},
		{EntityType: models.EntitySignalement, EntityID: 9, Action: models.ActionCreate, Direction: models.RemoteToLocal,
			Status: models.StatusSuccess, SyncedAt: base.Add(2 * time.Hour), SyncedBy: strPtr("ops")},
	}
	for _, rec := range records {
		require.NoError(t, db.InsertHistory(ctx, rec))
		assert.NotZero(t, rec.ID)
	}

	forUser, err := db.HistoryForEntity(ctx, models.EntityUser, 1)
	require.NoError(t, err)
	require.Len(t, forUser, 2)
	assert.Equal(t, models.StatusFailed, forUser[0].Status, "newest first")
	require.NotNil(t, forUser[0].NextRetryAt)
	assert.True(t, forUser[0].NextRetryAt.Equal(base.Add(time.Hour+5*time.Minute)))
	assert.JSONEq(t, `{"remoteId":"user-1","status":"ok"}`, string(forUser[1].RemoteResponse))

	failed, err := db.ListHistory(ctx, HistoryFilter{Status: models.StatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "transient", *failed[0].ErrorCategory)

	from := base.Add(30 * time.Minute)
	ranged, err := db.ListHistory(ctx, HistoryFilter{From: &from})
	require.NoError(t, err)
	assert.Len(t, ranged, 2)

	n, err := db.CountHistorySince(ctx, models.StatusSuccess, base)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	old, err := db.HistoryOlderThan(ctx, base.Add(90*time.Minute), 0)
	require.NoError(t, err)
	require.Len(t, old, 2)
	assert.Equal(t, records[0].ID, old[0].ID)
}

func timePtr(t time.Time) *time.Time { return &t }
