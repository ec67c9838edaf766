package syncer

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"signalsync/internal/events"
	"signalsync/internal/models"
	"signalsync/internal/remote"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessQueuePushesItem(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()
	u := f.seedUser(t, "jean@example.com")
	item := f.enqueue(t, models.SyncQueueItem{EntityType: models.EntityUser, EntityID: u.ID, Action: models.ActionCreate})

	rep, err := f.orch.ProcessQueue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, QueueReport{Claimed: 1, Succeeded: 1}, rep)

	got, err := f.db.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, got.Status)
	assert.Equal(t, 1, f.mem.Len("users"))

	history, err := f.db.HistoryForEntity(ctx, models.EntityUser, u.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.NotNil(t, history[0].SyncQueueID)
	assert.Equal(t, item.ID, *history[0].SyncQueueID)
	assert.JSONEq(t, `{"remoteId":"user-`+strconv.FormatInt(u.ID, 10)+`","status":"ok"}`, string(history[0].RemoteResponse))
}

func TestProcessQueueRetriesThenFails(t *testing.T) {
	var faulty *faultyGateway
	bus := events.NewEventBus()
	var failed []events.ItemFailedPayload
	bus.Subscribe(events.EventItemFailed, func(e *events.Event) error {
		var p events.ItemFailedPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return err
		}
		failed = append(failed, p)
		return nil
	})
	f := newFixture(t, func(gw remote.Gateway) remote.Gateway {
		faulty = newFaultyGateway(gw)
		return faulty
	}, Options{Events: bus})
	ctx := context.Background()
	u := f.seedUser(t, "jean@example.com")
	faulty.failEverything(remote.ErrTimeout)
	item := f.enqueue(t, models.SyncQueueItem{EntityType: models.EntityUser, EntityID: u.ID})

	for i, delay := range []time.Duration{5 * time.Minute, 10 * time.Minute, 15 * time.Minute} {
		rep, err := f.orch.ProcessQueue(ctx, 10)
		require.NoError(t, err)
		require.Equal(t, 1, rep.Retried, "attempt %d", i+1)

		got, err := f.db.GetQueueItem(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPending, got.Status)
		assert.Equal(t, i+1, got.RetryCount)
		want := f.clock.Now().Add(delay)
		assert.True(t, want.Equal(got.ScheduledAt), "attempt %d scheduled at %s, want %s", i+1, got.ScheduledAt, want)

		// Not due yet.
		rep, err = f.orch.ProcessQueue(ctx, 10)
		require.NoError(t, err)
		assert.Zero(t, rep.Claimed)

		f.clock.Advance(delay)
	}

	rep, err := f.orch.ProcessQueue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)

	got, err := f.db.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.False(t, got.CanRetry())

	history, err := f.db.HistoryForEntity(ctx, models.EntityUser, u.ID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	retries := 0
	for _, h := range history {
		assert.Equal(t, models.StatusFailed, h.Status)
		if h.NextRetryAt != nil {
			retries++
		}
	}
	assert.Equal(t, 3, retries)

	require.Len(t, failed, 1)
	assert.Equal(t, item.ID, failed[0].QueueID)
	assert.Equal(t, string(CategoryTransient), failed[0].Category)
}

func TestStuckItemIsReclaimedAndProcessed(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()
	u := f.seedUser(t, "jean@example.com")
	item := f.enqueue(t, models.SyncQueueItem{EntityType: models.EntityUser, EntityID: u.ID})

	// A worker claims the item and dies.
	claimed, err := f.db.ClaimNextBatch(ctx, f.clock.Now(), 10, "crashed-worker")
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	f.clock.Advance(20 * time.Minute)
	n, err := f.db.ReclaimStuck(ctx, 15*time.Minute, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rep, err := f.orch.ProcessQueue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Succeeded)

	got, err := f.db.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, got.Status)
}

func TestCancelledAfterClaimIsSkipped(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()
	u := f.seedUser(t, "jean@example.com")
	f.enqueue(t, models.SyncQueueItem{EntityType: models.EntityUser, EntityID: u.ID})

	claimed, err := f.db.ClaimNextBatch(ctx, f.clock.Now(), 10, "tok")
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, f.db.Cancel(ctx, claimed[0].ID, f.clock.Now()))

	assert.Equal(t, queueSkipped, f.orch.processItem(ctx, &claimed[0], "tok"))
	assert.Zero(t, f.mem.Len("users"))

	got, err := f.db.GetQueueItem(ctx, claimed[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
}

func TestProcessQueueDelete(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()
	_, err := f.mem.Upsert(ctx, "entreprises", "ent-1", remote.Fields{"nom": "Voirie SA"})
	require.NoError(t, err)

	remoteID := "ent-1"
	ok := f.enqueue(t, models.SyncQueueItem{
		EntityType: models.EntityEntreprise, EntityID: 1, RemoteID: &remoteID, Action: models.ActionDelete,
	})
	missing := f.enqueue(t, models.SyncQueueItem{
		EntityType: models.EntityEntreprise, EntityID: 2, Action: models.ActionDelete,
	})

	rep, err := f.orch.ProcessQueue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Succeeded)
	assert.Equal(t, 1, rep.Failed)
	assert.Zero(t, f.mem.Len("entreprises"))

	got, err := f.db.GetQueueItem(ctx, ok.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, got.Status)

	// No remote id is a permanent failure, whatever the retry budget.
	got, err = f.db.GetQueueItem(ctx, missing.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Zero(t, got.RetryCount)
}

func TestProcessQueueAppliesSnapshot(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()
	u := f.seedUser(t, "jean@example.com")
	f.enqueue(t, models.SyncQueueItem{
		EntityType:   models.EntityUser,
		EntityID:     u.ID,
		Direction:    models.RemoteToLocal,
		DataSnapshot: json.RawMessage(`{"name":"Jean Dupont"}`),
	})

	rep, err := f.orch.ProcessQueue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Succeeded)

	got, err := f.db.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Jean Dupont", got.Name)
	assert.Equal(t, "jean@example.com", got.Email)
	assert.True(t, got.Synced)
}

func TestProcessQueueUnsupportedType(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()
	item := f.enqueue(t, models.SyncQueueItem{EntityType: models.EntitySession, EntityID: 3})

	rep, err := f.orch.ProcessQueue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)

	got, err := f.db.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "not synchronized")
}

func TestSnapshotMergedWhileClaimedIsApplied(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()
	u := f.seedUser(t, "jean@example.com")
	f.enqueue(t, models.SyncQueueItem{
		EntityType:   models.EntityUser,
		EntityID:     u.ID,
		Direction:    models.RemoteToLocal,
		DataSnapshot: json.RawMessage(`{"name":"A"}`),
	})

	claimed, err := f.db.ClaimNextBatch(ctx, f.clock.Now(), 10, "tok")
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	merged, ok, err := f.db.Enqueue(ctx, models.SyncQueueItem{
		EntityType:   models.EntityUser,
		EntityID:     u.ID,
		Direction:    models.RemoteToLocal,
		DataSnapshot: json.RawMessage(`{"name":"B"}`),
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, claimed[0].ID, merged.ID)

	assert.Equal(t, queueSucceeded, f.orch.processItem(ctx, &claimed[0], "tok"))
	got, err := f.db.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "A", got.Name)

	row, err := f.db.GetQueueItem(ctx, claimed[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, row.Status)

	rep, err := f.orch.ProcessQueue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, QueueReport{Claimed: 1, Succeeded: 1}, rep)

	got, err = f.db.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "B", got.Name)

	row, err = f.db.GetQueueItem(ctx, claimed[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, row.Status)

	history, err := f.db.HistoryForEntity(ctx, models.EntityUser, u.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	for _, h := range history {
		assert.Equal(t, models.StatusSuccess, h.Status)
	}
}

func TestDeleteMergedIntoInFlightPushRuns(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()
	u := f.seedUser(t, "jean@example.com")
	f.enqueue(t, models.SyncQueueItem{EntityType: models.EntityUser, EntityID: u.ID})

	claimed, err := f.db.ClaimNextBatch(ctx, f.clock.Now(), 10, "tok")
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	key := "user-" + strconv.FormatInt(u.ID, 10)
	_, merged, err := f.db.Enqueue(ctx, models.SyncQueueItem{
		EntityType: models.EntityUser, EntityID: u.ID, RemoteID: &key, Action: models.ActionDelete,
	})
	require.NoError(t, err)
	require.True(t, merged)

	assert.Equal(t, queueSucceeded, f.orch.processItem(ctx, &claimed[0], "tok"))
	assert.Equal(t, 1, f.mem.Len("users"))

	rep, err := f.orch.ProcessQueue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Succeeded)
	assert.Zero(t, f.mem.Len("users"))
}
