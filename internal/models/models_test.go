package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseEntityType(t *testing.T) {
	cases := map[string]EntityType{
		"USER":               EntityUser,
		"signalement":        EntitySignalement,
		"Entreprises":        EntityEntreprise,
		"status":             EntitySignalementStatus,
		"signalement_status": EntitySignalementStatus,
		"session":            EntitySession,
	}
	for raw, want := range cases {
		got, ok := ParseEntityType(raw)
		assert.True(t, ok, raw)
		assert.Equal(t, want, got, raw)
	}

	_, ok := ParseEntityType("bookings")
	assert.False(t, ok)
	_, ok = ParseEntityType("  ")
	assert.False(t, ok)
}

func TestSyncStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusProcessing.IsTerminal())
	assert.True(t, StatusSuccess.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
}

func TestSyncQueueItemDefaults(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	item := &SyncQueueItem{EntityType: EntityUser, EntityID: 7}
	item.ApplyDefaults(now)

	assert.Equal(t, DefaultMaxRetries, item.MaxRetries)
	assert.Equal(t, DefaultPriority, item.Priority)
	assert.Equal(t, now, item.ScheduledAt)
	assert.Equal(t, ActionUpdate, item.Action)
	assert.Equal(t, LocalToRemote, item.Direction)
	assert.Equal(t, StatusPending, item.Status)
	assert.True(t, item.CanRetry())

	item.RetryCount = 3
	assert.False(t, item.CanRetry())
}
