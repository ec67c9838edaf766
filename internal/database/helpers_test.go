package database

import (
	"context"
	"testing"

	"signalsync/internal/config"
	"signalsync/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func configFor(driver string) config.DatabaseConfig {
	return config.DatabaseConfig{Driver: driver, Path: ":memory:"}
}

func newUser(email string) *models.User {
	return &models.User{Email: email, Name: "Jean Test", PasswordHash: "x"}
}

func seedUser(t *testing.T, db *DB, email string) *models.User {
	t.Helper()
	u := newUser(email)
	require.NoError(t, db.InsertUser(context.Background(), u))
	return u
}

func seedSignalement(t *testing.T, db *DB, userID int64) *models.Signalement {
	t.Helper()
	ctx := context.Background()
	status, err := db.GetStatusByCode(ctx, "NOUVEAU")
	require.NoError(t, err)
	s := &models.Signalement{
		UserID:      userID,
		StatusID:    status.ID,
		Latitude:    decimal.RequireFromString("48.85661234"),
		Longitude:   decimal.RequireFromString("2.35222190"),
		Budget:      decimal.RequireFromString("1500.50"),
		Surface:     decimal.RequireFromString("12.25"),
		Description: "Nid de poule",
	}
	require.NoError(t, db.InsertSignalement(ctx, s))
	return s
}

func queueItem(entityType models.EntityType, id int64) models.SyncQueueItem {
	return models.SyncQueueItem{EntityType: entityType, EntityID: id}
}
