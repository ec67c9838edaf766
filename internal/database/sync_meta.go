package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"signalsync/internal/models"
)

// ErrUnsupportedEntity is returned for entity types without a local table.
var ErrUnsupportedEntity = errors.New("entity type has no synced table")

var syncedTables = map[models.EntityType]string{
	models.EntityUser:              "users",
	models.EntitySignalement:       "signalements",
	models.EntityEntreprise:        "entreprises",
	models.EntitySignalementStatus: "signalement_status",
}

// SyncedTypes lists the entity types that carry sync bookkeeping, in push order.
var SyncedTypes = []models.EntityType{
	models.EntitySignalementStatus,
	models.EntityEntreprise,
	models.EntityUser,
	models.EntitySignalement,
}

func tableFor(entityType models.EntityType) (string, error) {
	table, ok := syncedTables[entityType]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedEntity, entityType)
	}
	return table, nil
}

// MarkSynced records a successful sync. A nil remoteID keeps the stored one.
func (q *Queries) MarkSynced(ctx context.Context, entityType models.EntityType, id int64, remoteID *string, now time.Time) error {
	table, err := tableFor(entityType)
	if err != nil {
		return err
	}
	res, err := q.exec(ctx, `UPDATE `+table+`
        SET remote_id = COALESCE(?, remote_id), synced = TRUE, last_synced_at = ?, last_sync_error = NULL
        WHERE id = ?`, remoteID, utc(now), id)
	if err != nil {
		return fmt.Errorf("failed to mark %s %d synced: %w", entityType, id, translate(err))
	}
	return expectRow(res)
}

// MarkSyncError keeps the entity unsynced and stores the diagnostic.
func (q *Queries) MarkSyncError(ctx context.Context, entityType models.EntityType, id int64, msg string) error {
	table, err := tableFor(entityType)
	if err != nil {
		return err
	}
	res, err := q.exec(ctx, `UPDATE `+table+` SET synced = FALSE, last_sync_error = ? WHERE id = ?`, msg, id)
	if err != nil {
		return fmt.Errorf("failed to record sync error on %s %d: %w", entityType, id, err)
	}
	return expectRow(res)
}

// MarkUnsynced flags an entity as changed locally so the next push picks it up.
func (q *Queries) MarkUnsynced(ctx context.Context, entityType models.EntityType, id int64) error {
	table, err := tableFor(entityType)
	if err != nil {
		return err
	}
	res, err := q.exec(ctx, `UPDATE `+table+` SET synced = FALSE WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to mark %s %d unsynced: %w", entityType, id, err)
	}
	return expectRow(res)
}

// CountUnsynced returns the number of unsynced rows per entity type.
func (q *Queries) CountUnsynced(ctx context.Context) (map[models.EntityType]int, error) {
	counts := make(map[models.EntityType]int, len(syncedTables))
	for _, entityType := range SyncedTypes {
		var n int
		err := q.queryRow(ctx, `SELECT COUNT(*) FROM `+syncedTables[entityType]+` WHERE synced = FALSE`).Scan(&n)
		if err != nil {
			return nil, fmt.Errorf("failed to count unsynced %s: %w", entityType, err)
		}
		counts[entityType] = n
	}
	return counts, nil
}

// SyncCounts gathers the operator summary served by the status endpoint.
func (q *Queries) SyncCounts(ctx context.Context, now time.Time) (*models.SyncCounts, error) {
	unsynced, err := q.CountUnsynced(ctx)
	if err != nil {
		return nil, err
	}
	queue, err := q.CountQueueByStatus(ctx)
	if err != nil {
		return nil, err
	}
	since := now.Add(-24 * time.Hour)
	failed, err := q.CountHistorySince(ctx, models.StatusFailed, since)
	if err != nil {
		return nil, err
	}
	succeeded, err := q.CountHistorySince(ctx, models.StatusSuccess, since)
	if err != nil {
		return nil, err
	}
	return &models.SyncCounts{
		Unsynced:       unsynced,
		Queue:          queue,
		FailedLast24h:  failed,
		SuccessLast24h: succeeded,
	}, nil
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("failed to scan %s: %w", what, err)
}
