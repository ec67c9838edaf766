package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"signalsync/internal/models"
)

const historyColumns = `id, sync_queue_id, entity_type, entity_id, remote_id, action, direction, status,
       error_category, error_message, remote_response, duration_ms, synced_by, synced_at, next_retry_at`

type HistoryFilter struct {
	EntityType models.EntityType
	EntityID   int64
	Status     models.SyncStatus
	From       *time.Time
	To         *time.Time
	Limit      int
}

// InsertHistory appends an outcome record. Records are never updated.
func (q *Queries) InsertHistory(ctx context.Context, rec *models.SyncHistoryRecord) error {
	if rec.SyncedAt.IsZero() {
		rec.SyncedAt = time.Now()
	}
	rec.SyncedAt = utc(rec.SyncedAt)
	rec.NextRetryAt = utcPtr(rec.NextRetryAt)

	var response any
	if len(rec.RemoteResponse) > 0 {
		response = string(rec.RemoteResponse)
	}
	err := q.queryRow(ctx, `
        INSERT INTO sync_history (sync_queue_id, entity_type, entity_id, remote_id, action, direction, status,
                                  error_category, error_message, remote_response, duration_ms, synced_by,
                                  synced_at, next_retry_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        RETURNING id`,
		rec.SyncQueueID, rec.EntityType, rec.EntityID, rec.RemoteID, rec.Action, rec.Direction, rec.Status,
		rec.ErrorCategory, rec.ErrorMessage, response, rec.DurationMs, rec.SyncedBy, rec.SyncedAt,
		rec.NextRetryAt,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("failed to insert sync history: %w", err)
	}
	return nil
}

// ListHistory returns matching records, newest first.
func (q *Queries) ListHistory(ctx context.Context, f HistoryFilter) ([]models.SyncHistoryRecord, error) {
	where, args := buildFilter(filterSpec{
		entityType: f.EntityType, entityID: f.EntityID, status: f.Status,
		from: f.From, to: f.To, timeColumn: "synced_at",
	})
	query := `SELECT ` + historyColumns + ` FROM sync_history` + where + ` ORDER BY synced_at DESC, id DESC LIMIT ?`
	args = append(args, limitOrDefault(f.Limit))
	return q.queryHistory(ctx, query, args...)
}

func (q *Queries) HistoryForEntity(ctx context.Context, entityType models.EntityType, entityID int64) ([]models.SyncHistoryRecord, error) {
	return q.queryHistory(ctx, `SELECT `+historyColumns+` FROM sync_history
        WHERE entity_type = ? AND entity_id = ?
        ORDER BY synced_at DESC, id DESC`, entityType, entityID)
}

// CountHistorySince counts records with status written at or after since.
func (q *Queries) CountHistorySince(ctx context.Context, status models.SyncStatus, since time.Time) (int, error) {
	var n int
	err := q.queryRow(ctx, `SELECT COUNT(*) FROM sync_history WHERE status = ? AND synced_at >= ?`,
		status, utc(since)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count sync history: %w", err)
	}
	return n, nil
}

// HistoryOlderThan lists records written before the cutoff, oldest first.
// Pruning them is left to operators.
func (q *Queries) HistoryOlderThan(ctx context.Context, before time.Time, limit int) ([]models.SyncHistoryRecord, error) {
	return q.queryHistory(ctx, `SELECT `+historyColumns+` FROM sync_history
        WHERE synced_at < ? ORDER BY synced_at ASC, id ASC LIMIT ?`, utc(before), limitOrDefault(limit))
}

func (q *Queries) queryHistory(ctx context.Context, query string, args ...any) ([]models.SyncHistoryRecord, error) {
	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync history: %w", err)
	}
	defer rows.Close()

	var records []models.SyncHistoryRecord
	for rows.Next() {
		var (
			rec        models.SyncHistoryRecord
			entityType string
			action     string
			direction  string
			status     string
			response   sql.NullString
		)
		if err := rows.Scan(
			&rec.ID, &rec.SyncQueueID, &entityType, &rec.EntityID, &rec.RemoteID, &action, &direction, &status,
			&rec.ErrorCategory, &rec.ErrorMessage, &response, &rec.DurationMs, &rec.SyncedBy, &rec.SyncedAt,
			&rec.NextRetryAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan sync history: %w", err)
		}
		rec.EntityType = models.EntityType(entityType)
		rec.Action = models.SyncAction(action)
		rec.Direction = models.SyncDirection(direction)
		rec.Status = models.SyncStatus(status)
		if response.Valid && response.String != "" {
			rec.RemoteResponse = json.RawMessage(response.String)
		}
		rec.SyncedAt = utc(rec.SyncedAt)
		rec.NextRetryAt = utcPtr(rec.NextRetryAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}
