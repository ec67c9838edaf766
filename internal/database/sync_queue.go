package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"signalsync/internal/models"
)

// DefaultRetryStep is the linear backoff unit between queue retries.
const DefaultRetryStep = 5 * time.Minute

// Backoff returns the delay before the attempt numbered retryCount (1-based).
type Backoff func(retryCount int) time.Duration

// LinearBackoff grows the delay by step for each retry.
func LinearBackoff(step time.Duration) Backoff {
	if step <= 0 {
		step = DefaultRetryStep
	}
	return func(retryCount int) time.Duration {
		if retryCount < 1 {
			retryCount = 1
		}
		return time.Duration(retryCount) * step
	}
}

const queueColumns = `id, entity_type, entity_id, remote_id, action, direction, status, retry_count, max_retries,
       priority, scheduled_at, processing_started_at, processed_at, data_snapshot, error_message,
       synced_by, claim_token, follow_up, created_at, updated_at`

type QueueFilter struct {
	EntityType models.EntityType
	EntityID   int64
	Status     models.SyncStatus
	From       *time.Time
	To         *time.Time
	Limit      int
}

// SetMaxRetries sets the retry budget given to enqueued items that do not
// carry their own. Non-positive values restore models.DefaultMaxRetries.
func (db *DB) SetMaxRetries(n int) {
	db.maxRetries = n
}

// Enqueue adds item to the queue or coalesces it into the active item for
// the same entity. The boolean is true when an existing item absorbed it.
func (db *DB) Enqueue(ctx context.Context, item models.SyncQueueItem) (*models.SyncQueueItem, bool, error) {
	if err := validateItem(&item); err != nil {
		return nil, false, err
	}
	now := time.Now().UTC()
	if item.MaxRetries <= 0 {
		item.MaxRetries = db.maxRetries
	}
	item.ApplyDefaults(now)

	var (
		result *models.SyncQueueItem
		merged bool
	)
	attempt := func() error {
		return db.WithTx(ctx, func(q *Queries) error {
			var err error
			result, merged, err = q.enqueue(ctx, item, now)
			return err
		})
	}

	err := attempt()
	if err != nil && isUniqueViolation(err) {
		// A concurrent enqueue won the slot; merge into it instead.
		err = attempt()
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to enqueue %s/%d: %w", item.EntityType, item.EntityID, err)
	}
	return result, merged, nil
}

func validateItem(item *models.SyncQueueItem) error {
	if _, ok := models.ParseEntityType(string(item.EntityType)); !ok {
		return fmt.Errorf("%w: unknown entity type %q", ErrInvalidItem, item.EntityType)
	}
	if item.EntityID <= 0 {
		return fmt.Errorf("%w: entity id must be positive", ErrInvalidItem)
	}
	if item.Action != "" && !item.Action.Valid() {
		return fmt.Errorf("%w: unknown action %q", ErrInvalidItem, item.Action)
	}
	if item.Direction != "" && !item.Direction.Valid() {
		return fmt.Errorf("%w: unknown direction %q", ErrInvalidItem, item.Direction)
	}
	return nil
}

func (q *Queries) enqueue(ctx context.Context, item models.SyncQueueItem, now time.Time) (*models.SyncQueueItem, bool, error) {
	existing, err := q.activeItem(ctx, item.EntityType, item.EntityID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	if existing != nil {
		// A claimed item keeps running on the payload it was claimed with.
		// The merged payload waits in the row and follow_up sends it back
		// to PENDING when the running attempt settles.
		mergeItem(existing, item)
		_, err := q.exec(ctx, `
            UPDATE sync_queue
            SET remote_id = ?, action = ?, direction = ?, priority = ?, scheduled_at = ?,
                data_snapshot = ?, synced_by = ?, updated_at = ?,
                follow_up = CASE WHEN status = 'PROCESSING' THEN 1 ELSE follow_up END
            WHERE id = ?`,
			existing.RemoteID, existing.Action, existing.Direction, existing.Priority, utc(existing.ScheduledAt),
			snapshotArg(existing.DataSnapshot), existing.SyncedBy, now, existing.ID)
		if err != nil {
			return nil, false, err
		}
		if existing.Status == models.StatusProcessing {
			existing.FollowUp = true
		}
		existing.UpdatedAt = now
		return existing, true, nil
	}

	item.CreatedAt = now
	item.UpdatedAt = now
	item.ScheduledAt = utc(item.ScheduledAt)
	err = q.queryRow(ctx, `
        INSERT INTO sync_queue (entity_type, entity_id, remote_id, action, direction, status, retry_count,
                                max_retries, priority, scheduled_at, data_snapshot, error_message, synced_by,
                                created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        RETURNING id`,
		item.EntityType, item.EntityID, item.RemoteID, item.Action, item.Direction, item.Status, item.RetryCount,
		item.MaxRetries, item.Priority, item.ScheduledAt, snapshotArg(item.DataSnapshot), item.ErrorMessage,
		item.SyncedBy, item.CreatedAt, item.UpdatedAt,
	).Scan(&item.ID)
	if err != nil {
		return nil, false, err
	}
	return &item, false, nil
}

var actionRank = map[models.SyncAction]int{
	models.ActionUpdate: 0,
	models.ActionCreate: 1,
	models.ActionDelete: 2,
}

func mergeItem(dst *models.SyncQueueItem, in models.SyncQueueItem) {
	if in.Priority < dst.Priority {
		dst.Priority = in.Priority
	}
	if actionRank[in.Action] > actionRank[dst.Action] {
		dst.Action = in.Action
	}
	if in.Direction != dst.Direction {
		dst.Direction = models.Both
	}
	if len(in.DataSnapshot) > 0 {
		dst.DataSnapshot = in.DataSnapshot
	}
	if in.ScheduledAt.Before(dst.ScheduledAt) {
		dst.ScheduledAt = in.ScheduledAt
	}
	if in.RemoteID != nil {
		dst.RemoteID = in.RemoteID
	}
	if in.SyncedBy != nil {
		dst.SyncedBy = in.SyncedBy
	}
}

func (q *Queries) activeItem(ctx context.Context, entityType models.EntityType, entityID int64) (*models.SyncQueueItem, error) {
	row := q.queryRow(ctx, `SELECT `+queueColumns+` FROM sync_queue
        WHERE entity_type = ? AND entity_id = ? AND status IN ('PENDING', 'PROCESSING')`,
		entityType, entityID)
	return scanQueueItem(row)
}

// ClaimNextBatch moves up to limit due PENDING items to PROCESSING in one
// statement and returns them ordered by priority then schedule.
func (q *Queries) ClaimNextBatch(ctx context.Context, now time.Time, limit int, token string) ([]models.SyncQueueItem, error) {
	if limit <= 0 {
		return nil, nil
	}
	if token == "" {
		return nil, fmt.Errorf("%w: claim token is required", ErrInvalidItem)
	}
	now = utc(now)
	query := `UPDATE sync_queue
        SET status = 'PROCESSING', processing_started_at = ?, claim_token = ?, updated_at = ?
        WHERE status = 'PENDING' AND id IN (
            SELECT id FROM sync_queue
            WHERE status = 'PENDING' AND scheduled_at <= ?
            ORDER BY priority ASC, scheduled_at ASC, id ASC
            LIMIT ?` + q.dl.skipLocked + `
        )
        RETURNING ` + queueColumns

	items, err := q.queryItems(ctx, query, now, token, now, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim queue batch: %w", err)
	}
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.ScheduledAt.Equal(b.ScheduledAt) {
			return a.ScheduledAt.Before(b.ScheduledAt)
		}
		return a.ID < b.ID
	})
	return items, nil
}

// IsClaimedBy reports whether the item is still PROCESSING under token.
func (q *Queries) IsClaimedBy(ctx context.Context, id int64, token string) (bool, error) {
	var (
		status string
		owner  sql.NullString
	)
	err := q.queryRow(ctx, `SELECT status, claim_token FROM sync_queue WHERE id = ?`, id).Scan(&status, &owner)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check claim: %w", err)
	}
	return models.SyncStatus(status) == models.StatusProcessing && owner.Valid && owner.String == token, nil
}

func claimToken(item *models.SyncQueueItem) (string, error) {
	if item == nil || item.ClaimToken == nil || *item.ClaimToken == "" {
		return "", ErrNotClaimed
	}
	return *item.ClaimToken, nil
}

func expectClaimed(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotClaimed
	}
	return nil
}

// MarkSuccess settles a claimed item. An item that absorbed an enqueue while
// it was claimed goes back to PENDING with a fresh retry budget instead.
func (q *Queries) MarkSuccess(ctx context.Context, item *models.SyncQueueItem, now time.Time) error {
	token, err := claimToken(item)
	if err != nil {
		return err
	}
	now = utc(now)
	var status string
	err = q.queryRow(ctx, `
        UPDATE sync_queue
        SET status = CASE WHEN follow_up = 1 THEN 'PENDING' ELSE 'SUCCESS' END,
            processed_at = CASE WHEN follow_up = 1 THEN processed_at ELSE ? END,
            retry_count = CASE WHEN follow_up = 1 THEN 0 ELSE retry_count END,
            processing_started_at = CASE WHEN follow_up = 1 THEN NULL ELSE processing_started_at END,
            error_message = NULL, claim_token = NULL, follow_up = 0,
            remote_id = COALESCE(?, remote_id), updated_at = ?
        WHERE id = ? AND status = 'PROCESSING' AND claim_token = ?
        RETURNING status`,
		now, item.RemoteID, now, item.ID, token).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotClaimed
	}
	if err != nil {
		return fmt.Errorf("failed to mark queue item success: %w", err)
	}
	item.ErrorMessage = nil
	settled(item, models.SyncStatus(status), now)
	return nil
}

// settled updates the in-memory copy after a terminal transition that may
// have been turned into a follow-up.
func settled(item *models.SyncQueueItem, status models.SyncStatus, now time.Time) {
	item.Status = status
	item.ClaimToken = nil
	item.FollowUp = false
	item.UpdatedAt = now
	if status == models.StatusPending {
		item.RetryCount = 0
		item.ProcessingStartedAt = nil
		return
	}
	item.ProcessedAt = &now
}

// MarkFailed records a failed attempt. While the retry budget lasts the item
// goes back to PENDING, scheduled backoff(retryCount) from now, and the new
// schedule is returned. Otherwise the item is left terminally FAILED.
func (q *Queries) MarkFailed(ctx context.Context, item *models.SyncQueueItem, cause string, now time.Time, backoff Backoff) (*time.Time, error) {
	token, err := claimToken(item)
	if err != nil {
		return nil, err
	}
	if !item.CanRetry() {
		return nil, q.MarkFailedPermanent(ctx, item, cause, now)
	}
	if backoff == nil {
		backoff = LinearBackoff(DefaultRetryStep)
	}
	now = utc(now)
	retries := item.RetryCount + 1
	retryAt := now.Add(backoff(retries))

	res, err := q.exec(ctx, `
        UPDATE sync_queue
        SET status = 'PENDING', retry_count = ?, scheduled_at = ?, error_message = ?,
            processing_started_at = NULL, claim_token = NULL, follow_up = 0, updated_at = ?
        WHERE id = ? AND status = 'PROCESSING' AND claim_token = ?`,
		retries, retryAt, cause, now, item.ID, token)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule queue retry: %w", err)
	}
	if err := expectClaimed(res); err != nil {
		return nil, err
	}
	item.Status = models.StatusPending
	item.RetryCount = retries
	item.ScheduledAt = retryAt
	item.ErrorMessage = &cause
	item.ProcessingStartedAt = nil
	item.ClaimToken = nil
	item.FollowUp = false
	item.UpdatedAt = now
	return &retryAt, nil
}

// MarkFailedPermanent ends the item as FAILED regardless of its retry budget.
// Work merged in while it was claimed is still owed, so such an item goes
// back to PENDING with a fresh budget.
func (q *Queries) MarkFailedPermanent(ctx context.Context, item *models.SyncQueueItem, cause string, now time.Time) error {
	token, err := claimToken(item)
	if err != nil {
		return err
	}
	now = utc(now)
	var status string
	err = q.queryRow(ctx, `
        UPDATE sync_queue
        SET status = CASE WHEN follow_up = 1 THEN 'PENDING' ELSE 'FAILED' END,
            processed_at = CASE WHEN follow_up = 1 THEN processed_at ELSE ? END,
            retry_count = CASE WHEN follow_up = 1 THEN 0 ELSE retry_count END,
            processing_started_at = CASE WHEN follow_up = 1 THEN NULL ELSE processing_started_at END,
            error_message = ?, claim_token = NULL, follow_up = 0, updated_at = ?
        WHERE id = ? AND status = 'PROCESSING' AND claim_token = ?
        RETURNING status`,
		now, cause, now, item.ID, token).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotClaimed
	}
	if err != nil {
		return fmt.Errorf("failed to mark queue item failed: %w", err)
	}
	item.ErrorMessage = &cause
	settled(item, models.SyncStatus(status), now)
	return nil
}

// FindStuck lists PROCESSING items claimed more than timeout before now.
func (q *Queries) FindStuck(ctx context.Context, timeout time.Duration, now time.Time) ([]models.SyncQueueItem, error) {
	cutoff := utc(now).Add(-timeout)
	return q.queryItems(ctx, `SELECT `+queueColumns+` FROM sync_queue
        WHERE status = 'PROCESSING' AND processing_started_at < ?
        ORDER BY processing_started_at ASC, id ASC`, cutoff)
}

// ReclaimStuck returns stuck PROCESSING items to PENDING, due immediately.
func (q *Queries) ReclaimStuck(ctx context.Context, timeout time.Duration, now time.Time) (int64, error) {
	now = utc(now)
	res, err := q.exec(ctx, `
        UPDATE sync_queue
        SET status = 'PENDING', claim_token = NULL, processing_started_at = NULL, follow_up = 0,
            scheduled_at = ?, updated_at = ?
        WHERE status = 'PROCESSING' AND processing_started_at < ?`,
		now, now, now.Add(-timeout))
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stuck items: %w", err)
	}
	return res.RowsAffected()
}

// Cancel moves a non-terminal item to CANCELLED.
func (q *Queries) Cancel(ctx context.Context, id int64, now time.Time) error {
	now = utc(now)
	res, err := q.exec(ctx, `
        UPDATE sync_queue
        SET status = 'CANCELLED', claim_token = NULL, follow_up = 0, processed_at = ?, updated_at = ?
        WHERE id = ? AND status IN ('PENDING', 'PROCESSING')`,
		now, now, id)
	if err != nil {
		return fmt.Errorf("failed to cancel queue item: %w", err)
	}
	return q.transitionResult(ctx, res, id)
}

// Requeue gives a FAILED or CANCELLED item a fresh retry budget.
func (q *Queries) Requeue(ctx context.Context, id int64, now time.Time) (*models.SyncQueueItem, error) {
	now = utc(now)
	res, err := q.exec(ctx, `
        UPDATE sync_queue
        SET status = 'PENDING', retry_count = 0, scheduled_at = ?, error_message = NULL, processed_at = NULL,
            processing_started_at = NULL, claim_token = NULL, follow_up = 0, updated_at = ?
        WHERE id = ? AND status IN ('FAILED', 'CANCELLED')`,
		now, now, id)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrActiveItemExists
		}
		return nil, fmt.Errorf("failed to requeue item: %w", err)
	}
	if err := q.transitionResult(ctx, res, id); err != nil {
		return nil, err
	}
	return q.GetQueueItem(ctx, id)
}

func (q *Queries) transitionResult(ctx context.Context, res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := q.GetQueueItem(ctx, id); err != nil {
		return err
	}
	return ErrInvalidTransition
}

// Failure describes a full-scan push attempt that did not reach the remote store.
type Failure struct {
	EntityType models.EntityType
	EntityID   int64
	RemoteID   *string
	Action     models.SyncAction
	Cause      string
	SyncedBy   *string
	MaxRetries int
}

// RecordFailure gives a failed full-scan push a queue item with a retry
// scheduled by the backoff, or advances the retry of the item already
// waiting. An item claimed by a worker is left alone. The returned time is
// nil when the retry budget is spent.
func (q *Queries) RecordFailure(ctx context.Context, f Failure, now time.Time, backoff Backoff) (*models.SyncQueueItem, *time.Time, error) {
	if backoff == nil {
		backoff = LinearBackoff(DefaultRetryStep)
	}
	if f.MaxRetries <= 0 {
		f.MaxRetries = models.DefaultMaxRetries
	}
	if f.Action == "" {
		f.Action = models.ActionUpdate
	}
	now = utc(now)

	existing, err := q.activeItem(ctx, f.EntityType, f.EntityID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, nil, err
	}

	if existing == nil {
		retryAt := now.Add(backoff(1))
		item := models.SyncQueueItem{
			EntityType:   f.EntityType,
			EntityID:     f.EntityID,
			RemoteID:     f.RemoteID,
			Action:       f.Action,
			Direction:    models.LocalToRemote,
			RetryCount:   1,
			MaxRetries:   f.MaxRetries,
			ScheduledAt:  retryAt,
			ErrorMessage: &f.Cause,
			SyncedBy:     f.SyncedBy,
		}
		item.ApplyDefaults(now)
		created, _, err := q.enqueue(ctx, item, now)
		if err != nil {
			return nil, nil, err
		}
		return created, &retryAt, nil
	}

	if existing.Status == models.StatusProcessing {
		return existing, nil, nil
	}

	if !existing.CanRetry() {
		_, err := q.exec(ctx, `
            UPDATE sync_queue SET status = 'FAILED', processed_at = ?, error_message = ?, updated_at = ?
            WHERE id = ? AND status = 'PENDING'`,
			now, f.Cause, now, existing.ID)
		if err != nil {
			return nil, nil, err
		}
		existing.Status = models.StatusFailed
		existing.ProcessedAt = &now
		existing.ErrorMessage = &f.Cause
		return existing, nil, nil
	}

	existing.RetryCount++
	retryAt := now.Add(backoff(existing.RetryCount))
	_, err = q.exec(ctx, `
        UPDATE sync_queue SET retry_count = ?, scheduled_at = ?, error_message = ?, updated_at = ?
        WHERE id = ? AND status = 'PENDING'`,
		existing.RetryCount, retryAt, f.Cause, now, existing.ID)
	if err != nil {
		return nil, nil, err
	}
	existing.ScheduledAt = retryAt
	existing.ErrorMessage = &f.Cause
	existing.UpdatedAt = now
	return existing, &retryAt, nil
}

func (q *Queries) GetQueueItem(ctx context.Context, id int64) (*models.SyncQueueItem, error) {
	row := q.queryRow(ctx, `SELECT `+queueColumns+` FROM sync_queue WHERE id = ?`, id)
	return scanQueueItem(row)
}

func (q *Queries) ListQueueItems(ctx context.Context, f QueueFilter) ([]models.SyncQueueItem, error) {
	where, args := buildFilter(filterSpec{
		entityType: f.EntityType, entityID: f.EntityID, status: f.Status,
		from: f.From, to: f.To, timeColumn: "created_at",
	})
	query := `SELECT ` + queueColumns + ` FROM sync_queue` + where + ` ORDER BY id DESC LIMIT ?`
	args = append(args, limitOrDefault(f.Limit))
	return q.queryItems(ctx, query, args...)
}

// CountQueueByStatus returns item counts keyed by status.
func (q *Queries) CountQueueByStatus(ctx context.Context) (map[models.SyncStatus]int, error) {
	rows, err := q.query(ctx, `SELECT status, COUNT(*) FROM sync_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count queue: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.SyncStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[models.SyncStatus(status)] = n
	}
	return counts, rows.Err()
}

// ActiveEntityIDs returns the ids of entities that currently own a PENDING
// or PROCESSING queue item.
func (q *Queries) ActiveEntityIDs(ctx context.Context, entityType models.EntityType) (map[int64]bool, error) {
	rows, err := q.query(ctx, `SELECT entity_id FROM sync_queue
        WHERE entity_type = ? AND status IN ('PENDING', 'PROCESSING')`, entityType)
	if err != nil {
		return nil, fmt.Errorf("failed to list active queue entities: %w", err)
	}
	defer rows.Close()

	ids := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

func (q *Queries) queryItems(ctx context.Context, query string, args ...any) ([]models.SyncQueueItem, error) {
	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.SyncQueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanQueueItem(s scanner) (*models.SyncQueueItem, error) {
	var (
		item       models.SyncQueueItem
		entityType string
		action     string
		direction  string
		status     string
		snapshot   sql.NullString
		followUp   int
	)
	err := s.Scan(
		&item.ID, &entityType, &item.EntityID, &item.RemoteID, &action, &direction, &status,
		&item.RetryCount, &item.MaxRetries, &item.Priority, &item.ScheduledAt, &item.ProcessingStartedAt,
		&item.ProcessedAt, &snapshot, &item.ErrorMessage, &item.SyncedBy, &item.ClaimToken,
		&followUp, &item.CreatedAt, &item.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan queue item: %w", err)
	}
	item.EntityType = models.EntityType(entityType)
	item.Action = models.SyncAction(action)
	item.Direction = models.SyncDirection(direction)
	item.Status = models.SyncStatus(status)
	item.FollowUp = followUp == 1
	if snapshot.Valid && snapshot.String != "" {
		item.DataSnapshot = json.RawMessage(snapshot.String)
	}
	item.ScheduledAt = utc(item.ScheduledAt)
	item.CreatedAt = utc(item.CreatedAt)
	item.UpdatedAt = utc(item.UpdatedAt)
	item.ProcessingStartedAt = utcPtr(item.ProcessingStartedAt)
	item.ProcessedAt = utcPtr(item.ProcessedAt)
	return &item, nil
}

func snapshotArg(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

type filterSpec struct {
	entityType models.EntityType
	entityID   int64
	status     models.SyncStatus
	from, to   *time.Time
	timeColumn string
}

func buildFilter(f filterSpec) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.entityType != "" {
		conds = append(conds, "entity_type = ?")
		args = append(args, f.entityType)
	}
	if f.entityID > 0 {
		conds = append(conds, "entity_id = ?")
		args = append(args, f.entityID)
	}
	if f.status != "" {
		conds = append(conds, "status = ?")
		args = append(args, f.status)
	}
	if f.from != nil {
		conds = append(conds, f.timeColumn+" >= ?")
		args = append(args, f.from.UTC())
	}
	if f.to != nil {
		conds = append(conds, f.timeColumn+" < ?")
		args = append(args, f.to.UTC())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func limitOrDefault(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}
