package database

import (
	"context"
	"fmt"
	"time"

	"signalsync/internal/models"
)

const statusSelect = `SELECT id, code, libelle, description, couleur, ordre, created_at, updated_at,
       remote_id, synced, last_synced_at, last_sync_error
FROM signalement_status`

func (q *Queries) InsertStatus(ctx context.Context, s *models.SignalementStatus) error {
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = s.CreatedAt
	}
	err := q.queryRow(ctx, `
        INSERT INTO signalement_status (code, libelle, description, couleur, ordre, created_at, updated_at,
                                        remote_id, synced, last_synced_at, last_sync_error)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        RETURNING id`,
		s.Code, s.Libelle, s.Description, s.Couleur, s.Ordre, utc(s.CreatedAt), utc(s.UpdatedAt),
		s.RemoteID, s.Synced, utcPtr(s.LastSyncedAt), s.LastSyncError,
	).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("failed to insert status: %w", translate(err))
	}
	return nil
}

// UpdateStatus writes label, description, colour and order. The code is
// the natural key and never changes.
func (q *Queries) UpdateStatus(ctx context.Context, s *models.SignalementStatus, now time.Time) error {
	res, err := q.exec(ctx, `
        UPDATE signalement_status SET libelle = ?, description = ?, couleur = ?, ordre = ?, updated_at = ?
        WHERE id = ?`,
		s.Libelle, s.Description, s.Couleur, s.Ordre, utc(now), s.ID)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	return expectRow(res)
}

func (q *Queries) GetStatus(ctx context.Context, id int64) (*models.SignalementStatus, error) {
	return scanStatus(q.queryRow(ctx, statusSelect+` WHERE id = ?`, id))
}

func (q *Queries) GetStatusByCode(ctx context.Context, code string) (*models.SignalementStatus, error) {
	return scanStatus(q.queryRow(ctx, statusSelect+` WHERE code = ?`, code))
}

func (q *Queries) GetStatusByRemoteID(ctx context.Context, remoteID string) (*models.SignalementStatus, error) {
	return scanStatus(q.queryRow(ctx, statusSelect+` WHERE remote_id = ?`, remoteID))
}

// ListStatuses returns all statuses in display order.
func (q *Queries) ListStatuses(ctx context.Context) ([]models.SignalementStatus, error) {
	rows, err := q.query(ctx, statusSelect+` ORDER BY ordre ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list statuses: %w", err)
	}
	defer rows.Close()

	var out []models.SignalementStatus
	for rows.Next() {
		s, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func scanStatus(sc scanner) (*models.SignalementStatus, error) {
	var s models.SignalementStatus
	err := sc.Scan(
		&s.ID, &s.Code, &s.Libelle, &s.Description, &s.Couleur, &s.Ordre, &s.CreatedAt, &s.UpdatedAt,
		&s.RemoteID, &s.Synced, &s.LastSyncedAt, &s.LastSyncError,
	)
	if err != nil {
		return nil, notFound(err, "status")
	}
	s.CreatedAt = utc(s.CreatedAt)
	s.UpdatedAt = utc(s.UpdatedAt)
	s.LastSyncedAt = utcPtr(s.LastSyncedAt)
	return &s, nil
}
