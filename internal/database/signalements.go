package database

import (
	"context"
	"fmt"
	"time"

	"signalsync/internal/models"
)

const signalementSelect = `SELECT s.id, s.user_id, COALESCE(u.email, ''), s.status_id, COALESCE(st.code, ''),
       COALESCE(st.libelle, ''), s.entreprise_id, s.latitude, s.longitude, s.budget, s.surface, s.adresse,
       s.description, s.niveau, s.date_signalement, s.created_at, s.updated_at,
       s.remote_id, s.synced, s.last_synced_at, s.last_sync_error
FROM signalements s
LEFT JOIN users u ON u.id = s.user_id
LEFT JOIN signalement_status st ON st.id = s.status_id`

// InsertSignalement stores a new signalement. Missing owner, status or
// entreprise rows surface as ErrForeignKey.
func (q *Queries) InsertSignalement(ctx context.Context, s *models.Signalement) error {
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = s.CreatedAt
	}
	if s.DateSignalement.IsZero() {
		s.DateSignalement = s.CreatedAt
	}
	err := q.queryRow(ctx, `
        INSERT INTO signalements (user_id, status_id, entreprise_id, latitude, longitude, budget, surface,
                                  adresse, description, niveau, date_signalement, created_at, updated_at,
                                  remote_id, synced, last_synced_at, last_sync_error)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        RETURNING id`,
		s.UserID, s.StatusID, s.EntrepriseID, s.Latitude, s.Longitude, s.Budget, s.Surface,
		s.Adresse, s.Description, s.Niveau, utc(s.DateSignalement), utc(s.CreatedAt), utc(s.UpdatedAt),
		s.RemoteID, s.Synced, utcPtr(s.LastSyncedAt), s.LastSyncError,
	).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("failed to insert signalement: %w", translate(err))
	}
	return nil
}

// UpdateSignalement writes the business fields of s. Sync bookkeeping is
// left to MarkSynced.
func (q *Queries) UpdateSignalement(ctx context.Context, s *models.Signalement, now time.Time) error {
	res, err := q.exec(ctx, `
        UPDATE signalements
        SET status_id = ?, entreprise_id = ?, latitude = ?, longitude = ?, budget = ?, surface = ?,
            adresse = ?, description = ?, niveau = ?, date_signalement = ?, updated_at = ?
        WHERE id = ?`,
		s.StatusID, s.EntrepriseID, s.Latitude, s.Longitude, s.Budget, s.Surface,
		s.Adresse, s.Description, s.Niveau, utc(s.DateSignalement), utc(now), s.ID)
	if err != nil {
		return fmt.Errorf("failed to update signalement: %w", translate(err))
	}
	return expectRow(res)
}

func (q *Queries) GetSignalement(ctx context.Context, id int64) (*models.Signalement, error) {
	return scanSignalement(q.queryRow(ctx, signalementSelect+` WHERE s.id = ?`, id))
}

func (q *Queries) GetSignalementByRemoteID(ctx context.Context, remoteID string) (*models.Signalement, error) {
	return scanSignalement(q.queryRow(ctx, signalementSelect+` WHERE s.remote_id = ?`, remoteID))
}

func (q *Queries) ListUnsyncedSignalements(ctx context.Context) ([]models.Signalement, error) {
	rows, err := q.query(ctx, signalementSelect+` WHERE s.synced = FALSE ORDER BY s.id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list unsynced signalements: %w", err)
	}
	defer rows.Close()

	var out []models.Signalement
	for rows.Next() {
		s, err := scanSignalement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func scanSignalement(sc scanner) (*models.Signalement, error) {
	var s models.Signalement
	err := sc.Scan(
		&s.ID, &s.UserID, &s.UserEmail, &s.StatusID, &s.StatusCode, &s.StatusLibelle, &s.EntrepriseID,
		&s.Latitude, &s.Longitude, &s.Budget, &s.Surface, &s.Adresse, &s.Description, &s.Niveau,
		&s.DateSignalement, &s.CreatedAt, &s.UpdatedAt,
		&s.RemoteID, &s.Synced, &s.LastSyncedAt, &s.LastSyncError,
	)
	if err != nil {
		return nil, notFound(err, "signalement")
	}
	s.DateSignalement = utc(s.DateSignalement)
	s.CreatedAt = utc(s.CreatedAt)
	s.UpdatedAt = utc(s.UpdatedAt)
	s.LastSyncedAt = utcPtr(s.LastSyncedAt)
	return &s, nil
}
