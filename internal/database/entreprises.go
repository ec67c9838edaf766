package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"signalsync/internal/models"

	"github.com/shopspring/decimal"
)

const entrepriseSelect = `SELECT id, nom, siret, telephone, email, adresse, specialites, is_active, note_moyenne,
       nombre_interventions, created_at, updated_at, remote_id, synced, last_synced_at, last_sync_error
FROM entreprises`

func (q *Queries) InsertEntreprise(ctx context.Context, e *models.Entreprise) error {
	specialites, err := encodeSpecialites(e.Specialites)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = e.CreatedAt
	}
	err = q.queryRow(ctx, `
        INSERT INTO entreprises (nom, siret, telephone, email, adresse, specialites, is_active, note_moyenne,
                                 nombre_interventions, created_at, updated_at, remote_id, synced,
                                 last_synced_at, last_sync_error)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        RETURNING id`,
		e.Nom, e.Siret, e.Telephone, e.Email, e.Adresse, specialites, e.IsActive, nullDecimal(e.NoteMoyenne),
		e.NombreInterventions, utc(e.CreatedAt), utc(e.UpdatedAt), e.RemoteID, e.Synced,
		utcPtr(e.LastSyncedAt), e.LastSyncError,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("failed to insert entreprise: %w", translate(err))
	}
	return nil
}

func (q *Queries) UpdateEntreprise(ctx context.Context, e *models.Entreprise, now time.Time) error {
	specialites, err := encodeSpecialites(e.Specialites)
	if err != nil {
		return err
	}
	res, err := q.exec(ctx, `
        UPDATE entreprises
        SET nom = ?, siret = ?, telephone = ?, email = ?, adresse = ?, specialites = ?, is_active = ?,
            note_moyenne = ?, nombre_interventions = ?, updated_at = ?
        WHERE id = ?`,
		e.Nom, e.Siret, e.Telephone, e.Email, e.Adresse, specialites, e.IsActive,
		nullDecimal(e.NoteMoyenne), e.NombreInterventions, utc(now), e.ID)
	if err != nil {
		return fmt.Errorf("failed to update entreprise: %w", translate(err))
	}
	return expectRow(res)
}

func (q *Queries) GetEntreprise(ctx context.Context, id int64) (*models.Entreprise, error) {
	return scanEntreprise(q.queryRow(ctx, entrepriseSelect+` WHERE id = ?`, id))
}

func (q *Queries) GetEntrepriseByRemoteID(ctx context.Context, remoteID string) (*models.Entreprise, error) {
	return scanEntreprise(q.queryRow(ctx, entrepriseSelect+` WHERE remote_id = ?`, remoteID))
}

func (q *Queries) EntrepriseExists(ctx context.Context, id int64) (bool, error) {
	return q.exists(ctx, `SELECT 1 FROM entreprises WHERE id = ?`, id)
}

// ListEntreprises returns every entreprise; they are pushed as a full resync.
func (q *Queries) ListEntreprises(ctx context.Context) ([]models.Entreprise, error) {
	rows, err := q.query(ctx, entrepriseSelect+` ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list entreprises: %w", err)
	}
	defer rows.Close()

	var out []models.Entreprise
	for rows.Next() {
		e, err := scanEntreprise(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func scanEntreprise(sc scanner) (*models.Entreprise, error) {
	var (
		e           models.Entreprise
		specialites sql.NullString
		note        decimal.NullDecimal
	)
	err := sc.Scan(
		&e.ID, &e.Nom, &e.Siret, &e.Telephone, &e.Email, &e.Adresse, &specialites, &e.IsActive, &note,
		&e.NombreInterventions, &e.CreatedAt, &e.UpdatedAt, &e.RemoteID, &e.Synced, &e.LastSyncedAt,
		&e.LastSyncError,
	)
	if err != nil {
		return nil, notFound(err, "entreprise")
	}
	e.Specialites = []string{}
	if specialites.Valid && specialites.String != "" {
		if err := json.Unmarshal([]byte(specialites.String), &e.Specialites); err != nil {
			return nil, fmt.Errorf("failed to decode specialites of entreprise %d: %w", e.ID, err)
		}
	}
	if note.Valid {
		d := note.Decimal
		e.NoteMoyenne = &d
	}
	e.CreatedAt = utc(e.CreatedAt)
	e.UpdatedAt = utc(e.UpdatedAt)
	e.LastSyncedAt = utcPtr(e.LastSyncedAt)
	return &e, nil
}

func encodeSpecialites(list []string) (string, error) {
	if list == nil {
		list = []string{}
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return "", fmt.Errorf("failed to encode specialites: %w", err)
	}
	return string(raw), nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}
