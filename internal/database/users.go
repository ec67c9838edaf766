package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"signalsync/internal/models"
)

const userSelect = `SELECT u.id, u.email, u.password_hash, u.name, u.role_id, COALESCE(r.code, ''), COALESCE(r.libelle, ''),
       u.is_locked, u.created_at, u.updated_at, u.remote_id, u.synced, u.last_synced_at, u.last_sync_error
FROM users u LEFT JOIN roles r ON r.id = u.role_id`

func (q *Queries) InsertUser(ctx context.Context, user *models.User) error {
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = user.CreatedAt
	}
	err := q.queryRow(ctx, `
        INSERT INTO users (email, password_hash, name, role_id, is_locked, created_at, updated_at,
                           remote_id, synced, last_synced_at, last_sync_error)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        RETURNING id`,
		user.Email, user.PasswordHash, user.Name, user.RoleID, user.IsLocked, utc(user.CreatedAt),
		utc(user.UpdatedAt), user.RemoteID, user.Synced, utcPtr(user.LastSyncedAt), user.LastSyncError,
	).Scan(&user.ID)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", translate(err))
	}
	return nil
}

func (q *Queries) GetUser(ctx context.Context, id int64) (*models.User, error) {
	return q.queryUser(ctx, userSelect+` WHERE u.id = ?`, id)
}

func (q *Queries) GetUserByRemoteID(ctx context.Context, remoteID string) (*models.User, error) {
	return q.queryUser(ctx, userSelect+` WHERE u.remote_id = ?`, remoteID)
}

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return q.queryUser(ctx, userSelect+` WHERE u.email = ?`, email)
}

func (q *Queries) UserExists(ctx context.Context, id int64) (bool, error) {
	return q.exists(ctx, `SELECT 1 FROM users WHERE id = ?`, id)
}

// ListUnsyncedUsers returns users waiting for a push, oldest first.
func (q *Queries) ListUnsyncedUsers(ctx context.Context) ([]models.User, error) {
	rows, err := q.query(ctx, userSelect+` WHERE u.synced = FALSE ORDER BY u.id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list unsynced users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// UpdateUserFields writes the profile fields a pull is allowed to change.
func (q *Queries) UpdateUserFields(ctx context.Context, user *models.User, now time.Time) error {
	res, err := q.exec(ctx, `UPDATE users SET name = ?, email = ?, updated_at = ? WHERE id = ?`,
		user.Name, user.Email, utc(now), user.ID)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", translate(err))
	}
	return expectRow(res)
}

func (q *Queries) GetRoleByCode(ctx context.Context, code string) (*models.Role, error) {
	var r models.Role
	err := q.queryRow(ctx, `SELECT id, code, libelle FROM roles WHERE code = ?`, code).Scan(&r.ID, &r.Code, &r.Libelle)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return &r, nil
}

func (q *Queries) queryUser(ctx context.Context, query string, args ...any) (*models.User, error) {
	return scanUser(q.queryRow(ctx, query, args...))
}

func scanUser(s scanner) (*models.User, error) {
	var u models.User
	err := s.Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.RoleID, &u.RoleCode, &u.RoleLibelle,
		&u.IsLocked, &u.CreatedAt, &u.UpdatedAt, &u.RemoteID, &u.Synced, &u.LastSyncedAt, &u.LastSyncError,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	u.CreatedAt = utc(u.CreatedAt)
	u.UpdatedAt = utc(u.UpdatedAt)
	u.LastSyncedAt = utcPtr(u.LastSyncedAt)
	return &u, nil
}

func (q *Queries) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var one int
	err := q.queryRow(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
