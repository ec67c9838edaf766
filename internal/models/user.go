package models

import "time"

// SyncMeta holds the bookkeeping fields owned by the sync engine.
type SyncMeta struct {
	RemoteID      *string    `json:"remote_id,omitempty"`
	Synced        bool       `json:"synced"`
	LastSyncedAt  *time.Time `json:"last_synced_at,omitempty"`
	LastSyncError *string    `json:"last_sync_error,omitempty"`
}

type Role struct {
	ID      int64  `json:"id"`
	Code    string `json:"code"`
	Libelle string `json:"libelle"`
}

type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name"`
	RoleID       *int64    `json:"role_id,omitempty"`
	RoleCode     string    `json:"role_code,omitempty"`
	RoleLibelle  string    `json:"role_libelle,omitempty"`
	IsLocked     bool      `json:"is_locked"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	SyncMeta
}
