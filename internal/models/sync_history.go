package models

import (
	"encoding/json"
	"time"
)

// SyncHistoryRecord is the immutable outcome of one sync attempt.
type SyncHistoryRecord struct {
	ID             int64           `json:"id"`
	SyncQueueID    *int64          `json:"sync_queue_id,omitempty"`
	EntityType     EntityType      `json:"entity_type"`
	EntityID       int64           `json:"entity_id"`
	RemoteID       *string         `json:"remote_id,omitempty"`
	Action         SyncAction      `json:"action"`
	Direction      SyncDirection   `json:"direction"`
	Status         SyncStatus      `json:"status"`
	ErrorCategory  *string         `json:"error_category,omitempty"`
	ErrorMessage   *string         `json:"error_message,omitempty"`
	RemoteResponse json.RawMessage `json:"remote_response,omitempty"`
	DurationMs     int64           `json:"duration_ms"`
	SyncedBy       *string         `json:"synced_by,omitempty"`
	SyncedAt       time.Time       `json:"synced_at"`
	NextRetryAt    *time.Time      `json:"next_retry_at,omitempty"`
}

// SyncCounts summarizes sync state for operators.
type SyncCounts struct {
	Unsynced       map[EntityType]int `json:"unsynced"`
	Queue          map[SyncStatus]int `json:"queue"`
	FailedLast24h  int                `json:"failed_last_24h"`
	SuccessLast24h int                `json:"success_last_24h"`
}
