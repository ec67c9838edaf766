package models

import (
	"encoding/json"
	"time"
)

// SyncQueueItem is a unit of pending synchronization work.
type SyncQueueItem struct {
	ID                  int64           `json:"id"`
	EntityType          EntityType      `json:"entity_type"`
	EntityID            int64           `json:"entity_id"`
	RemoteID            *string         `json:"remote_id,omitempty"`
	Action              SyncAction      `json:"action"`
	Direction           SyncDirection   `json:"direction"`
	Status              SyncStatus      `json:"status"`
	RetryCount          int             `json:"retry_count"`
	MaxRetries          int             `json:"max_retries"`
	Priority            int             `json:"priority"`
	ScheduledAt         time.Time       `json:"scheduled_at"`
	ProcessingStartedAt *time.Time      `json:"processing_started_at,omitempty"`
	ProcessedAt         *time.Time      `json:"processed_at,omitempty"`
	DataSnapshot        json.RawMessage `json:"data_snapshot,omitempty"`
	ErrorMessage        *string         `json:"error_message,omitempty"`
	SyncedBy            *string         `json:"synced_by,omitempty"`
	ClaimToken          *string         `json:"-"`
	FollowUp            bool            `json:"follow_up,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// CanRetry reports whether another attempt fits in the retry budget.
func (i *SyncQueueItem) CanRetry() bool {
	return i.RetryCount < i.MaxRetries
}

// ApplyDefaults fills zero-valued fields the way a fresh enqueue expects.
func (i *SyncQueueItem) ApplyDefaults(now time.Time) {
	if i.MaxRetries <= 0 {
		i.MaxRetries = DefaultMaxRetries
	}
	if i.Priority == 0 {
		i.Priority = DefaultPriority
	}
	if i.ScheduledAt.IsZero() {
		i.ScheduledAt = now
	}
	if i.Action == "" {
		i.Action = ActionUpdate
	}
	if i.Direction == "" {
		i.Direction = LocalToRemote
	}
	i.Status = StatusPending
	i.FollowUp = false
}
