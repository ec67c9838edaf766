package models

import "strings"

// EntityType identifies a kind of local entity tracked by the sync queue.
type EntityType string

const (
	EntityUser              EntityType = "USER"
	EntitySignalement       EntityType = "SIGNALEMENT"
	EntityEntreprise        EntityType = "ENTREPRISE"
	EntitySignalementStatus EntityType = "SIGNALEMENT_STATUS"
	EntitySignalementAction EntityType = "SIGNALEMENT_ACTION"
	EntityHistoriqueStatus  EntityType = "HISTORIQUE_STATUS"
	EntitySession           EntityType = "SESSION"
)

// EntityTypes lists every known entity type.
var EntityTypes = []EntityType{
	EntityUser,
	EntitySignalement,
	EntityEntreprise,
	EntitySignalementStatus,
	EntitySignalementAction,
	EntityHistoriqueStatus,
	EntitySession,
}

var entityAliases = map[string]EntityType{
	"users":              EntityUser,
	"user":               EntityUser,
	"signalements":       EntitySignalement,
	"signalement":        EntitySignalement,
	"entreprises":        EntityEntreprise,
	"entreprise":         EntityEntreprise,
	"status":             EntitySignalementStatus,
	"statuses":           EntitySignalementStatus,
	"signalement_status": EntitySignalementStatus,
}

// ParseEntityType accepts an enum name (any case) or a collection alias.
func ParseEntityType(raw string) (EntityType, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}
	if et, ok := entityAliases[strings.ToLower(s)]; ok {
		return et, true
	}
	upper := EntityType(strings.ToUpper(s))
	for _, et := range EntityTypes {
		if et == upper {
			return et, true
		}
	}
	return "", false
}

type SyncAction string

const (
	ActionCreate SyncAction = "CREATE"
	ActionUpdate SyncAction = "UPDATE"
	ActionDelete SyncAction = "DELETE"
)

func (a SyncAction) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

type SyncDirection string

const (
	LocalToRemote SyncDirection = "LOCAL_TO_REMOTE"
	RemoteToLocal SyncDirection = "REMOTE_TO_LOCAL"
	Both          SyncDirection = "BOTH"
)

func (d SyncDirection) Valid() bool {
	switch d {
	case LocalToRemote, RemoteToLocal, Both:
		return true
	}
	return false
}

type SyncStatus string

const (
	StatusPending    SyncStatus = "PENDING"
	StatusProcessing SyncStatus = "PROCESSING"
	StatusSuccess    SyncStatus = "SUCCESS"
	StatusFailed     SyncStatus = "FAILED"
	StatusCancelled  SyncStatus = "CANCELLED"
)

// IsTerminal reports whether no further processing is expected for the status.
func (s SyncStatus) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

func (s SyncStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusSuccess, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

const (
	// DefaultMaxRetries is the retry budget of a new queue item.
	DefaultMaxRetries = 3

	// DefaultPriority applies when an item is enqueued without one. Lower runs sooner.
	DefaultPriority = 5

	// DefaultStatusCode is assigned to pulled signalements that carry no statusCode.
	DefaultStatusCode = "NOUVEAU"
)
