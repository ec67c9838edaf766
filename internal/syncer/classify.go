package syncer

import (
	"context"
	"errors"

	"signalsync/internal/database"
	"signalsync/internal/mapper"
	"signalsync/internal/remote"
)

var (
	ErrCycleInProgress   = errors.New("a sync cycle is already running")
	ErrUnknownEntityType = errors.New("unknown entity type")
	ErrUnsupported       = errors.New("entity type is not synchronized")
	ErrNotCreatable      = errors.New("entity cannot be created from remote data")
	ErrNoRemoteID        = errors.New("queue item has no remote id")
)

// Category groups failures by how the engine reacts to them.
type Category string

const (
	// CategoryTransient failures are retried with backoff.
	CategoryTransient Category = "transient"
	// CategoryValidation failures will not fix themselves and are never retried.
	CategoryValidation Category = "validation"
	// CategoryConflict failures leave the entity unsynced for the next cycle.
	CategoryConflict Category = "conflict"
	// CategorySystemic failures mean the remote store is unreachable.
	CategorySystemic Category = "systemic"
)

// Classify maps an error onto a Category. Unknown errors are treated as transient.
func Classify(err error) Category {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, remote.ErrUnavailable):
		return CategorySystemic
	case errors.Is(err, remote.ErrConflict),
		errors.Is(err, database.ErrDuplicate),
		errors.Is(err, ErrIdentityConflict):
		return CategoryConflict
	case errors.Is(err, mapper.ErrInvalidField),
		errors.Is(err, mapper.ErrMissingReference),
		errors.Is(err, remote.ErrRejected),
		errors.Is(err, database.ErrForeignKey),
		errors.Is(err, database.ErrNotFound),
		errors.Is(err, database.ErrUnsupportedEntity),
		errors.Is(err, ErrNotCreatable),
		errors.Is(err, ErrUnsupported),
		errors.Is(err, ErrNoRemoteID):
		return CategoryValidation
	case errors.Is(err, remote.ErrTransient), errors.Is(err, context.DeadlineExceeded):
		return CategoryTransient
	default:
		return CategoryTransient
	}
}

// Retryable reports whether the category is worth another attempt later.
func (c Category) Retryable() bool {
	return c == CategoryTransient || c == CategorySystemic
}
