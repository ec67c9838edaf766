package domain

import (
	"context"
	"time"
)

// CursorStore remembers, per remote collection, the point in time after
// which a pull only needs changed documents.
type CursorStore interface {
	Get(ctx context.Context, collection string) (time.Time, bool, error)
	Set(ctx context.Context, collection string, at time.Time) error
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// Waker is notified when new queue work is available.
type Waker interface {
	Wake()
}
