// Package remote defines the document-store capability the sync engine
// depends on, plus decorators shared by every backend.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Fields is the payload of a remote document.
type Fields map[string]any

// Has reports whether key is present, including explicit nulls.
func (f Fields) Has(key string) bool {
	_, ok := f[key]
	return ok
}

// Document is one entry of a remote collection.
type Document struct {
	Key    string `json:"key"`
	Fields Fields `json:"fields"`
}

// Gateway is an unreliable remote document store.
//
// Upsert must be idempotent for a given key. An empty key asks the store to
// allocate one; the effective key is returned in every case.
type Gateway interface {
	Upsert(ctx context.Context, collection, key string, fields Fields) (string, error)
	FetchAll(ctx context.Context, collection string) ([]Document, error)
	Delete(ctx context.Context, collection, key string) error
}

// ChangeFeed is implemented by stores that can list documents changed after a point in time.
type ChangeFeed interface {
	FetchSince(ctx context.Context, collection string, since time.Time) ([]Document, error)
}

var (
	ErrTransient    = errors.New("remote: transient failure")
	ErrTimeout      = fmt.Errorf("%w: deadline exceeded", ErrTransient)
	ErrUnavailable  = fmt.Errorf("%w: store unreachable", ErrTransient)
	ErrConflict     = errors.New("remote: document conflict")
	ErrRejected     = errors.New("remote: document rejected")
	ErrNoChangeFeed = errors.New("remote: change feed not supported")
)

type changeFeedSupport interface {
	SupportsChangeFeed() bool
}

// AsChangeFeed returns gw as a ChangeFeed when the underlying store supports it.
func AsChangeFeed(gw Gateway) (ChangeFeed, bool) {
	if s, ok := gw.(changeFeedSupport); ok && !s.SupportsChangeFeed() {
		return nil, false
	}
	cf, ok := gw.(ChangeFeed)
	return cf, ok
}

// Outcome is a short label for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrTransient):
		return "transient"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrRejected):
		return "rejected"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
