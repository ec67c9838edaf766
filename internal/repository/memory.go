package repository

import (
	"context"
	"sync"
	"time"
)

// MemoryCursorStore keeps pull cursors in process memory. They are lost on
// restart, which only costs one full pull per collection.
type MemoryCursorStore struct {
	cursors sync.Map
}

func NewMemoryCursorStore() *MemoryCursorStore {
	return &MemoryCursorStore{}
}

func (r *MemoryCursorStore) Get(ctx context.Context, collection string) (time.Time, bool, error) {
	val, ok := r.cursors.Load(collection)
	if !ok {
		return time.Time{}, false, nil
	}
	return val.(time.Time), true, nil
}

func (r *MemoryCursorStore) Set(ctx context.Context, collection string, at time.Time) error {
	r.cursors.Store(collection, at.UTC())
	return nil
}
