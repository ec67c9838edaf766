package repository

import (
	"context"
	"sync"
	"time"

	"signalsync/internal/domain"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverCursorStore reads and writes the primary store, switching to the
// fallback when the primary errors and probing it again after a minute.
// Writes are mirrored to the fallback so it stays warm.
type FailoverCursorStore struct {
	primary   domain.CursorStore
	fallback  domain.CursorStore
	logger    *zerolog.Logger
	mu        sync.Mutex
	isDown    bool
	lastCheck time.Time
	now       func() time.Time
}

func NewFailoverCursorStore(primary, fallback domain.CursorStore, logger *zerolog.Logger) *FailoverCursorStore {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &FailoverCursorStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

// usePrimary reports whether the primary should be tried now.
func (r *FailoverCursorStore) usePrimary() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.isDown || r.now().Sub(r.lastCheck) > recoveryInterval
}

func (r *FailoverCursorStore) markDown(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.isDown {
		r.logger.Error().Err(err).Msg("Primary cursor store failed, falling back to memory")
	}
	r.isDown = true
	r.lastCheck = r.now()
}

func (r *FailoverCursorStore) markUp() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isDown {
		r.logger.Info().Msg("Primary cursor store recovered")
	}
	r.isDown = false
}

// Down reports whether the fallback is currently serving.
func (r *FailoverCursorStore) Down() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isDown
}

func (r *FailoverCursorStore) Get(ctx context.Context, collection string) (time.Time, bool, error) {
	if r.usePrimary() {
		at, ok, err := r.primary.Get(ctx, collection)
		if err == nil {
			r.markUp()
			return at, ok, nil
		}
		r.markDown(err)
	}
	return r.fallback.Get(ctx, collection)
}

func (r *FailoverCursorStore) Set(ctx context.Context, collection string, at time.Time) error {
	if err := r.fallback.Set(ctx, collection, at); err != nil {
		return err
	}
	if r.usePrimary() {
		if err := r.primary.Set(ctx, collection, at); err != nil {
			r.markDown(err)
			return nil
		}
		r.markUp()
	}
	return nil
}
