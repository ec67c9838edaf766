package remote

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type timeoutGateway struct {
	next    Gateway
	timeout time.Duration
}

// WithTimeout bounds every call to next by d. Calls that run out of time
// fail with an error matching ErrTimeout.
func WithTimeout(next Gateway, d time.Duration) Gateway {
	if d <= 0 {
		return next
	}
	return &timeoutGateway{next: next, timeout: d}
}

func (g *timeoutGateway) Upsert(ctx context.Context, collection, key string, fields Fields) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	remoteKey, err := g.next.Upsert(cctx, collection, key, fields)
	return remoteKey, g.wrap(ctx, cctx, "upsert", collection, err)
}

func (g *timeoutGateway) FetchAll(ctx context.Context, collection string) ([]Document, error) {
	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	docs, err := g.next.FetchAll(cctx, collection)
	return docs, g.wrap(ctx, cctx, "fetch", collection, err)
}

func (g *timeoutGateway) Delete(ctx context.Context, collection, key string) error {
	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.wrap(ctx, cctx, "delete", collection, g.next.Delete(cctx, collection, key))
}

func (g *timeoutGateway) FetchSince(ctx context.Context, collection string, since time.Time) ([]Document, error) {
	cf, ok := AsChangeFeed(g.next)
	if !ok {
		return nil, ErrNoChangeFeed
	}
	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	docs, err := cf.FetchSince(cctx, collection, since)
	return docs, g.wrap(ctx, cctx, "fetch_since", collection, err)
}

func (g *timeoutGateway) SupportsChangeFeed() bool {
	_, ok := AsChangeFeed(g.next)
	return ok
}

func (g *timeoutGateway) wrap(parent, cctx context.Context, op, collection string, err error) error {
	if err == nil || errors.Is(err, ErrTimeout) {
		return err
	}
	if parent.Err() == nil && errors.Is(cctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s %s after %s: %w", ErrTimeout, op, collection, g.timeout, err)
	}
	return err
}
