package remote

import (
	"context"
	"time"

	"signalsync/internal/metrics"
)

type instrumentedGateway struct {
	next Gateway
}

// Instrument records Prometheus request metrics for every call to next.
func Instrument(next Gateway) Gateway {
	return &instrumentedGateway{next: next}
}

func (g *instrumentedGateway) Upsert(ctx context.Context, collection, key string, fields Fields) (string, error) {
	start := time.Now()
	remoteKey, err := g.next.Upsert(ctx, collection, key, fields)
	metrics.ObserveRemote(collection, "upsert", Outcome(err), time.Since(start))
	return remoteKey, err
}

func (g *instrumentedGateway) FetchAll(ctx context.Context, collection string) ([]Document, error) {
	start := time.Now()
	docs, err := g.next.FetchAll(ctx, collection)
	metrics.ObserveRemote(collection, "fetch", Outcome(err), time.Since(start))
	return docs, err
}

func (g *instrumentedGateway) Delete(ctx context.Context, collection, key string) error {
	start := time.Now()
	err := g.next.Delete(ctx, collection, key)
	metrics.ObserveRemote(collection, "delete", Outcome(err), time.Since(start))
	return err
}

func (g *instrumentedGateway) FetchSince(ctx context.Context, collection string, since time.Time) ([]Document, error) {
	cf, ok := AsChangeFeed(g.next)
	if !ok {
		return nil, ErrNoChangeFeed
	}
	start := time.Now()
	docs, err := cf.FetchSince(ctx, collection, since)
	metrics.ObserveRemote(collection, "fetch_since", Outcome(err), time.Since(start))
	return docs, err
}

func (g *instrumentedGateway) SupportsChangeFeed() bool {
	_, ok := AsChangeFeed(g.next)
	return ok
}
