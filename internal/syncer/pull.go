package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"signalsync/internal/database"
	"signalsync/internal/metrics"
	"signalsync/internal/models"
	"signalsync/internal/remote"

	"golang.org/x/sync/errgroup"
)

func (o *Orchestrator) pullPhase(ctx context.Context, kinds []Kind, actor string) PhaseResult {
	phaseCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	brk := newBreaker(o.opts.SystemicThreshold, cancel)

	var all []outcome
	for _, k := range kinds {
		if phaseCtx.Err() != nil {
			break
		}
		all = append(all, o.pullKind(phaseCtx, k, actor, brk)...)
	}

	p := fold(all)
	if tripped, cause := brk.state(); tripped {
		p.Error = fmt.Sprintf("pull aborted: %v", cause)
	} else if err := ctx.Err(); err != nil {
		p.Error = fmt.Sprintf("pull interrupted: %v", err)
	}
	return p
}

func (o *Orchestrator) pullKind(ctx context.Context, k Kind, actor string, brk *breaker) []outcome {
	log := o.logger.With().Str("collection", k.Collection()).Logger()
	fetchStart := o.now()

	docs, incremental, err := o.fetch(ctx, k)
	if err != nil {
		if Classify(err) == CategorySystemic {
			brk.trip(err)
		}
		log.Warn().Err(err).Msg("Failed to fetch remote collection")
		metrics.IncSyncItem(string(k.Type()), string(models.RemoteToLocal), "fetch_error")
		return []outcome{failure(k.Category()+"_fetch", err)}
	}

	results := make([]outcome, len(docs))
	g := new(errgroup.Group)
	g.SetLimit(o.opts.Workers)
	for i, doc := range docs {
		g.Go(func() error {
			results[i] = o.pullOne(ctx, k, doc, actor)
			return nil
		})
	}
	_ = g.Wait()

	clean := true
	for _, r := range results {
		if r.failed || r.skipped {
			clean = false
			break
		}
	}
	if clean && o.cursorsEnabled() {
		at := fetchStart.Add(-o.opts.CursorSkew)
		if err := o.opts.Cursors.Set(context.WithoutCancel(ctx), k.Collection(), at); err != nil {
			log.Warn().Err(err).Msg("Failed to advance pull cursor")
		}
	}
	log.Debug().Int("documents", len(docs)).Bool("incremental", incremental).Msg("Pull finished for collection")
	return results
}

func (o *Orchestrator) cursorsEnabled() bool {
	if !o.opts.PullCursor || o.opts.Cursors == nil {
		return false
	}
	_, ok := remote.AsChangeFeed(o.gateway)
	return ok
}

// fetch lists the documents to reconcile: only those changed since the
// stored cursor when one exists, the whole collection otherwise.
func (o *Orchestrator) fetch(ctx context.Context, k Kind) ([]remote.Document, bool, error) {
	if o.cursorsEnabled() {
		feed, _ := remote.AsChangeFeed(o.gateway)
		since, found, err := o.opts.Cursors.Get(ctx, k.Collection())
		switch {
		case err != nil:
			o.logger.Warn().Err(err).Str("collection", k.Collection()).Msg("Cursor unavailable, pulling full collection")
		case found:
			docs, err := feed.FetchSince(ctx, k.Collection(), since)
			if !errors.Is(err, remote.ErrNoChangeFeed) {
				return docs, true, err
			}
		}
	}
	docs, err := o.gateway.FetchAll(ctx, k.Collection())
	return docs, false, err
}

func (o *Orchestrator) pullOne(ctx context.Context, k Kind, doc remote.Document, actor string) outcome {
	if ctx.Err() != nil {
		return skipped()
	}
	start := time.Now()
	now := o.now()
	bg := context.WithoutCancel(ctx)

	var rec reconciled
	err := o.db.WithTx(bg, func(q *database.Queries) error {
		var err error
		rec, err = k.Reconcile(bg, q, doc, now)
		if err != nil {
			return err
		}
		key := doc.Key
		if err := q.MarkSynced(bg, k.Type(), rec.EntityID, strPtr(key), now); err != nil {
			return err
		}
		h := newRecord(k.Type(), rec.EntityID, rec.Action, models.RemoteToLocal, actor, start, now)
		h.RemoteID = strPtr(key)
		h.Status = models.StatusSuccess
		return q.InsertHistory(bg, h)
	})
	if err != nil {
		o.recordPullFailure(bg, k, doc, rec.EntityID, actor, err, start)
		return failure(k.PullErrorCounter(err), err)
	}

	metrics.IncSyncItem(string(k.Type()), string(models.RemoteToLocal), "success")
	if rec.Action == models.ActionCreate {
		return success(k.Category() + "_created")
	}
	return success(k.Category() + "_updated")
}

// recordPullFailure logs a rejected document. The entity, when one was
// matched, keeps the error for operators.
func (o *Orchestrator) recordPullFailure(ctx context.Context, k Kind, doc remote.Document, entityID int64, actor string, cause error, start time.Time) {
	cat := Classify(cause)
	msg := cause.Error()
	now := o.now()

	err := o.db.WithTx(ctx, func(q *database.Queries) error {
		if entityID != 0 {
			if err := q.MarkSyncError(ctx, k.Type(), entityID, msg); err != nil && !errors.Is(err, database.ErrNotFound) {
				return err
			}
		}
		h := newRecord(k.Type(), entityID, models.ActionUpdate, models.RemoteToLocal, actor, start, now)
		h.RemoteID = strPtr(doc.Key)
		h.Status = models.StatusFailed
		h.ErrorCategory = strPtr(string(cat))
		h.ErrorMessage = &msg
		return q.InsertHistory(ctx, h)
	})

	o.logger.Warn().
		Err(cause).
		Str("entity_type", string(k.Type())).
		Int64("entity_id", entityID).
		Str("remote_id", doc.Key).
		Str("category", string(cat)).
		Msg("Pull failed")
	if err != nil {
		o.logger.Error().Err(err).Str("remote_id", doc.Key).Msg("Failed to record pull failure")
	}
	metrics.IncSyncItem(string(k.Type()), string(models.RemoteToLocal), string(cat))
}
