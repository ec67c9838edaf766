package syncer

import (
	"context"
	"fmt"
	"time"

	"signalsync/internal/database"
	"signalsync/internal/metrics"
	"signalsync/internal/models"

	"golang.org/x/sync/errgroup"
)

func (o *Orchestrator) pushPhase(ctx context.Context, kinds []Kind, actor string) PhaseResult {
	phaseCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	brk := newBreaker(o.opts.SystemicThreshold, cancel)

	var all []outcome
	for _, k := range kinds {
		if phaseCtx.Err() != nil {
			break
		}
		all = append(all, o.pushKind(phaseCtx, k, actor, brk)...)
	}

	p := fold(all)
	if tripped, cause := brk.state(); tripped {
		p.Error = fmt.Sprintf("push aborted: %v", cause)
	} else if err := ctx.Err(); err != nil {
		p.Error = fmt.Sprintf("push interrupted: %v", err)
	}
	return p
}

func (o *Orchestrator) pushKind(ctx context.Context, k Kind, actor string, brk *breaker) []outcome {
	log := o.logger.With().Str("entity_type", string(k.Type())).Logger()
	now := o.now()

	active, err := o.db.ActiveEntityIDs(ctx, k.Type())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list queued entities")
		return []outcome{failure(k.Category(), err)}
	}
	plans, err := k.Candidates(ctx, o.db.Queries, now)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list push candidates")
		return []outcome{failure(k.Category(), err)}
	}

	results := make([]outcome, len(plans))
	g := new(errgroup.Group)
	g.SetLimit(o.opts.Workers)
	for i, plan := range plans {
		if active[plan.EntityID] {
			// The queue owns this entity until its item settles.
			results[i] = skipped()
			continue
		}
		g.Go(func() error {
			results[i] = o.pushOne(ctx, k, plan, actor, brk)
			return nil
		})
	}
	_ = g.Wait()
	log.Debug().Int("candidates", len(plans)).Msg("Push finished for entity type")
	return results
}

func (o *Orchestrator) pushOne(ctx context.Context, k Kind, plan pushPlan, actor string, brk *breaker) outcome {
	if ctx.Err() != nil {
		return skipped()
	}
	start := time.Now()
	key, err := o.gateway.Upsert(ctx, k.Collection(), plan.Key, plan.Fields)
	brk.record(err)

	// Bookkeeping must land even when the phase was cancelled mid-call.
	bg := context.WithoutCancel(ctx)
	if err != nil {
		o.recordPushFailure(bg, k, plan, actor, err, start)
		return failure(k.Category(), err)
	}

	now := o.now()
	err = o.db.WithTx(bg, func(q *database.Queries) error {
		if err := q.MarkSynced(bg, k.Type(), plan.EntityID, &key, now); err != nil {
			return err
		}
		rec := newRecord(k.Type(), plan.EntityID, plan.Action, models.LocalToRemote, actor, start, now)
		rec.RemoteID = &key
		rec.Status = models.StatusSuccess
		rec.RemoteResponse = response{RemoteID: key, Status: "ok", Losses: plan.Losses}.raw()
		return q.InsertHistory(bg, rec)
	})
	if err != nil {
		o.logger.Error().Err(err).
			Str("entity_type", string(k.Type())).
			Int64("entity_id", plan.EntityID).
			Msg("Pushed entity but failed to record it")
		return failure(k.Category(), err)
	}
	metrics.IncSyncItem(string(k.Type()), string(models.LocalToRemote), "success")
	return success(k.Category())
}

// recordPushFailure stores the error on the entity and in history, and
// schedules a queue retry for failures that may pass on their own.
func (o *Orchestrator) recordPushFailure(ctx context.Context, k Kind, plan pushPlan, actor string, cause error, start time.Time) {
	cat := Classify(cause)
	msg := cause.Error()
	now := o.now()

	var retryAt *time.Time
	err := o.db.WithTx(ctx, func(q *database.Queries) error {
		if err := q.MarkSyncError(ctx, k.Type(), plan.EntityID, msg); err != nil {
			return err
		}
		rec := newRecord(k.Type(), plan.EntityID, plan.Action, models.LocalToRemote, actor, start, now)
		rec.RemoteID = plan.RemoteID
		rec.Status = models.StatusFailed
		rec.ErrorCategory = strPtr(string(cat))
		rec.ErrorMessage = &msg

		if cat.Retryable() {
			item, at, err := q.RecordFailure(ctx, database.Failure{
				EntityType: k.Type(),
				EntityID:   plan.EntityID,
				RemoteID:   plan.RemoteID,
				Action:     plan.Action,
				Cause:      msg,
				SyncedBy:   &actor,
				MaxRetries: o.opts.MaxRetries,
			}, now, o.opts.Backoff)
			if err != nil {
				return err
			}
			retryAt = at
			rec.SyncQueueID = &item.ID
			rec.NextRetryAt = at
		}
		return q.InsertHistory(ctx, rec)
	})

	ev := o.logger.Warn().
		Err(cause).
		Str("entity_type", string(k.Type())).
		Int64("entity_id", plan.EntityID).
		Str("category", string(cat))
	if retryAt != nil {
		ev = ev.Time("next_retry_at", *retryAt)
	}
	ev.Msg("Push failed")
	if err != nil {
		o.logger.Error().Err(err).Int64("entity_id", plan.EntityID).Msg("Failed to record push failure")
	}
	metrics.IncSyncItem(string(k.Type()), string(models.LocalToRemote), string(cat))
}

func newRecord(t models.EntityType, id int64, action models.SyncAction, dir models.SyncDirection, actor string, start, now time.Time) *models.SyncHistoryRecord {
	return &models.SyncHistoryRecord{
		EntityType: t,
		EntityID:   id,
		Action:     action,
		Direction:  dir,
		DurationMs: time.Since(start).Milliseconds(),
		SyncedBy:   strPtr(actor),
		SyncedAt:   now,
	}
}
