package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"signalsync/internal/database"
	"signalsync/internal/events"
	"signalsync/internal/mapper"
	"signalsync/internal/metrics"
	"signalsync/internal/models"
	"signalsync/internal/remote"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const DefaultBatchSize = 20

// QueueReport summarizes one ProcessQueue pass.
type QueueReport struct {
	Claimed   int `json:"claimed"`
	Succeeded int `json:"succeeded"`
	Retried   int `json:"retried"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

type queueResult int

const (
	queueSkipped queueResult = iota
	queueSucceeded
	queueRetried
	queueFailed
)

// ProcessQueue claims up to limit due items and settles each of them.
func (o *Orchestrator) ProcessQueue(ctx context.Context, limit int) (QueueReport, error) {
	var rep QueueReport
	if err := ctx.Err(); err != nil {
		return rep, err
	}
	if limit <= 0 {
		limit = DefaultBatchSize
	}
	token := uuid.NewString()
	items, err := o.db.ClaimNextBatch(ctx, o.now(), limit, token)
	if err != nil {
		return rep, err
	}
	rep.Claimed = len(items)
	metrics.AddClaimed(len(items))
	if len(items) == 0 {
		return rep, nil
	}

	results := make([]queueResult, len(items))
	g := new(errgroup.Group)
	g.SetLimit(o.opts.Workers)
	for i := range items {
		item := &items[i]
		g.Go(func() error {
			results[i] = o.processItem(ctx, item, token)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		switch r {
		case queueSucceeded:
			rep.Succeeded++
		case queueRetried:
			rep.Retried++
		case queueFailed:
			rep.Failed++
		default:
			rep.Skipped++
		}
	}
	o.logger.Info().
		Int("claimed", rep.Claimed).
		Int("succeeded", rep.Succeeded).
		Int("retried", rep.Retried).
		Int("failed", rep.Failed).
		Int("skipped", rep.Skipped).
		Msg("Queue batch processed")
	o.publish(events.EventQueueProcessed, rep)
	return rep, nil
}

func (o *Orchestrator) processItem(ctx context.Context, item *models.SyncQueueItem, token string) queueResult {
	log := o.logger.With().
		Int64("queue_id", item.ID).
		Str("entity_type", string(item.EntityType)).
		Int64("entity_id", item.EntityID).
		Logger()

	owned, err := o.db.IsClaimedBy(ctx, item.ID, token)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to verify claim")
		return queueSkipped
	}
	if !owned {
		log.Info().Msg("Queue item no longer claimed, skipping")
		return queueSkipped
	}

	start := time.Now()
	actor := o.opts.DefaultActor
	if item.SyncedBy != nil && *item.SyncedBy != "" {
		actor = *item.SyncedBy
	}

	// Settling must land even when ctx is cancelled after the remote call.
	bg := context.WithoutCancel(ctx)
	k, ok := o.byType[item.EntityType]
	if !ok {
		return o.settleFailure(bg, nil, item, actor, fmt.Errorf("%w: %s", ErrUnsupported, item.EntityType), start)
	}

	switch {
	case item.Action == models.ActionDelete:
		err = o.processDelete(ctx, bg, k, item, actor, start)
	case item.Direction == models.RemoteToLocal:
		err = o.processSnapshot(bg, k, item, actor, start)
	default:
		err = o.processPush(ctx, bg, k, item, actor, start)
	}
	if errors.Is(err, database.ErrNotClaimed) {
		log.Info().Msg("Queue item was released while in flight")
		return queueSkipped
	}
	if err != nil {
		return o.settleFailure(bg, k, item, actor, err, start)
	}
	metrics.IncSyncItem(string(item.EntityType), string(item.Direction), "success")
	return queueSucceeded
}

// processPush sends the current local state. The relational store is the
// system of record, so BOTH items push as well.
func (o *Orchestrator) processPush(ctx, bg context.Context, k Kind, item *models.SyncQueueItem, actor string, start time.Time) error {
	plan, err := k.Plan(ctx, o.db.Queries, item.EntityID, o.now())
	if err != nil {
		return err
	}
	key, err := o.gateway.Upsert(ctx, k.Collection(), plan.Key, plan.Fields)
	if err != nil {
		return err
	}
	now := o.now()
	return o.db.WithTx(bg, func(q *database.Queries) error {
		if err := q.MarkSynced(bg, k.Type(), item.EntityID, &key, now); err != nil {
			return err
		}
		h := o.queueRecord(k.Type(), item, plan.Action, actor, start, now)
		h.RemoteID = &key
		h.Status = models.StatusSuccess
		h.RemoteResponse = response{RemoteID: key, Status: "ok", Losses: plan.Losses}.raw()
		if err := q.InsertHistory(bg, h); err != nil {
			return err
		}
		return markSuccess(bg, q, item, now)
	})
}

func (o *Orchestrator) processDelete(ctx, bg context.Context, k Kind, item *models.SyncQueueItem, actor string, start time.Time) error {
	if item.RemoteID == nil || *item.RemoteID == "" {
		return ErrNoRemoteID
	}
	if err := o.gateway.Delete(ctx, k.Collection(), *item.RemoteID); err != nil {
		return err
	}
	now := o.now()
	return o.db.WithTx(bg, func(q *database.Queries) error {
		h := o.queueRecord(k.Type(), item, models.ActionDelete, actor, start, now)
		h.RemoteID = item.RemoteID
		h.Status = models.StatusSuccess
		h.RemoteResponse = response{RemoteID: *item.RemoteID, Status: "deleted"}.raw()
		if err := q.InsertHistory(bg, h); err != nil {
			return err
		}
		return markSuccess(bg, q, item, now)
	})
}

// processSnapshot applies the remote fields captured in the item.
func (o *Orchestrator) processSnapshot(bg context.Context, k Kind, item *models.SyncQueueItem, actor string, start time.Time) error {
	var fields remote.Fields
	if len(item.DataSnapshot) == 0 {
		return fmt.Errorf("%w: data_snapshot: required", mapper.ErrInvalidField)
	}
	if err := json.Unmarshal(item.DataSnapshot, &fields); err != nil || fields == nil {
		return fmt.Errorf("%w: data_snapshot: not a JSON object", mapper.ErrInvalidField)
	}
	doc := remote.Document{Fields: fields}
	if item.RemoteID != nil {
		doc.Key = *item.RemoteID
	}
	if _, ok := fields["id"]; !ok && item.EntityID > 0 {
		fields["id"] = item.EntityID
	}

	now := o.now()
	return o.db.WithTx(bg, func(q *database.Queries) error {
		rec, err := k.Reconcile(bg, q, doc, now)
		if err != nil {
			return err
		}
		if err := q.MarkSynced(bg, k.Type(), rec.EntityID, strPtr(doc.Key), now); err != nil {
			return err
		}
		h := o.queueRecord(k.Type(), item, rec.Action, actor, start, now)
		h.EntityID = rec.EntityID
		h.RemoteID = strPtr(doc.Key)
		h.Status = models.StatusSuccess
		if err := q.InsertHistory(bg, h); err != nil {
			return err
		}
		return markSuccess(bg, q, item, now)
	})
}

// settleFailure moves the item to its retry or terminal state and records the attempt.
func (o *Orchestrator) settleFailure(ctx context.Context, k Kind, item *models.SyncQueueItem, actor string, cause error, start time.Time) queueResult {
	cat := Classify(cause)
	msg := cause.Error()
	now := o.now()

	var retryAt *time.Time
	err := o.db.WithTx(ctx, func(q *database.Queries) error {
		var err error
		if cat.Retryable() {
			retryAt, err = q.MarkFailed(ctx, item, msg, now, o.opts.Backoff)
		} else {
			err = q.MarkFailedPermanent(ctx, item, msg, now)
		}
		if err != nil {
			return err
		}
		if k != nil && item.Action != models.ActionDelete {
			err := q.MarkSyncError(ctx, item.EntityType, item.EntityID, msg)
			if err != nil && !errors.Is(err, database.ErrNotFound) {
				return err
			}
		}
		h := o.queueRecord(item.EntityType, item, item.Action, actor, start, now)
		h.RemoteID = item.RemoteID
		h.Status = models.StatusFailed
		h.ErrorCategory = strPtr(string(cat))
		h.ErrorMessage = &msg
		h.NextRetryAt = retryAt
		return q.InsertHistory(ctx, h)
	})
	if errors.Is(err, database.ErrNotClaimed) {
		return queueSkipped
	}

	log := o.logger.Warn().
		Err(cause).
		Int64("queue_id", item.ID).
		Str("entity_type", string(item.EntityType)).
		Int64("entity_id", item.EntityID).
		Int("retry_count", item.RetryCount).
		Str("category", string(cat))
	if retryAt != nil {
		log = log.Time("next_retry_at", *retryAt)
	}
	log.Msg("Queue item failed")
	if err != nil {
		o.logger.Error().Err(err).Int64("queue_id", item.ID).Msg("Failed to record queue failure")
		return queueSkipped
	}
	metrics.IncSyncItem(string(item.EntityType), string(item.Direction), string(cat))

	if retryAt != nil {
		return queueRetried
	}
	o.publish(events.EventItemFailed, events.ItemFailedPayload{
		QueueID:    item.ID,
		EntityType: string(item.EntityType),
		EntityID:   item.EntityID,
		Action:     string(item.Action),
		Direction:  string(item.Direction),
		RetryCount: item.RetryCount,
		Category:   string(cat),
		Error:      msg,
		FailedAt:   now,
	})
	return queueFailed
}

// markSuccess settles a copy so a rolled back transaction leaves item claimed in memory.
func markSuccess(ctx context.Context, q *database.Queries, item *models.SyncQueueItem, now time.Time) error {
	claimed := *item
	return q.MarkSuccess(ctx, &claimed, now)
}

func (o *Orchestrator) queueRecord(t models.EntityType, item *models.SyncQueueItem, action models.SyncAction, actor string, start, now time.Time) *models.SyncHistoryRecord {
	h := newRecord(t, item.EntityID, action, item.Direction, actor, start, now)
	id := item.ID
	h.SyncQueueID = &id
	return h
}
