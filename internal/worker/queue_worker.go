package worker

import (
	"context"
	"time"

	"signalsync/internal/events"
	"signalsync/internal/syncer"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	DefaultPollInterval  = 5 * time.Second
	DefaultStuckTimeout  = 15 * time.Minute
	DefaultDeadLetterKey = "sync:deadletter"
)

// QueueProcessor settles due queue items.
type QueueProcessor interface {
	ProcessQueue(ctx context.Context, limit int) (syncer.QueueReport, error)
}

// StuckReclaimer releases items whose worker vanished mid-flight.
type StuckReclaimer interface {
	ReclaimStuck(ctx context.Context, timeout time.Duration, now time.Time) (int64, error)
}

type QueueWorkerConfig struct {
	PollInterval  time.Duration
	BatchSize     int
	StuckTimeout  time.Duration
	DeadLetterKey string
}

// QueueWorker drains the sync queue in the background.
type QueueWorker struct {
	store         StuckReclaimer
	processor     QueueProcessor
	redis         *redis.Client
	wake          chan struct{}
	pollInterval  time.Duration
	batchSize     int
	stuckTimeout  time.Duration
	deadLetterKey string
	logger        *zerolog.Logger
}

// NewQueueWorker builds a worker with sane defaults. redisClient may be nil,
// in which case terminal failures are only logged.
func NewQueueWorker(store StuckReclaimer, processor QueueProcessor, redisClient *redis.Client, cfg QueueWorkerConfig, logger *zerolog.Logger) *QueueWorker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = syncer.DefaultBatchSize
	}
	if cfg.StuckTimeout <= 0 {
		cfg.StuckTimeout = DefaultStuckTimeout
	}
	if cfg.DeadLetterKey == "" {
		cfg.DeadLetterKey = DefaultDeadLetterKey
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &QueueWorker{
		store:         store,
		processor:     processor,
		redis:         redisClient,
		wake:          make(chan struct{}, 1),
		pollInterval:  cfg.PollInterval,
		batchSize:     cfg.BatchSize,
		stuckTimeout:  cfg.StuckTimeout,
		deadLetterKey: cfg.DeadLetterKey,
		logger:        logger,
	}
}

// Wake asks for an immediate pass. It never blocks.
func (w *QueueWorker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Start runs the loop until ctx is done.
func (w *QueueWorker) Start(ctx context.Context) {
	w.logger.Info().Dur("poll_interval", w.pollInterval).Msg("Queue worker started")
	defer w.logger.Info().Msg("Queue worker stopped")

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-timer.C:
		}

		w.RunOnce(ctx)
		timer.Reset(w.pollInterval)
	}
}

// RunOnce reclaims stuck items, then processes batches until the queue has
// no more due work.
func (w *QueueWorker) RunOnce(ctx context.Context) syncer.QueueReport {
	var total syncer.QueueReport

	n, err := w.store.ReclaimStuck(ctx, w.stuckTimeout, time.Now())
	if err != nil {
		w.logger.Error().Err(err).Msg("Failed to reclaim stuck items")
	} else if n > 0 {
		w.logger.Warn().Int64("count", n).Msg("Reclaimed stuck queue items")
	}

	for ctx.Err() == nil {
		rep, err := w.processor.ProcessQueue(ctx, w.batchSize)
		if err != nil {
			w.logger.Error().Err(err).Msg("Failed to process queue")
			break
		}
		total.Claimed += rep.Claimed
		total.Succeeded += rep.Succeeded
		total.Retried += rep.Retried
		total.Failed += rep.Failed
		total.Skipped += rep.Skipped
		if rep.Claimed < w.batchSize {
			break
		}
	}
	return total
}

// HandleItemFailed is an events.EventHandler for EventItemFailed. It keeps
// the payload in a Redis list for operators to inspect.
func (w *QueueWorker) HandleItemFailed(event *events.Event) error {
	if w.redis == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.redis.LPush(ctx, w.deadLetterKey, event.Payload).Err(); err != nil {
		w.logger.Warn().Err(err).Str("key", w.deadLetterKey).Msg("Dead letter push failed")
		return err
	}
	return nil
}

// DeadLetters returns up to limit dead-lettered payloads, newest first.
func (w *QueueWorker) DeadLetters(ctx context.Context, limit int64) ([]string, error) {
	if w.redis == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	return w.redis.LRange(ctx, w.deadLetterKey, 0, limit-1).Result()
}
