package worker

import (
	"context"
	"errors"
	"time"

	"signalsync/internal/syncer"

	"github.com/rs/zerolog"
)

const SchedulerActor = "scheduler"

// CycleRunner runs a full sync cycle.
type CycleRunner interface {
	SyncAll(ctx context.Context, actor string) (*syncer.Result, error)
}

// Scheduler triggers a full cycle on a fixed interval.
type Scheduler struct {
	runner   CycleRunner
	interval time.Duration
	logger   *zerolog.Logger
}

func NewScheduler(runner CycleRunner, interval time.Duration, logger *zerolog.Logger) *Scheduler {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Scheduler{runner: runner, interval: interval, logger: logger}
}

// Start blocks until ctx is done. A non-positive interval disables the scheduler.
func (s *Scheduler) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info().Msg("Scheduled sync disabled")
		return
	}
	s.logger.Info().Dur("interval", s.interval).Msg("Scheduler started")
	defer s.logger.Info().Msg("Scheduler stopped")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	res, err := s.runner.SyncAll(ctx, SchedulerActor)
	switch {
	case errors.Is(err, syncer.ErrCycleInProgress):
		s.logger.Debug().Msg("Previous cycle still running, skipping tick")
	case err != nil:
		if ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("Scheduled sync failed to start")
		}
	case !res.Success:
		s.logger.Warn().Str("error", res.ErrorMessage).Int("errors", res.TotalErrors()).Msg("Scheduled sync aborted")
	case res.TotalErrors() > 0:
		s.logger.Warn().Int("errors", res.TotalErrors()).Msg("Scheduled sync finished with item errors")
	}
}
