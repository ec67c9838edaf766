package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"signalsync/internal/api"
	"signalsync/internal/config"
	"signalsync/internal/database"
	"signalsync/internal/domain"
	"signalsync/internal/events"
	"signalsync/internal/logging"
	"signalsync/internal/metrics"
	"signalsync/internal/remote"
	"signalsync/internal/remote/firestore"
	"signalsync/internal/remote/redisstore"
	"signalsync/internal/repository"
	"signalsync/internal/syncer"
	"signalsync/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}
	logger := logging.Component(baseLogger, "main")

	db, err := database.Open(cfg.Database, logging.Component(baseLogger, "database"))
	if err != nil {
		logger.Error().Err(err).Msg("Database initialization failed")
		return err
	}
	defer db.Close()
	db.SetMaxRetries(cfg.Sync.Retry.MaxRetries)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := initRedis(ctx, cfg, logger)
	defer func() { _ = repository.Close(redisClient) }()

	gateway, gwCloser, err := initGateway(ctx, cfg, redisClient)
	if err != nil {
		logger.Error().Err(err).Str("driver", cfg.Remote.Driver).Msg("Remote store initialization failed")
		return err
	}
	if gwCloser != nil {
		defer (func(c io.Closer) { _ = c.Close() })(gwCloser)
	}
	logger.Info().Str("driver", cfg.Remote.Driver).Msg("Remote store ready")

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
	}

	bus := events.NewEventBus()
	bus.OnError(func(event *events.Event, err error) {
		logger.Warn().Err(err).Str("event", event.Type).Msg("Event handler failed")
	})

	retry := worker.RetryPolicy{
		MaxRetries: cfg.Sync.Retry.MaxRetries,
		Step:       cfg.Sync.Retry.Step.Std(),
		MaxDelay:   cfg.Sync.Retry.MaxDelay.Std(),
	}
	orch := syncer.New(db, gateway, syncer.Options{
		Workers:           cfg.Sync.Workers,
		SystemicThreshold: cfg.Sync.SystemicFailureThreshold,
		DefaultActor:      cfg.Sync.DefaultActor,
		DefaultStatusCode: cfg.Sync.DefaultStatusCode,
		MaxRetries:        retry.MaxRetries,
		Backoff:           retry.Backoff(),
		PullCursor:        cfg.Sync.PullCursor,
		CursorSkew:        cfg.Sync.CursorSkew.Std(),
		Cursors:           initCursors(redisClient, logging.Component(baseLogger, "cursors")),
		Events:            bus,
	}, logging.Component(baseLogger, "syncer"))

	if mode := strings.TrimSpace(os.Getenv("SYNC_ONCE")); mode != "" {
		return runOnce(ctx, orch, mode, logger)
	}

	queueWorker := worker.NewQueueWorker(db, orch, redisClient, worker.QueueWorkerConfig{
		PollInterval:  cfg.Sync.QueueInterval.Std(),
		BatchSize:     cfg.Sync.BatchSize,
		StuckTimeout:  cfg.Sync.StuckTimeout.Std(),
		DeadLetterKey: cfg.Sync.DeadLetterKey,
	}, logging.Component(baseLogger, "queue-worker"))
	bus.Subscribe(events.EventItemFailed, queueWorker.HandleItemFailed)
	go queueWorker.Start(ctx)

	scheduler := worker.NewScheduler(orch, cfg.Sync.Interval.Std(), logging.Component(baseLogger, "scheduler"))
	go scheduler.Start(ctx)

	if cfg.Monitoring.PrometheusEnabled {
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
	}

	var httpServer *api.HTTPServer
	if cfg.API.Enabled && cfg.API.HTTP.Enabled {
		httpServer = api.NewHTTPServer(cfg.API, db, orch, queueWorker, healthChecks(db, redisClient), baseLogger)
		go func() {
			if err := httpServer.Start(); err != nil {
				logger.Error().Err(err).Msg("HTTP server stopped")
				stop()
			}
		}()
	}

	logger.Info().Msg("signalsync started")
	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("HTTP shutdown incomplete")
		}
	}
	waitIdle(shutdownCtx, orch)

	logger.Info().Msg("Shutdown complete.")
	return nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}
	client := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, client); err != nil {
		if cfg.Remote.Driver == "redis" {
			logger.Warn().Err(err).Msg("Redis unavailable, remote calls will fail until it recovers")
			return client
		}
		logger.Warn().Err(err).Msg("Redis unavailable, continuing without it")
		_ = client.Close()
		return nil
	}
	return client
}

func initGateway(ctx context.Context, cfg *config.Config, redisClient *redis.Client) (remote.Gateway, io.Closer, error) {
	var (
		gw     remote.Gateway
		closer io.Closer
	)
	switch cfg.Remote.Driver {
	case "firestore":
		fs, err := firestore.New(ctx, cfg.Remote.Firestore.ProjectID, cfg.Remote.Firestore.CredentialsFile)
		if err != nil {
			return nil, nil, err
		}
		gw, closer = fs, fs
	case "redis":
		if redisClient == nil {
			return nil, nil, errors.New("redis remote driver needs a redis connection")
		}
		gw = redisstore.New(redisClient, cfg.Remote.Redis.Prefix)
	case "memory":
		gw = remote.NewMemoryGateway()
	default:
		return nil, nil, fmt.Errorf("unsupported remote driver %q", cfg.Remote.Driver)
	}
	return remote.Instrument(remote.WithTimeout(gw, cfg.Remote.Timeout.Std())), closer, nil
}

func initCursors(redisClient *redis.Client, logger *zerolog.Logger) domain.CursorStore {
	fallback := repository.NewMemoryCursorStore()
	if redisClient == nil {
		return fallback
	}
	primary := repository.NewRedisCursorStore(redisClient, repository.DefaultCursorKey)
	return repository.NewFailoverCursorStore(primary, fallback, logger)
}

func healthChecks(db *database.DB, redisClient *redis.Client) []api.HealthCheck {
	checks := []api.HealthCheck{{Name: "database", Check: db.PingContext}}
	if redisClient != nil {
		checks = append(checks, api.HealthCheck{Name: "redis", Check: func(ctx context.Context) error {
			return repository.Ping(ctx, redisClient)
		}})
	}
	return checks
}

// runOnce runs one cycle, prints the report and exits non-zero on errors.
func runOnce(ctx context.Context, orch *syncer.Orchestrator, raw string, logger *zerolog.Logger) error {
	mode, ok := syncer.ParseMode(strings.ToLower(raw))
	if !ok {
		return fmt.Errorf("SYNC_ONCE: unknown mode %q", raw)
	}
	res, err := orch.Run(ctx, syncer.CycleOptions{Mode: mode})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("sync aborted: %s", res.ErrorMessage)
	}
	if n := res.TotalErrors(); n > 0 {
		logger.Warn().Int("errors", n).Interface("counts", res.ErrorCounts()).Msg("Sync finished with item errors")
	}
	return nil
}

// waitIdle gives a running cycle until ctx expires to unwind.
func waitIdle(ctx context.Context, orch *syncer.Orchestrator) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for orch.Running() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	logger.Info().Int("port", port).Msg("Metrics server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
