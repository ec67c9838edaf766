package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"signalsync/internal/config"
	"signalsync/internal/database"
	"signalsync/internal/domain"
	"signalsync/internal/metrics"
	"signalsync/internal/syncer"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const requestIDHeader = "X-Request-ID"

// SyncService is the part of the orchestrator the API drives.
type SyncService interface {
	Run(ctx context.Context, opts syncer.CycleOptions) (*syncer.Result, error)
	ProcessQueue(ctx context.Context, limit int) (syncer.QueueReport, error)
	Running() bool
}

// HealthCheck is one dependency probed by /health.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// HTTPServer exposes the sync triggers, the queue and the persisted state.
type HTTPServer struct {
	cfg    config.APIConfig
	db     *database.DB
	sync   SyncService
	waker  domain.Waker
	checks []HealthCheck
	auth   *HTTPAuth
	logger *zerolog.Logger
	server *http.Server
	now    func() time.Time
}

// NewHTTPServer wires the routes. waker may be nil.
func NewHTTPServer(cfg config.APIConfig, db *database.DB, svc SyncService, waker domain.Waker, checks []HealthCheck, logger *zerolog.Logger) *HTTPServer {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "http").Logger()
	}

	srv := &HTTPServer{
		cfg:    cfg,
		db:     db,
		sync:   svc,
		waker:  waker,
		checks: checks,
		auth:   NewHTTPAuth(cfg),
		logger: &base,
		now:    time.Now,
	}

	mux := http.NewServeMux()
	srv.route(mux, "GET /health", "", srv.handleHealth)

	srv.route(mux, "POST /api/sync/all", PermTrigger, srv.handleCycle(syncer.ModeFull))
	srv.route(mux, "POST /api/sync/push", PermTrigger, srv.handleCycle(syncer.ModePush))
	srv.route(mux, "POST /api/sync/pull", PermTrigger, srv.handleCycle(syncer.ModePull))
	srv.route(mux, "POST /api/sync/types/{type}", PermTrigger, srv.handleSyncType)

	srv.route(mux, "POST /api/sync/queue", PermQueue, srv.handleEnqueue)
	srv.route(mux, "POST /api/sync/queue/process", PermTrigger, srv.handleProcessQueue)
	srv.route(mux, "GET /api/sync/queue", PermRead, srv.handleListQueue)
	srv.route(mux, "POST /api/sync/queue/{id}/cancel", PermQueue, srv.handleCancel)
	srv.route(mux, "POST /api/sync/queue/{id}/requeue", PermQueue, srv.handleRequeue)

	srv.route(mux, "GET /api/sync/history", PermRead, srv.handleHistory)
	srv.route(mux, "GET /api/sync/status", PermRead, srv.handleStatus)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.accessLog(mux),
		ReadHeaderTimeout: 5 * time.Second,
		// Cycles run inside the request.
		WriteTimeout: 5 * time.Minute,
	}

	return srv
}

func (s *HTTPServer) route(mux *http.ServeMux, pattern, permission string, h http.HandlerFunc) {
	mux.Handle(pattern, s.auth.Require(permission, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		metrics.IncHTTP(pattern)
		h(w, r)
	})))
}

// Handler returns the root handler, middleware included.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		s.logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote", r.RemoteAddr).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
