package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"signalsync/internal/database"
	"signalsync/internal/models"
	"signalsync/internal/syncer"
)

func (s *HTTPServer) handleCycle(mode syncer.Mode) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := s.sync.Run(r.Context(), syncer.CycleOptions{Mode: mode, Actor: ActorFromContext(r.Context())})
		s.writeCycle(w, res, err)
	}
}

func (s *HTTPServer) handleSyncType(w http.ResponseWriter, r *http.Request) {
	entityType, ok := models.ParseEntityType(r.PathValue("type"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown entity type")
		return
	}
	mode, ok := syncer.ParseMode(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("mode"))))
	if !ok {
		writeError(w, http.StatusBadRequest, "mode must be push, pull or both")
		return
	}

	res, err := s.sync.Run(r.Context(), syncer.CycleOptions{
		Mode:  mode,
		Types: []models.EntityType{entityType},
		Actor: ActorFromContext(r.Context()),
	})
	s.writeCycle(w, res, err)
}

// writeCycle answers 200 with the report whenever the cycle ran, errors included.
func (s *HTTPServer) writeCycle(w http.ResponseWriter, res *syncer.Result, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, syncer.ErrCycleInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, syncer.ErrUnknownEntityType):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error().Err(err).Msg("Cycle failed to start")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type enqueueRequest struct {
	EntityType   string          `json:"entity_type"`
	EntityID     int64           `json:"entity_id"`
	RemoteID     *string         `json:"remote_id"`
	Action       string          `json:"action"`
	Direction    string          `json:"direction"`
	Priority     int             `json:"priority"`
	MaxRetries   int             `json:"max_retries"`
	ScheduledAt  *time.Time      `json:"scheduled_at"`
	DataSnapshot json.RawMessage `json:"data_snapshot"`
}

func (req enqueueRequest) item(actor string) models.SyncQueueItem {
	entityType, ok := models.ParseEntityType(req.EntityType)
	if !ok {
		entityType = models.EntityType(req.EntityType)
	}
	item := models.SyncQueueItem{
		EntityType:   entityType,
		EntityID:     req.EntityID,
		RemoteID:     req.RemoteID,
		Action:       models.SyncAction(strings.ToUpper(strings.TrimSpace(req.Action))),
		Direction:    models.SyncDirection(strings.ToUpper(strings.TrimSpace(req.Direction))),
		Priority:     req.Priority,
		MaxRetries:   req.MaxRetries,
		DataSnapshot: req.DataSnapshot,
		SyncedBy:     &actor,
	}
	if req.ScheduledAt != nil {
		item.ScheduledAt = req.ScheduledAt.UTC()
	}
	return item
}

func (s *HTTPServer) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var body enqueueRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	item, merged, err := s.db.Enqueue(r.Context(), body.item(ActorFromContext(r.Context())))
	if err != nil {
		if errors.Is(err, database.ErrInvalidItem) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error().Err(err).Msg("Enqueue failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.wake()

	status := http.StatusCreated
	if merged {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{"item": item, "merged": merged})
}

func (s *HTTPServer) handleProcessQueue(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if limit <= 0 {
		limit = syncer.DefaultBatchSize
	}

	rep, err := s.sync.ProcessQueue(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("Queue processing failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *HTTPServer) handleListQueue(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, err := s.db.ListQueueItems(r.Context(), database.QueueFilter(f))
	if err != nil {
		s.logger.Error().Err(err).Msg("List queue failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.db.Cancel(r.Context(), id, s.now()); err != nil {
		s.writeQueueError(w, err)
		return
	}
	item, err := s.db.GetQueueItem(r.Context(), id)
	if err != nil {
		s.writeQueueError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": item})
}

func (s *HTTPServer) handleRequeue(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	item, err := s.db.Requeue(r.Context(), id, s.now())
	if err != nil {
		s.writeQueueError(w, err)
		return
	}
	s.wake()
	writeJSON(w, http.StatusOK, map[string]any{"item": item})
}

func (s *HTTPServer) writeQueueError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		writeError(w, http.StatusNotFound, "queue item not found")
	case errors.Is(err, database.ErrInvalidTransition), errors.Is(err, database.ErrActiveItemExists):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error().Err(err).Msg("Queue operation failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := s.db.ListHistory(r.Context(), database.HistoryFilter(f))
	if err != nil {
		s.logger.Error().Err(err).Msg("List history failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

type statusResponse struct {
	*models.SyncCounts
	Running bool `json:"running"`
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := s.db.SyncCounts(r.Context(), s.now())
	if err != nil {
		s.logger.Error().Err(err).Msg("Sync counts failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{SyncCounts: counts, Running: s.sync.Running()})
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(s.checks))
	for _, c := range s.checks {
		if err := c.Check(ctx); err != nil {
			results[c.Name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[c.Name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	writeJSON(w, status, map[string]any{"status": overall, "checks": results})
}

func (s *HTTPServer) wake() {
	if s.waker != nil {
		s.waker.Wake()
	}
}

// filter is the shape shared by the queue and history filters.
type filter struct {
	EntityType models.EntityType
	EntityID   int64
	Status     models.SyncStatus
	From       *time.Time
	To         *time.Time
	Limit      int
}

func parseFilter(r *http.Request) (filter, error) {
	var f filter
	q := r.URL.Query()

	if raw := strings.TrimSpace(q.Get("entity_type")); raw != "" {
		et, ok := models.ParseEntityType(raw)
		if !ok {
			return f, errors.New("unknown entity_type")
		}
		f.EntityType = et
	}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		st := models.SyncStatus(strings.ToUpper(raw))
		if !st.Valid() {
			return f, errors.New("unknown status")
		}
		f.Status = st
	}

	var err error
	if f.EntityID, err = int64Param(r, "entity_id"); err != nil {
		return f, err
	}
	if f.Limit, err = intParam(r, "limit"); err != nil {
		return f, err
	}
	if f.From, err = timeParam(r, "from"); err != nil {
		return f, err
	}
	if f.To, err = timeParam(r, "to"); err != nil {
		return f, err
	}
	return f, nil
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid queue item id")
		return 0, false
	}
	return id, true
}

func intParam(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("invalid " + name)
	}
	return n, nil
}

func int64Param(r *http.Request, name string) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, errors.New("invalid " + name)
	}
	return n, nil
}

// timeParam accepts RFC 3339 or a bare YYYY-MM-DD date.
func timeParam(r *http.Request, name string) (*time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		if t, err = time.Parse("2006-01-02", raw); err != nil {
			return nil, errors.New("invalid " + name + "; expected RFC 3339 or YYYY-MM-DD")
		}
	}
	t = t.UTC()
	return &t, nil
}
