package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"signalsync/internal/config"
	"signalsync/internal/database"
	"signalsync/internal/models"
	"signalsync/internal/remote"
	"signalsync/internal/syncer"

	"github.com/rs/zerolog"
)

func TestSyncPushEndpoint(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})
	env.seedUser(t, "jean@example.com")

	status, body := env.do(t, http.MethodPost, "/api/sync/push", "", nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}

	var res syncer.Result
	if err := json.Unmarshal(body, &res); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if res.Mode != syncer.ModePush {
		t.Fatalf("expected push mode, got %s", res.Mode)
	}
	if res.Push.Successes["users"] != 1 {
		t.Fatalf("expected 1 pushed user, got %v", res.Push.Successes)
	}
	if env.mem.Len("users") != 1 {
		t.Fatalf("expected 1 remote user, got %d", env.mem.Len("users"))
	}
}

func TestSyncTypeValidation(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})

	cases := map[string]int{
		"/api/sync/types/bogus":               http.StatusBadRequest,
		"/api/sync/types/session":             http.StatusBadRequest,
		"/api/sync/types/users?mode=sideways": http.StatusBadRequest,
		"/api/sync/types/users?mode=pull":     http.StatusOK,
		"/api/sync/types/status":              http.StatusOK,
	}
	for path, want := range cases {
		status, body := env.do(t, http.MethodPost, path, "", nil)
		if status != want {
			t.Fatalf("%s: expected %d, got %d: %s", path, want, status, body)
		}
	}
}

func TestCycleInProgressIsConflict(t *testing.T) {
	env := newTestEnvWith(t, config.APIConfig{}, func(SyncService) SyncService {
		return &stubService{err: syncer.ErrCycleInProgress}
	})

	status, _ := env.do(t, http.MethodPost, "/api/sync/all", "", nil)
	if status != http.StatusConflict {
		t.Fatalf("expected 409, got %d", status)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})
	status, _ := env.do(t, http.MethodGet, "/api/sync/all", "", nil)
	if status != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", status)
	}
}

func TestEnqueueCreatesThenMerges(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})
	u := env.seedUser(t, "jean@example.com")

	payload := `{"entity_type":"users","entity_id":` + itoa(u.ID) + `,"action":"update"}`
	status, body := env.do(t, http.MethodPost, "/api/sync/queue", payload, nil)
	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", status, body)
	}
	first := decodeItem(t, body)
	if first.Item.EntityType != models.EntityUser || first.Merged {
		t.Fatalf("unexpected first enqueue: %+v", first)
	}
	if first.Item.SyncedBy == nil || *first.Item.SyncedBy != DefaultActor {
		t.Fatalf("expected actor %q, got %v", DefaultActor, first.Item.SyncedBy)
	}

	status, body = env.do(t, http.MethodPost, "/api/sync/queue", payload, nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200 on merge, got %d: %s", status, body)
	}
	second := decodeItem(t, body)
	if !second.Merged || second.Item.ID != first.Item.ID {
		t.Fatalf("expected merge into item %d, got %+v", first.Item.ID, second)
	}
	if env.waker.calls.Load() != 2 {
		t.Fatalf("expected 2 wake-ups, got %d", env.waker.calls.Load())
	}
}

func TestEnqueueRejectsBadInput(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})

	for _, payload := range []string{
		`{"entity_type":"USER","entity_id":0}`,
		`{"entity_type":"PLANET","entity_id":1}`,
		`{"entity_type":"USER","entity_id":1,"action":"explode"}`,
		`{"entity_type":"USER","entity_id":1,"colour":"red"}`,
		`not json`,
	} {
		status, _ := env.do(t, http.MethodPost, "/api/sync/queue", payload, nil)
		if status != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", payload, status)
		}
	}
	if env.waker.calls.Load() != 0 {
		t.Fatalf("rejected enqueues must not wake the worker")
	}
}

func TestQueueCancelAndRequeue(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})
	u := env.seedUser(t, "jean@example.com")
	item, _, err := env.db.Enqueue(context.Background(), models.SyncQueueItem{EntityType: models.EntityUser, EntityID: u.ID})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	id := itoa(item.ID)

	status, body := env.do(t, http.MethodGet, "/api/sync/queue?status=pending&entity_type=USER", "", nil)
	if status != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", status)
	}
	var list struct {
		Items []models.SyncQueueItem `json:"items"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Items) != 1 || list.Items[0].ID != item.ID {
		t.Fatalf("expected the pending item, got %+v", list.Items)
	}

	status, body = env.do(t, http.MethodPost, "/api/sync/queue/"+id+"/cancel", "", nil)
	if status != http.StatusOK || decodeItem(t, body).Item.Status != models.StatusCancelled {
		t.Fatalf("cancel: got %d %s", status, body)
	}
	status, _ = env.do(t, http.MethodPost, "/api/sync/queue/"+id+"/cancel", "", nil)
	if status != http.StatusConflict {
		t.Fatalf("second cancel: expected 409, got %d", status)
	}

	status, body = env.do(t, http.MethodPost, "/api/sync/queue/"+id+"/requeue", "", nil)
	if status != http.StatusOK {
		t.Fatalf("requeue: expected 200, got %d: %s", status, body)
	}
	if got := decodeItem(t, body).Item; got.Status != models.StatusPending || got.RetryCount != 0 {
		t.Fatalf("unexpected requeued item: %+v", got)
	}

	for path, want := range map[string]int{
		"/api/sync/queue/999/cancel": http.StatusNotFound,
		"/api/sync/queue/abc/cancel": http.StatusBadRequest,
	} {
		if status, _ := env.do(t, http.MethodPost, path, "", nil); status != want {
			t.Fatalf("%s: expected %d, got %d", path, want, status)
		}
	}
}

func TestProcessQueueEndpoint(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})
	u := env.seedUser(t, "jean@example.com")
	if _, _, err := env.db.Enqueue(context.Background(), models.SyncQueueItem{EntityType: models.EntityUser, EntityID: u.ID}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	status, body := env.do(t, http.MethodPost, "/api/sync/queue/process?limit=5", "", nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}
	var rep syncer.QueueReport
	if err := json.Unmarshal(body, &rep); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if rep.Claimed != 1 || rep.Succeeded != 1 {
		t.Fatalf("unexpected report: %+v", rep)
	}
}

func TestHistoryAndStatus(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})
	env.seedUser(t, "jean@example.com")
	if status, _ := env.do(t, http.MethodPost, "/api/sync/push", "", nil); status != http.StatusOK {
		t.Fatalf("push: expected 200, got %d", status)
	}

	status, body := env.do(t, http.MethodGet, "/api/sync/history?entity_type=users&status=success&limit=10", "", nil)
	if status != http.StatusOK {
		t.Fatalf("history: expected 200, got %d: %s", status, body)
	}
	var history struct {
		Records []models.SyncHistoryRecord `json:"records"`
	}
	if err := json.Unmarshal(body, &history); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(history.Records) != 1 || history.Records[0].EntityType != models.EntityUser {
		t.Fatalf("expected one user history record, got %+v", history.Records)
	}

	status, body = env.do(t, http.MethodGet, "/api/sync/status", "", nil)
	if status != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", status)
	}
	var summary struct {
		Unsynced       map[models.EntityType]int `json:"unsynced"`
		SuccessLast24h int                       `json:"success_last_24h"`
		Running        bool                      `json:"running"`
	}
	if err := json.Unmarshal(body, &summary); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if summary.Unsynced[models.EntityUser] != 0 {
		t.Fatalf("expected no unsynced users, got %d", summary.Unsynced[models.EntityUser])
	}
	if summary.SuccessLast24h == 0 || summary.Running {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	if status, _ := env.do(t, http.MethodGet, "/api/sync/history?from=yesterday", "", nil); status != http.StatusBadRequest {
		t.Fatalf("bad from: expected 400, got %d", status)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})
	status, body := env.do(t, http.MethodGet, "/health", "", nil)
	if status != http.StatusOK || !strings.Contains(string(body), `"database":"ok"`) {
		t.Fatalf("expected healthy, got %d %s", status, body)
	}

	env.checks = append(env.checks, HealthCheck{Name: "redis", Check: func(context.Context) error {
		return errors.New("connection refused")
	}})
	srv := NewHTTPServer(config.APIConfig{}, env.db, env.svc, nil, env.checks, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if rec.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected a request id header")
	}
}

// Helpers

type testEnv struct {
	db     *database.DB
	mem    *remote.MemoryGateway
	svc    SyncService
	waker  *countingWaker
	checks []HealthCheck
	ts     *httptest.Server
}

func newTestEnv(t *testing.T, cfg config.APIConfig) *testEnv {
	return newTestEnvWith(t, cfg, nil)
}

func newTestEnvWith(t *testing.T, cfg config.APIConfig, wrap func(SyncService) SyncService) *testEnv {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(filepath.Join(t.TempDir(), "api.db"), &logger)
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mem := remote.NewMemoryGateway()
	var svc SyncService = syncer.New(db, mem, syncer.Options{}, &logger)
	if wrap != nil {
		svc = wrap(svc)
	}

	env := &testEnv{
		db:    db,
		mem:   mem,
		svc:   svc,
		waker: &countingWaker{},
		checks: []HealthCheck{{Name: "database", Check: func(ctx context.Context) error {
			return db.PingContext(ctx)
		}}},
	}
	srv := NewHTTPServer(cfg, db, svc, env.waker, env.checks, &logger)
	env.ts = httptest.NewServer(srv.Handler())
	t.Cleanup(env.ts.Close)
	return env
}

func (e *testEnv) seedUser(t *testing.T, email string) *models.User {
	t.Helper()
	u := &models.User{Email: email, Name: "Test", PasswordHash: "x"}
	if err := e.db.InsertUser(context.Background(), u); err != nil {
		t.Fatalf("insert user: %v", err)
	}
	return u
}

func (e *testEnv) do(t *testing.T, method, path, body string, headers map[string]string) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, data
}

type itemResponse struct {
	Item   models.SyncQueueItem `json:"item"`
	Merged bool                 `json:"merged"`
}

func decodeItem(t *testing.T, body []byte) itemResponse {
	t.Helper()
	var out itemResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode item: %v (%s)", err, body)
	}
	return out
}

type countingWaker struct {
	calls atomic.Int32
}

func (w *countingWaker) Wake() {
	w.calls.Add(1)
}

type stubService struct {
	err error
}

func (s *stubService) Run(ctx context.Context, opts syncer.CycleOptions) (*syncer.Result, error) {
	return nil, s.err
}

func (s *stubService) ProcessQueue(ctx context.Context, limit int) (syncer.QueueReport, error) {
	return syncer.QueueReport{}, s.err
}

func (s *stubService) Running() bool {
	return true
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
