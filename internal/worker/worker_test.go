package worker

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"signalsync/internal/database"
	"signalsync/internal/events"
	"signalsync/internal/models"
	"signalsync/internal/remote"
	"signalsync/internal/syncer"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func TestRetryPolicyNextDelay(t *testing.T) {
	policy := RetryPolicy{Step: 5 * time.Minute, MaxDelay: 12 * time.Minute}
	d1 := policy.NextDelay(1)
	d2 := policy.NextDelay(2)
	d3 := policy.NextDelay(3)

	if d1 != 5*time.Minute {
		t.Fatalf("retry1 expected 5m, got %s", d1)
	}
	if d2 != 10*time.Minute {
		t.Fatalf("retry2 expected 10m, got %s", d2)
	}
	if d3 != 12*time.Minute {
		t.Fatalf("retry3 expected capped 12m, got %s", d3)
	}
	if got := (RetryPolicy{}).Backoff()(0); got != database.DefaultRetryStep {
		t.Fatalf("default step expected %s, got %s", database.DefaultRetryStep, got)
	}
}

func TestQueueWorkerRunOnce(t *testing.T) {
	db := newTestDB(t)
	gw := remote.NewMemoryGateway()
	orch := syncer.New(db, gw, syncer.Options{}, nil)
	worker := NewQueueWorker(db, orch, nil, QueueWorkerConfig{BatchSize: 2}, nil)

	ctx := context.Background()
	ids := make([]int64, 0, 3)
	for _, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		u := &models.User{Email: email, Name: "Test", PasswordHash: "x"}
		if err := db.InsertUser(ctx, u); err != nil {
			t.Fatalf("insert user: %v", err)
		}
		item, _, err := db.Enqueue(ctx, models.SyncQueueItem{EntityType: models.EntityUser, EntityID: u.ID})
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		ids = append(ids, item.ID)
	}

	rep := worker.RunOnce(ctx)
	if rep.Claimed != 3 || rep.Succeeded != 3 {
		t.Fatalf("expected 3 claimed and succeeded across batches, got %+v", rep)
	}
	for _, id := range ids {
		item, err := db.GetQueueItem(ctx, id)
		if err != nil {
			t.Fatalf("get item: %v", err)
		}
		if item.Status != models.StatusSuccess {
			t.Fatalf("expected item %d SUCCESS, got %s", id, item.Status)
		}
	}
	if gw.Len("users") != 3 {
		t.Fatalf("expected 3 remote users, got %d", gw.Len("users"))
	}
}

func TestQueueWorkerReclaimsStuck(t *testing.T) {
	store := &fakeReclaimer{}
	proc := &fakeProcessor{}
	worker := NewQueueWorker(store, proc, nil, QueueWorkerConfig{StuckTimeout: time.Minute}, nil)

	worker.RunOnce(context.Background())
	if store.calls != 1 || store.timeout != time.Minute {
		t.Fatalf("expected one reclaim with 1m timeout, got %d calls, %s", store.calls, store.timeout)
	}
	if proc.calls.Load() != 1 {
		t.Fatalf("expected one process call, got %d", proc.calls.Load())
	}
}

func TestQueueWorkerWake(t *testing.T) {
	proc := &fakeProcessor{}
	worker := NewQueueWorker(&fakeReclaimer{}, proc, nil, QueueWorkerConfig{PollInterval: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.Start(ctx)
		close(done)
	}()

	// The first pass runs at start; a wake triggers the second.
	waitFor(t, func() bool { return proc.calls.Load() == 1 })
	worker.Wake()
	worker.Wake()
	waitFor(t, func() bool { return proc.calls.Load() >= 2 })

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not stop")
	}
}

func TestDeadLetter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	worker := NewQueueWorker(&fakeReclaimer{}, &fakeProcessor{}, client, QueueWorkerConfig{}, nil)
	bus := events.NewEventBus()
	bus.Subscribe(events.EventItemFailed, worker.HandleItemFailed)

	payload := events.ItemFailedPayload{QueueID: 42, EntityType: "USER", EntityID: 7, Category: "transient", Error: "timeout"}
	if err := bus.PublishJSON(events.EventItemFailed, payload); err != nil {
		t.Fatalf("publish: %v", err)
	}

	letters, err := worker.DeadLetters(context.Background(), 10)
	if err != nil {
		t.Fatalf("dead letters: %v", err)
	}
	if len(letters) != 1 {
		t.Fatalf("expected 1 dead letter, got %d", len(letters))
	}
	var got events.ItemFailedPayload
	if err := json.Unmarshal([]byte(letters[0]), &got); err != nil {
		t.Fatalf("decode dead letter: %v", err)
	}
	if got.QueueID != 42 || got.Error != "timeout" {
		t.Fatalf("unexpected dead letter: %+v", got)
	}
}

func TestDeadLetterWithoutRedis(t *testing.T) {
	worker := NewQueueWorker(&fakeReclaimer{}, &fakeProcessor{}, nil, QueueWorkerConfig{}, nil)
	if err := worker.HandleItemFailed(&events.Event{Type: events.EventItemFailed, Payload: []byte(`{}`)}); err != nil {
		t.Fatalf("expected no error without redis, got %v", err)
	}
}

func TestSchedulerRunsCycles(t *testing.T) {
	runner := &fakeRunner{}
	s := NewScheduler(runner, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Start(ctx)

	waitFor(t, func() bool { return runner.count() >= 2 })
	cancel()

	if actor := runner.lastActor(); actor != SchedulerActor {
		t.Fatalf("expected actor %q, got %q", SchedulerActor, actor)
	}
}

func TestSchedulerDisabled(t *testing.T) {
	runner := &fakeRunner{}
	s := NewScheduler(runner, 0, nil)

	done := make(chan struct{})
	go func() {
		s.Start(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("disabled scheduler should return immediately")
	}
	if runner.count() != 0 {
		t.Fatalf("expected no cycles, got %d", runner.count())
	}
}

// Helpers

type fakeReclaimer struct {
	calls   int
	timeout time.Duration
}

func (f *fakeReclaimer) ReclaimStuck(ctx context.Context, timeout time.Duration, now time.Time) (int64, error) {
	f.calls++
	f.timeout = timeout
	return 0, nil
}

type fakeProcessor struct {
	calls atomic.Int32
}

func (f *fakeProcessor) ProcessQueue(ctx context.Context, limit int) (syncer.QueueReport, error) {
	f.calls.Add(1)
	return syncer.QueueReport{}, nil
}

type fakeRunner struct {
	mu     sync.Mutex
	calls  int
	actors []string
}

func (f *fakeRunner) SyncAll(ctx context.Context, actor string) (*syncer.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.actors = append(f.actors, actor)
	return &syncer.Result{Success: true}, nil
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeRunner) lastActor() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.actors) == 0 {
		return ""
	}
	return f.actors[len(f.actors)-1]
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.db")
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	db, err := database.NewDB(path, &logger)
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
