package syncer

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"signalsync/internal/database"
	"signalsync/internal/models"
	"signalsync/internal/remote"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

// newClock starts ahead of wall time so rows stamped by the store are already due.
func newClock() *testClock {
	return &testClock{t: time.Now().UTC().Add(time.Hour).Truncate(time.Second)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// faultyGateway fails upserts for selected keys, or for every key.
type faultyGateway struct {
	remote.Gateway

	mu      sync.Mutex
	failKey map[string]error
	failAll error
	calls   int
}

func newFaultyGateway(next remote.Gateway) *faultyGateway {
	return &faultyGateway{Gateway: next, failKey: map[string]error{}}
}

func (g *faultyGateway) failOn(key string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failKey[key] = err
}

func (g *faultyGateway) failEverything(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failAll = err
}

func (g *faultyGateway) Upsert(ctx context.Context, collection, key string, fields remote.Fields) (string, error) {
	g.mu.Lock()
	g.calls++
	err := g.failKey[key]
	if g.failAll != nil {
		err = g.failAll
	}
	g.mu.Unlock()
	if err != nil {
		return "", err
	}
	return g.Gateway.Upsert(ctx, collection, key, fields)
}

type fixture struct {
	db    *database.DB
	mem   *remote.MemoryGateway
	clock *testClock
	orch  *Orchestrator
}

func newFixture(t *testing.T, wrap func(remote.Gateway) remote.Gateway, opts Options) *fixture {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "sync.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mem := remote.NewMemoryGateway()
	var gw remote.Gateway = mem
	if wrap != nil {
		gw = wrap(mem)
	}
	clock := newClock()
	opts.Now = clock.Now
	return &fixture{db: db, mem: mem, clock: clock, orch: New(db, gw, opts, &logger)}
}

func (f *fixture) seedUser(t *testing.T, email string) *models.User {
	t.Helper()
	u := &models.User{Email: email, Name: "Jean Test", PasswordHash: "x"}
	require.NoError(t, f.db.InsertUser(context.Background(), u))
	return u
}

func (f *fixture) seedSignalement(t *testing.T, userID int64) *models.Signalement {
	t.Helper()
	ctx := context.Background()
	status, err := f.db.GetStatusByCode(ctx, "NOUVEAU")
	require.NoError(t, err)
	s := &models.Signalement{
		UserID:      userID,
		StatusID:    status.ID,
		Latitude:    decimal.RequireFromString("48.85661234"),
		Longitude:   decimal.RequireFromString("2.35222190"),
		Budget:      decimal.RequireFromString("1500.50"),
		Surface:     decimal.RequireFromString("12.25"),
		Description: "Nid de poule",
	}
	require.NoError(t, f.db.InsertSignalement(ctx, s))
	return s
}

func (f *fixture) enqueue(t *testing.T, item models.SyncQueueItem) *models.SyncQueueItem {
	t.Helper()
	got, _, err := f.db.Enqueue(context.Background(), item)
	require.NoError(t, err)
	return got
}

func queueFilter(t models.EntityType, id int64) database.QueueFilter {
	return database.QueueFilter{EntityType: t, EntityID: id}
}

func historyFailures() database.HistoryFilter {
	return database.HistoryFilter{Status: models.StatusFailed}
}
