package remote

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type slowGateway struct {
	*MemoryGateway
	delay time.Duration
}

func (s *slowGateway) Upsert(ctx context.Context, collection, key string, fields Fields) (string, error) {
	select {
	case <-time.After(s.delay):
		return s.MemoryGateway.Upsert(ctx, collection, key, fields)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type plainGateway struct {
	Gateway
}

func TestMemoryGatewayUpsertIsIdempotent(t *testing.T) {
	gw := NewMemoryGateway()
	ctx := context.Background()

	k1, err := gw.Upsert(ctx, "users", "user-1", Fields{"name": "Rakoto"})
	require.NoError(t, err)
	k2, err := gw.Upsert(ctx, "users", "user-1", Fields{"name": "Rakoto"})
	require.NoError(t, err)

	assert.Equal(t, k1, k2)
	assert.Equal(t, 1, gw.Len("users"))

	allocated, err := gw.Upsert(ctx, "users", "", Fields{"name": "Rabe"})
	require.NoError(t, err)
	assert.NotEmpty(t, allocated)
	assert.Equal(t, 2, gw.Len("users"))

	require.NoError(t, gw.Delete(ctx, "users", allocated))
	require.NoError(t, gw.Delete(ctx, "users", allocated))
	assert.Equal(t, 1, gw.Len("users"))
}

func TestMemoryGatewayFetchSince(t *testing.T) {
	gw := NewMemoryGateway()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	current := base
	gw.now = func() time.Time { return current }
	ctx := context.Background()

	_, _ = gw.Upsert(ctx, "entreprises", "1", Fields{"nom": "A"})
	current = base.Add(time.Hour)
	_, _ = gw.Upsert(ctx, "entreprises", "2", Fields{"nom": "B"})

	docs, err := gw.FetchSince(ctx, "entreprises", base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "2", docs[0].Key)

	all, err := gw.FetchAll(ctx, "entreprises")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestWithTimeout(t *testing.T) {
	slow := &slowGateway{MemoryGateway: NewMemoryGateway(), delay: time.Second}
	gw := WithTimeout(slow, 20*time.Millisecond)

	_, err := gw.Upsert(context.Background(), "users", "user-1", Fields{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.True(t, errors.Is(err, ErrTransient))
	assert.Equal(t, "timeout", Outcome(err))

	fast := WithTimeout(NewMemoryGateway(), time.Second)
	key, err := fast.Upsert(context.Background(), "users", "user-2", Fields{})
	require.NoError(t, err)
	assert.Equal(t, "user-2", key)
}

func TestWithTimeoutKeepsParentCancellation(t *testing.T) {
	slow := &slowGateway{MemoryGateway: NewMemoryGateway(), delay: time.Second}
	gw := WithTimeout(slow, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := gw.Upsert(ctx, "users", "user-1", Fields{})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrTimeout))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestAsChangeFeed(t *testing.T) {
	_, ok := AsChangeFeed(WithTimeout(NewMemoryGateway(), time.Second))
	assert.True(t, ok)

	_, ok = AsChangeFeed(Instrument(WithTimeout(NewMemoryGateway(), time.Second)))
	assert.True(t, ok)

	_, ok = AsChangeFeed(Instrument(plainGateway{Gateway: NewMemoryGateway()}))
	assert.False(t, ok)
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "ok", Outcome(nil))
	assert.Equal(t, "unavailable", Outcome(fmt.Errorf("dial: %w", ErrUnavailable)))
	assert.Equal(t, "conflict", Outcome(ErrConflict))
	assert.Equal(t, "rejected", Outcome(ErrRejected))
	assert.Equal(t, "error", Outcome(errors.New("boom")))
}
