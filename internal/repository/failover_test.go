package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockCursors struct {
	mock.Mock
}

func (m *mockCursors) Get(ctx context.Context, collection string) (time.Time, bool, error) {
	args := m.Called(ctx, collection)
	return args.Get(0).(time.Time), args.Bool(1), args.Error(2)
}

func (m *mockCursors) Set(ctx context.Context, collection string, at time.Time) error {
	args := m.Called(ctx, collection, at)
	return args.Error(0)
}

func TestFailoverCursorStore(t *testing.T) {
	primary := new(mockCursors)
	fallback := NewMemoryCursorStore()
	logger := zerolog.New(io.Discard)
	repo := NewFailoverCursorStore(primary, fallback, &logger)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }
	ctx := context.Background()
	at := now.Add(-time.Hour)

	t.Run("PrimarySuccess", func(t *testing.T) {
		primary.On("Get", ctx, "users").Return(at, true, nil).Once()

		got, ok, err := repo.Get(ctx, "users")
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, at, got)
		assert.False(t, repo.Down())
		primary.AssertExpectations(t)
	})

	t.Run("SetMirrorsToFallback", func(t *testing.T) {
		primary.On("Set", ctx, "status", at).Return(nil).Once()

		require.NoError(t, repo.Set(ctx, "status", at))
		got, ok, _ := fallback.Get(ctx, "status")
		assert.True(t, ok)
		assert.True(t, at.Equal(got))
		primary.AssertExpectations(t)
	})

	t.Run("PrimaryFailFallbackServes", func(t *testing.T) {
		primary.On("Get", ctx, "status").Return(time.Time{}, false, errors.New("fail")).Once()

		got, ok, err := repo.Get(ctx, "status")
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.True(t, at.Equal(got))
		assert.True(t, repo.Down())
		primary.AssertExpectations(t)
	})

	t.Run("AlreadyDownSkipsPrimary", func(t *testing.T) {
		now = now.Add(30 * time.Second)
		require.NoError(t, repo.Set(ctx, "entreprises", at))

		_, ok, err := repo.Get(ctx, "entreprises")
		assert.NoError(t, err)
		assert.True(t, ok)
		primary.AssertExpectations(t)
	})

	t.Run("RecoveryAttemptFail", func(t *testing.T) {
		now = now.Add(2 * time.Minute)
		primary.On("Get", ctx, "users").Return(time.Time{}, false, errors.New("still fail")).Once()

		_, ok, err := repo.Get(ctx, "users")
		assert.NoError(t, err)
		assert.False(t, ok)
		assert.True(t, repo.Down())
		primary.AssertExpectations(t)
	})

	t.Run("RecoveryAttempt", func(t *testing.T) {
		now = now.Add(2 * time.Minute)
		primary.On("Get", ctx, "users").Return(at, true, nil).Once()

		got, ok, err := repo.Get(ctx, "users")
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, at, got)
		assert.False(t, repo.Down())
		primary.AssertExpectations(t)
	})

	t.Run("SetFailoverKeepsFallback", func(t *testing.T) {
		primary.On("Set", ctx, "signalements", at).Return(errors.New("fail")).Once()

		assert.NoError(t, repo.Set(ctx, "signalements", at))
		assert.True(t, repo.Down())
		_, ok, _ := fallback.Get(ctx, "signalements")
		assert.True(t, ok)
		primary.AssertExpectations(t)
	})
}
