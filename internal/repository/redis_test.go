package repository

import (
	"context"
	"testing"
	"time"

	"signalsync/internal/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisCursorStore(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := NewRedisClient(config.RedisConfig{Address: s.Addr()})
	defer client.Close()

	repo := NewRedisCursorStore(client, "")
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		at := time.Date(2026, 3, 1, 12, 30, 0, 123456789, time.UTC)
		require.NoError(t, repo.Set(ctx, "signalements", at))

		got, ok, err := repo.Get(ctx, "signalements")
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, at.Equal(got))
		assert.Equal(t, at.Format(time.RFC3339Nano), s.HGet(DefaultCursorKey, "signalements"))
	})

	t.Run("Missing", func(t *testing.T) {
		_, ok, err := repo.Get(ctx, "users")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Corrupt", func(t *testing.T) {
		s.HSet(DefaultCursorKey, "entreprises", "yesterday")
		_, _, err := repo.Get(ctx, "entreprises")
		assert.Error(t, err)
	})

	t.Run("NilClient", func(t *testing.T) {
		repo := NewRedisCursorStore(nil, "")
		_, _, err := repo.Get(ctx, "users")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "redis client is nil")
	})

	t.Run("ServerDown", func(t *testing.T) {
		down := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
		defer down.Close()
		err := NewRedisCursorStore(down, "k").Set(ctx, "users", time.Now())
		assert.Error(t, err)
	})

	t.Run("Ping", func(t *testing.T) {
		err := Ping(ctx, client)
		assert.NoError(t, err)
	})

	t.Run("Close", func(t *testing.T) {
		err := Close(client)
		assert.NoError(t, err)
	})
}
