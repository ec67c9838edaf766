package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"signalsync/internal/config"

	"github.com/redis/go-redis/v9"
)

const DefaultCursorKey = "sync:cursors"

// RedisCursorStore keeps pull cursors in one Redis hash, field per collection.
type RedisCursorStore struct {
	client *redis.Client
	key    string
}

// NewRedisClient builds a Redis client from configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

func NewRedisCursorStore(client *redis.Client, key string) *RedisCursorStore {
	if key == "" {
		key = DefaultCursorKey
	}
	return &RedisCursorStore{
		client: client,
		key:    key,
	}
}

func (r *RedisCursorStore) Get(ctx context.Context, collection string) (time.Time, bool, error) {
	if r.client == nil {
		return time.Time{}, false, errors.New("redis client is nil")
	}
	val, err := r.client.HGet(ctx, r.key, collection).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to get cursor from redis: %w", err)
	}

	at, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to parse cursor %q: %w", val, err)
	}
	return at.UTC(), true, nil
}

func (r *RedisCursorStore) Set(ctx context.Context, collection string, at time.Time) error {
	if r.client == nil {
		return errors.New("redis client is nil")
	}
	if err := r.client.HSet(ctx, r.key, collection, at.UTC().Format(time.RFC3339Nano)).Err(); err != nil {
		return fmt.Errorf("failed to set cursor in redis: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
