// Package redisstore is a remote document store kept in Redis hashes.
//
// Each collection is one hash (<prefix>:<collection>) mapping document keys
// to JSON bodies, plus a sorted set (<prefix>:<collection>:updated) scoring
// keys by their last write time for the change feed.
package redisstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"time"

	"signalsync/internal/remote"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const DefaultPrefix = "docs"

type Store struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func New(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix, now: time.Now}
}

func (s *Store) hashKey(collection string) string {
	return fmt.Sprintf("%s:%s", s.prefix, collection)
}

func (s *Store) updatedKey(collection string) string {
	return fmt.Sprintf("%s:%s:updated", s.prefix, collection)
}

func (s *Store) Upsert(ctx context.Context, collection, key string, fields remote.Fields) (string, error) {
	if s.client == nil {
		return "", fmt.Errorf("redis client is nil: %w", remote.ErrUnavailable)
	}
	if key == "" {
		key = uuid.NewString()
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encode document %s/%s: %w: %v", collection, key, remote.ErrRejected, err)
	}

	score := float64(s.now().UnixMilli())
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.hashKey(collection), key, data)
		pipe.ZAdd(ctx, s.updatedKey(collection), redis.Z{Score: score, Member: key})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("upsert %s/%s: %w", collection, key, classify(err))
	}
	return key, nil
}

func (s *Store) FetchAll(ctx context.Context, collection string) ([]remote.Document, error) {
	if s.client == nil {
		return nil, fmt.Errorf("redis client is nil: %w", remote.ErrUnavailable)
	}
	raw, err := s.client.HGetAll(ctx, s.hashKey(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", collection, classify(err))
	}

	docs := make([]remote.Document, 0, len(raw))
	for key, body := range raw {
		fields, err := decode(body)
		if err != nil {
			return nil, fmt.Errorf("decode document %s/%s: %w", collection, key, err)
		}
		docs = append(docs, remote.Document{Key: key, Fields: fields})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Key < docs[j].Key })
	return docs, nil
}

// FetchSince returns documents written strictly after since.
func (s *Store) FetchSince(ctx context.Context, collection string, since time.Time) ([]remote.Document, error) {
	if s.client == nil {
		return nil, fmt.Errorf("redis client is nil: %w", remote.ErrUnavailable)
	}
	keys, err := s.client.ZRangeByScore(ctx, s.updatedKey(collection), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(since.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch %s since %s: %w", collection, since.Format(time.RFC3339), classify(err))
	}
	if len(keys) == 0 {
		return nil, nil
	}

	bodies, err := s.client.HMGet(ctx, s.hashKey(collection), keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch %s bodies: %w", collection, classify(err))
	}

	docs := make([]remote.Document, 0, len(keys))
	for i, v := range bodies {
		body, ok := v.(string)
		if !ok {
			// deleted between the two reads
			continue
		}
		fields, err := decode(body)
		if err != nil {
			return nil, fmt.Errorf("decode document %s/%s: %w", collection, keys[i], err)
		}
		docs = append(docs, remote.Document{Key: keys[i], Fields: fields})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Key < docs[j].Key })
	return docs, nil
}

func (s *Store) Delete(ctx context.Context, collection, key string) error {
	if s.client == nil {
		return fmt.Errorf("redis client is nil: %w", remote.ErrUnavailable)
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, s.hashKey(collection), key)
		pipe.ZRem(ctx, s.updatedKey(collection), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, key, classify(err))
	}
	return nil
}

func decode(body string) (remote.Fields, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	dec.UseNumber()
	var fields remote.Fields
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// classify maps client errors onto the remote error taxonomy.
func classify(err error) error {
	var netErr net.Error
	var redisErr redis.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", remote.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return err
	case errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: %v", remote.ErrTimeout, err)
	case errors.As(err, &redisErr):
		return fmt.Errorf("%w: %v", remote.ErrRejected, err)
	default:
		return fmt.Errorf("%w: %v", remote.ErrUnavailable, err)
	}
}
