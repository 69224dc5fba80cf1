package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"TrendGate/internal/model"
	pkglog "TrendGate/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "trendgate:session:"

// RedisSessionStore keeps the record under one Redis string key.
type RedisSessionStore struct {
	rdb   *redis.Client
	key   string
	ttl   time.Duration
	codec sessionCodec
	log   *pkglog.LogHelper
}

// NewRedisSessionStore creates a Redis-backed store. ttl <= 0 keeps the
// record until it is deleted.
func NewRedisSessionStore(rdb *redis.Client, key string, ttl time.Duration, codec sessionCodec, logger log.Logger) *RedisSessionStore {
	if key == "" {
		key = "default"
	}
	return &RedisSessionStore{
		rdb:   rdb,
		key:   sessionKeyPrefix + key,
		ttl:   ttl,
		codec: codec,
		log:   pkglog.NewLogHelper(logger),
	}
}

// Load reads the record.
func (s *RedisSessionStore) Load(ctx context.Context) (*model.SessionRecord, error) {
	payload, err := s.rdb.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, model.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", s.key, err)
	}
	rec, err := s.codec.decode(payload)
	if err != nil {
		return nil, err
	}
	s.log.Storage("Session loaded", "key", s.key, "cookies", len(rec.Cookies))
	return rec, nil
}

// Save overwrites the record and refreshes its TTL.
func (s *RedisSessionStore) Save(ctx context.Context, rec *model.SessionRecord) error {
	payload, err := s.codec.encode(rec)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.key, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key, err)
	}
	s.log.Storage("Session saved", "key", s.key, "cookies", len(rec.Cookies))
	return nil
}

// Delete removes the record.
func (s *RedisSessionStore) Delete(ctx context.Context) error {
	if err := s.rdb.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", s.key, err)
	}
	return nil
}
