package ttlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/quivermind/mnemo/internal/fault"
)

// Redis implements Store on a Redis server. Server-side expiry is the lazy
// correctness mechanism: an expired key is gone from every read the moment
// its deadline passes, sweep or no sweep.
type Redis struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewRedis parses the URL, pings the server and returns a ready store.
func NewRedis(redisURL string, logger *zap.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	logger.Info("redis connected")
	return &Redis{rdb: rdb, logger: logger}, nil
}

// Ping checks connection health.
func (s *Redis) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Redis) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("ttlstore put %s: %w", key, err)
	}
	return nil
}

func (s *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fault.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ttlstore get %s: %w", key, err)
	}
	return val, nil
}

func (s *Redis) GetSlide(ctx context.Context, key string, ttl time.Duration) ([]byte, error) {
	val, err := s.rdb.GetEx(ctx, key, ttl).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fault.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ttlstore getslide %s: %w", key, err)
	}
	return val, nil
}

// GetDelete relies on GETDEL being a single atomic command, which is what
// makes racing consumers see the value exactly once.
func (s *Redis) GetDelete(ctx context.Context, key string) ([]byte, error) {
	val, err := s.rdb.GetDel(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fault.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ttlstore getdelete %s: %w", key, err)
	}
	return val, nil
}

func (s *Redis) Touch(ctx context.Context, key string, ttl time.Duration) error {
	ok, err := s.rdb.Expire(ctx, key, ttl).Result()
	if err != nil {
		return fmt.Errorf("ttlstore touch %s: %w", key, err)
	}
	if !ok {
		return fault.ErrNotFound
	}
	return nil
}

func (s *Redis) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("ttlstore delete %s: %w", key, err)
	}
	return nil
}

func (s *Redis) DeletePrefix(ctx context.Context, prefix string) error {
	keys, err := s.Keys(ctx, prefix)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("ttlstore delete prefix %s: %w", prefix, err)
	}
	return nil
}

func (s *Redis) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.rdb.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("ttlstore scan %s: %w", prefix, err)
	}
	return keys, nil
}

// Close shuts down the Redis connection.
func (s *Redis) Close() error {
	return s.rdb.Close()
}
