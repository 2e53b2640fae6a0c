// Package redis implements fleet.MetricsStore on top of go-redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// setIfEqualAttempts bounds optimistic-lock retries when the guard key is contended.
const setIfEqualAttempts = 3

// Options locates the Redis server.
type Options struct {
	Addr     string
	Password string
	DB       int
	// ConnectTimeout bounds how long Connect keeps retrying the initial ping.
	ConnectTimeout time.Duration
}

// Store is a fleet.MetricsStore backed by a single Redis client.
type Store struct {
	client *goredis.Client
}

// Connect dials Redis and retries the first ping with exponential backoff,
// since worker containers usually start before the server is reachable.
func Connect(ctx context.Context, opts Options, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 250 * time.Millisecond
	if opts.ConnectTimeout > 0 {
		expBackoff.MaxElapsedTime = opts.ConnectTimeout
	}
	operation := func() error {
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis not reachable yet", zap.String("addr", opts.Addr), zap.Error(err))
			return err
		}
		return nil
	}
	if err := backoff.Retry(operation, backoff.WithContext(expBackoff, ctx)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", opts.Addr, err)
	}
	return &Store{client: client}, nil
}

// NewWithClient wraps an existing client (primarily for testing).
func NewWithClient(client *goredis.Client) *Store {
	return &Store{client: client}
}

// Client exposes the underlying client so the job queue can share the connection pool.
func (s *Store) Client() *goredis.Client {
	return s.client
}

// Get returns the value for key; a missing key reports ok=false.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, true, nil
}

// Set stores value under key without expiry.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// SetNX stores value only if key is absent.
func (s *Store) SetNX(ctx context.Context, key, value string) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, 0).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	return ok, nil
}

// Incr atomically increments the integer at key.
func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr %s: %w", key, err)
	}
	return n, nil
}

// MSet writes every pair in one MSET.
func (s *Store) MSet(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	if err := s.client.MSet(ctx, pairs(values)...).Err(); err != nil {
		return fmt.Errorf("redis mset: %w", err)
	}
	return nil
}

// SetIfEqual runs WATCH guardKey / GET / MULTI MSET EXEC, retrying when another
// client touches guardKey between the read and the commit.
func (s *Store) SetIfEqual(ctx context.Context, guardKey, want string, values map[string]string) (bool, error) {
	applied := false
	txf := func(tx *goredis.Tx) error {
		cur, err := tx.Get(ctx, guardKey).Result()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return err
		}
		if cur != want {
			applied = false
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.MSet(ctx, pairs(values)...)
			return nil
		})
		if err != nil {
			return err
		}
		applied = true
		return nil
	}

	for attempt := 0; attempt < setIfEqualAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, guardKey)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("redis compare-and-set %s: %w", guardKey, err)
		}
		return applied, nil
	}
	return false, fmt.Errorf("redis compare-and-set %s: %w", guardKey, goredis.TxFailedErr)
}

// Del removes keys.
func (s *Store) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}

func pairs(values map[string]string) []any {
	out := make([]any, 0, len(values)*2)
	for k, v := range values {
		out = append(out, k, v)
	}
	return out
}
