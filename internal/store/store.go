// Package store is the coordination store adapter (spec.md §4.4): a thin
// typed facade over a shared Redis-compatible key/value store, used by the
// first_available/first_available_optim strategies and the keep-alive
// monitor. Nothing outside this package talks to go-redis directly.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/modelgateway/llmrouter/internal/metrics"
	"github.com/modelgateway/llmrouter/routererr"
)

// Config holds the store's connection knobs. The gateway sets Addr,
// Password and DB from LLM_ROUTER_REDIS_ADDR, LLM_ROUTER_REDIS_PASSWORD and
// LLM_ROUTER_REDIS_DB. No YAML: the whole config surface is env vars.
type Config struct {
	Addr         string
	Password     string
	DB           int
	MaxRetries   int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
}

// DefaultConfig returns sane defaults for local development.
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		DB:           0,
		MaxRetries:   3,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
	}
}

// Store is the coordination store facade described in spec.md §4.4.
type Store struct {
	client  *redis.Client
	logger  *zap.Logger
	metrics *metrics.Collector
}

// SetMetrics wires m as the destination for this store's error metrics.
func (s *Store) SetMetrics(m *metrics.Collector) {
	s.metrics = m
}

// New dials the configured Redis-compatible server and verifies
// connectivity once at startup.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, routererr.New(routererr.StoreUnavailable, "could not reach coordination store").WithCause(err)
	}

	return &Store{client: client, logger: logger.With(zap.String("component", "store"))}, nil
}

// NewWithClient wraps an already-constructed go-redis client, letting tests
// point the adapter at a miniredis instance without going through New.
func NewWithClient(client *redis.Client, logger *zap.Logger) *Store {
	return &Store{client: client, logger: logger.With(zap.String("component", "store"))}
}

// ErrNotFound is returned by Get-like calls when the key is absent.
var ErrNotFound = errors.New("store: key not found")

// wrapErr translates a go-redis error into the store's own error vocabulary
// and, for anything other than a plain cache miss, reports it to metrics.
func (s *Store) wrapErr(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if s.metrics != nil {
		s.metrics.RecordStoreError(op)
	}
	return routererr.New(routererr.StoreUnavailable, fmt.Sprintf("store: %s failed", op)).WithCause(err)
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping checks connectivity to the store.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return s.wrapErr(err, "ping")
	}
	return nil
}

// SetNX atomically sets key to value with the given ttl iff key does not
// already exist, reporting whether the lock was acquired.
func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, s.wrapErr(err, "setnx")
	}
	return ok, nil
}

// Get returns the value at key, or ErrNotFound if absent.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err != nil {
		return "", s.wrapErr(err, "get")
	}
	return val, nil
}

// Del deletes one or more keys.
func (s *Store) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return s.wrapErr(err, "del")
	}
	return nil
}

// Expire sets a new TTL on an existing key.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return s.wrapErr(err, "expire")
	}
	return nil
}

// HSet sets one or more hash fields.
func (s *Store) HSet(ctx context.Context, key string, values map[string]any) error {
	if len(values) == 0 {
		return nil
	}
	if err := s.client.HSet(ctx, key, values).Err(); err != nil {
		return s.wrapErr(err, "hset")
	}
	return nil
}

// HGet returns a single hash field, or ErrNotFound if absent.
func (s *Store) HGet(ctx context.Context, key, field string) (string, error) {
	val, err := s.client.HGet(ctx, key, field).Result()
	if err != nil {
		return "", s.wrapErr(err, "hget")
	}
	return val, nil
}

// HDel deletes one or more hash fields.
func (s *Store) HDel(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	if err := s.client.HDel(ctx, key, fields...).Err(); err != nil {
		return s.wrapErr(err, "hdel")
	}
	return nil
}

// HGetAll returns every field/value pair in a hash.
func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	values, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, s.wrapErr(err, "hgetall")
	}
	return values, nil
}

// HIncrBy atomically increments a hash field and returns its new value.
func (s *Store) HIncrBy(ctx context.Context, key, field string, incr int64) (int64, error) {
	n, err := s.client.HIncrBy(ctx, key, field, incr).Result()
	if err != nil {
		return 0, s.wrapErr(err, "hincrby")
	}
	return n, nil
}

// SAdd adds members to a set.
func (s *Store) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	anyMembers := make([]any, len(members))
	for i, m := range members {
		anyMembers[i] = m
	}
	if err := s.client.SAdd(ctx, key, anyMembers...).Err(); err != nil {
		return s.wrapErr(err, "sadd")
	}
	return nil
}

// SRem removes members from a set.
func (s *Store) SRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	anyMembers := make([]any, len(members))
	for i, m := range members {
		anyMembers[i] = m
	}
	if err := s.client.SRem(ctx, key, anyMembers...).Err(); err != nil {
		return s.wrapErr(err, "srem")
	}
	return nil
}

// SMembers returns every member of a set.
func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, s.wrapErr(err, "smembers")
	}
	return members, nil
}

// SIsMember reports whether member belongs to the set at key.
func (s *Store) SIsMember(ctx context.Context, key, member string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, key, member).Result()
	if err != nil {
		return false, s.wrapErr(err, "sismember")
	}
	return ok, nil
}

// ZAdd sets member's score in a sorted set, used for keep-alive due-time
// scheduling (spec.md §4.7).
func (s *Store) ZAdd(ctx context.Context, key string, score float64, member string) error {
	if err := s.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err(); err != nil {
		return s.wrapErr(err, "zadd")
	}
	return nil
}

// ZRangeByScore returns members whose score falls in [min, max].
func (s *Store) ZRangeByScore(ctx context.Context, key, min, max string) ([]string, error) {
	members, err := s.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: min, Max: max}).Result()
	if err != nil {
		return nil, s.wrapErr(err, "zrangebyscore")
	}
	return members, nil
}

// ZRem removes members from a sorted set.
func (s *Store) ZRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	anyMembers := make([]any, len(members))
	for i, m := range members {
		anyMembers[i] = m
	}
	if err := s.client.ZRem(ctx, key, anyMembers...).Err(); err != nil {
		return s.wrapErr(err, "zrem")
	}
	return nil
}
