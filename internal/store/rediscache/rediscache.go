// Package rediscache is the fast store: dedup fingerprints, per-chat
// cooldown timers, the global and per-chat token buckets, circuit-breaker
// state, the paywall nudge cooldown, and a read-through alias cache. None
// of it needs to survive a restart; a dedup miss after a crash just means
// a handful of messages get redelivered instead of dropped, which matches
// the at-least-once-with-best-effort-dedup property in the spec.
//
// Redis is primary when configured; with no address set, the engine runs
// on MemoryCache, which implements the same interface for single-process
// deployments and tests.
package rediscache

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relaybot/engine/internal/config"
)

// Cache is the fast-store interface the dedup, album, ratelimit, and
// paywall components depend on. Both Redis and the in-memory fallback
// implement it identically.
type Cache interface {
	// SetNX sets key to value with ttl iff key is absent, reporting whether
	// the set happened. Used for dedup fingerprints and for the album
	// buffer's "first part wins" rendezvous.
	SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// ZAdd adds member to the sorted set at key with the given score,
	// (re)setting the key's ttl. Used for the global rate limiter's
	// sliding window of emitted-send timestamps.
	ZAdd(ctx context.Context, key string, score float64, member string, ttl time.Duration) error
	// ZRemRangeByScore removes members of the sorted set at key scored
	// within [min, max], inclusive.
	ZRemRangeByScore(ctx context.Context, key string, min, max float64) error
	// ZCard returns the number of members in the sorted set at key.
	ZCard(ctx context.Context, key string) (int64, error)
	Close() error
	// Ping reports whether the fast store is reachable, for health checks.
	// MemoryCache is always reachable.
	Ping(ctx context.Context) error
}

// New builds a Cache from cfg: Redis when Addr is set, otherwise the
// in-memory fallback.
func New(cfg config.CacheConfig) (Cache, error) {
	if cfg.Addr == "" {
		return NewMemoryCache(), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisCache{client: client}, nil
}

// RedisCache is the primary implementation.
type RedisCache struct {
	client *redis.Client
}

func (r *RedisCache) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("rediscache: setnx: %w", err)
	}
	return ok, nil
}

func (r *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("rediscache: get: %w", err)
	}
	return val, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("rediscache: set: %w", err)
	}
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("rediscache: delete: %w", err)
	}
	return nil
}

func (r *RedisCache) ZAdd(ctx context.Context, key string, score float64, member string, ttl time.Duration) error {
	pipe := r.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: member})
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rediscache: zadd: %w", err)
	}
	return nil
}

func (r *RedisCache) ZRemRangeByScore(ctx context.Context, key string, min, max float64) error {
	if err := r.client.ZRemRangeByScore(ctx, key, formatScore(min), formatScore(max)).Err(); err != nil {
		return fmt.Errorf("rediscache: zremrangebyscore: %w", err)
	}
	return nil
}

func (r *RedisCache) ZCard(ctx context.Context, key string) (int64, error) {
	n, err := r.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("rediscache: zcard: %w", err)
	}
	return n, nil
}

func formatScore(f float64) string {
	if f == -math.MaxFloat64 {
		return "-inf"
	}
	if f == math.MaxFloat64 {
		return "+inf"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func (r *RedisCache) Close() error { return r.client.Close() }

func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// MemoryCache is the in-process fallback. Safe for concurrent use.
type MemoryCache struct {
	mu    sync.Mutex
	store map[string]memEntry
	zsets map[string]map[string]float64
}

type memEntry struct {
	value      string
	expiration time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		store: make(map[string]memEntry),
		zsets: make(map[string]map[string]float64),
	}
}

func (m *MemoryCache) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.store[key]; ok && time.Now().Before(e.expiration) {
		return false, nil
	}
	m.store[key] = memEntry{value: value, expiration: time.Now().Add(ttl)}
	return true, nil
}

func (m *MemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.store[key]
	if !ok {
		return "", false, nil
	}
	if time.Now().After(e.expiration) {
		delete(m.store, key)
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *MemoryCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[key] = memEntry{value: value, expiration: time.Now().Add(ttl)}
	return nil
}

func (m *MemoryCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.store, key)
	return nil
}

func (m *MemoryCache) ZAdd(_ context.Context, key string, score float64, member string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	z, ok := m.zsets[key]
	if !ok {
		z = make(map[string]float64)
		m.zsets[key] = z
	}
	z[member] = score
	return nil
}

func (m *MemoryCache) ZRemRangeByScore(_ context.Context, key string, min, max float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	z, ok := m.zsets[key]
	if !ok {
		return nil
	}
	for member, score := range z {
		if score >= min && score <= max {
			delete(z, member)
		}
	}
	return nil
}

func (m *MemoryCache) ZCard(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.zsets[key])), nil
}

func (m *MemoryCache) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store = make(map[string]memEntry)
	m.zsets = make(map[string]map[string]float64)
	return nil
}

func (m *MemoryCache) Ping(_ context.Context) error { return nil }
