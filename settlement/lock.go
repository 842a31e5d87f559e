package settlement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Locker guards a settlement key for the duration of one settlement attempt.
// Acquire reports false when another caller holds the key; an error means the
// lock backend is unavailable.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// RedisLocker coordinates settlement across facilitator processes with
// SET NX PX. The TTL bounds how long a crashed holder can block a payload.
type RedisLocker struct {
	client *redis.Client
}

// NewRedisLocker wraps a Redis client as a settlement locker.
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("settlement lock: setnx: %w", err)
	}
	return ok, nil
}

func (l *RedisLocker) Release(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("settlement lock: del: %w", err)
	}
	return nil
}

// MemoryLocker is the single-process default. It provides the same
// duplicate-settlement guard within one facilitator instance.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
}

// NewMemoryLocker creates an empty in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]time.Time)}
}

func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if expiry, ok := l.held[key]; ok && now.Before(expiry) {
		return false, nil
	}
	l.held[key] = now.Add(ttl)
	return true, nil
}

func (l *MemoryLocker) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}
