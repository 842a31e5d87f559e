// Package ratelimit provides the admission-control component guarding the
// facilitator's verify/settle endpoints. The Redis-backed fixed-window
// limiter is safe under concurrent callers from multiple facilitator
// processes; Allow is the only mutating operation.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Info describes the caller's current rate-limit window.
type Info struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

// Limiter is the admission-control contract. Allow reports whether the
// caller identified by key may proceed. An error means the limiter backend
// is unavailable; callers decide whether to fail open.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, Info, error)
}

// RedisLimiter is a fixed-window counter limiter on Redis.
type RedisLimiter struct {
	client   *redis.Client
	requests int
	window   time.Duration
	prefix   string
}

// NewRedisLimiter creates a limiter allowing `requests` per `window`.
func NewRedisLimiter(client *redis.Client, requests int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client:   client,
		requests: requests,
		window:   window,
		prefix:   "ratelimit:",
	}
}

// Allow increments the caller's counter for the current window and reports
// whether the request is within quota.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, Info, error) {
	windowStart := time.Now().Truncate(l.window)
	redisKey := l.windowKey(key, windowStart)

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, Info{}, fmt.Errorf("ratelimit: incr: %w", err)
	}
	if count == 1 {
		// First hit in this window; bound the key's lifetime.
		if err := l.client.PExpire(ctx, redisKey, l.window).Err(); err != nil {
			return false, Info{}, fmt.Errorf("ratelimit: pexpire: %w", err)
		}
	}

	info := l.info(count, windowStart)
	return count <= int64(l.requests), info, nil
}

func (l *RedisLimiter) windowKey(key string, windowStart time.Time) string {
	return fmt.Sprintf("%s%s:%d", l.prefix, key, windowStart.UnixMilli())
}

func (l *RedisLimiter) info(count int64, windowStart time.Time) Info {
	remaining := int64(l.requests) - count
	if remaining < 0 {
		remaining = 0
	}
	return Info{
		Limit:     l.requests,
		Remaining: int(remaining),
		Reset:     windowStart.Add(l.window),
	}
}
