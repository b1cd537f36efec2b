// Package ratelimit throttles booking requests per client.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"courtbook/internal/metrics"
)

// Limiter decides whether one more request from key is allowed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RedisLimiter is a fixed-window counter shared by every instance.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
}

func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: "courtbook:ratelimit:", limit: limit, window: window}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := l.prefix + key

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, fmt.Errorf("incr %s: %w", redisKey, err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, redisKey, l.window).Err(); err != nil {
			return false, fmt.Errorf("expire %s: %w", redisKey, err)
		}
	}

	allowed := count <= int64(l.limit)
	if !allowed {
		metrics.IncRateLimited("redis")
	}
	return allowed, nil
}

type localEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LocalLimiter keeps one token bucket per key in process memory.
type LocalLimiter struct {
	mu      sync.Mutex
	entries map[string]*localEntry
	every   rate.Limit
	burst   int
	ttl     time.Duration
	now     func() time.Time
}

// NewLocalLimiter allows limit requests per window with a burst of limit.
func NewLocalLimiter(limit int, window time.Duration) *LocalLimiter {
	if limit <= 0 {
		limit = 1
	}
	return &LocalLimiter{
		entries: make(map[string]*localEntry),
		every:   rate.Every(window / time.Duration(limit)),
		burst:   limit,
		ttl:     2 * window,
		now:     time.Now,
	}
}

func (l *LocalLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for k, e := range l.entries {
		if now.Sub(e.lastSeen) > l.ttl {
			delete(l.entries, k)
		}
	}

	e, ok := l.entries[key]
	if !ok {
		e = &localEntry{limiter: rate.NewLimiter(l.every, l.burst)}
		l.entries[key] = e
	}
	e.lastSeen = now

	allowed := e.limiter.AllowN(now, 1)
	if !allowed {
		metrics.IncRateLimited("local")
	}
	return allowed, nil
}

// FailoverLimiter prefers the primary limiter and falls back while it is down,
// retrying the primary once per recovery interval.
type FailoverLimiter struct {
	primary   Limiter
	fallback  Limiter
	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
	retry     time.Duration
	logger    *zerolog.Logger
}

func NewFailoverLimiter(primary, fallback Limiter, logger *zerolog.Logger) *FailoverLimiter {
	return &FailoverLimiter{primary: primary, fallback: fallback, retry: time.Minute, logger: logger}
}

func (f *FailoverLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if f.isDown.Load() && !f.shouldRetry() {
		return f.fallback.Allow(ctx, key)
	}

	allowed, err := f.primary.Allow(ctx, key)
	if err != nil {
		if !f.isDown.Swap(true) {
			f.logger.Warn().Err(err).Msg("Rate limiter primary is down, using local fallback")
		}
		f.mu.Lock()
		f.lastCheck = time.Now()
		f.mu.Unlock()
		return f.fallback.Allow(ctx, key)
	}

	if f.isDown.Swap(false) {
		f.logger.Info().Msg("Rate limiter primary recovered")
	}
	return allowed, nil
}

func (f *FailoverLimiter) shouldRetry() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if time.Since(f.lastCheck) < f.retry {
		return false
	}
	f.lastCheck = time.Now()
	return true
}
