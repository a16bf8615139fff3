// Package ratelimit counts requests per key over fixed windows.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"github.com/trezcool/enrolla/core"
)

type Limiter interface {
	// Allow records a hit for key and reports whether it is within limit hits per window.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// NewLimiter uses redis when an address is configured, memory otherwise.
func NewLimiter(conf *core.Config) Limiter {
	if conf.Redis.Addr == "" {
		return NewMemoryLimiter()
	}
	return NewRedisLimiter(redis.NewClient(&redis.Options{
		Addr:     conf.Redis.Addr,
		Password: conf.Redis.Password,
		DB:       conf.Redis.DB,
	}))
}

type RedisLimiter struct {
	client *redis.Client
	prefix string
}

var _ Limiter = (*RedisLimiter)(nil)

func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: "ratelimit:"}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	key = l.prefix + key
	var hits *redis.IntCmd
	// the window is created with its expiry, in the same transaction as the hit
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, key, 0, window)
		hits = pipe.Incr(ctx, key)
		return nil
	})
	if err != nil {
		return false, errors.Wrap(err, "counting hits")
	}
	return hits.Val() <= int64(limit), nil
}

func (l *RedisLimiter) Close() error {
	return l.client.Close()
}

type counter struct {
	hits  int
	reset time.Time
}

// sweepInterval is how often MemoryLimiter drops its expired windows.
const sweepInterval = time.Minute

type MemoryLimiter struct {
	mu        sync.Mutex
	windows   map[string]counter
	lastSweep time.Time
}

var _ Limiter = (*MemoryLimiter)(nil)

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{windows: make(map[string]counter)}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, d time.Duration) (bool, error) {
	now := core.NowFunc()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= sweepInterval {
		l.sweep(now)
	}

	w, ok := l.windows[key]
	if !ok || !now.Before(w.reset) {
		w = counter{reset: now.Add(d)}
	}
	w.hits++
	l.windows[key] = w
	return w.hits <= limit, nil
}

func (l *MemoryLimiter) sweep(now time.Time) {
	for key, w := range l.windows {
		if !now.Before(w.reset) {
			delete(l.windows, key)
		}
	}
	l.lastSweep = now
}
