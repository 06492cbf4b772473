package ratelimit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter shares counters between instances through Redis.
type RedisLimiter struct {
	redis redis.UniversalClient
	cfg   Config
}

// NewRedis creates a limiter backed by the given Redis client.
func NewRedis(client redis.UniversalClient, cfg Config) *RedisLimiter {
	return &RedisLimiter{redis: client, cfg: cfg}
}

// Allow implements Limiter with INCR, setting the TTL only on the first
// hit so the window stays fixed.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	k := l.cfg.key(key)

	count, err := l.redis.Incr(ctx, k).Result()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}

	if count == 1 {
		if err := l.redis.Expire(ctx, k, l.cfg.Window).Err(); err != nil {
			return Result{}, fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
		}
	}

	if count <= int64(l.cfg.Requests) {
		return l.cfg.result(count, 0), nil
	}

	ttl, err := l.redis.PTTL(ctx, k).Result()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}
	// A key without TTL would never reset; repair it.
	if ttl < 0 {
		if err := l.redis.Expire(ctx, k, l.cfg.Window).Err(); err != nil {
			return Result{}, fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
		}
		ttl = l.cfg.Window
	}
	return l.cfg.result(count, ttl), nil
}
