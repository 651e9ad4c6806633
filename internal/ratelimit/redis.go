package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// commander is the slice of the redis API the limiter uses; *redis.Client
// satisfies it and tests substitute a fake.
type commander interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, ttl time.Duration) *redis.BoolCmd
	Decr(ctx context.Context, key string) *redis.IntCmd
}

// RedisLimiter enforces the same fixed-window contract against a shared Redis
// counter so every service instance draws from one budget per subject. INCR is
// atomic, so concurrent acquisitions for the same key cannot lose updates.
type RedisLimiter struct {
	cfg    Config
	client commander
	prefix string
	now    func() time.Time
}

func NewRedisLimiter(client *redis.Client, prefix string, cfg Config) *RedisLimiter {
	return &RedisLimiter{
		cfg:    cfg,
		client: client,
		prefix: prefix,
		now:    time.Now,
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	bucket := l.now().UnixMilli() / l.cfg.Window.Milliseconds()
	redisKey := fmt.Sprintf("ratelimit:%s:%s:%d", l.prefix, key, bucket)

	n, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, fmt.Errorf("rate limit incr: %w", err)
	}
	if n == 1 {
		// Two windows of TTL so a clock-skewed reader never sees a key
		// vanish mid-window.
		if err := l.client.Expire(ctx, redisKey, 2*l.cfg.Window).Err(); err != nil {
			return false, fmt.Errorf("rate limit expire: %w", err)
		}
	}
	if n > int64(l.cfg.MaxPerWindow) {
		// Hold the counter at the ceiling.
		if err := l.client.Decr(ctx, redisKey).Err(); err != nil {
			return false, fmt.Errorf("rate limit decr: %w", err)
		}
		return false, nil
	}
	return true, nil
}
