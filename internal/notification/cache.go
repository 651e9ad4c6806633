package notification

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is the read-through list cache the orchestrator writes and
// invalidates. Implementations swallow their own failures: a cache outage must
// never mask a successful send or persist.
type Cache interface {
	Get(ctx context.Context, userID string) ([]*Notification, bool)
	Set(ctx context.Context, userID string, list []*Notification)
	Invalidate(ctx context.Context, userID string)
}

const cacheKeyPrefix = "notifications:"

// ListCache caches per-user notification lists in Redis as JSON under
// notifications:<userID>. Read errors degrade to a miss; write and delete
// errors are logged and dropped.
type ListCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewListCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *ListCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &ListCache{client: client, ttl: ttl, logger: logger}
}

func (c *ListCache) Get(ctx context.Context, userID string) ([]*Notification, bool) {
	data, err := c.client.Get(ctx, cacheKeyPrefix+userID).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("cache read failed, falling back to store", "user_id", userID, "error", err)
		return nil, false
	}

	var list []*Notification
	if err := json.Unmarshal(data, &list); err != nil {
		c.logger.Warn("cache entry corrupt, treating as miss", "user_id", userID, "error", err)
		return nil, false
	}
	return list, true
}

func (c *ListCache) Set(ctx context.Context, userID string, list []*Notification) {
	data, err := json.Marshal(list)
	if err != nil {
		c.logger.Warn("cache marshal failed", "user_id", userID, "error", err)
		return
	}
	if err := c.client.Set(ctx, cacheKeyPrefix+userID, data, c.ttl).Err(); err != nil {
		c.logger.Warn("cache write failed", "user_id", userID, "error", err)
	}
}

func (c *ListCache) Invalidate(ctx context.Context, userID string) {
	if err := c.client.Del(ctx, cacheKeyPrefix+userID).Err(); err != nil {
		c.logger.Warn("cache invalidation failed", "user_id", userID, "error", err)
	}
}
