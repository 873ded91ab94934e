package walias

import (
	"context"
	"encoding/json"
	"time"

	"walias/internal/model"
	platformredis "walias/internal/platform/redis"
)

// ResolveCache sits on the hot lookup path. It is best-effort: a cache
// failure silently falls through to storage.
type ResolveCache interface {
	Get(ctx context.Context, id string) (*model.Walias, bool)
	Set(ctx context.Context, w model.Walias)
	Invalidate(ctx context.Context, id string)
}

// RedisCache caches resolved waliases under a short TTL. Mutations
// invalidate eagerly, so the TTL only bounds staleness across instances
// that missed an invalidation.
type RedisCache struct {
	client *platformredis.Client
	ttl    time.Duration
}

func NewRedisCache(client *platformredis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func cacheKey(id string) string { return "walias:resolve:" + id }

func (c *RedisCache) Get(ctx context.Context, id string) (*model.Walias, bool) {
	raw, err := c.client.Get(ctx, cacheKey(id)).Bytes()
	if err != nil {
		return nil, false
	}
	var w model.Walias
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, false
	}
	return &w, true
}

func (c *RedisCache) Set(ctx context.Context, w model.Walias) {
	raw, err := json.Marshal(w)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, cacheKey(w.ID), raw, c.ttl).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context, id string) {
	_ = c.client.Del(ctx, cacheKey(id)).Err()
}
