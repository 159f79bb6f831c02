package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheKey = "settings:all"

// Cache keeps the whole settings table in Redis under one key. Every write
// drops it.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper. A nil client disables caching.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Load returns the cached settings or populates them with load.
func (c *Cache) Load(ctx context.Context, load func(context.Context) ([]Setting, error)) ([]Setting, error) {
	if c == nil || c.client == nil {
		return load(ctx)
	}
	payload, err := c.client.Get(ctx, cacheKey).Bytes()
	if err == nil {
		var cached []Setting
		if err := json.Unmarshal(payload, &cached); err == nil {
			return cached, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("settings cache: get: %w", err)
	}
	fresh, err := load(ctx)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(fresh)
	if err != nil {
		return nil, err
	}
	if err := c.client.Set(ctx, cacheKey, data, c.ttl).Err(); err != nil {
		return nil, fmt.Errorf("settings cache: set: %w", err)
	}
	return fresh, nil
}

// Invalidate drops the cached table.
func (c *Cache) Invalidate(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, cacheKey).Err()
}
