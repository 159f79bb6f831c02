package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-admin/internal/shared"
)

const cacheVersionKey = "rbac:version"

// GrantsLoader resolves the grants of a user from the store.
type GrantsLoader func(ctx context.Context, userID int64) (Grants, error)

type cachedGrants struct {
	Permissions []string `json:"permissions"`
	Super       bool     `json:"super"`
}

// Cache memoises resolved grants per user in Redis. Entries are keyed by a
// global version which any RBAC mutation bumps, so stale sets are never read
// after a change commits.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewCache instantiates the cache helper. A nil client disables caching.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Version returns the current cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, cacheVersionKey).Int64()
	}
	return ver, err
}

// Bump invalidates every cached entry.
func (c *Cache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, cacheVersionKey).Err()
}

// Grants returns cached grants for userID or populates them using load.
func (c *Cache) Grants(ctx context.Context, userID int64, load GrantsLoader) (Grants, error) {
	if load == nil {
		return Grants{}, errors.New("rbac cache: loader required")
	}
	if c == nil || c.client == nil {
		return load(ctx, userID)
	}
	ver, err := c.Version(ctx)
	if err != nil {
		return Grants{}, fmt.Errorf("rbac cache: version: %w", err)
	}
	key := fmt.Sprintf("rbac:grants:%d:%d", userID, ver)
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var stored cachedGrants
		if err := json.Unmarshal(payload, &stored); err == nil {
			return Grants{Permissions: NewPermissionSet(stored.Permissions...), Super: stored.Super}, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return Grants{}, fmt.Errorf("rbac cache: get: %w", err)
	}

	// Every caller joining the flight waits on this load, so it ignores the
	// cancellation of the caller that started it.
	loadCtx := context.WithoutCancel(ctx)
	v, err, _ := c.group.Do(key, func() (any, error) {
		grants, err := load(loadCtx, userID)
		if err != nil {
			return Grants{}, err
		}
		data, err := json.Marshal(cachedGrants{Permissions: grants.Permissions.Names(), Super: grants.Super})
		if err != nil {
			return Grants{}, err
		}
		if err := c.client.Set(loadCtx, key, data, c.ttl).Err(); err != nil {
			return Grants{}, fmt.Errorf("rbac cache: set: %w", err)
		}
		return grants, nil
	})
	if err != nil {
		return Grants{}, err
	}
	return v.(Grants), nil
}

// InvalidateOnChange is an event subscriber bumping the version whenever a
// permission, role or user mutation is published.
func (c *Cache) InvalidateOnChange(ctx context.Context, evt shared.Event) error {
	switch evt.Entity {
	case shared.EntityPermission, shared.EntityRole, shared.EntityUser:
		return c.Bump(ctx)
	default:
		return nil
	}
}
