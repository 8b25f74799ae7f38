package authz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheVersionKey = "authz:version"

// Cache keeps short-lived per-user effective permission sets in Redis.
// A version counter bumped on every grant mutation invalidates the whole
// keyspace at once, so stale grants never outlive a mutation plus the TTL.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper. A nil client disables caching.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func (c *Cache) version(ctx context.Context) (int64, error) {
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.Set(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

func (c *Cache) key(ctx context.Context, userID int64) (string, error) {
	ver, err := c.version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("authz:perms:%d:%d", userID, ver), nil
}

// GetPermissions loads the cached effective permission set for a user.
func (c *Cache) GetPermissions(ctx context.Context, userID int64) ([]EffectivePermission, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	key, err := c.key(ctx, userID)
	if err != nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var perms []EffectivePermission
	if err := json.Unmarshal(raw, &perms); err != nil {
		return nil, false
	}
	return perms, true
}

// SetPermissions stores the effective permission set for a user.
func (c *Cache) SetPermissions(ctx context.Context, userID int64, perms []EffectivePermission) {
	if c == nil || c.client == nil {
		return
	}
	key, err := c.key(ctx, userID)
	if err != nil {
		return
	}
	raw, err := json.Marshal(perms)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, key, raw, c.ttl).Err()
}

// Bump invalidates every cached permission set.
func (c *Cache) Bump(ctx context.Context) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Incr(ctx, cacheVersionKey).Err()
}
