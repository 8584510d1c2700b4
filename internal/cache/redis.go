package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hirewise/magpie/internal/domain"
)

// RedisCache implements Cache using Redis.
// Used as the Pro tier cache and as L2 in two-phase caching.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis cache.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// Get retrieves a value from Redis.
func (c *RedisCache) Get(ctx context.Context, organizationID string, key string) ([]byte, error) {
	if organizationID == "" {
		return nil, fmt.Errorf("organizationID is required")
	}

	fullKey := c.makeKey(organizationID, key)
	val, err := c.client.Get(ctx, fullKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Set stores a value in Redis with TTL.
func (c *RedisCache) Set(ctx context.Context, organizationID string, key string, value []byte, ttl time.Duration) error {
	if organizationID == "" {
		return fmt.Errorf("organizationID is required")
	}

	fullKey := c.makeKey(organizationID, key)
	return c.client.Set(ctx, fullKey, value, ttl).Err()
}

// Delete removes a value from Redis.
func (c *RedisCache) Delete(ctx context.Context, organizationID string, key string) error {
	if organizationID == "" {
		return fmt.Errorf("organizationID is required")
	}

	fullKey := c.makeKey(organizationID, key)
	return c.client.Del(ctx, fullKey).Err()
}

// GetRules retrieves a cached rule list for an entity type.
func (c *RedisCache) GetRules(ctx context.Context, organizationID string, entityType domain.EntityType) ([]*domain.MatchRule, error) {
	data, err := c.Get(ctx, organizationID, rulesKey(entityType))
	if err != nil || data == nil {
		return nil, err
	}

	var rules []*domain.MatchRule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

// SetRules caches the resolved rule list for an entity type.
func (c *RedisCache) SetRules(ctx context.Context, organizationID string, entityType domain.EntityType, rules []*domain.MatchRule, ttl time.Duration) error {
	data, err := json.Marshal(rules)
	if err != nil {
		return err
	}
	return c.Set(ctx, organizationID, rulesKey(entityType), data, ttl)
}

// InvalidateRules drops the cached rule list after a rule changes.
func (c *RedisCache) InvalidateRules(ctx context.Context, organizationID string, entityType domain.EntityType) error {
	return c.Delete(ctx, organizationID, rulesKey(entityType))
}

// IncrementCounter atomically increments a counter with an expiring window.
func (c *RedisCache) IncrementCounter(ctx context.Context, organizationID string, key string, window time.Duration) (int64, error) {
	if organizationID == "" {
		return 0, fmt.Errorf("organizationID is required")
	}

	fullKey := c.makeKey(organizationID, "counter:"+key)

	count, err := c.client.Incr(ctx, fullKey).Result()
	if err != nil {
		return 0, err
	}

	// Set the window on first increment only.
	if count == 1 {
		c.client.Expire(ctx, fullKey, window)
	}

	return count, nil
}

// Ping checks Redis health.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) makeKey(organizationID, key string) string {
	return "magpie:" + organizationID + ":" + key
}
