package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hirewise/magpie/internal/domain"
)

// New creates a new cache based on configuration.
// For Community tier: returns LRU cache.
// For Pro tier with two-phase: returns TwoPhaseCache wrapping LRU + Redis.
// For Pro tier without two-phase: returns Redis cache.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// TwoPhaseCache implements the two-phase caching strategy.
// L1: Local LRU cache for fast reads
// L2: Redis for distributed caching and persistence
type TwoPhaseCache struct {
	local  *LRUCache
	remote *RedisCache
	l1TTL  time.Duration
}

// NewTwoPhaseCache creates a two-phase cache with LRU + Redis.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	local := NewLRUCache(cfg.LocalMaxSize)

	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}

	l1TTL := cfg.LocalTTL
	if l1TTL == 0 {
		l1TTL = 5 * time.Minute
	}

	return &TwoPhaseCache{
		local:  local,
		remote: remote,
		l1TTL:  l1TTL,
	}, nil
}

// Get retrieves from L1 first, then L2. Populates L1 on L2 hit.
func (c *TwoPhaseCache) Get(ctx context.Context, organizationID string, key string) ([]byte, error) {
	// Check L1 first
	val, err := c.local.Get(ctx, organizationID, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		return val, nil
	}

	// Check L2
	val, err = c.remote.Get(ctx, organizationID, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		// Populate L1 for future reads
		_ = c.local.Set(ctx, organizationID, key, val, c.l1TTL)
	}

	return val, nil
}

// Set writes to both layers. L1 gets the shorter of ttl and the L1 TTL.
func (c *TwoPhaseCache) Set(ctx context.Context, organizationID string, key string, value []byte, ttl time.Duration) error {
	l1TTL := ttl
	if l1TTL > c.l1TTL {
		l1TTL = c.l1TTL
	}
	_ = c.local.Set(ctx, organizationID, key, value, l1TTL)
	return c.remote.Set(ctx, organizationID, key, value, ttl)
}

// Delete removes the key from both layers.
func (c *TwoPhaseCache) Delete(ctx context.Context, organizationID string, key string) error {
	_ = c.local.Delete(ctx, organizationID, key)
	return c.remote.Delete(ctx, organizationID, key)
}

// GetRules retrieves a cached rule list for an entity type.
func (c *TwoPhaseCache) GetRules(ctx context.Context, organizationID string, entityType domain.EntityType) ([]*domain.MatchRule, error) {
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
func (c *TwoPhaseCache) SetRules(ctx context.Context, organizationID string, entityType domain.EntityType, rules []*domain.MatchRule, ttl time.Duration) error {
	data, err := json.Marshal(rules)
	if err != nil {
		return err
	}
	return c.Set(ctx, organizationID, rulesKey(entityType), data, ttl)
}

// InvalidateRules drops the cached rule list from both layers.
func (c *TwoPhaseCache) InvalidateRules(ctx context.Context, organizationID string, entityType domain.EntityType) error {
	return c.Delete(ctx, organizationID, rulesKey(entityType))
}

// IncrementCounter delegates to Redis: counters must be shared across nodes.
func (c *TwoPhaseCache) IncrementCounter(ctx context.Context, organizationID string, key string, window time.Duration) (int64, error) {
	return c.remote.IncrementCounter(ctx, organizationID, key, window)
}

// Ping checks the remote layer; the local layer cannot fail.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	return c.remote.Ping(ctx)
}

// Close closes both layers.
func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}
