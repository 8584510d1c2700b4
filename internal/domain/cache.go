package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
// All methods require organizationID for strict multi-tenancy isolation.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, organizationID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, organizationID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, organizationID string, key string) error

	// GetRules retrieves a cached rule list for an entity type.
	// Returns nil, nil on a miss.
	GetRules(ctx context.Context, organizationID string, entityType EntityType) ([]*MatchRule, error)

	// SetRules caches the resolved rule list for an entity type.
	SetRules(ctx context.Context, organizationID string, entityType EntityType, rules []*MatchRule, ttl time.Duration) error

	// InvalidateRules drops the cached rule list after a rule changes.
	InvalidateRules(ctx context.Context, organizationID string, entityType EntityType) error

	// IncrementCounter atomically increments a counter and returns the new
	// value. Used for per-organization scan counters.
	IncrementCounter(ctx context.Context, organizationID string, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings (Community tier)
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings (Pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis

	// RuleTTL bounds how stale a cached rule list may get.
	RuleTTL time.Duration
}
