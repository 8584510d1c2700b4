package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require organizationID for strict multi-tenancy isolation.
type Repository interface {
	// Entity record operations
	SaveEntityRecord(ctx context.Context, organizationID string, rec *EntityRecord) error
	GetEntityRecord(ctx context.Context, organizationID string, entityType EntityType, recordID string) (*EntityRecord, error)
	// ListEntityRecords returns live (non-deleted) records projected to the
	// given fields plus the identifier, capped at limit rows.
	ListEntityRecords(ctx context.Context, organizationID string, entityType EntityType, fields []string, limit int) ([]*EntityRecord, error)
	DeleteEntityRecord(ctx context.Context, organizationID string, entityType EntityType, recordID string) error

	// Match rule operations
	SaveMatchRule(ctx context.Context, organizationID string, rule *MatchRule) error
	GetMatchRule(ctx context.Context, organizationID string, ruleID string) (*MatchRule, error)
	// ListMatchRules returns enabled rules for the entity type in creation order.
	ListMatchRules(ctx context.Context, organizationID string, entityType EntityType) ([]*MatchRule, error)
	DisableMatchRule(ctx context.Context, organizationID string, ruleID string) error

	// Duplicate candidate operations.
	// InsertDuplicateIfAbsent persists a candidate keyed on
	// (organization, entityType, recordIdLow, recordIdHigh) and reports
	// whether a row was actually written. An existing row is left
	// untouched so human review status survives re-runs.
	InsertDuplicateIfAbsent(ctx context.Context, organizationID string, dup *DuplicateCandidate) (inserted bool, err error)
	GetDuplicate(ctx context.Context, organizationID string, duplicateID string) (*DuplicateCandidate, error)
	ListDuplicates(ctx context.Context, organizationID string, entityType EntityType, status string) ([]*DuplicateCandidate, error)
	UpdateDuplicateStatus(ctx context.Context, organizationID string, duplicateID string, status string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
