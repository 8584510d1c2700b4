// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hirewise/magpie/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveEntityRecord stores an entity record with organization isolation.
func (r *SQLRepository) SaveEntityRecord(ctx context.Context, organizationID string, rec *domain.EntityRecord) error {
	if organizationID == "" {
		return fmt.Errorf("%w: organizationID is required", ErrInvalidInput)
	}

	fields, _ := json.Marshal(rec.Fields)

	deleted := 0
	if rec.Deleted {
		deleted = 1
	}

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}

	query := `
		INSERT INTO entity_records (
			id, organization_id, entity_type, fields, deleted, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(organization_id, entity_type, id) DO UPDATE SET
			fields = excluded.fields,
			deleted = excluded.deleted,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rec.ID, organizationID, string(rec.EntityType),
		string(fields), deleted, rec.CreatedAt, now,
	)
	return err
}

// GetEntityRecord retrieves a record by ID with organization isolation.
func (r *SQLRepository) GetEntityRecord(ctx context.Context, organizationID string, entityType domain.EntityType, recordID string) (*domain.EntityRecord, error) {
	if organizationID == "" {
		return nil, fmt.Errorf("%w: organizationID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, organization_id, entity_type, fields, deleted, created_at, updated_at
		FROM entity_records
		WHERE organization_id = ? AND entity_type = ? AND id = ?
	`

	var rec domain.EntityRecord
	var fields string
	var deleted int

	err := r.db.QueryRowContext(ctx, r.rebind(query), organizationID, string(entityType), recordID).Scan(
		&rec.ID, &rec.OrganizationID, &rec.EntityType,
		&fields, &deleted, &rec.CreatedAt, &rec.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rec.Deleted = deleted == 1
	if fields != "" {
		json.Unmarshal([]byte(fields), &rec.Fields)
	}

	return &rec, nil
}

// ListEntityRecords retrieves live records for an organization and entity
// type, projected to the given fields plus the identifier. A nil fields
// slice disables projection. Results are capped at limit rows.
func (r *SQLRepository) ListEntityRecords(ctx context.Context, organizationID string, entityType domain.EntityType, fields []string, limit int) ([]*domain.EntityRecord, error) {
	if organizationID == "" {
		return nil, fmt.Errorf("%w: organizationID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 10000
	}

	query := `
		SELECT id, organization_id, entity_type, fields, created_at, updated_at
		FROM entity_records
		WHERE organization_id = ? AND entity_type = ? AND deleted = 0
		ORDER BY created_at
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), organizationID, string(entityType), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projection map[string]bool
	if fields != nil {
		projection = make(map[string]bool, len(fields))
		for _, f := range fields {
			projection[f] = true
		}
	}

	records := []*domain.EntityRecord{}
	for rows.Next() {
		var rec domain.EntityRecord
		var raw string

		if err := rows.Scan(
			&rec.ID, &rec.OrganizationID, &rec.EntityType,
			&raw, &rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, err
		}

		var all map[string]any
		if raw != "" {
			json.Unmarshal([]byte(raw), &all)
		}

		if projection == nil {
			rec.Fields = all
		} else {
			rec.Fields = make(map[string]any, len(projection))
			for f := range projection {
				if v, ok := all[f]; ok {
					rec.Fields[f] = v
				}
			}
		}

		records = append(records, &rec)
	}

	return records, rows.Err()
}

// DeleteEntityRecord soft-deletes a record; it stays out of scans but
// remains in storage.
func (r *SQLRepository) DeleteEntityRecord(ctx context.Context, organizationID string, entityType domain.EntityType, recordID string) error {
	if organizationID == "" {
		return fmt.Errorf("%w: organizationID is required", ErrInvalidInput)
	}

	query := `
		UPDATE entity_records
		SET deleted = 1, updated_at = ?
		WHERE organization_id = ? AND entity_type = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), organizationID, string(entityType), recordID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// SaveMatchRule stores a match rule with organization isolation.
func (r *SQLRepository) SaveMatchRule(ctx context.Context, organizationID string, rule *domain.MatchRule) error {
	if organizationID == "" {
		return fmt.Errorf("%w: organizationID is required", ErrInvalidInput)
	}
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	matchFields, _ := json.Marshal(rule.MatchFields)

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}

	query := `
		INSERT INTO match_rules (
			id, organization_id, entity_type, name, match_fields, match_type,
			fuzzy_threshold, filter_expression, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, organization_id) DO UPDATE SET
			entity_type = excluded.entity_type,
			name = excluded.name,
			match_fields = excluded.match_fields,
			match_type = excluded.match_type,
			fuzzy_threshold = excluded.fuzzy_threshold,
			filter_expression = excluded.filter_expression,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, organizationID, string(rule.EntityType), rule.Name,
		string(matchFields), string(rule.MatchType),
		rule.FuzzyThreshold, rule.FilterExpression, enabled,
		rule.CreatedAt, now,
	)
	return err
}

// GetMatchRule retrieves a match rule with organization isolation.
func (r *SQLRepository) GetMatchRule(ctx context.Context, organizationID string, ruleID string) (*domain.MatchRule, error) {
	if organizationID == "" {
		return nil, fmt.Errorf("%w: organizationID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, organization_id, entity_type, name, match_fields, match_type,
			   fuzzy_threshold, filter_expression, enabled, created_at, updated_at
		FROM match_rules
		WHERE organization_id = ? AND id = ?
	`

	rule, err := r.scanRule(r.db.QueryRowContext(ctx, r.rebind(query), organizationID, ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rule, err
}

// ListMatchRules retrieves enabled rules for an entity type in creation
// order, so rule evaluation order is stable across runs.
func (r *SQLRepository) ListMatchRules(ctx context.Context, organizationID string, entityType domain.EntityType) ([]*domain.MatchRule, error) {
	if organizationID == "" {
		return nil, fmt.Errorf("%w: organizationID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, organization_id, entity_type, name, match_fields, match_type,
			   fuzzy_threshold, filter_expression, enabled, created_at, updated_at
		FROM match_rules
		WHERE organization_id = ? AND entity_type = ? AND enabled = 1
		ORDER BY created_at, id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), organizationID, string(entityType))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.MatchRule
	for rows.Next() {
		rule, err := r.scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

// DisableMatchRule disables a rule by setting enabled = 0.
func (r *SQLRepository) DisableMatchRule(ctx context.Context, organizationID string, ruleID string) error {
	if organizationID == "" {
		return fmt.Errorf("%w: organizationID is required", ErrInvalidInput)
	}

	query := `
		UPDATE match_rules
		SET enabled = 0, updated_at = ?
		WHERE organization_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), organizationID, ruleID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// scanner abstracts *sql.Row and *sql.Rows for rule scanning.
type scanner interface {
	Scan(dest ...any) error
}

func (r *SQLRepository) scanRule(row scanner) (*domain.MatchRule, error) {
	var rule domain.MatchRule
	var matchFields string
	var filterExpr sql.NullString
	var enabled int

	err := row.Scan(
		&rule.ID, &rule.OrganizationID, &rule.EntityType, &rule.Name,
		&matchFields, &rule.MatchType,
		&rule.FuzzyThreshold, &filterExpr, &enabled,
		&rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.Enabled = enabled == 1
	rule.FilterExpression = filterExpr.String
	if err := json.Unmarshal([]byte(matchFields), &rule.MatchFields); err != nil {
		return nil, fmt.Errorf("failed to parse match fields for %s: %w", rule.ID, err)
	}

	return &rule, nil
}

// InsertDuplicateIfAbsent persists a duplicate candidate, ignoring the
// insert when the canonical pair already exists. Existing rows keep their
// review status untouched. Returns whether a row was actually written.
func (r *SQLRepository) InsertDuplicateIfAbsent(ctx context.Context, organizationID string, dup *domain.DuplicateCandidate) (bool, error) {
	if organizationID == "" {
		return false, fmt.Errorf("%w: organizationID is required", ErrInvalidInput)
	}
	if dup.RecordIDLow >= dup.RecordIDHigh {
		return false, fmt.Errorf("%w: pair ids must satisfy recordIdLow < recordIdHigh", ErrInvalidInput)
	}

	matchedFields, _ := json.Marshal(dup.MatchedFields)
	matchDetails, _ := json.Marshal(dup.MatchDetails)

	status := dup.Status
	if status == "" {
		status = domain.DuplicateStatusPending
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO duplicate_candidates (
			id, organization_id, entity_type, record_id_low, record_id_high,
			confidence_score, matched_fields, match_details, rule_id, status,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(organization_id, entity_type, record_id_low, record_id_high) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		dup.ID, organizationID, string(dup.EntityType),
		dup.RecordIDLow, dup.RecordIDHigh,
		dup.ConfidenceScore, string(matchedFields), string(matchDetails),
		dup.RuleID, status, now, now,
	)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rows > 0, nil
}

// GetDuplicate retrieves a duplicate candidate by ID.
func (r *SQLRepository) GetDuplicate(ctx context.Context, organizationID string, duplicateID string) (*domain.DuplicateCandidate, error) {
	if organizationID == "" {
		return nil, fmt.Errorf("%w: organizationID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, organization_id, entity_type, record_id_low, record_id_high,
			   confidence_score, matched_fields, match_details, rule_id, status,
			   created_at, updated_at
		FROM duplicate_candidates
		WHERE organization_id = ? AND id = ?
	`

	dup, err := r.scanDuplicate(r.db.QueryRowContext(ctx, r.rebind(query), organizationID, duplicateID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return dup, err
}

// ListDuplicates retrieves duplicate candidates for an entity type,
// optionally filtered by review status, newest first.
func (r *SQLRepository) ListDuplicates(ctx context.Context, organizationID string, entityType domain.EntityType, status string) ([]*domain.DuplicateCandidate, error) {
	if organizationID == "" {
		return nil, fmt.Errorf("%w: organizationID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, organization_id, entity_type, record_id_low, record_id_high,
			   confidence_score, matched_fields, match_details, rule_id, status,
			   created_at, updated_at
		FROM duplicate_candidates
		WHERE organization_id = ? AND entity_type = ?
	`
	args := []any{organizationID, string(entityType)}

	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var duplicates []*domain.DuplicateCandidate
	for rows.Next() {
		dup, err := r.scanDuplicate(rows)
		if err != nil {
			return nil, err
		}
		duplicates = append(duplicates, dup)
	}

	return duplicates, rows.Err()
}

// UpdateDuplicateStatus changes only the review status of a candidate.
func (r *SQLRepository) UpdateDuplicateStatus(ctx context.Context, organizationID string, duplicateID string, status string) error {
	if organizationID == "" {
		return fmt.Errorf("%w: organizationID is required", ErrInvalidInput)
	}

	switch status {
	case domain.DuplicateStatusPending, domain.DuplicateStatusConfirmed,
		domain.DuplicateStatusDismissed, domain.DuplicateStatusMerged:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}

	query := `
		UPDATE duplicate_candidates
		SET status = ?, updated_at = ?
		WHERE organization_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), status, time.Now().UTC(), organizationID, duplicateID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

func (r *SQLRepository) scanDuplicate(row scanner) (*domain.DuplicateCandidate, error) {
	var dup domain.DuplicateCandidate
	var matchedFields, matchDetails string
	var ruleID sql.NullString

	err := row.Scan(
		&dup.ID, &dup.OrganizationID, &dup.EntityType,
		&dup.RecordIDLow, &dup.RecordIDHigh,
		&dup.ConfidenceScore, &matchedFields, &matchDetails,
		&ruleID, &dup.Status,
		&dup.CreatedAt, &dup.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	dup.RuleID = ruleID.String
	json.Unmarshal([]byte(matchedFields), &dup.MatchedFields)
	json.Unmarshal([]byte(matchDetails), &dup.MatchDetails)

	return &dup, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
