package repository

// Schema definitions for the Magpie database.
// Compatible with both SQLite and PostgreSQL.

const schemaEntityRecords = `
CREATE TABLE IF NOT EXISTS entity_records (
    id TEXT NOT NULL,
    organization_id TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    fields TEXT NOT NULL,
    deleted INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (organization_id, entity_type, id)
);

CREATE INDEX IF NOT EXISTS idx_entity_records_org ON entity_records(organization_id);
CREATE INDEX IF NOT EXISTS idx_entity_records_live ON entity_records(organization_id, entity_type, deleted);
`

const schemaMatchRules = `
CREATE TABLE IF NOT EXISTS match_rules (
    id TEXT NOT NULL,
    organization_id TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    name TEXT NOT NULL,
    match_fields TEXT NOT NULL,
    match_type TEXT NOT NULL,
    fuzzy_threshold REAL NOT NULL DEFAULT 0,
    filter_expression TEXT,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, organization_id)
);

CREATE INDEX IF NOT EXISTS idx_match_rules_org ON match_rules(organization_id);
CREATE INDEX IF NOT EXISTS idx_match_rules_enabled ON match_rules(organization_id, entity_type, enabled);
`

// The unique pair index is what gives InsertDuplicateIfAbsent its
// ignore-on-conflict semantics.
const schemaDuplicateCandidates = `
CREATE TABLE IF NOT EXISTS duplicate_candidates (
    id TEXT NOT NULL,
    organization_id TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    record_id_low TEXT NOT NULL,
    record_id_high TEXT NOT NULL,
    confidence_score REAL NOT NULL,
    matched_fields TEXT NOT NULL,
    match_details TEXT NOT NULL,
    rule_id TEXT,
    status TEXT NOT NULL DEFAULT 'pending',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id),
    UNIQUE (organization_id, entity_type, record_id_low, record_id_high)
);

CREATE INDEX IF NOT EXISTS idx_duplicates_org ON duplicate_candidates(organization_id);
CREATE INDEX IF NOT EXISTS idx_duplicates_status ON duplicate_candidates(organization_id, entity_type, status);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaEntityRecords,
		schemaMatchRules,
		schemaDuplicateCandidates,
	}
}
