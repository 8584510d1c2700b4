package domain

import (
	"fmt"
)

// ScanRequest asks for one detection run: one organization, one entity
// type, optionally restricted to a single configured rule.
type ScanRequest struct {
	OrganizationID string     `json:"organizationId"`
	EntityType     EntityType `json:"entityType"`
	RuleID         string     `json:"ruleId,omitempty"`
}

// Validate rejects a request before any storage call is made.
func (r *ScanRequest) Validate() error {
	if r.OrganizationID == "" {
		return fmt.Errorf("organizationId is required")
	}
	if r.EntityType == "" {
		return fmt.Errorf("entityType is required")
	}
	return nil
}

// ScanReport summarizes a completed detection run.
type ScanReport struct {
	OrganizationID string     `json:"organizationId"`
	EntityType     EntityType `json:"entityType"`

	RecordsScanned     int `json:"recordsScanned"`
	DuplicatesFound    int `json:"duplicatesFound"`
	DuplicatesInserted int `json:"duplicatesInserted"`
	DuplicatesSkipped  int `json:"duplicatesSkipped"`
	DuplicatesFailed   int `json:"duplicatesFailed"`
	RulesApplied       int `json:"rulesApplied"`

	DurationMs int64 `json:"durationMs"`
}
