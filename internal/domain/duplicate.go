package domain

import (
	"time"
)

// Review status values for a persisted duplicate candidate.
const (
	DuplicateStatusPending   = "pending"
	DuplicateStatusConfirmed = "confirmed"
	DuplicateStatusDismissed = "dismissed"
	DuplicateStatusMerged    = "merged"
)

// MatchDetail is the audit trail for one compared field of a winning rule.
type MatchDetail struct {
	ComparisonType MatchType      `json:"comparisonType"`
	Value1         string         `json:"value1"`
	Value2         string         `json:"value2"`
	Score          float64        `json:"score"`
	Extras         map[string]any `json:"extras,omitempty"`
}

// DuplicateCandidate is a scored pairing of two records suspected to be
// duplicates. RecordIDLow sorts before RecordIDHigh so the pair key is
// canonical regardless of comparison direction.
type DuplicateCandidate struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organizationId"`
	EntityType     EntityType `json:"entityType"`

	RecordIDLow  string `json:"recordIdLow"`
	RecordIDHigh string `json:"recordIdHigh"`

	// Average of per-field scores across fields actually compared under
	// the winning rule. Always >= 0.5, the global acceptance floor.
	ConfidenceScore float64 `json:"confidenceScore"`

	// Fields that met the match bar for the winning rule.
	MatchedFields []string `json:"matchedFields"`

	// Per-field audit trail for human review.
	MatchDetails map[string]MatchDetail `json:"matchDetails"`

	// Rule that produced this candidate.
	RuleID string `json:"ruleId,omitempty"`

	// Review status. Set to "pending" on first insert and owned by humans
	// afterwards; re-running detection never overwrites it.
	Status string `json:"status"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// PairKey returns the canonical pair key used to suppress duplicate
// emission of the same unordered record pair within a run.
func (d *DuplicateCandidate) PairKey() string {
	return d.RecordIDLow + "|" + d.RecordIDHigh
}

// CanonicalPair orders two record ids so the smaller sorts first.
func CanonicalPair(a, b string) (low, high string) {
	if a < b {
		return a, b
	}
	return b, a
}
