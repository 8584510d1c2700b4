package domain

import (
	"fmt"
	"time"
)

// MatchType selects the comparison strategy a rule applies to its fields.
type MatchType string

const (
	// MatchExact is case-insensitive, whitespace-trimmed string equality.
	MatchExact MatchType = "exact"

	// MatchFuzzy is bigram Dice similarity gated by FuzzyThreshold.
	MatchFuzzy MatchType = "fuzzy"

	// MatchPhonetic compares Soundex codes. A phonetic hit scores a fixed
	// 0.8 rather than 1.0 to reflect the coarser signal.
	MatchPhonetic MatchType = "phonetic"
)

// MatchRule defines one duplicate-detection rule configuration.
// Rules are evaluated in order; for any record pair the first rule that
// produces a qualifying match wins and later rules are skipped.
type MatchRule struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organizationId"`
	Name           string     `json:"name"`
	EntityType     EntityType `json:"entityType"`

	// Fields compared by this rule. Order affects iteration only, not scoring.
	MatchFields []string `json:"matchFields"`

	// Strategy applied uniformly to every field in MatchFields.
	MatchType MatchType `json:"matchType"`

	// Minimum per-field Dice similarity for a fuzzy field to count as a
	// match. Ignored for exact and phonetic rules.
	FuzzyThreshold float64 `json:"fuzzyThreshold,omitempty"`

	// Optional CEL predicate over the record's fields. When set, the rule
	// only considers records for which the expression evaluates to true.
	// The record is exposed as the map variable "record".
	FilterExpression string `json:"filterExpression,omitempty"`

	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// Validate checks the invariants a rule must satisfy before it is stored
// or evaluated.
func (r *MatchRule) Validate() error {
	if len(r.MatchFields) == 0 {
		return fmt.Errorf("matchFields must not be empty")
	}
	for _, f := range r.MatchFields {
		if f == "" {
			return fmt.Errorf("matchFields must not contain empty field names")
		}
	}

	switch r.MatchType {
	case MatchExact, MatchPhonetic:
	case MatchFuzzy:
		if r.FuzzyThreshold <= 0 || r.FuzzyThreshold > 1 {
			return fmt.Errorf("fuzzyThreshold must be in (0,1], got %v", r.FuzzyThreshold)
		}
	default:
		return fmt.Errorf("unknown matchType %q", r.MatchType)
	}

	return nil
}
