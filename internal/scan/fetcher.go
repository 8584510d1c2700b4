package scan

import (
	"context"
	"fmt"

	"github.com/hirewise/magpie/internal/domain"
)

// RecordFetcher loads the candidate records for a run, projected to the
// fields the active rules reference.
type RecordFetcher struct {
	repo       domain.Repository
	maxRecords int
}

// NewRecordFetcher creates a record fetcher with the configured record cap.
func NewRecordFetcher(repo domain.Repository, maxRecords int) *RecordFetcher {
	if maxRecords <= 0 {
		maxRecords = 10000
	}
	return &RecordFetcher{repo: repo, maxRecords: maxRecords}
}

// Fetch returns the live records for the organization and entity type,
// capped at MaxRecords. The cap bounds the O(n^2) matcher cost; callers
// needing more must pre-partition their data before scanning.
func (f *RecordFetcher) Fetch(ctx context.Context, organizationID string, entityType domain.EntityType, rules []*domain.MatchRule) ([]*domain.EntityRecord, error) {
	fields := projectedFields(rules)

	records, err := f.repo.ListEntityRecords(ctx, organizationID, entityType, fields, f.maxRecords)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch records: %w", err)
	}
	if records == nil {
		return nil, fmt.Errorf("record fetch returned no payload for %s/%s", organizationID, entityType)
	}

	return records, nil
}

// projectedFields returns the union of fields referenced across all rules,
// or nil (no projection) when any rule carries a filter expression, since
// a filter may reference fields outside the rule's match list.
func projectedFields(rules []*domain.MatchRule) []string {
	seen := make(map[string]bool)
	var fields []string

	for _, rule := range rules {
		if rule.FilterExpression != "" {
			return nil
		}
		for _, f := range rule.MatchFields {
			if !seen[f] {
				seen[f] = true
				fields = append(fields, f)
			}
		}
	}

	return fields
}
