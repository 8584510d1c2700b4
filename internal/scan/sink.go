package scan

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/hirewise/magpie/internal/domain"
)

// ResultSink persists duplicate candidates with ignore-on-conflict
// semantics. One bad row never voids the rest of the batch.
type ResultSink struct {
	repo domain.Repository
}

// NewResultSink creates a result sink backed by the repository.
func NewResultSink(repo domain.Repository) *ResultSink {
	return &ResultSink{repo: repo}
}

// Persist upserts every candidate and tallies the outcome. Rows that
// already exist are skipped untouched, preserving any review status a
// human has assigned. Individual write failures are logged and counted
// but do not abort the batch.
func (s *ResultSink) Persist(ctx context.Context, organizationID string, candidates []*domain.DuplicateCandidate) (inserted, skipped, failed int) {
	for _, dup := range candidates {
		if dup.ID == "" {
			dup.ID = uuid.New().String()
		}
		dup.Status = domain.DuplicateStatusPending

		ok, err := s.repo.InsertDuplicateIfAbsent(ctx, organizationID, dup)
		if err != nil {
			failed++
			slog.Error("failed to persist duplicate candidate",
				"organization_id", organizationID,
				"record_id_low", dup.RecordIDLow,
				"record_id_high", dup.RecordIDHigh,
				"error", err,
			)
			continue
		}

		if ok {
			inserted++
		} else {
			skipped++
		}
	}

	return inserted, skipped, failed
}
