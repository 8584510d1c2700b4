package scan

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hirewise/magpie/internal/domain"
	"github.com/hirewise/magpie/internal/match"
)

// Detector runs one detection batch end to end:
// Rule Provider -> Record Fetcher -> Matcher Engine -> Result Sink.
//
// A run is a single-threaded batch. Nothing prevents two concurrent runs
// for the same organization and entity type: the sink's ignore-on-conflict
// upsert keeps that safe, though each caller's inserted count may
// undercount if a race loses the write.
type Detector struct {
	provider *RuleProvider
	fetcher  *RecordFetcher
	sink     *ResultSink
	engine   *match.Engine
	cache    domain.Cache
}

// NewDetector wires a detector from its storage and cache dependencies.
func NewDetector(repo domain.Repository, cache domain.Cache, cfg domain.DetectorConfig) *Detector {
	return &Detector{
		provider: NewRuleProvider(repo, cache, cfg.RuleCacheTTL),
		fetcher:  NewRecordFetcher(repo, cfg.MaxRecords),
		sink:     NewResultSink(repo),
		engine:   match.NewEngine(),
		cache:    cache,
	}
}

// Run executes one detection batch and returns its report. Fetch-stage
// errors are fatal for the run; persistence errors are absorbed into the
// report's failed tally.
func (d *Detector) Run(ctx context.Context, req *domain.ScanRequest) (*domain.ScanReport, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()

	rules, err := d.provider.Resolve(ctx, req.OrganizationID, req.EntityType, req.RuleID)
	if err != nil {
		return nil, err
	}

	compiled, err := match.CompileRules(rules)
	if err != nil {
		return nil, fmt.Errorf("failed to compile rules: %w", err)
	}

	records, err := d.fetcher.Fetch(ctx, req.OrganizationID, req.EntityType, rules)
	if err != nil {
		return nil, err
	}

	duplicates := d.engine.FindDuplicates(records, compiled)

	inserted, skipped, failed := d.sink.Persist(ctx, req.OrganizationID, duplicates)

	if d.cache != nil {
		if _, err := d.cache.IncrementCounter(ctx, req.OrganizationID, "scans:"+string(req.EntityType), 24*time.Hour); err != nil {
			slog.Warn("failed to bump scan counter",
				"organization_id", req.OrganizationID,
				"error", err,
			)
		}
	}

	report := &domain.ScanReport{
		OrganizationID:     req.OrganizationID,
		EntityType:         req.EntityType,
		RecordsScanned:     len(records),
		DuplicatesFound:    len(duplicates),
		DuplicatesInserted: inserted,
		DuplicatesSkipped:  skipped,
		DuplicatesFailed:   failed,
		RulesApplied:       len(rules),
		DurationMs:         time.Since(start).Milliseconds(),
	}

	slog.Info("scan completed",
		"organization_id", req.OrganizationID,
		"entity_type", req.EntityType,
		"records_scanned", report.RecordsScanned,
		"duplicates_found", report.DuplicatesFound,
		"duplicates_inserted", report.DuplicatesInserted,
		"duplicates_failed", report.DuplicatesFailed,
		"rules_applied", report.RulesApplied,
		"duration_ms", report.DurationMs,
	)

	return report, nil
}
