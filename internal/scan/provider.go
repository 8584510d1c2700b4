// Package scan orchestrates a duplicate-detection run: rule resolution,
// record fetching, pairwise matching, and result persistence.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hirewise/magpie/internal/domain"
	"github.com/hirewise/magpie/internal/match"
	"github.com/hirewise/magpie/internal/repository"
)

// RuleProvider resolves the ordered rule list for a run. Resolution order:
// a caller-specified rule, then the organization's configured rules, then
// the built-in defaults for the entity type. It never fails for "no rules
// found" — only for storage errors.
type RuleProvider struct {
	repo    domain.Repository
	cache   domain.Cache
	ruleTTL time.Duration
}

// NewRuleProvider creates a rule provider. cache may be nil to disable
// rule-list caching.
func NewRuleProvider(repo domain.Repository, cache domain.Cache, ruleTTL time.Duration) *RuleProvider {
	if ruleTTL <= 0 {
		ruleTTL = 5 * time.Minute
	}
	return &RuleProvider{repo: repo, cache: cache, ruleTTL: ruleTTL}
}

// Resolve returns a non-empty ordered rule list for the run.
func (p *RuleProvider) Resolve(ctx context.Context, organizationID string, entityType domain.EntityType, ruleID string) ([]*domain.MatchRule, error) {
	var rules []*domain.MatchRule

	if ruleID != "" {
		rule, err := p.repo.GetMatchRule(ctx, organizationID, ruleID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			// Unknown rule id resolves to an empty list and falls back
			// to defaults below.
		case err != nil:
			return nil, fmt.Errorf("failed to fetch rule %s: %w", ruleID, err)
		case rule.Enabled:
			rules = []*domain.MatchRule{rule}
		}
	} else {
		var err error
		rules, err = p.listRules(ctx, organizationID, entityType)
		if err != nil {
			return nil, err
		}
	}

	if len(rules) == 0 {
		rules = match.DefaultRules(entityType)
		slog.Debug("no configured rules, using defaults",
			"organization_id", organizationID,
			"entity_type", entityType,
			"default_count", len(rules),
		)
	}

	return rules, nil
}

// listRules loads the organization's enabled rules, consulting the cache
// first. A cache failure falls through to storage.
func (p *RuleProvider) listRules(ctx context.Context, organizationID string, entityType domain.EntityType) ([]*domain.MatchRule, error) {
	if p.cache != nil {
		cached, err := p.cache.GetRules(ctx, organizationID, entityType)
		if err == nil && cached != nil {
			return cached, nil
		}
	}

	rules, err := p.repo.ListMatchRules(ctx, organizationID, entityType)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}

	if p.cache != nil && len(rules) > 0 {
		if err := p.cache.SetRules(ctx, organizationID, entityType, rules, p.ruleTTL); err != nil {
			slog.Warn("failed to cache rules",
				"organization_id", organizationID,
				"entity_type", entityType,
				"error", err,
			)
		}
	}

	return rules, nil
}
