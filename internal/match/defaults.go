package match

import "github.com/hirewise/magpie/internal/domain"

// DefaultRules returns the built-in match rules for an entity type, used
// when an organization has no rules configured. Entity types outside the
// known enumeration fall back to a single exact match on email.
//
// Defaults are ordered most-confident first: a unique-identifier exact
// rule, then a fuzzy composite on names.
func DefaultRules(entityType domain.EntityType) []*domain.MatchRule {
	switch entityType {
	case domain.EntityCandidates:
		return []*domain.MatchRule{
			{
				ID:          "default-candidates-email",
				Name:        "Candidate email (exact)",
				EntityType:  entityType,
				MatchFields: []string{"email"},
				MatchType:   domain.MatchExact,
				Enabled:     true,
			},
			{
				ID:             "default-candidates-name",
				Name:           "Candidate name (fuzzy)",
				EntityType:     entityType,
				MatchFields:    []string{"first_name", "last_name"},
				MatchType:      domain.MatchFuzzy,
				FuzzyThreshold: 0.85,
				Enabled:        true,
			},
		}

	case domain.EntityContacts:
		return []*domain.MatchRule{
			{
				ID:          "default-contacts-email",
				Name:        "Contact email (exact)",
				EntityType:  entityType,
				MatchFields: []string{"email"},
				MatchType:   domain.MatchExact,
				Enabled:     true,
			},
			{
				ID:             "default-contacts-name",
				Name:           "Contact name (fuzzy)",
				EntityType:     entityType,
				MatchFields:    []string{"first_name", "last_name"},
				MatchType:      domain.MatchFuzzy,
				FuzzyThreshold: 0.85,
				Enabled:        true,
			},
		}

	case domain.EntityAccounts:
		return []*domain.MatchRule{
			{
				ID:          "default-accounts-website",
				Name:        "Account website (exact)",
				EntityType:  entityType,
				MatchFields: []string{"website"},
				MatchType:   domain.MatchExact,
				Enabled:     true,
			},
			{
				ID:             "default-accounts-name",
				Name:           "Account name (fuzzy)",
				EntityType:     entityType,
				MatchFields:    []string{"account_name"},
				MatchType:      domain.MatchFuzzy,
				FuzzyThreshold: 0.8,
				Enabled:        true,
			},
		}

	case domain.EntityLeads:
		return []*domain.MatchRule{
			{
				ID:          "default-leads-email",
				Name:        "Lead email (exact)",
				EntityType:  entityType,
				MatchFields: []string{"email"},
				MatchType:   domain.MatchExact,
				Enabled:     true,
			},
			{
				ID:             "default-leads-name-company",
				Name:           "Lead name and company (fuzzy)",
				EntityType:     entityType,
				MatchFields:    []string{"first_name", "last_name", "company"},
				MatchType:      domain.MatchFuzzy,
				FuzzyThreshold: 0.8,
				Enabled:        true,
			},
		}
	}

	return []*domain.MatchRule{
		{
			ID:          "default-generic-email",
			Name:        "Email (exact)",
			EntityType:  entityType,
			MatchFields: []string{"email"},
			MatchType:   domain.MatchExact,
			Enabled:     true,
		},
	}
}
