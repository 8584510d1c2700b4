package match

import (
	"fmt"

	"github.com/agnivade/levenshtein"
	"github.com/google/cel-go/cel"

	"github.com/hirewise/magpie/internal/domain"
)

const (
	// AcceptanceFloor is the global minimum confidence for a pair to be
	// emitted as a duplicate candidate. It is independent of a rule's
	// FuzzyThreshold, which only gates per-field matching.
	AcceptanceFloor = 0.5

	// PhoneticScore is the fixed score a phonetic field match contributes.
	PhoneticScore = 0.8
)

// CompiledRule pairs a match rule with its compiled filter program.
type CompiledRule struct {
	Rule   *domain.MatchRule
	filter cel.Program
}

// CompileRules validates rules and compiles their filter expressions.
// Rule order is preserved: callers put the most confident rules first.
func CompileRules(rules []*domain.MatchRule) ([]*CompiledRule, error) {
	compiled := make([]*CompiledRule, 0, len(rules))
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.ID, err)
		}
		program, err := CompileFilter(r.FilterExpression)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.ID, err)
		}
		compiled = append(compiled, &CompiledRule{Rule: r, filter: program})
	}
	return compiled, nil
}

// Engine evaluates record pairs against match rules. It holds no mutable
// state: FindDuplicates is a pure function of its inputs.
type Engine struct {
	acceptFloor float64
}

// NewEngine creates a matcher engine with the global acceptance floor.
func NewEngine() *Engine {
	return &Engine{acceptFloor: AcceptanceFloor}
}

// FindDuplicates compares every unordered record pair against the rules
// in order and returns at most one candidate per pair. The first rule
// that produces a qualifying match wins; later rules are not evaluated
// for that pair. Input order does not affect which pairs are found.
func (e *Engine) FindDuplicates(records []*domain.EntityRecord, rules []*CompiledRule) []*domain.DuplicateCandidate {
	var duplicates []*domain.DuplicateCandidate
	seen := make(map[string]bool)

	for i := 0; i < len(records); i++ {
		for j := i + 1; j < len(records); j++ {
			a, b := records[i], records[j]

			low, high := domain.CanonicalPair(a.ID, b.ID)
			pairKey := low + "|" + high
			if seen[pairKey] {
				continue
			}

			for _, cr := range rules {
				if !evalFilter(cr.filter, a) || !evalFilter(cr.filter, b) {
					continue
				}

				result := e.comparePair(a, b, cr.Rule)
				if result == nil {
					continue
				}

				seen[pairKey] = true
				duplicates = append(duplicates, &domain.DuplicateCandidate{
					OrganizationID:  a.OrganizationID,
					EntityType:      a.EntityType,
					RecordIDLow:     low,
					RecordIDHigh:    high,
					ConfidenceScore: result.confidence,
					MatchedFields:   result.matchedFields,
					MatchDetails:    result.details,
					RuleID:          cr.Rule.ID,
				})
				break
			}
		}
	}

	return duplicates
}

// pairResult accumulates one rule's field comparisons for a record pair.
type pairResult struct {
	confidence    float64
	matchedFields []string
	details       map[string]domain.MatchDetail
}

// comparePair evaluates one rule against a record pair. It returns nil
// unless at least one field matched and the averaged score clears the
// acceptance floor.
func (e *Engine) comparePair(a, b *domain.EntityRecord, rule *domain.MatchRule) *pairResult {
	var (
		totalScore     float64
		fieldsCompared int
		matchedFields  []string
		details        = make(map[string]domain.MatchDetail)
	)

	for _, field := range rule.MatchFields {
		v1, ok1 := a.FieldString(field)
		v2, ok2 := b.FieldString(field)
		if !ok1 || !ok2 {
			// Missing data is neither penalized nor counted.
			continue
		}

		score, matched, extras := compareValues(rule, v1, v2)

		// Every compared field counts toward the tally, matched or not:
		// a rule with three fields where one matches exactly and two do
		// not must average to 1/3, not 1.0.
		fieldsCompared++
		totalScore += score

		if matched {
			matchedFields = append(matchedFields, field)
		}

		details[field] = domain.MatchDetail{
			ComparisonType: rule.MatchType,
			Value1:         v1,
			Value2:         v2,
			Score:          score,
			Extras:         extras,
		}
	}

	if len(matchedFields) == 0 || fieldsCompared == 0 {
		return nil
	}

	confidence := totalScore / float64(fieldsCompared)
	if confidence < e.acceptFloor {
		return nil
	}

	return &pairResult{
		confidence:    confidence,
		matchedFields: matchedFields,
		details:       details,
	}
}

// compareValues scores a single field under the rule's comparison type.
func compareValues(rule *domain.MatchRule, v1, v2 string) (score float64, matched bool, extras map[string]any) {
	n1, n2 := normalize(v1), normalize(v2)

	switch rule.MatchType {
	case domain.MatchExact:
		if n1 == n2 {
			return 1.0, true, nil
		}
		return 0.0, false, nil

	case domain.MatchPhonetic:
		c1, c2 := Soundex(v1), Soundex(v2)
		extras = map[string]any{"code1": c1, "code2": c2}
		if c1 != "" && c1 == c2 {
			return PhoneticScore, true, extras
		}
		return 0.0, false, extras

	case domain.MatchFuzzy:
		similarity := DiceCoefficient(n1, n2)
		extras = map[string]any{
			"threshold":           rule.FuzzyThreshold,
			"levenshteinDistance": levenshtein.ComputeDistance(n1, n2),
		}
		return similarity, similarity >= rule.FuzzyThreshold, extras
	}

	return 0.0, false, nil
}
