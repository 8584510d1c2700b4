// Package domain defines the core interfaces and types for Magpie.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// EntityType identifies which kind of CRM record a rule or record belongs to.
// The known types carry built-in default match rules; anything else falls
// back to a single exact-match-on-email rule.
type EntityType string

const (
	EntityCandidates EntityType = "candidates"
	EntityContacts   EntityType = "contacts"
	EntityAccounts   EntityType = "accounts"
	EntityLeads      EntityType = "leads"
)

// KnownEntityTypes returns the entity types with built-in default rules.
func KnownEntityTypes() []EntityType {
	return []EntityType{EntityCandidates, EntityContacts, EntityAccounts, EntityLeads}
}

// ParseEntityType normalizes a raw entity type string. Unknown values are
// accepted as-is: they still scan, they just have no tailored defaults.
func ParseEntityType(s string) (EntityType, error) {
	et := EntityType(strings.ToLower(strings.TrimSpace(s)))
	if et == "" {
		return "", fmt.Errorf("entity type is required")
	}
	return et, nil
}

// EntityRecord is a single CRM record snapshot. The engine only ever looks
// at the identifier and the fields referenced by active match rules; the
// Fields map may carry anything the upstream ATS stores.
type EntityRecord struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organizationId"`
	EntityType     EntityType `json:"entityType"`

	// Field name -> scalar value (string, number, bool or nil)
	Fields map[string]any `json:"fields"`

	Deleted   bool      `json:"deleted,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// FieldString returns the record's value for a field rendered as a trimmed
// string, and whether the field carries a usable (non-empty) value.
// Numbers and booleans are stringified; nil and empty strings do not count.
func (r *EntityRecord) FieldString(field string) (string, bool) {
	v, ok := r.Fields[field]
	if !ok || v == nil {
		return "", false
	}

	var s string
	switch val := v.(type) {
	case string:
		s = val
	case float64:
		// JSON numbers decode as float64; render integers without a
		// trailing ".0" so 42 and "42" compare equal.
		if val == float64(int64(val)) {
			s = fmt.Sprintf("%d", int64(val))
		} else {
			s = fmt.Sprintf("%v", val)
		}
	default:
		s = fmt.Sprintf("%v", val)
	}

	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	return s, true
}
