package rules

import (
	"regexp"

	"github.com/google/uuid"
)

// Action determines how a matched span is rewritten
type Action string

const (
	ActionMask      Action = "mask"      // replace with mask characters of equal length
	ActionRename    Action = "rename"    // replace with a configured placeholder
	ActionObfuscate Action = "obfuscate" // replace with a digest marker
	ActionRemove    Action = "remove"    // delete the span
)

// Valid reports whether the action is one of the supported rewrite actions
func (a Action) Valid() bool {
	switch a {
	case ActionMask, ActionRename, ActionObfuscate, ActionRemove:
		return true
	}
	return false
}

// Category classifies builtin sensitive patterns for confidence scoring
type Category string

const (
	CategoryPayment      Category = "payment"
	CategoryCredentials  Category = "credentials"
	CategoryGovernmentID Category = "government_id"
	CategoryNetwork      Category = "network"
	CategoryContact      Category = "contact"
)

// SanitizationRule is a user-defined rewrite rule applied to captured text.
// Rules are ordered by descending priority; the pattern is kept as source so
// the rule survives export/import even when it fails to compile.
type SanitizationRule struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Pattern     string    `json:"pattern"`
	Enabled     bool      `json:"enabled"`
	Action      Action    `json:"action"`
	Replacement string    `json:"replacement,omitempty"`
	Priority    int       `json:"priority"`
}

// CompiledRule pairs a rule with its compiled pattern. A rule whose pattern
// fails to compile is inert: it stays in the library but never matches.
type CompiledRule struct {
	SanitizationRule
	Regexp *regexp.Regexp
	Err    error
}

// Inert reports whether the rule is excluded from matching
func (r *CompiledRule) Inert() bool {
	return r.Regexp == nil
}

// SensitivePattern is a builtin auto-detection pattern. Matches are scored
// for confidence and only rewritten above the auto-redaction threshold.
type SensitivePattern struct {
	ID          string
	Name        string
	Category    Category
	Description string
	// FixedWidth exempts the pattern from the minimum span length check
	// (card-number shaped patterns match fixed-width digit runs).
	FixedWidth bool
	Regexp     *regexp.Regexp
}
