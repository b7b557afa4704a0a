package rules

import (
	"encoding/json"
	"fmt"
)

// interchangeVersion is the current rule file format version
const interchangeVersion = 1

// ruleFile is the versioned envelope for rule import/export
type ruleFile struct {
	Version int          `json:"version"`
	Rules   []RuleRecord `json:"rules"`
}

// RuleRecord is the wire form of a sanitization rule
type RuleRecord struct {
	Name        string `json:"name"`
	Pattern     string `json:"pattern"`
	Enabled     bool   `json:"enabled"`
	Action      Action `json:"action"`
	Replacement string `json:"replacement,omitempty"`
	Priority    int    `json:"priority"`
}

// Export serializes user rules into the versioned envelope
func Export(rules []SanitizationRule) ([]byte, error) {
	file := ruleFile{
		Version: interchangeVersion,
		Rules:   make([]RuleRecord, 0, len(rules)),
	}
	for _, r := range rules {
		file.Rules = append(file.Rules, RuleRecord{
			Name:        r.Name,
			Pattern:     r.Pattern,
			Enabled:     r.Enabled,
			Action:      r.Action,
			Replacement: r.Replacement,
			Priority:    r.Priority,
		})
	}
	return json.MarshalIndent(file, "", "  ")
}

// Import parses a rule file. The primary format is the versioned envelope;
// a bare JSON array of rule records is accepted as the legacy fallback only
// when envelope parsing fails. A malformed file is rejected all-or-nothing:
// either every record is structurally valid or no rules are returned.
func Import(data []byte) ([]SanitizationRule, error) {
	var file ruleFile
	envErr := json.Unmarshal(data, &file)
	if envErr == nil && file.Version != 0 {
		if file.Version != interchangeVersion {
			return nil, fmt.Errorf("unsupported rule file version: %d", file.Version)
		}
		return validateRecords(file.Rules)
	}

	// Legacy fallback: bare array of rule records
	var records []RuleRecord
	if err := json.Unmarshal(data, &records); err != nil {
		if envErr != nil {
			return nil, fmt.Errorf("failed to parse rule file: %w", envErr)
		}
		return nil, fmt.Errorf("failed to parse rule file: %w", err)
	}
	return validateRecords(records)
}

// validateRecords checks every record before any rule is materialized
func validateRecords(records []RuleRecord) ([]SanitizationRule, error) {
	for i, rec := range records {
		if rec.Name == "" {
			return nil, fmt.Errorf("rule %d: missing name", i)
		}
		if rec.Pattern == "" {
			return nil, fmt.Errorf("rule %d (%s): missing pattern", i, rec.Name)
		}
		if !rec.Action.Valid() {
			return nil, fmt.Errorf("rule %d (%s): invalid action: %s", i, rec.Name, rec.Action)
		}
	}

	rules := make([]SanitizationRule, 0, len(records))
	for _, rec := range records {
		rules = append(rules, SanitizationRule{
			Name:        rec.Name,
			Pattern:     rec.Pattern,
			Enabled:     rec.Enabled,
			Action:      rec.Action,
			Replacement: rec.Replacement,
			Priority:    rec.Priority,
		})
	}
	return rules, nil
}
