package rules

import (
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clipvault/clipvault/internal/logger"
)

// Library holds the builtin sensitive patterns and the user-defined
// sanitization rules. It is safe for concurrent use: scans read snapshots
// while imports and config reloads swap the rule set underneath.
type Library struct {
	mu       sync.RWMutex
	patterns []SensitivePattern
	enabled  map[string]bool
	rules    []CompiledRule
	logger   *logger.Logger
}

// New creates a rule library with the builtin pattern catalog
func New(detectors []string, log *logger.Logger) (*Library, error) {
	lib := &Library{
		patterns: DefaultPatterns(),
		enabled:  make(map[string]bool),
		logger:   log,
	}

	if err := lib.Configure(detectors); err != nil {
		return nil, fmt.Errorf("failed to configure detectors: %w", err)
	}

	log.Info("Rule library initialized",
		zap.Int("builtin_patterns", len(lib.patterns)),
		zap.Int("enabled_patterns", lib.countEnabled()),
	)

	return lib, nil
}

// Configure enables/disables builtin patterns based on configuration.
// Entries may name a pattern ID, a category, or "all".
func (l *Library) Configure(detectors []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Disable all patterns by default
	for _, p := range l.patterns {
		l.enabled[p.ID] = false
	}

	for _, detector := range detectors {
		if detector == "all" {
			for _, p := range l.patterns {
				l.enabled[p.ID] = true
			}
			continue
		}

		found := false
		for _, p := range l.patterns {
			if p.ID == detector || string(p.Category) == detector {
				l.enabled[p.ID] = true
				found = true
			}
		}

		if !found {
			return fmt.Errorf("unknown detector: %s", detector)
		}
	}

	return nil
}

// AddRule compiles and stores a user rule. A pattern that fails to compile
// leaves the rule inert: kept for export, skipped by matching.
func (l *Library) AddRule(rule SanitizationRule) {
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}

	compiled := CompiledRule{SanitizationRule: rule}
	re, err := regexp.Compile(rule.Pattern)
	if err != nil {
		compiled.Err = err
		l.logger.Warn("Rule pattern failed to compile, rule is inert",
			zap.String("rule", rule.Name),
			zap.Error(err),
		)
	} else {
		compiled.Regexp = re
	}

	l.mu.Lock()
	l.rules = append(l.rules, compiled)
	l.mu.Unlock()
}

// SetRules replaces the entire user rule set (import and config reload path)
func (l *Library) SetRules(rules []SanitizationRule) {
	l.mu.Lock()
	l.rules = l.rules[:0]
	l.mu.Unlock()

	for _, rule := range rules {
		l.AddRule(rule)
	}

	l.logger.Info("User rules replaced", zap.Int("count", len(rules)))
}

// Rules returns a snapshot of the user rules for export
func (l *Library) Rules() []SanitizationRule {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]SanitizationRule, 0, len(l.rules))
	for _, r := range l.rules {
		out = append(out, r.SanitizationRule)
	}
	return out
}

// EnabledRules returns the enabled, compilable user rules ordered by
// descending priority. Ties keep insertion order.
func (l *Library) EnabledRules() []CompiledRule {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]CompiledRule, 0, len(l.rules))
	for _, r := range l.rules {
		if r.Enabled && !r.Inert() {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})
	return out
}

// EnabledPatterns returns the enabled builtin patterns in catalog order
func (l *Library) EnabledPatterns() []SensitivePattern {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]SensitivePattern, 0, len(l.patterns))
	for _, p := range l.patterns {
		if l.enabled[p.ID] {
			out = append(out, p)
		}
	}
	return out
}

// EnableRule enables a user rule by name
func (l *Library) EnableRule(name string) error {
	return l.setRuleEnabled(name, true)
}

// DisableRule disables a user rule by name
func (l *Library) DisableRule(name string) error {
	return l.setRuleEnabled(name, false)
}

func (l *Library) setRuleEnabled(name string, enabled bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.rules {
		if l.rules[i].Name == name {
			l.rules[i].Enabled = enabled
			l.logger.Info("User rule toggled",
				zap.String("rule", name),
				zap.Bool("enabled", enabled),
			)
			return nil
		}
	}
	return fmt.Errorf("unknown rule: %s", name)
}

func (l *Library) countEnabled() int {
	count := 0
	for _, enabled := range l.enabled {
		if enabled {
			count++
		}
	}
	return count
}
