package sanitize

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clipvault/clipvault/internal/config"
	"github.com/clipvault/clipvault/internal/logger"
	"github.com/clipvault/clipvault/internal/rules"
)

// Detection records one auto-detected sensitive match. Spans refer to the
// buffer as it stood when the owning pattern scanned it.
type Detection struct {
	PatternID   string         `json:"patternId"`
	PatternName string         `json:"patternName"`
	Category    rules.Category `json:"category"`
	MatchedText string         `json:"matchedText"`
	Span        Span           `json:"span"`
	Confidence  float64        `json:"confidence"`
	Redacted    bool           `json:"redacted"`
}

// RuleHit records one user-rule application
type RuleHit struct {
	RuleID   uuid.UUID    `json:"ruleId"`
	RuleName string       `json:"ruleName"`
	Action   rules.Action `json:"action"`
	Span     Span         `json:"span"`
}

// Result contains the outcome of one sanitize pass
type Result struct {
	Sanitized  string      `json:"sanitized"`
	Hits       []RuleHit   `json:"hits"`
	Detections []Detection `json:"detections"`
	Original   string      `json:"-"` // Never serialize original text
}

// Changed reports whether the pass rewrote anything
func (r Result) Changed() bool {
	return r.Sanitized != r.Original
}

// Engine runs captured text through the user rules and the builtin
// sensitive patterns. Scanning is read-only over the library; each pass
// folds the buffer into a new string, so callers can run Sanitize from any
// goroutine.
type Engine struct {
	library *rules.Library
	applier Applier
	enabled bool
	logger  *logger.Logger
}

// NewEngine creates a sanitization engine backed by a rule library
func NewEngine(cfg config.SanitizeConfig, library *rules.Library, log *logger.Logger) *Engine {
	return &Engine{
		library: library,
		applier: Applier{
			MaskChar:    cfg.MaskChar,
			Placeholder: cfg.Placeholder,
		},
		enabled: cfg.Enabled,
		logger:  log,
	}
}

// Enabled reports whether scanning is switched on
func (e *Engine) Enabled() bool { return e.enabled }

// ActiveRules returns how many user rules and builtin patterns are live
func (e *Engine) ActiveRules() int {
	if !e.enabled {
		return 0
	}
	return len(e.library.EnabledRules()) + len(e.library.EnabledPatterns())
}

// Sanitize rewrites sensitive spans of text. User rules apply first in
// descending priority order, each scanning the buffer left by the rules
// before it; builtin patterns follow in catalog order, rewriting only at or
// above the auto-redaction threshold. Within one rule, spans are rewritten
// rightmost-first.
func (e *Engine) Sanitize(text string) Result {
	result := Result{
		Sanitized:  text,
		Hits:       []RuleHit{},
		Detections: []Detection{},
		Original:   text,
	}
	if !e.enabled {
		return result
	}

	buf := text

	for _, rule := range e.library.EnabledRules() {
		spans := matchSpans(rule.Regexp, buf, false)
		for _, span := range spans {
			matched := buf[span.Start:span.End]
			buf = buf[:span.Start] + e.applier.Apply(rule.Action, rule.Replacement, matched) + buf[span.End:]
			result.Hits = append(result.Hits, RuleHit{
				RuleID:   rule.ID,
				RuleName: rule.Name,
				Action:   rule.Action,
				Span:     span,
			})
		}
		if len(spans) > 0 {
			e.logger.Debug("Sanitization rule applied",
				zap.String("rule", rule.Name),
				zap.String("action", string(rule.Action)),
				zap.Int("count", len(spans)),
			)
		}
	}

	for _, pattern := range e.library.EnabledPatterns() {
		spans := matchSpans(pattern.Regexp, buf, pattern.FixedWidth)
		for _, span := range spans {
			matched := buf[span.Start:span.End]
			confidence := Score(pattern, matched)

			detection := Detection{
				PatternID:   pattern.ID,
				PatternName: pattern.Name,
				Category:    pattern.Category,
				MatchedText: matched,
				Span:        span,
				Confidence:  confidence,
				Redacted:    confidence >= AutoRedactThreshold,
			}
			if detection.Redacted {
				buf = buf[:span.Start] + e.applier.Apply(rules.ActionMask, "", matched) + buf[span.End:]
			}
			result.Detections = append(result.Detections, detection)

			e.logger.Debug("Sensitive data detected",
				zap.String("pattern", pattern.ID),
				zap.Float64("confidence", confidence),
				zap.Bool("redacted", detection.Redacted),
			)
		}
	}

	result.Sanitized = buf
	return result
}
