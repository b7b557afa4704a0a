package sanitize

import (
	"strings"
	"unicode/utf8"

	"github.com/clipvault/clipvault/internal/rules"
)

// AutoRedactThreshold is the confidence at or above which an auto-detected
// match is rewritten. This is policy, not configuration: lowering it
// silently would change what leaves the machine readable.
const AutoRedactThreshold = 0.8

// placeholderTokens mark values that look like documentation examples
// rather than live credentials
var placeholderTokens = []string{
	"example", "test", "sample", "dummy", "placeholder", "yourkey",
}

// Score assigns a confidence in [0,1] to a builtin pattern match.
// The heuristics are deterministic: same input, same score.
func Score(p rules.SensitivePattern, matched string) float64 {
	score := 0.5

	switch p.Category {
	case rules.CategoryPayment:
		if luhnValid(digitsOf(matched)) {
			score = 0.9
		} else {
			score = 0.3
		}
	case rules.CategoryGovernmentID:
		score = 0.85
	case rules.CategoryCredentials:
		score = 0.8
		lower := strings.ToLower(matched)
		for _, tok := range placeholderTokens {
			if strings.Contains(lower, tok) {
				score = 0.2
				break
			}
		}
	case rules.CategoryContact:
		if strings.Contains(p.ID, "email") {
			if strings.Contains(matched, "@") && strings.Contains(matched, ".") {
				score = 0.75
			} else {
				score = 0.3
			}
		} else {
			if len(digitsOf(matched)) >= 10 {
				score = 0.7
			} else {
				score = 0.4
			}
		}
	default:
		score = 0.6
	}

	// Very short matches carry too little shape to trust fully
	if utf8.RuneCountInString(matched) < 6 {
		score *= 0.8
	}

	return score
}
