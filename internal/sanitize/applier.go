package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode/utf8"

	"github.com/clipvault/clipvault/internal/rules"
)

// Applier turns a matched span into its replacement text
type Applier struct {
	MaskChar    string
	Placeholder string
}

// Apply executes a rewrite action against the matched text
func (a Applier) Apply(action rules.Action, replacement, matched string) string {
	switch action {
	case rules.ActionMask:
		// Equal-length masking: the content is hidden, the length knowingly
		// is not
		return strings.Repeat(a.maskChar(), utf8.RuneCountInString(matched))
	case rules.ActionRename:
		if replacement != "" {
			return replacement
		}
		return a.placeholder()
	case rules.ActionObfuscate:
		return obfuscate(matched)
	case rules.ActionRemove:
		return ""
	}
	// Unknown actions leave the text untouched rather than corrupt it
	return matched
}

func (a Applier) maskChar() string {
	if a.MaskChar == "" {
		return "*"
	}
	return a.MaskChar
}

func (a Applier) placeholder() string {
	if a.Placeholder == "" {
		return "[REDACTED]"
	}
	return a.Placeholder
}

// obfuscate wraps the first 8 hex characters of a one-way digest of the
// matched bytes, enough to correlate repeats without recovering the value
func obfuscate(matched string) string {
	sum := sha256.Sum256([]byte(matched))
	return "[OBFUSCATED:" + hex.EncodeToString(sum[:4]) + "]"
}
