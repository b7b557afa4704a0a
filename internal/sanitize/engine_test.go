package sanitize

import (
	"math"
	"regexp"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/clipvault/clipvault/internal/config"
	"github.com/clipvault/clipvault/internal/logger"
	"github.com/clipvault/clipvault/internal/rules"
)

func testLogger() *logger.Logger {
	return &logger.Logger{Logger: zap.NewNop()}
}

func newTestEngine(t *testing.T, detectors []string, userRules []rules.SanitizationRule) *Engine {
	t.Helper()

	lib, err := rules.New(detectors, testLogger())
	if err != nil {
		t.Fatalf("Failed to create rule library: %v", err)
	}
	if len(userRules) > 0 {
		lib.SetRules(userRules)
	}

	cfg := config.SanitizeConfig{
		Enabled:     true,
		MaskChar:    "*",
		Placeholder: "[REDACTED]",
	}
	return NewEngine(cfg, lib, testLogger())
}

// TestEngineSanitize tests the full sanitization pass over captured text
func TestEngineSanitize(t *testing.T) {
	t.Run("PasswordAssignmentMasked", func(t *testing.T) {
		engine := newTestEngine(t, []string{"credentials"}, nil)

		result := engine.Sanitize("password: hunter2")
		if result.Sanitized != "password: *******" {
			t.Errorf("Expected masked password, got %q", result.Sanitized)
		}
		if !result.Changed() {
			t.Error("Result should report a change")
		}
		if len(result.Detections) != 1 {
			t.Fatalf("Expected 1 detection, got %d", len(result.Detections))
		}

		det := result.Detections[0]
		if det.PatternID != "credentials.password_assignment" {
			t.Errorf("Unexpected pattern: %s", det.PatternID)
		}
		if det.Span.Group != 1 {
			t.Errorf("Expected capture group 1, got %d", det.Span.Group)
		}
		if det.MatchedText != "hunter2" {
			t.Errorf("Expected matched text 'hunter2', got %q", det.MatchedText)
		}
		if !det.Redacted {
			t.Error("High-confidence credential should be redacted")
		}
	})

	t.Run("ValidCardMasked", func(t *testing.T) {
		engine := newTestEngine(t, []string{"payment"}, nil)

		result := engine.Sanitize("card 4111111111111111 on file")
		if result.Sanitized != "card "+strings.Repeat("*", 16)+" on file" {
			t.Errorf("Expected masked card number, got %q", result.Sanitized)
		}
		if len(result.Detections) != 1 {
			t.Fatalf("Expected 1 detection, got %d", len(result.Detections))
		}
		if result.Detections[0].Confidence != 0.9 {
			t.Errorf("Luhn-valid card should score 0.9, got %f", result.Detections[0].Confidence)
		}
	})

	t.Run("InvalidLuhnCardKept", func(t *testing.T) {
		engine := newTestEngine(t, []string{"payment"}, nil)

		text := "card 4111111111111112 on file"
		result := engine.Sanitize(text)
		if result.Sanitized != text {
			t.Errorf("Luhn-invalid card should stay readable, got %q", result.Sanitized)
		}
		if result.Changed() {
			t.Error("Result should not report a change")
		}
		if len(result.Detections) != 1 {
			t.Fatalf("Expected 1 detection, got %d", len(result.Detections))
		}

		det := result.Detections[0]
		if det.Confidence != 0.3 {
			t.Errorf("Luhn-invalid card should score 0.3, got %f", det.Confidence)
		}
		if det.Redacted {
			t.Error("Low-confidence detection should not be redacted")
		}
	})

	t.Run("PlaceholderCredentialKept", func(t *testing.T) {
		engine := newTestEngine(t, []string{"credentials"}, nil)

		text := "api_key = example123"
		result := engine.Sanitize(text)
		if result.Sanitized != text {
			t.Errorf("Placeholder value should stay readable, got %q", result.Sanitized)
		}
		if len(result.Detections) != 1 {
			t.Fatalf("Expected 1 detection, got %d", len(result.Detections))
		}
		if result.Detections[0].Confidence != 0.2 {
			t.Errorf("Placeholder credential should score 0.2, got %f", result.Detections[0].Confidence)
		}
	})

	t.Run("EmailDetectedNotRedacted", func(t *testing.T) {
		engine := newTestEngine(t, []string{"contact.email"}, nil)

		text := "contact alice@example.com for access"
		result := engine.Sanitize(text)
		if result.Sanitized != text {
			t.Errorf("Email should stay readable, got %q", result.Sanitized)
		}
		if len(result.Detections) != 1 {
			t.Fatalf("Expected 1 detection, got %d", len(result.Detections))
		}
		if result.Detections[0].Confidence != 0.75 {
			t.Errorf("Email should score 0.75, got %f", result.Detections[0].Confidence)
		}
	})

	t.Run("RulePriorityOrder", func(t *testing.T) {
		engine := newTestEngine(t, nil, []rules.SanitizationRule{
			{Name: "low", Pattern: "secret", Enabled: true, Action: rules.ActionRename, Replacement: "[LOW]", Priority: 1},
			{Name: "high", Pattern: "secret", Enabled: true, Action: rules.ActionRename, Replacement: "[HIGH]", Priority: 10},
		})

		result := engine.Sanitize("my secret")
		if result.Sanitized != "my [HIGH]" {
			t.Errorf("Higher-priority rule should win, got %q", result.Sanitized)
		}
		if len(result.Hits) != 1 {
			t.Fatalf("Expected 1 hit, got %d", len(result.Hits))
		}
		if result.Hits[0].RuleName != "high" {
			t.Errorf("Expected hit from 'high', got %q", result.Hits[0].RuleName)
		}
	})

	t.Run("SequentialPassesShareBuffer", func(t *testing.T) {
		engine := newTestEngine(t, nil, []rules.SanitizationRule{
			{Name: "first", Pattern: "alpha", Enabled: true, Action: rules.ActionRename, Replacement: "beta", Priority: 2},
			{Name: "second", Pattern: "beta", Enabled: true, Action: rules.ActionMask, Priority: 1},
		})

		result := engine.Sanitize("alpha")
		if result.Sanitized != "****" {
			t.Errorf("Second rule should scan the rewritten buffer, got %q", result.Sanitized)
		}
		if len(result.Hits) != 2 {
			t.Errorf("Expected 2 hits, got %d", len(result.Hits))
		}
	})

	t.Run("RightmostFirstRewrite", func(t *testing.T) {
		engine := newTestEngine(t, nil, []rules.SanitizationRule{
			{Name: "digits", Pattern: `\d{4}`, Enabled: true, Action: rules.ActionRemove, Priority: 1},
		})

		result := engine.Sanitize("aa 1234 bb 5678 cc")
		if result.Sanitized != "aa  bb  cc" {
			t.Errorf("Expected both runs removed, got %q", result.Sanitized)
		}
		if len(result.Hits) != 2 {
			t.Fatalf("Expected 2 hits, got %d", len(result.Hits))
		}
		if result.Hits[0].Span.Start <= result.Hits[1].Span.Start {
			t.Error("Spans should be rewritten rightmost-first")
		}
	})

	t.Run("MaskPreservesRuneLength", func(t *testing.T) {
		engine := newTestEngine(t, nil, []rules.SanitizationRule{
			{Name: "geheim", Pattern: `geheim:\s*(\S+)`, Enabled: true, Action: rules.ActionMask, Priority: 1},
		})

		result := engine.Sanitize("geheim: münchén1")
		if result.Sanitized != "geheim: ********" {
			t.Errorf("Mask should use rune count, not byte count, got %q", result.Sanitized)
		}
	})

	t.Run("ShortSpanSkipped", func(t *testing.T) {
		engine := newTestEngine(t, nil, []rules.SanitizationRule{
			{Name: "tiny", Pattern: `\bab\b`, Enabled: true, Action: rules.ActionMask, Priority: 1},
		})

		text := "x ab y"
		result := engine.Sanitize(text)
		if result.Sanitized != text {
			t.Errorf("Two-byte span should be skipped, got %q", result.Sanitized)
		}
		if len(result.Hits) != 0 {
			t.Errorf("Expected no hits, got %d", len(result.Hits))
		}
	})

	t.Run("InertRuleNeverMatches", func(t *testing.T) {
		engine := newTestEngine(t, nil, []rules.SanitizationRule{
			{Name: "broken", Pattern: "(", Enabled: true, Action: rules.ActionMask, Priority: 1},
		})

		text := "(anything at all)"
		result := engine.Sanitize(text)
		if result.Sanitized != text {
			t.Errorf("Inert rule should not rewrite, got %q", result.Sanitized)
		}
	})

	t.Run("DisabledEngine", func(t *testing.T) {
		lib, err := rules.New([]string{"all"}, testLogger())
		if err != nil {
			t.Fatalf("Failed to create rule library: %v", err)
		}
		engine := NewEngine(config.SanitizeConfig{Enabled: false}, lib, testLogger())

		if engine.Enabled() {
			t.Error("Engine should report disabled")
		}
		if engine.ActiveRules() != 0 {
			t.Errorf("Disabled engine should report 0 active rules, got %d", engine.ActiveRules())
		}

		text := "password: hunter2 card 4111111111111111"
		result := engine.Sanitize(text)
		if result.Sanitized != text {
			t.Errorf("Disabled engine should pass text through, got %q", result.Sanitized)
		}
		if len(result.Hits) != 0 || len(result.Detections) != 0 {
			t.Error("Disabled engine should record nothing")
		}
	})

	t.Run("ActiveRules", func(t *testing.T) {
		engine := newTestEngine(t, []string{"payment"}, []rules.SanitizationRule{
			{Name: "one", Pattern: "x{3}", Enabled: true, Action: rules.ActionMask, Priority: 1},
			{Name: "off", Pattern: "y{3}", Enabled: false, Action: rules.ActionMask, Priority: 1},
		})

		// 5 payment patterns plus 1 enabled user rule
		if got := engine.ActiveRules(); got != 6 {
			t.Errorf("Expected 6 active rules, got %d", got)
		}
	})
}

// TestMatchSpans tests span selection over submatch index vectors
func TestMatchSpans(t *testing.T) {
	t.Run("FullMatchWithoutGroups", func(t *testing.T) {
		spans := matchSpans(regexp.MustCompile(`\d{4}`), "1234", false)
		if len(spans) != 1 {
			t.Fatalf("Expected 1 span, got %d", len(spans))
		}
		if spans[0] != (Span{Start: 0, End: 4, Group: 0}) {
			t.Errorf("Unexpected span: %+v", spans[0])
		}
	})

	t.Run("FirstNonEmptyGroup", func(t *testing.T) {
		spans := matchSpans(regexp.MustCompile(`key=(\w+)`), "key=abcdef", false)
		if len(spans) != 1 {
			t.Fatalf("Expected 1 span, got %d", len(spans))
		}
		if spans[0] != (Span{Start: 4, End: 10, Group: 1}) {
			t.Errorf("Unexpected span: %+v", spans[0])
		}
	})

	t.Run("SkipsUnmatchedGroups", func(t *testing.T) {
		spans := matchSpans(regexp.MustCompile(`(?:a(xxx)|b(yyy))`), "byyy", false)
		if len(spans) != 1 {
			t.Fatalf("Expected 1 span, got %d", len(spans))
		}
		if spans[0].Group != 2 {
			t.Errorf("Expected group 2, got %d", spans[0].Group)
		}
		if spans[0].Start != 1 || spans[0].End != 4 {
			t.Errorf("Unexpected span bounds: %+v", spans[0])
		}
	})

	t.Run("RightmostFirstOrder", func(t *testing.T) {
		spans := matchSpans(regexp.MustCompile(`\d{3}`), "111 222 333", false)
		if len(spans) != 3 {
			t.Fatalf("Expected 3 spans, got %d", len(spans))
		}
		if spans[0].Start != 8 || spans[1].Start != 4 || spans[2].Start != 0 {
			t.Errorf("Spans not in rightmost-first order: %+v", spans)
		}
	})

	t.Run("ShortSpanRejected", func(t *testing.T) {
		spans := matchSpans(regexp.MustCompile(`\d\d`), "12", false)
		if len(spans) != 0 {
			t.Errorf("Expected short span rejected, got %+v", spans)
		}
	})

	t.Run("FixedWidthKeepsShortSpan", func(t *testing.T) {
		spans := matchSpans(regexp.MustCompile(`\d\d`), "12", true)
		if len(spans) != 1 {
			t.Errorf("Fixed-width pattern should keep short spans, got %d", len(spans))
		}
	})

	t.Run("NoMatch", func(t *testing.T) {
		spans := matchSpans(regexp.MustCompile(`\d+`), "no digits here", false)
		if spans != nil {
			t.Errorf("Expected nil spans, got %+v", spans)
		}
	})
}

// TestApplier tests the rewrite actions
func TestApplier(t *testing.T) {
	applier := Applier{MaskChar: "*", Placeholder: "[REDACTED]"}

	t.Run("Mask", func(t *testing.T) {
		if got := applier.Apply(rules.ActionMask, "", "hunter2"); got != "*******" {
			t.Errorf("Expected 7 mask chars, got %q", got)
		}
	})

	t.Run("MaskUnicode", func(t *testing.T) {
		if got := applier.Apply(rules.ActionMask, "", "日本語のひみつ"); got != "*******" {
			t.Errorf("Expected 7 mask chars for 7 runes, got %q", got)
		}
	})

	t.Run("MaskCharDefault", func(t *testing.T) {
		bare := Applier{}
		if got := bare.Apply(rules.ActionMask, "", "abc"); got != "***" {
			t.Errorf("Expected default mask char, got %q", got)
		}
	})

	t.Run("Rename", func(t *testing.T) {
		if got := applier.Apply(rules.ActionRename, "[CARD]", "4111111111111111"); got != "[CARD]" {
			t.Errorf("Expected configured replacement, got %q", got)
		}
	})

	t.Run("RenameFallsBackToPlaceholder", func(t *testing.T) {
		if got := applier.Apply(rules.ActionRename, "", "whatever"); got != "[REDACTED]" {
			t.Errorf("Expected placeholder, got %q", got)
		}
	})

	t.Run("Obfuscate", func(t *testing.T) {
		got := applier.Apply(rules.ActionObfuscate, "", "token-1")
		if !strings.HasPrefix(got, "[OBFUSCATED:") || !strings.HasSuffix(got, "]") {
			t.Errorf("Unexpected obfuscation format: %q", got)
		}
		if len(got) != len("[OBFUSCATED:")+8+1 {
			t.Errorf("Expected 8 hex digest characters, got %q", got)
		}

		again := applier.Apply(rules.ActionObfuscate, "", "token-1")
		if got != again {
			t.Error("Obfuscation should be deterministic")
		}
		other := applier.Apply(rules.ActionObfuscate, "", "token-2")
		if got == other {
			t.Error("Different values should obfuscate differently")
		}
	})

	t.Run("Remove", func(t *testing.T) {
		if got := applier.Apply(rules.ActionRemove, "", "gone"); got != "" {
			t.Errorf("Expected empty string, got %q", got)
		}
	})

	t.Run("UnknownActionKeepsText", func(t *testing.T) {
		if got := applier.Apply(rules.Action("explode"), "", "keep me"); got != "keep me" {
			t.Errorf("Unknown action should leave text untouched, got %q", got)
		}
	})
}

// TestScore tests the confidence heuristics
func TestScore(t *testing.T) {
	pattern := func(id string, cat rules.Category) rules.SensitivePattern {
		return rules.SensitivePattern{ID: id, Category: cat}
	}

	cases := []struct {
		name    string
		pattern rules.SensitivePattern
		matched string
		want    float64
	}{
		{"PaymentLuhnValid", pattern("payment.card.visa", rules.CategoryPayment), "4111111111111111", 0.9},
		{"PaymentLuhnInvalid", pattern("payment.card.visa", rules.CategoryPayment), "4111111111111112", 0.3},
		{"PaymentSeparated", pattern("payment.card.separated", rules.CategoryPayment), "4111-1111-1111-1111", 0.9},
		{"GovernmentID", pattern("government_id.ssn", rules.CategoryGovernmentID), "123-45-6789", 0.85},
		{"Credentials", pattern("credentials.password_assignment", rules.CategoryCredentials), "hunter2!", 0.8},
		{"CredentialsPlaceholder", pattern("credentials.api_key_assignment", rules.CategoryCredentials), "example123", 0.2},
		{"EmailShaped", pattern("contact.email", rules.CategoryContact), "alice@example.com", 0.75},
		{"EmailMalformed", pattern("contact.email", rules.CategoryContact), "not-an-email", 0.3},
		{"PhoneTenDigits", pattern("contact.phone", rules.CategoryContact), "555-123-4567", 0.7},
		{"PhoneShort", pattern("contact.phone", rules.CategoryContact), "555-1234", 0.4},
		{"NetworkDefault", pattern("network.ipv4", rules.CategoryNetwork), "10.0.0.1", 0.6},
		{"ShortMatchDiscounted", pattern("network.ipv4", rules.CategoryNetwork), "1.2.3", 0.6 * 0.8},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Score(tc.pattern, tc.matched)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("Score(%q) = %f, want %f", tc.matched, got, tc.want)
			}
		})
	}
}

// TestLuhn tests the card checksum validation
func TestLuhn(t *testing.T) {
	cases := []struct {
		digits string
		valid  bool
	}{
		{"4111111111111111", true},
		{"5555555555554444", true},
		{"378282246310005", true},
		{"4111111111111112", false},
		{"1234567890123456", false},
		{"79927398713", false}, // valid checksum, implausible card length
		{"", false},
	}

	for _, tc := range cases {
		if got := luhnValid(tc.digits); got != tc.valid {
			t.Errorf("luhnValid(%q) = %v, want %v", tc.digits, got, tc.valid)
		}
	}

	t.Run("DigitsOf", func(t *testing.T) {
		if got := digitsOf("4111-1111 1111.1111x"); got != "4111111111111111" {
			t.Errorf("digitsOf stripped wrong characters: %q", got)
		}
	})
}

// BenchmarkSanitize benchmarks a full pass over mixed sensitive content
func BenchmarkSanitize(b *testing.B) {
	lib, err := rules.New([]string{"all"}, testLogger())
	if err != nil {
		b.Fatalf("Failed to create rule library: %v", err)
	}
	lib.SetRules([]rules.SanitizationRule{
		{Name: "internal-host", Pattern: `\binternal-[a-z0-9-]+\b`, Enabled: true, Action: rules.ActionRename, Replacement: "[HOST]", Priority: 5},
	})
	engine := NewEngine(config.SanitizeConfig{Enabled: true, MaskChar: "*", Placeholder: "[REDACTED]"}, lib, testLogger())

	text := "deploy to internal-db-west with password: s3cr3tV4lue and card 4111111111111111, " +
		"contact ops@example.com or 555-123-4567, host 192.168.1.10"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		engine.Sanitize(text)
	}
}
