package sanitize

import "regexp"

// Span marks the byte range of text selected for rewriting. Group is the
// 1-based capture group the span was taken from; 0 means the full match.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
	Group int `json:"group"`
}

// Len returns the span width in bytes
func (s Span) Len() int { return s.End - s.Start }

// minSpanLen rejects trivially short spans that would mostly produce noise.
// Fixed-width patterns (card-number shapes) are exempt.
const minSpanLen = 3

// matchSpans returns the selected span for every non-overlapping match of
// re in text, ordered rightmost-first so that rewriting one span keeps the
// offsets of the spans still to be rewritten valid.
func matchSpans(re *regexp.Regexp, text string, fixedWidth bool) []Span {
	idx := re.FindAllStringSubmatchIndex(text, -1)
	if len(idx) == 0 {
		return nil
	}

	spans := make([]Span, 0, len(idx))
	for _, m := range idx {
		span, ok := selectSpan(m, fixedWidth)
		if !ok {
			continue
		}
		spans = append(spans, span)
	}

	// Reverse into rightmost-first order
	for i, j := 0, len(spans)-1; i < j; i, j = i+1, j-1 {
		spans[i], spans[j] = spans[j], spans[i]
	}
	return spans
}

// selectSpan picks the rewrite target from one submatch index vector: the
// first non-empty capture group if the pattern has one, the full match
// otherwise. The second return is false when the span is too short to keep.
func selectSpan(m []int, fixedWidth bool) (Span, bool) {
	span := Span{Start: m[0], End: m[1], Group: 0}
	for g := 1; 2*g+1 < len(m); g++ {
		s, e := m[2*g], m[2*g+1]
		if s >= 0 && e > s {
			span = Span{Start: s, End: e, Group: g}
			break
		}
	}

	if span.Len() < minSpanLen && !fixedWidth {
		return Span{}, false
	}
	return span, true
}
