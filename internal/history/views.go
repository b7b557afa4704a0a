package history

import "time"

// ItemView is the list-level projection of a history item. Previews come
// from the sanitized text, so they are safe to show; compressed items skip
// the preview rather than decompress on every listing.
type ItemView struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	CreatedAt  time.Time `json:"created_at"`
	TextState  string    `json:"text_state,omitempty"`
	ImageState string    `json:"image_state,omitempty"`
	TextLen    int       `json:"text_len,omitempty"`
	Sanitized  bool      `json:"sanitized"`
	Findings   int       `json:"findings"`
	Preview    string    `json:"preview,omitempty"`
}

// DetectionView is the API projection of one builtin-pattern detection.
// Matched text is included here for local inspection; event and export
// payloads carry summaries without it.
type DetectionView struct {
	Pattern    string  `json:"pattern"`
	Name       string  `json:"name"`
	Category   string  `json:"category"`
	Matched    string  `json:"matched,omitempty"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Confidence float64 `json:"confidence"`
	Redacted   bool    `json:"redacted"`
}

// RuleHitView is the API projection of one user-rule application
type RuleHitView struct {
	Rule   string `json:"rule"`
	Action string `json:"action"`
	Start  int    `json:"start"`
	End    int    `json:"end"`
}

// ItemDetail is the single-item projection: the item view plus its
// sanitized text and the outcome of the last scan.
type ItemDetail struct {
	ItemView
	Text       string          `json:"text,omitempty"`
	TextError  string          `json:"text_error,omitempty"`
	Detections []DetectionView `json:"detections,omitempty"`
	RuleHits   []RuleHitView   `json:"rule_hits,omitempty"`
}

// StatsView summarizes the history state for the stats endpoint
type StatsView struct {
	Items           int        `json:"items"`
	TextItems       int        `json:"text_items"`
	ImageItems      int        `json:"image_items"`
	CompressedItems int        `json:"compressed_items"`
	ResidentImages  int        `json:"resident_images"`
	EvictedImages   int        `json:"evicted_images"`
	SanitizedItems  int        `json:"sanitized_items"`
	TotalDetections int64      `json:"total_detections"`
	PressureLevel   string     `json:"pressure_level"`
	Uptime          string     `json:"uptime"`
	OldestItem      *time.Time `json:"oldest_item,omitempty"`
}
