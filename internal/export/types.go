package export

import (
	"strings"
	"time"
)

// Record is one exported audit row. It carries item metadata and scan
// summaries only; neither the original nor the sanitized content leaves
// the store through an export.
type Record struct {
	ID         string `csv:"id" parquet:"id" json:"id"`
	CreatedAt  string `csv:"created_at" parquet:"created_at" json:"created_at"`
	Kind       string `csv:"kind" parquet:"kind" json:"kind"`
	TextLen    int    `csv:"text_len" parquet:"text_len" json:"text_len"`
	Sanitized  bool   `csv:"sanitized" parquet:"sanitized" json:"sanitized"`
	Findings   int    `csv:"findings" parquet:"findings" json:"findings"`
	Redacted   int    `csv:"redacted" parquet:"redacted" json:"redacted"`
	Categories string `csv:"categories" parquet:"categories" json:"categories"`
	HasImage   bool   `csv:"has_image" parquet:"has_image" json:"has_image"`
}

// Summary reports what an export run produced
type Summary struct {
	Records   int64         `json:"records"`
	Sanitized int64         `json:"sanitized"`
	Findings  int64         `json:"findings"`
	Duration  time.Duration `json:"duration"`
}

// Format identifies the output encoding
type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
	FormatJSON    Format = "json"
)

// DetectFormat picks the output format from the file extension,
// defaulting to CSV.
func DetectFormat(path string) Format {
	switch {
	case strings.HasSuffix(path, ".parquet"):
		return FormatParquet
	case strings.HasSuffix(path, ".json"), strings.HasSuffix(path, ".ndjson"):
		return FormatJSON
	default:
		return FormatCSV
	}
}
