package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/clipvault/clipvault/internal/logger"
	"github.com/clipvault/clipvault/internal/sanitize"
	"github.com/clipvault/clipvault/internal/store"
)

const (
	batchSize      = 500
	progressReport = 1000
)

// Exporter streams the persisted history into an audit file. Text items
// are re-scanned so the export reflects the current pattern catalog, not
// the one that was live at capture time.
type Exporter struct {
	items  store.ItemStore
	engine *sanitize.Engine
	logger *logger.Logger
}

// New creates an exporter. The engine may be nil to skip re-scanning.
func New(items store.ItemStore, engine *sanitize.Engine, log *logger.Logger) *Exporter {
	return &Exporter{
		items:  items,
		engine: engine,
		logger: log,
	}
}

// Export writes every stored item to path, format chosen by extension
func (e *Exporter) Export(ctx context.Context, path string) (*Summary, error) {
	format := DetectFormat(path)
	e.logger.Info("Starting history export",
		zap.String("file", path),
		zap.String("format", string(format)),
	)

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create export file: %w", err)
	}
	defer file.Close()

	var w recordWriter
	switch format {
	case FormatCSV:
		w, err = newCSVWriter(file)
	case FormatParquet:
		w = newParquetWriter(file)
	case FormatJSON:
		w = newJSONWriter(file)
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
	if err != nil {
		return nil, err
	}

	start := time.Now()
	summary := &Summary{}
	offset := 0
	for {
		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		default:
		}

		recs, err := e.items.Query(ctx, store.QuerySpec{Limit: batchSize, Offset: offset})
		if err != nil {
			return summary, fmt.Errorf("failed to read items: %w", err)
		}
		if len(recs) == 0 {
			break
		}

		for _, rec := range recs {
			row := e.rowFor(rec)
			if err := w.write(row); err != nil {
				return summary, fmt.Errorf("failed to write record %s: %w", rec.ID, err)
			}
			summary.Records++
			summary.Findings += int64(row.Findings)
			if row.Sanitized {
				summary.Sanitized++
			}
			if summary.Records%progressReport == 0 {
				e.logger.Info("Export progress", zap.Int64("records", summary.Records))
			}
		}

		offset += len(recs)
		if len(recs) < batchSize {
			break
		}
	}

	if err := w.close(); err != nil {
		return summary, fmt.Errorf("failed to finalize export: %w", err)
	}
	summary.Duration = time.Since(start)

	e.logger.Info("Export completed",
		zap.Int64("records", summary.Records),
		zap.Int64("sanitized", summary.Sanitized),
		zap.Int64("findings", summary.Findings),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}

// rowFor converts a stored record into its audit row
func (e *Exporter) rowFor(rec store.ItemRecord) Record {
	row := Record{
		ID:        rec.ID,
		CreatedAt: rec.CreatedAt.Format(time.RFC3339),
		Kind:      rec.Kind,
		TextLen:   len(rec.SanitizedText),
		Sanitized: rec.OriginalText != rec.SanitizedText,
		HasImage:  rec.ImageRef != "",
	}
	if e.engine == nil || rec.OriginalText == "" {
		return row
	}

	res := e.engine.Sanitize(rec.OriginalText)
	row.Findings = len(res.Detections)
	categories := map[string]bool{}
	for _, d := range res.Detections {
		categories[string(d.Category)] = true
		if d.Redacted {
			row.Redacted++
		}
	}
	if len(categories) > 0 {
		names := make([]string, 0, len(categories))
		for c := range categories {
			names = append(names, c)
		}
		sort.Strings(names)
		row.Categories = strings.Join(names, ",")
	}
	return row
}

// recordWriter is the per-format encoder
type recordWriter interface {
	write(Record) error
	close() error
}

type csvWriter struct {
	w *csv.Writer
}

func newCSVWriter(f *os.File) (*csvWriter, error) {
	w := csv.NewWriter(f)
	header := []string{"id", "created_at", "kind", "text_len", "sanitized", "findings", "redacted", "categories", "has_image"}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}
	return &csvWriter{w: w}, nil
}

func (c *csvWriter) write(r Record) error {
	return c.w.Write([]string{
		r.ID,
		r.CreatedAt,
		r.Kind,
		strconv.Itoa(r.TextLen),
		strconv.FormatBool(r.Sanitized),
		strconv.Itoa(r.Findings),
		strconv.Itoa(r.Redacted),
		r.Categories,
		strconv.FormatBool(r.HasImage),
	})
}

func (c *csvWriter) close() error {
	c.w.Flush()
	return c.w.Error()
}

type parquetWriter struct {
	w *parquet.Writer
}

func newParquetWriter(f *os.File) *parquetWriter {
	return &parquetWriter{w: parquet.NewWriter(f)}
}

func (p *parquetWriter) write(r Record) error {
	return p.w.Write(&r)
}

func (p *parquetWriter) close() error {
	return p.w.Close()
}

// jsonWriter emits one object per line, matching what the import side of
// common analytics tools expects.
type jsonWriter struct {
	enc *json.Encoder
}

func newJSONWriter(f *os.File) *jsonWriter {
	return &jsonWriter{enc: json.NewEncoder(f)}
}

func (j *jsonWriter) write(r Record) error {
	return j.enc.Encode(r)
}

func (j *jsonWriter) close() error {
	return nil
}
