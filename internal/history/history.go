package history

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clipvault/clipvault/internal/config"
	"github.com/clipvault/clipvault/internal/events"
	"github.com/clipvault/clipvault/internal/item"
	"github.com/clipvault/clipvault/internal/lifecycle"
	"github.com/clipvault/clipvault/internal/logger"
	"github.com/clipvault/clipvault/internal/metrics"
	"github.com/clipvault/clipvault/internal/pressure"
	"github.com/clipvault/clipvault/internal/rules"
	"github.com/clipvault/clipvault/internal/sanitize"
	"github.com/clipvault/clipvault/internal/store"
)

var (
	// ErrNotFound is returned when the requested item is not in the history
	ErrNotFound = errors.New("item not found")
	// ErrClosed is returned once the history has shut down
	ErrClosed = errors.New("history is shut down")
	// ErrEmptyContent rejects zero-length captures
	ErrEmptyContent = errors.New("empty clipboard content")
)

const storeTimeout = 30 * time.Second

// entry pairs an item with its last scan outcome and its cached persistence
// record. The record is built while the text is still resident, so
// persistence never needs to decompress.
type entry struct {
	it   *item.Item
	scan *sanitize.Result
	rec  store.ItemRecord
}

// History is the ordered clipboard history. One actor goroutine owns
// membership and ordering; every mutation runs as a function on that
// goroutine. Background work (scans, blob saves, reloads) publishes its
// results back through the actor, so readers never observe a half-finished
// transition.
type History struct {
	cfg     config.HistoryConfig
	engine  *sanitize.Engine
	life    *lifecycle.Manager
	items   store.ItemStore
	hub     *events.Hub
	metrics *metrics.Metrics
	logger  *logger.Logger

	ops     chan func()
	closing chan struct{} // closed when shutdown starts; rejects new ops
	done    chan struct{} // closed when shutdown has finished
	persist *persister

	// Owned by the Run goroutine.
	entries    []*entry // newest first
	byID       map[uuid.UUID]*entry
	level      pressure.Level
	detections int64
	startedAt  time.Time
}

// New creates a clipboard history. Call Load to restore persisted items,
// then start the actor with Run. The hub may be nil when event broadcasting
// is disabled.
func New(cfg config.HistoryConfig, engine *sanitize.Engine, life *lifecycle.Manager,
	items store.ItemStore, hub *events.Hub, m *metrics.Metrics, log *logger.Logger) *History {
	return &History{
		cfg:       cfg,
		engine:    engine,
		life:      life,
		items:     items,
		hub:       hub,
		metrics:   m,
		logger:    log,
		ops:       make(chan func(), 256),
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
		persist:   newPersister(),
		byID:      make(map[uuid.UUID]*entry),
		startedAt: time.Now(),
	}
}

// Load restores persisted items into memory. It must be called before Run;
// the history is not yet shared, so no confinement applies. Image records
// that never reached the blob store are unrecoverable and get deleted.
func (h *History) Load(ctx context.Context) error {
	recs, err := h.items.Query(ctx, store.QuerySpec{Limit: h.cfg.MaxItems})
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}

	loaded, dropped := 0, 0
	for _, rec := range recs {
		id, err := uuid.Parse(rec.ID)
		if err != nil {
			dropped++
			continue
		}
		if h.cfg.MaxAge > 0 && time.Since(rec.CreatedAt) > h.cfg.MaxAge {
			dropped++
			h.persist.do(id, func() { h.deleteRecord(id) })
			continue
		}
		kind := item.Kind(rec.Kind)
		if kind == item.KindImage && rec.ImageRef == "" {
			dropped++
			h.persist.do(id, func() { h.deleteRecord(id) })
			continue
		}

		it := item.FromStored(id, rec.CreatedAt, kind, rec.OriginalText, rec.SanitizedText, rec.ImageRef)
		if it.TextLen() > h.life.CompressThreshold() {
			it.CompressText()
		}
		h.entries = append(h.entries, &entry{it: it, rec: rec})
		h.byID[id] = h.entries[len(h.entries)-1]
		loaded++
	}

	h.logger.Info("History loaded",
		zap.Int("items", loaded),
		zap.Int("dropped", dropped),
	)
	return nil
}

// Run executes history operations until the context is cancelled, then
// flushes resident images to the blob store and drains pending writes.
func (h *History) Run(ctx context.Context) {
	interval := h.cfg.TrimInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	h.logger.Info("Starting clipboard history",
		zap.Int("max_items", h.cfg.MaxItems),
		zap.Duration("max_age", h.cfg.MaxAge),
		zap.Int("items", len(h.entries)),
	)
	h.refreshGauges()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case fn := <-h.ops:
			fn()
		case <-ticker.C:
			h.trim(time.Now())
			h.broadcastStatus()
		}
	}
}

// Shutdown blocks until the actor has flushed and stopped or ctx expires.
// The actual shutdown is triggered by cancelling the Run context.
func (h *History) Shutdown(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// shutdown runs on the actor goroutine. Resident images are saved out so a
// restart can recover them, then the persister drains every queued write.
func (h *History) shutdown() {
	close(h.closing)

	flushed := 0
	for _, e := range h.entries {
		data, ok := e.it.BeginEvict()
		if !ok {
			continue
		}
		id := e.it.ID()
		ref, fallback, err := h.life.EvictImage(id, data)
		if err != nil {
			e.it.CommitEvictFallback(fallback)
			continue
		}
		e.it.CommitEvict(ref)
		e.rec.ImageRef = ref
		rec := e.rec
		h.persist.do(id, func() { h.putRecord(rec) })
		flushed++
	}

	h.persist.close()
	close(h.done)

	h.logger.Info("Clipboard history stopped",
		zap.Int("items", len(h.entries)),
		zap.Int("images_flushed", flushed),
	)
}

// post queues fn on the actor without waiting for it. Posts made after
// shutdown starts are dropped.
func (h *History) post(fn func()) {
	select {
	case h.ops <- fn:
	case <-h.closing:
	}
}

// call queues fn on the actor and waits for its result
func (h *History) call(fn func() error) error {
	errc := make(chan error, 1)
	select {
	case h.ops <- func() { errc <- fn() }:
	case <-h.closing:
		return ErrClosed
	}
	select {
	case err := <-errc:
		return err
	case <-h.closing:
		return ErrClosed
	}
}

// AddText captures a text item. The item is inserted immediately with its
// text unchanged; the sanitize scan runs in the background and publishes
// its single write back through the actor.
func (h *History) AddText(text, source string) (ItemView, error) {
	if text == "" {
		return ItemView{}, ErrEmptyContent
	}

	it := item.NewText(text)
	rec := store.ItemRecord{
		ID:            it.ID().String(),
		CreatedAt:     it.CreatedAt(),
		Kind:          string(item.KindText),
		OriginalText:  text,
		SanitizedText: text,
	}
	if len(text) > h.life.CompressThreshold() {
		it.CompressText()
	}
	e := &entry{it: it, rec: rec}

	var view ItemView
	err := h.call(func() error {
		h.insert(e)
		view = h.viewOf(e)
		return nil
	})
	if err != nil {
		return ItemView{}, err
	}

	h.persist.do(it.ID(), func() { h.putRecord(rec) })
	go h.scan(it.ID(), text)

	h.metrics.CapturedItems.WithLabelValues(string(item.KindText)).Inc()
	h.broadcast(events.New(events.EventTypeCapture, rec.ID, events.CaptureEvent{
		ItemID:  rec.ID,
		Kind:    rec.Kind,
		TextLen: len(text),
		Source:  source,
	}))
	return view, nil
}

// AddImage captures an image item. Image bytes are never scanned; they stay
// resident until pressure or shutdown evicts them to the blob store.
func (h *History) AddImage(data []byte, source string) (ItemView, error) {
	if len(data) == 0 {
		return ItemView{}, ErrEmptyContent
	}

	it := item.NewImage(data)
	rec := store.ItemRecord{
		ID:        it.ID().String(),
		CreatedAt: it.CreatedAt(),
		Kind:      string(item.KindImage),
	}
	e := &entry{it: it, rec: rec}

	var view ItemView
	err := h.call(func() error {
		h.insert(e)
		view = h.viewOf(e)
		return nil
	})
	if err != nil {
		return ItemView{}, err
	}

	h.persist.do(it.ID(), func() { h.putRecord(rec) })

	h.metrics.CapturedItems.WithLabelValues(string(item.KindImage)).Inc()
	h.broadcast(events.New(events.EventTypeCapture, rec.ID, events.CaptureEvent{
		ItemID: rec.ID,
		Kind:   rec.Kind,
		Source: source,
	}))
	return view, nil
}

// Get returns the detail view of one item
func (h *History) Get(id uuid.UUID) (ItemDetail, error) {
	var detail ItemDetail
	err := h.call(func() error {
		e, ok := h.byID[id]
		if !ok {
			return ErrNotFound
		}
		detail = h.detailOf(e)
		return nil
	})
	return detail, err
}

// List returns item views newest-first, bounded by limit and offset
func (h *History) List(limit, offset int) ([]ItemView, error) {
	var views []ItemView
	err := h.call(func() error {
		if offset < 0 {
			offset = 0
		}
		if offset >= len(h.entries) {
			views = []ItemView{}
			return nil
		}
		window := h.entries[offset:]
		if limit > 0 && limit < len(window) {
			window = window[:limit]
		}
		views = make([]ItemView, 0, len(window))
		for _, e := range window {
			views = append(views, h.viewOf(e))
		}
		return nil
	})
	return views, err
}

// Delete removes an item, its backing-store record, and its blob
func (h *History) Delete(id uuid.UUID) error {
	return h.call(func() error {
		e, ok := h.byID[id]
		if !ok {
			return ErrNotFound
		}
		h.dropEntry(e, "api")
		h.refreshGauges()
		return nil
	})
}

// Image returns the image bytes of an item, reloading from the blob store
// when they were evicted. This is the blocking accessor; it must not be
// called from the actor goroutine.
func (h *History) Image(id uuid.UUID) ([]byte, error) {
	var data []byte
	var evicted bool
	err := h.call(func() error {
		e, ok := h.byID[id]
		if !ok {
			return ErrNotFound
		}
		b, err := e.it.Image()
		switch {
		case err == nil:
			data = append([]byte(nil), b...)
			return nil
		case errors.Is(err, item.ErrImageEvicted):
			evicted = true
			return nil
		default:
			return err
		}
	})
	if err != nil {
		return nil, err
	}
	if !evicted {
		return data, nil
	}

	blob, err := h.life.ReloadImage(id)
	if err != nil {
		return nil, err
	}
	h.post(func() {
		if e, ok := h.byID[id]; ok {
			e.it.RestoreImage(append([]byte(nil), blob...))
			h.refreshGauges()
		}
	})
	return blob, nil
}

// Stats returns a snapshot of the history state
func (h *History) Stats() (StatsView, error) {
	var s StatsView
	err := h.call(func() error {
		s = h.statsSnapshot()
		return nil
	})
	return s, err
}

// HandlePressure reacts to a memory pressure level. The plan is computed
// and executed on the actor; only blob saves leave it.
func (h *History) HandlePressure(level pressure.Level) {
	h.post(func() { h.applyPressure(level) })
}

// --- actor-side internals ---

// insert prepends an entry and enforces the capacity bound immediately
func (h *History) insert(e *entry) {
	h.entries = append([]*entry{e}, h.entries...)
	h.byID[e.it.ID()] = e
	for h.cfg.MaxItems > 0 && len(h.entries) > h.cfg.MaxItems {
		h.dropEntry(h.entries[len(h.entries)-1], "trim")
	}
	h.refreshGauges()
}

// remove takes an entry out of the ordering and the index
func (h *History) remove(e *entry) {
	delete(h.byID, e.it.ID())
	for i, x := range h.entries {
		if x == e {
			h.entries = append(h.entries[:i], h.entries[i+1:]...)
			return
		}
	}
}

// dropEntry removes an entry and queues record and blob cleanup. Blob
// deletion is queued on the item's persister shard, so it runs after any
// in-flight blob save for the same id.
func (h *History) dropEntry(e *entry, reason string) {
	h.remove(e)
	id := e.it.ID()
	isImage := e.it.Kind() == item.KindImage
	h.persist.do(id, func() {
		h.deleteRecord(id)
		if isImage {
			h.life.DeleteBlob(id)
		}
	})
	if reason != "api" {
		h.metrics.TrimmedItems.Inc()
	}
	h.broadcast(events.New(events.EventTypeDelete, id.String(), events.DeleteEvent{
		ItemID: id.String(),
		Reason: reason,
	}))
}

// trim enforces the retention and capacity bounds, oldest first
func (h *History) trim(now time.Time) {
	dropped := 0
	if h.cfg.MaxAge > 0 {
		cutoff := now.Add(-h.cfg.MaxAge)
		for len(h.entries) > 0 {
			oldest := h.entries[len(h.entries)-1]
			if oldest.it.CreatedAt().After(cutoff) {
				break
			}
			h.dropEntry(oldest, "trim")
			dropped++
		}
	}
	for h.cfg.MaxItems > 0 && len(h.entries) > h.cfg.MaxItems {
		h.dropEntry(h.entries[len(h.entries)-1], "trim")
		dropped++
	}
	if dropped > 0 {
		h.refreshGauges()
		h.logger.Info("History trimmed",
			zap.Int("dropped", dropped),
			zap.Int("remaining", len(h.entries)),
		)
	}
}

// scan runs the sanitize pass off the actor and publishes the result.
// It closes over the captured string, not the item, so pressure-driven
// compression cannot race the read.
func (h *History) scan(id uuid.UUID, text string) {
	start := time.Now()
	res := h.engine.Sanitize(text)
	took := time.Since(start)
	h.metrics.ObserveScan(took)
	h.post(func() { h.commitScan(id, res, took) })
}

// commitScan applies a finished scan. The item may have been deleted or
// compressed while the scan ran; both cases are handled.
func (h *History) commitScan(id uuid.UUID, res sanitize.Result, took time.Duration) {
	e, ok := h.byID[id]
	if !ok {
		return
	}
	e.scan = &res
	h.detections += int64(len(res.Detections))

	for _, d := range res.Detections {
		h.metrics.Detections.WithLabelValues(string(d.Category)).Inc()
		if d.Redacted {
			h.metrics.Redactions.WithLabelValues(string(rules.ActionMask)).Inc()
		}
	}
	for _, hit := range res.Hits {
		h.metrics.Redactions.WithLabelValues(string(hit.Action)).Inc()
	}

	if res.Changed() {
		e.it.SetSanitized(res.Sanitized)
		e.rec.SanitizedText = res.Sanitized
		h.metrics.SanitizedItems.Inc()
		rec := e.rec
		h.persist.do(id, func() { h.putRecord(rec) })
	}

	if len(res.Detections) == 0 && len(res.Hits) == 0 {
		return
	}
	findings := make([]events.FindingSummary, 0, len(res.Detections))
	for _, d := range res.Detections {
		findings = append(findings, events.FindingSummary{
			Pattern:    d.PatternID,
			Category:   string(d.Category),
			Confidence: d.Confidence,
			Redacted:   d.Redacted,
		})
	}
	h.broadcast(events.New(events.EventTypeDetection, id.String(), events.DetectionEvent{
		ItemID:        id.String(),
		Findings:      findings,
		TotalFindings: len(findings),
		RuleHits:      len(res.Hits),
		Redacted:      res.Changed(),
		ProcessingMS:  float64(took.Microseconds()) / 1000.0,
	}))
}

// applyPressure computes and executes the lifecycle plan for a level
func (h *History) applyPressure(level pressure.Level) {
	prev := h.level
	h.level = level
	h.metrics.PressureSignals.WithLabelValues(level.String()).Inc()

	if level == pressure.Normal {
		if prev != level {
			h.logger.Info("Memory pressure cleared")
		}
		return
	}

	plan := h.life.Plan(level, h.infos())
	if plan.Empty() {
		return
	}

	dropped := h.executeDrops(plan.Drop)
	compressed := h.executeCompressions(plan.Compress)
	evicted := h.executeEvictions(plan.Evict)

	if plan.Compact {
		h.persist.barrier(func() {
			ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
			defer cancel()
			if err := h.items.Compact(ctx); err != nil {
				h.metrics.StoreFailures.WithLabelValues("compact").Inc()
				h.logger.Error("Store compaction failed", zap.Error(err))
			}
		})
	}

	h.refreshGauges()
	h.broadcast(events.New(events.EventTypePressure, "", events.PressureEvent{
		Level:      level.String(),
		Evicted:    evicted,
		Compressed: compressed,
		Dropped:    dropped,
		Compacted:  plan.Compact,
	}))
}

func (h *History) executeDrops(ids []uuid.UUID) int {
	n := 0
	for _, id := range ids {
		if e, ok := h.byID[id]; ok {
			h.dropEntry(e, "pressure")
			n++
		}
	}
	return n
}

// executeCompressions folds text tiers on the actor. Records keep the
// uncompressed text, so nothing needs re-persisting.
func (h *History) executeCompressions(ids []uuid.UUID) int {
	n := 0
	for _, id := range ids {
		e, ok := h.byID[id]
		if !ok || e.it.TextState() != item.TextResident {
			continue
		}
		e.it.CompressText()
		n++
	}
	return n
}

// executeEvictions starts background blob saves. Each save runs on the
// item's persister shard and publishes its commit back through the actor.
func (h *History) executeEvictions(ids []uuid.UUID) int {
	n := 0
	for _, id := range ids {
		e, ok := h.byID[id]
		if !ok {
			continue
		}
		data, ok := e.it.BeginEvict()
		if !ok {
			continue
		}
		id := id
		h.persist.do(id, func() {
			ref, fallback, err := h.life.EvictImage(id, data)
			h.post(func() { h.commitEvict(id, ref, fallback, err) })
		})
		n++
	}
	return n
}

// commitEvict finishes an eviction. A failed save keeps the compressed
// fallback in memory; a successful one updates the persisted reference.
func (h *History) commitEvict(id uuid.UUID, ref string, fallback []byte, err error) {
	e, ok := h.byID[id]
	if !ok {
		return
	}
	if err != nil {
		e.it.CommitEvictFallback(fallback)
	} else {
		e.it.CommitEvict(ref)
		e.rec.ImageRef = ref
		rec := e.rec
		h.persist.do(id, func() { h.putRecord(rec) })
	}
	h.refreshGauges()
}

func (h *History) infos() []item.Info {
	infos := make([]item.Info, 0, len(h.entries))
	for _, e := range h.entries {
		infos = append(infos, e.it.Info())
	}
	return infos
}

func (h *History) viewOf(e *entry) ItemView {
	it := e.it
	v := ItemView{
		ID:        it.ID().String(),
		Kind:      string(it.Kind()),
		CreatedAt: it.CreatedAt(),
		Sanitized: it.IsSanitized(),
	}
	if it.Kind() == item.KindText {
		v.TextState = string(it.TextState())
		v.TextLen = it.TextLen()
		if it.TextState() == item.TextResident {
			if text, err := it.Text(); err == nil {
				v.Preview = preview(text)
			}
		}
	} else {
		v.ImageState = string(it.ImageState())
	}
	if e.scan != nil {
		v.Findings = len(e.scan.Detections)
	}
	return v
}

func (h *History) detailOf(e *entry) ItemDetail {
	d := ItemDetail{ItemView: h.viewOf(e)}
	if e.it.Kind() == item.KindText {
		text, err := e.it.Text()
		if err != nil {
			d.TextError = err.Error()
		} else {
			d.Text = text
		}
	}
	if e.scan == nil {
		return d
	}
	for _, det := range e.scan.Detections {
		d.Detections = append(d.Detections, DetectionView{
			Pattern:    det.PatternID,
			Name:       det.PatternName,
			Category:   string(det.Category),
			Matched:    det.MatchedText,
			Start:      det.Span.Start,
			End:        det.Span.End,
			Confidence: det.Confidence,
			Redacted:   det.Redacted,
		})
	}
	for _, hit := range e.scan.Hits {
		d.RuleHits = append(d.RuleHits, RuleHitView{
			Rule:   hit.RuleName,
			Action: string(hit.Action),
			Start:  hit.Span.Start,
			End:    hit.Span.End,
		})
	}
	return d
}

func (h *History) statsSnapshot() StatsView {
	s := StatsView{
		Items:           len(h.entries),
		TotalDetections: h.detections,
		PressureLevel:   h.level.String(),
		Uptime:          time.Since(h.startedAt).Round(time.Second).String(),
	}
	for _, e := range h.entries {
		switch e.it.Kind() {
		case item.KindText:
			s.TextItems++
			if e.it.TextState() == item.TextCompressed {
				s.CompressedItems++
			}
		case item.KindImage:
			s.ImageItems++
			switch e.it.ImageState() {
			case item.ImageResident:
				s.ResidentImages++
			case item.ImageEvicted:
				s.EvictedImages++
			}
		}
		if e.it.IsSanitized() {
			s.SanitizedItems++
		}
	}
	if n := len(h.entries); n > 0 {
		t := h.entries[n-1].it.CreatedAt()
		s.OldestItem = &t
	}
	return s
}

func (h *History) refreshGauges() {
	resident, compressed := 0, 0
	for _, e := range h.entries {
		if e.it.ImageState() == item.ImageResident {
			resident++
		}
		if e.it.TextState() == item.TextCompressed {
			compressed++
		}
	}
	h.metrics.HistoryItems.Set(float64(len(h.entries)))
	h.metrics.ResidentImages.Set(float64(resident))
	h.metrics.CompressedItems.Set(float64(compressed))
}

func (h *History) broadcast(event events.Event) {
	if h.hub != nil {
		h.hub.Broadcast(event)
	}
}

func (h *History) broadcastStatus() {
	if h.hub == nil {
		return
	}
	clients := h.hub.ClientCount()
	h.broadcast(events.New(events.EventTypeSystemStatus, "", events.SystemStatusEvent{
		Status:           "ok",
		Uptime:           time.Since(h.startedAt).Round(time.Second).String(),
		TotalItems:       len(h.entries),
		TotalDetections:  h.detections,
		ActiveRules:      h.engine.ActiveRules(),
		ConnectedClients: clients,
		MemoryUsage:      memUsage(),
	}))
}

func (h *History) putRecord(rec store.ItemRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := h.items.Put(ctx, rec); err != nil {
		h.metrics.StoreFailures.WithLabelValues("item_put").Inc()
		h.logger.Error("Failed to persist item",
			zap.String("item_id", rec.ID),
			zap.Error(err),
		)
	}
}

func (h *History) deleteRecord(id uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := h.items.Delete(ctx, id.String()); err != nil && !errors.Is(err, store.ErrNotFound) {
		h.metrics.StoreFailures.WithLabelValues("item_delete").Inc()
		h.logger.Error("Failed to delete item record",
			zap.String("item_id", id.String()),
			zap.Error(err),
		)
	}
}

func preview(text string) string {
	const max = 80
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "..."
}

func memUsage() string {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return fmt.Sprintf("%.1f MB", float64(ms.Alloc)/(1024*1024))
}
