package history

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/clipvault/clipvault/internal/config"
	"github.com/clipvault/clipvault/internal/item"
	"github.com/clipvault/clipvault/internal/lifecycle"
	"github.com/clipvault/clipvault/internal/logger"
	"github.com/clipvault/clipvault/internal/metrics"
	"github.com/clipvault/clipvault/internal/pressure"
	"github.com/clipvault/clipvault/internal/rules"
	"github.com/clipvault/clipvault/internal/sanitize"
	"github.com/clipvault/clipvault/internal/store"
)

type fakeItemStore struct {
	mu      sync.Mutex
	records map[string]store.ItemRecord
	compact int
}

func newFakeItemStore() *fakeItemStore {
	return &fakeItemStore{records: make(map[string]store.ItemRecord)}
}

func (f *fakeItemStore) Put(ctx context.Context, rec store.ItemRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[rec.ID] = rec
	return nil
}

func (f *fakeItemStore) Get(ctx context.Context, id string) (store.ItemRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return store.ItemRecord{}, store.ErrNotFound
	}
	return rec, nil
}

func (f *fakeItemStore) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, id)
	return nil
}

func (f *fakeItemStore) Query(ctx context.Context, spec store.QuerySpec) ([]store.ItemRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	recs := make([]store.ItemRecord, 0, len(f.records))
	for _, rec := range f.records {
		recs = append(recs, rec)
	}
	for i := 0; i < len(recs); i++ {
		for j := i + 1; j < len(recs); j++ {
			if recs[j].CreatedAt.After(recs[i].CreatedAt) {
				recs[i], recs[j] = recs[j], recs[i]
			}
		}
	}
	if spec.Limit > 0 && spec.Limit < len(recs) {
		recs = recs[:spec.Limit]
	}
	return recs, nil
}

func (f *fakeItemStore) Compact(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.compact++
	return nil
}

func (f *fakeItemStore) Close() error { return nil }

func (f *fakeItemStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

func (f *fakeItemStore) compactions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.compact
}

type fakeBlobStore struct {
	mu       sync.Mutex
	blobs    map[string][]byte
	failSave bool
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{blobs: make(map[string][]byte)}
}

func (f *fakeBlobStore) Save(ctx context.Context, id string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSave {
		return "", errors.New("disk full")
	}
	f.blobs[id] = append([]byte(nil), data...)
	return "blobs/" + id, nil
}

func (f *fakeBlobStore) Load(ctx context.Context, id string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.blobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (f *fakeBlobStore) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.blobs, id)
	return nil
}

func (f *fakeBlobStore) ids() map[string]bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]bool, len(f.blobs))
	for id := range f.blobs {
		out[id] = true
	}
	return out
}

type harness struct {
	hist   *History
	items  *fakeItemStore
	blobs  *fakeBlobStore
	cancel context.CancelFunc
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	log := &logger.Logger{Logger: zap.NewNop()}
	m := metrics.New("test", prometheus.NewRegistry())

	lib, err := rules.New([]string{"all"}, log)
	if err != nil {
		t.Fatalf("Failed to create rule library: %v", err)
	}
	engine := sanitize.NewEngine(config.SanitizeConfig{
		Enabled:     true,
		MaskChar:    "*",
		Placeholder: "[REDACTED]",
	}, lib, log)

	lifeCfg := config.LifecycleConfig{CompressThreshold: 1000000}
	lifeCfg.Warning.ResidentImages = 15
	lifeCfg.Warning.CompressOver = 10000
	lifeCfg.Critical.ResidentImages = 5
	lifeCfg.Critical.MaxItems = 50

	items := newFakeItemStore()
	blobs := newFakeBlobStore()
	life := lifecycle.NewManager(lifeCfg, blobs, m, log)

	histCfg := config.HistoryConfig{
		MaxItems:     200,
		TrimInterval: time.Hour,
	}

	hist := New(histCfg, engine, life, items, nil, m, log)

	ctx, cancel := context.WithCancel(context.Background())
	go hist.Run(ctx)

	t.Cleanup(func() {
		cancel()
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		hist.Shutdown(sctx)
	})

	return &harness{hist: hist, items: items, blobs: blobs, cancel: cancel}
}

// eventually polls cond until it holds or the deadline passes
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

// TestAddAndList tests capture ordering and views
func TestAddAndList(t *testing.T) {
	h := newHarness(t)

	first, err := h.hist.AddText("alpha content", "api")
	if err != nil {
		t.Fatalf("AddText failed: %v", err)
	}
	second, err := h.hist.AddText("beta content", "api")
	if err != nil {
		t.Fatalf("AddText failed: %v", err)
	}

	views, err := h.hist.List(10, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(views))
	}
	if views[0].ID != second.ID || views[1].ID != first.ID {
		t.Error("List should return newest first")
	}

	if _, err := h.hist.AddText("", "api"); !errors.Is(err, ErrEmptyContent) {
		t.Errorf("Expected ErrEmptyContent, got %v", err)
	}

	eventually(t, func() bool { return h.items.count() == 2 }, "items were not persisted")
}

// TestScanPublishesSanitizedText tests the background scan write
func TestScanPublishesSanitizedText(t *testing.T) {
	h := newHarness(t)

	view, err := h.hist.AddText("password: hunter2", "watcher")
	if err != nil {
		t.Fatalf("AddText failed: %v", err)
	}
	id := uuid.MustParse(view.ID)

	eventually(t, func() bool {
		detail, err := h.hist.Get(id)
		return err == nil && detail.Text == "password: *******"
	}, "scan result never published")

	detail, err := h.hist.Get(id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !detail.Sanitized {
		t.Error("Item should report sanitized")
	}
	if len(detail.Detections) != 1 {
		t.Fatalf("Expected 1 detection, got %d", len(detail.Detections))
	}
	if detail.Detections[0].Confidence < 0.8 || !detail.Detections[0].Redacted {
		t.Errorf("Credential detection should be auto-redacted: %+v", detail.Detections[0])
	}

	// The persisted record must carry the sanitized text too
	eventually(t, func() bool {
		rec, err := h.items.Get(context.Background(), view.ID)
		return err == nil && rec.SanitizedText == "password: *******"
	}, "sanitized text never persisted")
	rec, _ := h.items.Get(context.Background(), view.ID)
	if rec.OriginalText != "password: hunter2" {
		t.Errorf("Original text must be retained for audit, got %q", rec.OriginalText)
	}
}

// TestWarningCompressionRoundTrip tests lossless compression under pressure
func TestWarningCompressionRoundTrip(t *testing.T) {
	h := newHarness(t)

	text := strings.Repeat("j", 500000)
	view, err := h.hist.AddText(text, "api")
	if err != nil {
		t.Fatalf("AddText failed: %v", err)
	}
	id := uuid.MustParse(view.ID)

	// Wait for the scan to land so compression folds the final text
	eventually(t, func() bool {
		detail, err := h.hist.Get(id)
		return err == nil && detail.Findings == 0 && detail.Text != ""
	}, "scan never finished")

	h.hist.HandlePressure(pressure.Warning)

	eventually(t, func() bool {
		detail, err := h.hist.Get(id)
		return err == nil && detail.TextState == string(item.TextCompressed)
	}, "item never compressed under warning pressure")

	detail, err := h.hist.Get(id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if detail.Text != text {
		t.Errorf("Round trip lost data: got %d chars, want %d", len(detail.Text), len(text))
	}

	// Reapplying the level must be a no-op
	before, _ := h.hist.Stats()
	h.hist.HandlePressure(pressure.Warning)
	after, err := h.hist.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if after.CompressedItems != before.CompressedItems || after.Items != before.Items {
		t.Error("Reapplied warning level should change nothing")
	}
}

// TestCriticalPressure tests the full critical response over 80 image items
func TestCriticalPressure(t *testing.T) {
	h := newHarness(t)

	for i := 0; i < 80; i++ {
		if _, err := h.hist.AddImage([]byte{0x89, 'P', 'N', 'G', byte(i)}, "api"); err != nil {
			t.Fatalf("AddImage %d failed: %v", i, err)
		}
	}

	h.hist.HandlePressure(pressure.Critical)

	eventually(t, func() bool {
		s, err := h.hist.Stats()
		return err == nil && s.Items <= 50 && s.ResidentImages <= 5 &&
			s.EvictedImages == s.ImageItems-s.ResidentImages
	}, "critical pressure response never settled")

	s, err := h.hist.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if s.Items != 50 {
		t.Errorf("Expected history trimmed to 50 items, got %d", s.Items)
	}
	if s.ResidentImages > 5 {
		t.Errorf("Expected at most 5 resident images, got %d", s.ResidentImages)
	}
	if s.PressureLevel != "critical" {
		t.Errorf("Expected critical level, got %s", s.PressureLevel)
	}

	// No orphaned blobs: every stored blob belongs to a surviving item
	eventually(t, func() bool { return h.items.count() == 50 }, "store records never trimmed")
	views, err := h.hist.List(0, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	live := make(map[string]bool, len(views))
	for _, v := range views {
		live[v.ID] = true
	}
	eventually(t, func() bool {
		for id := range h.blobs.ids() {
			if !live[id] {
				return false
			}
		}
		return true
	}, "orphaned blobs left after critical trim")

	eventually(t, func() bool { return h.items.compactions() > 0 }, "compaction never requested")
}

// TestImageReload tests the blocking reload path after eviction
func TestImageReload(t *testing.T) {
	h := newHarness(t)

	data := []byte{0x89, 'P', 'N', 'G', 1, 2, 3, 4}
	view, err := h.hist.AddImage(data, "api")
	if err != nil {
		t.Fatalf("AddImage failed: %v", err)
	}
	id := uuid.MustParse(view.ID)

	// Resident read needs no store access
	got, err := h.hist.Image(id)
	if err != nil {
		t.Fatalf("Image failed: %v", err)
	}
	if string(got) != string(data) {
		t.Error("Resident image bytes differ")
	}

	// Push the image outside the critical keep window and force eviction
	for i := 0; i < 6; i++ {
		if _, err := h.hist.AddImage([]byte{byte(i), 9, 9, 9}, "api"); err != nil {
			t.Fatalf("AddImage failed: %v", err)
		}
	}
	h.hist.HandlePressure(pressure.Critical)
	eventually(t, func() bool {
		detail, err := h.hist.Get(id)
		return err == nil && detail.ImageState == string(item.ImageEvicted)
	}, "image never evicted")

	got, err = h.hist.Image(id)
	if err != nil {
		t.Fatalf("Image after eviction failed: %v", err)
	}
	if string(got) != string(data) {
		t.Error("Reloaded image bytes differ")
	}

	// The reload restores residency through the actor
	eventually(t, func() bool {
		detail, err := h.hist.Get(id)
		return err == nil && detail.ImageState == string(item.ImageResident)
	}, "reload never restored residency")
}

// TestEvictionFallback tests the compressed in-memory copy after a failed save
func TestEvictionFallback(t *testing.T) {
	h := newHarness(t)
	h.blobs.failSave = true

	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	view, err := h.hist.AddImage(data, "api")
	if err != nil {
		t.Fatalf("AddImage failed: %v", err)
	}
	id := uuid.MustParse(view.ID)

	// Pad the history so the image falls outside the keep window
	for i := 0; i < 20; i++ {
		if _, err := h.hist.AddImage([]byte{byte(i), 1, 2, 3}, "api"); err != nil {
			t.Fatalf("AddImage failed: %v", err)
		}
	}
	h.hist.HandlePressure(pressure.Warning)

	eventually(t, func() bool {
		detail, err := h.hist.Get(id)
		return err == nil && detail.ImageState == string(item.ImageEvicted)
	}, "image never left the resident tier")

	// The save failed, so the bytes must come back from the in-memory copy
	got, err := h.hist.Image(id)
	if err != nil {
		t.Fatalf("Image after failed save: %v", err)
	}
	if string(got) != string(data) {
		t.Error("Fallback copy lost data")
	}
}

// TestDelete tests removal of the item, its record, and its blob
func TestDelete(t *testing.T) {
	h := newHarness(t)

	view, err := h.hist.AddText("to be deleted", "api")
	if err != nil {
		t.Fatalf("AddText failed: %v", err)
	}
	id := uuid.MustParse(view.ID)

	if err := h.hist.Delete(id); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := h.hist.Get(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	eventually(t, func() bool { return h.items.count() == 0 }, "record never deleted")

	if err := h.hist.Delete(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Deleting a missing item should return ErrNotFound, got %v", err)
	}
}

// TestCapacityTrim tests the insert-time capacity bound
func TestCapacityTrim(t *testing.T) {
	log := &logger.Logger{Logger: zap.NewNop()}
	m := metrics.New("test", prometheus.NewRegistry())
	lib, err := rules.New(nil, log)
	if err != nil {
		t.Fatalf("Failed to create rule library: %v", err)
	}
	engine := sanitize.NewEngine(config.SanitizeConfig{Enabled: false}, lib, log)

	lifeCfg := config.LifecycleConfig{CompressThreshold: 1000000}
	lifeCfg.Critical.MaxItems = 50
	items := newFakeItemStore()
	life := lifecycle.NewManager(lifeCfg, newFakeBlobStore(), m, log)

	hist := New(config.HistoryConfig{MaxItems: 3, TrimInterval: time.Hour}, engine, life, items, nil, m, log)
	ctx, cancel := context.WithCancel(context.Background())
	go hist.Run(ctx)
	defer func() {
		cancel()
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		hist.Shutdown(sctx)
	}()

	for i := 0; i < 5; i++ {
		if _, err := hist.AddText(strings.Repeat("x", i+1), "api"); err != nil {
			t.Fatalf("AddText failed: %v", err)
		}
	}

	views, err := hist.List(0, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(views) != 3 {
		t.Errorf("Expected capacity bound of 3, got %d items", len(views))
	}
	eventually(t, func() bool { return items.count() == 3 }, "trimmed records never deleted")
}

// TestLoad tests startup restore from the item store
func TestLoad(t *testing.T) {
	log := &logger.Logger{Logger: zap.NewNop()}
	m := metrics.New("test", prometheus.NewRegistry())
	lib, err := rules.New(nil, log)
	if err != nil {
		t.Fatalf("Failed to create rule library: %v", err)
	}
	engine := sanitize.NewEngine(config.SanitizeConfig{Enabled: false}, lib, log)

	lifeCfg := config.LifecycleConfig{CompressThreshold: 1000000}
	lifeCfg.Critical.MaxItems = 50
	items := newFakeItemStore()
	life := lifecycle.NewManager(lifeCfg, newFakeBlobStore(), m, log)

	textID := uuid.NewString()
	imageID := uuid.NewString()
	brokenID := uuid.NewString()
	items.Put(context.Background(), store.ItemRecord{
		ID: textID, CreatedAt: time.Now().Add(-time.Minute), Kind: "text",
		OriginalText: "password: hunter2", SanitizedText: "password: *******",
	})
	items.Put(context.Background(), store.ItemRecord{
		ID: imageID, CreatedAt: time.Now().Add(-2 * time.Minute), Kind: "image",
		ImageRef: "blobs/" + imageID,
	})
	// An image record without a durable reference cannot be recovered
	items.Put(context.Background(), store.ItemRecord{
		ID: brokenID, CreatedAt: time.Now().Add(-3 * time.Minute), Kind: "image",
	})

	hist := New(config.HistoryConfig{MaxItems: 100, TrimInterval: time.Hour}, engine, life, items, nil, m, log)
	if err := hist.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go hist.Run(ctx)
	defer func() {
		cancel()
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		hist.Shutdown(sctx)
	}()

	views, err := hist.List(0, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("Expected 2 restored items, got %d", len(views))
	}

	detail, err := hist.Get(uuid.MustParse(textID))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if detail.Text != "password: *******" {
		t.Errorf("Sanitized text is canonical after restore, got %q", detail.Text)
	}
	if !detail.Sanitized {
		t.Error("Restored item should report sanitized")
	}

	imgDetail, err := hist.Get(uuid.MustParse(imageID))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if imgDetail.ImageState != string(item.ImageEvicted) {
		t.Errorf("Restored image should start evicted, got %s", imgDetail.ImageState)
	}

	eventually(t, func() bool { return items.count() == 2 }, "unrecoverable record never deleted")
}
