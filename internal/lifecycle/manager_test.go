package lifecycle

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/clipvault/clipvault/internal/config"
	"github.com/clipvault/clipvault/internal/item"
	"github.com/clipvault/clipvault/internal/logger"
	"github.com/clipvault/clipvault/internal/metrics"
	"github.com/clipvault/clipvault/internal/pressure"
)

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
		return nil, errors.New("not found")
	}
	return data, nil
}

func (f *fakeBlobStore) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.blobs, id)
	return nil
}

func testConfig() config.LifecycleConfig {
	cfg := config.LifecycleConfig{CompressThreshold: 1000}
	cfg.Warning.ResidentImages = 2
	cfg.Warning.CompressOver = 10
	cfg.Critical.ResidentImages = 1
	cfg.Critical.MaxItems = 3
	return cfg
}

func newTestManager(blobs *fakeBlobStore) *Manager {
	m := metrics.New("test", prometheus.NewRegistry())
	log := &logger.Logger{Logger: zap.NewNop()}
	return NewManager(testConfig(), blobs, m, log)
}

func textInfo(length int) item.Info {
	return item.Info{ID: uuid.New(), Kind: item.KindText, TextState: item.TextResident, TextLen: length, CreatedAt: time.Now()}
}

func imageInfo(state item.ImageState, evicting bool) item.Info {
	return item.Info{ID: uuid.New(), Kind: item.KindImage, TextState: item.TextResident, ImageState: state, Evicting: evicting, CreatedAt: time.Now()}
}

// TestPlanFor tests the pressure response planner
func TestPlanFor(t *testing.T) {
	cfg := testConfig()

	t.Run("NormalPlansNothing", func(t *testing.T) {
		items := []item.Info{textInfo(50), imageInfo(item.ImageResident, false)}
		plan := PlanFor(pressure.Normal, items, cfg)
		if !plan.Empty() {
			t.Errorf("Normal level should plan no work: %+v", plan)
		}
	})

	t.Run("WarningEvictsBeyondKeep", func(t *testing.T) {
		img1 := imageInfo(item.ImageResident, false)
		img2 := imageInfo(item.ImageResident, false)
		img3 := imageInfo(item.ImageResident, false)
		img4 := imageInfo(item.ImageEvicted, false)
		img5 := imageInfo(item.ImageResident, true)

		// Newest first; text items must not consume image rank slots
		items := []item.Info{img1, textInfo(5), img2, textInfo(50), img3, img4, img5}

		plan := PlanFor(pressure.Warning, items, cfg)
		if len(plan.Evict) != 1 || plan.Evict[0] != img3.ID {
			t.Errorf("Expected only the third image evicted, got %v", plan.Evict)
		}
		if plan.Compact {
			t.Error("Warning should not compact")
		}
		if len(plan.Drop) != 0 {
			t.Errorf("Warning should not drop items, got %v", plan.Drop)
		}
	})

	t.Run("WarningCompressesLargeText", func(t *testing.T) {
		small := textInfo(10)
		large := textInfo(11)
		empty := textInfo(0)
		compressed := item.Info{ID: uuid.New(), Kind: item.KindText, TextState: item.TextCompressed, TextLen: 5000}

		plan := PlanFor(pressure.Warning, []item.Info{small, large, empty, compressed}, cfg)
		if len(plan.Compress) != 1 || plan.Compress[0] != large.ID {
			t.Errorf("Expected only the large item compressed, got %v", plan.Compress)
		}
	})

	t.Run("CriticalTrimsOldestFirst", func(t *testing.T) {
		items := make([]item.Info, 6)
		for i := range items {
			items[i] = textInfo(20)
		}

		plan := PlanFor(pressure.Critical, items, cfg)
		if len(plan.Drop) != 3 {
			t.Fatalf("Expected 3 drops, got %d", len(plan.Drop))
		}
		// Victims leave oldest first
		if plan.Drop[0] != items[5].ID || plan.Drop[1] != items[4].ID || plan.Drop[2] != items[3].ID {
			t.Errorf("Drops not oldest-first: %v", plan.Drop)
		}
		if !plan.Compact {
			t.Error("Critical should compact the store")
		}
	})

	t.Run("CriticalCompressesAllText", func(t *testing.T) {
		one := textInfo(1)
		empty := textInfo(0)

		plan := PlanFor(pressure.Critical, []item.Info{one, empty}, cfg)
		if len(plan.Compress) != 1 || plan.Compress[0] != one.ID {
			t.Errorf("Critical should compress every non-empty text item, got %v", plan.Compress)
		}
	})

	t.Run("CriticalSkipsDroppedItems", func(t *testing.T) {
		// Only survivors are evicted or compressed; victims just leave
		imgs := []item.Info{
			imageInfo(item.ImageResident, false),
			imageInfo(item.ImageResident, false),
			imageInfo(item.ImageResident, false),
			imageInfo(item.ImageResident, false),
			imageInfo(item.ImageResident, false),
		}

		plan := PlanFor(pressure.Critical, imgs, cfg)
		if len(plan.Drop) != 2 {
			t.Fatalf("Expected 2 drops, got %d", len(plan.Drop))
		}
		// Three survivors, keep one resident: two evictions
		if len(plan.Evict) != 2 || plan.Evict[0] != imgs[1].ID || plan.Evict[1] != imgs[2].ID {
			t.Errorf("Unexpected evictions: %v", plan.Evict)
		}
	})

	t.Run("Idempotent", func(t *testing.T) {
		img := imageInfo(item.ImageEvicted, false)
		txt := item.Info{ID: uuid.New(), Kind: item.KindText, TextState: item.TextCompressed, TextLen: 5000}

		// State after a warning response was applied: planning again is a no-op
		plan := PlanFor(pressure.Warning, []item.Info{img, txt}, cfg)
		if !plan.Empty() {
			t.Errorf("Re-planning applied state should be empty: %+v", plan)
		}
	})
}

// TestManager tests the blob store transitions
func TestManager(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G', 1, 2, 3, 4, 5, 6, 7, 8}

	t.Run("EvictImage", func(t *testing.T) {
		blobs := newFakeBlobStore()
		mgr := newTestManager(blobs)
		id := uuid.New()

		ref, fallback, err := mgr.EvictImage(id, png)
		if err != nil {
			t.Fatalf("EvictImage failed: %v", err)
		}
		if ref != "blobs/"+id.String() {
			t.Errorf("Unexpected ref: %q", ref)
		}
		if fallback != nil {
			t.Error("Successful save should not return a fallback")
		}

		stored, err := blobs.Load(context.Background(), id.String())
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if !bytes.Equal(stored, png) {
			t.Error("Stored bytes do not match")
		}
	})

	t.Run("EvictImageFallback", func(t *testing.T) {
		blobs := newFakeBlobStore()
		blobs.failSave = true
		mgr := newTestManager(blobs)

		ref, fallback, err := mgr.EvictImage(uuid.New(), png)
		if err == nil {
			t.Fatal("Expected save error")
		}
		if ref != "" {
			t.Errorf("Failed save should not return a ref, got %q", ref)
		}

		// The fallback keeps the image readable
		restored, derr := item.DecompressBytes(fallback)
		if derr != nil {
			t.Fatalf("Fallback did not decompress: %v", derr)
		}
		if !bytes.Equal(restored, png) {
			t.Error("Fallback bytes do not round-trip")
		}
	})

	t.Run("ReloadImage", func(t *testing.T) {
		blobs := newFakeBlobStore()
		mgr := newTestManager(blobs)
		id := uuid.New()

		if _, _, err := mgr.EvictImage(id, png); err != nil {
			t.Fatalf("EvictImage failed: %v", err)
		}

		data, err := mgr.ReloadImage(id)
		if err != nil {
			t.Fatalf("ReloadImage failed: %v", err)
		}
		if !bytes.Equal(data, png) {
			t.Error("Reloaded bytes do not match")
		}
	})

	t.Run("ReloadMissing", func(t *testing.T) {
		mgr := newTestManager(newFakeBlobStore())
		if _, err := mgr.ReloadImage(uuid.New()); err == nil {
			t.Error("Reloading a missing blob should fail")
		}
	})

	t.Run("DeleteBlob", func(t *testing.T) {
		blobs := newFakeBlobStore()
		mgr := newTestManager(blobs)
		id := uuid.New()

		if _, _, err := mgr.EvictImage(id, png); err != nil {
			t.Fatalf("EvictImage failed: %v", err)
		}
		if err := mgr.DeleteBlob(id); err != nil {
			t.Fatalf("DeleteBlob failed: %v", err)
		}
		if _, err := blobs.Load(context.Background(), id.String()); err == nil {
			t.Error("Blob should be gone")
		}
	})

	t.Run("CompressThreshold", func(t *testing.T) {
		mgr := newTestManager(newFakeBlobStore())
		if mgr.CompressThreshold() != 1000 {
			t.Errorf("Unexpected threshold: %d", mgr.CompressThreshold())
		}
	})

	t.Run("Plan", func(t *testing.T) {
		mgr := newTestManager(newFakeBlobStore())
		plan := mgr.Plan(pressure.Warning, []item.Info{textInfo(50)})
		if len(plan.Compress) != 1 {
			t.Errorf("Expected one compression, got %+v", plan)
		}
	})
}
