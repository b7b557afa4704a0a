package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clipvault/clipvault/internal/config"
	"github.com/clipvault/clipvault/internal/item"
	"github.com/clipvault/clipvault/internal/logger"
	"github.com/clipvault/clipvault/internal/metrics"
	"github.com/clipvault/clipvault/internal/pressure"
	"github.com/clipvault/clipvault/internal/store"
)

// storeTimeout bounds one blob operation
const storeTimeout = 30 * time.Second

// Manager executes the tier transitions that touch the blob store. The
// history dispatches these onto background goroutines and publishes the
// outcomes back through its own serialized loop.
type Manager struct {
	cfg     config.LifecycleConfig
	blobs   store.BlobStore
	logger  *logger.Logger
	metrics *metrics.Metrics
}

// NewManager creates a lifecycle manager
func NewManager(cfg config.LifecycleConfig, blobs store.BlobStore, m *metrics.Metrics, log *logger.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		blobs:   blobs,
		logger:  log,
		metrics: m,
	}
}

// Plan computes the transitions a pressure level demands
func (m *Manager) Plan(level pressure.Level, items []item.Info) Plan {
	plan := PlanFor(level, items, m.cfg)
	if !plan.Empty() {
		m.logger.Info("Pressure response planned",
			zap.String("level", level.String()),
			zap.Int("evict", len(plan.Evict)),
			zap.Int("compress", len(plan.Compress)),
			zap.Int("drop", len(plan.Drop)),
		)
	}
	return plan
}

// CompressThreshold is the text length at which new captures are folded
// straight into the compressed tier
func (m *Manager) CompressThreshold() int {
	return m.cfg.CompressThreshold
}

// EvictImage saves image bytes to the blob store. On save failure it
// returns a compressed in-memory copy instead of a reference, so the image
// stays readable; memory is not rolled back.
func (m *Manager) EvictImage(id uuid.UUID, data []byte) (ref string, fallback []byte, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	ref, err = m.blobs.Save(ctx, id.String(), data)
	if err != nil {
		m.logger.Error("Image eviction save failed, keeping compressed copy",
			zap.String("item_id", id.String()),
			zap.Error(err),
		)
		m.metrics.StoreFailures.WithLabelValues("blob_save").Inc()
		m.metrics.EvictionFallbacks.Inc()
		return "", item.CompressBytes(data), err
	}

	m.metrics.Evictions.Inc()
	return ref, nil, nil
}

// ReloadImage fetches evicted image bytes back from the blob store
func (m *Manager) ReloadImage(id uuid.UUID) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	data, err := m.blobs.Load(ctx, id.String())
	if err != nil {
		m.logger.Error("Image reload failed",
			zap.String("item_id", id.String()),
			zap.Error(err),
		)
		m.metrics.StoreFailures.WithLabelValues("blob_load").Inc()
		return nil, fmt.Errorf("failed to reload image: %w", err)
	}

	m.metrics.Reloads.Inc()
	return data, nil
}

// DeleteBlob removes the durable copy of a dropped image
func (m *Manager) DeleteBlob(id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := m.blobs.Delete(ctx, id.String()); err != nil {
		m.metrics.StoreFailures.WithLabelValues("blob_delete").Inc()
		return err
	}
	return nil
}
