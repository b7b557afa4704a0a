package lifecycle

import (
	"github.com/google/uuid"

	"github.com/clipvault/clipvault/internal/config"
	"github.com/clipvault/clipvault/internal/item"
	"github.com/clipvault/clipvault/internal/pressure"
)

// Plan lists the tier transitions one pressure signal demands.
type Plan struct {
	Evict    []uuid.UUID // resident images to push to the blob store
	Compress []uuid.UUID // resident text to fold into zstd blobs
	Drop     []uuid.UUID // items to remove entirely, oldest first
	Compact  bool        // run a store compaction pass after the drops
}

// Empty reports whether the plan demands no work
func (p Plan) Empty() bool {
	return len(p.Evict) == 0 && len(p.Compress) == 0 && len(p.Drop) == 0 && !p.Compact
}

// PlanFor computes the transitions for a pressure level over item summaries
// ordered newest-first. Responses are idempotent by construction: the plan
// only names items still in the wrong tier, so applying the same level
// twice plans no work the second time.
//
// Warning keeps the most recent images resident and compresses large text.
// Critical keeps almost nothing: a handful of resident images, everything
// compressed, and the history trimmed to its floor with the oldest items
// dropped first.
func PlanFor(level pressure.Level, items []item.Info, cfg config.LifecycleConfig) Plan {
	switch level {
	case pressure.Warning:
		plan := Plan{}
		planEvictions(&plan, items, cfg.Warning.ResidentImages)
		planCompression(&plan, items, cfg.Warning.CompressOver)
		return plan

	case pressure.Critical:
		plan := Plan{}

		survivors := items
		if len(items) > cfg.Critical.MaxItems {
			survivors = items[:cfg.Critical.MaxItems]
			// Drop victims oldest first
			for i := len(items) - 1; i >= cfg.Critical.MaxItems; i-- {
				plan.Drop = append(plan.Drop, items[i].ID)
			}
		}

		planEvictions(&plan, survivors, cfg.Critical.ResidentImages)
		planCompression(&plan, survivors, 0)
		plan.Compact = true
		return plan
	}

	return Plan{}
}

// planEvictions marks resident images beyond the keep-count, ranked by how
// recently the image was added
func planEvictions(plan *Plan, items []item.Info, keep int) {
	rank := 0
	for _, info := range items {
		if info.Kind != item.KindImage {
			continue
		}
		rank++
		if rank <= keep {
			continue
		}
		if info.ImageState == item.ImageResident && !info.Evicting {
			plan.Evict = append(plan.Evict, info.ID)
		}
	}
}

// planCompression marks resident text items longer than the threshold
func planCompression(plan *Plan, items []item.Info, over int) {
	for _, info := range items {
		if info.Kind != item.KindText || info.TextState != item.TextResident {
			continue
		}
		if info.TextLen == 0 || info.TextLen <= over {
			continue
		}
		plan.Compress = append(plan.Compress, info.ID)
	}
}
