package staging

import (
	"bytes"
	"sort"

	"github.com/geyserpipe/geyserpipe/internal/common"
	"github.com/geyserpipe/geyserpipe/internal/metrics"
	"github.com/geyserpipe/geyserpipe/internal/types"
)

// promote emits the committed updates for a rooted slot and all of its
// not-yet-promoted ancestors, in root-to-leaf order. An ancestor with no
// record in the arena was already promoted (or never carried updates), which
// terminates the walk. Each address is filtered through the committed
// watermark so a slower or duplicate delivery path can never re-expose
// already-committed data out of order.
func (b *Buffer) promote(slot uint64) {
	chain := make([]*slotRecord, 0, 4)

	cur := slot
	for {
		rec, exists := b.slots[cur]
		if !exists {
			break
		}
		chain = append(chain, rec)
		if !rec.parentKnown {
			break
		}
		cur = rec.parent
	}

	if len(chain) == 0 {
		return
	}

	// ancestor-before-descendant
	batch := make([]types.CommittedUpdate, 0, len(chain))
	for i := len(chain) - 1; i >= 0; i-- {
		rec := chain[i]
		batch = append(batch, b.collectSlot(rec)...)

		if rec.slot > b.highestRooted || !b.rootedSeen {
			b.highestRooted = rec.slot
			b.rootedSeen = true
		}
		metrics.SlotResolvedInc("rooted")
		b.dropSlot(rec.slot)
	}

	metrics.HighestRootedSlot.Set(float64(b.highestRooted))
	b.highestRooted64.Store(b.highestRooted)

	if len(batch) > 0 {
		metrics.UpdatesCommittedAdd(len(batch))
		b.commitOut <- batch
		b.broadcastOut <- batch
	}

	b.log.Debugw("promoted rooted chain",
		"slot", slot,
		"chain_length", len(chain),
		"updates", len(batch),
	)

	b.evictStale()
}

// collectSlot turns a slot record's deduplicated address map into committed
// updates, advancing the per-address watermark. Addresses are emitted in a
// stable order so downstream consumers see deterministic batches.
func (b *Buffer) collectSlot(rec *slotRecord) []types.CommittedUpdate {
	if len(rec.accounts) == 0 {
		return nil
	}

	updates := make([]*types.AccountUpdate, 0, len(rec.accounts))
	for _, u := range rec.accounts {
		updates = append(updates, u)
	}
	sort.Slice(updates, func(i, j int) bool {
		return bytes.Compare(updates[i].Account[:], updates[j].Account[:]) < 0
	})

	out := make([]types.CommittedUpdate, 0, len(updates))
	for _, u := range updates {
		cu := u.Committed()

		wm, seen := b.watermark[u.Account]
		if seen && !cu.Supersedes(wm.slot, wm.writeVersion) {
			metrics.UpdatesSupersededInc()
			continue
		}

		b.watermark[u.Account] = committedVersion{slot: u.Slot, writeVersion: u.WriteVersion}
		out = append(out, cu)
	}

	return out
}

// discardBranch drops a dead slot and cascades to every staged descendant:
// a slot whose parent is dead and that never independently rooted is
// unreachable. Nothing is emitted for any of them.
func (b *Buffer) discardBranch(slot uint64) {
	pending := []uint64{slot}

	for len(pending) > 0 {
		cur := pending[0]
		pending = pending[1:]

		rec, exists := b.slots[cur]
		if !exists {
			continue
		}

		pending = append(pending, b.children[cur]...)

		if len(rec.accounts) > 0 {
			b.log.Debugw("discarding dead slot",
				"slot", cur,
				"staged_updates", len(rec.accounts),
			)
		}

		metrics.SlotResolvedInc("dead")
		b.dropSlot(cur)
	}
}

// evictStale enforces the retention window: slot records that fell more than
// RetentionSlots behind the highest rooted slot are evicted even without a
// terminal status, bounding memory under pathological host behavior.
// Evicting a record that still holds updates is data loss and is surfaced as
// such; downstream consumers may observe a gap.
func (b *Buffer) evictStale() {
	if !b.rootedSeen || b.highestRooted <= b.cfg.RetentionSlots {
		return
	}
	floor := b.highestRooted - b.cfg.RetentionSlots

	for slot, rec := range b.slots {
		if slot >= floor {
			continue
		}

		if len(rec.accounts) > 0 {
			metrics.EvictionDataLossInc()
			metrics.Errors.WithLabelValues(common.ComponentStaging, "warning").Inc()
			b.log.Warnw("evicting unresolved slot past retention window",
				"slot", slot,
				"staged_updates", len(rec.accounts),
				"highest_rooted", b.highestRooted,
			)
		}

		metrics.SlotResolvedInc("evicted")
		b.dropSlot(slot)
	}
}
