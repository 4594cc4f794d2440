package staging

import (
	"context"
	"sync/atomic"

	"github.com/geyserpipe/geyserpipe/internal/common"
	"github.com/geyserpipe/geyserpipe/internal/intake"
	"github.com/geyserpipe/geyserpipe/internal/logger"
	"github.com/geyserpipe/geyserpipe/internal/metrics"
	"github.com/geyserpipe/geyserpipe/internal/types"
	"github.com/geyserpipe/geyserpipe/pkg/config"
)

// slotRecord accumulates the unconfirmed account updates observed for one
// slot, deduplicated by address with write-version tie-break.
type slotRecord struct {
	slot        uint64
	parent      uint64
	parentKnown bool
	status      types.SlotStatus
	accounts    map[types.Pubkey]*types.AccountUpdate
}

// statusRank orders non-terminal statuses so a late duplicate can never
// downgrade a slot.
func statusRank(s types.SlotStatus) int {
	switch s {
	case types.StatusProcessed:
		return 0
	case types.StatusConfirmed:
		return 1
	case types.StatusRooted, types.StatusDead:
		return 2
	default:
		return -1
	}
}

// committedVersion is the per-address watermark of the latest exposed state.
type committedVersion struct {
	slot         uint64
	writeVersion uint64
}

// Buffer is the fork-aware staging structure and finality resolver. It runs
// as a single sequential worker: the sole linearization point for per-address
// monotonicity. Promoted updates are fanned out to two independent bounded
// channels, one for the commit sink and one for the broadcaster, so neither
// consumer can stall the other.
type Buffer struct {
	cfg config.PipelineConfig
	log *logger.Logger
	in  <-chan intake.Event

	commitOut    chan []types.CommittedUpdate
	broadcastOut chan []types.CommittedUpdate

	// slot arena; parent links are lookups only, never ownership
	slots    map[uint64]*slotRecord
	children map[uint64][]uint64

	watermark map[types.Pubkey]committedVersion

	highestRooted uint64
	rootedSeen    bool

	startupBatch []types.CommittedUpdate

	// read by the API without locking the worker
	trackedSlots    atomic.Int64
	highestRooted64 atomic.Uint64
}

// New creates a staging buffer consuming events from the given intake channel.
func New(cfg config.PipelineConfig, in <-chan intake.Event, log *logger.Logger) *Buffer {
	b := &Buffer{
		cfg:          cfg,
		log:          log.WithComponent(common.ComponentStaging),
		in:           in,
		commitOut:    make(chan []types.CommittedUpdate, cfg.CommitQueueSize),
		broadcastOut: make(chan []types.CommittedUpdate, cfg.BroadcastQueueSize),
		slots:        make(map[uint64]*slotRecord),
		children:     make(map[uint64][]uint64),
		watermark:    make(map[types.Pubkey]committedVersion),
	}

	metrics.ComponentHealthSet(common.ComponentStaging, true)

	b.log.Infow("staging buffer initialized", "retention_slots", cfg.RetentionSlots)

	return b
}

// CommitOutput returns the promotion channel consumed by the commit sink.
func (b *Buffer) CommitOutput() <-chan []types.CommittedUpdate {
	return b.commitOut
}

// BroadcastOutput returns the promotion channel consumed by the broadcaster.
func (b *Buffer) BroadcastOutput() <-chan []types.CommittedUpdate {
	return b.broadcastOut
}

// TrackedSlots returns the number of slot records currently staged.
func (b *Buffer) TrackedSlots() int64 {
	return b.trackedSlots.Load()
}

// HighestRooted returns the highest slot known to be rooted.
func (b *Buffer) HighestRooted() uint64 {
	return b.highestRooted64.Load()
}

// Run processes intake events until the intake channel closes or the context
// is cancelled. On a clean close the remaining startup batch is flushed and
// both output channels are closed so the commit sink can drain; durability
// takes priority over subscriber delivery on shutdown.
func (b *Buffer) Run(ctx context.Context) error {
	defer func() {
		close(b.commitOut)
		close(b.broadcastOut)
		metrics.ComponentHealthSet(common.ComponentStaging, false)
	}()

	for {
		select {
		case <-ctx.Done():
			b.log.Info("staging worker cancelled")
			return ctx.Err()
		case ev, ok := <-b.in:
			if !ok {
				b.flushStartupBatch()
				b.log.Infow("staging worker finished",
					"pending_slots", len(b.slots),
					"highest_rooted", b.highestRooted,
				)
				return nil
			}
			b.handle(ev)
		}
	}
}

func (b *Buffer) handle(ev intake.Event) {
	switch ev.Kind {
	case intake.EventAccount:
		b.recordUpdate(ev.Account)
	case intake.EventStatus:
		b.recordStatus(ev.Status)
	case intake.EventStartupDone:
		b.flushStartupBatch()
		b.log.Info("startup snapshot replay complete")
	}
}

// recordUpdate inserts the update into its owning slot record. Startup
// snapshot updates represent ground truth at process start: they bypass the
// fork logic and flow straight to the commit sink, never to subscribers.
func (b *Buffer) recordUpdate(u *types.AccountUpdate) {
	if u.Startup {
		b.stageStartupUpdate(u)
		return
	}

	if b.rootedSeen && u.Slot <= b.highestRooted {
		if _, exists := b.slots[u.Slot]; !exists {
			// Late redelivery for a slot already promoted or discarded.
			// Fork membership can no longer be established, so the update is
			// filtered here; the committed watermark already reflects
			// everything this slot contributed.
			metrics.UpdatesSupersededInc()
			b.log.Debugw("dropping late update for resolved slot",
				"slot", u.Slot,
				"account", u.Account.String(),
			)
			return
		}
	}

	rec := b.ensureSlot(u.Slot)

	existing := rec.accounts[u.Account]
	if existing != nil {
		if existing.WriteVersion == u.WriteVersion {
			// must never occur for the same slot+address
			b.log.Warnw("duplicate write-version within slot",
				"slot", u.Slot,
				"account", u.Account.String(),
				"write_version", u.WriteVersion,
			)
			metrics.Errors.WithLabelValues(common.ComponentStaging, "warning").Inc()
			return
		}
		if existing.WriteVersion > u.WriteVersion {
			return
		}
	}

	rec.accounts[u.Account] = u
}

// recordStatus applies a slot status transition and triggers finality
// resolution. A duplicate status for an already-terminal slot is a no-op.
func (b *Buffer) recordStatus(s types.SlotStatusUpdate) {
	rec := b.ensureSlot(s.Slot)

	if rec.status.IsTerminal() {
		return
	}

	if !rec.parentKnown {
		rec.parent = s.Parent
		rec.parentKnown = true
		b.children[s.Parent] = append(b.children[s.Parent], s.Slot)
	}

	switch s.Status {
	case types.StatusProcessed, types.StatusConfirmed:
		if statusRank(s.Status) > statusRank(rec.status) {
			rec.status = s.Status
		}
	case types.StatusDead:
		b.discardBranch(s.Slot)
	case types.StatusRooted:
		b.promote(s.Slot)
	}
}

// ensureSlot returns the record for the slot, creating it on first reference.
func (b *Buffer) ensureSlot(slot uint64) *slotRecord {
	rec, exists := b.slots[slot]
	if !exists {
		rec = &slotRecord{
			slot:     slot,
			status:   types.StatusProcessed,
			accounts: make(map[types.Pubkey]*types.AccountUpdate),
		}
		b.slots[slot] = rec
		b.trackedSlots.Store(int64(len(b.slots)))
		metrics.TrackedSlots.Set(float64(len(b.slots)))
	}
	return rec
}

func (b *Buffer) dropSlot(slot uint64) {
	rec, exists := b.slots[slot]
	if !exists {
		return
	}
	delete(b.slots, slot)
	if rec.parentKnown {
		b.removeChildLink(rec.parent, slot)
	}
	b.trackedSlots.Store(int64(len(b.slots)))
	metrics.TrackedSlots.Set(float64(len(b.slots)))
}

func (b *Buffer) removeChildLink(parent, child uint64) {
	siblings := b.children[parent]
	for i, s := range siblings {
		if s == child {
			b.children[parent] = append(siblings[:i], siblings[i+1:]...)
			break
		}
	}
	if len(b.children[parent]) == 0 {
		delete(b.children, parent)
	}
}

// stageStartupUpdate routes a snapshot update through the bulk-load path.
func (b *Buffer) stageStartupUpdate(u *types.AccountUpdate) {
	cu := u.Committed()

	wm, seen := b.watermark[u.Account]
	if seen && !cu.Supersedes(wm.slot, wm.writeVersion) {
		metrics.UpdatesSupersededInc()
		return
	}
	b.watermark[u.Account] = committedVersion{slot: u.Slot, writeVersion: u.WriteVersion}

	b.startupBatch = append(b.startupBatch, cu)
	if len(b.startupBatch) >= b.cfg.StartupBatchSize {
		b.flushStartupBatch()
	}
}

// flushStartupBatch sends accumulated snapshot updates to the commit sink.
// Snapshot state is never broadcast: there are no subscribers before startup
// replay finishes.
func (b *Buffer) flushStartupBatch() {
	if len(b.startupBatch) == 0 {
		return
	}

	batch := b.startupBatch
	b.startupBatch = nil

	metrics.UpdatesCommittedAdd(len(batch))
	b.commitOut <- batch

	b.log.Debugw("flushed startup snapshot batch", "updates", len(batch))
}
