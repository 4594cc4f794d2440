package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/geyserpipe/geyserpipe/internal/broadcast"
	"github.com/geyserpipe/geyserpipe/internal/common"
	"github.com/geyserpipe/geyserpipe/internal/intake"
	"github.com/geyserpipe/geyserpipe/internal/logger"
	"github.com/geyserpipe/geyserpipe/internal/metrics"
	"github.com/geyserpipe/geyserpipe/internal/staging"
	"github.com/geyserpipe/geyserpipe/internal/store"
	"github.com/geyserpipe/geyserpipe/internal/types"
	"github.com/geyserpipe/geyserpipe/pkg/config"
)

// Pipeline wires the four stages together: intake hands events to the staging
// worker, whose promoted batches fan out to the commit sink and the
// broadcaster. It implements the geyser notifier surface by delegating to the
// intake stage.
type Pipeline struct {
	cfg config.Config
	log *logger.Logger

	intake      *intake.Intake
	buffer      *staging.Buffer
	sink        *store.Store
	broadcaster *broadcast.Broadcaster
}

// New assembles a pipeline over an opened, migrated database handle.
func New(cfg config.Config, db *sql.DB, log *logger.Logger) *Pipeline {
	in := intake.New(cfg.Pipeline, log)
	buf := staging.New(cfg.Pipeline, in.Events(), log)

	return &Pipeline{
		cfg:         cfg,
		log:         log.WithComponent(common.ComponentPipeline),
		intake:      in,
		buffer:      buf,
		sink:        store.New(db, cfg.Store, buf.CommitOutput(), log),
		broadcaster: broadcast.New(cfg.Broadcast, buf.BroadcastOutput(), log),
	}
}

// Run operates all stages until the context is cancelled or a stage fails
// fatally. On cancellation the intake closes first so the staging worker and
// the commit sink can drain everything already accepted; broadcast delivery
// is best-effort during shutdown.
func (p *Pipeline) Run(ctx context.Context) error {
	metrics.ComponentHealthSet(common.ComponentPipeline, true)
	defer metrics.ComponentHealthSet(common.ComponentPipeline, false)

	g, runCtx := errgroup.WithContext(ctx)

	// Closing intake on cancellation (or on a downstream failure) lets every
	// stage exit through normal channel-close drains instead of being cut off
	// mid-batch.
	g.Go(func() error {
		<-runCtx.Done()
		p.intake.Close()
		return nil
	})

	g.Go(func() error {
		// the staging worker ignores its context so a downstream failure
		// cannot abandon events already accepted by intake
		return p.buffer.Run(context.WithoutCancel(runCtx))
	})

	g.Go(func() error {
		if err := p.sink.Run(context.WithoutCancel(runCtx)); err != nil {
			return fmt.Errorf("commit sink: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return p.broadcaster.Run(context.WithoutCancel(runCtx))
	})

	p.log.Info("pipeline started")

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	p.log.Info("pipeline stopped")
	return nil
}

// OnAccountUpdate implements the geyser notifier surface.
func (p *Pipeline) OnAccountUpdate(update types.AccountUpdate) error {
	return p.intake.OnAccountUpdate(update)
}

// OnSlotStatus implements the geyser notifier surface.
func (p *Pipeline) OnSlotStatus(status types.SlotStatusUpdate) error {
	return p.intake.OnSlotStatus(status)
}

// OnStartupComplete implements the geyser notifier surface.
func (p *Pipeline) OnStartupComplete() error {
	return p.intake.OnStartupComplete()
}

// Store exposes the commit sink's query surface.
func (p *Pipeline) Store() *store.Store {
	return p.sink
}

// Broadcaster exposes subscriber management.
func (p *Pipeline) Broadcaster() *broadcast.Broadcaster {
	return p.broadcaster
}

// TrackedSlots reports the staging buffer's current slot count.
func (p *Pipeline) TrackedSlots() int64 {
	return p.buffer.TrackedSlots()
}

// HighestRooted reports the highest rooted slot seen so far.
func (p *Pipeline) HighestRooted() uint64 {
	return p.buffer.HighestRooted()
}
