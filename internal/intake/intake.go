package intake

import (
	"fmt"
	"sync"
	"time"

	"github.com/geyserpipe/geyserpipe/internal/common"
	"github.com/geyserpipe/geyserpipe/internal/logger"
	"github.com/geyserpipe/geyserpipe/internal/metrics"
	"github.com/geyserpipe/geyserpipe/internal/types"
	"github.com/geyserpipe/geyserpipe/pkg/config"
)

// EventKind discriminates the variants of Event.
type EventKind int

const (
	// EventAccount carries an account update notification.
	EventAccount EventKind = iota

	// EventStatus carries a slot status transition.
	EventStatus

	// EventStartupDone marks the end of startup snapshot replay.
	EventStartupDone
)

// Event is the normalized internal record handed to the staging worker.
type Event struct {
	Kind    EventKind
	Account *types.AccountUpdate
	Status  types.SlotStatusUpdate
}

// spacing between enqueue retries while the handoff channel is full
const retryInterval = 100 * time.Microsecond

// Intake receives raw notifications on the host's calling threads and hands
// them to the staging worker via a bounded channel. It never blocks on locks
// held by slower stages; when the channel is full it retries within a fixed
// time budget and then signals fatal overload rather than dropping or
// reordering events.
type Intake struct {
	events      chan Event
	enqueueWait time.Duration
	log         *logger.Logger

	mu     sync.RWMutex
	closed bool
}

// New creates a new Intake with the given pipeline configuration.
func New(cfg config.PipelineConfig, log *logger.Logger) *Intake {
	i := &Intake{
		events:      make(chan Event, cfg.IntakeQueueSize),
		enqueueWait: cfg.EnqueueWait.Duration,
		log:         log.WithComponent(common.ComponentIntake),
	}

	metrics.ComponentHealthSet(common.ComponentIntake, true)

	i.log.Infow("intake initialized",
		"queue_size", cfg.IntakeQueueSize,
		"enqueue_wait", cfg.EnqueueWait.Duration,
	)

	return i
}

// Events returns the handoff channel consumed by the staging worker.
func (i *Intake) Events() <-chan Event {
	return i.events
}

// OnAccountUpdate accepts a raw account update notification from the host.
func (i *Intake) OnAccountUpdate(update types.AccountUpdate) error {
	metrics.IntakeEventInc("account")
	return i.enqueue(Event{Kind: EventAccount, Account: &update})
}

// OnSlotStatus accepts a raw slot status notification from the host.
func (i *Intake) OnSlotStatus(status types.SlotStatusUpdate) error {
	if !status.Status.IsValid() {
		return fmt.Errorf("slot %d: invalid status %q", status.Slot, status.Status)
	}

	metrics.IntakeEventInc("status")
	return i.enqueue(Event{Kind: EventStatus, Status: status})
}

// OnStartupComplete signals that startup snapshot replay has finished and
// normal slot streaming begins.
func (i *Intake) OnStartupComplete() error {
	metrics.IntakeEventInc("startup_complete")
	return i.enqueue(Event{Kind: EventStartupDone})
}

// Close stops accepting notifications and closes the handoff channel so the
// staging worker can drain and exit. The host must not invoke callbacks after
// Close returns.
func (i *Intake) Close() {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return
	}
	i.closed = true
	close(i.events)

	metrics.ComponentHealthSet(common.ComponentIntake, false)
	i.log.Info("intake closed")
}

// enqueue performs the bounded non-blocking handoff. It must stay cheap: the
// fast path is a single channel send attempt with no allocation.
func (i *Intake) enqueue(ev Event) error {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if i.closed {
		return ErrClosed
	}

	select {
	case i.events <- ev:
		return nil
	default:
	}

	// Channel full: retry within the configured budget before declaring
	// overload. The sleep keeps the host thread off the scheduler hot path.
	deadline := time.Now().Add(i.enqueueWait)
	for time.Now().Before(deadline) {
		metrics.IntakeRetryInc()
		time.Sleep(retryInterval)

		select {
		case i.events <- ev:
			return nil
		default:
		}
	}

	metrics.IntakeOverloadInc()
	metrics.Errors.WithLabelValues(common.ComponentIntake, "fatal").Inc()
	i.log.Errorw("handoff channel saturated beyond retry budget",
		"queue_capacity", cap(i.events),
		"enqueue_wait", i.enqueueWait,
	)

	return ErrOverloaded
}
