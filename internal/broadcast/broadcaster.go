package broadcast

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/geyserpipe/geyserpipe/internal/common"
	"github.com/geyserpipe/geyserpipe/internal/logger"
	"github.com/geyserpipe/geyserpipe/internal/metrics"
	"github.com/geyserpipe/geyserpipe/internal/types"
	"github.com/geyserpipe/geyserpipe/pkg/config"
)

// Broadcaster fans promoted batches out to subscribers through bounded
// per-subscriber queues. A slow subscriber can never apply backpressure to
// the pipeline: depending on policy its oldest queued updates are dropped or
// the subscriber is disconnected after a sustained saturation grace period.
type Broadcaster struct {
	cfg config.BroadcastConfig
	log *logger.Logger
	in  <-chan []types.CommittedUpdate

	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
}

// New creates a broadcaster consuming promoted batches from the given channel.
func New(cfg config.BroadcastConfig, in <-chan []types.CommittedUpdate, log *logger.Logger) *Broadcaster {
	b := &Broadcaster{
		cfg:  cfg,
		log:  log.WithComponent(common.ComponentBroadcaster),
		in:   in,
		subs: make(map[uint64]*Subscription),
	}

	metrics.ComponentHealthSet(common.ComponentBroadcaster, true)

	b.log.Infow("broadcaster initialized",
		"subscriber_queue_size", cfg.SubscriberQueueSize,
		"slow_policy", cfg.SlowPolicy,
	)

	return b
}

// Subscribe registers a new subscriber with the given filter.
func (b *Broadcaster) Subscribe(filter Filter) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		filter: filter,
		ch:     make(chan *types.CommittedUpdate, b.cfg.SubscriberQueueSize),
		done:   make(chan struct{}),
		b:      b,
	}
	if b.closed {
		close(sub.done)
		return sub
	}
	b.subs[sub.id] = sub

	metrics.Subscribers.Set(float64(len(b.subs)))
	b.log.Infow("subscriber attached", "id", sub.id, "filter", filter.String())

	return sub
}

func (b *Broadcaster) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.detachLocked(id, "closed")
}

// detachLocked removes a subscription; caller holds the write lock.
func (b *Broadcaster) detachLocked(id uint64, reason string) {
	sub, exists := b.subs[id]
	if !exists {
		return
	}
	delete(b.subs, id)
	close(sub.done)

	metrics.Subscribers.Set(float64(len(b.subs)))
	b.log.Infow("subscriber detached", "id", id, "reason", reason)
}

// ListSubscribers returns a snapshot of all live subscriptions, ordered by id.
func (b *Broadcaster) ListSubscribers() []SubscriberInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]SubscriberInfo, 0, len(b.subs))
	for _, sub := range b.subs {
		// live saturation, not history: a drained subscriber is active again
		state := StateActive
		if len(sub.ch) == cap(sub.ch) {
			state = StateSlow
		}
		out = append(out, SubscriberInfo{
			ID:        sub.id,
			Filter:    sub.filter.String(),
			State:     state,
			Delivered: sub.Delivered(),
			Dropped:   sub.Dropped(),
			QueueLen:  len(sub.ch),
			QueueCap:  cap(sub.ch),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Run fans out promoted batches until the input channel closes or the context
// is cancelled. On exit every remaining subscription is detached.
func (b *Broadcaster) Run(ctx context.Context) error {
	defer func() {
		b.mu.Lock()
		b.closed = true
		for id := range b.subs {
			b.detachLocked(id, "shutdown")
		}
		b.mu.Unlock()
		metrics.ComponentHealthSet(common.ComponentBroadcaster, false)
	}()

	for {
		select {
		case <-ctx.Done():
			b.log.Info("broadcaster cancelled")
			return ctx.Err()
		case batch, ok := <-b.in:
			if !ok {
				b.log.Info("broadcaster finished")
				return nil
			}
			b.fanout(batch)
		}
	}
}

// fanout delivers one batch to every matching subscriber.
func (b *Broadcaster) fanout(batch []types.CommittedUpdate) {
	var victims []uint64

	b.mu.RLock()
	for i := range batch {
		u := &batch[i]
		for _, sub := range b.subs {
			if !sub.filter.Matches(u) {
				continue
			}
			if disconnect := b.deliver(sub, u); disconnect {
				victims = append(victims, sub.id)
			}
		}
	}
	b.mu.RUnlock()

	if len(victims) == 0 {
		return
	}

	b.mu.Lock()
	for _, id := range victims {
		metrics.BroadcastDisconnectInc()
		b.detachLocked(id, "saturated beyond grace")
	}
	b.mu.Unlock()
}

// deliver hands one update to one subscriber, applying the slow-subscriber
// policy on overflow. Returns true when the subscriber must be disconnected.
func (b *Broadcaster) deliver(sub *Subscription, u *types.CommittedUpdate) bool {
	select {
	case sub.ch <- u:
		sub.blockedSince = time.Time{}
		sub.delivered.Add(1)
		metrics.BroadcastDeliveredAdd(1)
		return false
	default:
	}

	if b.cfg.SlowPolicy == config.SlowPolicyDisconnect {
		now := time.Now()
		if sub.blockedSince.IsZero() {
			sub.blockedSince = now
		}
		sub.dropped.Add(1)
		metrics.BroadcastDroppedInc()
		return now.Sub(sub.blockedSince) >= b.cfg.DisconnectGrace.Duration
	}

	// drop_oldest: evict the head of the queue to make room. The consumer may
	// race us for the head, in which case the retry send lands anyway.
	select {
	case <-sub.ch:
		sub.dropped.Add(1)
		metrics.BroadcastDroppedInc()
	default:
	}

	select {
	case sub.ch <- u:
		sub.delivered.Add(1)
		metrics.BroadcastDeliveredAdd(1)
	default:
		sub.dropped.Add(1)
		metrics.BroadcastDroppedInc()
	}
	return false
}
