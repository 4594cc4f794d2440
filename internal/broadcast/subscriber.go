package broadcast

import (
	"sync/atomic"
	"time"

	"github.com/geyserpipe/geyserpipe/internal/types"
)

// Subscription is one consumer's bounded view of the committed update stream.
// The updates channel is never closed while the subscription is live; Done is
// closed when the subscription ends, either by Close or by a forced
// disconnect.
type Subscription struct {
	id     uint64
	filter Filter
	ch     chan *types.CommittedUpdate
	done   chan struct{}

	delivered atomic.Uint64
	dropped   atomic.Uint64

	// broadcaster-goroutine only
	blockedSince time.Time

	b *Broadcaster
}

// ID returns the subscription's identifier.
func (s *Subscription) ID() uint64 {
	return s.id
}

// Filter returns the subscription's filter.
func (s *Subscription) Filter() Filter {
	return s.filter
}

// Updates returns the bounded delivery channel.
func (s *Subscription) Updates() <-chan *types.CommittedUpdate {
	return s.ch
}

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Delivered returns the number of updates handed to this subscription.
func (s *Subscription) Delivered() uint64 {
	return s.delivered.Load()
}

// Dropped returns the number of updates lost to queue overflow.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Drain returns up to max queued updates without blocking. Consumers that
// poll instead of ranging over Updates use this; a subsequent call picks up
// where the last one stopped.
func (s *Subscription) Drain(max int) []*types.CommittedUpdate {
	if max <= 0 {
		return nil
	}
	out := make([]*types.CommittedUpdate, 0, max)
	for len(out) < max {
		select {
		case u := <-s.ch:
			out = append(out, u)
		default:
			return out
		}
	}
	return out
}

// Close detaches the subscription from the broadcaster. Idempotent.
func (s *Subscription) Close() {
	s.b.unsubscribe(s.id)
}

// Subscriber states reported by the management API. A disconnected
// subscription is no longer listed.
const (
	StateActive = "active"
	StateSlow   = "slow"
)

// SubscriberInfo is a point-in-time snapshot of one subscription, served by
// the management API.
type SubscriberInfo struct {
	ID        uint64 `json:"id"`
	Filter    string `json:"filter"`
	State     string `json:"state"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
	QueueLen  int    `json:"queue_len"`
	QueueCap  int    `json:"queue_cap"`
}
