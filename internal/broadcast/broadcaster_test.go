package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/geyserpipe/geyserpipe/internal/common"
	"github.com/geyserpipe/geyserpipe/internal/logger"
	"github.com/geyserpipe/geyserpipe/internal/types"
	"github.com/geyserpipe/geyserpipe/pkg/config"
)

func pubkey(t *testing.T, b byte) types.Pubkey {
	t.Helper()

	raw := make([]byte, types.PubkeyLength)
	raw[0] = b
	pk, err := types.PubkeyFromBytes(raw)
	require.NoError(t, err)
	return pk
}

func update(account, owner types.Pubkey, slot, writeVersion uint64) types.CommittedUpdate {
	return types.CommittedUpdate{
		Account:      account,
		Owner:        owner,
		Slot:         slot,
		WriteVersion: writeVersion,
	}
}

func newTestBroadcaster(t *testing.T, cfg config.BroadcastConfig, in chan []types.CommittedUpdate) (*Broadcaster, func()) {
	t.Helper()

	cfg.ApplyDefaults()
	b := New(cfg, in, logger.NewNopLogger())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Run(context.Background())
	}()

	return b, func() {
		close(in)
		<-done
	}
}

func TestBroadcaster_ProgramFilterIsolation(t *testing.T) {
	in := make(chan []types.CommittedUpdate, 4)
	b, stop := newTestBroadcaster(t, config.BroadcastConfig{}, in)

	programA := pubkey(t, 1)
	programB := pubkey(t, 2)

	subA := b.Subscribe(NewProgramFilter(programA))
	subAll := b.Subscribe(NewAllFilter())

	in <- []types.CommittedUpdate{
		update(pubkey(t, 10), programA, 1, 1),
		update(pubkey(t, 11), programB, 1, 2),
	}
	stop()

	var gotA []*types.CommittedUpdate
	for u := range drained(subA) {
		gotA = append(gotA, u)
	}
	require.Len(t, gotA, 1)
	require.Equal(t, programA, gotA[0].Owner)

	var gotAll []*types.CommittedUpdate
	for u := range drained(subAll) {
		gotAll = append(gotAll, u)
	}
	require.Len(t, gotAll, 2)
}

// drained returns a channel yielding everything buffered in the subscription
// queue after the broadcaster has stopped.
func drained(sub *Subscription) <-chan *types.CommittedUpdate {
	out := make(chan *types.CommittedUpdate, cap(sub.ch))
	for {
		select {
		case u := <-sub.ch:
			out <- u
		default:
			close(out)
			return out
		}
	}
}

func TestBroadcaster_AccountFilter(t *testing.T) {
	in := make(chan []types.CommittedUpdate, 4)
	b, stop := newTestBroadcaster(t, config.BroadcastConfig{}, in)

	watched := pubkey(t, 20)
	owner := pubkey(t, 9)

	sub := b.Subscribe(NewAccountFilter(watched))

	in <- []types.CommittedUpdate{
		update(watched, owner, 1, 1),
		update(pubkey(t, 21), owner, 1, 2),
		update(watched, owner, 2, 1),
	}
	stop()

	var got []*types.CommittedUpdate
	for u := range drained(sub) {
		got = append(got, u)
	}
	require.Len(t, got, 2)
	for _, u := range got {
		require.Equal(t, watched, u.Account)
	}
}

func TestBroadcaster_DropOldestKeepsNewest(t *testing.T) {
	in := make(chan []types.CommittedUpdate, 4)
	b, stop := newTestBroadcaster(t, config.BroadcastConfig{
		SubscriberQueueSize: 3,
		SlowPolicy:          config.SlowPolicyDropOldest,
	}, in)

	owner := pubkey(t, 9)
	sub := b.Subscribe(NewAllFilter())

	batch := make([]types.CommittedUpdate, 0, 10)
	for wv := uint64(1); wv <= 10; wv++ {
		batch = append(batch, update(pubkey(t, 30), owner, 5, wv))
	}
	in <- batch
	stop()

	// with capacity 3 and nobody reading, only the newest 3 survive
	var got []*types.CommittedUpdate
	for u := range drained(sub) {
		got = append(got, u)
	}
	require.Len(t, got, 3)
	require.Equal(t, uint64(8), got[0].WriteVersion)
	require.Equal(t, uint64(9), got[1].WriteVersion)
	require.Equal(t, uint64(10), got[2].WriteVersion)
	require.Equal(t, uint64(7), sub.Dropped())
}

func TestBroadcaster_DisconnectAfterGrace(t *testing.T) {
	in := make(chan []types.CommittedUpdate, 8)
	cfg := config.BroadcastConfig{
		SubscriberQueueSize: 1,
		SlowPolicy:          config.SlowPolicyDisconnect,
	}
	cfg.DisconnectGrace = common.NewDuration(10 * time.Millisecond)
	b, stop := newTestBroadcaster(t, cfg, in)
	defer stop()

	owner := pubkey(t, 9)
	sub := b.Subscribe(NewAllFilter())

	// saturate the queue, then keep pushing past the grace period
	in <- []types.CommittedUpdate{update(pubkey(t, 40), owner, 1, 1)}
	in <- []types.CommittedUpdate{update(pubkey(t, 40), owner, 1, 2)}
	time.Sleep(20 * time.Millisecond)
	in <- []types.CommittedUpdate{update(pubkey(t, 40), owner, 1, 3)}

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("saturated subscriber was not disconnected after the grace period")
	}

	require.Empty(t, b.ListSubscribers())
}

func TestBroadcaster_SlowSubscriberDoesNotStallOthers(t *testing.T) {
	in := make(chan []types.CommittedUpdate, 4)
	b, stop := newTestBroadcaster(t, config.BroadcastConfig{
		SubscriberQueueSize: 1,
		SlowPolicy:          config.SlowPolicyDropOldest,
	}, in)

	owner := pubkey(t, 9)
	slow := b.Subscribe(NewAllFilter())
	fast := b.Subscribe(NewAllFilter())

	go func() {
		for range 5 {
			<-fast.Updates()
		}
	}()

	for wv := uint64(1); wv <= 5; wv++ {
		in <- []types.CommittedUpdate{update(pubkey(t, 50), owner, 1, wv)}
	}
	stop()

	require.Equal(t, uint64(5), fast.Delivered())

	// the slow queue only ever holds the newest update
	require.Equal(t, uint64(4), slow.Dropped())
	var remaining []*types.CommittedUpdate
	for u := range drained(slow) {
		remaining = append(remaining, u)
	}
	require.Len(t, remaining, 1)
	require.Equal(t, uint64(5), remaining[0].WriteVersion)
}

func TestBroadcaster_SlowStateClearsAfterRecovery(t *testing.T) {
	in := make(chan []types.CommittedUpdate, 4)
	b, stop := newTestBroadcaster(t, config.BroadcastConfig{
		SubscriberQueueSize: 1,
		SlowPolicy:          config.SlowPolicyDropOldest,
	}, in)
	defer stop()

	owner := pubkey(t, 9)
	sub := b.Subscribe(NewAllFilter())

	in <- []types.CommittedUpdate{update(pubkey(t, 70), owner, 1, 1)}
	in <- []types.CommittedUpdate{update(pubkey(t, 70), owner, 1, 2)}
	require.Eventually(t, func() bool { return sub.Dropped() == 1 },
		time.Second, 5*time.Millisecond)

	infos := b.ListSubscribers()
	require.Len(t, infos, 1)
	require.Equal(t, StateSlow, infos[0].State)

	// draining the queue makes the subscriber active again; the drop counter
	// keeps its history
	<-sub.Updates()
	infos = b.ListSubscribers()
	require.Equal(t, StateActive, infos[0].State)
	require.Equal(t, uint64(1), infos[0].Dropped)
}

func TestBroadcaster_DrainReturnsQueuedBatches(t *testing.T) {
	in := make(chan []types.CommittedUpdate, 4)
	b, stop := newTestBroadcaster(t, config.BroadcastConfig{
		SubscriberQueueSize: 10,
	}, in)

	owner := pubkey(t, 9)
	sub := b.Subscribe(NewAllFilter())

	batch := make([]types.CommittedUpdate, 0, 5)
	for wv := uint64(1); wv <= 5; wv++ {
		batch = append(batch, update(pubkey(t, 60), owner, 1, wv))
	}
	in <- batch
	stop()

	first := sub.Drain(3)
	require.Len(t, first, 3)
	require.Equal(t, uint64(1), first[0].WriteVersion)
	require.Equal(t, uint64(3), first[2].WriteVersion)

	// second call resumes after the first
	second := sub.Drain(10)
	require.Len(t, second, 2)
	require.Equal(t, uint64(4), second[0].WriteVersion)
	require.Equal(t, uint64(5), second[1].WriteVersion)

	require.Empty(t, sub.Drain(10))
	require.Nil(t, sub.Drain(0))
}

func TestBroadcaster_ListSubscribers(t *testing.T) {
	in := make(chan []types.CommittedUpdate)
	b, stop := newTestBroadcaster(t, config.BroadcastConfig{}, in)
	defer stop()

	program := pubkey(t, 1)
	s1 := b.Subscribe(NewAllFilter())
	s2 := b.Subscribe(NewProgramFilter(program))

	infos := b.ListSubscribers()
	require.Len(t, infos, 2)
	require.Equal(t, s1.ID(), infos[0].ID)
	require.Equal(t, "all", infos[0].Filter)
	require.Equal(t, StateActive, infos[0].State)
	require.Equal(t, s2.ID(), infos[1].ID)
	require.Contains(t, infos[1].Filter, "programs(")

	s1.Close()
	require.Len(t, b.ListSubscribers(), 1)
}
