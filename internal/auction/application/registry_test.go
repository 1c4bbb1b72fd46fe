package application

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/cristianortiz/auctioncoord/internal/auction/domain"
	"github.com/cristianortiz/auctioncoord/internal/auction/infra/repository/memory"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// newTestRegistry returns a registry on a fresh memory log with
// deterministic ids and a clock that advances one millisecond per call.
func newTestRegistry(t *testing.T, nodeID string) (*Registry, *memory.EventLog) {
	t.Helper()
	events := memory.NewEventLog()
	r := NewRegistry(nodeID, events, 0)
	deterministic(r, nodeID)
	return r, events
}

func deterministic(r *Registry, prefix string) {
	var mu sync.Mutex
	var ids, ticks int
	r.newID = func() string {
		mu.Lock()
		defer mu.Unlock()
		ids++
		return fmt.Sprintf("%s-auction-%d", prefix, ids)
	}
	r.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		ticks++
		return t0.Add(time.Duration(ticks) * time.Millisecond)
	}
}

func readAll(t *testing.T, events domain.EventLog) []domain.Event {
	t.Helper()
	var out []domain.Event
	for ev, err := range events.ReadFrom(context.Background(), 0) {
		require.NoError(t, err)
		out = append(out, ev)
	}
	return out
}

func TestRegistry_WidgetScenario(t *testing.T) {
	r, events := newTestRegistry(t, "node-a")
	ctx := context.Background()

	id, err := r.CreateAuction(ctx, "S1", "Widget", 10)
	require.NoError(t, err)

	for _, step := range []struct {
		bidder string
		amount int64
		want   bool
	}{
		{"B1", 15, true},
		{"B2", 12, false},
		{"B3", 20, true},
	} {
		ok, err := r.PlaceBid(ctx, step.bidder, id, step.amount)
		require.NoError(t, err)
		require.Equal(t, step.want, ok, "bid %s %d", step.bidder, step.amount)
	}

	highest, err := r.CloseAuction(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "B3", highest.BidderID)
	require.Equal(t, int64(20), highest.Amount)

	kinds := []domain.EventKind{}
	for _, ev := range readAll(t, events) {
		kinds = append(kinds, ev.Kind)
		require.Equal(t, "node-a", ev.Origin)
	}
	require.Equal(t, []domain.EventKind{
		domain.KindAuctionCreated, domain.KindBidPlaced, domain.KindBidPlaced, domain.KindAuctionClosed,
	}, kinds)
	require.Empty(t, r.ListActive(ctx))

	snap, err := r.GetAuction(ctx, id)
	require.NoError(t, err)
	require.True(t, snap.Closed())
	require.Len(t, snap.Bids, 2)
	require.Equal(t, uint64(2), snap.Bids[1].Sequence)
}

func TestRegistry_CreateValidation(t *testing.T) {
	tests := []struct {
		name   string
		seller string
		item   string
		price  int64
	}{
		{"empty seller", "", "Widget", 10},
		{"blank item", "S1", "   ", 10},
		{"negative price", "S1", "Widget", -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, events := newTestRegistry(t, "node-a")
			_, err := r.CreateAuction(context.Background(), tt.seller, tt.item, tt.price)
			require.ErrorIs(t, err, domain.ErrValidation)
			require.Empty(t, readAll(t, events))
		})
	}
}

func TestRegistry_BidOnUnknownAuction(t *testing.T) {
	r, events := newTestRegistry(t, "node-a")
	ctx := context.Background()

	ok, err := r.PlaceBid(ctx, "B1", "does-not-exist", 100)
	require.NoError(t, err)
	require.False(t, ok)

	head, err := events.Head(ctx)
	require.NoError(t, err)
	require.Zero(t, head)
}

func TestRegistry_BidRequiresBidder(t *testing.T) {
	r, _ := newTestRegistry(t, "node-a")
	ctx := context.Background()
	id, err := r.CreateAuction(ctx, "S1", "Widget", 10)
	require.NoError(t, err)

	_, err = r.PlaceBid(ctx, " ", id, 100)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestRegistry_CloseIsIdempotent(t *testing.T) {
	r, events := newTestRegistry(t, "node-a")
	ctx := context.Background()

	id, err := r.CreateAuction(ctx, "S1", "Lamp", 5)
	require.NoError(t, err)
	_, err = r.PlaceBid(ctx, "B1", id, 7)
	require.NoError(t, err)

	first, err := r.CloseAuction(ctx, id)
	require.NoError(t, err)
	second, err := r.CloseAuction(ctx, id)
	require.NoError(t, err)
	require.Equal(t, first, second)

	closes := 0
	for _, ev := range readAll(t, events) {
		if ev.Kind == domain.KindAuctionClosed {
			closes++
		}
	}
	require.Equal(t, 1, closes)

	ok, err := r.PlaceBid(ctx, "B2", id, 1000)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRegistry_CloseWithoutBidsReturnsSentinel(t *testing.T) {
	r, _ := newTestRegistry(t, "node-a")
	ctx := context.Background()
	id, err := r.CreateAuction(ctx, "S1", "Lamp", 5)
	require.NoError(t, err)

	highest, err := r.CloseAuction(ctx, id)
	require.NoError(t, err)
	require.True(t, highest.IsNoBid())
	require.Equal(t, int64(5), highest.Amount)
}

func TestRegistry_CloseUnknown(t *testing.T) {
	r, _ := newTestRegistry(t, "node-a")
	_, err := r.CloseAuction(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = r.GetAuction(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRegistry_ListActiveInCreationOrder(t *testing.T) {
	r, _ := newTestRegistry(t, "node-a")
	ctx := context.Background()

	var ids []string
	for _, item := range []string{"A", "B", "C"} {
		id, err := r.CreateAuction(ctx, "S1", item, 1)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	_, err := r.CloseAuction(ctx, ids[1])
	require.NoError(t, err)

	active := r.ListActive(ctx)
	require.Len(t, active, 2)
	require.Equal(t, ids[0], active[0].ID)
	require.Equal(t, ids[2], active[1].ID)
}

func TestRegistry_ConcurrentEqualBidsOnlyOneWins(t *testing.T) {
	r, _ := newTestRegistry(t, "node-a")
	ctx := context.Background()
	id, err := r.CreateAuction(ctx, "S1", "Widget", 10)
	require.NoError(t, err)

	const bidders = 32
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < bidders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := r.PlaceBid(ctx, fmt.Sprintf("B%d", i), id, 50)
			require.NoError(t, err)
			if ok {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, 1, accepted)
}

func TestRegistry_ConcurrentBidsKeepOrder(t *testing.T) {
	r, events := newTestRegistry(t, "node-a")
	ctx := context.Background()
	id, err := r.CreateAuction(ctx, "S1", "Widget", 0)
	require.NoError(t, err)
	other, err := r.CreateAuction(ctx, "S2", "Other", 0)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 1; i <= 200; i++ {
		wg.Add(1)
		go func(amount int64) {
			defer wg.Done()
			target := id
			if amount%5 == 0 {
				target = other
			}
			_, err := r.PlaceBid(ctx, fmt.Sprintf("B%d", amount), target, amount)
			require.NoError(t, err)
		}(int64(i))
	}
	wg.Wait()

	snap, err := r.GetAuction(ctx, id)
	require.NoError(t, err)
	for i := 1; i < len(snap.Bids); i++ {
		require.Greater(t, snap.Bids[i].Amount, snap.Bids[i-1].Amount)
		require.Equal(t, snap.Bids[i-1].Sequence+1, snap.Bids[i].Sequence)
	}

	// log order per auction equals version order
	last := map[string]uint64{}
	for _, ev := range readAll(t, events) {
		require.Equal(t, last[ev.AuctionID]+1, ev.Version, ev.ID)
		last[ev.AuctionID] = ev.Version
	}
	require.Equal(t, snap.Version, last[id])
}

func TestRegistry_ReplayReproducesState(t *testing.T) {
	live, events := newTestRegistry(t, "node-a")
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := live.CreateAuction(ctx, fmt.Sprintf("S%d", i), fmt.Sprintf("item-%d", i), int64(rng.Intn(20)))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for i := 0; i < 300; i++ {
		id := ids[rng.Intn(len(ids))]
		switch rng.Intn(20) {
		case 0:
			_, err := live.CloseAuction(ctx, id)
			require.NoError(t, err)
		default:
			_, err := live.PlaceBid(ctx, fmt.Sprintf("B%d", rng.Intn(8)), id, int64(rng.Intn(500)))
			require.NoError(t, err)
		}
	}

	replayed := NewRegistry("node-a", events, 0)
	n, err := replayed.Replay(ctx)
	require.NoError(t, err)
	require.Len(t, readAll(t, events), n)

	require.Equal(t, live.ListActive(ctx), replayed.ListActive(ctx))
	for _, id := range ids {
		want, err := live.GetAuction(ctx, id)
		require.NoError(t, err)
		got, err := replayed.GetAuction(ctx, id)
		require.NoError(t, err)
		require.Equal(t, want, got)
		require.Equal(t, want.HighestBid, got.HighestBid)
	}

	head, err := events.Head(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(n), head, "replay appends nothing")
}

func TestRegistry_ReplicatedDuplicateIsNoop(t *testing.T) {
	source, sourceLog := newTestRegistry(t, "node-a")
	target, targetLog := newTestRegistry(t, "node-b")
	ctx := context.Background()

	id, err := source.CreateAuction(ctx, "S1", "Widget", 10)
	require.NoError(t, err)
	_, err = source.PlaceBid(ctx, "B1", id, 15)
	require.NoError(t, err)

	for _, ev := range readAll(t, sourceLog) {
		require.NoError(t, target.ApplyReplicatedEvent(ctx, ev))
	}
	before, err := target.GetAuction(ctx, id)
	require.NoError(t, err)
	head, err := targetLog.Head(ctx)
	require.NoError(t, err)

	for _, ev := range readAll(t, sourceLog) {
		require.ErrorIs(t, target.ApplyReplicatedEvent(ctx, ev), domain.ErrDuplicateEvent)
	}

	after, err := target.GetAuction(ctx, id)
	require.NoError(t, err)
	require.Equal(t, before, after)
	headAfter, err := targetLog.Head(ctx)
	require.NoError(t, err)
	require.Equal(t, head, headAfter)

	// origin survives replication
	for _, ev := range readAll(t, targetLog) {
		require.Equal(t, "node-a", ev.Origin)
	}
}

func TestRegistry_ReplicatedOutOfOrderIsBuffered(t *testing.T) {
	source, sourceLog := newTestRegistry(t, "node-a")
	target, targetLog := newTestRegistry(t, "node-b")
	ctx := context.Background()

	id, err := source.CreateAuction(ctx, "S1", "Widget", 10)
	require.NoError(t, err)
	for _, amount := range []int64{11, 12, 13} {
		_, err := source.PlaceBid(ctx, "B1", id, amount)
		require.NoError(t, err)
	}
	_, err = source.CloseAuction(ctx, id)
	require.NoError(t, err)

	evs := readAll(t, sourceLog)
	for i := len(evs) - 1; i > 0; i-- {
		err := target.ApplyReplicatedEvent(ctx, evs[i])
		require.ErrorIs(t, err, domain.ErrOutOfOrderEvent)
	}
	_, err = target.GetAuction(ctx, id)
	require.ErrorIs(t, err, domain.ErrNotFound, "buffered auction is not visible yet")
	require.Empty(t, target.ListActive(ctx))

	require.NoError(t, target.ApplyReplicatedEvent(ctx, evs[0]))

	want, err := source.GetAuction(ctx, id)
	require.NoError(t, err)
	got, err := target.GetAuction(ctx, id)
	require.NoError(t, err)
	require.Equal(t, want.Bids, got.Bids)
	require.Equal(t, want.Version, got.Version)
	require.True(t, got.Closed())

	var versions []uint64
	for _, ev := range readAll(t, targetLog) {
		versions = append(versions, ev.Version)
	}
	require.Equal(t, []uint64{1, 2, 3, 4, 5}, versions)
}

func TestRegistry_ReplicationBufferOverflow(t *testing.T) {
	source, sourceLog := newTestRegistry(t, "node-a")
	ctx := context.Background()
	target := NewRegistry("node-b", memory.NewEventLog(), 1)

	id, err := source.CreateAuction(ctx, "S1", "Widget", 0)
	require.NoError(t, err)
	for _, amount := range []int64{1, 2, 3} {
		_, err := source.PlaceBid(ctx, "B1", id, amount)
		require.NoError(t, err)
	}
	evs := readAll(t, sourceLog)

	require.ErrorIs(t, target.ApplyReplicatedEvent(ctx, evs[2]), domain.ErrOutOfOrderEvent)
	require.ErrorIs(t, target.ApplyReplicatedEvent(ctx, evs[2]), domain.ErrDuplicateEvent)
	require.ErrorIs(t, target.ApplyReplicatedEvent(ctx, evs[3]), domain.ErrResyncRequired)
}

func TestRegistry_ReplicatedEventRejectedWhenInvalid(t *testing.T) {
	r, events := newTestRegistry(t, "node-b")
	ctx := context.Background()

	bad := domain.Event{ID: "x", Kind: "Nope", AuctionID: "a1", Version: 1, Payload: []byte(`{}`)}
	require.ErrorIs(t, r.ApplyReplicatedEvent(ctx, bad), domain.ErrMalformedEvent)

	created, err := domain.NewAuctionCreated("a1", "S1", "Widget", 0, "node-a", t0)
	require.NoError(t, err)
	require.NoError(t, r.ApplyReplicatedEvent(ctx, created))

	closed := domain.Event{
		ID: domain.EventID("a1", 2, domain.KindAuctionClosed), Kind: domain.KindAuctionClosed,
		AuctionID: "a1", Version: 2, Origin: "node-a", Timestamp: t0, Payload: []byte(`{"bidderId":"","amount":0}`),
	}
	require.NoError(t, r.ApplyReplicatedEvent(ctx, closed))

	late := domain.Event{
		ID: domain.EventID("a1", 3, domain.KindBidPlaced), Kind: domain.KindBidPlaced,
		AuctionID: "a1", Version: 3, Origin: "node-a", Timestamp: t0, Payload: []byte(`{"bidderId":"B1","amount":5,"sequence":1}`),
	}
	require.ErrorIs(t, r.ApplyReplicatedEvent(ctx, late), domain.ErrMalformedEvent)
	require.Len(t, readAll(t, events), 2)
}

func TestRegistry_PublishesOnlyLocalCommits(t *testing.T) {
	ctrl := gomock.NewController(t)
	pub := domain.NewMockEventPublisher(ctrl)
	ctx := context.Background()

	r, _ := newTestRegistry(t, "node-a")
	r.SetPublisher(pub)

	pub.EXPECT().Publish(gomock.Any()).Times(3)
	id, err := r.CreateAuction(ctx, "S1", "Widget", 10)
	require.NoError(t, err)
	_, err = r.PlaceBid(ctx, "B1", id, 11)
	require.NoError(t, err)
	_, err = r.PlaceBid(ctx, "B2", id, 11) // rejected, not published
	require.NoError(t, err)
	_, err = r.CloseAuction(ctx, id)
	require.NoError(t, err)
	_, err = r.CloseAuction(ctx, id) // already closed, not published
	require.NoError(t, err)

	created, err := domain.NewAuctionCreated("remote-1", "S9", "Vase", 1, "node-c", t0)
	require.NoError(t, err)
	require.NoError(t, r.ApplyReplicatedEvent(ctx, created))
}

func TestRegistry_DurabilityFailureLeavesStateUnchanged(t *testing.T) {
	ctrl := gomock.NewController(t)
	events := domain.NewMockEventLog(ctrl)
	ctx := context.Background()

	r := NewRegistry("node-a", events, 0)
	deterministic(r, "node-a")

	events.EXPECT().Append(gomock.Any(), gomock.Any()).Return(int64(0), nil)
	id, err := r.CreateAuction(ctx, "S1", "Widget", 10)
	require.NoError(t, err)

	diskFull := errors.New("disk full")
	events.EXPECT().Append(gomock.Any(), gomock.Any()).Return(int64(0), diskFull)
	ok, err := r.PlaceBid(ctx, "B1", id, 50)
	require.False(t, ok)
	require.ErrorIs(t, err, domain.ErrDurability)

	snap, err := r.GetAuction(ctx, id)
	require.NoError(t, err)
	require.Empty(t, snap.Bids)
	require.Equal(t, uint64(1), snap.Version)

	events.EXPECT().Append(gomock.Any(), gomock.Any()).Return(int64(0), fmt.Errorf("%w: fsync", domain.ErrDurability))
	_, err = r.CloseAuction(ctx, id)
	require.ErrorIs(t, err, domain.ErrDurability)
	require.Len(t, r.ListActive(ctx), 1)

	events.EXPECT().Append(gomock.Any(), gomock.Any()).Return(int64(0), diskFull)
	_, err = r.CreateAuction(ctx, "S1", "Other", 1)
	require.ErrorIs(t, err, domain.ErrDurability)
	require.Len(t, r.ListActive(ctx), 1)
}

func TestRegistry_CommittedBidSurvivesCancelledCaller(t *testing.T) {
	ctrl := gomock.NewController(t)
	events := domain.NewMockEventLog(ctrl)

	r := NewRegistry("node-a", events, 0)
	deterministic(r, "node-a")

	events.EXPECT().Append(gomock.Any(), gomock.Any()).Return(int64(0), nil)
	id, err := r.CreateAuction(context.Background(), "S1", "Widget", 10)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	events.EXPECT().Append(gomock.Any(), gomock.Any()).DoAndReturn(func(context.Context, domain.Event) (int64, error) {
		cancel() // caller gives up while the write completes
		return 1, nil
	})
	ok, err := r.PlaceBid(ctx, "B1", id, 20)
	require.NoError(t, err)
	require.True(t, ok)

	snap, err := r.GetAuction(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, "B1", snap.HighestBid.BidderID)
}

func TestRegistry_ReadEvents(t *testing.T) {
	r, _ := newTestRegistry(t, "node-a")
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_, err := r.CreateAuction(ctx, "S1", "Widget", 1)
		require.NoError(t, err)
	}

	evs, err := r.ReadEvents(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	require.Equal(t, int64(1), evs[0].Position)

	evs, err = r.ReadEvents(ctx, 0, 0)
	require.NoError(t, err)
	require.Empty(t, evs)
}

// failingLog fails the appends whose 1-based call number is in fail.
type failingLog struct {
	*memory.EventLog
	mu    sync.Mutex
	calls int
	fail  map[int]bool
}

func (l *failingLog) Append(ctx context.Context, ev domain.Event) (int64, error) {
	l.mu.Lock()
	l.calls++
	fail := l.fail[l.calls]
	l.mu.Unlock()
	if fail {
		return 0, fmt.Errorf("%w: disk full", domain.ErrDurability)
	}
	return l.EventLog.Append(ctx, ev)
}

func TestRegistry_BufferedEventSurvivesFailedAppend(t *testing.T) {
	source, sourceLog := newTestRegistry(t, "node-a")
	ctx := context.Background()
	id, err := source.CreateAuction(ctx, "S1", "Widget", 0)
	require.NoError(t, err)
	for _, amount := range []int64{1, 2, 3} {
		_, err := source.PlaceBid(ctx, "B1", id, amount)
		require.NoError(t, err)
	}
	evs := readAll(t, sourceLog)

	target := NewRegistry("node-b", &failingLog{EventLog: memory.NewEventLog(), fail: map[int]bool{3: true}}, 0)
	require.NoError(t, target.ApplyReplicatedEvent(ctx, evs[0]))
	require.ErrorIs(t, target.ApplyReplicatedEvent(ctx, evs[2]), domain.ErrOutOfOrderEvent)

	// v2 commits, draining v3 hits the failing append
	err = target.ApplyReplicatedEvent(ctx, evs[1])
	require.ErrorIs(t, err, domain.ErrDurability)
	snap, err := target.GetAuction(ctx, id)
	require.NoError(t, err)
	require.Equal(t, uint64(2), snap.Version)

	// v3 is still buffered and goes in ahead of v4
	require.NoError(t, target.ApplyReplicatedEvent(ctx, evs[3]))
	snap, err = target.GetAuction(ctx, id)
	require.NoError(t, err)
	require.Equal(t, uint64(4), snap.Version)
	require.Equal(t, int64(3), snap.HighestBid.Amount)
}

// gatedLog holds the first append after it reached the log until release
// is closed.
type gatedLog struct {
	*memory.EventLog
	once     sync.Once
	appended chan struct{}
	release  chan struct{}
}

func (l *gatedLog) Append(ctx context.Context, ev domain.Event) (int64, error) {
	pos, err := l.EventLog.Append(ctx, ev)
	first := false
	l.once.Do(func() { first = true })
	if first {
		close(l.appended)
		<-l.release
	}
	return pos, err
}

func TestRegistry_ConcurrentCreatesListInLogOrder(t *testing.T) {
	ctx := context.Background()
	events := &gatedLog{EventLog: memory.NewEventLog(), appended: make(chan struct{}), release: make(chan struct{})}
	live := NewRegistry("node-a", events, 0)
	deterministic(live, "node-a")

	first := make(chan string, 1)
	go func() {
		id, err := live.CreateAuction(ctx, "S1", "Widget", 0)
		require.NoError(t, err)
		first <- id
	}()
	<-events.appended

	second, err := live.CreateAuction(ctx, "S2", "Lamp", 0)
	require.NoError(t, err)
	close(events.release)
	firstID := <-first

	replayed := NewRegistry("node-a", events.EventLog, 0)
	_, err = replayed.Replay(ctx)
	require.NoError(t, err)

	ids := func(snaps []domain.AuctionSnapshot) []string {
		var out []string
		for _, s := range snaps {
			out = append(out, s.ID)
		}
		return out
	}
	require.Equal(t, []string{firstID, second}, ids(live.ListActive(ctx)))
	require.Equal(t, ids(replayed.ListActive(ctx)), ids(live.ListActive(ctx)))
}
