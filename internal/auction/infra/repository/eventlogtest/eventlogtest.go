// Package eventlogtest implements shareable conformance tests for
// implementations of the domain.EventLog interface.
package eventlogtest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cristianortiz/auctioncoord/internal/auction/domain"
	"github.com/stretchr/testify/require"
)

// Opener returns a fresh, empty log. Cleanup is registered on t.
type Opener func(t *testing.T) domain.EventLog

// Bid returns a well-formed BidPlaced event for tests.
func Bid(auctionID string, version uint64, bidder string, amount int64) domain.Event {
	payload, _ := json.Marshal(domain.BidPlacedPayload{BidderID: bidder, Amount: amount, Sequence: version - 1})
	return domain.Event{
		ID:        domain.EventID(auctionID, version, domain.KindBidPlaced),
		Kind:      domain.KindBidPlaced,
		AuctionID: auctionID,
		Version:   version,
		Origin:    "node-test",
		Timestamp: time.Date(2026, 3, 1, 12, 0, int(version), 0, time.UTC),
		Payload:   payload,
	}
}

// Created returns a well-formed AuctionCreated event for tests.
func Created(auctionID string) domain.Event {
	ev, err := domain.NewAuctionCreated(auctionID, "S1", "Widget", 10, "node-test",
		time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	if err != nil {
		panic(err)
	}
	return ev
}

// Run exercises the EventLog contract against logs produced by open.
func Run(t *testing.T, open Opener) {
	t.Run("append_then_read_in_order", func(t *testing.T) {
		log := open(t)
		ctx := context.Background()

		want := []domain.Event{Created("a1"), Bid("a1", 2, "B1", 15), Bid("a1", 3, "B3", 20)}
		var last int64 = -1
		for _, ev := range want {
			pos, err := log.Append(ctx, ev)
			require.NoError(t, err)
			require.Greater(t, pos, last, "positions are monotonic")
			last = pos
		}

		got := collect(t, log, 0)
		require.Len(t, got, len(want))
		for i := range want {
			require.Equal(t, want[i].ID, got[i].ID)
			require.Equal(t, want[i].Kind, got[i].Kind)
			require.Equal(t, want[i].Version, got[i].Version)
			require.Equal(t, want[i].Origin, got[i].Origin)
			require.True(t, want[i].Timestamp.Equal(got[i].Timestamp))
			require.JSONEq(t, string(want[i].Payload), string(got[i].Payload))
		}

		head, err := log.Head(ctx)
		require.NoError(t, err)
		require.Greater(t, head, last)
	})

	t.Run("read_from_middle_is_restartable", func(t *testing.T) {
		log := open(t)
		ctx := context.Background()

		var positions []int64
		for _, ev := range []domain.Event{Created("a1"), Bid("a1", 2, "B1", 15), Bid("a1", 3, "B2", 16)} {
			pos, err := log.Append(ctx, ev)
			require.NoError(t, err)
			positions = append(positions, pos)
		}

		tail := collect(t, log, positions[1])
		require.Len(t, tail, 2)
		require.Equal(t, positions[1], tail[0].Position)
		require.Equal(t, "a1:2:BidPlaced", tail[0].ID)

		again := collect(t, log, positions[1])
		require.Equal(t, tail, again)

		require.Empty(t, collect(t, log, positions[2]+1))
	})

	t.Run("duplicate_event_id_rejected", func(t *testing.T) {
		log := open(t)
		ctx := context.Background()

		_, err := log.Append(ctx, Created("a1"))
		require.NoError(t, err)
		head, err := log.Head(ctx)
		require.NoError(t, err)

		_, err = log.Append(ctx, Created("a1"))
		require.ErrorIs(t, err, domain.ErrDuplicateEvent)

		require.Len(t, collect(t, log, 0), 1)
		after, err := log.Head(ctx)
		require.NoError(t, err)
		require.Equal(t, head, after)
	})

	t.Run("early_stop", func(t *testing.T) {
		log := open(t)
		ctx := context.Background()
		for i := 0; i < 5; i++ {
			_, err := log.Append(ctx, Created(fmt.Sprintf("a%d", i)))
			require.NoError(t, err)
		}
		n := 0
		for _, err := range log.ReadFrom(ctx, 0) {
			require.NoError(t, err)
			n++
			if n == 2 {
				break
			}
		}
		require.Equal(t, 2, n)
	})

	t.Run("concurrent_appends", func(t *testing.T) {
		log := open(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := log.Append(ctx, Created(fmt.Sprintf("c%d", i)))
				require.NoError(t, err)
			}(i)
		}
		wg.Wait()

		got := collect(t, log, 0)
		require.Len(t, got, 20)
		for i := 1; i < len(got); i++ {
			require.Greater(t, got[i].Position, got[i-1].Position)
		}
	})

	t.Run("cancelled_context", func(t *testing.T) {
		log := open(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := log.Append(ctx, Created("a1"))
		require.Error(t, err)
		require.Empty(t, collect(t, log, 0))
	})
}

func collect(t *testing.T, log domain.EventLog, from int64) []domain.Event {
	t.Helper()
	var out []domain.Event
	for ev, err := range log.ReadFrom(context.Background(), from) {
		require.NoError(t, err)
		out = append(out, ev)
	}
	return out
}
