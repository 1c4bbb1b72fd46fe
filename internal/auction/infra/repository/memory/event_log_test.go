package memory

import (
	"context"
	"testing"

	"github.com/cristianortiz/auctioncoord/internal/auction/domain"
	"github.com/cristianortiz/auctioncoord/internal/auction/infra/repository/eventlogtest"
	"github.com/stretchr/testify/require"
)

func TestEventLogContract(t *testing.T) {
	eventlogtest.Run(t, func(t *testing.T) domain.EventLog {
		l := NewEventLog()
		t.Cleanup(func() { _ = l.Close() })
		return l
	})
}

func TestEventLogPositionsAreDense(t *testing.T) {
	l := NewEventLog()
	ctx := context.Background()

	for i, ev := range []domain.Event{eventlogtest.Created("a1"), eventlogtest.Bid("a1", 2, "B1", 15)} {
		pos, err := l.Append(ctx, ev)
		require.NoError(t, err)
		require.Equal(t, int64(i), pos)
	}
	head, err := l.Head(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), head)
}

func TestEventLogAppendAfterClose(t *testing.T) {
	l := NewEventLog()
	require.NoError(t, l.Close())

	_, err := l.Append(context.Background(), eventlogtest.Created("a1"))
	require.ErrorIs(t, err, domain.ErrDurability)
}

func TestEventLogPayloadIsCopied(t *testing.T) {
	l := NewEventLog()
	ev := eventlogtest.Created("a1")
	_, err := l.Append(context.Background(), ev)
	require.NoError(t, err)

	ev.Payload[0] = 'X'
	for got, err := range l.ReadFrom(context.Background(), 0) {
		require.NoError(t, err)
		require.Equal(t, byte('{'), got.Payload[0])
	}
}
