package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cristianortiz/auctioncoord/internal/auction/application"
	"github.com/cristianortiz/auctioncoord/internal/auction/domain"
	"github.com/cristianortiz/auctioncoord/internal/auction/infra/repository/memory"
	ws "github.com/cristianortiz/auctioncoord/internal/shared/websocket"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"
)

type noPeers struct{}

func (noPeers) Serve(context.Context, ws.Conn) {}

func get(t *testing.T, s *Server, target string) (int, []byte) {
	t.Helper()
	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, target, nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func TestServer_Routes(t *testing.T) {
	ctx := context.Background()
	registry := application.NewRegistry("node-a", memory.NewEventLog(), 0)
	open, err := registry.CreateAuction(ctx, "S1", "Widget", 10)
	require.NoError(t, err)
	_, err = registry.PlaceBid(ctx, "B1", open, 15)
	require.NoError(t, err)
	closed, err := registry.CreateAuction(ctx, "S2", "Lamp", 0)
	require.NoError(t, err)
	_, err = registry.CloseAuction(ctx, closed)
	require.NoError(t, err)

	s := NewServer(ctx, registry, noPeers{}, func() any { return map[string]int{"peers": 0} })

	t.Run("health", func(t *testing.T) {
		code, body := get(t, s, "/health")
		require.Equal(t, http.StatusOK, code)
		require.Equal(t, "OK", string(body))
	})

	t.Run("active auctions only", func(t *testing.T) {
		code, body := get(t, s, "/auctions")
		require.Equal(t, http.StatusOK, code)
		var got []domain.AuctionSnapshot
		require.NoError(t, json.Unmarshal(body, &got))
		require.Len(t, got, 1)
		require.Equal(t, open, got[0].ID)
		require.Equal(t, int64(15), got[0].HighestBid.Amount)
	})

	t.Run("closed auction readable by id", func(t *testing.T) {
		code, body := get(t, s, "/auctions/"+closed)
		require.Equal(t, http.StatusOK, code)
		var got domain.AuctionSnapshot
		require.NoError(t, json.Unmarshal(body, &got))
		require.True(t, got.Closed())
	})

	t.Run("unknown auction", func(t *testing.T) {
		code, _ := get(t, s, "/auctions/missing")
		require.Equal(t, http.StatusNotFound, code)
	})

	t.Run("events page", func(t *testing.T) {
		code, body := get(t, s, "/events?from=1&limit=2")
		require.Equal(t, http.StatusOK, code)
		var got []domain.Event
		require.NoError(t, json.Unmarshal(body, &got))
		require.Len(t, got, 2)
		require.Equal(t, int64(1), got[0].Position)
		require.Equal(t, domain.KindBidPlaced, got[0].Kind)
	})

	t.Run("bad event query", func(t *testing.T) {
		for _, target := range []string{"/events?from=-1", "/events?from=x", "/events?limit=5000"} {
			code, _ := get(t, s, target)
			require.Equal(t, http.StatusBadRequest, code, target)
		}
	})

	t.Run("stats", func(t *testing.T) {
		code, body := get(t, s, "/stats")
		require.Equal(t, http.StatusOK, code)
		require.JSONEq(t, `{"peers":0}`, string(body))
	})

	t.Run("peer endpoint needs upgrade", func(t *testing.T) {
		code, _ := get(t, s, "/ws/peers")
		require.Equal(t, http.StatusUpgradeRequired, code)
	})
}

func TestServer_ReadFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	service := application.NewMockAuctionService(ctrl)
	service.EXPECT().GetAuction(gomock.Any(), "a1").Return(domain.AuctionSnapshot{}, errors.New("boom"))
	service.EXPECT().ReadEvents(gomock.Any(), int64(0), defaultEventLimit).Return(nil, domain.ErrDurability)

	s := NewServer(context.Background(), service, nil, nil)

	code, _ := get(t, s, "/auctions/a1")
	require.Equal(t, http.StatusInternalServerError, code)
	code, _ = get(t, s, "/events")
	require.Equal(t, http.StatusInternalServerError, code)
	code, _ = get(t, s, "/stats")
	require.Equal(t, http.StatusNotFound, code)
}
