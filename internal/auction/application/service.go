package application

import (
	"context"

	"github.com/cristianortiz/auctioncoord/internal/auction/domain"
)

//go:generate mockgen -source=service.go -destination=mock_service.go -package=application

// AuctionService defines the application layer of the auction module as
// seen by the transports (rpc, http). Registry is the implementation.
type AuctionService interface {
	// CreateAuction opens a new auction and returns its id.
	CreateAuction(ctx context.Context, sellerID, item string, startingPrice int64) (string, error)
	// PlaceBid reports whether the bid was accepted. Business rejections are
	// false with a nil error.
	PlaceBid(ctx context.Context, bidderID, auctionID string, amount int64) (bool, error)
	// CloseAuction closes the auction and returns the frozen highest bid.
	CloseAuction(ctx context.Context, auctionID string) (domain.Bid, error)
	ListActive(ctx context.Context) []domain.AuctionSnapshot
	GetAuction(ctx context.Context, auctionID string) (domain.AuctionSnapshot, error)
	ReadEvents(ctx context.Context, from int64, limit int) ([]domain.Event, error)
}

// ReplicationTarget receives events committed by peers.
type ReplicationTarget interface {
	ApplyReplicatedEvent(ctx context.Context, ev domain.Event) error
}

var (
	_ AuctionService    = (*Registry)(nil)
	_ ReplicationTarget = (*Registry)(nil)
)
