package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/cristianortiz/auctioncoord/internal/shared/logger"
	"go.uber.org/zap"
)

var log = logger.GetLogger()

// Status of an auction. OPEN -> CLOSED only.
type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

// Auction is the state machine of a single auction. It is not safe for
// concurrent use: the registry serializes access per auction.
// State only changes through Apply, so the same code path serves live
// commands and log replay.
type Auction struct {
	ID            string
	SellerID      string
	Item          string
	StartingPrice int64
	CreatedAt     time.Time

	status  Status
	bids    []Bid
	version uint64
}

// AuctionSnapshot is a read-only copy of an auction handed out of the registry.
type AuctionSnapshot struct {
	ID            string    `json:"auctionId"`
	SellerID      string    `json:"sellerId"`
	Item          string    `json:"item"`
	StartingPrice int64     `json:"startingPrice"`
	Bids          []Bid     `json:"bids"`
	Status        Status    `json:"status"`
	HighestBid    Bid       `json:"highestBid"`
	Version       uint64    `json:"version"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Closed reports whether the snapshot was taken after the auction closed.
func (s AuctionSnapshot) Closed() bool {
	return s.Status == StatusClosed
}

// NewAuctionCreated validates creation input and returns the AuctionCreated
// event that brings the auction into existence.
func NewAuctionCreated(id, sellerID, item string, startingPrice int64, origin string, at time.Time) (Event, error) {
	switch {
	case strings.TrimSpace(id) == "":
		return Event{}, fmt.Errorf("%w: auction id is required", ErrValidation)
	case strings.TrimSpace(sellerID) == "":
		return Event{}, fmt.Errorf("%w: seller id is required", ErrValidation)
	case strings.TrimSpace(item) == "":
		return Event{}, fmt.Errorf("%w: item is required", ErrValidation)
	case startingPrice < 0:
		return Event{}, fmt.Errorf("%w: starting price cannot be negative", ErrValidation)
	}
	return newEvent(KindAuctionCreated, id, 1, origin, at, AuctionCreatedPayload{
		SellerID:      sellerID,
		Item:          item,
		StartingPrice: startingPrice,
	}), nil
}

// Status returns the current status.
func (a *Auction) Status() Status {
	return a.status
}

// Version returns the version of the last applied event, 0 before creation.
func (a *Auction) Version() uint64 {
	return a.version
}

// HighestBid returns the maximum bid, the earliest one on equal amounts, or
// the NoBid sentinel when there are no bids.
func (a *Auction) HighestBid() Bid {
	best := NoBid(a.StartingPrice)
	for _, b := range a.bids {
		if best.IsNoBid() || b.Amount > best.Amount {
			best = b
		}
	}
	return best
}

// ProposeBid runs the acceptance test for a bid. It returns the BidPlaced
// event to commit, or false when the auction is closed or amount does not
// exceed the current highest amount.
func (a *Auction) ProposeBid(bidderID string, amount int64, origin string, at time.Time) (Event, bool) {
	if a.status != StatusOpen {
		log.Debug("Bid rejected: auction closed",
			zap.String("auctionID", a.ID),
			zap.String("bidderID", bidderID),
			zap.Int64("amount", amount),
		)
		return Event{}, false
	}
	highest := a.HighestBid()
	if amount <= highest.Amount {
		log.Debug("Bid rejected: amount too low",
			zap.String("auctionID", a.ID),
			zap.String("bidderID", bidderID),
			zap.Int64("amount", amount),
			zap.Int64("highest", highest.Amount),
		)
		return Event{}, false
	}
	return newEvent(KindBidPlaced, a.ID, a.version+1, origin, at, BidPlacedPayload{
		BidderID: bidderID,
		Amount:   amount,
		Sequence: uint64(len(a.bids)) + 1,
	}), true
}

// ProposeClose returns the AuctionClosed event, or false if already closed.
func (a *Auction) ProposeClose(origin string, at time.Time) (Event, bool) {
	if a.status == StatusClosed {
		return Event{}, false
	}
	highest := a.HighestBid()
	return newEvent(KindAuctionClosed, a.ID, a.version+1, origin, at, AuctionClosedPayload{
		BidderID: highest.BidderID,
		Amount:   highest.Amount,
	}), true
}

// Check reports whether ev can be applied as the next event without
// changing the auction.
func (a *Auction) Check(ev Event) error {
	if ev.AuctionID != a.ID && a.version > 0 {
		return fmt.Errorf("%w: event for %s applied to %s", ErrMalformedEvent, ev.AuctionID, a.ID)
	}
	if ev.Version <= a.version {
		return fmt.Errorf("%w: %s", ErrDuplicateEvent, ev.ID)
	}
	if ev.Version != a.version+1 {
		return fmt.Errorf("%w: %s at version %d", ErrOutOfOrderEvent, ev.ID, a.version)
	}
	if a.status == StatusClosed {
		return fmt.Errorf("%w: %s after close", ErrMalformedEvent, ev.ID)
	}
	switch ev.Kind {
	case KindAuctionCreated:
		var p AuctionCreatedPayload
		return ev.Decode(&p)
	case KindBidPlaced:
		var p BidPlacedPayload
		return ev.Decode(&p)
	case KindAuctionClosed:
		var p AuctionClosedPayload
		return ev.Decode(&p)
	}
	return fmt.Errorf("%w: unknown kind %q", ErrMalformedEvent, ev.Kind)
}

// Apply folds ev into the auction. ev must be the direct successor of the
// current version. Business rules are not re-checked, except that a closed
// auction never takes another event.
func (a *Auction) Apply(ev Event) error {
	if err := a.Check(ev); err != nil {
		return err
	}

	switch ev.Kind {
	case KindAuctionCreated:
		var p AuctionCreatedPayload
		_ = ev.Decode(&p)
		a.ID = ev.AuctionID
		a.SellerID = p.SellerID
		a.Item = p.Item
		a.StartingPrice = p.StartingPrice
		a.CreatedAt = ev.Timestamp
		a.status = StatusOpen

	case KindBidPlaced:
		var p BidPlacedPayload
		_ = ev.Decode(&p)
		a.bids = append(a.bids, Bid{
			BidderID: p.BidderID,
			Amount:   p.Amount,
			Sequence: p.Sequence,
			PlacedAt: ev.Timestamp,
		})

	case KindAuctionClosed:
		a.status = StatusClosed
	}
	a.version = ev.Version
	return nil
}

// Snapshot copies the auction state.
func (a *Auction) Snapshot() AuctionSnapshot {
	return AuctionSnapshot{
		ID:            a.ID,
		SellerID:      a.SellerID,
		Item:          a.Item,
		StartingPrice: a.StartingPrice,
		Bids:          append([]Bid{}, a.bids...),
		Status:        a.status,
		HighestBid:    a.HighestBid(),
		Version:       a.version,
		CreatedAt:     a.CreatedAt,
	}
}
