package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventKind identifies an accepted state transition.
type EventKind string

const (
	KindAuctionCreated EventKind = "AuctionCreated"
	KindBidPlaced      EventKind = "BidPlaced"
	KindAuctionClosed  EventKind = "AuctionClosed"
)

// Valid reports whether k is a known kind.
func (k EventKind) Valid() bool {
	switch k {
	case KindAuctionCreated, KindBidPlaced, KindAuctionClosed:
		return true
	}
	return false
}

// Event is an immutable record of one accepted transition of one auction.
// Version is the per-auction event sequence: creation is 1 and every later
// event increments it by one. Position is assigned by the event log.
type Event struct {
	ID        string          `json:"eventId"`
	Kind      EventKind       `json:"kind"`
	AuctionID string          `json:"auctionId"`
	Version   uint64          `json:"version"`
	Origin    string          `json:"origin"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Position  int64           `json:"position"`
}

type AuctionCreatedPayload struct {
	SellerID      string `json:"sellerId"`
	Item          string `json:"item"`
	StartingPrice int64  `json:"startingPrice"`
}

type BidPlacedPayload struct {
	BidderID string `json:"bidderId"`
	Amount   int64  `json:"amount"`
	Sequence uint64 `json:"sequence"`
}

// AuctionClosedPayload carries the frozen highest bid.
type AuctionClosedPayload struct {
	BidderID string `json:"bidderId"`
	Amount   int64  `json:"amount"`
}

// EventID derives the globally unique id of the event at version of auctionID.
func EventID(auctionID string, version uint64, kind EventKind) string {
	return fmt.Sprintf("%s:%d:%s", auctionID, version, kind)
}

func newEvent(kind EventKind, auctionID string, version uint64, origin string, at time.Time, payload any) Event {
	raw, err := json.Marshal(payload)
	if err != nil {
		// payload types are plain structs of strings and integers
		panic("marshal event payload: " + err.Error())
	}
	return Event{
		ID:        EventID(auctionID, version, kind),
		Kind:      kind,
		AuctionID: auctionID,
		Version:   version,
		Origin:    origin,
		Timestamp: at.UTC().Truncate(time.Millisecond),
		Payload:   raw,
	}
}

// Validate checks the structure of an event received from outside the process.
func (e Event) Validate() error {
	if !e.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrMalformedEvent, e.Kind)
	}
	if strings.TrimSpace(e.AuctionID) == "" {
		return fmt.Errorf("%w: missing auction id", ErrMalformedEvent)
	}
	if e.Version == 0 {
		return fmt.Errorf("%w: version must be positive", ErrMalformedEvent)
	}
	if (e.Kind == KindAuctionCreated) != (e.Version == 1) {
		return fmt.Errorf("%w: %s cannot have version %d", ErrMalformedEvent, e.Kind, e.Version)
	}
	if want := EventID(e.AuctionID, e.Version, e.Kind); e.ID != want {
		return fmt.Errorf("%w: event id %q does not match %q", ErrMalformedEvent, e.ID, want)
	}
	if len(e.Payload) == 0 {
		return fmt.Errorf("%w: missing payload", ErrMalformedEvent)
	}
	return nil
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformedEvent, e.Kind, err)
	}
	return nil
}
