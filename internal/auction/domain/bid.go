package domain

import "time"

// Bid is one accepted offer inside an auction. Amounts are integer minor units.
type Bid struct {
	BidderID string    `json:"bidderId"`
	Amount   int64     `json:"amount"`
	Sequence uint64    `json:"sequence"` // 1-based position in the auction's bid list
	PlacedAt time.Time `json:"placedAt"`
}

// NoBid is the sentinel highest bid of an auction without bids.
func NoBid(startingPrice int64) Bid {
	return Bid{Amount: startingPrice}
}

// IsNoBid reports whether b is the "no bid" sentinel.
func (b Bid) IsNoBid() bool {
	return b.BidderID == "" && b.Sequence == 0
}
