package rpc

import (
	"encoding/json"
	"time"

	"github.com/cristianortiz/auctioncoord/internal/auction/domain"
)

// Method names an RPC operation.
type Method string

const (
	MethodPing          Method = "ping"
	MethodCreateAuction Method = "createAuction"
	MethodGetAuctions   Method = "getAuctions"
	MethodMakeBid       Method = "makeBid"
	MethodCloseAuction  Method = "closeAuction"
)

// Request is the envelope of every inbound frame. ID is echoed back so a
// client may pipeline requests.
type Request struct {
	ID      *uint64         `json:"id,omitempty"`
	Method  Method          `json:"method"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response is the envelope of every outbound frame.
type Response struct {
	ID        *uint64         `json:"id,omitempty"`
	OK        bool            `json:"ok"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Retryable bool            `json:"retryable,omitempty"`
}

// Decode unmarshals Data into v.
func (r Response) Decode(v any) error {
	return json.Unmarshal(r.Data, v)
}

// request variants, one per method, validated before any domain call

type PingRequest struct {
	Nonce *int64 `json:"nonce" validate:"required,lt=9223372036854775807"` // answered with nonce+1
}

type CreateAuctionRequest struct {
	ClientID      string `json:"clientId" validate:"required"`
	Item          string `json:"item" validate:"required"`
	StartingPrice *int64 `json:"startingPrice" validate:"required,gte=0"`
}

type MakeBidRequest struct {
	ClientID  string `json:"clientId" validate:"required"`
	AuctionID string `json:"auctionId" validate:"required"`
	Amount    *int64 `json:"amount" validate:"required"`
}

type CloseAuctionRequest struct {
	AuctionID string `json:"auctionId" validate:"required"`
}

// response payloads

type PingResponse struct {
	Nonce int64 `json:"nonce"`
}

type CreateAuctionResponse struct {
	AuctionID string `json:"auctionId"`
}

// AuctionView is the client-facing projection of an open auction.
type AuctionView struct {
	AuctionID     string    `json:"auctionId"`
	Item          string    `json:"item"`
	StartingPrice int64     `json:"startingPrice"`
	Bids          []BidView `json:"bids"`
	Closed        bool      `json:"closed"`
}

type BidView struct {
	BidderID string    `json:"bidderId"`
	Amount   int64     `json:"amount"`
	Sequence uint64    `json:"sequence,omitempty"`
	PlacedAt time.Time `json:"placedAt,omitzero"`
}

type SuccessResponse struct {
	Success bool `json:"success"`
}

type CloseAuctionResponse struct {
	HighestBid BidView `json:"highestBid"`
}

func newAuctionView(s domain.AuctionSnapshot) AuctionView {
	bids := make([]BidView, 0, len(s.Bids))
	for _, b := range s.Bids {
		bids = append(bids, BidView{BidderID: b.BidderID, Amount: b.Amount, Sequence: b.Sequence, PlacedAt: b.PlacedAt})
	}
	return AuctionView{
		AuctionID:     s.ID,
		Item:          s.Item,
		StartingPrice: s.StartingPrice,
		Bids:          bids,
		Closed:        s.Closed(),
	}
}
