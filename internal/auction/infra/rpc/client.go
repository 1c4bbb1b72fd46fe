package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// ErrRemote wraps an {ok:false} response returned by the coordinator.
var ErrRemote = errors.New("coordinator rejected request")

// Client is a synchronous RPC client over one TCP connection. Calls are
// serialized; it is safe for concurrent use.
type Client struct {
	mu       sync.Mutex
	conn     net.Conn
	nextID   uint64
	maxFrame int
}

// Dial connects to the coordinator at addr.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Client{conn: conn, maxFrame: 1 << 20}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call sends one request and waits for its response. A transport error is
// returned as error; an {ok:false} response is returned as-is.
func (c *Client) Call(ctx context.Context, method Method, payload any) (Response, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Response{}, fmt.Errorf("marshal %s payload: %w", method, err)
		}
		raw = b
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	frame, err := json.Marshal(Request{ID: &id, Method: method, Payload: raw})
	if err != nil {
		return Response{}, err
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(30 * time.Second)
	}
	_ = c.conn.SetDeadline(deadline)
	defer c.conn.SetDeadline(time.Time{})

	if err := WriteFrame(c.conn, frame); err != nil {
		return Response{}, fmt.Errorf("send %s: %w", method, err)
	}
	data, err := ReadFrame(c.conn, c.maxFrame)
	if err != nil {
		return Response{}, fmt.Errorf("receive %s: %w", method, err)
	}
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return Response{}, fmt.Errorf("decode %s response: %w", method, err)
	}
	if resp.ID != nil && *resp.ID != id {
		return Response{}, fmt.Errorf("%s response id %d, want %d", method, *resp.ID, id)
	}
	return resp, nil
}

func (c *Client) call(ctx context.Context, method Method, payload, out any) error {
	resp, err := c.Call(ctx, method, payload)
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("%w: %s", ErrRemote, resp.Error)
	}
	if out == nil {
		return nil
	}
	return resp.Decode(out)
}

// Ping returns the coordinator's answer to nonce, nonce+1 when healthy.
func (c *Client) Ping(ctx context.Context, nonce int64) (int64, error) {
	var out PingResponse
	if err := c.call(ctx, MethodPing, PingRequest{Nonce: &nonce}, &out); err != nil {
		return 0, err
	}
	return out.Nonce, nil
}

func (c *Client) CreateAuction(ctx context.Context, clientID, item string, startingPrice int64) (string, error) {
	var out CreateAuctionResponse
	req := CreateAuctionRequest{ClientID: clientID, Item: item, StartingPrice: &startingPrice}
	if err := c.call(ctx, MethodCreateAuction, req, &out); err != nil {
		return "", err
	}
	return out.AuctionID, nil
}

func (c *Client) GetAuctions(ctx context.Context) ([]AuctionView, error) {
	var out []AuctionView
	if err := c.call(ctx, MethodGetAuctions, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MakeBid reports whether the bid was accepted.
func (c *Client) MakeBid(ctx context.Context, clientID, auctionID string, amount int64) (bool, error) {
	var out SuccessResponse
	req := MakeBidRequest{ClientID: clientID, AuctionID: auctionID, Amount: &amount}
	if err := c.call(ctx, MethodMakeBid, req, &out); err != nil {
		return false, err
	}
	return out.Success, nil
}

func (c *Client) CloseAuction(ctx context.Context, auctionID string) (BidView, error) {
	var out CloseAuctionResponse
	if err := c.call(ctx, MethodCloseAuction, CloseAuctionRequest{AuctionID: auctionID}, &out); err != nil {
		return BidView{}, err
	}
	return out.HighestBid, nil
}
