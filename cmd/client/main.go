package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/cristianortiz/auctioncoord/internal/auction/infra/rpc"
)

const usage = `usage: client [-addr host:port] [-timeout d] <command> [args]

commands:
  ping <nonce>
  createAuction <clientId> <item> <startingPrice>
  getAuctions
  makeBid <clientId> <auctionId> <amount>
  closeAuction <auctionId>
`

func main() {
	addr := flag.String("addr", "127.0.0.1:9100", "coordinator RPC address")
	timeout := flag.Duration("timeout", 5*time.Second, "request timeout")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	out, err := run(ctx, *addr, flag.Arg(0), flag.Args()[1:])
	if errors.Is(err, errUsage) {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)
}

var errUsage = errors.New("invalid arguments")

func run(ctx context.Context, addr, command string, args []string) (any, error) {
	want := map[string]int{
		"ping":          1,
		"createAuction": 3,
		"getAuctions":   0,
		"makeBid":       3,
		"closeAuction":  1,
	}
	n, ok := want[command]
	if !ok {
		return nil, fmt.Errorf("%w: unknown command %q", errUsage, command)
	}
	if len(args) != n {
		return nil, fmt.Errorf("%w: %s takes %d arguments", errUsage, command, n)
	}

	c, err := rpc.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	switch command {
	case "ping":
		nonce, err := parseInt(args[0])
		if err != nil {
			return nil, err
		}
		pong, err := c.Ping(ctx, nonce)
		return rpc.PingResponse{Nonce: pong}, err
	case "createAuction":
		price, err := parseInt(args[2])
		if err != nil {
			return nil, err
		}
		id, err := c.CreateAuction(ctx, args[0], args[1], price)
		return rpc.CreateAuctionResponse{AuctionID: id}, err
	case "getAuctions":
		return c.GetAuctions(ctx)
	case "makeBid":
		amount, err := parseInt(args[2])
		if err != nil {
			return nil, err
		}
		ok, err := c.MakeBid(ctx, args[0], args[1], amount)
		return rpc.SuccessResponse{Success: ok}, err
	default:
		highest, err := c.CloseAuction(ctx, args[0])
		return rpc.CloseAuctionResponse{HighestBid: highest}, err
	}
}

func parseInt(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an integer", errUsage, s)
	}
	return v, nil
}
