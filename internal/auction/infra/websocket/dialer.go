package websocket

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/fasthttp/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const handshakeTimeout = 10 * time.Second

// Dialer keeps one outbound connection per configured peer URL, redialing
// with exponential backoff until its context ends.
type Dialer struct {
	urls        []string
	broadcaster *Broadcaster
	dialer      *websocket.Dialer
	maxWait     time.Duration
}

// NewDialer creates a Dialer for urls (ws://host:port/ws/peers).
func NewDialer(urls []string, broadcaster *Broadcaster, maxWait time.Duration) *Dialer {
	if maxWait <= 0 {
		maxWait = 30 * time.Second
	}
	return &Dialer{
		urls:        urls,
		broadcaster: broadcaster,
		dialer:      &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		maxWait:     maxWait,
	}
}

// Run dials every peer and returns when ctx is done.
func (d *Dialer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, url := range d.urls {
		g.Go(func() error {
			d.dialLoop(ctx, url)
			return nil
		})
	}
	return g.Wait()
}

func (d *Dialer) dialLoop(ctx context.Context, url string) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = d.maxWait

	for {
		conn, _, err := d.dialer.DialContext(ctx, url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := bo.NextBackOff()
			log.Warn("Peer dial failed",
				zap.String("url", url),
				zap.Duration("retryIn", wait),
				zap.Error(err),
			)
			if !sleep(ctx, wait) {
				return
			}
			continue
		}

		log.Info("Peer dialed", zap.String("url", url))
		started := time.Now()
		d.broadcaster.Serve(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		if time.Since(started) > d.maxWait {
			bo.Reset()
		}
		wait := bo.NextBackOff()
		log.Info("Peer connection lost", zap.String("url", url), zap.Duration("retryIn", wait))
		if !sleep(ctx, wait) {
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
