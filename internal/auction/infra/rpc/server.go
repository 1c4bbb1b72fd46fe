package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Options tunes the TCP server.
type Options struct {
	// RequestTimeout bounds each request from dequeue to response.
	RequestTimeout time.Duration
	// MaxFrameBytes rejects larger frames and closes the connection.
	MaxFrameBytes int
	// QueueSize is the per-connection request backlog. A full queue stops
	// the reader, pushing back on the client through TCP.
	QueueSize int
}

func (o Options) withDefaults() Options {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 5 * time.Second
	}
	if o.MaxFrameBytes <= 0 {
		o.MaxFrameBytes = 1 << 20
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 64
	}
	return o
}

// Stats is a point-in-time view of server counters.
type Stats struct {
	Accepted int64 `json:"accepted"`
	Active   int64 `json:"active"`
	Requests int64 `json:"requests"`
	Rejected int64 `json:"rejected"`
}

// Server accepts length-prefixed JSON requests over TCP. Each connection
// gets one reader feeding a bounded queue and one handler draining it, so
// responses go out in request order.
type Server struct {
	router *Router
	opts   Options

	mu     sync.Mutex
	ln     net.Listener
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup

	accepted atomic.Int64
	active   atomic.Int64
	requests atomic.Int64
	rejected atomic.Int64
}

// NewServer creates a server dispatching to router.
func NewServer(router *Router, opts Options) *Server {
	return &Server{
		router: router,
		opts:   opts.withDefaults(),
		conns:  make(map[net.Conn]struct{}),
	}
}

// ListenAndServe listens on addr and serves until ctx is done or Close is called.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln. It returns nil after a clean shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ln.Close()
		return nil
	}
	s.ln = ln
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	log.Info("RPC server listening", zap.String("addr", ln.Addr().String()))
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() {
				s.wg.Wait()
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(50 * time.Millisecond)
				continue
			}
			return err
		}
		if !s.track(conn) {
			_ = conn.Close()
			continue
		}
		s.accepted.Inc()
		s.active.Inc()
		s.wg.Add(1)
		go s.serveConn(ctx, conn)
	}
}

// Addr returns the listening address, nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Close stops accepting and closes every open connection.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var err error
	if s.ln != nil {
		err = multierr.Append(err, ignoreClosed(s.ln.Close()))
	}
	for c := range s.conns {
		err = multierr.Append(err, ignoreClosed(c.Close()))
	}
	s.mu.Unlock()
	return err
}

// Stats returns the server counters.
func (s *Server) Stats() Stats {
	return Stats{
		Accepted: s.accepted.Load(),
		Active:   s.active.Load(),
		Requests: s.requests.Load(),
		Rejected: s.rejected.Load(),
	}
}

type inbound struct {
	raw []byte
	err error
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	defer func() {
		s.untrack(conn)
		_ = conn.Close()
		s.active.Dec()
		s.wg.Done()
		log.Debug("RPC connection closed", zap.String("remote_addr", remote))
	}()
	log.Debug("RPC connection accepted", zap.String("remote_addr", remote))

	queue := make(chan inbound, s.opts.QueueSize)
	done := make(chan struct{})
	defer close(done)
	go s.readLoop(conn, queue, done)

	for in := range queue {
		if in.err != nil {
			if errors.Is(in.err, ErrFrameTooLarge) {
				s.rejected.Inc()
				log.Warn("RPC frame too large, closing connection",
					zap.String("remote_addr", remote),
					zap.Error(in.err),
				)
				_ = s.write(conn, failure(in.err.Error(), false))
			}
			return
		}

		s.requests.Inc()
		reqCtx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
		resp := s.router.Handle(reqCtx, in.raw)
		cancel()
		if !resp.OK {
			s.rejected.Inc()
		}
		if err := s.write(conn, resp); err != nil {
			log.Warn("RPC response write failed", zap.String("remote_addr", remote), zap.Error(err))
			return
		}
	}
}

// readLoop is the only reader of conn. It ends the queue on the first
// read error, after forwarding anything other than a clean EOF.
func (s *Server) readLoop(conn net.Conn, queue chan<- inbound, done <-chan struct{}) {
	defer close(queue)
	for {
		raw, err := ReadFrame(conn, s.opts.MaxFrameBytes)
		in := inbound{raw: raw, err: err}
		if err != nil && (errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)) {
			return
		}
		select {
		case queue <- in:
		case <-done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) write(conn net.Conn, resp Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(s.opts.RequestTimeout))
	return WriteFrame(conn, data)
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func ignoreClosed(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
