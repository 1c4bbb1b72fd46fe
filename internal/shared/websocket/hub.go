package websocket

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/cristianortiz/auctioncoord/internal/shared/logger"
	"github.com/fasthttp/websocket"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

var log = logger.GetLogger()

// Constants for WebSocket configuration
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 1 << 20

	// DefaultSendBuffer is the per-client outbound queue length.
	DefaultSendBuffer = 256
)

// ErrClientGone is returned when sending to an unregistered client.
var ErrClientGone = errors.New("websocket client is gone")

// Conn is the subset of a websocket connection the hub needs. Both the
// server-side gofiber connection and a dialed fasthttp connection satisfy it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	RemoteAddr() net.Addr
	Close() error
}

// Hub keeps the registry of connected clients and fans messages out to them.
type Hub struct {
	// Registered clients. The boolean value is ignored.
	clients map[*Client]bool
	// Outbound messages for every client but one.
	broadcast chan *Message
	// Register requests from the clients.
	register chan *Client
	// Unregister requests from clients.
	unregister chan *Client
	// InboundMessages is drained by the module handler (the replication broadcaster).
	InboundMessages chan *ClientMessage

	stopped    chan struct{}
	sendBuffer int
	connected  atomic.Int64
	dropped    atomic.Int64
}

// Client represents one websocket connection to a peer.
type Client struct {
	Hub *Hub
	// The websocket connection.
	Conn Conn
	// Buffered channel of outbound messages. Never closed: done signals teardown.
	Send chan []byte
	// Remote address, fixed at connect time.
	Remote string
	// Bulk traffic (catch-up streams) with flow control, kept apart from
	// Send so a long stream never makes the client look slow to the hub.
	stream chan []byte

	id        atomic.String // peer id, known after its hello
	done      chan struct{}
	closeOnce sync.Once
}

// Message is queued for every client whose id differs from Exclude.
type Message struct {
	Exclude string
	Data    []byte
}

// ClientMessage wraps the client and the data it sent, for the module handler.
type ClientMessage struct {
	Client *Client
	Data   []byte
}

// NewHub creates a hub whose clients buffer sendBuffer outbound messages.
func NewHub(sendBuffer int) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = DefaultSendBuffer
	}
	return &Hub{
		broadcast:       make(chan *Message, sendBuffer),
		register:        make(chan *Client),
		unregister:      make(chan *Client),
		clients:         make(map[*Client]bool),
		InboundMessages: make(chan *ClientMessage, sendBuffer),
		stopped:         make(chan struct{}),
		sendBuffer:      sendBuffer,
	}
}

// NewClient wraps conn. Register it with the hub before starting its pumps.
func (h *Hub) NewClient(conn Conn) *Client {
	return &Client{
		Hub:    h,
		Conn:   conn,
		Send:   make(chan []byte, h.sendBuffer),
		Remote: conn.RemoteAddr().String(),
		stream: make(chan []byte, 16),
		done:   make(chan struct{}),
	}
}

// Run starts the hub listening in their channels
func (h *Hub) Run(ctx context.Context) {
	log.Info("Websocket Hub started")
	defer close(h.stopped)
	for {
		select {
		case <-ctx.Done():
			log.Info("WebSocket Hub shutting down due to context cancellation",
				zap.Int("clients", len(h.clients)),
			)
			for client := range h.clients {
				client.shutdown()
				delete(h.clients, client)
			}
			h.connected.Store(0)
			return

		case client := <-h.register:
			h.clients[client] = true
			h.connected.Store(int64(len(h.clients)))
			log.Info("Client registered",
				zap.String("remote_addr", client.Remote),
				zap.Int("total_clients", len(h.clients)),
			)

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.shutdown()
				h.connected.Store(int64(len(h.clients)))
				log.Info("Client unregistered",
					zap.String("peerID", client.ID()),
					zap.String("remote_addr", client.Remote),
					zap.Int("total_clients", len(h.clients)),
				)
			}

		case message := <-h.broadcast:
			log.Debug("Broadcasting message", zap.Int("clients", len(h.clients)))
			for client := range h.clients {
				if message.Exclude != "" && client.ID() == message.Exclude {
					continue
				}
				select {
				case client.Send <- message.Data:
					// message sent
				default:
					// slow peer: drop it, it catches up after reconnecting
					delete(h.clients, client)
					client.shutdown()
					h.dropped.Inc()
					h.connected.Store(int64(len(h.clients)))
					log.Warn("Failed to send message to client, unregistering",
						zap.String("peerID", client.ID()),
						zap.String("remote_addr", client.Remote),
					)
				}
			}
		}
	}
}

// RegisterClient registers a new client in the hub. It returns false when
// the hub has stopped.
func (h *Hub) RegisterClient(ctx context.Context, client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.stopped:
	case <-ctx.Done():
	}
	client.shutdown()
	return false
}

// UnregisterClient deletes a client from the hub.
func (h *Hub) UnregisterClient(ctx context.Context, client *Client) {
	select {
	case h.unregister <- client:
	case <-h.stopped:
		client.shutdown()
	case <-ctx.Done():
		client.shutdown()
	}
}

// Broadcast queues data for every client except the one whose id is exclude.
func (h *Hub) Broadcast(exclude string, data []byte) {
	select {
	case h.broadcast <- &Message{Exclude: exclude, Data: data}:
	default:
		h.dropped.Inc()
		log.Error("Broadcast channel is full, message dropped")
	}
}

// Connected returns the number of registered clients.
func (h *Hub) Connected() int64 {
	return h.connected.Load()
}

// Dropped counts messages and slow clients dropped by the hub.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// ID returns the peer id announced by the client, empty before its hello.
func (c *Client) ID() string {
	return c.id.Load()
}

// SetID records the peer id announced by the client.
func (c *Client) SetID(id string) {
	c.id.Store(id)
}

// Done is closed once the client is torn down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// TrySend queues data without blocking. It reports false if the queue is
// full or the client is gone.
func (c *Client) TrySend(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// SendContext queues bulk data, waiting for the writer to catch up.
func (c *Client) SendContext(ctx context.Context, data []byte) error {
	select {
	case <-c.done:
		return ErrClientGone
	default:
	}
	select {
	case c.stream <- data:
		return nil
	case <-c.done:
		return ErrClientGone
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}

// ReadPump reads messages from the peer and hands them to the hub's
// InboundMessages channel. Run one per client; it returns when the
// connection fails or ctx is done.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.Hub.UnregisterClient(ctx, c)
		c.Conn.Close()
		log.Info("ReadPump stopped for client",
			zap.String("peerID", c.ID()),
			zap.String("remote_addr", c.Remote),
		)
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error { c.Conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error("WebSocket read error",
					zap.String("peerID", c.ID()),
					zap.String("remote_addr", c.Remote),
					zap.Error(err),
				)
			} else {
				log.Info("WebSocket connection closed by peer",
					zap.String("peerID", c.ID()),
					zap.String("remote_addr", c.Remote),
					zap.Error(err),
				)
			}
			return
		}

		select {
		case c.Hub.InboundMessages <- &ClientMessage{Client: c, Data: message}:
		case <-c.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// WritePump pumps messages from the hub to the websocket connection.
// A goroutine running WritePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// invoking WriteControl and WriteMessage from a single goroutine.
func (c *Client) WritePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Hub.UnregisterClient(ctx, c)
		c.Conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			err := c.Conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			if err != nil {
				log.Debug("Failed to send close control message", zap.String("remote_addr", c.Remote), zap.Error(err))
			}
			return

		case <-c.done:
			_ = c.Conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return

		case message := <-c.Send:
			if err := c.write(message); err != nil {
				return
			}

		case message := <-c.stream:
			if err := c.write(message); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn("Failed to write ping message to client",
					zap.String("peerID", c.ID()),
					zap.String("remote_addr", c.Remote),
					zap.Error(err),
				)
				return
			}
		}
	}
}

func (c *Client) write(message []byte) error {
	c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
		log.Warn("Failed to write message to client",
			zap.String("peerID", c.ID()),
			zap.String("remote_addr", c.Remote),
			zap.Error(err),
		)
		return err
	}
	return nil
}
