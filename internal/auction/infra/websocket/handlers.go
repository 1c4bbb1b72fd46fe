package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/cristianortiz/auctioncoord/internal/auction/application"
	"github.com/cristianortiz/auctioncoord/internal/auction/domain"
	"github.com/cristianortiz/auctioncoord/internal/shared/logger"
	"github.com/cristianortiz/auctioncoord/internal/shared/websocket"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

var log = logger.GetLogger()

// Stats counts replication traffic.
type Stats struct {
	Peers      int64 `json:"peers"`
	Published  int64 `json:"published"`
	Applied    int64 `json:"applied"`
	Duplicates int64 `json:"duplicates"`
	Buffered   int64 `json:"buffered"`
	Resyncs    int64 `json:"resyncs"`
	Dropped    int64 `json:"dropped"`
}

// Broadcaster replicates committed events between coordinators. It pushes
// local commits to every connected peer, applies events received from
// peers to the registry, and answers resync requests by streaming the log.
type Broadcaster struct {
	nodeID string
	hub    *websocket.Hub
	target application.ReplicationTarget
	events domain.EventLog

	mu      sync.Mutex
	cursors map[string]int64 // per peer: next position of its log to ask for

	published  atomic.Int64
	applied    atomic.Int64
	duplicates atomic.Int64
	buffered   atomic.Int64
	resyncs    atomic.Int64
}

// NewBroadcaster creates a Broadcaster. events is the local log streamed
// to peers on resync; target receives events from peers.
func NewBroadcaster(nodeID string, hub *websocket.Hub, target application.ReplicationTarget, events domain.EventLog) *Broadcaster {
	return &Broadcaster{
		nodeID:  nodeID,
		hub:     hub,
		target:  target,
		events:  events,
		cursors: make(map[string]int64),
	}
}

var _ domain.EventPublisher = (*Broadcaster)(nil)

// Publish fans a locally committed event out to every peer except its origin.
// It never blocks on the network.
func (b *Broadcaster) Publish(ev domain.Event) {
	data, err := json.Marshal(EventMessage{BaseMessage: BaseMessage{Type: MessageTypeEvent}, Event: ev})
	if err != nil {
		log.Error("Failed to marshal event message", zap.String("eventID", ev.ID), zap.Error(err))
		return
	}
	b.published.Inc()
	b.hub.Broadcast(ev.Origin, data)
}

// Serve runs one peer connection until it ends: greets the peer, registers
// it with the hub and pumps messages. It returns only after both pumps are
// done with conn, so the caller may recycle it. Used for inbound and dialed
// peers.
func (b *Broadcaster) Serve(ctx context.Context, conn websocket.Conn) {
	client := b.hub.NewClient(conn)
	// queued before registering so no broadcast overtakes it
	b.send(client, HelloMessage{BaseMessage: BaseMessage{Type: MessageTypeHello}, PeerID: b.nodeID})
	if !b.hub.RegisterClient(ctx, client) {
		_ = conn.Close()
		return
	}
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		client.WritePump(ctx)
	}()
	client.ReadPump(ctx)
	<-writerDone
}

// ListenForMessages processes the hub's inbound messages until ctx is done.
// Messages are handled one at a time so each peer's events keep their order.
func (b *Broadcaster) ListenForMessages(ctx context.Context) {
	log.Info("Broadcaster started listening for inbound peer messages")
	for {
		select {
		case <-ctx.Done():
			log.Info("Broadcaster stopped listening for inbound peer messages")
			return
		case msg := <-b.hub.InboundMessages:
			b.processMessage(ctx, msg.Client, msg.Data)
		}
	}
}

// Stats returns replication counters.
func (b *Broadcaster) Stats() Stats {
	return Stats{
		Peers:      b.hub.Connected(),
		Published:  b.published.Load(),
		Applied:    b.applied.Load(),
		Duplicates: b.duplicates.Load(),
		Buffered:   b.buffered.Load(),
		Resyncs:    b.resyncs.Load(),
		Dropped:    b.hub.Dropped(),
	}
}

// processMessage dispatches the message by its type
func (b *Broadcaster) processMessage(ctx context.Context, client *websocket.Client, data []byte) {
	var base BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		b.sendError(client, "invalid message format")
		return
	}
	switch base.Type {
	case MessageTypeHello:
		b.handleHello(client, data)
	case MessageTypeEvent:
		b.handleEvent(ctx, client, data)
	case MessageTypeResync:
		b.handleResync(ctx, client, data)
	case MessageTypeSynced:
		b.handleSynced(client, data)
	case MessageTypeError:
		var msg ErrorMessage
		_ = json.Unmarshal(data, &msg)
		log.Warn("Peer reported an error",
			zap.String("peerID", client.ID()),
			zap.String("message", msg.Message),
		)
	default:
		b.sendError(client, "unknown message type")
	}
}

func (b *Broadcaster) handleHello(client *websocket.Client, data []byte) {
	var msg HelloMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.PeerID == "" {
		b.sendError(client, "invalid hello message")
		return
	}
	if msg.PeerID == b.nodeID {
		b.sendError(client, "connected to self")
		return
	}
	client.SetID(msg.PeerID)
	from := b.cursor(msg.PeerID)
	log.Info("Peer connected",
		zap.String("peerID", msg.PeerID),
		zap.String("remote_addr", client.Remote),
		zap.Int64("resumeFrom", from),
	)
	b.send(client, ResyncMessage{BaseMessage: BaseMessage{Type: MessageTypeResync}, From: from})
}

func (b *Broadcaster) handleEvent(ctx context.Context, client *websocket.Client, data []byte) {
	peer := client.ID()
	if peer == "" {
		b.sendError(client, "hello required before events")
		return
	}
	var msg EventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		b.sendError(client, "invalid event message")
		return
	}

	err := b.target.ApplyReplicatedEvent(ctx, msg.Event)
	switch {
	case err == nil:
		b.applied.Inc()
	case errors.Is(err, domain.ErrDuplicateEvent):
		b.duplicates.Inc()
	case errors.Is(err, domain.ErrOutOfOrderEvent):
		b.buffered.Inc()
	case errors.Is(err, domain.ErrResyncRequired):
		b.resyncs.Inc()
		b.setCursor(peer, 0)
		log.Warn("Requesting full resync from peer", zap.String("peerID", peer), zap.String("eventID", msg.ID))
		b.send(client, ResyncMessage{BaseMessage: BaseMessage{Type: MessageTypeResync}, From: 0})
	case errors.Is(err, domain.ErrMalformedEvent):
		log.Warn("Malformed event from peer", zap.String("peerID", peer), zap.Error(err))
		b.sendError(client, err.Error())
	default:
		// not persisted: the next connection re-streams everything
		b.setCursor(peer, 0)
		log.Error("Replicated event could not be applied",
			zap.String("peerID", peer),
			zap.String("eventID", msg.ID),
			zap.Error(err),
		)
	}
}

func (b *Broadcaster) handleResync(ctx context.Context, client *websocket.Client, data []byte) {
	peer := client.ID()
	if peer == "" {
		b.sendError(client, "hello required before resync")
		return
	}
	var msg ResyncMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.From < 0 {
		b.sendError(client, "invalid resync message")
		return
	}
	go b.stream(ctx, client, peer, msg.From)
}

func (b *Broadcaster) handleSynced(client *websocket.Client, data []byte) {
	peer := client.ID()
	var msg SyncedMessage
	if err := json.Unmarshal(data, &msg); err != nil || peer == "" {
		b.sendError(client, "invalid synced message")
		return
	}
	b.mu.Lock()
	if msg.Position > b.cursors[peer] {
		b.cursors[peer] = msg.Position
	}
	b.mu.Unlock()
	log.Debug("Peer stream complete", zap.String("peerID", peer), zap.Int64("position", msg.Position))
}

// stream sends the local log from position from to the peer, skipping the
// events it originated, then closes the stream with a synced marker.
func (b *Broadcaster) stream(ctx context.Context, client *websocket.Client, peer string, from int64) {
	next := from
	sent := 0
	for ev, err := range b.events.ReadFrom(ctx, from) {
		if err != nil {
			log.Error("Resync stream failed", zap.String("peerID", peer), zap.Error(err))
			return
		}
		next = ev.Position + 1
		if ev.Origin == peer {
			continue
		}
		data, err := json.Marshal(EventMessage{BaseMessage: BaseMessage{Type: MessageTypeEvent}, Event: ev})
		if err != nil {
			log.Error("Failed to marshal event message", zap.String("eventID", ev.ID), zap.Error(err))
			return
		}
		if err := client.SendContext(ctx, data); err != nil {
			log.Debug("Resync stream aborted", zap.String("peerID", peer), zap.Error(err))
			return
		}
		sent++
	}
	data, _ := json.Marshal(SyncedMessage{BaseMessage: BaseMessage{Type: MessageTypeSynced}, Position: next})
	if err := client.SendContext(ctx, data); err != nil {
		return
	}
	log.Info("Resync stream sent",
		zap.String("peerID", peer),
		zap.Int64("from", from),
		zap.Int64("to", next),
		zap.Int("events", sent),
	)
}

func (b *Broadcaster) cursor(peer string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cursors[peer]
}

func (b *Broadcaster) setCursor(peer string, pos int64) {
	b.mu.Lock()
	b.cursors[peer] = pos
	b.mu.Unlock()
}

func (b *Broadcaster) send(client *websocket.Client, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error("Failed to marshal peer message", zap.Error(err))
		return
	}
	if !client.TrySend(data) {
		log.Warn("Peer send queue full or closed, message dropped", zap.String("peerID", client.ID()))
	}
}

// sendError sends an error message to a specific peer, the connection stays open
func (b *Broadcaster) sendError(client *websocket.Client, message string) {
	log.Debug("Sending error to peer", zap.String("peerID", client.ID()), zap.String("message", message))
	b.send(client, ErrorMessage{BaseMessage: BaseMessage{Type: MessageTypeError}, Message: message})
}
