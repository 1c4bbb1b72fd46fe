package websocket

import (
	"github.com/cristianortiz/auctioncoord/internal/auction/domain"
)

// MessageType defines the replication message type
type MessageType string

const (
	MessageTypeHello  MessageType = "hello"  // first message on every connection, both directions
	MessageTypeEvent  MessageType = "event"  // one committed event
	MessageTypeResync MessageType = "resync" // ask the receiver to stream its log from a position
	MessageTypeSynced MessageType = "synced" // end of a resync stream
	MessageTypeError  MessageType = "error"  // malformed peer input
)

// BaseMessage is the base struct for every replication message, its Type identifies the variant
type BaseMessage struct {
	Type MessageType `json:"type"`
}

// HelloMessage announces the sender's node id.
type HelloMessage struct {
	BaseMessage
	PeerID string `json:"peerId"`
}

// EventMessage carries an event flattened next to its type. Position is
// the event's position in the sender's log.
type EventMessage struct {
	BaseMessage
	domain.Event
}

// ResyncMessage asks the receiver to stream every event from position
// From on, except the ones the requester originated.
type ResyncMessage struct {
	BaseMessage
	From int64 `json:"from"`
}

// SyncedMessage closes a resync stream. Every event below Position in the
// sender's log has been sent or was originated by the receiver.
type SyncedMessage struct {
	BaseMessage
	Position int64 `json:"position"`
}

type ErrorMessage struct {
	BaseMessage
	Message string `json:"message"`
}
