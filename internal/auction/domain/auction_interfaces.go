package domain

import (
	"context"
	"iter"
)

//go:generate mockgen -source=auction_interfaces.go -destination=mock_auction_interfaces.go -package=domain

// EventLog is the append-only durable record of accepted transitions.
// Append is synchronous: once it returns, the event is durable and visible
// to ReadFrom.
type EventLog interface {
	// Append persists ev and returns its position. A second append of the
	// same event id fails with ErrDuplicateEvent.
	Append(ctx context.Context, ev Event) (int64, error)
	// ReadFrom lazily yields events at positions >= position, in order.
	ReadFrom(ctx context.Context, position int64) iter.Seq2[Event, error]
	// Head returns the position the next append will receive at minimum.
	Head(ctx context.Context) (int64, error)
	Close() error
}

// EventPublisher receives every event committed by this coordinator.
// Publish must not block on network I/O.
type EventPublisher interface {
	Publish(ev Event)
}
