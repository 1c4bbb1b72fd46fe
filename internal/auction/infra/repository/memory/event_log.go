package memory

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"github.com/cristianortiz/auctioncoord/internal/auction/domain"
)

// EventLog is a concurrency-safe in-memory implementation of domain.EventLog.
// It is durable only for the life of the process.
type EventLog struct {
	mu     sync.RWMutex
	events []domain.Event
	ids    map[string]struct{}
	closed bool
}

// NewEventLog creates an empty in-memory log.
func NewEventLog() *EventLog {
	return &EventLog{ids: make(map[string]struct{})}
}

// Append records ev at the next position.
func (l *EventLog) Append(ctx context.Context, ev domain.Event) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return 0, fmt.Errorf("append %s: %w: log closed", ev.ID, domain.ErrDurability)
	}
	if _, ok := l.ids[ev.ID]; ok {
		return 0, fmt.Errorf("append %s: %w", ev.ID, domain.ErrDuplicateEvent)
	}
	ev.Position = int64(len(l.events))
	ev.Payload = append([]byte(nil), ev.Payload...)
	l.events = append(l.events, ev)
	l.ids[ev.ID] = struct{}{}
	return ev.Position, nil
}

// ReadFrom yields events from position on, including ones appended while iterating.
func (l *EventLog) ReadFrom(ctx context.Context, position int64) iter.Seq2[domain.Event, error] {
	return func(yield func(domain.Event, error) bool) {
		if position < 0 {
			position = 0
		}
		for i := position; ; i++ {
			if err := ctx.Err(); err != nil {
				yield(domain.Event{}, err)
				return
			}
			l.mu.RLock()
			if i >= int64(len(l.events)) {
				l.mu.RUnlock()
				return
			}
			ev := l.events[i]
			l.mu.RUnlock()

			if !yield(ev, nil) {
				return
			}
		}
	}
}

// Head returns the position of the next append.
func (l *EventLog) Head(ctx context.Context) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return int64(len(l.events)), nil
}

// Close makes further appends fail.
func (l *EventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}
