package postgres

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/cristianortiz/auctioncoord/internal/auction/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pageSize        = 256
	uniqueViolation = "23505"

	// AppendLockKey is the advisory lock every appender holds until commit.
	AppendLockKey int64 = 0x61756374 // "auct"
)

// EventLog implements domain.EventLog on a postgres auction_events table.
// Positions are monotonic but may be sparse when an insert is rolled back.
type EventLog struct {
	pool *pgxpool.Pool
}

// NewEventLog creates new instance of EventLog. The schema must already be migrated.
func NewEventLog(pool *pgxpool.Pool) *EventLog {
	return &EventLog{pool: pool}
}

// Append inserts ev and returns its position after the commit.
//
// Appends are serialized by a transaction-scoped advisory lock, taken before
// the position is drawn from the sequence, so positions become visible in
// commit order. A reader that has seen position p never later finds a
// committed event below p.
func (r *EventLog) Append(ctx context.Context, ev domain.Event) (int64, error) {
	query := `
        INSERT INTO auction_events (event_id, kind, auction_id, version, origin, occurred_at, payload)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING position
    `
	var position int64
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, AppendLockKey); err != nil {
			return err
		}
		return tx.QueryRow(ctx, query,
			ev.ID,
			string(ev.Kind),
			ev.AuctionID,
			int64(ev.Version),
			ev.Origin,
			ev.Timestamp.UTC(),
			[]byte(ev.Payload),
		).Scan(&position)
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return 0, fmt.Errorf("append %s: %w", ev.ID, domain.ErrDuplicateEvent)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		return 0, fmt.Errorf("append %s: %w: %v", ev.ID, domain.ErrDurability, err)
	}
	return position - 1, nil
}

// ReadFrom yields events with position >= position in pages.
func (r *EventLog) ReadFrom(ctx context.Context, position int64) iter.Seq2[domain.Event, error] {
	return func(yield func(domain.Event, error) bool) {
		if position < 0 {
			position = 0
		}
		next := position + 1
		for {
			page, err := r.page(ctx, next)
			if err != nil {
				yield(domain.Event{}, err)
				return
			}
			for _, ev := range page {
				if !yield(ev, nil) {
					return
				}
			}
			if len(page) < pageSize {
				return
			}
			next = page[len(page)-1].Position + 2
		}
	}
}

func (r *EventLog) page(ctx context.Context, from int64) ([]domain.Event, error) {
	query := `
        SELECT position, event_id, kind, auction_id, version, origin, occurred_at, payload
        FROM auction_events
        WHERE position >= $1
        ORDER BY position ASC
        LIMIT $2
    `
	rows, err := r.pool.Query(ctx, query, from, pageSize)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	defer rows.Close()

	events := make([]domain.Event, 0, pageSize)
	for rows.Next() {
		var (
			ev      domain.Event
			kind    string
			version int64
			payload []byte
		)
		err := rows.Scan(
			&ev.Position,
			&ev.ID,
			&kind,
			&ev.AuctionID,
			&version,
			&ev.Origin,
			&ev.Timestamp,
			&payload,
		)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Position--
		ev.Kind = domain.EventKind(kind)
		ev.Version = uint64(version)
		ev.Timestamp = ev.Timestamp.UTC()
		ev.Payload = payload
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// Head returns a position strictly greater than every stored one.
func (r *EventLog) Head(ctx context.Context) (int64, error) {
	var head int64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(MAX(position), 0) FROM auction_events`).Scan(&head)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("read head: %w", err)
	}
	return head, nil
}

// Close is a no-op: the pool is shared and closed by its owner.
func (r *EventLog) Close() error {
	return nil
}
