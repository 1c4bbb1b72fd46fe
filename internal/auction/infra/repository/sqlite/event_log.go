// Package sqlite persists auction events in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cristianortiz/auctioncoord/internal/auction/domain"
	"github.com/cristianortiz/auctioncoord/internal/shared/db/migrations"
	"github.com/cristianortiz/auctioncoord/internal/shared/logger"
	"go.uber.org/zap"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var log = logger.GetLogger()

// pageSize bounds how many rows ReadFrom holds open between yields.
const pageSize = 256

// EventLog is a domain.EventLog backed by a single SQLite file.
// Positions are dense and start at 0.
type EventLog struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies migrations.
func Open(path string) (*EventLog, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("event log path is required")
	}
	cleanPath := filepath.Clean(path)
	if dir := filepath.Dir(cleanPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create event log dir: %w", err)
		}
	}

	dsn := "file:" + cleanPath +
		"?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one writer keeps positions gap free
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := migrations.RunSQLite(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	log.Info("SQLite event log opened", zap.String("path", cleanPath))
	return &EventLog{db: db}, nil
}

// Append inserts ev and returns its position once the write is synced.
func (l *EventLog) Append(ctx context.Context, ev domain.Event) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO auction_events (event_id, kind, auction_id, version, origin, occurred_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, string(ev.Kind), ev.AuctionID, int64(ev.Version), ev.Origin,
		ev.Timestamp.UTC().UnixMilli(), []byte(ev.Payload),
	)
	if err != nil {
		if isConstraintError(err) {
			return 0, fmt.Errorf("append %s: %w", ev.ID, domain.ErrDuplicateEvent)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		return 0, fmt.Errorf("append %s: %w: %v", ev.ID, domain.ErrDurability, err)
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append %s: %w: %v", ev.ID, domain.ErrDurability, err)
	}
	return rowID - 1, nil
}

// ReadFrom yields events with position >= position, one page at a time.
func (l *EventLog) ReadFrom(ctx context.Context, position int64) iter.Seq2[domain.Event, error] {
	return func(yield func(domain.Event, error) bool) {
		if position < 0 {
			position = 0
		}
		next := position + 1 // rowid
		for {
			page, err := l.page(ctx, next)
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

func (l *EventLog) page(ctx context.Context, fromRowID int64) ([]domain.Event, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT position, event_id, kind, auction_id, version, origin, occurred_at, payload
		FROM auction_events
		WHERE position >= ?
		ORDER BY position
		LIMIT ?`, fromRowID, pageSize)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	defer rows.Close()

	events := make([]domain.Event, 0, pageSize)
	for rows.Next() {
		var (
			ev       domain.Event
			rowID    int64
			kind     string
			version  int64
			occurred int64
			payload  []byte
		)
		if err := rows.Scan(&rowID, &ev.ID, &kind, &ev.AuctionID, &version, &ev.Origin, &occurred, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Position = rowID - 1
		ev.Kind = domain.EventKind(kind)
		ev.Version = uint64(version)
		ev.Timestamp = time.UnixMilli(occurred).UTC()
		ev.Payload = payload
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// Head returns the position the next append will receive.
func (l *EventLog) Head(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	// sqlite_sequence keeps the high-water mark even when the table is empty
	err := l.db.QueryRowContext(ctx,
		`SELECT seq FROM sqlite_sequence WHERE name = 'auction_events'`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read head: %w", err)
	}
	return seq.Int64, nil
}

// Close closes the SQLite handle.
func (l *EventLog) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT, sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}
