package application

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cristianortiz/auctioncoord/internal/auction/domain"
	"github.com/cristianortiz/auctioncoord/internal/shared/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var log = logger.GetLogger()

// DefaultMaxPending bounds the per-auction buffer of early replicated events.
const DefaultMaxPending = 1024

type orderKey struct {
	position int64
	id       string
}

type entry struct {
	mu      sync.Mutex
	auction *domain.Auction
	pending map[uint64]domain.Event // replicated events waiting for their predecessor
}

// live reports whether the auction exists, as opposed to a placeholder that
// only holds buffered replicated events.
func (e *entry) live() bool {
	return e.auction.Version() > 0
}

// Registry owns every auction of this coordinator and mediates all mutation.
// Each auction has its own lock, held across the acceptance test, the log
// append and the in-memory apply, so acceptance order equals log order.
// The map lock only guards lookup and insert.
type Registry struct {
	nodeID     string
	events     domain.EventLog
	publisher  domain.EventPublisher
	maxPending int

	mu       sync.RWMutex
	auctions map[string]*entry
	order    []orderKey // live auctions by log position of their creation

	now   func() time.Time
	newID func() string
}

// NewRegistry creates an empty registry writing to events. Call Replay
// before serving to rebuild state from an existing log.
func NewRegistry(nodeID string, events domain.EventLog, maxPending int) *Registry {
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}
	return &Registry{
		nodeID:     nodeID,
		events:     events,
		publisher:  nopPublisher{},
		maxPending: maxPending,
		auctions:   make(map[string]*entry),
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// SetPublisher registers the receiver of locally committed events.
// It must be called before the registry is shared.
func (r *Registry) SetPublisher(p domain.EventPublisher) {
	if p == nil {
		p = nopPublisher{}
	}
	r.publisher = p
}

// CreateAuction validates input, commits an AuctionCreated event and returns the new id.
func (r *Registry) CreateAuction(ctx context.Context, sellerID, item string, startingPrice int64) (string, error) {
	id := r.newID()
	ev, err := domain.NewAuctionCreated(id, sellerID, item, startingPrice, r.nodeID, r.now())
	if err != nil {
		log.Debug("Create auction rejected", zap.String("sellerID", sellerID), zap.Error(err))
		return "", err
	}

	a := &domain.Auction{}
	pos, err := r.commit(ctx, a, ev)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.auctions[id] = &entry{auction: a}
	r.insertOrder(id, pos)
	r.mu.Unlock()

	log.Info("Auction created",
		zap.String("auctionID", id),
		zap.String("sellerID", sellerID),
		zap.Int64("startingPrice", startingPrice),
	)
	r.publisher.Publish(ev)
	return id, nil
}

// PlaceBid returns false, without error, when the auction is unknown, closed,
// or amount does not exceed the current highest amount. An error means the
// input was invalid or the accepted bid could not be made durable.
func (r *Registry) PlaceBid(ctx context.Context, bidderID, auctionID string, amount int64) (bool, error) {
	if strings.TrimSpace(bidderID) == "" {
		return false, fmt.Errorf("%w: bidder id is required", domain.ErrValidation)
	}
	e := r.lookup(auctionID)
	if e == nil {
		log.Debug("Bid rejected: unknown auction", zap.String("auctionID", auctionID), zap.String("bidderID", bidderID))
		return false, nil
	}

	e.mu.Lock()
	if !e.live() {
		e.mu.Unlock()
		return false, nil
	}
	ev, ok := e.auction.ProposeBid(bidderID, amount, r.nodeID, r.now())
	if !ok {
		e.mu.Unlock()
		return false, nil
	}
	_, err := r.commit(ctx, e.auction, ev)
	e.mu.Unlock()
	if err != nil {
		return false, err
	}

	log.Info("Bid accepted",
		zap.String("auctionID", auctionID),
		zap.String("bidderID", bidderID),
		zap.Int64("amount", amount),
		zap.Uint64("version", ev.Version),
	)
	r.publisher.Publish(ev)
	return true, nil
}

// CloseAuction closes the auction and returns its frozen highest bid.
// Closing a closed auction returns the same bid and commits nothing.
func (r *Registry) CloseAuction(ctx context.Context, auctionID string) (domain.Bid, error) {
	e := r.lookup(auctionID)
	if e == nil {
		return domain.Bid{}, fmt.Errorf("close %s: %w", auctionID, domain.ErrNotFound)
	}

	e.mu.Lock()
	if !e.live() {
		e.mu.Unlock()
		return domain.Bid{}, fmt.Errorf("close %s: %w", auctionID, domain.ErrNotFound)
	}
	ev, ok := e.auction.ProposeClose(r.nodeID, r.now())
	if !ok {
		highest := e.auction.HighestBid()
		e.mu.Unlock()
		return highest, nil
	}
	if _, err := r.commit(ctx, e.auction, ev); err != nil {
		e.mu.Unlock()
		return domain.Bid{}, err
	}
	highest := e.auction.HighestBid()
	e.mu.Unlock()

	log.Info("Auction closed",
		zap.String("auctionID", auctionID),
		zap.String("winner", highest.BidderID),
		zap.Int64("amount", highest.Amount),
	)
	r.publisher.Publish(ev)
	return highest, nil
}

// ListActive returns snapshots of open auctions in creation order.
func (r *Registry) ListActive(ctx context.Context) []domain.AuctionSnapshot {
	out := make([]domain.AuctionSnapshot, 0)
	for _, e := range r.entries() {
		e.mu.Lock()
		if e.auction.Status() == domain.StatusOpen {
			out = append(out, e.auction.Snapshot())
		}
		e.mu.Unlock()
	}
	return out
}

// GetAuction returns a snapshot of the auction regardless of its status.
func (r *Registry) GetAuction(ctx context.Context, auctionID string) (domain.AuctionSnapshot, error) {
	e := r.lookup(auctionID)
	if e == nil {
		return domain.AuctionSnapshot{}, fmt.Errorf("get %s: %w", auctionID, domain.ErrNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.live() {
		return domain.AuctionSnapshot{}, fmt.Errorf("get %s: %w", auctionID, domain.ErrNotFound)
	}
	return e.auction.Snapshot(), nil
}

// ReadEvents returns up to limit events from the log starting at position from.
func (r *Registry) ReadEvents(ctx context.Context, from int64, limit int) ([]domain.Event, error) {
	out := make([]domain.Event, 0)
	if limit <= 0 {
		return out, nil
	}
	for ev, err := range r.events.ReadFrom(ctx, from) {
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// ApplyReplicatedEvent applies an event committed by a peer. Business rules
// are not re-run and the event is not published again.
//
// A duplicate (version already applied) returns ErrDuplicateEvent and
// changes nothing. An event ahead of its predecessor is buffered and
// reported with ErrOutOfOrderEvent; it is applied once the gap fills. When
// the auction's buffer is full the event is dropped with ErrResyncRequired.
// A buffered event that cannot be made durable stays buffered and the
// failure is returned, so the sender re-streams it.
func (r *Registry) ApplyReplicatedEvent(ctx context.Context, ev domain.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	e := r.lookupOrReserve(ev.AuctionID)

	e.mu.Lock()
	defer e.mu.Unlock()

	current := e.auction.Version()
	switch {
	case ev.Version <= current:
		log.Debug("Replicated event dropped: duplicate", zap.String("eventID", ev.ID), zap.String("origin", ev.Origin))
		return fmt.Errorf("replicate %s: %w", ev.ID, domain.ErrDuplicateEvent)

	case ev.Version == current+1:
		delete(e.pending, ev.Version)
		if err := r.commitReplicated(ctx, e, ev); err != nil {
			return err
		}
		return r.drain(ctx, e)
	}

	if _, ok := e.pending[ev.Version]; ok {
		return fmt.Errorf("replicate %s: %w", ev.ID, domain.ErrDuplicateEvent)
	}
	if len(e.pending) >= r.maxPending {
		log.Warn("Replication buffer full",
			zap.String("auctionID", ev.AuctionID),
			zap.Int("pending", len(e.pending)),
		)
		return fmt.Errorf("replicate %s: %w", ev.ID, domain.ErrResyncRequired)
	}
	if e.pending == nil {
		e.pending = make(map[uint64]domain.Event)
	}
	e.pending[ev.Version] = ev
	log.Debug("Replicated event buffered",
		zap.String("eventID", ev.ID),
		zap.Uint64("current", current),
	)

	// a successor kept after a failed append may be ready now
	if err := r.drain(ctx, e); err != nil {
		return err
	}
	if e.auction.Version() >= ev.Version {
		return nil
	}
	return fmt.Errorf("replicate %s: %w", ev.ID, domain.ErrOutOfOrderEvent)
}

// drain applies buffered events that directly follow the current version.
// Malformed events are discarded; any other failure leaves the event
// buffered and is returned as ErrDurability. The caller holds e.mu.
func (r *Registry) drain(ctx context.Context, e *entry) error {
	for {
		next, ok := e.pending[e.auction.Version()+1]
		if !ok {
			return nil
		}
		err := r.commitReplicated(ctx, e, next)
		switch {
		case err == nil:
			delete(e.pending, next.Version)
		case errors.Is(err, domain.ErrMalformedEvent):
			delete(e.pending, next.Version)
			log.Warn("Buffered event discarded", zap.String("eventID", next.ID), zap.Error(err))
			return nil
		default:
			log.Warn("Buffered event kept for retry", zap.String("eventID", next.ID), zap.Error(err))
			if errors.Is(err, domain.ErrDurability) {
				return fmt.Errorf("drain %s: %w", next.ID, err)
			}
			return fmt.Errorf("drain %s: %w: %v", next.ID, domain.ErrDurability, err)
		}
	}
}

// Replay rebuilds state from the log without appending or publishing.
// It returns the number of events applied.
func (r *Registry) Replay(ctx context.Context) (int, error) {
	n := 0
	for ev, err := range r.events.ReadFrom(ctx, 0) {
		if err != nil {
			return n, fmt.Errorf("replay: %w", err)
		}
		e := r.lookupOrReserve(ev.AuctionID)
		e.mu.Lock()
		wasLive := e.live()
		err := e.auction.Apply(ev)
		e.mu.Unlock()
		if err != nil {
			return n, fmt.Errorf("replay %s at position %d: %w", ev.ID, ev.Position, err)
		}
		if !wasLive {
			r.markLive(ev.AuctionID, ev.Position)
		}
		n++
	}
	log.Info("Registry replayed", zap.Int("events", n), zap.Int("auctions", len(r.entries())))
	return n, nil
}

// commit appends ev, applies it to a and returns its log position. The
// caller holds the auction lock. Once Append returns, the event is applied
// whatever the state of ctx.
func (r *Registry) commit(ctx context.Context, a *domain.Auction, ev domain.Event) (int64, error) {
	pos, err := r.events.Append(ctx, ev)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return 0, err
		}
		if errors.Is(err, domain.ErrDuplicateEvent) {
			// the log already holds this id: local state and log disagree
			log.Error("Event id already in log", zap.String("eventID", ev.ID), zap.Error(err))
			return 0, fmt.Errorf("%w: %v", domain.ErrDurability, err)
		}
		log.Error("Event append failed", zap.String("eventID", ev.ID), zap.Error(err))
		if errors.Is(err, domain.ErrDurability) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: %v", domain.ErrDurability, err)
	}
	ev.Position = pos
	if err := a.Apply(ev); err != nil {
		log.Error("Committed event could not be applied", zap.String("eventID", ev.ID), zap.Error(err))
		return 0, err
	}
	return pos, nil
}

func (r *Registry) commitReplicated(ctx context.Context, e *entry, ev domain.Event) error {
	if err := e.auction.Check(ev); err != nil {
		return err
	}
	wasLive := e.live()
	pos, err := r.events.Append(ctx, ev)
	if err != nil {
		log.Error("Replicated event append failed", zap.String("eventID", ev.ID), zap.Error(err))
		if errors.Is(err, domain.ErrDurability) || errors.Is(err, domain.ErrDuplicateEvent) {
			return err
		}
		return fmt.Errorf("%w: %v", domain.ErrDurability, err)
	}
	ev.Position = pos
	if err := e.auction.Apply(ev); err != nil {
		return err
	}
	if !wasLive {
		r.markLive(ev.AuctionID, pos)
	}
	log.Debug("Replicated event applied",
		zap.String("eventID", ev.ID),
		zap.String("origin", ev.Origin),
		zap.Int64("position", pos),
	)
	return nil
}

func (r *Registry) lookup(id string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.auctions[id]
}

func (r *Registry) lookupOrReserve(id string) *entry {
	if e := r.lookup(id); e != nil {
		return e
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.auctions[id]; ok {
		return e
	}
	e := &entry{auction: &domain.Auction{ID: id}}
	r.auctions[id] = e
	return e
}

func (r *Registry) markLive(id string, position int64) {
	r.mu.Lock()
	r.insertOrder(id, position)
	r.mu.Unlock()
}

// insertOrder keeps listings in log order, which concurrent creates may
// reach out of turn. The caller holds r.mu.
func (r *Registry) insertOrder(id string, position int64) {
	i, _ := slices.BinarySearchFunc(r.order, position, func(k orderKey, pos int64) int {
		return cmp.Compare(k.position, pos)
	})
	r.order = slices.Insert(r.order, i, orderKey{position: position, id: id})
}

func (r *Registry) entries() []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entry, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.auctions[k.id])
	}
	return out
}

type nopPublisher struct{}

func (nopPublisher) Publish(domain.Event) {}
