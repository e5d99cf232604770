// Package orderbook reconstructs per-selection price ladders from the
// exchange's full-image and incremental-delta market change messages.
//
// A single writer (the stream reader) applies updates while any number of
// readers take snapshots. Every apply call is one critical section, so a
// reader never sees a partially applied update.
package orderbook

import (
	"errors"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"
)

// DefaultDepth is the ladder depth for markets without an explicit depth.
const DefaultDepth = 3

// Engine owns every order book. Safe for concurrent use.
type Engine struct {
	mu           sync.RWMutex
	markets      map[string]*marketBook
	depths       map[string]int
	defaultDepth int
	logger       *slog.Logger

	now func() time.Time
}

type marketBook struct {
	depth     int
	books     map[int64]*book
	updatedAt time.Time
}

type book struct {
	ladders   [2][]PriceLevel
	seq       uint64
	updatedAt time.Time
}

// NewEngine creates an empty Engine. Depth outside 1-10 uses DefaultDepth.
func NewEngine(defaultDepth int, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultDepth < 1 || defaultDepth > 10 {
		defaultDepth = DefaultDepth
	}
	return &Engine{
		markets:      make(map[string]*marketBook),
		depths:       make(map[string]int),
		defaultDepth: defaultDepth,
		logger:       logger,
		now:          time.Now,
	}
}

// SetDepth sets the ladder capacity for a market. It applies to updates
// received after the call; existing ladders are truncated to fit.
func (e *Engine) SetDepth(marketID string, depth int) {
	if depth < 1 || depth > 10 {
		depth = e.defaultDepth
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.depths[marketID] = depth
	if mb, ok := e.markets[marketID]; ok {
		mb.depth = depth
		for _, b := range mb.books {
			for side := range b.ladders {
				if len(b.ladders[side]) > depth {
					b.ladders[side] = b.ladders[side][:depth]
				}
			}
		}
	}
}

// ApplyImage replaces one side of a selection's book wholesale, creating the
// book if needed. Books are keyed by market and selection, so the other side
// starts empty and accepts deltas from then on.
func (e *Engine) ApplyImage(marketID string, selectionID int64, side Side, levels []PriceLevel) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ladder, err := buildImage(levels, side, e.depthLocked(marketID))
	if err != nil {
		return e.reject(marketID, selectionID, side, err)
	}

	mb := e.marketLocked(marketID)
	b, ok := mb.books[selectionID]
	if !ok {
		b = &book{}
		mb.books[selectionID] = b
	}
	b.ladders[side] = ladder
	e.touch(mb, b)
	return nil
}

// ApplyDelta merges position updates into one side of an existing book. A
// delta for a selection that has not received an image on either side is
// rejected and leaves every book unchanged.
func (e *Engine) ApplyDelta(marketID string, selectionID int64, side Side, levels []PriceLevel) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	mb, ok := e.markets[marketID]
	if !ok {
		return e.reject(marketID, selectionID, side, ladderError(ReasonDeltaBeforeImage))
	}
	b, ok := mb.books[selectionID]
	if !ok {
		return e.reject(marketID, selectionID, side, ladderError(ReasonDeltaBeforeImage))
	}

	ladder, err := mergeDelta(b.ladders[side], levels, side, mb.depth)
	if err != nil {
		return e.reject(marketID, selectionID, side, err)
	}
	b.ladders[side] = ladder
	e.touch(mb, b)
	return nil
}

// ApplyChange applies one market's portion of a frame in a single critical
// section. An image change replaces the whole market. Rejected runner
// updates are dropped individually and returned joined; the rest apply.
func (e *Engine) ApplyChange(change MarketChange) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error

	if change.Image {
		mb := e.marketLocked(change.MarketID)
		mb.books = make(map[int64]*book, len(change.Runners))

		for _, rc := range change.Runners {
			bids, err := buildImage(rc.Bids, Bid, mb.depth)
			if err != nil {
				errs = append(errs, e.reject(change.MarketID, rc.SelectionID, Bid, err))
				continue
			}
			asks, err := buildImage(rc.Asks, Ask, mb.depth)
			if err != nil {
				errs = append(errs, e.reject(change.MarketID, rc.SelectionID, Ask, err))
				continue
			}
			b := &book{ladders: [2][]PriceLevel{bids, asks}}
			mb.books[rc.SelectionID] = b
			e.touch(mb, b)
		}
		return errors.Join(errs...)
	}

	mb, ok := e.markets[change.MarketID]
	for _, rc := range change.Runners {
		var b *book
		if ok {
			b = mb.books[rc.SelectionID]
		}
		if b == nil {
			errs = append(errs, e.reject(change.MarketID, rc.SelectionID, Bid, ladderError(ReasonDeltaBeforeImage)))
			continue
		}

		bids, asks := b.ladders[Bid], b.ladders[Ask]
		var err error
		if rc.Bids != nil {
			if bids, err = mergeDelta(bids, rc.Bids, Bid, mb.depth); err != nil {
				errs = append(errs, e.reject(change.MarketID, rc.SelectionID, Bid, err))
				continue
			}
		}
		if rc.Asks != nil {
			if asks, err = mergeDelta(asks, rc.Asks, Ask, mb.depth); err != nil {
				errs = append(errs, e.reject(change.MarketID, rc.SelectionID, Ask, err))
				continue
			}
		}
		b.ladders = [2][]PriceLevel{bids, asks}
		e.touch(mb, b)
	}
	return errors.Join(errs...)
}

// Snapshot returns a deep copy of every ladder in the market.
func (e *Engine) Snapshot(marketID string) (MarketSnapshot, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	mb, ok := e.markets[marketID]
	if !ok {
		return MarketSnapshot{}, false
	}

	snap := MarketSnapshot{
		MarketID:   marketID,
		Depth:      mb.depth,
		Selections: make([]SelectionBook, 0, len(mb.books)),
		TakenAt:    e.now(),
	}
	for id, b := range mb.books {
		snap.Selections = append(snap.Selections, SelectionBook{
			SelectionID:    id,
			Bids:           slices.Clone(b.ladders[Bid]),
			Asks:           slices.Clone(b.ladders[Ask]),
			UpdateSequence: b.seq,
			UpdatedAt:      b.updatedAt,
		})
	}
	sort.Slice(snap.Selections, func(i, j int) bool {
		return snap.Selections[i].SelectionID < snap.Selections[j].SelectionID
	})
	return snap, true
}

// BestBid returns position 0 of the bid ladder, if any.
func (e *Engine) BestBid(marketID string, selectionID int64) (PriceLevel, bool) {
	return e.best(marketID, selectionID, Bid)
}

// BestAsk returns position 0 of the ask ladder, if any.
func (e *Engine) BestAsk(marketID string, selectionID int64) (PriceLevel, bool) {
	return e.best(marketID, selectionID, Ask)
}

// BestBidAsk returns the best bid and ask. ok is false unless both ladders
// are non-empty.
func (e *Engine) BestBidAsk(marketID string, selectionID int64) (bid, ask PriceLevel, ok bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	b := e.bookLocked(marketID, selectionID)
	if b == nil || len(b.ladders[Bid]) == 0 || len(b.ladders[Ask]) == 0 {
		return PriceLevel{}, PriceLevel{}, false
	}
	return b.ladders[Bid][0], b.ladders[Ask][0], true
}

func (e *Engine) best(marketID string, selectionID int64, side Side) (PriceLevel, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	b := e.bookLocked(marketID, selectionID)
	if b == nil || len(b.ladders[side]) == 0 {
		return PriceLevel{}, false
	}
	return b.ladders[side][0], true
}

// Markets returns the ids of markets holding at least one book, sorted.
func (e *Engine) Markets() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ids := make([]string, 0, len(e.markets))
	for id := range e.markets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RemoveMarket destroys every book of a market and forgets its depth.
func (e *Engine) RemoveMarket(marketID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.markets, marketID)
	delete(e.depths, marketID)
}

// Reset discards every book. Configured depths are kept. The exchange
// resends an image for every market after resubscription, so until then
// deltas are rejected.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.markets = make(map[string]*marketBook)
}

// Stats returns the number of markets and selection books held.
func (e *Engine) Stats() (markets, books int) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, mb := range e.markets {
		books += len(mb.books)
	}
	return len(e.markets), books
}

func (e *Engine) marketLocked(marketID string) *marketBook {
	mb, ok := e.markets[marketID]
	if !ok {
		mb = &marketBook{depth: e.depthLocked(marketID), books: make(map[int64]*book)}
		e.markets[marketID] = mb
	}
	return mb
}

func (e *Engine) depthLocked(marketID string) int {
	if mb, ok := e.markets[marketID]; ok {
		return mb.depth
	}
	if depth, ok := e.depths[marketID]; ok {
		return depth
	}
	return e.defaultDepth
}

func (e *Engine) bookLocked(marketID string, selectionID int64) *book {
	mb, ok := e.markets[marketID]
	if !ok {
		return nil
	}
	return mb.books[selectionID]
}

func (e *Engine) touch(mb *marketBook, b *book) {
	now := e.now()
	b.seq++
	b.updatedAt = now
	mb.updatedAt = now
}

func (e *Engine) reject(marketID string, selectionID int64, side Side, cause error) error {
	err := &ViolationError{
		MarketID:    marketID,
		SelectionID: selectionID,
		Side:        side,
		Reason:      cause.Error(),
	}
	e.logger.Warn("dropping order book update",
		"market_id", marketID,
		"selection_id", selectionID,
		"side", side,
		"reason", err.Reason,
	)
	return err
}
