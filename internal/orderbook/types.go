package orderbook

import (
	"errors"
	"fmt"
	"time"
)

// Side identifies one side of a selection's book.
type Side int8

const (
	// Bid is the available-to-back ladder (batb), best price highest.
	Bid Side = iota
	// Ask is the available-to-lay ladder (batl), best price lowest.
	Ask
)

func (s Side) String() string {
	switch s {
	case Bid:
		return "bid"
	case Ask:
		return "ask"
	default:
		return fmt.Sprintf("side(%d)", int(s))
	}
}

// PriceLevel is one rung of a ladder. Position 0 is the best price.
type PriceLevel struct {
	Position int     `json:"position"`
	Price    float64 `json:"price"`
	Size     float64 `json:"size"`
}

// SelectionBook is a read-only copy of one selection's ladders.
type SelectionBook struct {
	SelectionID    int64        `json:"selection_id"`
	Bids           []PriceLevel `json:"bids"`
	Asks           []PriceLevel `json:"asks"`
	UpdateSequence uint64       `json:"update_sequence"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// Ladder returns the ladder for side.
func (b SelectionBook) Ladder(side Side) []PriceLevel {
	if side == Ask {
		return b.Asks
	}
	return b.Bids
}

// MarketSnapshot is an immutable copy of every ladder in a market. It shares
// no memory with the engine and may be handed to any goroutine.
type MarketSnapshot struct {
	MarketID   string          `json:"market_id"`
	Depth      int             `json:"depth"`
	Selections []SelectionBook `json:"selections"` // sorted by selection id
	TakenAt    time.Time       `json:"taken_at"`
}

// Selection returns the book for selectionID.
func (s MarketSnapshot) Selection(selectionID int64) (SelectionBook, bool) {
	for _, b := range s.Selections {
		if b.SelectionID == selectionID {
			return b, true
		}
	}
	return SelectionBook{}, false
}

// RunnerChange carries one selection's ladder updates from a market change
// frame. A nil side means the frame did not mention it.
type RunnerChange struct {
	SelectionID int64
	Bids        []PriceLevel
	Asks        []PriceLevel
}

// MarketChange is one market's portion of a stream frame.
type MarketChange struct {
	MarketID string
	Image    bool // replace the whole market
	Runners  []RunnerChange
}

// ErrProtocolViolation is the root of every rejected update.
var ErrProtocolViolation = errors.New("order book protocol violation")

// ViolationError describes an update the engine refused to apply.
type ViolationError struct {
	MarketID    string
	SelectionID int64
	Side        Side
	Reason      string
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("order book violation market=%s selection=%d side=%s: %s",
		e.MarketID, e.SelectionID, e.Side, e.Reason)
}

func (e *ViolationError) Unwrap() error {
	return ErrProtocolViolation
}

// Reason values reported by ViolationError.
const (
	ReasonDeltaBeforeImage = "delta before image"
	ReasonGap              = "position gap"
	ReasonDuplicate        = "duplicate position"
	ReasonNegative         = "negative position"
	ReasonOrdering         = "price ordering"
	ReasonUnknownMarket    = "unknown market"
)
