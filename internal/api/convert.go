package api

import (
	"github.com/t2o2/betfair-go/internal/orderbook"
)

// Ladder converts REST price levels into engine levels, best first, keeping
// at most depth levels. Zero-size levels are skipped.
func Ladder(levels []PriceSize, depth int) []orderbook.PriceLevel {
	out := make([]orderbook.PriceLevel, 0, min(len(levels), max(depth, 0)))
	for _, ps := range levels {
		if len(out) >= depth {
			break
		}
		size := ps.Size.InexactFloat64()
		if size <= 0 {
			continue
		}
		out = append(out, orderbook.PriceLevel{
			Position: len(out),
			Price:    ps.Price.InexactFloat64(),
			Size:     size,
		})
	}
	return out
}

// RunnerChanges converts a REST market book into an image change, usable
// to seed an engine before the stream delivers its own image.
func RunnerChanges(book MarketBook, depth int) orderbook.MarketChange {
	change := orderbook.MarketChange{
		MarketID: book.MarketID,
		Image:    true,
		Runners:  make([]orderbook.RunnerChange, 0, len(book.Runners)),
	}
	for _, r := range book.Runners {
		rc := orderbook.RunnerChange{
			SelectionID: r.SelectionID,
			Bids:        []orderbook.PriceLevel{},
			Asks:        []orderbook.PriceLevel{},
		}
		if r.Ex != nil {
			rc.Bids = Ladder(r.Ex.AvailableToBack, depth)
			rc.Asks = Ladder(r.Ex.AvailableToLay, depth)
		}
		change.Runners = append(change.Runners, rc)
	}
	return change
}
