// Package orders keeps the account's live orders from the order stream.
package orders

import (
	"sort"
	"sync"

	"github.com/t2o2/betfair-go/internal/stream"
)

// Cache holds executable orders by market, selection and bet id. Orders
// that reach execution complete are removed.
type Cache struct {
	mu      sync.RWMutex
	markets map[string]map[int64]map[string]stream.OrderUpdate
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{markets: make(map[string]map[int64]map[string]stream.OrderUpdate)}
}

// ResetMarket forgets every order in the market.
func (c *Cache) ResetMarket(marketID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.markets, marketID)
}

// Apply records u, or removes the order when it is complete.
func (c *Cache) Apply(u stream.OrderUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if u.Complete() {
		c.removeLocked(u.MarketID, u.SelectionID, u.BetID)
		return
	}

	selections, ok := c.markets[u.MarketID]
	if !ok {
		selections = make(map[int64]map[string]stream.OrderUpdate)
		c.markets[u.MarketID] = selections
	}
	bets, ok := selections[u.SelectionID]
	if !ok {
		bets = make(map[string]stream.OrderUpdate)
		selections[u.SelectionID] = bets
	}
	bets[u.BetID] = u
}

func (c *Cache) removeLocked(marketID string, selectionID int64, betID string) {
	selections, ok := c.markets[marketID]
	if !ok {
		return
	}
	bets, ok := selections[selectionID]
	if !ok {
		return
	}
	delete(bets, betID)
	if len(bets) == 0 {
		delete(selections, selectionID)
	}
	if len(selections) == 0 {
		delete(c.markets, marketID)
	}
}

// Get returns a single order.
func (c *Cache) Get(marketID string, selectionID int64, betID string) (stream.OrderUpdate, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	u, ok := c.markets[marketID][selectionID][betID]
	return u, ok
}

// Market returns the market's open orders sorted by selection then bet id.
func (c *Cache) Market(marketID string) []stream.OrderUpdate {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []stream.OrderUpdate
	for _, bets := range c.markets[marketID] {
		for _, u := range bets {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SelectionID != out[j].SelectionID {
			return out[i].SelectionID < out[j].SelectionID
		}
		return out[i].BetID < out[j].BetID
	})
	return out
}

// Exposure is the unmatched size on each side of a selection.
type Exposure struct {
	Back float64
	Lay  float64
}

// Unmatched sums remaining size per side for a selection.
func (c *Cache) Unmatched(marketID string, selectionID int64) Exposure {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var e Exposure
	for _, u := range c.markets[marketID][selectionID] {
		switch u.Side {
		case "B":
			e.Back += u.SizeRemaining
		case "L":
			e.Lay += u.SizeRemaining
		}
	}
	return e
}

// Len returns the number of open orders.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, selections := range c.markets {
		for _, bets := range selections {
			n += len(bets)
		}
	}
	return n
}
