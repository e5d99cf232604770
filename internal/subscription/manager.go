// Package subscription tracks the set of market and order subscriptions a
// streaming connection should hold. It is the single source of truth replayed
// after every reconnect and performs no network I/O.
package subscription

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Depth bounds for market ladders.
const (
	MinDepth = 1
	MaxDepth = 10
)

// ErrInvalidSubscription is returned by Add for a malformed subscription.
var ErrInvalidSubscription = errors.New("invalid subscription")

// MarketSubscription is the desired state for one market.
type MarketSubscription struct {
	MarketID  string
	Depth     int     // ladder levels per side, 1-10
	RunnerIDs []int64 // selections to maintain, empty = all
}

// WantsRunner reports whether the subscription covers selectionID.
func (s MarketSubscription) WantsRunner(selectionID int64) bool {
	return len(s.RunnerIDs) == 0 || slices.Contains(s.RunnerIDs, selectionID)
}

// Validate checks the subscription fields.
func (s MarketSubscription) Validate() error {
	if s.MarketID == "" {
		return fmt.Errorf("%w: market id is required", ErrInvalidSubscription)
	}
	if s.Depth < MinDepth || s.Depth > MaxDepth {
		return fmt.Errorf("%w: depth %d for %s must be between %d and %d",
			ErrInvalidSubscription, s.Depth, s.MarketID, MinDepth, MaxDepth)
	}
	return nil
}

// OrderSubscription is the desired order-stream state.
type OrderSubscription struct {
	Enabled      bool
	StrategyRefs []string // customer strategy refs to filter on, empty = all
}

// Manager holds the desired subscriptions. Safe for concurrent use; its lock
// is independent of any order book lock.
type Manager struct {
	mu      sync.RWMutex
	markets map[string]MarketSubscription
	order   []string // market ids in first-added order
	orders  OrderSubscription

	changedAt time.Time
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{
		markets: make(map[string]MarketSubscription),
	}
}

// Add inserts or replaces the subscription for sub.MarketID. Replacing keeps
// the market's original position in DesiredState. It reports whether the
// market was newly added.
func (m *Manager) Add(sub MarketSubscription) (bool, error) {
	if err := sub.Validate(); err != nil {
		return false, err
	}
	sub.RunnerIDs = slices.Clone(sub.RunnerIDs)

	m.mu.Lock()
	defer m.mu.Unlock()

	_, exists := m.markets[sub.MarketID]
	m.markets[sub.MarketID] = sub
	if !exists {
		m.order = append(m.order, sub.MarketID)
	}
	m.changedAt = time.Now()
	return !exists, nil
}

// Remove drops the subscription for marketID. It reports whether one existed.
func (m *Manager) Remove(marketID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.markets[marketID]; !ok {
		return false
	}
	delete(m.markets, marketID)
	m.order = slices.DeleteFunc(m.order, func(id string) bool { return id == marketID })
	m.changedAt = time.Now()
	return true
}

// Get returns the subscription for marketID.
func (m *Manager) Get(marketID string) (MarketSubscription, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sub, ok := m.markets[marketID]
	if !ok {
		return MarketSubscription{}, false
	}
	sub.RunnerIDs = slices.Clone(sub.RunnerIDs)
	return sub, true
}

// DesiredState returns a copy of every market subscription in the order the
// markets were first added.
func (m *Manager) DesiredState() []MarketSubscription {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]MarketSubscription, 0, len(m.order))
	for _, id := range m.order {
		sub := m.markets[id]
		sub.RunnerIDs = slices.Clone(sub.RunnerIDs)
		result = append(result, sub)
	}
	return result
}

// MarketIDs returns the subscribed market ids in DesiredState order.
func (m *Manager) MarketIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.order)
}

// Len returns the number of market subscriptions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.markets)
}

// SetOrders replaces the order-stream subscription.
func (m *Manager) SetOrders(sub OrderSubscription) {
	sub.StrategyRefs = slices.Clone(sub.StrategyRefs)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders = sub
	m.changedAt = time.Now()
}

// Orders returns the order-stream subscription.
func (m *Manager) Orders() OrderSubscription {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sub := m.orders
	sub.StrategyRefs = slices.Clone(sub.StrategyRefs)
	return sub
}

// ChangedAt returns when the desired state last changed.
func (m *Manager) ChangedAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.changedAt
}
