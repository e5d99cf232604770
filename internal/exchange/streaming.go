package exchange

import (
	"context"
	"time"

	"github.com/t2o2/betfair-go/internal/orderbook"
	"github.com/t2o2/betfair-go/internal/orders"
	"github.com/t2o2/betfair-go/internal/stream"
	"github.com/t2o2/betfair-go/internal/subscription"
)

// StreamClient is the streaming-only facade.
type StreamClient struct {
	core *Core
}

// Start runs the connection until Stop, ctx cancellation or a fatal
// authentication failure. Stop and ctx cancellation return nil.
func (s *StreamClient) Start(ctx context.Context) error { return s.core.Stream.Start(ctx) }

// Stop closes the connection and the event queue.
func (s *StreamClient) Stop(ctx context.Context) error { return s.core.Stream.Stop(ctx) }

// Subscribe adds or replaces a market subscription.
func (s *StreamClient) Subscribe(sub subscription.MarketSubscription) error {
	return s.core.Stream.Subscribe(sub)
}

// SubscribeMarkets subscribes each id at depth.
func (s *StreamClient) SubscribeMarkets(depth int, marketIDs ...string) error {
	for _, id := range marketIDs {
		if err := s.core.Stream.Subscribe(subscription.MarketSubscription{MarketID: id, Depth: depth}); err != nil {
			return err
		}
	}
	return nil
}

// Unsubscribe drops a market and its books.
func (s *StreamClient) Unsubscribe(marketID string) error {
	return s.core.Stream.Unsubscribe(marketID)
}

// SubscribeOrders sets the order stream subscription.
func (s *StreamClient) SubscribeOrders(sub subscription.OrderSubscription) error {
	return s.core.Stream.SubscribeOrders(sub)
}

// State returns the connection state.
func (s *StreamClient) State() stream.ConnectionState { return s.core.Stream.State() }

// Status returns connection bookkeeping.
func (s *StreamClient) Status() stream.Status { return s.core.Stream.Status() }

// NextEvent blocks for the next event. ok is false after Stop.
func (s *StreamClient) NextEvent() (stream.Event, bool) { return s.core.Stream.NextEvent() }

// NextEventWithin waits up to d for the next event.
func (s *StreamClient) NextEventWithin(d time.Duration) (stream.Event, bool) {
	return s.core.Stream.NextEventWithin(d)
}

// TryNextEvent returns the next event without blocking.
func (s *StreamClient) TryNextEvent() (stream.Event, bool) { return s.core.Stream.TryNextEvent() }

// Snapshot returns a copy of a market's books.
func (s *StreamClient) Snapshot(marketID string) (orderbook.MarketSnapshot, bool) {
	return s.core.Engine.Snapshot(marketID)
}

// BestBidAsk returns the best prices for a selection.
func (s *StreamClient) BestBidAsk(marketID string, selectionID int64) (bid, ask orderbook.PriceLevel, ok bool) {
	return s.core.Engine.BestBidAsk(marketID, selectionID)
}

// Engine returns the shared order book engine.
func (s *StreamClient) Engine() *orderbook.Engine { return s.core.Engine }

// Orders returns the cache of unmatched orders.
func (s *StreamClient) Orders() *orders.Cache { return s.core.Orders }

// Machine returns the underlying state machine.
func (s *StreamClient) Machine() *stream.Machine { return s.core.Stream }
