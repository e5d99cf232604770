package exchange

import (
	"context"
	"fmt"

	"github.com/t2o2/betfair-go/internal/api"
	"github.com/t2o2/betfair-go/internal/orderbook"
	"github.com/t2o2/betfair-go/internal/ratelimit"
)

// RESTClient is the REST-only facade. Every call goes through the core's
// rate limiter and retry policy.
type RESTClient struct {
	core *Core
}

// API returns the underlying JSON-RPC client.
func (r *RESTClient) API() *api.Client { return r.core.API }

// Limiter returns the shared rate limiter.
func (r *RESTClient) Limiter() *ratelimit.Limiter { return r.core.Limiter }

// Engine returns the shared order book engine.
func (r *RESTClient) Engine() *orderbook.Engine { return r.core.Engine }

// ListMarketCatalogue lists markets matching req.
func (r *RESTClient) ListMarketCatalogue(ctx context.Context, req api.MarketCatalogueRequest) ([]api.MarketCatalogue, error) {
	return r.core.API.ListMarketCatalogue(ctx, req)
}

// ListMarketBook fetches market books, chunking large id lists.
func (r *RESTClient) ListMarketBook(ctx context.Context, req api.MarketBookRequest) ([]api.MarketBook, error) {
	return r.core.API.ListMarketBookChunked(ctx, req)
}

// PlaceOrders places orders on one market.
func (r *RESTClient) PlaceOrders(ctx context.Context, req api.PlaceOrdersRequest) (*api.PlaceExecutionReport, error) {
	return r.core.API.PlaceOrders(ctx, req)
}

// CancelOrders cancels orders on one market.
func (r *RESTClient) CancelOrders(ctx context.Context, req api.CancelOrdersRequest) (*api.CancelExecutionReport, error) {
	return r.core.API.CancelOrders(ctx, req)
}

// ListCurrentOrders returns every current order matching req.
func (r *RESTClient) ListCurrentOrders(ctx context.Context, req api.CurrentOrdersRequest) ([]api.CurrentOrderSummary, error) {
	return r.core.API.ListAllCurrentOrders(ctx, req)
}

// GetAccountFunds returns the wallet balance.
func (r *RESTClient) GetAccountFunds(ctx context.Context) (*api.AccountFunds, error) {
	return r.core.API.GetAccountFunds(ctx)
}

// RefreshBooks fetches best offers for marketIDs and loads them into the
// shared engine as images truncated to depth. Markets with a stream
// subscription are skipped so REST data never overwrites stream state.
// It returns the ids loaded.
func (r *RESTClient) RefreshBooks(ctx context.Context, marketIDs []string, depth int) ([]string, error) {
	ids := make([]string, 0, len(marketIDs))
	for _, id := range marketIDs {
		if _, streaming := r.core.Subs.Get(id); !streaming {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	books, err := r.core.API.BestOffers(ctx, ids, depth)
	if err != nil {
		return nil, fmt.Errorf("fetch best offers: %w", err)
	}

	loaded := make([]string, 0, len(books))
	for _, b := range books {
		r.core.Engine.SetDepth(b.MarketID, depth)
		if err := r.core.Engine.ApplyChange(api.RunnerChanges(b, depth)); err != nil {
			r.core.logger.Warn("rest book rejected", "market_id", b.MarketID, "error", err)
			continue
		}
		loaded = append(loaded, b.MarketID)
	}
	return loaded, nil
}
