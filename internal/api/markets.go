package api

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/t2o2/betfair-go/internal/ratelimit"
)

// Betting API methods.
const (
	methodListEventTypes      = "SportsAPING/v1.0/listEventTypes"
	methodListEvents          = "SportsAPING/v1.0/listEvents"
	methodListCompetitions    = "SportsAPING/v1.0/listCompetitions"
	methodListMarketCatalogue = "SportsAPING/v1.0/listMarketCatalogue"
	methodListMarketBook      = "SportsAPING/v1.0/listMarketBook"
	methodListCurrentOrders   = "SportsAPING/v1.0/listCurrentOrders"
	methodPlaceOrders         = "SportsAPING/v1.0/placeOrders"
	methodCancelOrders        = "SportsAPING/v1.0/cancelOrders"
)

// DefaultMaxResults caps listMarketCatalogue when MaxResults is unset.
const DefaultMaxResults = 100

// ListEventTypes returns the sports matching filter.
func (c *Client) ListEventTypes(ctx context.Context, filter MarketFilter) ([]EventTypeResult, error) {
	var resp []EventTypeResult
	if err := c.call(ctx, ratelimit.Navigation, c.bettingURL, methodListEventTypes, filterParams{Filter: filter}, &resp); err != nil {
		return nil, fmt.Errorf("list event types: %w", err)
	}
	return resp, nil
}

// ListEvents returns the events matching filter.
func (c *Client) ListEvents(ctx context.Context, filter MarketFilter) ([]EventResult, error) {
	var resp []EventResult
	if err := c.call(ctx, ratelimit.Navigation, c.bettingURL, methodListEvents, filterParams{Filter: filter}, &resp); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return resp, nil
}

// ListCompetitions returns the competitions matching filter.
func (c *Client) ListCompetitions(ctx context.Context, filter MarketFilter) ([]CompetitionResult, error) {
	var resp []CompetitionResult
	if err := c.call(ctx, ratelimit.Navigation, c.bettingURL, methodListCompetitions, filterParams{Filter: filter}, &resp); err != nil {
		return nil, fmt.Errorf("list competitions: %w", err)
	}
	return resp, nil
}

// ListMarketCatalogue returns market descriptions.
func (c *Client) ListMarketCatalogue(ctx context.Context, req MarketCatalogueRequest) ([]MarketCatalogue, error) {
	if req.MaxResults <= 0 {
		req.MaxResults = DefaultMaxResults
	}

	var resp []MarketCatalogue
	if err := c.call(ctx, ratelimit.Navigation, c.bettingURL, methodListMarketCatalogue, req, &resp); err != nil {
		return nil, fmt.Errorf("list market catalogue: %w", err)
	}
	return resp, nil
}

// ListRunners returns the catalogue, with runner descriptions, of one market.
func (c *Client) ListRunners(ctx context.Context, marketID string) (*MarketCatalogue, error) {
	resp, err := c.ListMarketCatalogue(ctx, MarketCatalogueRequest{
		Filter:           MarketFilter{MarketIDs: []string{marketID}},
		MarketProjection: []string{ProjectionRunnerDescription},
		MaxResults:       1,
	})
	if err != nil {
		return nil, err
	}
	if len(resp) == 0 {
		return nil, fmt.Errorf("market %s: %w", marketID, ErrMarketNotFound)
	}
	return &resp[0], nil
}

// ListMarketBook returns dynamic market state.
func (c *Client) ListMarketBook(ctx context.Context, req MarketBookRequest) ([]MarketBook, error) {
	var resp []MarketBook
	if err := c.call(ctx, ratelimit.Data, c.bettingURL, methodListMarketBook, req, &resp); err != nil {
		return nil, fmt.Errorf("list market book: %w", err)
	}
	return resp, nil
}

// BestOffers returns best-offer books with the given ladder depth.
func (c *Client) BestOffers(ctx context.Context, marketIDs []string, depth int) ([]MarketBook, error) {
	return c.ListMarketBookChunked(ctx, MarketBookRequest{
		MarketIDs: marketIDs,
		PriceProjection: &PriceProjection{
			PriceData:             []string{PriceDataBestOffers},
			ExBestOffersOverrides: &ExBestOffersOverrides{BestPricesDepth: depth},
		},
	})
}

// ListMarketBookChunked splits req.MarketIDs into chunks, fetches them
// concurrently and returns the books in request order.
func (c *Client) ListMarketBookChunked(ctx context.Context, req MarketBookRequest) ([]MarketBook, error) {
	ids := req.MarketIDs
	if len(ids) <= c.chunkSize {
		return c.ListMarketBook(ctx, req)
	}

	chunks := make([][]MarketBook, (len(ids)+c.chunkSize-1)/c.chunkSize)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for i := range chunks {
		start := i * c.chunkSize
		end := min(start+c.chunkSize, len(ids))

		chunkReq := req
		chunkReq.MarketIDs = ids[start:end]

		g.Go(func() error {
			books, err := c.ListMarketBook(gctx, chunkReq)
			if err != nil {
				return err
			}
			chunks[i] = books
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []MarketBook
	for _, books := range chunks {
		out = append(out, books...)
	}
	return out, nil
}
