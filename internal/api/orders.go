package api

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/t2o2/betfair-go/internal/ratelimit"
)

// Errors
var (
	ErrMarketNotFound = errors.New("market not found")
	ErrNoInstructions = errors.New("no instructions")
	ErrOrderRejected  = errors.New("order rejected")
)

// NewCustomerRef returns a unique 32-character reference. The exchange
// de-duplicates placeOrders calls that reuse one, so a retried request
// cannot place twice.
func NewCustomerRef() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// PlaceOrders places orders on one market. A customer reference is
// generated when unset.
func (c *Client) PlaceOrders(ctx context.Context, req PlaceOrdersRequest) (*PlaceExecutionReport, error) {
	if len(req.Instructions) == 0 {
		return nil, ErrNoInstructions
	}
	if req.CustomerRef == "" {
		req.CustomerRef = NewCustomerRef()
	}

	var resp PlaceExecutionReport
	if err := c.call(ctx, ratelimit.Transaction, c.bettingURL, methodPlaceOrders, req, &resp); err != nil {
		return nil, fmt.Errorf("place orders on %s: %w", req.MarketID, err)
	}
	if resp.Status != StatusSuccess {
		return &resp, fmt.Errorf("place orders on %s: %w: %s", req.MarketID, ErrOrderRejected, resp.ErrorCode)
	}
	return &resp, nil
}

// PlaceLimitOrder places a single limit order.
func (c *Client) PlaceLimitOrder(ctx context.Context, marketID string, selectionID int64, side string, price, size Amount, persistence string) (*PlaceInstructionReport, error) {
	if persistence == "" {
		persistence = PersistenceLapse
	}

	report, err := c.PlaceOrders(ctx, PlaceOrdersRequest{
		MarketID: marketID,
		Instructions: []PlaceInstruction{{
			OrderType:   OrderTypeLimit,
			SelectionID: selectionID,
			Side:        side,
			LimitOrder: &LimitOrder{
				Size:            size,
				Price:           price,
				PersistenceType: persistence,
			},
		}},
	})
	if report != nil && len(report.InstructionReports) > 0 {
		return &report.InstructionReports[0], err
	}
	return nil, err
}

// CancelOrders cancels orders. An empty request cancels everything.
func (c *Client) CancelOrders(ctx context.Context, req CancelOrdersRequest) (*CancelExecutionReport, error) {
	var resp CancelExecutionReport
	if err := c.call(ctx, ratelimit.Transaction, c.bettingURL, methodCancelOrders, req, &resp); err != nil {
		return nil, fmt.Errorf("cancel orders: %w", err)
	}
	if resp.Status != StatusSuccess {
		return &resp, fmt.Errorf("cancel orders: %w: %s", ErrOrderRejected, resp.ErrorCode)
	}
	return &resp, nil
}

// CancelBet cancels the remaining size of one bet.
func (c *Client) CancelBet(ctx context.Context, marketID, betID string) (*CancelExecutionReport, error) {
	return c.CancelOrders(ctx, CancelOrdersRequest{
		MarketID:     marketID,
		Instructions: []CancelInstruction{{BetID: betID}},
	})
}

// ListCurrentOrders returns one page of current orders.
func (c *Client) ListCurrentOrders(ctx context.Context, req CurrentOrdersRequest) (*CurrentOrderSummaryReport, error) {
	var resp CurrentOrderSummaryReport
	if err := c.call(ctx, ratelimit.Data, c.bettingURL, methodListCurrentOrders, req, &resp); err != nil {
		return nil, fmt.Errorf("list current orders: %w", err)
	}
	return &resp, nil
}

// ListAllCurrentOrders pages through every current order.
func (c *Client) ListAllCurrentOrders(ctx context.Context, req CurrentOrdersRequest) ([]CurrentOrderSummary, error) {
	var all []CurrentOrderSummary
	for {
		page, err := c.ListCurrentOrders(ctx, req)
		if err != nil {
			return nil, err
		}
		all = append(all, page.CurrentOrders...)

		if !page.MoreAvailable || len(page.CurrentOrders) == 0 {
			return all, nil
		}
		req.FromRecord += len(page.CurrentOrders)
	}
}
