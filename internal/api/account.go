package api

import (
	"context"
	"fmt"

	"github.com/t2o2/betfair-go/internal/ratelimit"
)

// Account API methods.
const (
	methodGetAccountFunds   = "AccountAPING/v1.0/getAccountFunds"
	methodGetAccountDetails = "AccountAPING/v1.0/getAccountDetails"
)

type walletParams struct {
	Wallet string `json:"wallet,omitempty"`
}

// GetAccountFunds returns the balance of the main wallet.
func (c *Client) GetAccountFunds(ctx context.Context) (*AccountFunds, error) {
	var resp AccountFunds
	if err := c.call(ctx, ratelimit.Data, c.accountURL, methodGetAccountFunds, walletParams{}, &resp); err != nil {
		return nil, fmt.Errorf("get account funds: %w", err)
	}
	return &resp, nil
}

// GetAccountDetails returns account holder details.
func (c *Client) GetAccountDetails(ctx context.Context) (*AccountDetails, error) {
	var resp AccountDetails
	if err := c.call(ctx, ratelimit.Data, c.accountURL, methodGetAccountDetails, struct{}{}, &resp); err != nil {
		return nil, fmt.Errorf("get account details: %w", err)
	}
	return &resp, nil
}
