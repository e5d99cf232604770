// Package api is the exchange JSON-RPC client.
//
// Endpoints:
//   - Betting: https://api.betfair.com/exchange/betting/json-rpc/v1
//   - Account: https://api.betfair.com/exchange/account/json-rpc/v1
//
// Every call acquires a token from its rate-limit category and is retried
// through a retry.Policy. Navigation calls browse the catalogue, data
// calls read prices, orders and funds, transaction calls place and cancel
// orders.
package api
