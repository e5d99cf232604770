package api

import (
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/t2o2/betfair-go/internal/retry"
)

// Default endpoints.
const (
	DefaultBettingURL = "https://api.betfair.com/exchange/betting/json-rpc/v1"
	DefaultAccountURL = "https://api.betfair.com/exchange/account/json-rpc/v1"

	DefaultTimeout         = 30 * time.Second
	DefaultBookChunkSize   = 10
	DefaultBookConcurrency = 4
)

// Credentials supplies the app key and session token for each request.
type Credentials interface {
	Credentials() (appKey, token string, err error)
}

// Client provides access to the exchange REST API.
type Client struct {
	bettingURL string
	accountURL string
	creds      Credentials
	httpClient *http.Client
	logger     *slog.Logger
	policy     *retry.Policy

	chunkSize   int
	concurrency int

	nextID atomic.Int64
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a REST client. policy rate-limits and retries every
// call; nil uses retry defaults without rate limiting.
func NewClient(creds Credentials, policy *retry.Policy, opts ...ClientOption) *Client {
	c := &Client{
		bettingURL: DefaultBettingURL,
		accountURL: DefaultAccountURL,
		creds:      creds,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger:      slog.Default(),
		policy:      policy,
		chunkSize:   DefaultBookChunkSize,
		concurrency: DefaultBookConcurrency,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.policy == nil {
		c.policy = retry.New(retry.DefaultConfig(), nil, c.logger)
	}
	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithEndpoints overrides the betting and account endpoints.
func WithEndpoints(betting, account string) ClientOption {
	return func(c *Client) {
		if betting != "" {
			c.bettingURL = betting
		}
		if account != "" {
			c.accountURL = account
		}
	}
}

// WithBookChunking sets how ListMarketBookChunked splits and parallelises
// requests.
func WithBookChunking(size, concurrency int) ClientOption {
	return func(c *Client) {
		if size > 0 {
			c.chunkSize = size
		}
		if concurrency > 0 {
			c.concurrency = concurrency
		}
	}
}
