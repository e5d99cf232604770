// Package exchange assembles the shared client core and the two facades
// built on it: a REST-only client and a streaming-only client. Both
// facades of one Core share the same rate limiter, retry policy, order
// book engine and session.
package exchange

import (
	"log/slog"
	"net/http"

	"github.com/t2o2/betfair-go/internal/api"
	"github.com/t2o2/betfair-go/internal/auth"
	"github.com/t2o2/betfair-go/internal/metrics"
	"github.com/t2o2/betfair-go/internal/orderbook"
	"github.com/t2o2/betfair-go/internal/orders"
	"github.com/t2o2/betfair-go/internal/ratelimit"
	"github.com/t2o2/betfair-go/internal/retry"
	"github.com/t2o2/betfair-go/internal/stream"
	"github.com/t2o2/betfair-go/internal/subscription"
)

// Options configures a Core. Zero values use each package's defaults.
type Options struct {
	Limits       ratelimit.Limits
	Retry        retry.Config
	Reconnect    retry.Config
	Stream       stream.Config
	DefaultDepth int

	BettingURL      string
	AccountURL      string
	HTTPClient      *http.Client
	BookChunkSize   int
	BookConcurrency int

	// Dialer replaces the stream's scheme-based dialer.
	Dialer stream.Dialer

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Core owns every shared component.
type Core struct {
	Session   *auth.Session
	Limiter   *ratelimit.Limiter
	Policy    *retry.Policy
	Reconnect *retry.Policy
	Engine    *orderbook.Engine
	Subs      *subscription.Manager
	Orders    *orders.Cache
	API       *api.Client
	Stream    *stream.Machine

	logger *slog.Logger
}

// NewCore builds the shared components around session.
func NewCore(session *auth.Session, opts Options) *Core {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	retryCfg := opts.Retry
	if retryCfg == (retry.Config{}) {
		retryCfg = retry.DefaultConfig()
	}
	reconnectCfg := opts.Reconnect
	if reconnectCfg == (retry.Config{}) {
		reconnectCfg = retry.DefaultConfig()
	}

	c := &Core{
		Session: session,
		Limiter: ratelimit.New(opts.Limits),
		Engine:  orderbook.NewEngine(opts.DefaultDepth, logger.With("component", "orderbook")),
		Subs:    subscription.NewManager(),
		Orders:  orders.NewCache(),
		logger:  logger,
	}
	c.Policy = retry.New(retryCfg, c.Limiter, logger.With("component", "retry"))
	// Reconnect backoff never consumes REST tokens.
	c.Reconnect = retry.New(reconnectCfg, nil, logger.With("component", "reconnect"))

	if opts.Metrics != nil {
		c.Limiter.SetObserver(opts.Metrics)
		c.Policy.SetObserver(opts.Metrics)
	}

	apiOpts := []api.ClientOption{api.WithLogger(logger.With("component", "api"))}
	if opts.HTTPClient != nil {
		apiOpts = append(apiOpts, api.WithHTTPClient(opts.HTTPClient))
	}
	if opts.BettingURL != "" || opts.AccountURL != "" {
		apiOpts = append(apiOpts, api.WithEndpoints(opts.BettingURL, opts.AccountURL))
	}
	if opts.BookChunkSize > 0 || opts.BookConcurrency > 0 {
		apiOpts = append(apiOpts, api.WithBookChunking(opts.BookChunkSize, opts.BookConcurrency))
	}
	c.API = api.NewClient(session, c.Policy, apiOpts...)

	streamOpts := []stream.Option{
		stream.WithLogger(logger),
		stream.WithOrderStore(c.Orders),
	}
	if opts.Dialer != nil {
		streamOpts = append(streamOpts, stream.WithDialer(opts.Dialer))
	}
	if opts.Metrics != nil {
		streamOpts = append(streamOpts, stream.WithObserver(opts.Metrics))
	}
	c.Stream = stream.New(opts.Stream, session, c.Engine, c.Subs, c.Reconnect, streamOpts...)

	return c
}

// REST returns the REST-only facade over this core.
func (c *Core) REST() *RESTClient {
	return &RESTClient{core: c}
}

// Streaming returns the streaming-only facade over this core.
func (c *Core) Streaming() *StreamClient {
	return &StreamClient{core: c}
}

// NewREST builds a core and returns only its REST facade.
func NewREST(session *auth.Session, opts Options) *RESTClient {
	return NewCore(session, opts).REST()
}

// NewStreaming builds a core and returns only its streaming facade.
func NewStreaming(session *auth.Session, opts Options) *StreamClient {
	return NewCore(session, opts).Streaming()
}
