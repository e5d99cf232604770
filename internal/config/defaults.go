package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultLoginURL            = "https://identitysso-cert.betfair.com/api/certlogin"
	DefaultKeepAliveURL        = "https://identitysso.betfair.com/api/keepAlive"
	DefaultBettingURL          = "https://api.betfair.com/exchange/betting/json-rpc/v1"
	DefaultAccountURL          = "https://api.betfair.com/exchange/account/json-rpc/v1"
	DefaultAPITimeout          = 30 * time.Second
	DefaultBookChunkSize       = 10
	DefaultBookConcurrency     = 4
	DefaultStreamEndpoint      = "tls://stream-api.betfair.com:443"
	DefaultDepth               = 3
	DefaultConnectTimeout      = 10 * time.Second
	DefaultAuthTimeout         = 10 * time.Second
	DefaultSubscribeTimeout    = 15 * time.Second
	DefaultHeartbeatInterval   = 5 * time.Second
	DefaultHeartbeatMultiplier = 3
	DefaultMaxAuthAttempts     = 3
	DefaultMalformedThreshold  = 10
	DefaultEventQueueLimit     = 10000
	DefaultNavigationRate      = 10
	DefaultDataRate            = 20
	DefaultTransactionRate     = 5
	DefaultMaxAttempts         = 3
	DefaultRetryBaseDelay      = 1 * time.Second
	DefaultRetryMaxDelay       = 30 * time.Second
	DefaultReconnectBaseDelay  = 1 * time.Second
	DefaultReconnectMaxDelay   = 60 * time.Second
	DefaultDBPort              = 5432
	DefaultDBSSLMode           = "prefer"
	DefaultMaxConns            = 10
	DefaultMinConns            = 2
	DefaultBatchSize           = 500
	DefaultFlushInterval       = 1 * time.Second
	DefaultBufferSize          = 10000
	DefaultKeyPrefix           = "orderbook:"
	DefaultSnapshotTTL         = 30 * time.Second
	DefaultPublishInterval     = 1 * time.Second
	DefaultPublishConcurrency  = 8
	DefaultHTTPPort            = 9090
	DefaultMetricsPath         = "/metrics"
	DefaultLogLevel            = "info"
)

func (c *Config) applyDefaults() {
	// Credentials
	if c.Credentials.LoginURL == "" {
		c.Credentials.LoginURL = DefaultLoginURL
	}
	if c.Credentials.KeepAliveURL == "" {
		c.Credentials.KeepAliveURL = DefaultKeepAliveURL
	}

	// API
	if c.API.BettingURL == "" {
		c.API.BettingURL = DefaultBettingURL
	}
	if c.API.AccountURL == "" {
		c.API.AccountURL = DefaultAccountURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.BookChunkSize == 0 {
		c.API.BookChunkSize = DefaultBookChunkSize
	}
	if c.API.BookConcurrency == 0 {
		c.API.BookConcurrency = DefaultBookConcurrency
	}

	// Stream
	if c.Stream.Endpoint == "" {
		c.Stream.Endpoint = DefaultStreamEndpoint
	}
	if c.Stream.Depth == 0 {
		c.Stream.Depth = DefaultDepth
	}
	for i := range c.Stream.Markets {
		if c.Stream.Markets[i].Depth == 0 {
			c.Stream.Markets[i].Depth = c.Stream.Depth
		}
	}
	if c.Stream.ConnectTimeout == 0 {
		c.Stream.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Stream.AuthTimeout == 0 {
		c.Stream.AuthTimeout = DefaultAuthTimeout
	}
	if c.Stream.SubscribeTimeout == 0 {
		c.Stream.SubscribeTimeout = DefaultSubscribeTimeout
	}
	if c.Stream.HeartbeatInterval == 0 {
		c.Stream.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Stream.HeartbeatMultiplier == 0 {
		c.Stream.HeartbeatMultiplier = DefaultHeartbeatMultiplier
	}
	if c.Stream.MaxAuthAttempts == 0 {
		c.Stream.MaxAuthAttempts = DefaultMaxAuthAttempts
	}
	if c.Stream.MalformedThreshold == 0 {
		c.Stream.MalformedThreshold = DefaultMalformedThreshold
	}
	if c.Stream.EventQueueLimit == 0 {
		c.Stream.EventQueueLimit = DefaultEventQueueLimit
	}

	// Rate limits
	if c.RateLimits.Navigation == 0 {
		c.RateLimits.Navigation = DefaultNavigationRate
	}
	if c.RateLimits.Data == 0 {
		c.RateLimits.Data = DefaultDataRate
	}
	if c.RateLimits.Transaction == 0 {
		c.RateLimits.Transaction = DefaultTransactionRate
	}

	// Retry and reconnect
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = DefaultMaxAttempts
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = DefaultRetryBaseDelay
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = DefaultRetryMaxDelay
	}
	if c.Reconnect.BaseDelay == 0 {
		c.Reconnect.BaseDelay = DefaultReconnectBaseDelay
	}
	if c.Reconnect.MaxDelay == 0 {
		c.Reconnect.MaxDelay = DefaultReconnectMaxDelay
	}

	// Journal
	applyDBDefaults(&c.Database)
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = DefaultBatchSize
	}
	if c.Journal.FlushInterval == 0 {
		c.Journal.FlushInterval = DefaultFlushInterval
	}
	if c.Journal.BufferSize == 0 {
		c.Journal.BufferSize = DefaultBufferSize
	}

	// Redis
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = DefaultKeyPrefix
	}
	if c.Redis.TTL == 0 {
		c.Redis.TTL = DefaultSnapshotTTL
	}
	if c.Redis.Interval == 0 {
		c.Redis.Interval = DefaultPublishInterval
	}
	if c.Redis.Concurrency == 0 {
		c.Redis.Concurrency = DefaultPublishConcurrency
	}

	// HTTP and logging
	if c.HTTP.Port == 0 {
		c.HTTP.Port = DefaultHTTPPort
	}
	if c.HTTP.MetricsPath == "" {
		c.HTTP.MetricsPath = DefaultMetricsPath
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
