package stream

import (
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrNotConnected      = errors.New("stream not connected")
	ErrAlreadyStarted    = errors.New("stream already started")
	ErrStopped           = errors.New("stream stopped")
	ErrAuthFailed        = errors.New("stream authentication failed")
	ErrHeartbeatTimeout  = errors.New("no frame within heartbeat timeout")
	ErrAuthTimeout       = errors.New("no authentication response")
	ErrTooManyMalformed  = errors.New("too many malformed frames")
	ErrTransportClosed   = errors.New("transport closed")
	ErrUnsupportedScheme = errors.New("unsupported stream endpoint scheme")
)

// ConnectionState is the lifecycle state of the streaming connection.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateAuthenticating
	StateSubscribing
	StateStreaming
	StateReconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateSubscribing:
		return "subscribing"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// TransportError is a dial, read or write failure. It is always retried.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("stream %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsRetryable reports true; transport failures trigger a reconnect.
func (e *TransportError) IsRetryable() bool { return true }

// StatusError is a FAILURE status frame from the exchange.
type StatusError struct {
	ID               int64
	Code             string
	Message          string
	ConnectionClosed bool
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("stream status %s", e.Code)
	}
	return fmt.Sprintf("stream status %s: %s", e.Code, e.Message)
}

// AuthError means the exchange refused the session or app key.
type AuthError struct {
	Code    string
	Message string
}

func (e *AuthError) Error() string {
	if e.Message == "" {
		return "stream auth rejected: " + e.Code
	}
	return fmt.Sprintf("stream auth rejected: %s: %s", e.Code, e.Message)
}

// IsRetryable reports false; a refused session needs new credentials.
func (e *AuthError) IsRetryable() bool { return false }

// ProtocolError is an escalated protocol failure that forces a reconnect.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err == nil {
		return "stream protocol: " + e.Reason
	}
	return fmt.Sprintf("stream protocol: %s: %v", e.Reason, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// EventKind identifies an Event.
type EventKind int

const (
	EventStateChanged EventKind = iota + 1
	EventMarketChanged
	EventOrderChanged
	EventSubscriptionFailed
	EventAuthFailed
)

func (k EventKind) String() string {
	switch k {
	case EventStateChanged:
		return "state_changed"
	case EventMarketChanged:
		return "market_changed"
	case EventOrderChanged:
		return "order_changed"
	case EventSubscriptionFailed:
		return "subscription_failed"
	case EventAuthFailed:
		return "auth_failed"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is delivered in order through Machine.NextEvent.
type Event struct {
	Kind EventKind
	At   time.Time

	// EventStateChanged
	State    ConnectionState
	Previous ConnectionState

	// EventMarketChanged and EventSubscriptionFailed
	MarketIDs []string

	// EventOrderChanged
	Order *OrderUpdate

	// EventSubscriptionFailed and EventAuthFailed
	Err error
}

// Status is a point-in-time view of the connection.
type Status struct {
	State           ConnectionState
	ConnectionID    string
	Attempt         int
	Reconnects      int64
	ConnectedAt     time.Time
	LastFrameAt     time.Time
	MalformedFrames int64
	Violations      int64
	DroppedEvents   int64
	Subscriptions   int
}

// Config configures a Machine.
type Config struct {
	// Endpoint is tls://host:port, tcp://host:port, ws://... or wss://...
	Endpoint string

	ConnectTimeout   time.Duration
	AuthTimeout      time.Duration
	SubscribeTimeout time.Duration
	WriteTimeout     time.Duration

	// HeartbeatInterval is requested from the exchange and used for client
	// heartbeats. The connection is considered dead after
	// HeartbeatInterval * HeartbeatMultiplier without a frame.
	HeartbeatInterval   time.Duration
	HeartbeatMultiplier int
	ConflateInterval    time.Duration

	MaxAuthAttempts    int
	MalformedThreshold int

	// EmitMarketEvents publishes EventMarketChanged per applied frame.
	EmitMarketEvents bool

	// EventQueueLimit caps events waiting for NextEvent. When full the
	// oldest event is discarded.
	EventQueueLimit int

	EventBufferSize int
	ReadBufferSize  int
}

// Defaults
const (
	DefaultEndpoint            = "tls://stream-api.betfair.com:443"
	DefaultConnectTimeout      = 10 * time.Second
	DefaultAuthTimeout         = 10 * time.Second
	DefaultSubscribeTimeout    = 15 * time.Second
	DefaultWriteTimeout        = 5 * time.Second
	DefaultHeartbeatInterval   = 5 * time.Second
	DefaultHeartbeatMultiplier = 3
	DefaultMaxAuthAttempts     = 3
	DefaultMalformedThreshold  = 10
	DefaultEventQueueLimit     = 10000
	DefaultEventBufferSize     = 1024
	DefaultReadBufferSize      = 1 << 20
)

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Endpoint:            DefaultEndpoint,
		ConnectTimeout:      DefaultConnectTimeout,
		AuthTimeout:         DefaultAuthTimeout,
		SubscribeTimeout:    DefaultSubscribeTimeout,
		WriteTimeout:        DefaultWriteTimeout,
		HeartbeatInterval:   DefaultHeartbeatInterval,
		HeartbeatMultiplier: DefaultHeartbeatMultiplier,
		MaxAuthAttempts:     DefaultMaxAuthAttempts,
		MalformedThreshold:  DefaultMalformedThreshold,
		EventQueueLimit:     DefaultEventQueueLimit,
		EventBufferSize:     DefaultEventBufferSize,
		ReadBufferSize:      DefaultReadBufferSize,
	}
}

// withDefaults fills zero fields.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Endpoint == "" {
		c.Endpoint = d.Endpoint
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = d.AuthTimeout
	}
	if c.SubscribeTimeout <= 0 {
		c.SubscribeTimeout = d.SubscribeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.HeartbeatMultiplier <= 0 {
		c.HeartbeatMultiplier = d.HeartbeatMultiplier
	}
	if c.MaxAuthAttempts <= 0 {
		c.MaxAuthAttempts = d.MaxAuthAttempts
	}
	if c.MalformedThreshold <= 0 {
		c.MalformedThreshold = d.MalformedThreshold
	}
	if c.EventQueueLimit <= 0 {
		c.EventQueueLimit = d.EventQueueLimit
	}
	if c.EventBufferSize <= 0 {
		c.EventBufferSize = d.EventBufferSize
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	return c
}
