package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Credentials CredentialsConfig `yaml:"credentials"`
	API         APIConfig         `yaml:"api"`
	Stream      StreamConfig      `yaml:"stream"`
	RateLimits  RateLimitConfig   `yaml:"rate_limits"`
	Retry       RetryConfig       `yaml:"retry"`
	Reconnect   ReconnectConfig   `yaml:"reconnect"`
	Database    DBConfig          `yaml:"database"`
	Journal     JournalConfig     `yaml:"journal"`
	Redis       RedisConfig       `yaml:"redis"`
	HTTP        HTTPConfig        `yaml:"http"`
	Log         LogConfig         `yaml:"log"`
}

// CredentialsConfig holds the application key and either a session token
// or the details needed for certificate login.
type CredentialsConfig struct {
	AppKey       string `yaml:"app_key"`
	SessionToken string `yaml:"session_token"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	CertFile     string `yaml:"cert_file"` // PEM client certificate for login
	KeyFile      string `yaml:"key_file"`
	LoginURL     string `yaml:"login_url"`
	KeepAliveURL string `yaml:"keep_alive_url"`
}

// APIConfig holds JSON-RPC REST settings.
type APIConfig struct {
	BettingURL      string        `yaml:"betting_url"`
	AccountURL      string        `yaml:"account_url"`
	Timeout         time.Duration `yaml:"timeout"`
	BookChunkSize   int           `yaml:"book_chunk_size"`
	BookConcurrency int           `yaml:"book_concurrency"`
}

// StreamConfig holds streaming connection settings and the markets to
// subscribe at startup.
type StreamConfig struct {
	Endpoint            string         `yaml:"endpoint"`
	Depth               int            `yaml:"depth"`
	Markets             []MarketConfig `yaml:"markets"`
	Orders              bool           `yaml:"orders"`
	ConnectTimeout      time.Duration  `yaml:"connect_timeout"`
	AuthTimeout         time.Duration  `yaml:"auth_timeout"`
	SubscribeTimeout    time.Duration  `yaml:"subscribe_timeout"`
	HeartbeatInterval   time.Duration  `yaml:"heartbeat_interval"`
	HeartbeatMultiplier int            `yaml:"heartbeat_multiplier"`
	ConflateInterval    time.Duration  `yaml:"conflate_interval"`
	MaxAuthAttempts     int            `yaml:"max_auth_attempts"`
	MalformedThreshold  int            `yaml:"malformed_threshold"`
	EventQueueLimit     int            `yaml:"event_queue_limit"`
}

// MarketConfig is one startup market subscription. Depth 0 uses
// stream.depth; an empty runner list keeps every selection.
type MarketConfig struct {
	ID      string  `yaml:"id"`
	Depth   int     `yaml:"depth"`
	Runners []int64 `yaml:"runners"`
}

// RateLimitConfig holds per-category requests per second.
type RateLimitConfig struct {
	Navigation  int `yaml:"navigation"`
	Data        int `yaml:"data"`
	Transaction int `yaml:"transaction"`
}

// RetryConfig holds REST retry settings.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// ReconnectConfig holds the stream reconnect backoff.
type ReconnectConfig struct {
	BaseDelay time.Duration `yaml:"base_delay"`
	MaxDelay  time.Duration `yaml:"max_delay"`
}

// DBConfig holds the journal database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// JournalConfig holds order journal batching settings.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// RedisConfig holds snapshot publisher settings.
type RedisConfig struct {
	Enabled     bool          `yaml:"enabled"`
	URL         string        `yaml:"url"`
	KeyPrefix   string        `yaml:"key_prefix"`
	TTL         time.Duration `yaml:"ttl"`
	Interval    time.Duration `yaml:"interval"`
	Concurrency int           `yaml:"concurrency"`
}

// HTTPConfig holds the health, snapshot and metrics server settings.
type HTTPConfig struct {
	Port        int    `yaml:"port"`
	MetricsPath string `yaml:"metrics_path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// SlogLevel maps Level to a slog.Level. Unknown values are info.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// secrets are read from BETFAIR_* variables and override the file.
type secrets struct {
	AppKey       string `env:"APP_KEY"`
	SessionToken string `env:"SESSION_TOKEN"`
	Username     string `env:"USERNAME"`
	Password     string `env:"PASSWORD"`
	DBPassword   string `env:"DB_PASSWORD"`
	RedisURL     string `env:"REDIS_URL"`
}

// Load reads a YAML config file, expands ${VAR} references and applies
// the BETFAIR_* environment overlay.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadWithDefaults loads config and applies default values.
func LoadWithDefaults(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadAndValidate loads config, applies defaults, and validates.
func LoadAndValidate(path string) (*Config, error) {
	cfg, err := LoadWithDefaults(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var s secrets
	if err := env.ParseWithOptions(&s, env.Options{Prefix: "BETFAIR_"}); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}

	overlay := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	overlay(&c.Credentials.AppKey, s.AppKey)
	overlay(&c.Credentials.SessionToken, s.SessionToken)
	overlay(&c.Credentials.Username, s.Username)
	overlay(&c.Credentials.Password, s.Password)
	overlay(&c.Database.Password, s.DBPassword)
	overlay(&c.Redis.URL, s.RedisURL)
	return nil
}
