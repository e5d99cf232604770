package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Betfair accepts heartbeatMs between 500 and 5000.
const (
	minHeartbeat = 500 * time.Millisecond
	maxHeartbeat = 5 * time.Second
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if err := c.Credentials.validate(); err != nil {
		return err
	}

	if c.Stream.Endpoint == "" {
		return errors.New("stream.endpoint is required")
	}
	if c.Stream.Depth < 1 || c.Stream.Depth > 10 {
		return errors.New("stream.depth must be between 1 and 10")
	}
	seen := make(map[string]bool, len(c.Stream.Markets))
	for i, m := range c.Stream.Markets {
		if m.ID == "" {
			return fmt.Errorf("stream.markets[%d].id is required", i)
		}
		if seen[m.ID] {
			return fmt.Errorf("stream.markets[%d].id %q is duplicated", i, m.ID)
		}
		seen[m.ID] = true
		if m.Depth < 1 || m.Depth > 10 {
			return fmt.Errorf("stream.markets[%d].depth must be between 1 and 10", i)
		}
	}
	if c.Stream.HeartbeatInterval < minHeartbeat || c.Stream.HeartbeatInterval > maxHeartbeat {
		return fmt.Errorf("stream.heartbeat_interval must be between %s and %s, got %s",
			minHeartbeat, maxHeartbeat, c.Stream.HeartbeatInterval)
	}
	if c.Stream.HeartbeatMultiplier < 2 {
		return errors.New("stream.heartbeat_multiplier must be >= 2")
	}
	if c.Stream.MaxAuthAttempts < 1 {
		return errors.New("stream.max_auth_attempts must be >= 1")
	}
	if c.Stream.EventQueueLimit < 1 {
		return errors.New("stream.event_queue_limit must be >= 1")
	}

	if c.RateLimits.Navigation < 1 || c.RateLimits.Data < 1 || c.RateLimits.Transaction < 1 {
		return errors.New("rate_limits must be >= 1 for every category")
	}

	if c.Retry.MaxAttempts < 1 {
		return errors.New("retry.max_attempts must be >= 1")
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		return errors.New("retry.max_delay cannot be less than retry.base_delay")
	}
	if c.Reconnect.MaxDelay < c.Reconnect.BaseDelay {
		return errors.New("reconnect.max_delay cannot be less than reconnect.base_delay")
	}

	if c.Journal.Enabled {
		if err := c.Database.validate("database"); err != nil {
			return err
		}
		if c.Journal.BatchSize < 1 {
			return errors.New("journal.batch_size must be >= 1")
		}
		if c.Journal.BufferSize < 1 {
			return errors.New("journal.buffer_size must be >= 1")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.URL == "" {
			return errors.New("redis.url is required when redis is enabled")
		}
		if c.Redis.Concurrency < 1 {
			return errors.New("redis.concurrency must be >= 1")
		}
	}

	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn or error", c.Log.Level)
	}

	return nil
}

func (cr *CredentialsConfig) validate() error {
	if cr.AppKey == "" {
		return errors.New("credentials.app_key is required")
	}
	if cr.SessionToken != "" {
		return nil
	}
	if cr.Username == "" || cr.Password == "" {
		return errors.New("credentials.session_token or credentials.username and password are required")
	}
	if cr.CertFile == "" || cr.KeyFile == "" {
		return errors.New("credentials.cert_file and key_file are required for certificate login")
	}
	return nil
}

// NeedsLogin reports whether a session must be obtained by certificate login.
func (cr *CredentialsConfig) NeedsLogin() bool {
	return cr.SessionToken == ""
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
