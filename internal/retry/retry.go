// Package retry wraps exchange operations in bounded exponential backoff.
//
// Every attempt first acquires a token from the shared rate limiter, so a
// retried call is throttled exactly like a fresh one.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"time"

	"github.com/t2o2/betfair-go/internal/ratelimit"
)

// Default policy values.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 1 * time.Second
	DefaultMaxDelay    = 30 * time.Second
)

// ErrRateLimited marks a server-side rate limit rejection. It is retryable.
var ErrRateLimited = errors.New("rate limited by server")

// Retryable is implemented by errors that know whether they are worth retrying.
type Retryable interface {
	IsRetryable() bool
}

// Config configures a Policy.
type Config struct {
	MaxAttempts int           // total invocations, including the first
	BaseDelay   time.Duration // delay before the second attempt, doubled each time
	MaxDelay    time.Duration // cap on a single delay, 0 = uncapped
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
	}
}

// Acquirer hands out rate limit tokens.
type Acquirer interface {
	Acquire(ctx context.Context, category ratelimit.Category) error
}

// Observer is notified of each attempt outcome.
type Observer interface {
	ObserveAttempt(category string, outcome string)
}

// Policy executes operations with rate limiting and retries.
type Policy struct {
	cfg      Config
	limiter  Acquirer
	logger   *slog.Logger
	observer Observer

	// jitter returns a value in [0, n). Replaced in tests.
	jitter func(n int64) int64
	// sleep waits for d or until ctx is done.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Policy. A nil limiter disables token acquisition.
func New(cfg Config, limiter Acquirer, logger *slog.Logger) *Policy {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	return &Policy{
		cfg:     cfg,
		limiter: limiter,
		logger:  logger,
		jitter:  rand.Int64N,
		sleep:   sleepCtx,
	}
}

// SetObserver registers an attempt observer. Call before use.
func (p *Policy) SetObserver(o Observer) {
	p.observer = o
}

// Config returns the policy configuration.
func (p *Policy) Config() Config {
	return p.cfg
}

// Execute runs op under the rate limit for category, retrying retryable
// failures. The last error is returned once attempts are exhausted.
func (p *Policy) Execute(ctx context.Context, category ratelimit.Category, op func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < p.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := p.Backoff(attempt - 1)
			p.logger.Debug("retrying operation",
				"category", category,
				"attempt", attempt+1,
				"delay", delay,
				"error", lastErr,
			)
			if err := p.sleep(ctx, delay); err != nil {
				return fmt.Errorf("retry wait: %w (last error: %v)", err, lastErr)
			}
		}

		if p.limiter != nil {
			if err := p.limiter.Acquire(ctx, category); err != nil {
				return err
			}
		}

		err := op(ctx)
		if err == nil {
			p.observe(category, "success")
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			p.observe(category, "permanent")
			return err
		}
		p.observe(category, "retryable")
	}

	return fmt.Errorf("after %d attempts: %w", p.cfg.MaxAttempts, lastErr)
}

// Backoff returns the delay after the given zero-based failed attempt:
// BaseDelay * 2^attempt plus jitter in [0, BaseDelay), capped at MaxDelay.
func (p *Policy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}

	delay := p.cfg.BaseDelay << attempt
	if p.cfg.MaxDelay > 0 && (delay > p.cfg.MaxDelay || delay <= 0) {
		delay = p.cfg.MaxDelay
	}
	delay += time.Duration(p.jitter(int64(p.cfg.BaseDelay)))
	return delay
}

// Do is Execute for operations that return a value.
func Do[T any](ctx context.Context, p *Policy, category ratelimit.Category, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := p.Execute(ctx, category, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

// IsRetryable classifies err. Network errors, server rate limits and errors
// reporting IsRetryable() == true are retryable. Context errors never are.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}

	var r Retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

func (p *Policy) observe(category ratelimit.Category, outcome string) {
	if p.observer != nil {
		p.observer.ObserveAttempt(category.String(), outcome)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
