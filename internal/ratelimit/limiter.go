// Package ratelimit enforces per-category request budgets for the exchange REST API.
//
// Each category owns a token bucket that refills continuously at its
// per-second limit and holds at most one second's worth of tokens, so a
// caller may burst up to the limit before being throttled.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Category groups REST operations that share a request budget.
type Category int

const (
	Navigation Category = iota
	Data
	Transaction
)

// ErrUnknownCategory is returned when Acquire is called with a category
// that has no bucket.
var ErrUnknownCategory = errors.New("unknown rate limit category")

func (c Category) String() string {
	switch c {
	case Navigation:
		return "navigation"
	case Data:
		return "data"
	case Transaction:
		return "transaction"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// Limits holds the per-second request limit for each category.
type Limits struct {
	Navigation  int
	Data        int
	Transaction int
}

// DefaultLimits returns the exchange's published limits.
func DefaultLimits() Limits {
	return Limits{
		Navigation:  10,
		Data:        20,
		Transaction: 5,
	}
}

// Observer is notified of the time each Acquire spent waiting.
type Observer interface {
	ObserveRateLimitWait(category string, wait time.Duration)
}

// Limiter holds one token bucket per category. Safe for concurrent use.
type Limiter struct {
	buckets  [3]*rate.Limiter
	limits   Limits
	observer Observer
}

// New creates a Limiter. Non-positive limits fall back to the defaults.
func New(limits Limits) *Limiter {
	def := DefaultLimits()
	if limits.Navigation <= 0 {
		limits.Navigation = def.Navigation
	}
	if limits.Data <= 0 {
		limits.Data = def.Data
	}
	if limits.Transaction <= 0 {
		limits.Transaction = def.Transaction
	}

	l := &Limiter{limits: limits}
	l.buckets[Navigation] = rate.NewLimiter(rate.Limit(limits.Navigation), limits.Navigation)
	l.buckets[Data] = rate.NewLimiter(rate.Limit(limits.Data), limits.Data)
	l.buckets[Transaction] = rate.NewLimiter(rate.Limit(limits.Transaction), limits.Transaction)
	return l
}

// SetObserver registers an observer for wait times. Call before use.
func (l *Limiter) SetObserver(o Observer) {
	l.observer = o
}

// Limits returns the configured limits.
func (l *Limiter) Limits() Limits {
	return l.limits
}

// Acquire blocks until a token for the category is available and consumes it.
// It only returns an error if ctx is done first or the category is unknown.
func (l *Limiter) Acquire(ctx context.Context, category Category) error {
	if category < Navigation || category > Transaction {
		return fmt.Errorf("%w: %d", ErrUnknownCategory, int(category))
	}

	start := time.Now()
	if err := l.buckets[category].Wait(ctx); err != nil {
		return fmt.Errorf("acquire %s token: %w", category, err)
	}

	if l.observer != nil {
		l.observer.ObserveRateLimitWait(category.String(), time.Since(start))
	}
	return nil
}

// TryAcquire consumes a token if one is available right now.
func (l *Limiter) TryAcquire(category Category) bool {
	if category < Navigation || category > Transaction {
		return false
	}
	return l.buckets[category].Allow()
}
