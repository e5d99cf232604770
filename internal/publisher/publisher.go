// Package publisher periodically copies order book snapshots to an external
// cache so other processes can read them without a stream connection.
package publisher

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/t2o2/betfair-go/internal/orderbook"
)

// Source provides the books to publish. *orderbook.Engine satisfies it.
type Source interface {
	Markets() []string
	Snapshot(marketID string) (orderbook.MarketSnapshot, bool)
}

// Sink stores one market snapshot.
type Sink interface {
	Publish(ctx context.Context, snap orderbook.MarketSnapshot) error
}

// Observer is told the outcome of each cycle.
type Observer interface {
	ObservePublish(published, failed int, took time.Duration)
}

// Config holds publisher configuration.
type Config struct {
	Interval    time.Duration // time between cycles (default: 1s)
	Concurrency int           // max concurrent sink writes (default: 8)
	Timeout     time.Duration // per-write timeout (default: 2s)
	// Refresh republishes unchanged markets after this long so cache
	// entries do not expire. 0 disables.
	Refresh time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    time.Second,
		Concurrency: 8,
		Timeout:     2 * time.Second,
		Refresh:     15 * time.Second,
	}
}

// Publisher pushes changed snapshots to a Sink on a fixed interval.
type Publisher struct {
	cfg      Config
	source   Source
	sink     Sink
	observer Observer
	logger   *slog.Logger

	mu   sync.Mutex
	last map[string]published

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type published struct {
	version version
	at      time.Time
}

// version identifies a market's book contents without comparing ladders.
type version struct {
	selections int
	updatedAt  time.Time
}

func versionOf(snap orderbook.MarketSnapshot) version {
	v := version{selections: len(snap.Selections)}
	for _, s := range snap.Selections {
		if s.UpdatedAt.After(v.updatedAt) {
			v.updatedAt = s.UpdatedAt
		}
	}
	return v
}

// New creates a Publisher. observer may be nil.
func New(cfg Config, source Source, sink Sink, observer Observer, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Publisher{
		cfg:      cfg,
		source:   source,
		sink:     sink,
		observer: observer,
		logger:   logger,
		last:     make(map[string]published),
	}
}

// Start begins the publish loop.
func (p *Publisher) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("snapshot publisher started",
		"interval", p.cfg.Interval,
		"concurrency", p.cfg.Concurrency,
	)
	return nil
}

// Stop shuts down the publisher.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("snapshot publisher stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Publisher) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.PublishAll(p.ctx)
		}
	}
}

// PublishAll runs one cycle: every market whose book changed since its last
// publish, or whose last publish is older than Refresh, is written to the
// sink. It returns the number published and failed.
func (p *Publisher) PublishAll(ctx context.Context) (int, int) {
	start := time.Now()

	markets := p.source.Markets()
	p.forget(markets)
	if len(markets) == 0 {
		return 0, 0
	}

	sem := make(chan struct{}, p.cfg.Concurrency)
	var wg sync.WaitGroup
	var sent, failed atomic.Int64

	for _, id := range markets {
		snap, ok := p.source.Snapshot(id)
		if !ok || !p.due(id, snap, start) {
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			if err := p.publish(ctx, snap, start); err != nil {
				p.logger.Warn("failed to publish snapshot",
					"market_id", snap.MarketID,
					"error", err,
				)
				failed.Add(1)
				return
			}
			sent.Add(1)
		}()
	}

	wg.Wait()

	n, f := int(sent.Load()), int(failed.Load())
	if p.observer != nil {
		p.observer.ObservePublish(n, f, time.Since(start))
	}
	if n > 0 || f > 0 {
		p.logger.Debug("publish cycle complete",
			"markets", len(markets),
			"published", n,
			"failed", f,
			"duration", time.Since(start),
		)
	}
	return n, f
}

func (p *Publisher) publish(ctx context.Context, snap orderbook.MarketSnapshot, now time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	if err := p.sink.Publish(ctx, snap); err != nil {
		return err
	}

	p.mu.Lock()
	p.last[snap.MarketID] = published{version: versionOf(snap), at: now}
	p.mu.Unlock()
	return nil
}

func (p *Publisher) due(marketID string, snap orderbook.MarketSnapshot, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	last, ok := p.last[marketID]
	if !ok || last.version != versionOf(snap) {
		return true
	}
	return p.cfg.Refresh > 0 && now.Sub(last.at) >= p.cfg.Refresh
}

// forget drops bookkeeping for markets no longer held.
func (p *Publisher) forget(current []string) {
	keep := make(map[string]bool, len(current))
	for _, id := range current {
		keep[id] = true
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for id := range p.last {
		if !keep[id] {
			delete(p.last, id)
		}
	}
}
