// Package journal batch-inserts order change events into PostgreSQL.
//
// Only order state changes are journaled. Market ticks are never written.
package journal

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/t2o2/betfair-go/internal/queue"
	"github.com/t2o2/betfair-go/internal/stream"
)

// Default writer settings.
const (
	DefaultBatchSize     = 500
	DefaultFlushInterval = time.Second
	DefaultBufferSize    = 10000
)

// rowNamespace seeds deterministic row ids so an order state resent after a
// reconnect image is not journaled twice.
var rowNamespace = uuid.MustParse("6f1c2b8e-8d0e-4c56-9a4f-3e2b7d9c1a05")

const insertOrderEvent = `
	INSERT INTO order_events (
		id, market_id, selection_id, bet_id, side, status, price, size,
		size_matched, size_remaining, size_cancelled, size_lapsed, size_voided,
		avg_price, strategy_ref, placed_at, published_at, received_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	ON CONFLICT (id) DO NOTHING
`

// Config configures a Writer.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int
}

// DefaultConfig returns default writer settings.
func DefaultConfig() Config {
	return Config{
		BatchSize:     DefaultBatchSize,
		FlushInterval: DefaultFlushInterval,
		BufferSize:    DefaultBufferSize,
	}
}

// BatchSender sends a pgx batch. *pgxpool.Pool satisfies it.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Observer is told the outcome of each flush.
type Observer interface {
	ObserveJournalFlush(rows int, err error)
}

// Stats counts writer activity.
type Stats struct {
	Received  int64
	Inserts   int64
	Conflicts int64
	Flushes   int64
	Errors    int64
}

// Writer buffers order updates and writes them in batches.
type Writer struct {
	cfg      Config
	db       BatchSender
	logger   *slog.Logger
	observer Observer

	input *queue.GrowableBuffer[stream.OrderUpdate]

	batch   []orderRow
	batchMu sync.Mutex
	stats   Stats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type orderRow struct {
	ID            uuid.UUID
	MarketID      string
	SelectionID   int64
	BetID         string
	Side          string
	Status        string
	Price         float64
	Size          float64
	SizeMatched   float64
	SizeRemaining float64
	SizeCancelled float64
	SizeLapsed    float64
	SizeVoided    float64
	AvgPrice      float64
	StrategyRef   *string
	PlacedAt      *time.Time
	PublishedAt   *time.Time
	ReceivedAt    time.Time
}

// NewWriter creates a Writer. observer may be nil.
func NewWriter(cfg Config, db BatchSender, observer Observer, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = DefaultBufferSize
	}
	return &Writer{
		cfg:      cfg,
		db:       db,
		logger:   logger,
		observer: observer,
		input:    queue.New[stream.OrderUpdate](cfg.BufferSize),
		batch:    make([]orderRow, 0, cfg.BatchSize),
	}
}

// Record queues an update for writing. It returns false once the writer
// has stopped.
func (w *Writer) Record(u stream.OrderUpdate) bool {
	return w.input.Send(u)
}

// Start begins consuming updates and flushing batches.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(2)
	go w.consumeLoop()
	go w.flushLoop()

	w.logger.Info("order journal started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop stops the loops, then writes whatever is still queued using ctx.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping order journal")

	w.input.Close()
	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("order journal stop timed out")
		return ctx.Err()
	}

	for _, u := range w.input.DrainTo(w.input.Len()) {
		w.add(u)
	}
	if err := w.flush(ctx); err != nil {
		return fmt.Errorf("final flush: %w", err)
	}

	w.logger.Info("order journal stopped")
	return nil
}

// Stats returns current counters.
func (w *Writer) Stats() Stats {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.stats
}

func (w *Writer) consumeLoop() {
	defer w.wg.Done()

	for {
		if w.ctx.Err() != nil {
			return
		}
		u, ok := w.input.ReceiveWithin(50 * time.Millisecond)
		if !ok {
			if w.input.Closed() && w.input.Len() == 0 {
				return
			}
			continue
		}
		if w.add(u) {
			w.flush(w.ctx)
		}
	}
}

func (w *Writer) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flush(w.ctx)
		}
	}
}

// add appends u to the batch and reports whether the batch is full.
func (w *Writer) add(u stream.OrderUpdate) bool {
	row := transform(u)

	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	w.stats.Received++
	w.batch = append(w.batch, row)
	return len(w.batch) >= w.cfg.BatchSize
}

func (w *Writer) flush(ctx context.Context) error {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return nil
	}
	batch := w.batch
	w.batch = make([]orderRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()
	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil && ctx.Err() != nil {
		// Cancelled mid-flush: keep the rows for the final flush in Stop.
		w.batchMu.Lock()
		w.batch = append(batch, w.batch...)
		w.batchMu.Unlock()
		return err
	}
	if err != nil {
		w.logger.Error("order journal insert failed", "error", err, "count", len(batch))
		w.observe(len(batch), err)
		w.batchMu.Lock()
		w.stats.Errors++
		w.batchMu.Unlock()
		return err
	}

	w.observe(len(batch), nil)
	w.batchMu.Lock()
	w.stats.Inserts += int64(len(batch) - conflicts)
	w.stats.Conflicts += int64(conflicts)
	w.stats.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed order events",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
	return nil
}

func (w *Writer) observe(rows int, err error) {
	if w.observer != nil {
		w.observer.ObserveJournalFlush(rows, err)
	}
}

func (w *Writer) batchInsert(ctx context.Context, rows []orderRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertOrderEvent,
			r.ID, r.MarketID, r.SelectionID, r.BetID, r.Side, r.Status, r.Price, r.Size,
			r.SizeMatched, r.SizeRemaining, r.SizeCancelled, r.SizeLapsed, r.SizeVoided,
			r.AvgPrice, r.StrategyRef, r.PlacedAt, r.PublishedAt, r.ReceivedAt,
		)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}
	return conflicts, nil
}

func transform(u stream.OrderUpdate) orderRow {
	return orderRow{
		ID:            rowID(u),
		MarketID:      u.MarketID,
		SelectionID:   u.SelectionID,
		BetID:         u.BetID,
		Side:          u.Side,
		Status:        u.Status,
		Price:         u.Price,
		Size:          u.Size,
		SizeMatched:   u.SizeMatched,
		SizeRemaining: u.SizeRemaining,
		SizeCancelled: u.SizeCancelled,
		SizeLapsed:    u.SizeLapsed,
		SizeVoided:    u.SizeVoided,
		AvgPrice:      u.AvgPriceMatched,
		StrategyRef:   optionalString(u.StrategyRef),
		PlacedAt:      optionalTime(u.PlacedAt),
		PublishedAt:   optionalTime(u.PublishedAt),
		ReceivedAt:    u.ReceivedAt,
	}
}

// rowID identifies an order state: the same bet with the same status and
// sizes always maps to the same id.
func rowID(u stream.OrderUpdate) uuid.UUID {
	key := u.BetID + "|" + u.Status +
		"|" + strconv.FormatFloat(u.SizeMatched, 'f', -1, 64) +
		"|" + strconv.FormatFloat(u.SizeRemaining, 'f', -1, 64) +
		"|" + strconv.FormatFloat(u.SizeCancelled, 'f', -1, 64) +
		"|" + strconv.FormatFloat(u.SizeLapsed, 'f', -1, 64) +
		"|" + strconv.FormatFloat(u.SizeVoided, 'f', -1, 64)
	return uuid.NewSHA1(rowNamespace, []byte(key))
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
