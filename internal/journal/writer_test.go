package journal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/t2o2/betfair-go/internal/stream"
)

// fakeSender records queued batches. Rows whose id was already seen report
// zero rows affected, like ON CONFLICT DO NOTHING.
type fakeSender struct {
	mu      sync.Mutex
	seen    map[any]bool
	batches [][]*pgx.QueuedQuery
	err     error
}

func newFakeSender() *fakeSender {
	return &fakeSender{seen: make(map[any]bool)}
}

func (f *fakeSender) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.batches = append(f.batches, b.QueuedQueries)
	res := &fakeResults{err: f.err}
	for _, q := range b.QueuedQueries {
		id := q.Arguments[0]
		res.affected = append(res.affected, !f.seen[id])
		if f.err == nil {
			f.seen[id] = true
		}
	}
	return res
}

func (f *fakeSender) rows() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

type fakeResults struct {
	affected []bool
	err      error
}

func (r *fakeResults) Exec() (pgconn.CommandTag, error) {
	if r.err != nil {
		return pgconn.CommandTag{}, r.err
	}
	ok := r.affected[0]
	r.affected = r.affected[1:]
	if ok {
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	}
	return pgconn.NewCommandTag("INSERT 0 0"), nil
}

func (r *fakeResults) Query() (pgx.Rows, error) { return nil, errors.New("not supported") }
func (r *fakeResults) QueryRow() pgx.Row        { return nil }
func (r *fakeResults) Close() error             { return nil }

type flushRecorder struct {
	mu     sync.Mutex
	rows   int
	errors int
}

func (f *flushRecorder) ObserveJournalFlush(rows int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		f.errors++
		return
	}
	f.rows += rows
}

func order(betID, status string, matched float64) stream.OrderUpdate {
	return stream.OrderUpdate{
		MarketID:      "1.234",
		SelectionID:   101,
		BetID:         betID,
		Side:          "B",
		Status:        status,
		Price:         2.5,
		Size:          10,
		SizeMatched:   matched,
		SizeRemaining: 10 - matched,
		ReceivedAt:    time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
	}
}

func TestTransform(t *testing.T) {
	u := order("b-1", "E", 4)
	u.StrategyRef = "alpha"
	u.AvgPriceMatched = 2.48

	row := transform(u)

	if row.MarketID != "1.234" || row.SelectionID != 101 || row.BetID != "b-1" {
		t.Errorf("identity = %s/%d/%s", row.MarketID, row.SelectionID, row.BetID)
	}
	if row.SizeMatched != 4 || row.SizeRemaining != 6 {
		t.Errorf("sizes = %v/%v, want 4/6", row.SizeMatched, row.SizeRemaining)
	}
	if row.AvgPrice != 2.48 {
		t.Errorf("AvgPrice = %v, want 2.48", row.AvgPrice)
	}
	if row.StrategyRef == nil || *row.StrategyRef != "alpha" {
		t.Errorf("StrategyRef = %v, want alpha", row.StrategyRef)
	}
	if row.PlacedAt != nil {
		t.Errorf("PlacedAt = %v, want nil for zero time", row.PlacedAt)
	}
	if row.PublishedAt != nil {
		t.Errorf("PublishedAt = %v, want nil for zero time", row.PublishedAt)
	}
}

func TestRowID(t *testing.T) {
	a := rowID(order("b-1", "E", 4))
	if b := rowID(order("b-1", "E", 4)); a != b {
		t.Errorf("same state produced ids %s and %s", a, b)
	}
	if c := rowID(order("b-1", "E", 5)); a == c {
		t.Error("different matched size produced the same id")
	}
	if d := rowID(order("b-1", "EC", 4)); a == d {
		t.Error("different status produced the same id")
	}
}

func TestWriter_FlushOnBatchSize(t *testing.T) {
	db := newFakeSender()
	obs := &flushRecorder{}
	w := NewWriter(Config{BatchSize: 2, FlushInterval: time.Hour}, db, obs, nil)

	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	w.Record(order("b-1", "E", 0))
	w.Record(order("b-2", "E", 0))

	deadline := time.Now().Add(2 * time.Second)
	for db.rows() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := db.rows(); got != 2 {
		t.Fatalf("rows sent = %d, want 2", got)
	}

	if err := w.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	stats := w.Stats()
	if stats.Inserts != 2 || stats.Flushes != 1 {
		t.Errorf("Stats = %+v, want 2 inserts in 1 flush", stats)
	}
	if obs.rows != 2 {
		t.Errorf("observed rows = %d, want 2", obs.rows)
	}
}

func TestWriter_FlushOnInterval(t *testing.T) {
	db := newFakeSender()
	w := NewWriter(Config{BatchSize: 100, FlushInterval: 20 * time.Millisecond}, db, nil, nil)

	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop(ctx)

	w.Record(order("b-1", "E", 0))

	deadline := time.Now().Add(2 * time.Second)
	for db.rows() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := db.rows(); got != 1 {
		t.Errorf("rows sent = %d, want 1", got)
	}
}

func TestWriter_StopFlushesRemaining(t *testing.T) {
	db := newFakeSender()
	w := NewWriter(Config{BatchSize: 100, FlushInterval: time.Hour}, db, nil, nil)

	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for _, id := range []string{"b-1", "b-2", "b-3"} {
		w.Record(order(id, "E", 0))
	}

	if err := w.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := db.rows(); got != 3 {
		t.Errorf("rows sent = %d, want 3", got)
	}
	if w.Record(order("b-4", "E", 0)) {
		t.Error("Record() after Stop = true, want false")
	}
}

func TestWriter_DuplicateStateCountsConflict(t *testing.T) {
	db := newFakeSender()
	w := NewWriter(Config{BatchSize: 100, FlushInterval: time.Hour}, db, nil, nil)

	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	w.Record(order("b-1", "E", 3))
	w.Record(order("b-1", "E", 3))
	if err := w.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	stats := w.Stats()
	if stats.Inserts != 1 || stats.Conflicts != 1 {
		t.Errorf("Stats = %+v, want 1 insert and 1 conflict", stats)
	}
}

func TestWriter_InsertError(t *testing.T) {
	db := newFakeSender()
	db.err = errors.New("connection reset")
	obs := &flushRecorder{}
	w := NewWriter(Config{BatchSize: 100, FlushInterval: time.Hour}, db, obs, nil)

	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	w.Record(order("b-1", "E", 0))

	if err := w.Stop(ctx); err == nil {
		t.Error("Stop() expected final flush error")
	}
	if got := w.Stats().Errors; got != 1 {
		t.Errorf("Errors = %d, want 1", got)
	}
	if obs.errors != 1 {
		t.Errorf("observed errors = %d, want 1", obs.errors)
	}
}
