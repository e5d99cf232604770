package orderbook

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lvl(pos int, price, size float64) PriceLevel {
	return PriceLevel{Position: pos, Price: price, Size: size}
}

func TestApplyImage_SnapshotReproducesLevels(t *testing.T) {
	e := NewEngine(5, nil)

	bids := []PriceLevel{lvl(2, 1.8, 30), lvl(0, 2.0, 10), lvl(1, 1.9, 20)}
	require.NoError(t, e.ApplyImage("1.111", 47972, Bid, bids))

	snap, ok := e.Snapshot("1.111")
	require.True(t, ok)
	book, ok := snap.Selection(47972)
	require.True(t, ok)

	assert.Equal(t, []PriceLevel{lvl(0, 2.0, 10), lvl(1, 1.9, 20), lvl(2, 1.8, 30)}, book.Bids)
	assert.Empty(t, book.Asks)
	assert.Equal(t, uint64(1), book.UpdateSequence)
}

func TestApplyImage_ReplacesWholesale(t *testing.T) {
	e := NewEngine(5, nil)
	require.NoError(t, e.ApplyImage("1.1", 1, Ask, []PriceLevel{lvl(0, 2.1, 5), lvl(1, 2.2, 6)}))
	require.NoError(t, e.ApplyImage("1.1", 1, Ask, []PriceLevel{lvl(0, 3.0, 1)}))

	snap, _ := e.Snapshot("1.1")
	book, _ := snap.Selection(1)
	assert.Equal(t, []PriceLevel{lvl(0, 3.0, 1)}, book.Asks)
}

func TestApplyImage_TruncatesToDepth(t *testing.T) {
	e := NewEngine(2, nil)
	require.NoError(t, e.ApplyImage("1.1", 1, Bid, []PriceLevel{lvl(0, 3, 1), lvl(1, 2, 1), lvl(2, 1, 1)}))

	snap, _ := e.Snapshot("1.1")
	book, _ := snap.Selection(1)
	assert.Len(t, book.Bids, 2)
}

func TestApplyImage_RejectsInvalidLadders(t *testing.T) {
	tests := []struct {
		name   string
		side   Side
		levels []PriceLevel
		reason string
	}{
		{"gap", Bid, []PriceLevel{lvl(0, 2, 1), lvl(2, 1.5, 1)}, ReasonGap},
		{"duplicate", Bid, []PriceLevel{lvl(0, 2, 1), lvl(0, 1.9, 1)}, ReasonDuplicate},
		{"bid ordering", Bid, []PriceLevel{lvl(0, 2, 1), lvl(1, 2.5, 1)}, ReasonOrdering},
		{"ask ordering", Ask, []PriceLevel{lvl(0, 2, 1), lvl(1, 2, 1)}, ReasonOrdering},
		{"negative", Ask, []PriceLevel{lvl(-1, 2, 1)}, ReasonNegative},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(5, nil)
			err := e.ApplyImage("1.1", 1, tt.side, tt.levels)

			var v *ViolationError
			require.True(t, errors.As(err, &v))
			assert.Equal(t, tt.reason, v.Reason)
			assert.ErrorIs(t, err, ErrProtocolViolation)

			_, ok := e.Snapshot("1.1")
			assert.False(t, ok, "rejected image must not create a market")
		})
	}
}

func TestApplyDelta_UpsertAndAppend(t *testing.T) {
	e := NewEngine(5, nil)
	require.NoError(t, e.ApplyImage("1.1", 1, Bid, []PriceLevel{lvl(0, 2.0, 10), lvl(1, 1.9, 20)}))

	require.NoError(t, e.ApplyDelta("1.1", 1, Bid, []PriceLevel{lvl(0, 2.0, 15), lvl(2, 1.8, 5)}))

	snap, _ := e.Snapshot("1.1")
	book, _ := snap.Selection(1)
	assert.Equal(t, []PriceLevel{lvl(0, 2.0, 15), lvl(1, 1.9, 20), lvl(2, 1.8, 5)}, book.Bids)
	assert.Equal(t, uint64(2), book.UpdateSequence)
}

func TestApplyDelta_ZeroSizeRemovesAndCompacts(t *testing.T) {
	e := NewEngine(5, nil)
	require.NoError(t, e.ApplyImage("1.1", 1, Ask, []PriceLevel{
		lvl(0, 2.0, 1), lvl(1, 2.1, 2), lvl(2, 2.2, 3), lvl(3, 2.3, 4),
	}))

	require.NoError(t, e.ApplyDelta("1.1", 1, Ask, []PriceLevel{lvl(1, 0, 0)}))

	snap, _ := e.Snapshot("1.1")
	book, _ := snap.Selection(1)
	assert.Equal(t, []PriceLevel{lvl(0, 2.0, 1), lvl(1, 2.2, 3), lvl(2, 2.3, 4)}, book.Asks)
}

func TestApplyDelta_BeforeImageRejectedWithoutSideEffects(t *testing.T) {
	e := NewEngine(5, nil)
	require.NoError(t, e.ApplyImage("1.111", 1, Bid, []PriceLevel{lvl(0, 2.0, 10)}))
	before, _ := e.Snapshot("1.111")

	err := e.ApplyDelta("1.111", 2, Bid, []PriceLevel{lvl(0, 3.0, 1)})
	var v *ViolationError
	require.True(t, errors.As(err, &v))
	assert.Equal(t, ReasonDeltaBeforeImage, v.Reason)

	err = e.ApplyDelta("1.222", 1, Bid, []PriceLevel{lvl(0, 3.0, 1)})
	require.ErrorIs(t, err, ErrProtocolViolation)

	after, _ := e.Snapshot("1.111")
	assert.Equal(t, before.Selections, after.Selections)
	_, ok := e.Snapshot("1.222")
	assert.False(t, ok)
}

func TestApplyDelta_GapIsViolation(t *testing.T) {
	e := NewEngine(10, nil)
	require.NoError(t, e.ApplyImage("1.1", 1, Bid, nil))

	err := e.ApplyDelta("1.1", 1, Bid, []PriceLevel{lvl(3, 1.5, 10)})

	var v *ViolationError
	require.True(t, errors.As(err, &v))
	assert.Equal(t, ReasonGap, v.Reason)
	_, ok := e.BestBid("1.1", 1)
	assert.False(t, ok)
}

func TestApplyDelta_OrderingViolationLeavesLadder(t *testing.T) {
	e := NewEngine(5, nil)
	require.NoError(t, e.ApplyImage("1.1", 1, Bid, []PriceLevel{lvl(0, 2.0, 1), lvl(1, 1.9, 1)}))

	err := e.ApplyDelta("1.1", 1, Bid, []PriceLevel{lvl(1, 2.5, 1)})
	require.ErrorIs(t, err, ErrProtocolViolation)

	snap, _ := e.Snapshot("1.1")
	book, _ := snap.Selection(1)
	assert.Equal(t, []PriceLevel{lvl(0, 2.0, 1), lvl(1, 1.9, 1)}, book.Bids)
	assert.Equal(t, uint64(1), book.UpdateSequence)
}

func TestApplyDelta_BeyondDepthTruncated(t *testing.T) {
	e := NewEngine(2, nil)
	require.NoError(t, e.ApplyImage("1.1", 1, Bid, []PriceLevel{lvl(0, 2.0, 1), lvl(1, 1.9, 1)}))

	require.NoError(t, e.ApplyDelta("1.1", 1, Bid, []PriceLevel{lvl(2, 1.8, 1), lvl(5, 1.1, 1)}))

	snap, _ := e.Snapshot("1.1")
	book, _ := snap.Selection(1)
	assert.Len(t, book.Bids, 2)
}

func TestBestBidAsk(t *testing.T) {
	e := NewEngine(3, nil)

	_, _, ok := e.BestBidAsk("1.1", 1)
	assert.False(t, ok, "unknown book")

	require.NoError(t, e.ApplyImage("1.1", 1, Bid, []PriceLevel{lvl(0, 1.99, 50), lvl(1, 1.98, 5)}))
	_, _, ok = e.BestBidAsk("1.1", 1)
	assert.False(t, ok, "empty ask ladder has no best price")

	_, ok = e.BestAsk("1.1", 1)
	assert.False(t, ok)

	require.NoError(t, e.ApplyImage("1.1", 1, Ask, []PriceLevel{lvl(0, 2.02, 7)}))
	bid, ask, ok := e.BestBidAsk("1.1", 1)
	require.True(t, ok)
	assert.Equal(t, lvl(0, 1.99, 50), bid)
	assert.Equal(t, lvl(0, 2.02, 7), ask)
}

func TestApplyChange_MarketImageReplacesRunners(t *testing.T) {
	e := NewEngine(3, nil)
	require.NoError(t, e.ApplyImage("1.1", 1, Bid, []PriceLevel{lvl(0, 2.0, 1)}))
	require.NoError(t, e.ApplyImage("1.1", 2, Bid, []PriceLevel{lvl(0, 3.0, 1)}))

	err := e.ApplyChange(MarketChange{
		MarketID: "1.1",
		Image:    true,
		Runners: []RunnerChange{
			{SelectionID: 2, Bids: []PriceLevel{lvl(0, 3.5, 2)}, Asks: []PriceLevel{lvl(0, 3.6, 4)}},
		},
	})
	require.NoError(t, err)

	snap, _ := e.Snapshot("1.1")
	require.Len(t, snap.Selections, 1)
	assert.Equal(t, int64(2), snap.Selections[0].SelectionID)
	assert.Equal(t, []PriceLevel{lvl(0, 3.6, 4)}, snap.Selections[0].Asks)
}

func TestApplyChange_DropsOnlyBadRunners(t *testing.T) {
	e := NewEngine(3, nil)
	require.NoError(t, e.ApplyChange(MarketChange{
		MarketID: "1.1",
		Image:    true,
		Runners: []RunnerChange{
			{SelectionID: 1, Bids: []PriceLevel{lvl(0, 2.0, 1)}},
		},
	}))

	err := e.ApplyChange(MarketChange{
		MarketID: "1.1",
		Runners: []RunnerChange{
			{SelectionID: 1, Bids: []PriceLevel{lvl(0, 2.0, 9)}},
			{SelectionID: 7, Bids: []PriceLevel{lvl(0, 5.0, 1)}},
		},
	})
	require.ErrorIs(t, err, ErrProtocolViolation)

	bid, ok := e.BestBid("1.1", 1)
	require.True(t, ok)
	assert.Equal(t, 9.0, bid.Size)

	snap, _ := e.Snapshot("1.1")
	_, ok = snap.Selection(7)
	assert.False(t, ok)
}

func TestApplyChange_DeltaAtomicAcrossSides(t *testing.T) {
	e := NewEngine(3, nil)
	require.NoError(t, e.ApplyChange(MarketChange{
		MarketID: "1.1",
		Image:    true,
		Runners: []RunnerChange{
			{SelectionID: 1, Bids: []PriceLevel{lvl(0, 2.0, 1)}, Asks: []PriceLevel{lvl(0, 2.1, 1)}},
		},
	}))

	// Valid bid update, invalid ask update: neither side may change.
	err := e.ApplyChange(MarketChange{
		MarketID: "1.1",
		Runners: []RunnerChange{
			{SelectionID: 1, Bids: []PriceLevel{lvl(0, 2.0, 50)}, Asks: []PriceLevel{lvl(2, 2.3, 1)}},
		},
	})
	require.Error(t, err)

	bid, _ := e.BestBid("1.1", 1)
	assert.Equal(t, 1.0, bid.Size)
}

func TestSnapshot_IsIndependentCopy(t *testing.T) {
	e := NewEngine(3, nil)
	require.NoError(t, e.ApplyImage("1.1", 1, Bid, []PriceLevel{lvl(0, 2.0, 1)}))

	snap, _ := e.Snapshot("1.1")
	snap.Selections[0].Bids[0].Size = 1000

	require.NoError(t, e.ApplyDelta("1.1", 1, Bid, []PriceLevel{lvl(0, 2.0, 3)}))
	assert.Equal(t, 1000.0, snap.Selections[0].Bids[0].Size)

	bid, _ := e.BestBid("1.1", 1)
	assert.Equal(t, 3.0, bid.Size)
}

func TestReset_ForcesNewImage(t *testing.T) {
	e := NewEngine(3, nil)
	e.SetDepth("1.1", 2)
	require.NoError(t, e.ApplyImage("1.1", 1, Bid, []PriceLevel{lvl(0, 2.0, 1)}))

	e.Reset()

	assert.Empty(t, e.Markets())
	require.ErrorIs(t, e.ApplyDelta("1.1", 1, Bid, []PriceLevel{lvl(0, 2.0, 2)}), ErrProtocolViolation)

	require.NoError(t, e.ApplyImage("1.1", 1, Bid, []PriceLevel{lvl(0, 3, 1), lvl(1, 2, 1), lvl(2, 1, 1)}))
	snap, _ := e.Snapshot("1.1")
	assert.Equal(t, 2, snap.Depth, "depth survives reset")
	assert.Len(t, snap.Selections[0].Bids, 2)
}

func TestRemoveMarket(t *testing.T) {
	e := NewEngine(3, nil)
	require.NoError(t, e.ApplyImage("1.1", 1, Bid, []PriceLevel{lvl(0, 2.0, 1)}))
	require.NoError(t, e.ApplyImage("1.2", 1, Bid, []PriceLevel{lvl(0, 2.0, 1)}))

	e.RemoveMarket("1.1")

	assert.Equal(t, []string{"1.2"}, e.Markets())
	markets, books := e.Stats()
	assert.Equal(t, 1, markets)
	assert.Equal(t, 1, books)
}

func TestSetDepth_TruncatesExisting(t *testing.T) {
	e := NewEngine(5, nil)
	require.NoError(t, e.ApplyImage("1.1", 1, Ask, []PriceLevel{lvl(0, 2, 1), lvl(1, 3, 1), lvl(2, 4, 1)}))

	e.SetDepth("1.1", 1)

	snap, _ := e.Snapshot("1.1")
	assert.Equal(t, []PriceLevel{lvl(0, 2, 1)}, snap.Selections[0].Asks)
}

func TestEngine_ConcurrentReadersSeeConsistentLadders(t *testing.T) {
	e := NewEngine(3, nil)
	require.NoError(t, e.ApplyImage("1.1", 1, Bid, []PriceLevel{lvl(0, 3, 1), lvl(1, 2, 1), lvl(2, 1, 1)}))

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			if i%2 == 0 {
				_ = e.ApplyDelta("1.1", 1, Bid, []PriceLevel{lvl(0, 0, 0)})
			} else {
				_ = e.ApplyImage("1.1", 1, Bid, []PriceLevel{lvl(0, 3, 1), lvl(1, 2, 1), lvl(2, 1, 1)})
			}
		}
		close(stop)
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap, ok := e.Snapshot("1.1")
				if !ok {
					continue
				}
				for _, b := range snap.Selections {
					assert.True(t, validLadder(b.Bids, Bid, 3))
				}
			}
		}()
	}
	wg.Wait()
}

func TestApplyDelta_OtherSideAfterOneSidedImage(t *testing.T) {
	e := NewEngine(5, nil)
	require.NoError(t, e.ApplyImage("1.1", 1, Bid, []PriceLevel{lvl(0, 2.0, 10)}))

	require.NoError(t, e.ApplyDelta("1.1", 1, Ask, []PriceLevel{lvl(0, 2.1, 4)}))

	bid, ask, ok := e.BestBidAsk("1.1", 1)
	require.True(t, ok)
	assert.Equal(t, 2.0, bid.Price)
	assert.Equal(t, 2.1, ask.Price)
}
