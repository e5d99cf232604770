package stream

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t2o2/betfair-go/internal/orderbook"
	"github.com/t2o2/betfair-go/internal/subscription"
)

func TestDecodeFrame_MarketChange(t *testing.T) {
	raw := `{"op":"mcm","id":2,"clk":"AAA","pt":1700000000000,"ct":"SUB_IMAGE","heartbeatMs":5000,` +
		`"mc":[{"id":"1.111","img":true,"rc":[{"id":47972,"batb":[[0,2.5,100],[1,2.48,50]],"batl":[[0,2.52,80]]}]}]}`

	msg, err := decodeFrame([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, opMarketChange, msg.Op)
	assert.Equal(t, changeSubImage, msg.ChangeType)
	assert.Equal(t, int64(5000), msg.HeartbeatMs)

	changes, err := msg.marketChanges()
	require.NoError(t, err)
	require.Len(t, changes, 1)

	ch := changes[0]
	assert.Equal(t, "1.111", ch.MarketID)
	assert.True(t, ch.Image)
	require.Len(t, ch.Runners, 1)
	assert.Equal(t, int64(47972), ch.Runners[0].SelectionID)
	assert.Equal(t, []orderbook.PriceLevel{
		{Position: 0, Price: 2.5, Size: 100},
		{Position: 1, Price: 2.48, Size: 50},
	}, ch.Runners[0].Bids)
	assert.Equal(t, []orderbook.PriceLevel{{Position: 0, Price: 2.52, Size: 80}}, ch.Runners[0].Asks)
}

func TestDecodeFrame_AbsentSideStaysNil(t *testing.T) {
	msg, err := decodeFrame([]byte(`{"op":"mcm","mc":[{"id":"1.1","rc":[{"id":1,"batb":[[0,3,0]]}]}]}`))
	require.NoError(t, err)

	changes, err := msg.marketChanges()
	require.NoError(t, err)
	assert.NotNil(t, changes[0].Runners[0].Bids)
	assert.Nil(t, changes[0].Runners[0].Asks)
}

func TestDecodeFrame_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{"op":`},
		{"missing op", `{"id":1}`},
		{"wrong type", `{"op":"mcm","mc":"nope"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeFrame([]byte(tt.raw))
			assert.Error(t, err)
		})
	}
}

func TestMarketChanges_BadLevel(t *testing.T) {
	msg, err := decodeFrame([]byte(`{"op":"mcm","mc":[{"id":"1.1","rc":[{"id":1,"batl":[[0,3]]}]}]}`))
	require.NoError(t, err)

	_, err = msg.marketChanges()
	assert.Error(t, err)
}

func TestOrderUpdates(t *testing.T) {
	raw := `{"op":"ocm","pt":1700000000000,"oc":[{"id":"1.111","fullImage":true,"orc":[{"id":47972,"uo":[` +
		`{"id":"228302937743","p":3.5,"s":10,"side":"B","status":"E","pt":"L","ot":"L","pd":1699999990000,"sm":4,"sr":6,"avp":3.5,"md":1699999995000,"rfs":"strat-1"},` +
		`{"id":"228302937744","p":4,"s":2,"side":"L","status":"EC","pt":"L","ot":"L","pd":1699999990000,"sc":2}` +
		`]}]}]}`

	msg, err := decodeFrame([]byte(raw))
	require.NoError(t, err)

	received := time.Now()
	updates := msg.orderUpdates(received)
	require.Len(t, updates, 2)

	u := updates[0]
	assert.Equal(t, "1.111", u.MarketID)
	assert.Equal(t, int64(47972), u.SelectionID)
	assert.Equal(t, "228302937743", u.BetID)
	assert.Equal(t, "B", u.Side)
	assert.Equal(t, 3.5, u.Price)
	assert.Equal(t, 4.0, u.SizeMatched)
	assert.Equal(t, 6.0, u.SizeRemaining)
	assert.Equal(t, "strat-1", u.StrategyRef)
	assert.True(t, u.MarketImage)
	assert.False(t, u.Complete())
	assert.Equal(t, time.UnixMilli(1699999995000), u.MatchedAt)
	assert.Equal(t, received, u.ReceivedAt)

	assert.True(t, updates[1].Complete())
	assert.True(t, updates[1].MatchedAt.IsZero())

	images, closed := msg.orderMarkets()
	assert.Equal(t, []string{"1.111"}, images)
	assert.Empty(t, closed)
}

func TestEncodeMarketSubscription(t *testing.T) {
	subs := []subscription.MarketSubscription{
		{MarketID: "1.111", Depth: 3},
		{MarketID: "1.222", Depth: 5},
	}
	payload, err := encodeMarketSubscription(7, subs, 5*time.Second, 0)
	require.NoError(t, err)

	var got struct {
		Op                  string `json:"op"`
		ID                  int64  `json:"id"`
		SegmentationEnabled bool   `json:"segmentationEnabled"`
		HeartbeatMs         int64  `json:"heartbeatMs"`
		ConflateMs          *int64 `json:"conflateMs"`
		MarketFilter        struct {
			MarketIDs []string `json:"marketIds"`
		} `json:"marketFilter"`
		MarketDataFilter struct {
			Fields       []string `json:"fields"`
			LadderLevels int      `json:"ladderLevels"`
		} `json:"marketDataFilter"`
	}
	require.NoError(t, json.Unmarshal(payload, &got))

	assert.Equal(t, opMarketSubscription, got.Op)
	assert.Equal(t, int64(7), got.ID)
	assert.True(t, got.SegmentationEnabled)
	assert.Equal(t, int64(5000), got.HeartbeatMs)
	assert.Nil(t, got.ConflateMs)
	assert.Equal(t, []string{"1.111", "1.222"}, got.MarketFilter.MarketIDs)
	assert.Equal(t, []string{"EX_BEST_OFFERS"}, got.MarketDataFilter.Fields)
	assert.Equal(t, 5, got.MarketDataFilter.LadderLevels)
}

func TestEncodeAuthenticationAndOrders(t *testing.T) {
	payload, err := encodeAuthentication(1, "app", "token")
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":"authentication","id":1,"appKey":"app","session":"token"}`, string(payload))

	payload, err = encodeOrderSubscription(2, subscription.OrderSubscription{Enabled: true, StrategyRefs: []string{"s1"}}, 0)
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":"orderSubscription","id":2,"segmentationEnabled":true,`+
		`"orderFilter":{"includeOverallPosition":true,"customerStrategyRefs":["s1"],"partitionMatchedByStrategyRef":false}}`,
		string(payload))

	payload, err = encodeHeartbeat(3)
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":"heartbeat","id":3}`, string(payload))
}
