package httpapi

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t2o2/betfair-go/internal/orderbook"
	"github.com/t2o2/betfair-go/internal/orders"
	"github.com/t2o2/betfair-go/internal/stream"
)

type fixedStatus stream.Status

func (f fixedStatus) Status() stream.Status { return stream.Status(f) }

func testEngine(t *testing.T) *orderbook.Engine {
	t.Helper()
	e := orderbook.NewEngine(3, nil)
	require.NoError(t, e.ApplyChange(orderbook.MarketChange{
		MarketID: "1.234",
		Image:    true,
		Runners: []orderbook.RunnerChange{
			{
				SelectionID: 101,
				Bids:        []orderbook.PriceLevel{{Position: 0, Price: 2.0, Size: 10}, {Position: 1, Price: 1.98, Size: 4}},
				Asks:        []orderbook.PriceLevel{{Position: 0, Price: 2.02, Size: 7}},
			},
			{
				SelectionID: 102,
				Bids:        []orderbook.PriceLevel{{Position: 0, Price: 3.5, Size: 1}},
			},
		},
	}))
	return e
}

func newServer(t *testing.T, st stream.Status, deps Deps) *httptest.Server {
	t.Helper()
	deps.Status = fixedStatus(st)
	if deps.Books == nil {
		deps.Books = testEngine(t)
	}
	srv := httptest.NewServer(NewRouter(deps, slog.New(slog.NewTextHandler(io.Discard, nil))))
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	connected := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("streaming", func(t *testing.T) {
		srv := newServer(t, stream.Status{
			State:         stream.StateStreaming,
			ConnectionID:  "conn-1",
			Subscriptions: 2,
			ConnectedAt:   connected,
		}, Deps{})

		var body healthResponse
		code := get(t, srv.URL+"/health", &body)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "ok", body.Status)
		assert.Equal(t, "streaming", body.State)
		assert.Equal(t, "conn-1", body.ConnectionID)
		assert.Equal(t, 2, body.Subscriptions)
		assert.True(t, connected.Equal(body.ConnectedAt))
	})

	t.Run("reconnecting", func(t *testing.T) {
		srv := newServer(t, stream.Status{State: stream.StateReconnecting, Reconnects: 3}, Deps{})

		var body healthResponse
		code := get(t, srv.URL+"/health", &body)
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, "degraded", body.Status)
		assert.Equal(t, int64(3), body.Reconnects)
	})
}

func TestMarketSnapshot(t *testing.T) {
	srv := newServer(t, stream.Status{State: stream.StateStreaming}, Deps{})

	var snap orderbook.MarketSnapshot
	code := get(t, srv.URL+"/markets/1.234", &snap)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "1.234", snap.MarketID)
	require.Len(t, snap.Selections, 2)
	assert.Equal(t, int64(101), snap.Selections[0].SelectionID)
	assert.Len(t, snap.Selections[0].Bids, 2)

	var errBody errorResponse
	code = get(t, srv.URL+"/markets/9.999", &errBody)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "market_not_found", errBody.Error)
}

func TestBestPrices(t *testing.T) {
	srv := newServer(t, stream.Status{State: stream.StateStreaming}, Deps{})

	var body bestResponse
	code := get(t, srv.URL+"/markets/1.234/selections/101/best", &body)
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, body.Bid)
	require.NotNil(t, body.Ask)
	assert.Equal(t, 2.0, body.Bid.Price)
	assert.Equal(t, 2.02, body.Ask.Price)

	body = bestResponse{}
	code = get(t, srv.URL+"/markets/1.234/selections/102/best", &body)
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, body.Bid)
	assert.Nil(t, body.Ask)

	code = get(t, srv.URL+"/markets/1.234/selections/555/best", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code = get(t, srv.URL+"/markets/1.234/selections/abc/best", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestOrders(t *testing.T) {
	cache := orders.NewCache()
	cache.Apply(stream.OrderUpdate{
		MarketID:      "1.234",
		SelectionID:   101,
		BetID:         "b-1",
		Side:          "B",
		Status:        stream.OrderExecutable,
		Price:         2.0,
		Size:          5,
		SizeRemaining: 5,
	})
	srv := newServer(t, stream.Status{State: stream.StateStreaming}, Deps{Orders: cache})

	var list []stream.OrderUpdate
	code := get(t, srv.URL+"/markets/1.234/orders", &list)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, list, 1)
	assert.Equal(t, "b-1", list[0].BetID)

	list = nil
	code = get(t, srv.URL+"/markets/1.999/orders", &list)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, list)
}

func TestOrdersRouteAbsentWithoutSource(t *testing.T) {
	srv := newServer(t, stream.Status{State: stream.StateStreaming}, Deps{})

	code := get(t, srv.URL+"/markets/1.234/orders", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "# metrics\n")
	})
	srv := newServer(t, stream.Status{State: stream.StateStreaming}, Deps{Metrics: metrics, MetricsPath: "/prom"})

	resp, err := http.Get(srv.URL + "/prom")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "# metrics\n", string(body))
}
