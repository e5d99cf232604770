// Package httpapi serves connection health, order book snapshots, best
// prices, open orders and Prometheus metrics over HTTP.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/t2o2/betfair-go/internal/orderbook"
	"github.com/t2o2/betfair-go/internal/stream"
)

// StatusSource reports the stream connection status. *stream.Machine
// satisfies it.
type StatusSource interface {
	Status() stream.Status
}

// BookSource serves order book reads. *orderbook.Engine satisfies it.
type BookSource interface {
	Snapshot(marketID string) (orderbook.MarketSnapshot, bool)
	BestBid(marketID string, selectionID int64) (orderbook.PriceLevel, bool)
	BestAsk(marketID string, selectionID int64) (orderbook.PriceLevel, bool)
}

// OrderSource serves open orders. *orders.Cache satisfies it.
type OrderSource interface {
	Market(marketID string) []stream.OrderUpdate
}

// Deps are the router's data sources. Orders and Metrics may be nil.
type Deps struct {
	Status      StatusSource
	Books       BookSource
	Orders      OrderSource
	Metrics     http.Handler
	MetricsPath string
}

// NewRouter builds the HTTP handler.
func NewRouter(deps Deps, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handlers{deps: deps, logger: logger.With("component", "httpapi")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/health", h.health)
	r.Route("/markets/{marketID}", func(r chi.Router) {
		r.Get("/", h.market)
		r.Get("/selections/{selectionID}/best", h.best)
		if deps.Orders != nil {
			r.Get("/orders", h.orders)
		}
	})

	if deps.Metrics != nil {
		path := deps.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, deps.Metrics)
	}
	return r
}

type handlers struct {
	deps   Deps
	logger *slog.Logger
}

type healthResponse struct {
	Status        string    `json:"status"`
	State         string    `json:"state"`
	ConnectionID  string    `json:"connection_id,omitempty"`
	Subscriptions int       `json:"subscriptions"`
	Reconnects    int64     `json:"reconnects"`
	Violations    int64     `json:"violations"`
	ConnectedAt   time.Time `json:"connected_at,omitzero"`
	LastFrameAt   time.Time `json:"last_frame_at,omitzero"`
}

// health answers 200 while streaming and 503 otherwise.
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	st := h.deps.Status.Status()
	resp := healthResponse{
		Status:        "ok",
		State:         st.State.String(),
		ConnectionID:  st.ConnectionID,
		Subscriptions: st.Subscriptions,
		Reconnects:    st.Reconnects,
		Violations:    st.Violations,
		ConnectedAt:   st.ConnectedAt,
		LastFrameAt:   st.LastFrameAt,
	}
	code := http.StatusOK
	if st.State != stream.StateStreaming {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	h.writeJSON(w, code, resp)
}

func (h *handlers) market(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	snap, ok := h.deps.Books.Snapshot(marketID)
	if !ok {
		h.writeError(w, http.StatusNotFound, "market_not_found", "no order book for market "+marketID)
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

type bestResponse struct {
	MarketID    string                `json:"market_id"`
	SelectionID int64                 `json:"selection_id"`
	Bid         *orderbook.PriceLevel `json:"bid"`
	Ask         *orderbook.PriceLevel `json:"ask"`
}

func (h *handlers) best(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	selectionID, err := strconv.ParseInt(chi.URLParam(r, "selectionID"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_selection", "selection id must be an integer")
		return
	}

	resp := bestResponse{MarketID: marketID, SelectionID: selectionID}
	if bid, ok := h.deps.Books.BestBid(marketID, selectionID); ok {
		resp.Bid = &bid
	}
	if ask, ok := h.deps.Books.BestAsk(marketID, selectionID); ok {
		resp.Ask = &ask
	}
	if resp.Bid == nil && resp.Ask == nil {
		h.writeError(w, http.StatusNotFound, "selection_not_found", "no prices for selection")
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) orders(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	list := h.deps.Orders.Market(marketID)
	if list == nil {
		list = []stream.OrderUpdate{}
	}
	h.writeJSON(w, http.StatusOK, list)
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (h *handlers) writeError(w http.ResponseWriter, code int, kind, msg string) {
	h.writeJSON(w, code, errorResponse{Error: kind, Message: msg})
}

func (h *handlers) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response", "error", err)
	}
}

func (h *handlers) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
