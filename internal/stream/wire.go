package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/t2o2/betfair-go/internal/orderbook"
	"github.com/t2o2/betfair-go/internal/subscription"
)

// Operation names on the wire.
const (
	opConnection         = "connection"
	opAuthentication     = "authentication"
	opMarketSubscription = "marketSubscription"
	opOrderSubscription  = "orderSubscription"
	opHeartbeat          = "heartbeat"
	opStatus             = "status"
	opMarketChange       = "mcm"
	opOrderChange        = "ocm"
)

// Change types carried by mcm/ocm frames.
const (
	changeSubImage  = "SUB_IMAGE"
	changeHeartbeat = "HEARTBEAT"
)

const (
	statusSuccess = "SUCCESS"

	fieldBestOffers = "EX_BEST_OFFERS"
)

// Order statuses.
const (
	OrderExecutable        = "E"
	OrderExecutionComplete = "EC"
)

// --- outbound ---

type authenticationMessage struct {
	Op      string `json:"op"`
	ID      int64  `json:"id"`
	AppKey  string `json:"appKey"`
	Session string `json:"session"`
}

type marketFilter struct {
	MarketIDs []string `json:"marketIds"`
}

type marketDataFilter struct {
	Fields       []string `json:"fields"`
	LadderLevels int      `json:"ladderLevels"`
}

type marketSubscriptionMessage struct {
	Op                  string           `json:"op"`
	ID                  int64            `json:"id"`
	SegmentationEnabled bool             `json:"segmentationEnabled"`
	HeartbeatMs         int64            `json:"heartbeatMs,omitempty"`
	ConflateMs          int64            `json:"conflateMs,omitempty"`
	MarketFilter        marketFilter     `json:"marketFilter"`
	MarketDataFilter    marketDataFilter `json:"marketDataFilter"`
}

type orderFilter struct {
	IncludeOverallPosition        bool     `json:"includeOverallPosition"`
	CustomerStrategyRefs          []string `json:"customerStrategyRefs,omitempty"`
	PartitionMatchedByStrategyRef bool     `json:"partitionMatchedByStrategyRef"`
}

type orderSubscriptionMessage struct {
	Op                  string      `json:"op"`
	ID                  int64       `json:"id"`
	SegmentationEnabled bool        `json:"segmentationEnabled"`
	HeartbeatMs         int64       `json:"heartbeatMs,omitempty"`
	OrderFilter         orderFilter `json:"orderFilter"`
}

type heartbeatMessage struct {
	Op string `json:"op"`
	ID int64  `json:"id"`
}

func encodeAuthentication(id int64, appKey, session string) ([]byte, error) {
	return json.Marshal(authenticationMessage{
		Op:      opAuthentication,
		ID:      id,
		AppKey:  appKey,
		Session: session,
	})
}

// encodeMarketSubscription builds one subscription covering every market.
// The exchange replaces the previous market subscription with it, so the
// ladder depth is the deepest requested; shallower markets are truncated
// by the engine.
func encodeMarketSubscription(id int64, subs []subscription.MarketSubscription, heartbeat, conflate time.Duration) ([]byte, error) {
	ids := make([]string, 0, len(subs))
	depth := subscription.MinDepth
	for _, s := range subs {
		ids = append(ids, s.MarketID)
		depth = max(depth, s.Depth)
	}

	return json.Marshal(marketSubscriptionMessage{
		Op:                  opMarketSubscription,
		ID:                  id,
		SegmentationEnabled: true,
		HeartbeatMs:         heartbeat.Milliseconds(),
		ConflateMs:          conflate.Milliseconds(),
		MarketFilter:        marketFilter{MarketIDs: ids},
		MarketDataFilter: marketDataFilter{
			Fields:       []string{fieldBestOffers},
			LadderLevels: depth,
		},
	})
}

func encodeOrderSubscription(id int64, sub subscription.OrderSubscription, heartbeat time.Duration) ([]byte, error) {
	return json.Marshal(orderSubscriptionMessage{
		Op:                  opOrderSubscription,
		ID:                  id,
		SegmentationEnabled: true,
		HeartbeatMs:         heartbeat.Milliseconds(),
		OrderFilter: orderFilter{
			IncludeOverallPosition: true,
			CustomerStrategyRefs:   sub.StrategyRefs,
		},
	})
}

func encodeHeartbeat(id int64) ([]byte, error) {
	return json.Marshal(heartbeatMessage{Op: opHeartbeat, ID: id})
}

// --- inbound ---

// frameMessage is every inbound op decoded into one shape.
type frameMessage struct {
	Op string `json:"op"`
	ID int64  `json:"id"`

	// connection
	ConnectionID string `json:"connectionId"`

	// status
	StatusCode       string `json:"statusCode"`
	ErrorCode        string `json:"errorCode"`
	ErrorMessage     string `json:"errorMessage"`
	ConnectionClosed bool   `json:"connectionClosed"`

	// mcm / ocm
	Clock       string       `json:"clk"`
	InitialClk  string       `json:"initialClk"`
	PublishTime int64        `json:"pt"`
	ChangeType  string       `json:"ct"`
	SegmentType string       `json:"segmentType"`
	HeartbeatMs int64        `json:"heartbeatMs"`
	ConflateMs  int64        `json:"conflateMs"`
	Markets     []wireMarket `json:"mc"`
	Orders      []wireOrders `json:"oc"`
}

type wireMarket struct {
	ID      string       `json:"id"`
	Image   bool         `json:"img"`
	Runners []wireRunner `json:"rc"`
}

type wireRunner struct {
	ID       int64       `json:"id"`
	Handicap float64     `json:"hc"`
	Bids     [][]float64 `json:"batb"`
	Asks     [][]float64 `json:"batl"`
}

type wireOrders struct {
	ID        string            `json:"id"`
	FullImage bool              `json:"fullImage"`
	Closed    bool              `json:"closed"`
	Runners   []wireOrderRunner `json:"orc"`
}

type wireOrderRunner struct {
	ID        int64           `json:"id"`
	Handicap  float64         `json:"hc"`
	FullImage bool            `json:"fullImage"`
	Unmatched []wireUnmatched `json:"uo"`
}

type wireUnmatched struct {
	ID              string  `json:"id"`
	Price           float64 `json:"p"`
	Size            float64 `json:"s"`
	Side            string  `json:"side"`
	Status          string  `json:"status"`
	PersistenceType string  `json:"pt"`
	OrderType       string  `json:"ot"`
	PlacedDate      int64   `json:"pd"`
	MatchedDate     int64   `json:"md"`
	AvgPriceMatched float64 `json:"avp"`
	SizeMatched     float64 `json:"sm"`
	SizeRemaining   float64 `json:"sr"`
	SizeLapsed      float64 `json:"sl"`
	SizeCancelled   float64 `json:"sc"`
	SizeVoided      float64 `json:"sv"`
	StrategyRef     string  `json:"rfs"`
	OrderRef        string  `json:"rfo"`
}

var errEmptyOp = errors.New("missing op")

func decodeFrame(data []byte) (*frameMessage, error) {
	var msg frameMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Op == "" {
		return nil, errEmptyOp
	}
	return &msg, nil
}

// marketChanges converts an mcm frame into engine changes.
func (m *frameMessage) marketChanges() ([]orderbook.MarketChange, error) {
	changes := make([]orderbook.MarketChange, 0, len(m.Markets))
	for _, mc := range m.Markets {
		if mc.ID == "" {
			return nil, errors.New("market change without id")
		}
		change := orderbook.MarketChange{
			MarketID: mc.ID,
			Image:    mc.Image,
			Runners:  make([]orderbook.RunnerChange, 0, len(mc.Runners)),
		}
		for _, rc := range mc.Runners {
			bids, err := ladderLevels(rc.Bids)
			if err != nil {
				return nil, fmt.Errorf("market %s runner %d batb: %w", mc.ID, rc.ID, err)
			}
			asks, err := ladderLevels(rc.Asks)
			if err != nil {
				return nil, fmt.Errorf("market %s runner %d batl: %w", mc.ID, rc.ID, err)
			}
			change.Runners = append(change.Runners, orderbook.RunnerChange{
				SelectionID: rc.ID,
				Bids:        bids,
				Asks:        asks,
			})
		}
		changes = append(changes, change)
	}
	return changes, nil
}

// ladderLevels converts [[position, price, size], ...]. A nil input stays
// nil so the engine can tell an absent side from an emptied one.
func ladderLevels(raw [][]float64) ([]orderbook.PriceLevel, error) {
	if raw == nil {
		return nil, nil
	}
	levels := make([]orderbook.PriceLevel, 0, len(raw))
	for _, triple := range raw {
		if len(triple) != 3 {
			return nil, fmt.Errorf("level has %d fields, want 3", len(triple))
		}
		levels = append(levels, orderbook.PriceLevel{
			Position: int(triple[0]),
			Price:    triple[1],
			Size:     triple[2],
		})
	}
	return levels, nil
}

// OrderUpdate is the state of one of the account's orders after an order
// change frame.
type OrderUpdate struct {
	MarketID        string    `json:"market_id"`
	SelectionID     int64     `json:"selection_id"`
	Handicap        float64   `json:"handicap"`
	BetID           string    `json:"bet_id"`
	Side            string    `json:"side"`
	Status          string    `json:"status"`
	Price           float64   `json:"price"`
	Size            float64   `json:"size"`
	AvgPriceMatched float64   `json:"avg_price_matched"`
	SizeMatched     float64   `json:"size_matched"`
	SizeRemaining   float64   `json:"size_remaining"`
	SizeLapsed      float64   `json:"size_lapsed"`
	SizeCancelled   float64   `json:"size_cancelled"`
	SizeVoided      float64   `json:"size_voided"`
	PersistenceType string    `json:"persistence_type"`
	OrderType       string    `json:"order_type"`
	StrategyRef     string    `json:"strategy_ref,omitempty"`
	OrderRef        string    `json:"order_ref,omitempty"`
	PlacedAt        time.Time `json:"placed_at"`
	MatchedAt       time.Time `json:"matched_at,omitzero"`
	MarketImage     bool      `json:"market_image"`
	MarketClosed    bool      `json:"market_closed"`
	PublishedAt     time.Time `json:"published_at"`
	ReceivedAt      time.Time `json:"received_at"`
}

// Complete reports whether the order has left the book.
func (u OrderUpdate) Complete() bool {
	return strings.EqualFold(u.Status, OrderExecutionComplete)
}

// orderUpdates flattens an ocm frame into per-order updates.
func (m *frameMessage) orderUpdates(receivedAt time.Time) []OrderUpdate {
	published := time.UnixMilli(m.PublishTime)

	var out []OrderUpdate
	for _, oc := range m.Orders {
		for _, orc := range oc.Runners {
			for _, uo := range orc.Unmatched {
				u := OrderUpdate{
					MarketID:        oc.ID,
					SelectionID:     orc.ID,
					Handicap:        orc.Handicap,
					BetID:           uo.ID,
					Side:            uo.Side,
					Status:          uo.Status,
					Price:           uo.Price,
					Size:            uo.Size,
					AvgPriceMatched: uo.AvgPriceMatched,
					SizeMatched:     uo.SizeMatched,
					SizeRemaining:   uo.SizeRemaining,
					SizeLapsed:      uo.SizeLapsed,
					SizeCancelled:   uo.SizeCancelled,
					SizeVoided:      uo.SizeVoided,
					PersistenceType: uo.PersistenceType,
					OrderType:       uo.OrderType,
					StrategyRef:     uo.StrategyRef,
					OrderRef:        uo.OrderRef,
					PlacedAt:        time.UnixMilli(uo.PlacedDate),
					MarketImage:     oc.FullImage,
					MarketClosed:    oc.Closed,
					PublishedAt:     published,
					ReceivedAt:      receivedAt,
				}
				if uo.MatchedDate > 0 {
					u.MatchedAt = time.UnixMilli(uo.MatchedDate)
				}
				out = append(out, u)
			}
		}
	}
	return out
}

// orderMarkets returns markets an ocm frame re-images or reports closed.
// The order cache resets them before applying updates.
func (m *frameMessage) orderMarkets() (images, closed []string) {
	for _, oc := range m.Orders {
		if oc.FullImage {
			images = append(images, oc.ID)
		}
		if oc.Closed {
			closed = append(closed, oc.ID)
		}
	}
	return images, closed
}

// authErrorCodes are status error codes that mean the session or app key
// was refused.
var authErrorCodes = map[string]bool{
	"NO_APP_KEY":                  true,
	"INVALID_APP_KEY":             true,
	"NO_SESSION":                  true,
	"INVALID_SESSION_INFORMATION": true,
	"NOT_AUTHORIZED":              true,
}
