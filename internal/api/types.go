package api

import (
	"time"

	"github.com/shopspring/decimal"
)

// Amount is a decimal price, stake or balance encoded as a JSON number.
type Amount struct {
	decimal.Decimal
}

// NewAmount converts f to an Amount.
func NewAmount(f float64) Amount {
	return Amount{decimal.NewFromFloat(f)}
}

// ParseAmount parses a decimal string such as "2.52".
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, err
	}
	return Amount{d}, nil
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.Decimal.String()), nil
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	return a.Decimal.UnmarshalJSON(b)
}

// Side of an order.
const (
	SideBack = "BACK"
	SideLay  = "LAY"
)

// Order types and persistence.
const (
	OrderTypeLimit           = "LIMIT"
	PersistenceLapse         = "LAPSE"
	PersistencePersist       = "PERSIST"
	PersistenceMarketOnClose = "MARKET_ON_CLOSE"
)

// Execution report statuses.
const (
	StatusSuccess = "SUCCESS"
	StatusFailure = "FAILURE"
)

// TimeRange bounds a filter on a timestamp.
type TimeRange struct {
	From *time.Time `json:"from,omitempty"`
	To   *time.Time `json:"to,omitempty"`
}

// MarketFilter selects markets for navigation and order queries.
type MarketFilter struct {
	TextQuery          string     `json:"textQuery,omitempty"`
	EventTypeIDs       []string   `json:"eventTypeIds,omitempty"`
	EventIDs           []string   `json:"eventIds,omitempty"`
	CompetitionIDs     []string   `json:"competitionIds,omitempty"`
	MarketIDs          []string   `json:"marketIds,omitempty"`
	Venues             []string   `json:"venues,omitempty"`
	MarketCountries    []string   `json:"marketCountries,omitempty"`
	MarketTypeCodes    []string   `json:"marketTypeCodes,omitempty"`
	MarketBettingTypes []string   `json:"marketBettingTypes,omitempty"`
	InPlayOnly         *bool      `json:"inPlayOnly,omitempty"`
	TurnInPlayEnabled  *bool      `json:"turnInPlayEnabled,omitempty"`
	MarketStartTime    *TimeRange `json:"marketStartTime,omitempty"`
}

type filterParams struct {
	Filter MarketFilter `json:"filter"`
	Locale string       `json:"locale,omitempty"`
}

// EventType is a sport.
type EventType struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// EventTypeResult is a listEventTypes row.
type EventTypeResult struct {
	EventType   EventType `json:"eventType"`
	MarketCount int       `json:"marketCount"`
}

// Event is a fixture.
type Event struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	CountryCode string    `json:"countryCode,omitempty"`
	Timezone    string    `json:"timezone,omitempty"`
	Venue       string    `json:"venue,omitempty"`
	OpenDate    time.Time `json:"openDate"`
}

// EventResult is a listEvents row.
type EventResult struct {
	Event       Event `json:"event"`
	MarketCount int   `json:"marketCount"`
}

// Competition is a league or tournament.
type Competition struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CompetitionResult is a listCompetitions row.
type CompetitionResult struct {
	Competition       Competition `json:"competition"`
	MarketCount       int         `json:"marketCount"`
	CompetitionRegion string      `json:"competitionRegion,omitempty"`
}

// Market projections for listMarketCatalogue.
const (
	ProjectionCompetition       = "COMPETITION"
	ProjectionEvent             = "EVENT"
	ProjectionEventType         = "EVENT_TYPE"
	ProjectionMarketStartTime   = "MARKET_START_TIME"
	ProjectionMarketDescription = "MARKET_DESCRIPTION"
	ProjectionRunnerDescription = "RUNNER_DESCRIPTION"
)

// MarketCatalogueRequest are the listMarketCatalogue parameters.
type MarketCatalogueRequest struct {
	Filter           MarketFilter `json:"filter"`
	MarketProjection []string     `json:"marketProjection,omitempty"`
	Sort             string       `json:"sort,omitempty"`
	MaxResults       int          `json:"maxResults"`
	Locale           string       `json:"locale,omitempty"`
}

// MarketCatalogue describes a market.
type MarketCatalogue struct {
	MarketID        string          `json:"marketId"`
	MarketName      string          `json:"marketName"`
	MarketStartTime *time.Time      `json:"marketStartTime,omitempty"`
	TotalMatched    *Amount         `json:"totalMatched,omitempty"`
	Runners         []RunnerCatalog `json:"runners,omitempty"`
	EventType       *EventType      `json:"eventType,omitempty"`
	Competition     *Competition    `json:"competition,omitempty"`
	Event           *Event          `json:"event,omitempty"`
}

// RunnerCatalog describes a selection.
type RunnerCatalog struct {
	SelectionID  int64             `json:"selectionId"`
	RunnerName   string            `json:"runnerName"`
	Handicap     Amount            `json:"handicap"`
	SortPriority int               `json:"sortPriority"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Price data projections for listMarketBook.
const (
	PriceDataBestOffers = "EX_BEST_OFFERS"
	PriceDataAllOffers  = "EX_ALL_OFFERS"
	PriceDataTraded     = "EX_TRADED"
)

// PriceProjection selects which prices listMarketBook returns.
type PriceProjection struct {
	PriceData             []string               `json:"priceData,omitempty"`
	ExBestOffersOverrides *ExBestOffersOverrides `json:"exBestOffersOverrides,omitempty"`
	Virtualise            bool                   `json:"virtualise,omitempty"`
}

// ExBestOffersOverrides sets the ladder depth for best offers.
type ExBestOffersOverrides struct {
	BestPricesDepth int `json:"bestPricesDepth,omitempty"`
}

// MarketBookRequest are the listMarketBook parameters.
type MarketBookRequest struct {
	MarketIDs       []string         `json:"marketIds"`
	PriceProjection *PriceProjection `json:"priceProjection,omitempty"`
	OrderProjection string           `json:"orderProjection,omitempty"`
	MatchProjection string           `json:"matchProjection,omitempty"`
	CurrencyCode    string           `json:"currencyCode,omitempty"`
	Locale          string           `json:"locale,omitempty"`
}

// MarketBook is the dynamic state of a market.
type MarketBook struct {
	MarketID              string   `json:"marketId"`
	IsMarketDataDelayed   bool     `json:"isMarketDataDelayed"`
	Status                string   `json:"status,omitempty"`
	BetDelay              int      `json:"betDelay,omitempty"`
	Inplay                bool     `json:"inplay,omitempty"`
	NumberOfRunners       int      `json:"numberOfRunners,omitempty"`
	NumberOfActiveRunners int      `json:"numberOfActiveRunners,omitempty"`
	TotalMatched          *Amount  `json:"totalMatched,omitempty"`
	TotalAvailable        *Amount  `json:"totalAvailable,omitempty"`
	Version               int64    `json:"version,omitempty"`
	Runners               []Runner `json:"runners,omitempty"`
}

// Runner is a selection within a MarketBook.
type Runner struct {
	SelectionID     int64           `json:"selectionId"`
	Handicap        Amount          `json:"handicap"`
	Status          string          `json:"status"`
	LastPriceTraded *Amount         `json:"lastPriceTraded,omitempty"`
	TotalMatched    *Amount         `json:"totalMatched,omitempty"`
	Ex              *ExchangePrices `json:"ex,omitempty"`
}

// ExchangePrices are the back and lay ladders.
type ExchangePrices struct {
	AvailableToBack []PriceSize `json:"availableToBack,omitempty"`
	AvailableToLay  []PriceSize `json:"availableToLay,omitempty"`
	TradedVolume    []PriceSize `json:"tradedVolume,omitempty"`
}

// PriceSize is one ladder level.
type PriceSize struct {
	Price Amount `json:"price"`
	Size  Amount `json:"size"`
}

// LimitOrder is a fixed-odds order.
type LimitOrder struct {
	Size            Amount  `json:"size"`
	Price           Amount  `json:"price"`
	PersistenceType string  `json:"persistenceType"`
	TimeInForce     string  `json:"timeInForce,omitempty"`
	MinFillSize     *Amount `json:"minFillSize,omitempty"`
}

// PlaceInstruction is one order to place.
type PlaceInstruction struct {
	OrderType        string      `json:"orderType"`
	SelectionID      int64       `json:"selectionId"`
	Handicap         *Amount     `json:"handicap,omitempty"`
	Side             string      `json:"side"`
	LimitOrder       *LimitOrder `json:"limitOrder,omitempty"`
	CustomerOrderRef string      `json:"customerOrderRef,omitempty"`
}

// PlaceOrdersRequest are the placeOrders parameters.
type PlaceOrdersRequest struct {
	MarketID            string             `json:"marketId"`
	Instructions        []PlaceInstruction `json:"instructions"`
	CustomerRef         string             `json:"customerRef,omitempty"`
	CustomerStrategyRef string             `json:"customerStrategyRef,omitempty"`
	Async               bool               `json:"async,omitempty"`
}

// PlaceInstructionReport is the outcome of one PlaceInstruction.
type PlaceInstructionReport struct {
	Status              string           `json:"status"`
	ErrorCode           string           `json:"errorCode,omitempty"`
	OrderStatus         string           `json:"orderStatus,omitempty"`
	Instruction         PlaceInstruction `json:"instruction"`
	BetID               string           `json:"betId,omitempty"`
	PlacedDate          *time.Time       `json:"placedDate,omitempty"`
	AveragePriceMatched *Amount          `json:"averagePriceMatched,omitempty"`
	SizeMatched         *Amount          `json:"sizeMatched,omitempty"`
}

// PlaceExecutionReport is the placeOrders result.
type PlaceExecutionReport struct {
	Status             string                   `json:"status"`
	ErrorCode          string                   `json:"errorCode,omitempty"`
	MarketID           string                   `json:"marketId"`
	CustomerRef        string                   `json:"customerRef,omitempty"`
	InstructionReports []PlaceInstructionReport `json:"instructionReports,omitempty"`
}

// CancelInstruction cancels all or part of a bet.
type CancelInstruction struct {
	BetID         string  `json:"betId"`
	SizeReduction *Amount `json:"sizeReduction,omitempty"`
}

// CancelOrdersRequest are the cancelOrders parameters. An empty MarketID
// cancels every open order.
type CancelOrdersRequest struct {
	MarketID     string              `json:"marketId,omitempty"`
	Instructions []CancelInstruction `json:"instructions,omitempty"`
	CustomerRef  string              `json:"customerRef,omitempty"`
}

// CancelInstructionReport is the outcome of one CancelInstruction.
type CancelInstructionReport struct {
	Status        string            `json:"status"`
	ErrorCode     string            `json:"errorCode,omitempty"`
	Instruction   CancelInstruction `json:"instruction"`
	SizeCancelled Amount            `json:"sizeCancelled"`
	CancelledDate *time.Time        `json:"cancelledDate,omitempty"`
}

// CancelExecutionReport is the cancelOrders result.
type CancelExecutionReport struct {
	Status             string                    `json:"status"`
	ErrorCode          string                    `json:"errorCode,omitempty"`
	MarketID           string                    `json:"marketId,omitempty"`
	CustomerRef        string                    `json:"customerRef,omitempty"`
	InstructionReports []CancelInstructionReport `json:"instructionReports,omitempty"`
}

// CurrentOrdersRequest are the listCurrentOrders parameters.
type CurrentOrdersRequest struct {
	BetIDs               []string `json:"betIds,omitempty"`
	MarketIDs            []string `json:"marketIds,omitempty"`
	OrderProjection      string   `json:"orderProjection,omitempty"`
	CustomerStrategyRefs []string `json:"customerStrategyRefs,omitempty"`
	FromRecord           int      `json:"fromRecord,omitempty"`
	RecordCount          int      `json:"recordCount,omitempty"`
}

// CurrentOrderSummary is an order as reported by listCurrentOrders.
type CurrentOrderSummary struct {
	BetID               string     `json:"betId"`
	MarketID            string     `json:"marketId"`
	SelectionID         int64      `json:"selectionId"`
	Handicap            Amount     `json:"handicap"`
	PriceSize           PriceSize  `json:"priceSize"`
	Side                string     `json:"side"`
	Status              string     `json:"status"`
	PersistenceType     string     `json:"persistenceType"`
	OrderType           string     `json:"orderType"`
	PlacedDate          time.Time  `json:"placedDate"`
	MatchedDate         *time.Time `json:"matchedDate,omitempty"`
	AveragePriceMatched *Amount    `json:"averagePriceMatched,omitempty"`
	SizeMatched         *Amount    `json:"sizeMatched,omitempty"`
	SizeRemaining       *Amount    `json:"sizeRemaining,omitempty"`
	SizeLapsed          *Amount    `json:"sizeLapsed,omitempty"`
	SizeCancelled       *Amount    `json:"sizeCancelled,omitempty"`
	SizeVoided          *Amount    `json:"sizeVoided,omitempty"`
	CustomerOrderRef    string     `json:"customerOrderRef,omitempty"`
	CustomerStrategyRef string     `json:"customerStrategyRef,omitempty"`
}

// CurrentOrderSummaryReport is a page of current orders.
type CurrentOrderSummaryReport struct {
	CurrentOrders []CurrentOrderSummary `json:"currentOrders"`
	MoreAvailable bool                  `json:"moreAvailable"`
}

// AccountFunds is the getAccountFunds result.
type AccountFunds struct {
	AvailableToBetBalance Amount `json:"availableToBetBalance"`
	Exposure              Amount `json:"exposure"`
	RetainedCommission    Amount `json:"retainedCommission"`
	ExposureLimit         Amount `json:"exposureLimit"`
	DiscountRate          Amount `json:"discountRate"`
	PointsBalance         int64  `json:"pointsBalance"`
	Wallet                string `json:"wallet,omitempty"`
}

// AccountDetails is the getAccountDetails result.
type AccountDetails struct {
	CurrencyCode  string `json:"currencyCode"`
	FirstName     string `json:"firstName"`
	LastName      string `json:"lastName"`
	LocaleCode    string `json:"localeCode"`
	Region        string `json:"region"`
	Timezone      string `json:"timezone"`
	DiscountRate  Amount `json:"discountRate"`
	PointsBalance int64  `json:"pointsBalance"`
	CountryCode   string `json:"countryCode"`
}
