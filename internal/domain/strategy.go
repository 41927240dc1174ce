package domain

import "time"

// StrategyType discriminates the tagged-variant parameter payload a
// StrategyConfig carries, replacing the dynamically typed JSON configs of
// the source system.
type StrategyType string

const (
	StrategyPureMarketMaking   StrategyType = "pure_market_making"
	StrategyDirectionalTrading StrategyType = "directional_trading"
	StrategyMarketMakingV2     StrategyType = "market_making_v2"
	StrategyArbitrage          StrategyType = "arbitrage"
)

// PositionMode is the account-level hedge mode a strategy trades under.
type PositionMode string

const (
	PositionOneway PositionMode = "ONEWAY"
	PositionHedge  PositionMode = "HEDGE"
)

// StrategyConfig is the immutable-after-registration descriptor for one
// hosted strategy. Parameters are a type-tagged payload: only the
// fields relevant to Type are populated, the rest left at zero value.
// Validation (numeric bounds, cross-field checks) lives in internal/config.
type StrategyConfig struct {
	ID               string       `json:"id"`
	Name             string       `json:"name"`
	Type             StrategyType `json:"strategy_type"`
	ConnectorType    string       `json:"connector_type"`
	TradingPair      string       `json:"trading_pair"`
	Leverage         int          `json:"leverage"`
	PositionMode     PositionMode `json:"position_mode"`
	TotalAmountQuote float64      `json:"total_amount_quote"`
	Enabled          bool         `json:"enabled"`
	Owner            string       `json:"owner"`
	CreatedAt        time.Time    `json:"created_at"`

	PMM         *PMMParams         `json:"pmm,omitempty"`
	Directional *DirectionalParams `json:"directional,omitempty"`
	MMV2        *MMV2Params        `json:"mm_v2,omitempty"`
}

// PMMParams carries the pure_market_making recognized options.
type PMMParams struct {
	BidSpread                float64 `json:"bid_spread"`
	AskSpread                float64 `json:"ask_spread"`
	OrderAmount              float64 `json:"order_amount"`
	OrderLevels              int     `json:"order_levels"`
	OrderRefreshTime         float64 `json:"order_refresh_time"` // seconds
	MinimumSpread            float64 `json:"minimum_spread"`
	PriceCeiling             float64 `json:"price_ceiling"`
	PriceFloor               float64 `json:"price_floor"`
	PingPongEnabled          bool    `json:"ping_pong_enabled"`
	InventorySkewEnabled     bool    `json:"inventory_skew_enabled"`
	HangingOrdersEnabled     bool    `json:"hanging_orders_enabled"`
	OrderOptimizationEnabled bool    `json:"order_optimization_enabled"`
	AddTransactionCosts      bool    `json:"add_transaction_costs"`
}

// DirectionalParams carries the directional_trading recognized options.
// ControllerName selects the indicator: bollinger, macd_bb,
// supertrend, dman_v3.
type DirectionalParams struct {
	ControllerName      string    `json:"controller_name"`
	CandlesConnector    string    `json:"candles_connector"`
	CandlesTradingPair  string    `json:"candles_trading_pair"`
	Interval            string    `json:"interval"`
	BBLength            int       `json:"bb_length"`
	BBStd               float64   `json:"bb_std"`
	BBLongThreshold     float64   `json:"bb_long_threshold"`
	BBShortThreshold    float64   `json:"bb_short_threshold"`
	StopLoss            float64   `json:"stop_loss"`
	TakeProfit          float64   `json:"take_profit"`
	TimeLimit           float64   `json:"time_limit"` // seconds, 0 = none
	CooldownTime        float64   `json:"cooldown_time"`
	TrailingStop        float64   `json:"trailing_stop"`
	DCASpreads          []float64 `json:"dca_spreads"`
	DCAAmountsPct       []float64 `json:"dca_amounts_pct"`
	MaxExecutorsPerSide int       `json:"max_executors_per_side"`
	TakeProfitOrderType string    `json:"take_profit_order_type"`
}

// MMV2Params carries the market_making_v2 recognized options.
type MMV2Params struct {
	BuySpreads          []float64 `json:"buy_spreads"`
	SellSpreads         []float64 `json:"sell_spreads"`
	BuyAmountsPct       []float64 `json:"buy_amounts_pct"`
	SellAmountsPct      []float64 `json:"sell_amounts_pct"`
	ExecutorRefreshTime float64   `json:"executor_refresh_time"`
	CooldownTime        float64   `json:"cooldown_time"`
}

// CandlesPair returns the pair the strategy's candle series follows,
// defaulting to the trading pair when candles_trading_pair is unset.
func (c StrategyConfig) CandlesPair() string {
	if c.Directional != nil && c.Directional.CandlesTradingPair != "" {
		return c.Directional.CandlesTradingPair
	}
	return c.TradingPair
}

// StrategyStatus is the lifecycle status of a StrategyRuntime.
type StrategyStatus string

const (
	StatusPending StrategyStatus = "pending"
	StatusActive  StrategyStatus = "active"
	StatusClosing StrategyStatus = "closing"
	StatusStopped StrategyStatus = "stopped"
	StatusError   StrategyStatus = "error"
)

// validStrategyTransitions enumerates the lifecycle DFA edges from // Any transition not listed here is rejected with ErrBadStatusTransition.
var validStrategyTransitions = map[StrategyStatus]map[StrategyStatus]bool{
	StatusPending: {StatusActive: true, StatusError: true},
	StatusActive: {StatusClosing: true, StatusError: true},
	StatusClosing: {StatusStopped: true, StatusError: true},
	StatusStopped: {},
	StatusError: {},
}

// CanTransition reports whether moving from `from` to `to` is a legal edge
// in the strategy lifecycle DFA.
func CanTransition(from, to StrategyStatus) bool {
	edges, ok := validStrategyTransitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// Position is a strategy's current signed exposure on its trading pair.
// Positive Size is long, negative is short.
type Position struct {
	Size          float64 `json:"size"`
	EntryVWAP     float64 `json:"entry_vwap"`
	RealizedPnL   float64 `json:"realized_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// IsFlat reports whether the position is effectively zero, within a small
// epsilon to absorb float accumulation error.
func (p Position) IsFlat() bool {
	const epsilon = 1e-9
	return p.Size > -epsilon && p.Size < epsilon
}

// Counters tracks per-strategy action outcomes.
type Counters struct {
	TotalActions     int64 `json:"total_actions"`
	SuccessfulOrders int64 `json:"successful_orders"`
	FailedOrders     int64 `json:"failed_orders"`
}

// StrategyRuntime is the mutable execution state for one StrategyConfig.
// Ownership: internal/registry exclusively mutates this via
// UpdateRuntime; internal/strategy holds a read snapshot plus the right to
// request mutations.
type StrategyRuntime struct {
	StrategyID     string                  `json:"strategy_id"`
	Status         StrategyStatus          `json:"status"`
	LastTickAt     time.Time               `json:"last_tick_at"`
	NextEligibleAt time.Time               `json:"next_eligible_at"`
	LiveOrders     map[string]*OrderRecord `json:"live_orders"`
	Position       Position                `json:"position"`
	Counters       Counters                `json:"counters"`
	RecentActions  []Activity              `json:"recent_actions"`
	ErrorState     string                  `json:"error_state,omitempty"`

	// BudgetExceededCount counts soft-tick-budget overruns ;
	// it never kills the strategy, only informs back-off.
	BudgetExceededCount int64     `json:"budget_exceeded_count"`
	BackoffUntil        time.Time `json:"backoff_until,omitempty"`
}

// RecentActionsCap bounds the per-strategy activity ring.
const RecentActionsCap = 50

// AppendRecentAction appends to the bounded ring, evicting the oldest entry
// once capacity is reached.
func (r *StrategyRuntime) AppendRecentAction(a Activity) {
	r.RecentActions = append(r.RecentActions, a)
	if len(r.RecentActions) > RecentActionsCap {
		r.RecentActions = r.RecentActions[len(r.RecentActions)-RecentActionsCap:]
	}
}
