package domain

import "time"

// OrderSide is buy or sell.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// OrderType mirrors the venue's supported time-in-force/order styles.
type OrderType string

const (
	OrderGTC OrderType = "GTC"
	OrderGTD OrderType = "GTD"
	OrderFOK OrderType = "FOK"
	OrderFAK OrderType = "FAK"
)

// OrderState is the DFA state of one OrderRecord. Transitions are
// monotonic: pending_new -> open -> {partially_filled ->...} -> filled, or
// any live state -> cancelled/rejected.
type OrderState string

const (
	OrderPendingNew      OrderState = "pending_new"
	OrderOpen            OrderState = "open"
	OrderPartiallyFilled OrderState = "partially_filled"
	OrderFilled          OrderState = "filled"
	OrderCancelled       OrderState = "cancelled"
	OrderRejected        OrderState = "rejected"
)

// terminalOrderStates are states an OrderRecord never leaves.
var terminalOrderStates = map[OrderState]bool{
	OrderFilled: true,
	OrderCancelled: true,
	OrderRejected: true,
}

// IsTerminal reports whether the state is terminal.
func (s OrderState) IsTerminal() bool { return terminalOrderStates[s] }

// OrderRecord is one order tracked against a strategy's live_orders map.
type OrderRecord struct {
	ClientOrderID   string     `json:"client_order_id"`
	ExchangeOrderID string     `json:"exchange_order_id,omitempty"`
	StrategyID      string     `json:"strategy_id"`
	Symbol          string     `json:"symbol"`
	Side            OrderSide  `json:"side"`
	Type            OrderType  `json:"type"`
	Price           float64    `json:"price"`
	Size            float64    `json:"size"`
	FilledSize      float64    `json:"filled_size"`
	ReduceOnly      bool       `json:"reduce_only"`
	State           OrderState `json:"state"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Remaining returns the unfilled portion of the order's size.
func (o *OrderRecord) Remaining() float64 {
	r := o.Size - o.FilledSize
	if r < 0 {
		return 0
	}
	return r
}

// Intent is what a Strategy Host emits toward the Order Gateway.
// Exactly one of Create/Cancel/CancelAllFor applies per intent, selected by
// Kind — a closed tagged union rather than an open interface
type IntentKind string

const (
	IntentCreate       IntentKind = "create"
	IntentCancel       IntentKind = "cancel"
	IntentCancelAllFor IntentKind = "cancel_all"
)

// Intent is a single outbound action attributed to a strategy.
type Intent struct {
	Kind       IntentKind
	StrategyID string
	Symbol     string

	// Create fields.
	Side          OrderSide
	Type          OrderType
	Price         float64
	Size          float64
	ReduceOnly    bool
	ClientOrderID string

	// Cancel fields.
	OrderID string // exchange or client order id, resolved by the gateway

	EnqueuedAt time.Time
}

// IntentOutcome is the asynchronous completion of a submitted Intent.
type IntentOutcome struct {
	Intent      Intent
	Accepted    bool
	Kind        ErrorKind
	Message     string
	ShouldRetry bool
}

// Position/account snapshots returned by the exchange connector.
type ExchangePosition struct {
	Symbol        string
	Size          float64
	EntryPrice    float64
	UnrealizedPnL float64
}

// Balances is the account's margin/collateral snapshot.
type Balances struct {
	Equity          float64
	AvailableMargin float64
	MarginFraction  float64
}
