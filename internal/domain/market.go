package domain

import "time"

// PriceLevel is one resting size at a price in a depth snapshot.
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// MarketBook is the per-(venue,symbol) consolidated market state the Market
// Data Hub maintains. Updated via copy-on-write: consumers hold a
// snapshot obtained from Latest() and never mutate it in place, so a single
// atomic.Pointer swap in internal/feed is enough to avoid reader/writer
// locking.
type MarketBook struct {
	Symbol       string       `json:"symbol"`
	BestBid      float64      `json:"best_bid"`
	BestAsk      float64      `json:"best_ask"`
	Mid          float64      `json:"mid"`
	LastTrade    float64      `json:"last_trade"`
	Bids         []PriceLevel `json:"bids"` // up to K levels, best first
	Asks         []PriceLevel `json:"asks"`
	LastUpdateTS time.Time    `json:"last_update_ts"`
	Stale        bool         `json:"stale"`
	SequenceNum  uint64       `json:"sequence_num"`
}

// IsFresh reports whether the book is within the given staleness threshold
// as of `now`. Freshness uses strict inequality: a book exactly
// at the threshold is stale.
func (m MarketBook) IsFresh(now time.Time, threshold time.Duration) bool {
	if m.Stale {
		return false
	}
	return now.Sub(m.LastUpdateTS) < threshold
}

// Candle is one OHLCV bar for a configured interval, consumed by
// DirectionalTrading strategies.
type Candle struct {
	Symbol   string    `json:"symbol"`
	Interval string    `json:"interval"`
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Trade is a single executed trade tick on the market (not a fill of our own
// order — those arrive as order/fill events).
type Trade struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	Size   float64   `json:"size"`
	Side   OrderSide `json:"side"`
	TS     time.Time `json:"ts"`
}

// InstrumentMeta is venue metadata the connector caches and rounds
// prices/sizes against before emission.
type InstrumentMeta struct {
	Symbol   string
	TickSize float64
	LotSize  float64
}

// RoundPrice rounds p down to the nearest TickSize.
func (m InstrumentMeta) RoundPrice(p float64) float64 {
	if m.TickSize <= 0 {
		return p
	}
	return float64(int64(p/m.TickSize)) * m.TickSize
}

// RoundSize rounds s down to the nearest LotSize.
func (m InstrumentMeta) RoundSize(s float64) float64 {
	if m.LotSize <= 0 {
		return s
	}
	return float64(int64(s/m.LotSize)) * m.LotSize
}
