package feed

import (
	"sync"

	"github.com/hivebot/hive/internal/domain"
)

// candleCap bounds the retained candle history per (symbol, interval),
// enough for the longest indicator lookback among the shipped strategy
// controllers (bollinger/macd_bb/supertrend/dman_v3, ).
const candleCap = 500

// CandleFeed tracks closed candles per (symbol, interval) for
// DirectionalTrading strategies, fed by the connector's candles.<interval>
// channel.
type CandleFeed struct {
	ws WSCandleSubscriber

	mu     sync.Mutex
	series map[string][]domain.Candle // key: symbol+"|"+interval
	refs   map[string]int32
}

// WSCandleSubscriber is the subset of the WS client CandleFeed drives.
type WSCandleSubscriber interface {
	SubscribeCandles(symbol, interval string) error
	Unsubscribe(channel, symbol string) error
	OnCandle(func(domain.Candle))
}

// NewCandleFeed creates a CandleFeed bound to a connector's WebSocket client.
func NewCandleFeed(ws WSCandleSubscriber) *CandleFeed {
	cf := &CandleFeed{
		ws: ws,
		series: make(map[string][]domain.Candle),
		refs: make(map[string]int32),
	}
	ws.OnCandle(cf.handleCandle)
	return cf
}

func candleKey(symbol, interval string) string { return symbol + "|" + interval }

// Subscribe registers interest in a symbol/interval candle series.
func (cf *CandleFeed) Subscribe(symbol, interval string) error {
	key := candleKey(symbol, interval)

	cf.mu.Lock()
	cf.refs[key]++
	first := cf.refs[key] == 1
	cf.mu.Unlock()

	if first {
		return cf.ws.SubscribeCandles(symbol, interval)
	}
	return nil
}

// Series returns the retained closed candles for a symbol/interval, oldest
// first.
func (cf *CandleFeed) Series(symbol, interval string) []domain.Candle {
	cf.mu.Lock()
	defer cf.mu.Unlock()
	src := cf.series[candleKey(symbol, interval)]
	out := make([]domain.Candle, len(src))
	copy(out, src)
	return out
}

func (cf *CandleFeed) handleCandle(c domain.Candle) {
	key := candleKey(c.Symbol, c.Interval)

	cf.mu.Lock()
	defer cf.mu.Unlock()
	series := cf.series[key]
	series = append(series, c)
	if len(series) > candleCap {
		series = series[len(series)-candleCap:]
	}
	cf.series[key] = series
}
