package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hivebot/hive/internal/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// reconnectBaseDelay and reconnectMaxDelay bound the exponential
	// backoff on a dropped feed connection.
	reconnectBaseDelay = 500 * time.Millisecond
	reconnectMaxDelay  = 30 * time.Second
)

// BookHandler is invoked for every l2Book snapshot or delta.
type BookHandler func(domain.MarketBook)

// TradeHandler is invoked for every public trade tick.
type TradeHandler func(domain.Trade)

// CandleHandler is invoked for every closed candle on a subscribed interval.
type CandleHandler func(domain.Candle)

// FillHandler is invoked for every fill/order-state update on the user
// channel.
type FillHandler func(domain.OrderRecord)

// ReconnectHandler is invoked after a successful reconnect and subscription
// replay, so the feed can mark affected books for resync.
type ReconnectHandler func(symbols []string)

// wsCommand is the subscribe/unsubscribe envelope sent to the venue.
type wsCommand struct {
	Op      string `json:"op"` // "subscribe" | "unsubscribe"
	Channel string `json:"channel"`
	Symbol  string `json:"symbol,omitempty"`
}

// wsMessage is the generic inbound envelope; Channel discriminates payload.
type wsMessage struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// WSClient is the shared market-data/user-data WebSocket connection used by
// every strategy's subscriptions.
type WSClient struct {
	url string

	mu     sync.RWMutex
	conn   *websocket.Conn
	closed bool

	subs []wsCommand

	handlerMu sync.RWMutex
	onBook    []BookHandler
	onTrade   []TradeHandler
	onCandle  []CandleHandler
	onFill    []FillHandler
	onReconn  []ReconnectHandler

	done chan struct{}
}

// NewWSClient creates a WSClient for the given venue WS URL. Call Connect to
// establish the initial connection.
func NewWSClient(url string) *WSClient {
	return &WSClient{url: url, done: make(chan struct{})}
}

// Connect dials the venue and starts the read/ping loops.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("exchange/ws: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("exchange/ws: connect: %w", err)
	}
	w.conn = conn

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go w.readLoop()
	go w.pingLoop()

	for _, cmd := range w.subs {
		if err := w.send(cmd); err != nil {
			return fmt.Errorf("exchange/ws: replay subscription: %w", err)
		}
	}

	return nil
}

// SubscribeBook subscribes to the l2Book channel for a symbol.
func (w *WSClient) SubscribeBook(symbol string) error {
	return w.subscribe(wsCommand{Op: "subscribe", Channel: "l2Book", Symbol: symbol})
}

// SubscribeTrades subscribes to the trades channel for a symbol.
func (w *WSClient) SubscribeTrades(symbol string) error {
	return w.subscribe(wsCommand{Op: "subscribe", Channel: "trades", Symbol: symbol})
}

// SubscribeCandles subscribes to candles.<interval> for a symbol.
func (w *WSClient) SubscribeCandles(symbol, interval string) error {
	return w.subscribe(wsCommand{Op: "subscribe", Channel: "candles." + interval, Symbol: symbol})
}

// SubscribeUser subscribes to the account's fill/order-state channel.
func (w *WSClient) SubscribeUser(address string) error {
	return w.subscribe(wsCommand{Op: "subscribe", Channel: "user", Symbol: address})
}

// Unsubscribe removes a (channel, symbol) subscription and stops replaying
// it on reconnect.
func (w *WSClient) Unsubscribe(channel, symbol string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	cmd := wsCommand{Op: "unsubscribe", Channel: channel, Symbol: symbol}
	if w.conn != nil {
		if err := w.send(cmd); err != nil {
			return fmt.Errorf("exchange/ws: unsubscribe %s/%s: %w", channel, symbol, err)
		}
	}

	filtered := w.subs[:0]
	for _, s := range w.subs {
		if s.Channel == channel && s.Symbol == symbol {
			continue
		}
		filtered = append(filtered, s)
	}
	w.subs = filtered
	return nil
}

func (w *WSClient) subscribe(cmd wsCommand) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("exchange/ws: not connected")
	}
	if err := w.send(cmd); err != nil {
		return fmt.Errorf("exchange/ws: subscribe %s/%s: %w", cmd.Channel, cmd.Symbol, err)
	}
	w.subs = append(w.subs, cmd)
	return nil
}

// Close shuts the connection down. Idempotent.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	close(w.done)

	if w.conn != nil {
		_ = w.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		return w.conn.Close()
	}
	return nil
}

func (w *WSClient) OnBook(h func(domain.MarketBook)) { w.handlerMu.Lock(); defer w.handlerMu.Unlock(); w.onBook = append(w.onBook, h) }
func (w *WSClient) OnTrade(h TradeHandler) { w.handlerMu.Lock(); defer w.handlerMu.Unlock(); w.onTrade = append(w.onTrade, h) }
func (w *WSClient) OnCandle(h func(domain.Candle)) { w.handlerMu.Lock(); defer w.handlerMu.Unlock(); w.onCandle = append(w.onCandle, h) }
func (w *WSClient) OnFill(h FillHandler) { w.handlerMu.Lock(); defer w.handlerMu.Unlock(); w.onFill = append(w.onFill, h) }
func (w *WSClient) OnReconnect(h func(symbols []string)) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.onReconn = append(w.onReconn, h)
}

func (w *WSClient) send(cmd wsCommand) error {
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *WSClient) readLoop() {
	for {
		select {
		case <-w.done:
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				return
			default:
			}
			w.reconnect()
			return
		}

		w.handleMessage(message)
	}
}

func (w *WSClient) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.mu.RLock()
			conn := w.conn
			w.mu.RUnlock()
			if conn == nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// reconnect retries Connect with exponential backoff and ±20% jitter,
// replaying the subscription set once the connection is back,
// and notifies registered ReconnectHandlers so the feed can mark affected
// books stale until a fresh snapshot lands.
func (w *WSClient) reconnect() {
	delay := reconnectBaseDelay

	for attempt := 0; ; attempt++ {
		select {
		case <-w.done:
			return
		default:
		}

		jitter := 1 + (rand.Float64()*0.4 - 0.2) // +/- 20%
		sleep := time.Duration(float64(delay) * jitter)
		timer := time.NewTimer(sleep)
		select {
		case <-w.done:
			timer.Stop()
			return
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := w.Connect(ctx)
		cancel()
		if err == nil {
			w.notifyReconnect()
			return
		}

		delay *= 2
		if delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}
	}
}

func (w *WSClient) notifyReconnect() {
	w.mu.RLock()
	symbols := make(map[string]struct{})
	for _, s := range w.subs {
		if s.Symbol != "" {
			symbols[s.Symbol] = struct{}{}
		}
	}
	w.mu.RUnlock()

	list := make([]string, 0, len(symbols))
	for s := range symbols {
		list = append(list, s)
	}

	w.handlerMu.RLock()
	defer w.handlerMu.RUnlock()
	for _, h := range w.onReconn {
		h(list)
	}
}

func (w *WSClient) handleMessage(raw []byte) {
	var msg wsMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}

	switch {
	case msg.Channel == "l2Book":
		var book domain.MarketBook
		if json.Unmarshal(msg.Data, &book) == nil {
			w.dispatchBook(book)
		}
	case msg.Channel == "trades":
		var trade domain.Trade
		if json.Unmarshal(msg.Data, &trade) == nil {
			w.dispatchTrade(trade)
		}
	case msg.Channel == "user":
		var order domain.OrderRecord
		if json.Unmarshal(msg.Data, &order) == nil {
			w.dispatchFill(order)
		}
	case len(msg.Channel) > 8 && msg.Channel[:8] == "candles.":
		var candle domain.Candle
		if json.Unmarshal(msg.Data, &candle) == nil {
			w.dispatchCandle(candle)
		}
	}
}

func (w *WSClient) dispatchBook(b domain.MarketBook) {
	w.handlerMu.RLock()
	defer w.handlerMu.RUnlock()
	for _, h := range w.onBook {
		h(b)
	}
}

func (w *WSClient) dispatchTrade(t domain.Trade) {
	w.handlerMu.RLock()
	defer w.handlerMu.RUnlock()
	for _, h := range w.onTrade {
		h(t)
	}
}

func (w *WSClient) dispatchCandle(c domain.Candle) {
	w.handlerMu.RLock()
	defer w.handlerMu.RUnlock()
	for _, h := range w.onCandle {
		h(c)
	}
}

func (w *WSClient) dispatchFill(o domain.OrderRecord) {
	w.handlerMu.RLock()
	defer w.handlerMu.RUnlock()
	for _, h := range w.onFill {
		h(o)
	}
}
