// Package feed implements the Market Data Hub: a single multiplexed
// market-data subscription per symbol, shared across every strategy that
// trades it.
package feed

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hivebot/hive/internal/domain"
)

// Connector is the subset of internal/exchange.Connector the hub depends
// on, narrowed to the subscription/read surface it actually uses.
type Connector interface {
	WS() WSSubscriber
}

// WSSubscriber is the subset of exchange.WSClient the hub drives directly.
type WSSubscriber interface {
	SubscribeBook(symbol string) error
	Unsubscribe(channel, symbol string) error
	OnBook(func(domain.MarketBook))
	OnReconnect(func(symbols []string))
}

// entry is the hub's per-symbol bookkeeping: a lock-free latest-book pointer
// plus a strategy refcount controlling subscribe/unsubscribe.
type entry struct {
	book     atomic.Pointer[domain.MarketBook]
	refCount int32

	lingerMu    sync.Mutex
	lingerTimer *time.Timer
}

// Hub is the Market Data Hub. It owns the shared WS subscription set,
// refcounts strategy interest per symbol, and serves non-blocking snapshot
// reads to the Strategy Host.
type Hub struct {
	ws     WSSubscriber
	logger *slog.Logger

	staleThreshold time.Duration
	lingerWindow   time.Duration

	mu      sync.Mutex
	symbols map[string]*entry

	updateMu sync.RWMutex
	onUpdate []func(domain.MarketBook)
	onResync []func(symbols []string)
}

// New creates a Hub bound to a connector's WebSocket client.
func New(ws WSSubscriber, staleThreshold, lingerWindow time.Duration, logger *slog.Logger) *Hub {
	h := &Hub{
		ws: ws,
		logger: logger,
		staleThreshold: staleThreshold,
		lingerWindow: lingerWindow,
		symbols: make(map[string]*entry),
	}

	ws.OnBook(h.handleBook)
	ws.OnReconnect(h.handleReconnect)

	return h
}

// Subscribe registers strategy interest in symbol, issuing the venue
// subscription on the first caller and cancelling any pending linger-window
// unsubscribe. The returned function releases this caller's interest.
func (h *Hub) Subscribe(symbol string) (release func(), err error) {
	h.mu.Lock()
	e, ok := h.symbols[symbol]
	if !ok {
		e = &entry{}
		h.symbols[symbol] = e
	}
	e.refCount++
	first := e.refCount == 1
	h.mu.Unlock()

	e.lingerMu.Lock()
	if e.lingerTimer != nil {
		e.lingerTimer.Stop()
		e.lingerTimer = nil
	}
	e.lingerMu.Unlock()

	if first {
		if err := h.ws.SubscribeBook(symbol); err != nil {
			h.mu.Lock()
			e.refCount--
			h.mu.Unlock()
			return nil, fmt.Errorf("feed: subscribe %s: %w", symbol, err)
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { h.unsubscribe(symbol) })
	}, nil
}

// unsubscribe decrements the refcount and, once it reaches zero, schedules
// the venue unsubscribe after the linger window so a strategy restart does
// not cause a subscribe/unsubscribe thrash.
func (h *Hub) unsubscribe(symbol string) {
	h.mu.Lock()
	e, ok := h.symbols[symbol]
	if !ok {
		h.mu.Unlock()
		return
	}
	e.refCount--
	shouldLinger := e.refCount <= 0
	h.mu.Unlock()

	if !shouldLinger {
		return
	}

	e.lingerMu.Lock()
	defer e.lingerMu.Unlock()
	if e.lingerTimer != nil {
		e.lingerTimer.Stop()
	}
	e.lingerTimer = time.AfterFunc(h.lingerWindow, func() {
		h.mu.Lock()
		stillIdle := e.refCount <= 0
		if stillIdle {
			delete(h.symbols, symbol)
		}
		h.mu.Unlock()

		if stillIdle {
			if err := h.ws.Unsubscribe("l2Book", symbol); err != nil {
				h.logger.Warn("feed: unsubscribe failed", slog.String("symbol", symbol), slog.String("error", err.Error()))
			}
		}
	})
}

// Latest returns the most recent snapshot for symbol without blocking,
// along with whether one has ever been received.
func (h *Hub) Latest(symbol string) (domain.MarketBook, bool) {
	h.mu.Lock()
	e, ok := h.symbols[symbol]
	h.mu.Unlock()
	if !ok {
		return domain.MarketBook{}, false
	}
	b := e.book.Load()
	if b == nil {
		return domain.MarketBook{}, false
	}
	return *b, true
}

// IsFresh reports whether symbol's latest snapshot is within the
// configured staleness threshold as of now.
func (h *Hub) IsFresh(symbol string, now time.Time) bool {
	book, ok := h.Latest(symbol)
	if !ok {
		return false
	}
	return book.IsFresh(now, h.staleThreshold)
}

// OnUpdate registers a callback invoked synchronously on every book update
// this process receives for a subscribed symbol.
func (h *Hub) OnUpdate(fn func(domain.MarketBook)) {
	h.updateMu.Lock()
	defer h.updateMu.Unlock()
	h.onUpdate = append(h.onUpdate, fn)
}

// OnResync registers a callback invoked after a reconnect's subscription
// replay, before further updates flow, so consumers can treat prior
// open-order assumptions as potentially stale.
func (h *Hub) OnResync(fn func(symbols []string)) {
	h.updateMu.Lock()
	defer h.updateMu.Unlock()
	h.onResync = append(h.onResync, fn)
}

func (h *Hub) handleBook(book domain.MarketBook) {
	h.mu.Lock()
	e, ok := h.symbols[book.Symbol]
	h.mu.Unlock()
	if !ok {
		// No active subscriber interest; drop (a race with unsubscribe).
		return
	}

	book.LastUpdateTS = time.Now()
	book.Stale = false
	e.book.Store(&book)

	h.updateMu.RLock()
	defer h.updateMu.RUnlock()
	for _, fn := range h.onUpdate {
		fn(book)
	}
}

// handleReconnect marks every currently subscribed symbol's book stale
// until a fresh snapshot arrives, so strategies don't trade on pre-gap
// state.
func (h *Hub) handleReconnect(symbols []string) {
	h.mu.Lock()
	for _, sym := range symbols {
		e, ok := h.symbols[sym]
		if !ok {
			continue
		}
		if b := e.book.Load(); b != nil {
			stale := *b
			stale.Stale = true
			e.book.Store(&stale)
		}
	}
	h.mu.Unlock()

	h.updateMu.RLock()
	defer h.updateMu.RUnlock()
	for _, fn := range h.onResync {
		fn(symbols)
	}
}
