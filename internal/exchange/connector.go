package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hivebot/hive/internal/crypto"
	"github.com/hivebot/hive/internal/domain"
)

// Config bundles the REST and WS parameters for a single venue connection.
type Config struct {
	RESTHost            string
	WsHost              string
	ChainID             int
	RequestTimeout      time.Duration
	GlobalRatePerSecond int
	SymbolRatePerSecond int
}

// Connector is the Exchange Connector: one shared REST+WS client per venue,
// metadata cache, and rate limiter, used by every hosted strategy through
// the Order Gateway and Market Data Hub.
type Connector struct {
	rest    *RESTClient
	ws      *WSClient
	limiter *TwoLevelLimiter

	metaMu sync.RWMutex
	meta   map[string]domain.InstrumentMeta
}

// New creates a Connector from cfg, a delegated-key signer, and a
// distributed rate limiter.
func New(cfg Config, signer *crypto.Signer, limiter domain.RateLimiter) *Connector {
	rest := NewRESTClient(RESTConfig{
		BaseURL: cfg.RESTHost,
		ChainID: cfg.ChainID,
		RequestTimeout: cfg.RequestTimeout,
	}, signer)

	return &Connector{
		rest: rest,
		ws: NewWSClient(cfg.WsHost),
		limiter: NewTwoLevelLimiter(limiter, cfg.GlobalRatePerSecond, cfg.SymbolRatePerSecond),
		meta: make(map[string]domain.InstrumentMeta),
	}
}

// Connect dials the venue's WebSocket feed. REST calls need no persistent
// connection.
func (c *Connector) Connect(ctx context.Context) error {
	return c.ws.Connect(ctx)
}

// Close tears down the WS connection.
func (c *Connector) Close() error {
	return c.ws.Close()
}

// WS exposes the shared WebSocket client for the Market Data Hub to attach
// handlers and manage subscriptions.
func (c *Connector) WS() *WSClient { return c.ws }

// PlaceOrder signs and submits a create action, rounding price/size against
// cached instrument metadata first.
func (c *Connector) PlaceOrder(ctx context.Context, in domain.Intent) (string, error) {
	ok, err := c.limiter.Allow(ctx, in.Symbol)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("exchange: %w", domain.ErrRateLimited)
	}

	if meta, found := c.InstrumentMeta(in.Symbol); found {
		in.Price = meta.RoundPrice(in.Price)
		in.Size = meta.RoundSize(in.Size)
	}

	return c.rest.PlaceOrder(ctx, in)
}

// CancelOrder signs and submits a cancel action.
func (c *Connector) CancelOrder(ctx context.Context, symbol, orderID string) error {
	ok, err := c.limiter.Allow(ctx, symbol)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("exchange: %w", domain.ErrRateLimited)
	}
	return c.rest.CancelOrder(ctx, symbol, orderID)
}

// CancelAll cancels every open order on a symbol (used by the Close
// Protocol's cancel step, ).
func (c *Connector) CancelAll(ctx context.Context, symbol string) error {
	return c.rest.CancelAll(ctx, symbol)
}

// Positions returns the account's open positions.
func (c *Connector) Positions(ctx context.Context) ([]domain.ExchangePosition, error) {
	return c.rest.Positions(ctx)
}

// Balances returns the account's margin snapshot.
func (c *Connector) Balances(ctx context.Context) (domain.Balances, error) {
	return c.rest.Balances(ctx)
}

// LoadInstrumentMeta fetches and caches tick/lot metadata for symbol.
func (c *Connector) LoadInstrumentMeta(ctx context.Context, symbol string) (domain.InstrumentMeta, error) {
	meta, err := c.rest.InstrumentMeta(ctx, symbol)
	if err != nil {
		return domain.InstrumentMeta{}, err
	}
	c.metaMu.Lock()
	c.meta[symbol] = meta
	c.metaMu.Unlock()
	return meta, nil
}

// InstrumentMeta returns a cached metadata entry, if present.
func (c *Connector) InstrumentMeta(symbol string) (domain.InstrumentMeta, bool) {
	c.metaMu.RLock()
	defer c.metaMu.RUnlock()
	meta, ok := c.meta[symbol]
	return meta, ok
}
