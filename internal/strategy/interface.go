// Package strategy implements the Strategy Host: a closed
// interface over the recognized strategy variants, with quote/signal
// translation into concrete create/cancel intents handled by shared free
// functions (ladder diffing, risk gates) rather than inheritance.
package strategy

import (
	"context"
	"time"

	"github.com/hivebot/hive/internal/domain"
)

// TickInput is everything a strategy needs to compute its desired action on
// one scheduler tick. Runtime is a read-only snapshot; strategies never
// mutate it directly (internal/registry owns that, ).
type TickInput struct {
	Now     time.Time
	Book    domain.MarketBook
	Candles []domain.Candle
	Runtime domain.StrategyRuntime
	Meta    domain.InstrumentMeta
}

// TickResult is what a strategy wants to happen this tick: zero or more
// intents bound for the Order Gateway.
type TickResult struct {
	Intents []domain.Intent
}

// Strategy is the closed contract every hosted strategy variant implements.
// There is no inheritance between
// variants; shared behavior (ladder diffing, risk gates) lives in free
// functions that each variant calls explicitly.
type Strategy interface {
	// OnTick computes this tick's desired intents from the current market
	// and runtime snapshot. It must not block: all I/O is
	// the caller's (Strategy Host's) responsibility via the gateway.
	OnTick(ctx context.Context, in TickInput) (TickResult, error)

	// OnEvent is invoked for fills/order-state changes so the strategy can
	// update internal executor state (e.g. DirectionalTrading's
	// cooldown/active-executor tracking).
	OnEvent(ctx context.Context, order domain.OrderRecord) error

	// Close returns the intents needed to stop trading immediately: at
	// minimum a CancelAllFor. The Close Protocol (internal/closeproto)
	// drives the rest of shutdown (flatten, snapshot).
	Close(ctx context.Context) ([]domain.Intent, error)
}

// New constructs the Strategy implementation for cfg.Type, or
// domain.ErrStrategyUnsupported for a recognized-but-unimplemented variant.
func New(cfg domain.StrategyConfig) (Strategy, error) {
	switch cfg.Type {
	case domain.StrategyPureMarketMaking:
		return NewPureMarketMaking(cfg)
	case domain.StrategyDirectionalTrading:
		return NewDirectionalTrading(cfg)
	case domain.StrategyMarketMakingV2:
		return NewMarketMakingV2(cfg)
	case domain.StrategyArbitrage:
		return nil, domain.ErrStrategyUnsupported
	default:
		return nil, domain.ErrStrategyUnsupported
	}
}
