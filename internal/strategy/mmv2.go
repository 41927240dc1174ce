package strategy

import (
	"context"
	"fmt"

	"github.com/hivebot/hive/internal/domain"
)

// MarketMakingV2 quotes a multi-level ladder whose per-level spreads and
// sizes come directly from buy_spreads/sell_spreads and
// buy_amounts_pct/sell_amounts_pct, rather than PureMarketMaking's uniform
// per-level widening.
type MarketMakingV2 struct {
	cfg     domain.StrategyConfig
	params  domain.MMV2Params
	counter *clientOrderIDCounter
}

// NewMarketMakingV2 constructs a MarketMakingV2 strategy from cfg,
// requiring cfg.MMV2 to be populated with matching-length spread/size slices.
func NewMarketMakingV2(cfg domain.StrategyConfig) (*MarketMakingV2, error) {
	if cfg.MMV2 == nil {
		return nil, fmt.Errorf("strategy: market_making_v2 requires MMV2 params: %w", domain.ErrInvalidConfig)
	}
	p := *cfg.MMV2
	if len(p.BuySpreads) != len(p.BuyAmountsPct) {
		return nil, fmt.Errorf("strategy: market_making_v2 buy_spreads/buy_amounts_pct length mismatch: %w", domain.ErrInvalidConfig)
	}
	if len(p.SellSpreads) != len(p.SellAmountsPct) {
		return nil, fmt.Errorf("strategy: market_making_v2 sell_spreads/sell_amounts_pct length mismatch: %w", domain.ErrInvalidConfig)
	}
	return &MarketMakingV2{
		cfg: cfg,
		params: p,
		counter: newClientOrderIDCounter(cfg.ID),
	}, nil
}

// OnTick computes the independent bid/ask ladders and diffs them against
// live orders, same translation pipeline as PureMarketMaking.
func (m *MarketMakingV2) OnTick(ctx context.Context, in TickInput) (TickResult, error) {
	if in.Book.Mid <= 0 {
		return TickResult{}, nil
	}

	target := m.ladder(in.Book.Mid)

	tol := DiffTolerance{PriceTol: tickToleranceFor(in.Meta), SizeTol: lotToleranceFor(in.Meta)}
	cancels, creates := DiffQuotes(target, in.Runtime.LiveOrders, nil, tol)

	intents := BuildIntents(m.cfg.ID, m.cfg.TradingPair, cancels, creates, func(int) string { return m.counter.Next() })
	return TickResult{Intents: intents}, nil
}

// ladder builds the bid side from buy_spreads/buy_amounts_pct and the ask
// side from sell_spreads/sell_amounts_pct, each level's size a percentage of
// the strategy's total_amount_quote valued at mid.
func (m *MarketMakingV2) ladder(mid float64) []Quote {
	quotes := make([]Quote, 0, len(m.params.BuySpreads)+len(m.params.SellSpreads))

	for i, spread := range m.params.BuySpreads {
		size := sizeFromPct(m.params.BuyAmountsPct[i], m.cfg.TotalAmountQuote, mid)
		if size <= 0 {
			continue
		}
		quotes = append(quotes, Quote{Side: domain.SideBuy, Price: mid * (1 - spread), Size: size})
	}

	for i, spread := range m.params.SellSpreads {
		size := sizeFromPct(m.params.SellAmountsPct[i], m.cfg.TotalAmountQuote, mid)
		if size <= 0 {
			continue
		}
		quotes = append(quotes, Quote{Side: domain.SideSell, Price: mid * (1 + spread), Size: size})
	}

	return quotes
}

// sizeFromPct converts a 0-100 allocation percentage into a base-asset
// order size at the given price.
func sizeFromPct(pct, totalAmountQuote, price float64) float64 {
	if price <= 0 {
		return 0
	}
	return (totalAmountQuote * pct / 100) / price
}

// OnEvent is a no-op for MarketMakingV2: the ladder is recomputed fresh from
// total_amount_quote and the current mid every eligible tick.
func (m *MarketMakingV2) OnEvent(ctx context.Context, order domain.OrderRecord) error { return nil }

// Close requests cancellation of every resting order for this strategy.
func (m *MarketMakingV2) Close(ctx context.Context) ([]domain.Intent, error) {
	return []domain.Intent{{
		Kind: domain.IntentCancelAllFor,
		StrategyID: m.cfg.ID,
		Symbol: m.cfg.TradingPair,
	}}, nil
}

var _ Strategy = (*MarketMakingV2)(nil)
