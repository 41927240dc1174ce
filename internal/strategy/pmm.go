package strategy

import (
	"context"
	"fmt"

	"github.com/hivebot/hive/internal/domain"
)

// PureMarketMaking maintains a symmetric resting-order ladder around mid,
// diffing against live orders to emit the minimal cancel/create set each
// eligible tick.
type PureMarketMaking struct {
	cfg     domain.StrategyConfig
	params  domain.PMMParams
	counter *clientOrderIDCounter
}

// NewPureMarketMaking constructs a PureMarketMaking strategy from cfg,
// requiring cfg.PMM to be populated.
func NewPureMarketMaking(cfg domain.StrategyConfig) (*PureMarketMaking, error) {
	if cfg.PMM == nil {
		return nil, fmt.Errorf("strategy: pure_market_making requires PMM params: %w", domain.ErrInvalidConfig)
	}
	return &PureMarketMaking{
		cfg: cfg,
		params: *cfg.PMM,
		counter: newClientOrderIDCounter(cfg.ID),
	}, nil
}

// OnTick computes the target ladder for the current mid and diffs it
// against live orders.
func (p *PureMarketMaking) OnTick(ctx context.Context, in TickInput) (TickResult, error) {
	if in.Book.Mid <= 0 {
		return TickResult{}, nil
	}

	target := p.ladder(in.Book.Mid, in.Runtime.Position)

	if p.params.PriceCeiling > 0 || p.params.PriceFloor > 0 {
		target = clampLadder(target, p.params.PriceFloor, p.params.PriceCeiling)
	}

	tol := DiffTolerance{PriceTol: tickToleranceFor(in.Meta), SizeTol: lotToleranceFor(in.Meta)}
	live := liveNonHanging(in.Runtime.LiveOrders, p.params.HangingOrdersEnabled)
	cancels, creates := DiffQuotes(target, live, nil, tol)

	intents := BuildIntents(p.cfg.ID, p.cfg.TradingPair, cancels, creates, func(int) string { return p.counter.Next() })
	return TickResult{Intents: intents}, nil
}

// ladder builds the symmetric bid/ask ladder for order_levels, widening the
// spread per level and applying an inventory skew when enabled.
func (p *PureMarketMaking) ladder(mid float64, position domain.Position) []Quote {
	levels := p.params.OrderLevels
	if levels < 1 {
		levels = 1
	}

	bidSkew, askSkew := 1.0, 1.0
	if p.params.InventorySkewEnabled {
		bidSkew, askSkew = inventorySkewFactors(position.Size, p.cfg.TotalAmountQuote)
	}

	quotes := make([]Quote, 0, levels*2)
	for level := 0; level < levels; level++ {
		widen := float64(level + 1)

		bidSpread := p.params.BidSpread * widen * bidSkew
		askSpread := p.params.AskSpread * widen * askSkew
		if p.params.MinimumSpread > 0 {
			if bidSpread < p.params.MinimumSpread {
				bidSpread = p.params.MinimumSpread
			}
			if askSpread < p.params.MinimumSpread {
				askSpread = p.params.MinimumSpread
			}
		}

		quotes = append(quotes,
			Quote{Side: domain.SideBuy, Price: mid * (1 - bidSpread), Size: p.params.OrderAmount},
			Quote{Side: domain.SideSell, Price: mid * (1 + askSpread), Size: p.params.OrderAmount},
		)
	}
	return quotes
}

// inventorySkewFactors biases bid/ask spread multipliers away from 1.0 in
// proportion to the strategy's signed position relative to its configured
// notional budget: a long position widens the bid (discourage buying more)
// and tightens the ask (encourage selling down), and vice versa for short.
func inventorySkewFactors(positionSize, totalAmountQuote float64) (bidFactor, askFactor float64) {
	if totalAmountQuote <= 0 {
		return 1, 1
	}
	ratio := positionSize / totalAmountQuote
	if ratio > 1 {
		ratio = 1
	}
	if ratio < -1 {
		ratio = -1
	}
	return 1 + ratio, 1 - ratio
}

func clampLadder(quotes []Quote, floor, ceiling float64) []Quote {
	out := make([]Quote, 0, len(quotes))
	for _, q := range quotes {
		if floor > 0 && q.Price < floor {
			q.Price = floor
		}
		if ceiling > 0 && q.Price > ceiling {
			q.Price = ceiling
		}
		out = append(out, q)
	}
	return out
}

// liveNonHanging filters out partially_filled orders from the diff input
// when hanging_orders_enabled, so DiffQuotes never proposes cancelling them
// even if they no longer match a target quote.
func liveNonHanging(live map[string]*domain.OrderRecord, hangingEnabled bool) map[string]*domain.OrderRecord {
	if !hangingEnabled {
		return live
	}
	out := make(map[string]*domain.OrderRecord, len(live))
	for id, o := range live {
		if o.State == domain.OrderPartiallyFilled {
			continue
		}
		out[id] = o
	}
	return out
}

func tickToleranceFor(meta domain.InstrumentMeta) float64 {
	if meta.TickSize > 0 {
		return meta.TickSize / 2
	}
	return 0
}

func lotToleranceFor(meta domain.InstrumentMeta) float64 {
	if meta.LotSize > 0 {
		return meta.LotSize / 2
	}
	return 0
}

// OnEvent is a no-op for PureMarketMaking: live order state is tracked by
// the registry from the same fill/order events, and the ladder is
// recomputed fresh every eligible tick.
func (p *PureMarketMaking) OnEvent(ctx context.Context, order domain.OrderRecord) error { return nil }

// Close requests cancellation of every resting order for this strategy.
func (p *PureMarketMaking) Close(ctx context.Context) ([]domain.Intent, error) {
	return []domain.Intent{{
		Kind: domain.IntentCancelAllFor,
		StrategyID: p.cfg.ID,
		Symbol: p.cfg.TradingPair,
	}}, nil
}

var _ Strategy = (*PureMarketMaking)(nil)
