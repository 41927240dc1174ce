package strategy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hivebot/hive/internal/domain"
)

func testPMMConfig() domain.StrategyConfig {
	return domain.StrategyConfig{
		ID: "strat-pmm1",
		Name: "pmm1",
		Type: domain.StrategyPureMarketMaking,
		TradingPair: "ETH-USD",
		TotalAmountQuote: 1000,
		PMM: &domain.PMMParams{
			BidSpread: 0.002,
			AskSpread: 0.002,
			OrderAmount: 0.001,
			OrderLevels: 1,
			OrderRefreshTime: 10,
		},
	}
}

func TestNewPureMarketMakingRequiresParams(t *testing.T) {
	cfg := testPMMConfig()
	cfg.PMM = nil
	_, err := NewPureMarketMaking(cfg)
	require.ErrorIs(t, err, domain.ErrInvalidConfig)
}

// First tick with an empty book of live orders produces exactly the
// two-sided ladder: buy@99.80 and sell@100.20 around mid 100.
func TestPMMFirstTickEmitsSymmetricLadder(t *testing.T) {
	p, err := NewPureMarketMaking(testPMMConfig())
	require.NoError(t, err)

	result, err := p.OnTick(context.Background(), TickInput{
		Book: domain.MarketBook{Symbol: "ETH-USD", Mid: 100.00},
		Runtime: domain.StrategyRuntime{LiveOrders: map[string]*domain.OrderRecord{}},
	})
	require.NoError(t, err)
	require.Len(t, result.Intents, 2)

	byside := map[domain.OrderSide]domain.Intent{}
	for _, in := range result.Intents {
		require.Equal(t, domain.IntentCreate, in.Kind)
		require.Equal(t, "strat-pmm1", in.StrategyID)
		byside[in.Side] = in
	}
	require.InDelta(t, 99.80, byside[domain.SideBuy].Price, 1e-9)
	require.InDelta(t, 100.20, byside[domain.SideSell].Price, 1e-9)
	require.InDelta(t, 0.001, byside[domain.SideBuy].Size, 1e-12)
	require.InDelta(t, 0.001, byside[domain.SideSell].Size, 1e-12)
}

// After the mid moves, the stale resting ladder is cancelled and replaced at
// the new levels: two cancels and two creates at 99.90/100.30 for mid 100.10.
func TestPMMTickAfterMidMoveRefreshesLadder(t *testing.T) {
	p, err := NewPureMarketMaking(testPMMConfig())
	require.NoError(t, err)

	live := map[string]*domain.OrderRecord{
		"strat-pmm1-1": {ClientOrderID: "strat-pmm1-1", Side: domain.SideBuy, Price: 99.80, Size: 0.001, State: domain.OrderOpen},
		"strat-pmm1-2": {ClientOrderID: "strat-pmm1-2", Side: domain.SideSell, Price: 100.20, Size: 0.001, State: domain.OrderOpen},
	}

	result, err := p.OnTick(context.Background(), TickInput{
		Book: domain.MarketBook{Symbol: "ETH-USD", Mid: 100.10},
		Runtime: domain.StrategyRuntime{LiveOrders: live},
	})
	require.NoError(t, err)

	var cancels, creates []domain.Intent
	for _, in := range result.Intents {
		switch in.Kind {
		case domain.IntentCancel:
			cancels = append(cancels, in)
		case domain.IntentCreate:
			creates = append(creates, in)
		}
	}
	require.Len(t, cancels, 2)
	require.Len(t, creates, 2)

	prices := map[domain.OrderSide]float64{}
	for _, in := range creates {
		prices[in.Side] = in.Price
	}
	require.InDelta(t, 100.10*(1-0.002), prices[domain.SideBuy], 1e-9)
	require.InDelta(t, 100.10*(1+0.002), prices[domain.SideSell], 1e-9)
}

// An unchanged mid produces no churn: the resting ladder already matches the
// target, so the tick is a no-op.
func TestPMMStableMidEmitsNothing(t *testing.T) {
	p, err := NewPureMarketMaking(testPMMConfig())
	require.NoError(t, err)

	live := map[string]*domain.OrderRecord{
		"strat-pmm1-1": {ClientOrderID: "strat-pmm1-1", Side: domain.SideBuy, Price: 99.80, Size: 0.001, State: domain.OrderOpen},
		"strat-pmm1-2": {ClientOrderID: "strat-pmm1-2", Side: domain.SideSell, Price: 100.20, Size: 0.001, State: domain.OrderOpen},
	}

	result, err := p.OnTick(context.Background(), TickInput{
		Book: domain.MarketBook{Symbol: "ETH-USD", Mid: 100.00},
		Runtime: domain.StrategyRuntime{LiveOrders: live},
		Meta: domain.InstrumentMeta{TickSize: 0.01, LotSize: 0.0001},
	})
	require.NoError(t, err)
	require.Empty(t, result.Intents)
}

func TestPMMInventorySkewBiasesLadder(t *testing.T) {
	cfg := testPMMConfig()
	cfg.PMM.InventorySkewEnabled = true
	p, err := NewPureMarketMaking(cfg)
	require.NoError(t, err)

	// Long half the budget: the bid should widen and the ask tighten.
	skewed := p.ladder(100, domain.Position{Size: 500})
	neutral := p.ladder(100, domain.Position{})

	var skewedBid, neutralBid, skewedAsk, neutralAsk float64
	for i, q := range skewed {
		if q.Side == domain.SideBuy {
			skewedBid, neutralBid = q.Price, neutral[i].Price
		} else {
			skewedAsk, neutralAsk = q.Price, neutral[i].Price
		}
	}
	require.Less(t, skewedBid, neutralBid)
	require.Less(t, skewedAsk, neutralAsk)
}

func TestPMMHangingOrdersSurviveRefresh(t *testing.T) {
	cfg := testPMMConfig()
	cfg.PMM.HangingOrdersEnabled = true
	p, err := NewPureMarketMaking(cfg)
	require.NoError(t, err)

	live := map[string]*domain.OrderRecord{
		"strat-pmm1-1": {ClientOrderID: "strat-pmm1-1", Side: domain.SideBuy, Price: 98.00, Size: 0.001, FilledSize: 0.0004, State: domain.OrderPartiallyFilled},
	}

	result, err := p.OnTick(context.Background(), TickInput{
		Book: domain.MarketBook{Symbol: "ETH-USD", Mid: 100.00},
		Runtime: domain.StrategyRuntime{LiveOrders: live},
	})
	require.NoError(t, err)

	for _, in := range result.Intents {
		require.NotEqual(t, domain.IntentCancel, in.Kind, "a hanging partially-filled order must not be cancelled")
	}
}

func TestPMMPriceFloorCeilingClamp(t *testing.T) {
	cfg := testPMMConfig()
	cfg.PMM.PriceFloor = 99.9
	cfg.PMM.PriceCeiling = 100.1
	p, err := NewPureMarketMaking(cfg)
	require.NoError(t, err)

	result, err := p.OnTick(context.Background(), TickInput{
		Book: domain.MarketBook{Symbol: "ETH-USD", Mid: 100.00},
		Runtime: domain.StrategyRuntime{LiveOrders: map[string]*domain.OrderRecord{}},
	})
	require.NoError(t, err)
	for _, in := range result.Intents {
		require.GreaterOrEqual(t, in.Price, 99.9)
		require.LessOrEqual(t, in.Price, 100.1)
	}
}
