package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/hivebot/hive/internal/domain"
)

// executorSide is which side of the market an open directional position sits
// on.
type executorSide int

const (
	executorLong executorSide = iota
	executorShort
)

// activeExecutor tracks one open directional position from entry to close.
// This
// state lives on the strategy instance, not the registry's StrategyRuntime:
// it is internal bookkeeping the Strategy Host owns, updated via OnEvent as
// fills arrive.
type activeExecutor struct {
	clientOrderID string
	side          executorSide
	entryPrice    float64
	size          float64
	openedAt      time.Time
	peakPrice     float64      // for trailing-stop tracking
	open          bool         // true once the entry order has filled
}

// DirectionalTrading consumes a candle series and opens/closes positions on
// a computed signal in [-1, +1], attaching stop-loss / take-profit /
// trailing-stop / time-limit exits.
type DirectionalTrading struct {
	cfg     domain.StrategyConfig
	params  domain.DirectionalParams
	counter *clientOrderIDCounter

	longExecutors  []*activeExecutor
	shortExecutors []*activeExecutor
	lastCloseAt    time.Time
}

// NewDirectionalTrading constructs a DirectionalTrading strategy from cfg,
// requiring cfg.Directional to be populated.
func NewDirectionalTrading(cfg domain.StrategyConfig) (*DirectionalTrading, error) {
	if cfg.Directional == nil {
		return nil, fmt.Errorf("strategy: directional_trading requires Directional params: %w", domain.ErrInvalidConfig)
	}
	return &DirectionalTrading{
		cfg: cfg,
		params: *cfg.Directional,
		counter: newClientOrderIDCounter(cfg.ID),
	}, nil
}

// OnTick computes the controller's signal from the candle series, manages
// exits on open executors, and opens a new executor when the signal clears
// threshold on a side with capacity and no active cooldown.
func (d *DirectionalTrading) OnTick(ctx context.Context, in TickInput) (TickResult, error) {
	if in.Book.Mid <= 0 {
		return TickResult{}, nil
	}

	var intents []domain.Intent

	intents = append(intents, d.checkExits(in.Book.Mid, in.Now)...)

	signal, ok := d.computeSignal(in.Candles)
	if ok {
		if entry := d.maybeOpen(signal, in.Book.Mid, in.Now); entry != nil {
			intents = append(intents, *entry)
		}
	}

	return TickResult{Intents: intents}, nil
}

// computeSignal dispatches to the configured controller, each producing a
// signal in [-1, +1].
func (d *DirectionalTrading) computeSignal(candles []domain.Candle) (float64, bool) {
	switch d.params.ControllerName {
	case "macd_bb":
		return macdSignal(candles)
	case "supertrend":
		return supertrendSignal(candles, maxInt(2, d.params.BBLength), 3.0)
	case "dman_v3":
		return dmanSignal(candles, d.params.BBLength, d.params.BBStd)
	default: // "bollinger" and unrecognized names fall back to the baseline controller
		pctB, ok := bollingerPercentB(candles, d.params.BBLength, d.params.BBStd)
		if !ok {
			return 0, false
		}
		return clampSignal((pctB - 0.5) * 2), true
	}
}

// maybeOpen opens a new executor when the signal clears threshold on a side
// with free executor capacity and no active cooldown.
func (d *DirectionalTrading) maybeOpen(signal, mid float64, now time.Time) *domain.Intent {
	if d.params.CooldownTime > 0 && !d.lastCloseAt.IsZero() {
		if now.Sub(d.lastCloseAt) < time.Duration(d.params.CooldownTime*float64(time.Second)) {
			return nil
		}
	}

	maxPerSide := d.params.MaxExecutorsPerSide
	if maxPerSide <= 0 {
		maxPerSide = 1
	}

	var side executorSide
	var orderSide domain.OrderSide
	switch {
	case signal >= d.params.BBLongThreshold && len(d.longExecutors) < maxPerSide:
		side, orderSide = executorLong, domain.SideBuy
	case signal <= -d.params.BBShortThreshold && len(d.shortExecutors) < maxPerSide:
		side, orderSide = executorShort, domain.SideSell
	default:
		return nil
	}

	allocation := 1.0 / float64(maxPerSide)
	size := (d.cfg.TotalAmountQuote * allocation) / mid
	if size <= 0 {
		return nil
	}

	clientID := d.counter.Next()
	exec := &activeExecutor{clientOrderID: clientID, side: side, entryPrice: mid, size: size, openedAt: now, peakPrice: mid}
	if side == executorLong {
		d.longExecutors = append(d.longExecutors, exec)
	} else {
		d.shortExecutors = append(d.shortExecutors, exec)
	}

	return &domain.Intent{
		Kind: domain.IntentCreate,
		StrategyID: d.cfg.ID,
		Symbol: d.cfg.TradingPair,
		Side: orderSide,
		Type: domain.OrderGTC,
		Price: mid,
		Size: size,
		ClientOrderID: clientID,
	}
}

// checkExits evaluates stop-loss, take-profit, trailing-stop, and
// time-limit conditions against every open executor, emitting reduce-only
// closes for those that trip.
func (d *DirectionalTrading) checkExits(mid float64, now time.Time) []domain.Intent {
	var intents []domain.Intent
	d.longExecutors, intents = d.sweepSide(d.longExecutors, executorLong, mid, now, intents)
	d.shortExecutors, intents = d.sweepSide(d.shortExecutors, executorShort, mid, now, intents)
	return intents
}

func (d *DirectionalTrading) sweepSide(execs []*activeExecutor, side executorSide, mid float64, now time.Time, intents []domain.Intent) ([]*activeExecutor, []domain.Intent) {
	kept := execs[:0:0]
	for _, e := range execs {
		if !e.open {
			kept = append(kept, e)
			continue
		}

		if side == executorLong {
			if mid > e.peakPrice {
				e.peakPrice = mid
			}
		} else if e.peakPrice == 0 || mid < e.peakPrice {
			e.peakPrice = mid
		}

		if reason := d.tripReason(e, side, mid, now); reason != "" {
			intents = append(intents, d.closeIntent(e, side))
			d.lastCloseAt = now
			continue
		}
		kept = append(kept, e)
	}
	return kept, intents
}

func (d *DirectionalTrading) tripReason(e *activeExecutor, side executorSide, mid float64, now time.Time) string {
	pnlFrac := (mid - e.entryPrice) / e.entryPrice
	if side == executorShort {
		pnlFrac = -pnlFrac
	}

	if d.params.StopLoss > 0 && pnlFrac <= -d.params.StopLoss {
		return "stop_loss"
	}
	if d.params.TakeProfit > 0 && pnlFrac >= d.params.TakeProfit {
		return "take_profit"
	}
	if d.params.TrailingStop > 0 {
		drawFromPeak := (e.peakPrice - mid) / e.peakPrice
		if side == executorShort {
			drawFromPeak = (mid - e.peakPrice) / e.peakPrice
		}
		if drawFromPeak >= d.params.TrailingStop {
			return "trailing_stop"
		}
	}
	if d.params.TimeLimit > 0 {
		if now.Sub(e.openedAt) >= time.Duration(d.params.TimeLimit*float64(time.Second)) {
			return "time_limit"
		}
	}
	return ""
}

func (d *DirectionalTrading) closeIntent(e *activeExecutor, side executorSide) domain.Intent {
	orderSide := domain.SideSell
	if side == executorShort {
		orderSide = domain.SideBuy
	}
	orderType := domain.OrderType(d.params.TakeProfitOrderType)
	if orderType == "" {
		orderType = domain.OrderGTC
	}
	return domain.Intent{
		Kind: domain.IntentCreate,
		StrategyID: d.cfg.ID,
		Symbol: d.cfg.TradingPair,
		Side: orderSide,
		Type: orderType,
		Size: e.size,
		ReduceOnly: true,
		ClientOrderID: d.counter.Next(),
	}
}

// OnEvent marks an executor's entry order open once its fill arrives, so
// subsequent ticks track its peak price and exit conditions.
func (d *DirectionalTrading) OnEvent(ctx context.Context, order domain.OrderRecord) error {
	for _, e := range append(append([]*activeExecutor{}, d.longExecutors...), d.shortExecutors...) {
		if e.clientOrderID == order.ClientOrderID && order.State == domain.OrderFilled {
			e.open = true
		}
	}
	return nil
}

// Close requests cancellation of every resting order for this strategy; the
// Close Protocol drives the subsequent flatten of any open executors.
func (d *DirectionalTrading) Close(ctx context.Context) ([]domain.Intent, error) {
	return []domain.Intent{{
		Kind: domain.IntentCancelAllFor,
		StrategyID: d.cfg.ID,
		Symbol: d.cfg.TradingPair,
	}}, nil
}

var _ Strategy = (*DirectionalTrading)(nil)
