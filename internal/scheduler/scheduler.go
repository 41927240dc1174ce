// Package scheduler implements the Clock & Scheduler: a
// single-threaded logical tick loop that builds the eligible strategy set
// each tick, invokes each strategy's non-blocking OnTick, and hands the
// resulting intents to the Order Gateway. All I/O is the gateway's
// responsibility; the scheduler never blocks on it.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/hivebot/hive/internal/domain"
	"github.com/hivebot/hive/internal/gateway"
	"github.com/hivebot/hive/internal/registry"
	"github.com/hivebot/hive/internal/strategy"
)

// BookSource is the subset of the Market Data Hub the scheduler needs to
// build the eligible set and feed each strategy its book snapshot.
type BookSource interface {
	Latest(symbol string) (domain.MarketBook, bool)
	IsFresh(symbol string, now time.Time) bool
}

// MetaSource supplies cached instrument metadata for tick/lot rounding
// context passed to strategies.
type MetaSource interface {
	InstrumentMeta(symbol string) (domain.InstrumentMeta, bool)
}

// CandleSource supplies the closed-candle series DirectionalTrading
// controllers consume.
type CandleSource interface {
	Series(symbol, interval string) []domain.Candle
}

// CloseTrigger is invoked once per still-active strategy at shutdown, after
// the drain grace window elapses.
type CloseTrigger func(ctx context.Context, strategyID string) error

// Config holds the scheduler's timing and risk-gate parameters.
type Config struct {
	TickInterval   time.Duration
	SoftTickBudget time.Duration
	ShutdownGrace  time.Duration

	// MaxPositionNotionalMultiple and MinMarginFraction parameterize the
	// per-strategy risk gate: the notional cap scales with
	// each strategy's own total_amount_quote rather than a single global
	// ceiling.
	MaxPositionNotionalMultiple float64
	MinMarginFraction           float64
}

// Scheduler is the Clock & Scheduler.
type Scheduler struct {
	reg     *registry.Registry
	books   BookSource
	meta    MetaSource
	candles CandleSource
	gw      *gateway.Gateway
	cfg     Config
	logger  *slog.Logger

	onShutdownClose CloseTrigger
}

// New constructs a Scheduler.
func New(reg *registry.Registry, books BookSource, meta MetaSource, candles CandleSource, gw *gateway.Gateway, cfg Config, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		reg: reg,
		books: books,
		meta: meta,
		candles: candles,
		gw: gw,
		cfg: cfg,
		logger: logger.With(slog.String("component", "scheduler")),
	}
}

// SetShutdownCloser wires the Close Protocol trigger invoked for every
// still-active strategy once the shutdown grace window elapses.
func (s *Scheduler) SetShutdownCloser(fn CloseTrigger) {
	s.onShutdownClose = fn
}

// Run drives the tick loop until ctx is cancelled, then drains in-flight
// work for ShutdownGrace before triggering the Close Protocol for every
// strategy still active.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", slog.Duration("tick_interval", s.cfg.TickInterval))
	defer s.logger.Info("scheduler stopped")

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case now := <-ticker.C:
			s.tick(ctx, now.UTC())
		}
	}
}

// tick performs one scheduler cycle: pending strategies whose market data
// has arrived are seeded and activated, then the eligible set is driven.
func (s *Scheduler) tick(ctx context.Context, t time.Time) {
	s.activatePending(ctx, t)

	ids := s.reg.EligibleIDs(t)

	for _, id := range ids {
		cfg, rt, err := s.reg.Get(id)
		if err != nil {
			continue
		}

		if !s.books.IsFresh(cfg.TradingPair, t) {
			continue
		}
		book, ok := s.books.Latest(cfg.TradingPair)
		if !ok {
			continue
		}

		inst, ok := s.reg.Instance(id)
		if !ok {
			continue
		}

		s.runOne(ctx, id, cfg, rt, inst, book, t)
	}
}

// activatePending seeds each registered strategy still in pending: once its
// market book is fresh, it gets its first tick (emitting the initial quote
// set through the gateway) and transitions to active, joining the eligible
// set on subsequent cycles. Disabled strategies stay pending.
func (s *Scheduler) activatePending(ctx context.Context, t time.Time) {
	for _, it := range s.reg.List(registry.Filter{Status: domain.StatusPending}) {
		cfg := it.Config
		if !cfg.Enabled {
			continue
		}
		if !s.books.IsFresh(cfg.TradingPair, t) {
			continue
		}
		book, ok := s.books.Latest(cfg.TradingPair)
		if !ok {
			continue
		}
		inst, ok := s.reg.Instance(cfg.ID)
		if !ok {
			continue
		}

		s.runOne(ctx, cfg.ID, cfg, it.Runtime, inst, book, t)

		if err := s.reg.MarkStatus(ctx, cfg.ID, domain.StatusActive); err != nil {
			s.logger.Warn("strategy activation failed",
				slog.String("strategy_id", cfg.ID), slog.String("error", err.Error()))
			continue
		}
		s.logger.Info("strategy activated",
			slog.String("strategy_id", cfg.ID), slog.String("name", cfg.Name))
	}
}

// runOne invokes one strategy's OnTick under the soft time budget, applies
// risk gates, and submits the resulting intents to the gateway.
func (s *Scheduler) runOne(ctx context.Context, id string, cfg domain.StrategyConfig, rt domain.StrategyRuntime, inst strategy.Strategy, book domain.MarketBook, t time.Time) {
	meta, _ := s.meta.InstrumentMeta(cfg.TradingPair)

	var candles []domain.Candle
	if cfg.Directional != nil && s.candles != nil {
		candles = s.candles.Series(cfg.CandlesPair(), cfg.Directional.Interval)
	}

	in := strategy.TickInput{Now: t, Book: book, Candles: candles, Runtime: rt, Meta: meta}

	start := time.Now()
	result, err := inst.OnTick(ctx, in)
	elapsed := time.Since(start)

	_ = s.reg.UpdateRuntime(id, func(r *domain.StrategyRuntime) {
		r.LastTickAt = t
		r.NextEligibleAt = t.Add(refreshInterval(cfg))
	})

	if elapsed > s.cfg.SoftTickBudget {
		s.logger.Warn("strategy tick exceeded soft budget",
			slog.String("strategy_id", id), slog.Duration("elapsed", elapsed), slog.Duration("budget", s.cfg.SoftTickBudget))
		_ = s.reg.UpdateRuntime(id, func(r *domain.StrategyRuntime) {
			r.BudgetExceededCount++
			r.BackoffUntil = t.Add(backoffFor(r.BudgetExceededCount, s.cfg.TickInterval))
		})
	}

	if err != nil {
		s.logger.Error("strategy tick failed", slog.String("strategy_id", id), slog.String("error", err.Error()))
		s.reg.AppendActivity(ctx, domain.Activity{
			Timestamp: t, StrategyID: id, Kind: domain.ActivityError, Success: false,
			TradingPair: cfg.TradingPair, Detail: err.Error(),
		})
		return
	}

	intents := result.Intents
	riskCfg := strategy.RiskGateConfig{
		MaxPositionNotional: cfg.TotalAmountQuote * s.cfg.MaxPositionNotionalMultiple,
		MaxLeverage: cfg.Leverage,
		MinMarginFraction: s.cfg.MinMarginFraction,
	}
	balances := domain.Balances{MarginFraction: 1} // fixed: no account balance snapshot reaches the scheduler, so the margin-floor gate never trips
	gate := strategy.CheckRiskGates(riskCfg, rt.Position, book.Mid, cfg.Leverage, balances)
	if !gate.AllowCreates {
		intents = strategy.FilterCreatesOnGateFailure(intents)
		s.reg.AppendActivity(ctx, domain.Activity{
			Timestamp: t, StrategyID: id, Kind: domain.ActivityRiskGateTrip, Success: false,
			TradingPair: cfg.TradingPair, Detail: gate.Reason,
		})
		_ = s.reg.UpdateRuntime(id, func(r *domain.StrategyRuntime) { r.ErrorState = gate.Reason })
	}

	for _, intent := range intents {
		intent.EnqueuedAt = time.Now().UTC()
		s.submit(ctx, id, intent)
	}
}

// submit hands one intent to the gateway, wiring its outcome back into the
// strategy's runtime counters and activity log.
func (s *Scheduler) submit(ctx context.Context, strategyID string, intent domain.Intent) {
	err := s.gw.Submit(gateway.Intent{
		Intent: intent,
		OnOutcome: func(outcome domain.IntentOutcome) {
			s.handleOutcome(strategyID, outcome)
		},
	})
	if err != nil {
		s.logger.Warn("gateway submit failed", slog.String("strategy_id", strategyID), slog.String("error", err.Error()))
	}
}

func (s *Scheduler) handleOutcome(strategyID string, outcome domain.IntentOutcome) {
	ctx := context.Background()

	_ = s.reg.UpdateRuntime(strategyID, func(r *domain.StrategyRuntime) {
		r.Counters.TotalActions++
		if outcome.Accepted {
			r.Counters.SuccessfulOrders++
		} else {
			r.Counters.FailedOrders++
		}
	})

	kind := domain.ActivityCreate
	if outcome.Intent.Kind == domain.IntentCancel || outcome.Intent.Kind == domain.IntentCancelAllFor {
		kind = domain.ActivityCancel
	}

	s.reg.AppendActivity(ctx, domain.Activity{
		Timestamp: time.Now().UTC(),
		StrategyID: strategyID,
		Kind: kind,
		Success: outcome.Accepted,
		OrderID: outcome.Intent.OrderID,
		Price: outcome.Intent.Price,
		Size: outcome.Intent.Size,
		TradingPair: outcome.Intent.Symbol,
		Detail: outcome.Message,
	})
}

// shutdown drains within ShutdownGrace, then triggers the Close Protocol
// for every strategy still active.
func (s *Scheduler) shutdown() {
	s.logger.Info("scheduler shutting down", slog.Duration("grace", s.cfg.ShutdownGrace))

	drainCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace)
	defer cancel()
	<-drainCtx.Done()

	if s.onShutdownClose == nil {
		return
	}

	active := s.reg.List(registry.Filter{Status: domain.StatusActive})
	for _, it := range active {
		closeCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace)
		if err := s.onShutdownClose(closeCtx, it.Config.ID); err != nil {
			s.logger.Error("shutdown close protocol failed",
				slog.String("strategy_id", it.Config.ID), slog.String("error", err.Error()))
		}
		cancel()
	}
}

// refreshInterval resolves the per-strategy tick cadence from its
// type-tagged parameters, falling back to one second when the strategy
// carries no explicit refresh setting.
func refreshInterval(cfg domain.StrategyConfig) time.Duration {
	switch {
	case cfg.PMM != nil && cfg.PMM.OrderRefreshTime > 0:
		return time.Duration(cfg.PMM.OrderRefreshTime * float64(time.Second))
	case cfg.MMV2 != nil && cfg.MMV2.ExecutorRefreshTime > 0:
		return time.Duration(cfg.MMV2.ExecutorRefreshTime * float64(time.Second))
	default:
		return time.Second
	}
}

// backoffFor computes an increasing back-off window after repeated soft
// budget overruns, capped at 30 ticks, never killing the strategy.
func backoffFor(overruns int64, tick time.Duration) time.Duration {
	d := time.Duration(overruns) * tick
	maxBackoff := 30 * tick
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}
