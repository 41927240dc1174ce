// Package closeproto implements the Close Protocol: the
// ordered cancel -> flatten -> snapshot -> stop sequence that retires one
// strategy, with at-most-one close in flight guarded by a distributed lock.
package closeproto

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hivebot/hive/internal/domain"
	"github.com/hivebot/hive/internal/gateway"
	"github.com/hivebot/hive/internal/registry"
)

// BookSource supplies the last traded/mid price used to size a flatten
// order's aggressive IOC limit.
type BookSource interface {
	Latest(symbol string) (domain.MarketBook, bool)
}

// Config holds the Close Protocol's deadlines and retry budget.
type Config struct {
	CancelDeadline  time.Duration // default 30s: step 2's wait-for-empty deadline
	FlattenRetries  int           // default 3
	FlattenSlippage float64       // fraction of mid allowed when crossing the book, default 0.005
	LockTTL         time.Duration // default 45s: covers CancelDeadline + flatten retries
	PollInterval    time.Duration // default 200ms: live_orders drain poll cadence
}

// Options are the caller-supplied close flags.
type Options struct {
	CancelOrders   bool
	ClosePositions bool
}

// Runner drives the Close Protocol for the strategies in reg.
type Runner struct {
	reg      *registry.Registry
	gw       *gateway.Gateway
	books    BookSource
	locks    domain.LockManager
	archiver domain.Archiver    // optional: step 4 skips archival when nil
	cfg      Config
	logger   *slog.Logger
}

// New constructs a Runner.
func New(reg *registry.Registry, gw *gateway.Gateway, books BookSource, locks domain.LockManager, cfg Config, logger *slog.Logger) *Runner {
	return &Runner{reg: reg, gw: gw, books: books, locks: locks, cfg: cfg, logger: logger.With(slog.String("component", "closeproto"))}
}

// SetArchiver wires the cold-storage archiver invoked at step 4.
func (r *Runner) SetArchiver(a domain.Archiver) {
	r.archiver = a
}

// Close runs the five-step close sequence for strategyID. It is
// idempotent: a repeat call on an already-stopped strategy is a no-op, and
// a racing concurrent call returns domain.ErrCloseInFlight.
func (r *Runner) Close(ctx context.Context, strategyID string, opts Options) error {
	unlock, err := r.locks.Acquire(ctx, "close:"+strategyID, r.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return domain.ErrCloseInFlight
		}
		return fmt.Errorf("closeproto: acquire lock: %w", err)
	}
	defer unlock()

	cfg, rt, err := r.reg.Get(strategyID)
	if err != nil {
		return fmt.Errorf("closeproto: %w", err)
	}
	if rt.Status == domain.StatusStopped || rt.Status == domain.StatusError {
		return nil // already terminal: idempotent no-op
	}

	r.logger.Info("close protocol started",
		slog.String("strategy_id", strategyID), slog.Bool("cancel_orders", opts.CancelOrders), slog.Bool("close_positions", opts.ClosePositions))

	// Step 1: mark closing. The scheduler only ticks active strategies, so
	// the Strategy Host stops emitting new Creates once this status is set;
	// the gateway itself does not check status.
	if rt.Status != domain.StatusClosing {
		if err := r.reg.MarkStatus(ctx, strategyID, domain.StatusClosing); err != nil {
			return fmt.Errorf("closeproto: mark closing: %w", err)
		}
	}

	// Step 2: cancel all, wait for live_orders to drain.
	if opts.CancelOrders {
		r.cancelAll(ctx, strategyID, cfg.TradingPair)
		r.waitForEmptyOrders(ctx, strategyID)
	}

	// Step 3: flatten any residual position.
	if opts.ClosePositions {
		_, rt2, err := r.reg.Get(strategyID)
		if err == nil && !rt2.Position.IsFlat() {
			r.flatten(ctx, strategyID, cfg, rt2.Position)
		}
	}

	// Step 4: snapshot final counters/PnL, then archive the activity log and
	// order history to cold storage.
	_, final, _ := r.reg.Get(strategyID)
	r.reg.AppendActivity(ctx, domain.Activity{
		Timestamp: time.Now().UTC(),
		StrategyID: strategyID,
		Kind: domain.ActivityCloseStep,
		Success: final.ErrorState == "",
		TradingPair: cfg.TradingPair,
		Detail: fmt.Sprintf("final position=%.8f realized_pnl=%.4f total_actions=%d error_state=%q",
			final.Position.Size, final.Position.RealizedPnL, final.Counters.TotalActions, final.ErrorState),
	})
	if r.archiver != nil {
		if _, err := r.archiver.ArchiveActivities(ctx, strategyID); err != nil {
			r.logger.Warn("closeproto: archive activities failed", slog.String("strategy_id", strategyID), slog.String("error", err.Error()))
		}
		if _, err := r.archiver.ArchiveOrderHistory(ctx, strategyID); err != nil {
			r.logger.Warn("closeproto: archive order history failed", slog.String("strategy_id", strategyID), slog.String("error", err.Error()))
		}
	}

	// Step 5: transition to stopped, even on a flatten failure.
	if err := r.reg.MarkStatus(ctx, strategyID, domain.StatusStopped); err != nil {
		return fmt.Errorf("closeproto: mark stopped: %w", err)
	}

	r.logger.Info("close protocol completed", slog.String("strategy_id", strategyID))
	return nil
}

// cancelAll drives the strategy's own Close() intents (at minimum a
// CancelAllFor) through the gateway.
func (r *Runner) cancelAll(ctx context.Context, strategyID, symbol string) {
	inst, ok := r.reg.Instance(strategyID)
	if !ok {
		return
	}
	intents, err := inst.Close(ctx)
	if err != nil {
		r.logger.Warn("closeproto: strategy Close() failed", slog.String("strategy_id", strategyID), slog.String("error", err.Error()))
		return
	}
	for _, intent := range intents {
		done := make(chan struct{})
		err := r.gw.Submit(gateway.Intent{
			Intent: intent,
			OnOutcome: func(outcome domain.IntentOutcome) {
				close(done)
			},
		})
		if err != nil {
			r.logger.Warn("closeproto: cancel submit failed", slog.String("strategy_id", strategyID), slog.String("error", err.Error()))
			continue
		}
		select {
		case <-done:
		case <-time.After(5 * time.Second):
		case <-ctx.Done():
			return
		}
	}
}

// waitForEmptyOrders polls until the strategy's live_orders map is empty or
// CancelDeadline elapses.
func (r *Runner) waitForEmptyOrders(ctx context.Context, strategyID string) {
	deadline := time.Now().Add(r.cfg.CancelDeadline)
	interval := r.cfg.PollInterval
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}

	for time.Now().Before(deadline) {
		_, rt, err := r.reg.Get(strategyID)
		if err != nil || liveCount(rt.LiveOrders) == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
	r.logger.Warn("closeproto: cancel deadline reached with orders still live", slog.String("strategy_id", strategyID))
}

func liveCount(orders map[string]*domain.OrderRecord) int {
	n := 0
	for _, o := range orders {
		if !o.State.IsTerminal() {
			n++
		}
	}
	return n
}

// flatten submits a reduce-only aggressive IOC order sized exactly to zero
// the position, retrying up to FlattenRetries times on transient failure.
// On exhaustion it records error_state=flatten_failed
// but does not prevent the protocol from continuing to step 5.
func (r *Runner) flatten(ctx context.Context, strategyID string, cfg domain.StrategyConfig, pos domain.Position) {
	book, ok := r.books.Latest(cfg.TradingPair)
	if !ok || book.Mid <= 0 {
		r.markFlattenFailed(ctx, strategyID, "no fresh book to price flatten order")
		return
	}

	side := domain.SideSell
	if pos.Size < 0 {
		side = domain.SideBuy
	}
	size := pos.Size
	if size < 0 {
		size = -size
	}

	slippage := r.cfg.FlattenSlippage
	if slippage <= 0 {
		slippage = 0.005
	}
	price := book.Mid * (1 + slippage)
	if side == domain.SideSell {
		price = book.Mid * (1 - slippage)
	}

	attempts := r.cfg.FlattenRetries
	if attempts <= 0 {
		attempts = 3
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		outcome := r.submitFlatten(ctx, strategyID, cfg.TradingPair, side, price, size, attempt)
		if outcome {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(attempt) * time.Second):
		}
	}

	r.markFlattenFailed(ctx, strategyID, "flatten exhausted retries")
}

func (r *Runner) submitFlatten(ctx context.Context, strategyID, symbol string, side domain.OrderSide, price, size float64, attempt int) bool {
	result := make(chan bool, 1)
	err := r.gw.Submit(gateway.Intent{
		Intent: domain.Intent{
			Kind: domain.IntentCreate,
			StrategyID: strategyID,
			Symbol: symbol,
			Side: side,
			Type: domain.OrderFAK,
			Price: price,
			Size: size,
			ReduceOnly: true,
			ClientOrderID: fmt.Sprintf("%s-flatten-%d", strategyID, attempt),
		},
		OnOutcome: func(outcome domain.IntentOutcome) {
			result <- outcome.Accepted
		},
	})
	if err != nil {
		r.logger.Warn("closeproto: flatten submit failed", slog.String("strategy_id", strategyID), slog.String("error", err.Error()))
		return false
	}
	select {
	case accepted := <-result:
		return accepted
	case <-time.After(10 * time.Second):
		return false
	case <-ctx.Done():
		return false
	}
}

func (r *Runner) markFlattenFailed(ctx context.Context, strategyID, reason string) {
	_ = r.reg.UpdateRuntime(strategyID, func(rt *domain.StrategyRuntime) {
		rt.ErrorState = "flatten_failed"
	})
	r.reg.AppendActivity(ctx, domain.Activity{
		Timestamp: time.Now().UTC(),
		StrategyID: strategyID,
		Kind: domain.ActivityError,
		Success: false,
		Detail: reason,
	})
	r.logger.Error("closeproto: flatten failed", slog.String("strategy_id", strategyID), slog.String("reason", reason))
}
