package strategy

import "github.com/hivebot/hive/internal/domain"

// RiskGateConfig holds the thresholds a strategy's creates must clear before
// emission. Cancels are never gated: a failing gate must not trap a strategy
// in an over-exposed position.
type RiskGateConfig struct {
	MaxPositionNotional float64
	MaxLeverage         int
	MinMarginFraction   float64
}

// RiskGateResult reports whether Creates may be emitted this tick, and why
// not when they may not.
type RiskGateResult struct {
	AllowCreates bool
	Reason       string
}

// CheckRiskGates evaluates the configured gates against the strategy's
// current position and the account's margin snapshot. Any single failing
// gate suspends Creates for the tick.
func CheckRiskGates(cfg RiskGateConfig, position domain.Position, mid float64, leverage int, balances domain.Balances) RiskGateResult {
	notional := position.Size * mid
	if notional < 0 {
		notional = -notional
	}
	if cfg.MaxPositionNotional > 0 && notional > cfg.MaxPositionNotional {
		return RiskGateResult{AllowCreates: false, Reason: "max position notional exceeded"}
	}

	if cfg.MaxLeverage > 0 && leverage > cfg.MaxLeverage {
		return RiskGateResult{AllowCreates: false, Reason: "leverage exceeds configured maximum"}
	}

	if cfg.MinMarginFraction > 0 && balances.MarginFraction < cfg.MinMarginFraction {
		return RiskGateResult{AllowCreates: false, Reason: "available margin fraction below floor"}
	}

	return RiskGateResult{AllowCreates: true}
}

// FilterCreatesOnGateFailure strips Create intents from a batch, leaving
// Cancel/CancelAllFor untouched: a failing gate suspends creates, never
// cancels.
func FilterCreatesOnGateFailure(intents []domain.Intent) []domain.Intent {
	out := intents[:0:0]
	for _, in := range intents {
		if in.Kind == domain.IntentCreate {
			continue
		}
		out = append(out, in)
	}
	return out
}
