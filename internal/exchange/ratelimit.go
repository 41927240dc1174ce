package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/hivebot/hive/internal/domain"
)

// TwoLevelLimiter enforces the venue's global and per-symbol request quotas,
// backed by a distributed domain.RateLimiter so every
// process sharing the venue connection honours the same budget.
type TwoLevelLimiter struct {
	limiter         domain.RateLimiter
	globalPerSecond int
	symbolPerSecond int
}

// NewTwoLevelLimiter creates a TwoLevelLimiter.
func NewTwoLevelLimiter(limiter domain.RateLimiter, globalPerSecond, symbolPerSecond int) *TwoLevelLimiter {
	return &TwoLevelLimiter{
		limiter: limiter,
		globalPerSecond: globalPerSecond,
		symbolPerSecond: symbolPerSecond,
	}
}

// Allow checks both the global and per-symbol budgets, consuming from
// neither if either is exhausted.
func (l *TwoLevelLimiter) Allow(ctx context.Context, symbol string) (bool, error) {
	globalOK, err := l.limiter.Allow(ctx, "exchange:global", l.globalPerSecond, time.Second)
	if err != nil {
		return false, fmt.Errorf("exchange: global rate check: %w", err)
	}
	if !globalOK {
		return false, nil
	}

	symbolOK, err := l.limiter.Allow(ctx, "exchange:symbol:"+symbol, l.symbolPerSecond, time.Second)
	if err != nil {
		return false, fmt.Errorf("exchange: symbol rate check: %w", err)
	}
	return symbolOK, nil
}
