package domain

import (
	"context"
	"time"
)

// ListOpts are standard pagination/filter parameters for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Owner  string
	Since  time.Time
	Until  time.Time
}

// StrategyStore is the durable write-through backing for the Strategy
// Registry & Store.
type StrategyStore interface {
	Insert(ctx context.Context, cfg StrategyConfig) error
	Get(ctx context.Context, id string) (StrategyConfig, error)
	List(ctx context.Context, opts ListOpts) ([]StrategyConfig, error)
	UpdateStatus(ctx context.Context, id string, status StrategyStatus) error
	Delete(ctx context.Context, id string) error
}

// ActivityStore persists Activity records.
type ActivityStore interface {
	Append(ctx context.Context, a Activity) error
	ListByStrategy(ctx context.Context, strategyID string, opts ListOpts) ([]Activity, error)
}

// BotStore persists BotHeartbeat records.
type BotStore interface {
	Upsert(ctx context.Context, hb BotHeartbeat) error
	Get(ctx context.Context, botID string) (BotHeartbeat, error)
	List(ctx context.Context) ([]BotHeartbeat, error)
	Delete(ctx context.Context, botID string) error
}
