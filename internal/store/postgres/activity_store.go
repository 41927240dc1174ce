package postgres

import (
	"context"
	"fmt"

	"github.com/hivebot/hive/internal/domain"
)

// ActivityStore implements domain.ActivityStore against the
// `hive_activities` table, the write-through tail of the registry's bounded
// in-memory activity rings.
type ActivityStore struct {
	client *Client
}

// NewActivityStore creates an ActivityStore backed by the given Client.
func NewActivityStore(c *Client) *ActivityStore {
	return &ActivityStore{client: c}
}

// Append persists one activity record.
func (s *ActivityStore) Append(ctx context.Context, a domain.Activity) error {
	const q = `
		INSERT INTO hive_activities
			(strategy_id, ts, kind, success, order_id, price, size, trading_pair, detail)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err := s.client.Pool().Exec(ctx, q,
		a.StrategyID, a.Timestamp, a.Kind, a.Success, a.OrderID, a.Price, a.Size, a.TradingPair, a.Detail,
	)
	if err != nil {
		return fmt.Errorf("postgres: append activity for %s: %w", a.StrategyID, err)
	}
	return nil
}

// ListByStrategy returns a strategy's activity history, newest first.
func (s *ActivityStore) ListByStrategy(ctx context.Context, strategyID string, opts domain.ListOpts) ([]domain.Activity, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	const q = `
		SELECT strategy_id, ts, kind, success, order_id, price, size, trading_pair, detail
		FROM hive_activities
		WHERE strategy_id = $1
		ORDER BY ts DESC
		LIMIT $2 OFFSET $3`

	rows, err := s.client.Pool().Query(ctx, q, strategyID, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list activities for %s: %w", strategyID, err)
	}
	defer rows.Close()

	var out []domain.Activity
	for rows.Next() {
		var a domain.Activity
		if err := rows.Scan(&a.StrategyID, &a.Timestamp, &a.Kind, &a.Success, &a.OrderID, &a.Price, &a.Size, &a.TradingPair, &a.Detail); err != nil {
			return nil, fmt.Errorf("postgres: scan activity row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Compile-time interface check.
var _ domain.ActivityStore = (*ActivityStore)(nil)
