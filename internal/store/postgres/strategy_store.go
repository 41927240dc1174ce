package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hivebot/hive/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// StrategyStore implements domain.StrategyStore against the `strategies`
// table. The type-tagged parameter payload (PMM/Directional/MMV2) is stored
// as a single JSONB column keyed by strategy_type, avoiding a sparse
// column-per-variant schema.
type StrategyStore struct {
	client *Client
}

// NewStrategyStore creates a StrategyStore backed by the given Client.
func NewStrategyStore(c *Client) *StrategyStore {
	return &StrategyStore{client: c}
}

// strategyParams is the JSONB envelope persisted in the params column.
type strategyParams struct {
	PMM         *domain.PMMParams         `json:"pmm,omitempty"`
	Directional *domain.DirectionalParams `json:"directional,omitempty"`
	MMV2        *domain.MMV2Params        `json:"mm_v2,omitempty"`
}

func marshalParams(cfg domain.StrategyConfig) ([]byte, error) {
	return json.Marshal(strategyParams{PMM: cfg.PMM, Directional: cfg.Directional, MMV2: cfg.MMV2})
}

func unmarshalParams(data []byte, cfg *domain.StrategyConfig) error {
	if len(data) == 0 {
		return nil
	}
	var p strategyParams
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	cfg.PMM = p.PMM
	cfg.Directional = p.Directional
	cfg.MMV2 = p.MMV2
	return nil
}

// Insert writes a new strategy row. Returns domain.ErrAlreadyExists on a
// primary-key conflict.
func (s *StrategyStore) Insert(ctx context.Context, cfg domain.StrategyConfig) error {
	params, err := marshalParams(cfg)
	if err != nil {
		return fmt.Errorf("postgres: marshal strategy params: %w", err)
	}

	status := domain.StatusPending

	const q = `
		INSERT INTO strategies
			(id, name, strategy_type, connector_type, trading_pair, leverage,
			 position_mode, total_amount_quote, enabled, owner, status, params, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`

	_, err = s.client.Pool().Exec(ctx, q,
		cfg.ID, cfg.Name, cfg.Type, cfg.ConnectorType, cfg.TradingPair, cfg.Leverage,
		cfg.PositionMode, cfg.TotalAmountQuote, cfg.Enabled, cfg.Owner, status, params, cfg.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: insert strategy %s: %w", cfg.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: insert strategy %s: %w", cfg.ID, err)
	}
	return nil
}

// Get returns the strategy config for id, or domain.ErrNotFound.
func (s *StrategyStore) Get(ctx context.Context, id string) (domain.StrategyConfig, error) {
	const q = `
		SELECT id, name, strategy_type, connector_type, trading_pair, leverage,
		       position_mode, total_amount_quote, enabled, owner, params, created_at
		FROM strategies WHERE id = $1`

	var cfg domain.StrategyConfig
	var params []byte
	err := s.client.Pool().QueryRow(ctx, q, id).Scan(
		&cfg.ID, &cfg.Name, &cfg.Type, &cfg.ConnectorType, &cfg.TradingPair, &cfg.Leverage,
		&cfg.PositionMode, &cfg.TotalAmountQuote, &cfg.Enabled, &cfg.Owner, &params, &cfg.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.StrategyConfig{}, domain.ErrNotFound
		}
		return domain.StrategyConfig{}, fmt.Errorf("postgres: get strategy %s: %w", id, err)
	}
	if err := unmarshalParams(params, &cfg); err != nil {
		return domain.StrategyConfig{}, fmt.Errorf("postgres: unmarshal strategy %s params: %w", id, err)
	}
	return cfg, nil
}

// List returns strategies matching opts, newest first.
func (s *StrategyStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.StrategyConfig, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	const q = `
		SELECT id, name, strategy_type, connector_type, trading_pair, leverage,
		       position_mode, total_amount_quote, enabled, owner, params, created_at
		FROM strategies
		WHERE ($1 = '' OR owner = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := s.client.Pool().Query(ctx, q, opts.Owner, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list strategies: %w", err)
	}
	defer rows.Close()

	var out []domain.StrategyConfig
	for rows.Next() {
		var cfg domain.StrategyConfig
		var params []byte
		if err := rows.Scan(
			&cfg.ID, &cfg.Name, &cfg.Type, &cfg.ConnectorType, &cfg.TradingPair, &cfg.Leverage,
			&cfg.PositionMode, &cfg.TotalAmountQuote, &cfg.Enabled, &cfg.Owner, &params, &cfg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan strategy row: %w", err)
		}
		if err := unmarshalParams(params, &cfg); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal strategy %s params: %w", cfg.ID, err)
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

// UpdateStatus writes the strategy's lifecycle status. Enforcement of the
// DFA happens in internal/registry; this store call is unconditional.
func (s *StrategyStore) UpdateStatus(ctx context.Context, id string, status domain.StrategyStatus) error {
	ct, err := s.client.Pool().Exec(ctx,
		`UPDATE strategies SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("postgres: update strategy %s status: %w", id, err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update strategy %s status: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Delete removes a strategy row. Idempotent.
func (s *StrategyStore) Delete(ctx context.Context, id string) error {
	if _, err := s.client.Pool().Exec(ctx, `DELETE FROM strategies WHERE id = $1`, id); err != nil {
		return fmt.Errorf("postgres: delete strategy %s: %w", id, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Compile-time interface check.
var _ domain.StrategyStore = (*StrategyStore)(nil)
