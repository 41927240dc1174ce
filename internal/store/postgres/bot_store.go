package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hivebot/hive/internal/domain"
	"github.com/jackc/pgx/v5"
)

// BotStore implements domain.BotStore against the `bot_runs` table, one row
// per running Hive process reporting its periodic BotHeartbeat.
type BotStore struct {
	client *Client
}

// NewBotStore creates a BotStore backed by the given Client.
func NewBotStore(c *Client) *BotStore {
	return &BotStore{client: c}
}

// Upsert inserts or refreshes a bot's heartbeat row.
func (s *BotStore) Upsert(ctx context.Context, hb domain.BotHeartbeat) error {
	strategies, err := json.Marshal(hb.Strategies)
	if err != nil {
		return fmt.Errorf("postgres: marshal bot %s strategies: %w", hb.BotID, err)
	}

	const q = `
		INSERT INTO bot_runs
			(id, name, status, strategies, uptime_seconds, total_strategies, total_actions,
			 actions_per_minute, memory_usage_mb, cpu_usage_pct, api_port, user_main_address, last_activity)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			strategies = EXCLUDED.strategies,
			uptime_seconds = EXCLUDED.uptime_seconds,
			total_strategies = EXCLUDED.total_strategies,
			total_actions = EXCLUDED.total_actions,
			actions_per_minute = EXCLUDED.actions_per_minute,
			memory_usage_mb = EXCLUDED.memory_usage_mb,
			cpu_usage_pct = EXCLUDED.cpu_usage_pct,
			api_port = EXCLUDED.api_port,
			user_main_address = EXCLUDED.user_main_address,
			last_activity = EXCLUDED.last_activity`

	_, err = s.client.Pool().Exec(ctx, q,
		hb.BotID, hb.Name, hb.Status, strategies, hb.UptimeSeconds, hb.TotalStrategies, hb.TotalActions,
		hb.ActionsPerMinute, hb.MemoryUsageMB, hb.CPUUsagePct, hb.APIPort, hb.UserMainAddress, hb.LastActivity,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert bot %s: %w", hb.BotID, err)
	}
	return nil
}

// Get returns the heartbeat row for botID, or domain.ErrNotFound.
func (s *BotStore) Get(ctx context.Context, botID string) (domain.BotHeartbeat, error) {
	const q = `
		SELECT id, name, status, strategies, uptime_seconds, total_strategies, total_actions,
		       actions_per_minute, memory_usage_mb, cpu_usage_pct, api_port, user_main_address, last_activity
		FROM bot_runs WHERE id = $1`

	var hb domain.BotHeartbeat
	var strategies []byte
	err := s.client.Pool().QueryRow(ctx, q, botID).Scan(
		&hb.BotID, &hb.Name, &hb.Status, &strategies, &hb.UptimeSeconds, &hb.TotalStrategies, &hb.TotalActions,
		&hb.ActionsPerMinute, &hb.MemoryUsageMB, &hb.CPUUsagePct, &hb.APIPort, &hb.UserMainAddress, &hb.LastActivity,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.BotHeartbeat{}, domain.ErrNotFound
		}
		return domain.BotHeartbeat{}, fmt.Errorf("postgres: get bot %s: %w", botID, err)
	}
	if err := json.Unmarshal(strategies, &hb.Strategies); err != nil {
		return domain.BotHeartbeat{}, fmt.Errorf("postgres: unmarshal bot %s strategies: %w", botID, err)
	}
	return hb, nil
}

// List returns every known bot's latest heartbeat.
func (s *BotStore) List(ctx context.Context) ([]domain.BotHeartbeat, error) {
	const q = `
		SELECT id, name, status, strategies, uptime_seconds, total_strategies, total_actions,
		       actions_per_minute, memory_usage_mb, cpu_usage_pct, api_port, user_main_address, last_activity
		FROM bot_runs ORDER BY last_activity DESC`

	rows, err := s.client.Pool().Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bots: %w", err)
	}
	defer rows.Close()

	var out []domain.BotHeartbeat
	for rows.Next() {
		var hb domain.BotHeartbeat
		var strategies []byte
		if err := rows.Scan(
			&hb.BotID, &hb.Name, &hb.Status, &strategies, &hb.UptimeSeconds, &hb.TotalStrategies, &hb.TotalActions,
			&hb.ActionsPerMinute, &hb.MemoryUsageMB, &hb.CPUUsagePct, &hb.APIPort, &hb.UserMainAddress, &hb.LastActivity,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan bot row: %w", err)
		}
		if err := json.Unmarshal(strategies, &hb.Strategies); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal bot %s strategies: %w", hb.BotID, err)
		}
		out = append(out, hb)
	}
	return out, rows.Err()
}

// Delete removes a bot's heartbeat row. Idempotent.
func (s *BotStore) Delete(ctx context.Context, botID string) error {
	if _, err := s.client.Pool().Exec(ctx, `DELETE FROM bot_runs WHERE id = $1`, botID); err != nil {
		return fmt.Errorf("postgres: delete bot %s: %w", botID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.BotStore = (*BotStore)(nil)
