// Package observability emits the orchestrator's periodic BotHeartbeat: a
// fleet-status document recorded locally, published on the signal bus for
// WebSocket dashboards, and posted to the manager when a dashboard URL is
// configured. The manager considers a bot offline after 2 minutes without
// one.
package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/hivebot/hive/internal/domain"
	"github.com/hivebot/hive/internal/registry"
)

// heartbeatChannel is the signal bus channel heartbeats are published on.
const heartbeatChannel = "ch:heartbeat"

// Config parameterizes the heartbeat emitter.
type Config struct {
	BotID        string
	BotName      string
	Interval     time.Duration
	APIPort      int
	DashboardURL string        // when set, heartbeats are also POSTed to <url>/bots
	MainAddress  string
}

// Heartbeat builds and emits BotHeartbeat documents on a fixed interval.
type Heartbeat struct {
	reg    *registry.Registry
	store  domain.BotStore
	bus    domain.SignalBus
	cfg    Config
	logger *slog.Logger

	httpClient *http.Client
	startedAt  time.Time

	lastActions   int64
	lastActionsAt time.Time
}

// New creates a Heartbeat emitter. store and bus may be nil, in which case
// the corresponding sink is skipped.
func New(reg *registry.Registry, store domain.BotStore, bus domain.SignalBus, cfg Config, logger *slog.Logger) *Heartbeat {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	return &Heartbeat{
		reg: reg,
		store: store,
		bus: bus,
		cfg: cfg,
		logger: logger.With(slog.String("component", "heartbeat")),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		startedAt: time.Now().UTC(),
	}
}

// Run emits one heartbeat per interval until ctx is cancelled. A final
// "stopped" heartbeat is emitted on the way out so the manager flips the bot
// offline immediately rather than waiting out the 2-minute threshold.
func (h *Heartbeat) Run(ctx context.Context) error {
	h.logger.Info("heartbeat emitter started", slog.Duration("interval", h.cfg.Interval))

	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	h.emit(ctx, "running")

	for {
		select {
		case <-ctx.Done():
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			h.emit(shutCtx, "stopped")
			cancel()
			return nil
		case <-ticker.C:
			h.emit(ctx, "running")
		}
	}
}

// emit builds one heartbeat snapshot and pushes it to every configured sink.
func (h *Heartbeat) emit(ctx context.Context, status string) {
	hb := h.snapshot(status)

	if h.store != nil {
		if err := h.store.Upsert(ctx, hb); err != nil {
			h.logger.Warn("heartbeat store upsert failed", slog.String("error", err.Error()))
		}
	}

	if h.bus != nil {
		if payload, err := json.Marshal(hb); err == nil {
			if err := h.bus.Publish(ctx, heartbeatChannel, payload); err != nil {
				h.logger.Warn("heartbeat publish failed", slog.String("error", err.Error()))
			}
		}
	}

	if h.cfg.DashboardURL != "" {
		if err := h.post(ctx, hb); err != nil {
			h.logger.Warn("heartbeat post to manager failed",
				slog.String("url", h.cfg.DashboardURL), slog.String("error", err.Error()))
		}
	}
}

// snapshot aggregates the registry's current state into one BotHeartbeat.
func (h *Heartbeat) snapshot(status string) domain.BotHeartbeat {
	items := h.reg.List(registry.Filter{})

	names := make([]string, 0, len(items))
	var totalActions int64
	for _, it := range items {
		names = append(names, it.Config.Name)
		totalActions += it.Runtime.Counters.TotalActions
	}

	now := time.Now().UTC()

	var apm float64
	if !h.lastActionsAt.IsZero() {
		elapsed := now.Sub(h.lastActionsAt).Minutes()
		if elapsed > 0 {
			apm = float64(totalActions-h.lastActions) / elapsed
		}
	}
	h.lastActions = totalActions
	h.lastActionsAt = now

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return domain.BotHeartbeat{
		BotID: h.cfg.BotID,
		Name: h.cfg.BotName,
		Status: status,
		Strategies: names,
		UptimeSeconds: int64(now.Sub(h.startedAt).Seconds()),
		TotalStrategies: len(items),
		TotalActions: totalActions,
		ActionsPerMinute: apm,
		MemoryUsageMB: float64(mem.Alloc) / (1024 * 1024),
		APIPort: h.cfg.APIPort,
		UserMainAddress: h.cfg.MainAddress,
		LastActivity: now,
	}
}

// post sends the heartbeat to the manager's /bots endpoint. The response body is not consumed beyond the
// status code; the manager is the source of truth for its own listing.
func (h *Heartbeat) post(ctx context.Context, hb domain.BotHeartbeat) error {
	body, err := json.Marshal(hb)
	if err != nil {
		return fmt.Errorf("observability: marshal heartbeat: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.DashboardURL+"/bots", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("observability: build heartbeat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("observability: send heartbeat: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("observability: manager returned HTTP %d", resp.StatusCode)
	}
	return nil
}
