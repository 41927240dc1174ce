package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hivebot/hive/internal/domain"
)

// BotsHandler records and serves bot heartbeats.
type BotsHandler struct {
	store  domain.BotStore
	logger *slog.Logger
}

// NewBotsHandler creates a BotsHandler.
func NewBotsHandler(store domain.BotStore, logger *slog.Logger) *BotsHandler {
	return &BotsHandler{store: store, logger: logger.With(slog.String("handler", "bots"))}
}

// Heartbeat upserts a bot's heartbeat document.
// POST /bots
func (h *BotsHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var hb domain.BotHeartbeat
	if err := json.NewDecoder(r.Body).Decode(&hb); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if hb.BotID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	hb.LastActivity = time.Now().UTC()

	if err := h.store.Upsert(r.Context(), hb); err != nil {
		h.logger.ErrorContext(r.Context(), "heartbeat upsert failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to record heartbeat")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "bot": hb})
}

// List returns every known bot, each tagged online/offline by
// HeartbeatOfflineThreshold. With ?format=metrics it instead returns
// aggregate dashboard metrics across the fleet.
// GET /bots
func (h *BotsHandler) List(w http.ResponseWriter, r *http.Request) {
	bots, err := h.store.List(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list bots failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list bots")
		return
	}

	if r.URL.Query().Get("format") == "metrics" {
		writeJSON(w, http.StatusOK, aggregateBotMetrics(bots))
		return
	}

	type botEntry struct {
		domain.BotHeartbeat
		Online bool `json:"online"`
	}
	out := make([]botEntry, 0, len(bots))
	now := time.Now().UTC()
	for _, b := range bots {
		out = append(out, botEntry{BotHeartbeat: b, Online: now.Sub(b.LastActivity) < domain.HeartbeatOfflineThreshold})
	}
	writeJSON(w, http.StatusOK, map[string]any{"bots": out})
}

// Delete removes a bot's heartbeat record, typically after the manager has
// reported it offline.
// DELETE /bots/{id}
func (h *BotsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	if err := h.store.Delete(r.Context(), id); err != nil {
		h.logger.ErrorContext(r.Context(), "delete bot failed", slog.String("bot_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to delete bot")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// aggregateBotMetrics rolls up fleet-wide totals for the dashboard.
func aggregateBotMetrics(bots []domain.BotHeartbeat) map[string]any {
	var onlineCount int
	var totalStrategies, totalActions int64
	var totalActionsPerMinute float64
	now := time.Now().UTC()
	for _, b := range bots {
		if now.Sub(b.LastActivity) < domain.HeartbeatOfflineThreshold {
			onlineCount++
		}
		totalStrategies += int64(b.TotalStrategies)
		totalActions += b.TotalActions
		totalActionsPerMinute += b.ActionsPerMinute
	}
	return map[string]any{
		"total_bots": len(bots),
		"online_bots": onlineCount,
		"total_strategies": totalStrategies,
		"total_actions": totalActions,
		"total_actions_per_minute": totalActionsPerMinute,
	}
}
