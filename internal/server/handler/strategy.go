package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hivebot/hive/internal/config"
	"github.com/hivebot/hive/internal/domain"
	"github.com/hivebot/hive/internal/registry"
)

// StrategyHandler serves strategy registration/listing/detail/delete.
type StrategyHandler struct {
	reg    *registry.Registry
	logger *slog.Logger
}

// NewStrategyHandler creates a StrategyHandler.
func NewStrategyHandler(reg *registry.Registry, logger *slog.Logger) *StrategyHandler {
	return &StrategyHandler{reg: reg, logger: logger.With(slog.String("handler", "strategy"))}
}

// createStrategyRequest is the POST /strategies body.
type createStrategyRequest struct {
	Name             string                    `json:"name"`
	StrategyType     string                    `json:"strategy_type"`
	ConnectorType    string                    `json:"connector_type"`
	TradingPair      string                    `json:"trading_pair"`
	Leverage         int                       `json:"leverage"`
	PositionMode     string                    `json:"position_mode"`
	TotalAmountQuote float64                   `json:"total_amount_quote"`
	Enabled          bool                      `json:"enabled"`
	PMM              *domain.PMMParams         `json:"pmm,omitempty"`
	Directional      *domain.DirectionalParams `json:"directional,omitempty"`
	MMV2             *domain.MMV2Params        `json:"mm_v2,omitempty"`
}

// Create registers a new strategy from a validated config body.
// POST /strategies
func (h *StrategyHandler) Create(w http.ResponseWriter, r *http.Request) {
	owner := ownerFromContext(r.Context())

	var req createStrategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	issues := validateCreateRequest(req)
	if len(issues.Errors) > 0 {
		writeJSON(w, http.StatusBadRequest, issues)
		return
	}

	cfg := domain.StrategyConfig{
		Name: req.Name,
		Type: domain.StrategyType(req.StrategyType),
		ConnectorType: req.ConnectorType,
		TradingPair: req.TradingPair,
		Leverage: req.Leverage,
		PositionMode: domain.PositionMode(req.PositionMode),
		TotalAmountQuote: req.TotalAmountQuote,
		Enabled: req.Enabled,
		Owner: owner,
		PMM: req.PMM,
		Directional: req.Directional,
		MMV2: req.MMV2,
	}

	id, err := h.reg.Register(r.Context(), cfg)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateName) {
			writeError(w, http.StatusConflict, "a strategy with this name already exists for this owner")
			return
		}
		if errors.Is(err, domain.ErrStrategyUnsupported) {
			writeError(w, http.StatusNotImplemented, "strategy type is recognized but not supported by this bot")
			return
		}
		h.logger.ErrorContext(r.Context(), "register failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to register strategy")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// validateCreateRequest runs common-field checks plus the type-tagged
// parameter bounds from internal/config, returning the structured
// {errors,warnings} shape requires.
func validateCreateRequest(req createStrategyRequest) domain.ValidationError {
	var verr domain.ValidationError

	if req.Name == "" {
		verr.Add("name", "is required")
	}
	if req.TradingPair == "" {
		verr.Add("trading_pair", "is required")
	}
	if req.TotalAmountQuote <= 0 {
		verr.Add("total_amount_quote", "must be > 0")
	}

	var pmmView *config.PMMParamsView
	if req.PMM != nil {
		pmmView = &config.PMMParamsView{
			BidSpread: req.PMM.BidSpread, AskSpread: req.PMM.AskSpread,
			OrderAmount: req.PMM.OrderAmount, OrderLevels: req.PMM.OrderLevels,
			OrderRefreshTime: req.PMM.OrderRefreshTime,
		}
	}
	var dirView *config.DirectionalParamsView
	if req.Directional != nil {
		dirView = &config.DirectionalParamsView{
			BBLength: req.Directional.BBLength, CooldownTime: req.Directional.CooldownTime,
			MaxExecutorsPerSide: req.Directional.MaxExecutorsPerSide,
		}
	}
	var mmView *config.MMV2ParamsView
	if req.MMV2 != nil {
		mmView = &config.MMV2ParamsView{BuyAmountsPct: req.MMV2.BuyAmountsPct, SellAmountsPct: req.MMV2.SellAmountsPct}
	}

	for _, issue := range config.ValidateStrategyParams(req.StrategyType, req.Leverage, pmmView, dirView, mmView) {
		verr.Add(issue.Field, issue.Message)
	}

	return verr
}

// strategyDetailResponse combines config and runtime for the detail/list
// endpoints.
type strategyDetailResponse struct {
	Config  domain.StrategyConfig  `json:"config"`
	Runtime domain.StrategyRuntime `json:"runtime"`
}

// List returns every strategy owned by the caller.
// GET /strategies
func (h *StrategyHandler) List(w http.ResponseWriter, r *http.Request) {
	owner := ownerFromContext(r.Context())
	items := h.reg.List(registry.Filter{Owner: owner})

	out := make([]strategyDetailResponse, 0, len(items))
	for _, it := range items {
		out = append(out, strategyDetailResponse{Config: it.Config, Runtime: it.Runtime})
	}
	writeJSON(w, http.StatusOK, map[string]any{"strategies": out})
}

// Get returns one strategy's config and runtime.
// GET /strategies/{id}
func (h *StrategyHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	cfg, rt, err := h.reg.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "strategy not found")
		return
	}
	if owner := ownerFromContext(r.Context()); owner != "" && cfg.Owner != owner {
		writeError(w, http.StatusNotFound, "strategy not found")
		return
	}
	writeJSON(w, http.StatusOK, strategyDetailResponse{Config: cfg, Runtime: rt})
}

// Delete removes a stopped/errored strategy.
// DELETE /strategies/{id}
func (h *StrategyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	cfg, _, err := h.reg.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "strategy not found")
		return
	}
	if owner := ownerFromContext(r.Context()); owner != "" && cfg.Owner != owner {
		writeError(w, http.StatusNotFound, "strategy not found")
		return
	}

	if err := h.reg.Delete(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrBadStatusTransition) {
			writeError(w, http.StatusConflict, "strategy must be stopped or errored before it can be removed")
			return
		}
		h.logger.ErrorContext(r.Context(), "delete failed", slog.String("strategy_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to delete strategy")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
