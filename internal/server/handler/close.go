package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hivebot/hive/internal/closeproto"
	"github.com/hivebot/hive/internal/domain"
	"github.com/hivebot/hive/internal/registry"
)

// CloseHandler drives the Close Protocol from the control plane.
type CloseHandler struct {
	reg    *registry.Registry
	runner *closeproto.Runner
	logger *slog.Logger
}

// NewCloseHandler creates a CloseHandler.
func NewCloseHandler(reg *registry.Registry, runner *closeproto.Runner, logger *slog.Logger) *CloseHandler {
	return &CloseHandler{reg: reg, runner: runner, logger: logger.With(slog.String("handler", "close"))}
}

// closeRequest is the POST /strategies/close body.
type closeRequest struct {
	Strategy       string `json:"strategy"`
	ClosePositions bool   `json:"closePositions"`
	CancelOrders   bool   `json:"cancelOrders"`
}

// Close resolves a strategy by name (owner-scoped, unless the caller used
// the admin bypass) and runs the Close Protocol against it.
// POST /strategies/close
func (h *CloseHandler) Close(w http.ResponseWriter, r *http.Request) {
	var req closeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Strategy == "" {
		writeError(w, http.StatusBadRequest, "strategy is required")
		return
	}

	owner := ownerFromContext(r.Context())
	id, err := h.reg.IDForName(owner, req.Strategy)
	if err != nil {
		writeError(w, http.StatusNotFound, "strategy not found")
		return
	}

	h.run(w, r, id, closeproto.Options{ClosePositions: req.ClosePositions, CancelOrders: req.CancelOrders})
}

// Stop closes the strategy addressed by path id, defaulting to a full
// cancel-and-flatten.
// POST /strategies/{id}/stop
func (h *CloseHandler) Stop(w http.ResponseWriter, r *http.Request) {
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

	h.run(w, r, id, closeproto.Options{ClosePositions: true, CancelOrders: true})
}

func (h *CloseHandler) run(w http.ResponseWriter, r *http.Request, id string, opts closeproto.Options) {
	if err := h.runner.Close(r.Context(), id, opts); err != nil {
		if errors.Is(err, domain.ErrCloseInFlight) {
			writeError(w, http.StatusConflict, "a close is already in flight for this strategy")
			return
		}
		h.logger.ErrorContext(r.Context(), "close failed", slog.String("strategy_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to close strategy")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"strategy_id": id, "status": "stopped"})
}
