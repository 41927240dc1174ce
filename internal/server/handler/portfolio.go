package handler

import (
	"net/http"

	"github.com/hivebot/hive/internal/registry"
)

// PortfolioHandler aggregates per-strategy positions and PnL for the
// dashboard.
type PortfolioHandler struct {
	reg *registry.Registry
}

// NewPortfolioHandler creates a PortfolioHandler.
func NewPortfolioHandler(reg *registry.Registry) *PortfolioHandler {
	return &PortfolioHandler{reg: reg}
}

// portfolioEntry summarizes one strategy's contribution to the portfolio.
type portfolioEntry struct {
	StrategyID       string  `json:"strategy_id"`
	Name             string  `json:"name"`
	TradingPair      string  `json:"trading_pair"`
	Status           string  `json:"status"`
	Size             float64 `json:"size"`
	EntryVWAP        float64 `json:"entry_vwap"`
	RealizedPnL      float64 `json:"realized_pnl"`
	UnrealizedPnL    float64 `json:"unrealized_pnl"`
	TotalActions     int64   `json:"total_actions"`
	SuccessfulOrders int64   `json:"successful_orders"`
	FailedOrders     int64   `json:"failed_orders"`
}

// Get returns every strategy owned by the caller with its current position
// and running totals, plus a portfolio-wide PnL sum.
// GET /portfolio
func (h *PortfolioHandler) Get(w http.ResponseWriter, r *http.Request) {
	owner := ownerFromContext(r.Context())
	items := h.reg.List(registry.Filter{Owner: owner})

	entries := make([]portfolioEntry, 0, len(items))
	var totalRealized, totalUnrealized float64
	for _, it := range items {
		pos := it.Runtime.Position
		entries = append(entries, portfolioEntry{
			StrategyID: it.Config.ID,
			Name: it.Config.Name,
			TradingPair: it.Config.TradingPair,
			Status: string(it.Runtime.Status),
			Size: pos.Size,
			EntryVWAP: pos.EntryVWAP,
			RealizedPnL: pos.RealizedPnL,
			UnrealizedPnL: pos.UnrealizedPnL,
			TotalActions: it.Runtime.Counters.TotalActions,
			SuccessfulOrders: it.Runtime.Counters.SuccessfulOrders,
			FailedOrders: it.Runtime.Counters.FailedOrders,
		})
		totalRealized += pos.RealizedPnL
		totalUnrealized += pos.UnrealizedPnL
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"strategies": entries,
		"total_realized_pnl": totalRealized,
		"total_unrealized_pnl": totalUnrealized,
	})
}
