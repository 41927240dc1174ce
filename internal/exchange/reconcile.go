package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hivebot/hive/internal/domain"
)

// LocalOrderView supplies the process's own open-order set for
// reconciliation, keyed however the caller tracks it. The registry's
// aggregate live_orders across all strategies satisfies this.
type LocalOrderView interface {
	LiveOrderRecords() []domain.OrderRecord
}

// Reconcile resolves a desync between the local open-order view and the
// venue after a reconnect:
//
//   - a local live order the venue no longer lists is resolved by querying
//     its final state and replaying it as a synthetic order event (a fill
//     that happened while disconnected lands here);
//   - a venue order with no local counterpart is adopted as a cancel
//     target, since no hosted strategy is tracking its exposure.
func (c *Connector) Reconcile(ctx context.Context, local LocalOrderView, logger *slog.Logger) error {
	venueOrders, err := c.rest.OpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("exchange: reconcile open-orders query: %w", err)
	}

	venueByClientID := make(map[string]domain.OrderRecord, len(venueOrders))
	for _, o := range venueOrders {
		venueByClientID[o.ClientOrderID] = o
	}

	localOrders := local.LiveOrderRecords()
	localByClientID := make(map[string]bool, len(localOrders))

	for _, lo := range localOrders {
		localByClientID[lo.ClientOrderID] = true

		vo, stillOpen := venueByClientID[lo.ClientOrderID]
		if stillOpen {
			// Still resting; replay a synthetic update if fills accrued
			// while disconnected.
			if vo.FilledSize > lo.FilledSize {
				vo.StrategyID = lo.StrategyID
				vo.UpdatedAt = time.Now().UTC()
				c.ws.dispatchFill(vo)
			}
			continue
		}

		final, err := c.rest.OrderStatus(ctx, lo.Symbol, lo.ClientOrderID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				// Local-only phantom: the venue never saw it. Replay as
				// cancelled so the strategy stops counting its exposure.
				lo.State = domain.OrderCancelled
				lo.UpdatedAt = time.Now().UTC()
				c.ws.dispatchFill(lo)
				continue
			}
			logger.Warn("exchange: reconcile order status failed",
				slog.String("client_order_id", lo.ClientOrderID), slog.String("error", err.Error()))
			continue
		}

		final.StrategyID = lo.StrategyID
		final.UpdatedAt = time.Now().UTC()
		c.ws.dispatchFill(final)
	}

	for _, vo := range venueOrders {
		if localByClientID[vo.ClientOrderID] {
			continue
		}
		// Unknown real order: no strategy tracks it, so it has no owner to
		// manage its exposure. Cancel it.
		logger.Warn("exchange: reconcile cancelling unknown venue order",
			slog.String("client_order_id", vo.ClientOrderID), slog.String("symbol", vo.Symbol))
		if err := c.CancelOrder(ctx, vo.Symbol, vo.ClientOrderID); err != nil {
			logger.Warn("exchange: reconcile cancel failed",
				slog.String("client_order_id", vo.ClientOrderID), slog.String("error", err.Error()))
		}
	}

	return nil
}
