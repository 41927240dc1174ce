package strategy

import (
	"fmt"
	"sort"

	"github.com/hivebot/hive/internal/domain"
)

// Quote is one desired resting order in a target ladder, the common
// quote/signal -> intent translation unit shared by PureMarketMaking and
// MarketMakingV2.
type Quote struct {
	Side  domain.OrderSide
	Price float64
	Size  float64
}

// DiffTolerance bounds how close a live order must be to a target quote to
// be considered "already there" rather than needing a cancel+create.
type DiffTolerance struct {
	PriceTol float64
	SizeTol  float64
}

// DiffQuotes computes the minimal cancel+create set to move the live order
// book from its current state to target, never cancelling an order that
// was just acknowledged open this tick.
//
// live is the strategy's current live_orders view; justAcked carries the
// client_order_ids that transitioned to OrderOpen since the last tick.
func DiffQuotes(target []Quote, live map[string]*domain.OrderRecord, justAcked map[string]bool, tol DiffTolerance) (cancels []string, creates []Quote) {
	matched := make(map[string]bool, len(live))

	for _, q := range target {
		found := false
		for id, order := range live {
			if matched[id] {
				continue
			}
			if order.State.IsTerminal() {
				continue
			}
			if order.Side != q.Side {
				continue
			}
			if !within(order.Price, q.Price, tol.PriceTol) {
				continue
			}
			if !within(order.Remaining(), q.Size, tol.SizeTol) {
				continue
			}
			matched[id] = true
			found = true
			break
		}
		if !found {
			creates = append(creates, q)
		}
	}

	// Everything resting but not matched to a target quote gets cancelled,
	// unless it was acknowledged open this very tick.
	ids := make([]string, 0, len(live))
	for id := range live {
		ids = append(ids, id)
	}
	sort.Strings(ids) // deterministic order for tests and logs

	for _, id := range ids {
		order := live[id]
		if matched[id] {
			continue
		}
		if order.State.IsTerminal() {
			continue
		}
		if justAcked[id] {
			continue
		}
		cancels = append(cancels, exchangeOrClientID(order))
	}

	return cancels, creates
}

func within(a, b, tol float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= tol
}

func exchangeOrClientID(o *domain.OrderRecord) string {
	if o.ExchangeOrderID != "" {
		return o.ExchangeOrderID
	}
	return o.ClientOrderID
}

// BuildIntents converts a cancel/create diff into gateway-bound intents,
// attributing every one to strategyID.
func BuildIntents(strategyID, symbol string, cancels []string, creates []Quote, clientIDFor func(int) string) []domain.Intent {
	intents := make([]domain.Intent, 0, len(cancels)+len(creates))

	for _, orderID := range cancels {
		intents = append(intents, domain.Intent{
			Kind: domain.IntentCancel,
			StrategyID: strategyID,
			Symbol: symbol,
			OrderID: orderID,
		})
	}

	for i, q := range creates {
		intents = append(intents, domain.Intent{
			Kind: domain.IntentCreate,
			StrategyID: strategyID,
			Symbol: symbol,
			Side: q.Side,
			Type: domain.OrderGTC,
			Price: q.Price,
			Size: q.Size,
			ClientOrderID: clientIDFor(i),
		})
	}

	return intents
}

// clientOrderIDCounter produces monotonically increasing client_order_ids
// scoped to one strategy.
type clientOrderIDCounter struct {
	strategyID string
	next       int64
}

func newClientOrderIDCounter(strategyID string) *clientOrderIDCounter {
	return &clientOrderIDCounter{strategyID: strategyID}
}

func (c *clientOrderIDCounter) Next() string {
	c.next++
	return fmt.Sprintf("%s-%d", c.strategyID, c.next)
}
