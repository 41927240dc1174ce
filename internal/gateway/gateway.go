// Package gateway implements the Order Gateway: the single path every
// strategy's order intents pass through on their way to the venue, enforcing
// fair per-strategy scheduling under a global rate budget.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hivebot/hive/internal/domain"
)

// VenueClient is the subset of internal/exchange.Connector the gateway
// drives to actually place/cancel orders.
type VenueClient interface {
	PlaceOrder(ctx context.Context, intent domain.Intent) (exchangeOrderID string, err error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	CancelAll(ctx context.Context, symbol string) error
}

// Config holds the gateway's quota and retry parameters.
type Config struct {
	GlobalOrdersPerSecond int
	QueueCap              int           // per-strategy FIFO cap; Creates shed above this
	RetryDelay            time.Duration
}

// queuedIntent is one FIFO entry awaiting dispatch.
type queuedIntent struct {
	intent Intent
}

// Intent wraps a domain.Intent with the outcome callback the caller wants
// invoked once the gateway resolves it.
type Intent struct {
	domain.Intent
	OnOutcome func(domain.IntentOutcome)
}

// strategyQueue is one strategy's FIFO order intent queue.
type strategyQueue struct {
	items []queuedIntent
}

// Gateway is the Order Gateway: per-strategy FIFO queues drained
// in round-robin order under a global rate budget, with retry-once on
// retriable rejections and strict create/cancel serialization per
// client_order_id.
type Gateway struct {
	venue   VenueClient
	limiter domain.RateLimiter
	cfg     Config
	logger  *slog.Logger

	mu       sync.Mutex
	queues   map[string]*strategyQueue
	rrOrder  []string
	rrCursor int

	inflightMu sync.Mutex
	inflight   map[string]bool // client_order_id currently being processed

	wake chan struct{}
}

// New creates a Gateway.
func New(venue VenueClient, limiter domain.RateLimiter, cfg Config, logger *slog.Logger) *Gateway {
	return &Gateway{
		venue: venue,
		limiter: limiter,
		cfg: cfg,
		logger: logger.With(slog.String("component", "gateway")),
		queues: make(map[string]*strategyQueue),
		inflight: make(map[string]bool),
		wake: make(chan struct{}, 1),
	}
}

// Submit enqueues an intent for its strategy. Cancels and CancelAllFor are
// always accepted. Once a strategy's queue is at capacity, the oldest
// queued Create is evicted to make room rather than rejecting the new
// intent.
func (g *Gateway) Submit(it Intent) error {
	g.mu.Lock()
	q, ok := g.queues[it.StrategyID]
	if !ok {
		q = &strategyQueue{}
		g.queues[it.StrategyID] = q
		g.rrOrder = append(g.rrOrder, it.StrategyID)
	}

	if len(q.items) >= g.cfg.QueueCap {
		shed := false
		for i := range q.items {
			if q.items[i].intent.Kind == domain.IntentCreate {
				q.items = append(q.items[:i], q.items[i+1:]...)
				shed = true
				break
			}
		}
		if !shed && it.Kind == domain.IntentCreate {
			// Nothing sheddable (queue is all cancels): the new Create is
			// dropped rather than growing the queue unbounded.
			g.mu.Unlock()
			return fmt.Errorf("gateway: queue full for strategy %s, no sheddable create, new create dropped", it.StrategyID)
		}
	}

	q.items = append(q.items, queuedIntent{intent: it})
	g.mu.Unlock()

	select {
	case g.wake <- struct{}{}:
	default:
	}
	return nil
}

// Run drains queues in round-robin order under the global rate budget until
// ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	g.logger.Info("gateway started")
	defer g.logger.Info("gateway stopped")

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-g.wake:
		case <-ticker.C:
		}

		for g.dispatchNext(ctx) {
		}
	}
}

// dispatchNext pops and processes one intent from the next eligible
// strategy in round-robin order. It returns true if an intent was
// dispatched, so the caller can keep draining within the current budget.
func (g *Gateway) dispatchNext(ctx context.Context) bool {
	g.mu.Lock()
	strategyID, it, found := g.popNextRoundRobin()
	g.mu.Unlock()
	if !found {
		return false
	}

	allowed, err := g.limiter.Allow(ctx, "gateway:global", g.cfg.GlobalOrdersPerSecond, time.Second)
	if err != nil || !allowed {
		// Put it back at the front of its queue and stop this pass; the
		// ticker will retry on the next tick.
		g.requeueFront(strategyID, it)
		return false
	}

	if it.Kind == domain.IntentCreate || it.Kind == domain.IntentCancel {
		key := it.ClientOrderID
		if key == "" {
			key = it.OrderID
		}
		g.inflightMu.Lock()
		if g.inflight[key] {
			g.inflightMu.Unlock()
			// Another create/cancel for this client_order_id is in flight;
			// requeue behind the rest of this strategy's queue to preserve
			// serialization without head-of-line blocking other strategies.
			g.requeueBack(strategyID, it)
			return true
		}
		g.inflight[key] = true
		g.inflightMu.Unlock()

		go func() {
			defer func() {
				g.inflightMu.Lock()
				delete(g.inflight, key)
				g.inflightMu.Unlock()
			}()
			g.process(ctx, it)
		}()
	} else {
		go g.process(ctx, it)
	}

	return true
}

// popNextRoundRobin pops the head of the next non-empty queue, advancing
// the round-robin cursor. Caller must hold g.mu.
func (g *Gateway) popNextRoundRobin() (string, Intent, bool) {
	n := len(g.rrOrder)
	for i := 0; i < n; i++ {
		idx := (g.rrCursor + i) % n
		id := g.rrOrder[idx]
		q := g.queues[id]
		if len(q.items) == 0 {
			continue
		}
		it := q.items[0].intent
		q.items = q.items[1:]
		g.rrCursor = (idx + 1) % n
		return id, it, true
	}
	return "", Intent{}, false
}

func (g *Gateway) requeueFront(strategyID string, it Intent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	q, ok := g.queues[strategyID]
	if !ok {
		q = &strategyQueue{}
		g.queues[strategyID] = q
	}
	q.items = append([]queuedIntent{{intent: it}}, q.items...)
}

func (g *Gateway) requeueBack(strategyID string, it Intent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	q, ok := g.queues[strategyID]
	if !ok {
		q = &strategyQueue{}
		g.queues[strategyID] = q
	}
	q.items = append(q.items, queuedIntent{intent: it})
}

// process executes one intent against the venue, retrying once after
// RetryDelay on a retriable rejection.
func (g *Gateway) process(ctx context.Context, it Intent) {
	outcome := g.execute(ctx, it.Intent)

	if !outcome.Accepted && outcome.ShouldRetry {
		select {
		case <-ctx.Done():
		case <-time.After(g.cfg.RetryDelay):
			outcome = g.execute(ctx, it.Intent)
		}
	}

	if it.OnOutcome != nil {
		it.OnOutcome(outcome)
	}
}

func (g *Gateway) execute(ctx context.Context, in domain.Intent) domain.IntentOutcome {
	var err error

	switch in.Kind {
	case domain.IntentCreate:
		_, err = g.venue.PlaceOrder(ctx, in)
	case domain.IntentCancel:
		err = g.venue.CancelOrder(ctx, in.Symbol, in.OrderID)
	case domain.IntentCancelAllFor:
		err = g.venue.CancelAll(ctx, in.Symbol)
	default:
		err = fmt.Errorf("gateway: unknown intent kind %q", in.Kind)
	}

	if err == nil {
		return domain.IntentOutcome{Intent: in, Accepted: true}
	}

	kind, retriable := classify(err)
	g.logger.Warn("intent rejected",
		slog.String("strategy_id", in.StrategyID),
		slog.String("kind", string(in.Kind)),
		slog.String("error_kind", string(kind)),
		slog.String("error", err.Error()),
	)

	return domain.IntentOutcome{
		Intent: in,
		Accepted: false,
		Kind: kind,
		Message: err.Error(),
		ShouldRetry: retriable,
	}
}

// classify maps a venue error to the error taxonomy. A rate-limit error
// (domain.ErrRateLimited, e.g. HTTP 429) is a retriable VenueTransient. Any
// other error not recognized as a structured VenueError is treated as a
// non-retriable VenueRejected, the conservative default.
func classify(err error) (domain.ErrorKind, bool) {
	type kinder interface {
		ErrorKind() domain.ErrorKind
	}
	if k, ok := err.(kinder); ok {
		kind := k.ErrorKind()
		return kind, kind.Retriable()
	}
	if errors.Is(err, domain.ErrRateLimited) {
		return domain.KindVenueTransient, true
	}
	return domain.KindVenueRejected, false
}
