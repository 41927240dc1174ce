package closeproto

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hivebot/hive/internal/domain"
	"github.com/hivebot/hive/internal/gateway"
	"github.com/hivebot/hive/internal/registry"
)

// memStrategyStore / memActivityStore are minimal in-memory stores backing
// the registry under test.
type memStrategyStore struct {
	mu   sync.Mutex
	rows map[string]domain.StrategyConfig
}

func (s *memStrategyStore) Insert(ctx context.Context, cfg domain.StrategyConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[cfg.ID] = cfg
	return nil
}
func (s *memStrategyStore) Get(ctx context.Context, id string) (domain.StrategyConfig, error) {
	return domain.StrategyConfig{}, domain.ErrNotFound
}
func (s *memStrategyStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.StrategyConfig, error) {
	return nil, nil
}
func (s *memStrategyStore) UpdateStatus(ctx context.Context, id string, status domain.StrategyStatus) error {
	return nil
}
func (s *memStrategyStore) Delete(ctx context.Context, id string) error { return nil }

type memActivityStore struct {
	mu   sync.Mutex
	rows []domain.Activity
}

func (s *memActivityStore) Append(ctx context.Context, a domain.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, a)
	return nil
}
func (s *memActivityStore) ListByStrategy(ctx context.Context, strategyID string, opts domain.ListOpts) ([]domain.Activity, error) {
	return nil, nil
}

// ackingVenue acks everything; CancelAll replays cancelled events into the
// registry so the drain loop observes live_orders emptying, the way real
// venue acks flow back through the user channel.
type ackingVenue struct {
	mu     sync.Mutex
	reg    *registry.Registry
	placed []domain.Intent
}

func (v *ackingVenue) PlaceOrder(ctx context.Context, in domain.Intent) (string, error) {
	v.mu.Lock()
	v.placed = append(v.placed, in)
	v.mu.Unlock()
	return "ex-1", nil
}

func (v *ackingVenue) CancelOrder(ctx context.Context, symbol, orderID string) error { return nil }

func (v *ackingVenue) CancelAll(ctx context.Context, symbol string) error {
	for _, rec := range v.reg.LiveOrderRecords() {
		rec.State = domain.OrderCancelled
		rec.UpdatedAt = time.Now().UTC()
		v.reg.ApplyFill(context.Background(), rec)
	}
	return nil
}

// openLimiter always allows.
type openLimiter struct{}

func (openLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	return true, nil
}
func (openLimiter) Wait(ctx context.Context, key string) error { return nil }

// memLocks is an in-process domain.LockManager.
type memLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemLocks() *memLocks { return &memLocks{held: make(map[string]bool)} }

func (l *memLocks) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}

// staticBooks serves one fixed book.
type staticBooks struct{ book domain.MarketBook }

func (b staticBooks) Latest(symbol string) (domain.MarketBook, bool) { return b.book, true }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupClose(t *testing.T) (*Runner, *registry.Registry, *ackingVenue, string, context.CancelFunc) {
	t.Helper()
	logger := testLogger()

	reg := registry.New(&memStrategyStore{rows: make(map[string]domain.StrategyConfig)}, &memActivityStore{}, nil, logger)

	venue := &ackingVenue{reg: reg}
	gw := gateway.New(venue, openLimiter{}, gateway.Config{
		GlobalOrdersPerSecond: 100,
		QueueCap: 100,
		RetryDelay: time.Millisecond,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = gw.Run(ctx) }()

	runner := New(reg, gw, staticBooks{book: domain.MarketBook{Symbol: "ETH-USD", Mid: 3000}}, newMemLocks(), Config{
		CancelDeadline: 2 * time.Second,
		FlattenRetries: 3,
		LockTTL: 5 * time.Second,
		PollInterval: 10 * time.Millisecond,
	}, logger)

	id, err := reg.Register(ctx, domain.StrategyConfig{
		Name: "pmm1", Type: domain.StrategyPureMarketMaking,
		TradingPair: "ETH-USD", Leverage: 1, TotalAmountQuote: 1000, Owner: "alice",
		PMM: &domain.PMMParams{BidSpread: 0.002, AskSpread: 0.002, OrderAmount: 0.001, OrderLevels: 1, OrderRefreshTime: 10},
	})
	require.NoError(t, err)
	require.NoError(t, reg.MarkStatus(ctx, id, domain.StatusActive))

	return runner, reg, venue, id, cancel
}

// A full close with both flags drains every live order, flattens the
// position with one reduce-only sell, and lands in stopped.
func TestCloseCancelsFlattensAndStops(t *testing.T) {
	runner, reg, venue, id, cancel := setupClose(t)
	defer cancel()
	ctx := context.Background()

	// Strategy holds +0.5 and three resting orders.
	for i, coid := range []string{id + "-1", id + "-2", id + "-3"} {
		reg.ApplyFill(ctx, domain.OrderRecord{
			ClientOrderID: coid, StrategyID: id, Symbol: "ETH-USD",
			Side: domain.SideBuy, Price: 3000 - float64(i), Size: 0.1, State: domain.OrderOpen,
		})
	}
	require.NoError(t, reg.UpdateRuntime(id, func(rt *domain.StrategyRuntime) {
		rt.Position = domain.Position{Size: 0.5, EntryVWAP: 2900}
	}))

	require.NoError(t, runner.Close(ctx, id, Options{CancelOrders: true, ClosePositions: true}))

	_, rt, err := reg.Get(id)
	require.NoError(t, err)
	require.Equal(t, domain.StatusStopped, rt.Status)
	require.Empty(t, rt.LiveOrders)

	venue.mu.Lock()
	placed := append([]domain.Intent(nil), venue.placed...)
	venue.mu.Unlock()
	require.Len(t, placed, 1, "exactly one flatten order reaches the venue")
	require.Equal(t, domain.SideSell, placed[0].Side)
	require.True(t, placed[0].ReduceOnly)
	require.InDelta(t, 0.5, placed[0].Size, 1e-12)
}

// Repeating a completed close is a no-op, not a second lifecycle.
func TestCloseIdempotentRepeat(t *testing.T) {
	runner, reg, venue, id, cancel := setupClose(t)
	defer cancel()
	ctx := context.Background()

	require.NoError(t, runner.Close(ctx, id, Options{CancelOrders: true, ClosePositions: true}))
	_, rt, err := reg.Get(id)
	require.NoError(t, err)
	require.Equal(t, domain.StatusStopped, rt.Status)

	venue.mu.Lock()
	placedBefore := len(venue.placed)
	venue.mu.Unlock()

	require.NoError(t, runner.Close(ctx, id, Options{CancelOrders: true, ClosePositions: true}))

	venue.mu.Lock()
	require.Equal(t, placedBefore, len(venue.placed), "a repeat close must not touch the venue again")
	venue.mu.Unlock()
}

// A racing concurrent close is rejected while the first holds the lock.
func TestCloseRejectsConcurrentRun(t *testing.T) {
	runner, _, _, id, cancel := setupClose(t)
	defer cancel()

	locks := runner.locks.(*memLocks)
	unlock, err := locks.Acquire(context.Background(), "close:"+id, time.Minute)
	require.NoError(t, err)
	defer unlock()

	err = runner.Close(context.Background(), id, Options{CancelOrders: true})
	require.ErrorIs(t, err, domain.ErrCloseInFlight)
}

// A flat position with ClosePositions set submits no flatten order.
func TestCloseSkipsFlattenWhenFlat(t *testing.T) {
	runner, reg, venue, id, cancel := setupClose(t)
	defer cancel()
	ctx := context.Background()

	require.NoError(t, runner.Close(ctx, id, Options{CancelOrders: true, ClosePositions: true}))

	_, rt, err := reg.Get(id)
	require.NoError(t, err)
	require.Equal(t, domain.StatusStopped, rt.Status)

	venue.mu.Lock()
	require.Empty(t, venue.placed)
	venue.mu.Unlock()
}
