package scheduler

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

type memActivityStore struct{}

func (memActivityStore) Append(ctx context.Context, a domain.Activity) error { return nil }
func (memActivityStore) ListByStrategy(ctx context.Context, strategyID string, opts domain.ListOpts) ([]domain.Activity, error) {
	return nil, nil
}

// fakeBooks serves a configurable book per symbol with explicit freshness.
type fakeBooks struct {
	mu    sync.Mutex
	books map[string]domain.MarketBook
	fresh map[string]bool
}

func (b *fakeBooks) Latest(symbol string) (domain.MarketBook, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	book, ok := b.books[symbol]
	return book, ok
}

func (b *fakeBooks) IsFresh(symbol string, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fresh[symbol]
}

type noMeta struct{}

func (noMeta) InstrumentMeta(symbol string) (domain.InstrumentMeta, bool) {
	return domain.InstrumentMeta{}, false
}

// recordingCandles returns a fixed series and records each symbol queried.
type recordingCandles struct {
	mu      sync.Mutex
	queried []string
	series  []domain.Candle
}

func (c *recordingCandles) Series(symbol, interval string) []domain.Candle {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queried = append(c.queried, symbol)
	return c.series
}

type recordingVenue struct {
	mu     sync.Mutex
	placed []domain.Intent
}

func (v *recordingVenue) PlaceOrder(ctx context.Context, in domain.Intent) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.placed = append(v.placed, in)
	return "ex-1", nil
}
func (v *recordingVenue) CancelOrder(ctx context.Context, symbol, orderID string) error { return nil }
func (v *recordingVenue) CancelAll(ctx context.Context, symbol string) error            { return nil }

func (v *recordingVenue) placedCopy() []domain.Intent {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]domain.Intent(nil), v.placed...)
}

type openLimiter struct{}

func (openLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	return true, nil
}
func (openLimiter) Wait(ctx context.Context, key string) error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// schedEnv bundles the wired scheduler pieces a test drives.
type schedEnv struct {
	sched *Scheduler
	reg   *registry.Registry
	books *fakeBooks
	venue *recordingVenue
	gw    *gateway.Gateway
}

func newSchedEnv(t *testing.T, candles CandleSource) *schedEnv {
	t.Helper()
	logger := testLogger()

	reg := registry.New(&memStrategyStore{rows: make(map[string]domain.StrategyConfig)}, memActivityStore{}, nil, logger)
	venue := &recordingVenue{}
	gw := gateway.New(venue, openLimiter{}, gateway.Config{
		GlobalOrdersPerSecond: 100, QueueCap: 100, RetryDelay: time.Millisecond,
	}, logger)

	books := &fakeBooks{
		books: map[string]domain.MarketBook{"ETH-USD": {Symbol: "ETH-USD", Mid: 3000}},
		fresh: map[string]bool{"ETH-USD": true},
	}

	sched := New(reg, books, noMeta{}, candles, gw, Config{
		TickInterval:                time.Second,
		SoftTickBudget:              20 * time.Millisecond,
		ShutdownGrace:               10 * time.Millisecond,
		MaxPositionNotionalMultiple: 1.5,
		MinMarginFraction:           0.1,
	}, logger)

	return &schedEnv{sched: sched, reg: reg, books: books, venue: venue, gw: gw}
}

func (e *schedEnv) registerPMM(t *testing.T, name string, enabled bool) string {
	t.Helper()
	id, err := e.reg.Register(context.Background(), domain.StrategyConfig{
		Name: name, Type: domain.StrategyPureMarketMaking,
		TradingPair: "ETH-USD", Leverage: 1, TotalAmountQuote: 1000,
		Owner: "alice", Enabled: enabled,
		PMM: &domain.PMMParams{BidSpread: 0.002, AskSpread: 0.002, OrderAmount: 0.001, OrderLevels: 1, OrderRefreshTime: 10},
	})
	require.NoError(t, err)
	return id
}

// A freshly registered strategy is picked up by the next tick: seeded with
// its initial quote set and moved from pending to active, with no direct
// status mutation by the caller.
func TestTickActivatesPendingAndSeedsInitialQuotes(t *testing.T) {
	env := newSchedEnv(t, nil)
	id := env.registerPMM(t, "pmm1", true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = env.gw.Run(ctx) }()

	now := time.Now().UTC()
	env.sched.tick(ctx, now)

	_, rt, err := env.reg.Get(id)
	require.NoError(t, err)
	require.Equal(t, domain.StatusActive, rt.Status)
	require.Equal(t, now, rt.LastTickAt)
	require.Equal(t, now.Add(10*time.Second), rt.NextEligibleAt)

	require.Eventually(t, func() bool {
		return len(env.venue.placedCopy()) == 2
	}, 2*time.Second, 5*time.Millisecond, "the seed tick emits the two-sided initial ladder")

	sides := map[domain.OrderSide]bool{}
	for _, in := range env.venue.placedCopy() {
		require.Equal(t, domain.IntentCreate, in.Kind)
		require.Equal(t, id, in.StrategyID)
		sides[in.Side] = true
	}
	require.True(t, sides[domain.SideBuy])
	require.True(t, sides[domain.SideSell])
}

func TestTickLeavesPendingWhenBookStale(t *testing.T) {
	env := newSchedEnv(t, nil)
	id := env.registerPMM(t, "pmm1", true)

	env.books.mu.Lock()
	env.books.fresh["ETH-USD"] = false
	env.books.mu.Unlock()

	env.sched.tick(context.Background(), time.Now().UTC())

	_, rt, err := env.reg.Get(id)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, rt.Status, "activation waits for fresh market data")
}

func TestTickNeverActivatesDisabledStrategy(t *testing.T) {
	env := newSchedEnv(t, nil)
	id := env.registerPMM(t, "pmm1", false)

	env.sched.tick(context.Background(), time.Now().UTC())

	_, rt, err := env.reg.Get(id)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, rt.Status)
}

// The candle series must be read under the same pair it was subscribed
// with: candles_trading_pair, not the strategy's trading pair.
func TestDirectionalSeriesQueriedWithCandlesPair(t *testing.T) {
	candles := &recordingCandles{}
	env := newSchedEnv(t, candles)
	env.books.mu.Lock()
	env.books.books["BTC-USD"] = domain.MarketBook{Symbol: "BTC-USD", Mid: 60000}
	env.books.fresh["BTC-USD"] = true
	env.books.mu.Unlock()

	_, err := env.reg.Register(context.Background(), domain.StrategyConfig{
		Name: "dir1", Type: domain.StrategyDirectionalTrading,
		TradingPair: "BTC-USD", Leverage: 1, TotalAmountQuote: 1000,
		Owner: "alice", Enabled: true,
		Directional: &domain.DirectionalParams{
			ControllerName: "bollinger", CandlesTradingPair: "BTC-USDT", Interval: "1m",
			BBLength: 20, BBStd: 2, MaxExecutorsPerSide: 1,
		},
	})
	require.NoError(t, err)

	env.sched.tick(context.Background(), time.Now().UTC())

	candles.mu.Lock()
	defer candles.mu.Unlock()
	require.Equal(t, []string{"BTC-USDT"}, candles.queried)
}

func TestTickSkipsStaleBook(t *testing.T) {
	env := newSchedEnv(t, nil)
	id := env.registerPMM(t, "pmm1", true)
	require.NoError(t, env.reg.MarkStatus(context.Background(), id, domain.StatusActive))

	env.books.mu.Lock()
	env.books.fresh["ETH-USD"] = false
	env.books.mu.Unlock()

	env.sched.tick(context.Background(), time.Now().UTC())

	_, rt, err := env.reg.Get(id)
	require.NoError(t, err)
	require.True(t, rt.LastTickAt.IsZero(), "a strategy must not tick on a stale book")
}

func TestTickSkipsNotYetEligibleStrategy(t *testing.T) {
	env := newSchedEnv(t, nil)
	id := env.registerPMM(t, "pmm1", true)
	require.NoError(t, env.reg.MarkStatus(context.Background(), id, domain.StatusActive))

	future := time.Now().UTC().Add(time.Minute)
	require.NoError(t, env.reg.UpdateRuntime(id, func(rt *domain.StrategyRuntime) {
		rt.NextEligibleAt = future
	}))

	env.sched.tick(context.Background(), time.Now().UTC())

	_, rt, err := env.reg.Get(id)
	require.NoError(t, err)
	require.True(t, rt.LastTickAt.IsZero())
}

func TestTickSkipsNonActiveStrategy(t *testing.T) {
	env := newSchedEnv(t, nil)
	id := env.registerPMM(t, "pmm1", true)
	ctx := context.Background()
	require.NoError(t, env.reg.MarkStatus(ctx, id, domain.StatusActive))
	require.NoError(t, env.reg.MarkStatus(ctx, id, domain.StatusClosing))

	env.sched.tick(ctx, time.Now().UTC())

	_, rt, err := env.reg.Get(id)
	require.NoError(t, err)
	require.True(t, rt.LastTickAt.IsZero())
}

func TestRefreshIntervalResolution(t *testing.T) {
	pmm := domain.StrategyConfig{PMM: &domain.PMMParams{OrderRefreshTime: 10}}
	require.Equal(t, 10*time.Second, refreshInterval(pmm))

	// A refresh interval of 0 collapses to every tick.
	everyTick := domain.StrategyConfig{PMM: &domain.PMMParams{}}
	require.Equal(t, time.Second, refreshInterval(everyTick))

	mmv2 := domain.StrategyConfig{MMV2: &domain.MMV2Params{ExecutorRefreshTime: 5}}
	require.Equal(t, 5*time.Second, refreshInterval(mmv2))
}

func TestBackoffForCapsGrowth(t *testing.T) {
	tick := time.Second
	require.Equal(t, time.Second, backoffFor(1, tick))
	require.Equal(t, 5*time.Second, backoffFor(5, tick))
	require.Equal(t, 30*time.Second, backoffFor(100, tick), "back-off is capped, the strategy is never killed")
}
