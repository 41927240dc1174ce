package observability

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hivebot/hive/internal/domain"
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

type memBotStore struct {
	mu   sync.Mutex
	last domain.BotHeartbeat
	hits int
}

func (s *memBotStore) Upsert(ctx context.Context, hb domain.BotHeartbeat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = hb
	s.hits++
	return nil
}
func (s *memBotStore) Get(ctx context.Context, botID string) (domain.BotHeartbeat, error) {
	return domain.BotHeartbeat{}, domain.ErrNotFound
}
func (s *memBotStore) List(ctx context.Context) ([]domain.BotHeartbeat, error) { return nil, nil }
func (s *memBotStore) Delete(ctx context.Context, botID string) error { return nil }

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.New(&memStrategyStore{rows: make(map[string]domain.StrategyConfig)}, memActivityStore{}, nil, logger)

	_, err := reg.Register(context.Background(), domain.StrategyConfig{
		Name: "pmm1", Type: domain.StrategyPureMarketMaking,
		TradingPair: "ETH-USD", Leverage: 1, TotalAmountQuote: 1000, Owner: "alice",
		PMM: &domain.PMMParams{BidSpread: 0.002, AskSpread: 0.002, OrderAmount: 0.001, OrderLevels: 1, OrderRefreshTime: 10},
	})
	require.NoError(t, err)
	return reg
}

func TestSnapshotAggregatesRegistryState(t *testing.T) {
	reg := testRegistry(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	hb := New(reg, nil, nil, Config{BotID: "bot-1", BotName: "hive-testnet", APIPort: 8000}, logger)
	snap := hb.snapshot("running")

	require.Equal(t, "bot-1", snap.BotID)
	require.Equal(t, "running", snap.Status)
	require.Equal(t, 1, snap.TotalStrategies)
	require.Equal(t, []string{"pmm1"}, snap.Strategies)
	require.Equal(t, 8000, snap.APIPort)
	require.False(t, snap.LastActivity.IsZero())
}

func TestEmitWritesStoreAndPostsToManager(t *testing.T) {
	reg := testRegistry(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := &memBotStore{}

	received := make(chan domain.BotHeartbeat, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/bots", r.URL.Path)
		var hb domain.BotHeartbeat
		require.NoError(t, json.NewDecoder(r.Body).Decode(&hb))
		received <- hb
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "bot": hb})
	}))
	defer srv.Close()

	hb := New(reg, store, nil, Config{
		BotID: "bot-1", BotName: "hive-testnet", DashboardURL: srv.URL,
	}, logger)
	hb.emit(context.Background(), "running")

	store.mu.Lock()
	require.Equal(t, 1, store.hits)
	require.Equal(t, "bot-1", store.last.BotID)
	store.mu.Unlock()

	select {
	case got := <-received:
		require.Equal(t, "bot-1", got.BotID)
		require.Equal(t, "running", got.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("manager never received the heartbeat")
	}
}

func TestRunEmitsFinalStoppedHeartbeat(t *testing.T) {
	reg := testRegistry(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := &memBotStore{}

	hb := New(reg, store, nil, Config{BotID: "bot-1", Interval: time.Hour}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hb.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.hits >= 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("heartbeat loop did not exit")
	}

	store.mu.Lock()
	require.Equal(t, "stopped", store.last.Status)
	store.mu.Unlock()
}
