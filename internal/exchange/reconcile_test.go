package exchange

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

	"github.com/hivebot/hive/internal/crypto"
	"github.com/hivebot/hive/internal/domain"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

type staticLocalView []domain.OrderRecord

func (v staticLocalView) LiveOrderRecords() []domain.OrderRecord { return v }

type openLimiter struct{}

func (openLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	return true, nil
}
func (openLimiter) Wait(ctx context.Context, key string) error { return nil }

// venueStub serves the reconciliation endpoints from fixed state.
type venueStub struct {
	mu        sync.Mutex
	open      []domain.OrderRecord
	statuses  map[string]domain.OrderRecord // clientOrderID -> final record
	cancelled []string
}

func (v *venueStub) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /orders/open", func(w http.ResponseWriter, r *http.Request) {
		v.mu.Lock()
		defer v.mu.Unlock()
		_ = json.NewEncoder(w).Encode(v.open)
	})
	mux.HandleFunc("GET /orders/{symbol}/{coid}", func(w http.ResponseWriter, r *http.Request) {
		v.mu.Lock()
		defer v.mu.Unlock()
		rec, ok := v.statuses[r.PathValue("coid")]
		if !ok {
			http.Error(w, "unknown order", http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(rec)
	})
	mux.HandleFunc("DELETE /orders", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			OrderID string `json:"orderId"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		v.mu.Lock()
		v.cancelled = append(v.cancelled, body.OrderID)
		v.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	})
	return mux
}

func testConnector(t *testing.T, baseURL string) *Connector {
	t.Helper()
	signer, err := crypto.NewSigner(testKeyHex, 1)
	require.NoError(t, err)
	return New(Config{
		RESTHost: baseURL,
		WsHost: "ws://unused",
		ChainID: 1,
		RequestTimeout: 2 * time.Second,
		GlobalRatePerSecond: 100,
		SymbolRatePerSecond: 100,
	}, signer, openLimiter{})
}

func TestReconcileReplaysFillMissedWhileDisconnected(t *testing.T) {
	stub := &venueStub{
		statuses: map[string]domain.OrderRecord{
			"s1-1": {
				ClientOrderID: "s1-1", Symbol: "ETH-USD", Side: domain.SideBuy,
				Price: 3000, Size: 1, FilledSize: 1, State: domain.OrderFilled,
			},
		},
	}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	conn := testConnector(t, srv.URL)

	var synthetic []domain.OrderRecord
	conn.WS().OnFill(func(o domain.OrderRecord) { synthetic = append(synthetic, o) })

	local := staticLocalView{{
		ClientOrderID: "s1-1", StrategyID: "s1", Symbol: "ETH-USD",
		Side: domain.SideBuy, Price: 3000, Size: 1, State: domain.OrderOpen,
	}}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	require.NoError(t, conn.Reconcile(context.Background(), local, logger))

	require.Len(t, synthetic, 1)
	require.Equal(t, domain.OrderFilled, synthetic[0].State)
	require.Equal(t, "s1", synthetic[0].StrategyID, "the synthetic event keeps the local attribution")
	require.InDelta(t, 1.0, synthetic[0].FilledSize, 1e-12)
}

func TestReconcileCancelsLocalOnlyPhantom(t *testing.T) {
	stub := &venueStub{statuses: map[string]domain.OrderRecord{}}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	conn := testConnector(t, srv.URL)

	var synthetic []domain.OrderRecord
	conn.WS().OnFill(func(o domain.OrderRecord) { synthetic = append(synthetic, o) })

	local := staticLocalView{{
		ClientOrderID: "s1-9", StrategyID: "s1", Symbol: "ETH-USD",
		Side: domain.SideBuy, Price: 3000, Size: 1, State: domain.OrderPendingNew,
	}}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	require.NoError(t, conn.Reconcile(context.Background(), local, logger))

	require.Len(t, synthetic, 1)
	require.Equal(t, domain.OrderCancelled, synthetic[0].State, "a phantom the venue never saw is replayed as cancelled")
}

func TestReconcileAdoptsUnknownVenueOrderAsCancelTarget(t *testing.T) {
	stub := &venueStub{
		open: []domain.OrderRecord{{
			ClientOrderID: "ghost-1", Symbol: "ETH-USD", Side: domain.SideSell,
			Price: 3100, Size: 1, State: domain.OrderOpen,
		}},
		statuses: map[string]domain.OrderRecord{},
	}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	conn := testConnector(t, srv.URL)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	require.NoError(t, conn.Reconcile(context.Background(), staticLocalView{}, logger))

	stub.mu.Lock()
	require.Equal(t, []string{"ghost-1"}, stub.cancelled)
	stub.mu.Unlock()
}

func TestReconcileLeavesMatchingOrdersAlone(t *testing.T) {
	resting := domain.OrderRecord{
		ClientOrderID: "s1-1", Symbol: "ETH-USD", Side: domain.SideBuy,
		Price: 3000, Size: 1, State: domain.OrderOpen,
	}
	stub := &venueStub{open: []domain.OrderRecord{resting}, statuses: map[string]domain.OrderRecord{}}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	conn := testConnector(t, srv.URL)

	var synthetic []domain.OrderRecord
	conn.WS().OnFill(func(o domain.OrderRecord) { synthetic = append(synthetic, o) })

	withStrategy := resting
	withStrategy.StrategyID = "s1"
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	require.NoError(t, conn.Reconcile(context.Background(), staticLocalView{withStrategy}, logger))

	require.Empty(t, synthetic, "an order both sides agree on needs no repair")
	stub.mu.Lock()
	require.Empty(t, stub.cancelled)
	stub.mu.Unlock()
}
