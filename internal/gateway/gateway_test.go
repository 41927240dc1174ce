package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hivebot/hive/internal/domain"
)

// fakeVenue records every call and returns scripted errors.
type fakeVenue struct {
	mu        sync.Mutex
	placed    []domain.Intent
	cancelled []string

	placeErrs []error // consumed one per PlaceOrder call; nil = success
}

func (v *fakeVenue) PlaceOrder(ctx context.Context, in domain.Intent) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.placed = append(v.placed, in)
	if len(v.placeErrs) > 0 {
		err := v.placeErrs[0]
		v.placeErrs = v.placeErrs[1:]
		if err != nil {
			return "", err
		}
	}
	return "ex-1", nil
}

func (v *fakeVenue) CancelOrder(ctx context.Context, symbol, orderID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cancelled = append(v.cancelled, orderID)
	return nil
}

func (v *fakeVenue) CancelAll(ctx context.Context, symbol string) error { return nil }

func (v *fakeVenue) placedCopy() []domain.Intent {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]domain.Intent(nil), v.placed...)
}

// budgetLimiter allows exactly budget calls, then denies.
type budgetLimiter struct {
	mu     sync.Mutex
	budget int
}

func (l *budgetLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.budget <= 0 {
		return false, nil
	}
	l.budget--
	return true, nil
}

func (l *budgetLimiter) Wait(ctx context.Context, key string) error { return nil }

// transientErr satisfies the gateway's error-kind classification as a
// retriable venue failure.
type transientErr struct{}

func (transientErr) Error() string { return "venue 503" }
func (transientErr) ErrorKind() domain.ErrorKind { return domain.KindVenueTransient }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestGateway(venue VenueClient, limiter domain.RateLimiter, queueCap int) *Gateway {
	return New(venue, limiter, Config{
		GlobalOrdersPerSecond: 100,
		QueueCap: queueCap,
		RetryDelay: time.Millisecond,
	}, testLogger())
}

func createIntent(strategy, coid string) Intent {
	return Intent{Intent: domain.Intent{
		Kind: domain.IntentCreate,
		StrategyID: strategy,
		Symbol: "ETH-USD",
		Side: domain.SideBuy,
		Price: 100,
		Size: 1,
		ClientOrderID: coid,
	}}
}

// Two strategies flooding the gateway with a shared budget of 20 are each
// admitted exactly 10 intents, alternating by the round-robin dequeue.
func TestGatewayFairRoundRobinUnderBudget(t *testing.T) {
	venue := &fakeVenue{}
	limiter := &budgetLimiter{budget: 20}
	g := newTestGateway(venue, limiter, 1000)

	outcomes := make(chan domain.IntentOutcome, 200)
	for i := 0; i < 100; i++ {
		for _, s := range []string{"A", "B"} {
			it := createIntent(s, fmt.Sprintf("%s-%d", s, i))
			it.OnOutcome = func(o domain.IntentOutcome) { outcomes <- o }
			require.NoError(t, g.Submit(it))
		}
	}

	ctx := context.Background()
	for g.dispatchNext(ctx) {
	}

	admitted := map[string]int{}
	for i := 0; i < 20; i++ {
		select {
		case o := <-outcomes:
			admitted[o.Intent.StrategyID]++
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for outcome %d", i)
		}
	}
	require.Equal(t, 10, admitted["A"])
	require.Equal(t, 10, admitted["B"])
	require.Len(t, venue.placedCopy(), 20)
}

// A full queue sheds the oldest Create to admit new work; Cancels are
// privileged and never shed.
func TestGatewayQueueCapShedsCreatesNotCancels(t *testing.T) {
	venue := &fakeVenue{}
	g := newTestGateway(venue, &budgetLimiter{budget: 100}, 2)

	require.NoError(t, g.Submit(createIntent("A", "c1")))
	require.NoError(t, g.Submit(Intent{Intent: domain.Intent{
		Kind: domain.IntentCancel, StrategyID: "A", Symbol: "ETH-USD", OrderID: "old",
	}}))
	require.NoError(t, g.Submit(createIntent("A", "c2")))

	done := make(chan struct{}, 3)
	g.mu.Lock()
	for i := range g.queues["A"].items {
		g.queues["A"].items[i].intent.OnOutcome = func(domain.IntentOutcome) { done <- struct{}{} }
	}
	g.mu.Unlock()

	ctx := context.Background()
	for g.dispatchNext(ctx) {
	}
	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out draining gateway")
		}
	}

	placed := venue.placedCopy()
	require.Len(t, placed, 1)
	require.Equal(t, "c2", placed[0].ClientOrderID, "the oldest create is shed, the newest kept")

	venue.mu.Lock()
	cancelled := append([]string(nil), venue.cancelled...)
	venue.mu.Unlock()
	require.Equal(t, []string{"old"}, cancelled)
}

// A retriable rejection is retried exactly once after RetryDelay.
func TestGatewayRetriesTransientRejectionOnce(t *testing.T) {
	venue := &fakeVenue{placeErrs: []error{transientErr{}, nil}}
	g := newTestGateway(venue, &budgetLimiter{budget: 100}, 10)

	outcome := make(chan domain.IntentOutcome, 1)
	it := createIntent("A", "c1")
	it.OnOutcome = func(o domain.IntentOutcome) { outcome <- o }
	require.NoError(t, g.Submit(it))

	for g.dispatchNext(context.Background()) {
	}

	select {
	case o := <-outcome:
		require.True(t, o.Accepted)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outcome")
	}
	require.Len(t, venue.placedCopy(), 2)
}

// A business rejection is reported, counted once, and never retried.
func TestGatewayDoesNotRetryBusinessRejection(t *testing.T) {
	venue := &fakeVenue{placeErrs: []error{errors.New("insufficient margin")}}
	g := newTestGateway(venue, &budgetLimiter{budget: 100}, 10)

	outcome := make(chan domain.IntentOutcome, 1)
	it := createIntent("A", "c1")
	it.OnOutcome = func(o domain.IntentOutcome) { outcome <- o }
	require.NoError(t, g.Submit(it))

	for g.dispatchNext(context.Background()) {
	}

	select {
	case o := <-outcome:
		require.False(t, o.Accepted)
		require.Equal(t, domain.KindVenueRejected, o.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outcome")
	}
	require.Len(t, venue.placedCopy(), 1)
}

// An exhausted budget leaves intents queued rather than dropped; a
// replenished budget drains them.
func TestGatewayRequeuesWhenBudgetExhausted(t *testing.T) {
	venue := &fakeVenue{}
	limiter := &budgetLimiter{budget: 0}
	g := newTestGateway(venue, limiter, 10)

	outcome := make(chan domain.IntentOutcome, 1)
	it := createIntent("A", "c1")
	it.OnOutcome = func(o domain.IntentOutcome) { outcome <- o }
	require.NoError(t, g.Submit(it))

	ctx := context.Background()
	require.False(t, g.dispatchNext(ctx), "denied budget must stop the pass")
	require.Empty(t, venue.placedCopy())

	limiter.mu.Lock()
	limiter.budget = 1
	limiter.mu.Unlock()

	for g.dispatchNext(ctx) {
	}
	select {
	case o := <-outcome:
		require.True(t, o.Accepted)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outcome")
	}
}
