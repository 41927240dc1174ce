package feed

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hivebot/hive/internal/domain"
)

// fakeWS records subscribe/unsubscribe traffic and lets tests inject book
// updates and reconnects through the registered handlers.
type fakeWS struct {
	mu         sync.Mutex
	subscribed []string
	unsubbed   []string

	onBook   func(domain.MarketBook)
	onReconn func([]string)
}

func (f *fakeWS) SubscribeBook(symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, symbol)
	return nil
}

func (f *fakeWS) Unsubscribe(channel, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubbed = append(f.unsubbed, symbol)
	return nil
}

func (f *fakeWS) OnBook(h func(domain.MarketBook)) { f.onBook = h }
func (f *fakeWS) OnReconnect(h func(symbols []string)) { f.onReconn = h }

func (f *fakeWS) subscribeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribed)
}

func newTestHub(ws *fakeWS, stale, linger time.Duration) *Hub {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(ws, stale, linger, logger)
}

func TestHubRefcountsUpstreamSubscription(t *testing.T) {
	ws := &fakeWS{}
	hub := newTestHub(ws, 5*time.Second, time.Hour)

	rel1, err := hub.Subscribe("ETH-USD")
	require.NoError(t, err)
	rel2, err := hub.Subscribe("ETH-USD")
	require.NoError(t, err)

	require.Equal(t, 1, ws.subscribeCount(), "one upstream subscription per symbol regardless of subscriber count")

	rel1()
	rel2()
}

func TestHubLingerDelaysUnsubscribe(t *testing.T) {
	ws := &fakeWS{}
	hub := newTestHub(ws, 5*time.Second, 20*time.Millisecond)

	release, err := hub.Subscribe("ETH-USD")
	require.NoError(t, err)
	release()

	ws.mu.Lock()
	require.Empty(t, ws.unsubbed, "unsubscribe waits out the linger window")
	ws.mu.Unlock()

	require.Eventually(t, func() bool {
		ws.mu.Lock()
		defer ws.mu.Unlock()
		return len(ws.unsubbed) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHubResubscribeWithinLingerKeepsStream(t *testing.T) {
	ws := &fakeWS{}
	hub := newTestHub(ws, 5*time.Second, 50*time.Millisecond)

	release, err := hub.Subscribe("ETH-USD")
	require.NoError(t, err)
	release()

	_, err = hub.Subscribe("ETH-USD")
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	ws.mu.Lock()
	require.Empty(t, ws.unsubbed, "a re-subscribe inside the linger window cancels the teardown")
	ws.mu.Unlock()
}

func TestHubLatestServesMostRecentSnapshot(t *testing.T) {
	ws := &fakeWS{}
	hub := newTestHub(ws, 5*time.Second, time.Hour)

	_, err := hub.Subscribe("ETH-USD")
	require.NoError(t, err)

	_, ok := hub.Latest("ETH-USD")
	require.False(t, ok, "no snapshot before the first update")

	ws.onBook(domain.MarketBook{Symbol: "ETH-USD", Mid: 3000})
	ws.onBook(domain.MarketBook{Symbol: "ETH-USD", Mid: 3001})

	book, ok := hub.Latest("ETH-USD")
	require.True(t, ok)
	require.Equal(t, 3001.0, book.Mid)
	require.True(t, hub.IsFresh("ETH-USD", time.Now()))
}

func TestHubReconnectMarksBooksStaleAndEmitsResync(t *testing.T) {
	ws := &fakeWS{}
	hub := newTestHub(ws, 5*time.Second, time.Hour)

	_, err := hub.Subscribe("ETH-USD")
	require.NoError(t, err)
	ws.onBook(domain.MarketBook{Symbol: "ETH-USD", Mid: 3000})

	var resynced []string
	hub.OnResync(func(symbols []string) { resynced = symbols })

	ws.onReconn([]string{"ETH-USD"})

	book, ok := hub.Latest("ETH-USD")
	require.True(t, ok)
	require.True(t, book.Stale)
	require.False(t, hub.IsFresh("ETH-USD", time.Now()))
	require.Equal(t, []string{"ETH-USD"}, resynced)

	// A fresh post-reconnect snapshot clears staleness.
	ws.onBook(domain.MarketBook{Symbol: "ETH-USD", Mid: 3002})
	require.True(t, hub.IsFresh("ETH-USD", time.Now()))
}

func TestHubOnUpdateFansOut(t *testing.T) {
	ws := &fakeWS{}
	hub := newTestHub(ws, 5*time.Second, time.Hour)

	_, err := hub.Subscribe("ETH-USD")
	require.NoError(t, err)

	var got []float64
	hub.OnUpdate(func(b domain.MarketBook) { got = append(got, b.Mid) })

	ws.onBook(domain.MarketBook{Symbol: "ETH-USD", Mid: 1})
	ws.onBook(domain.MarketBook{Symbol: "ETH-USD", Mid: 2})
	require.Equal(t, []float64{1, 2}, got)
}

func TestCandleFeedRetainsBoundedSeries(t *testing.T) {
	var handler func(domain.Candle)
	cf := NewCandleFeed(fakeCandleWS{onCandle: &handler})

	require.NoError(t, cf.Subscribe("ETH-USD", "1m"))

	for i := 0; i < candleCap+20; i++ {
		handler(domain.Candle{Symbol: "ETH-USD", Interval: "1m", Close: float64(i)})
	}

	series := cf.Series("ETH-USD", "1m")
	require.Len(t, series, candleCap)
	require.Equal(t, float64(candleCap+19), series[len(series)-1].Close, "newest candle retained")
}

type fakeCandleWS struct {
	onCandle *func(domain.Candle)
}

func (f fakeCandleWS) SubscribeCandles(symbol, interval string) error { return nil }
func (f fakeCandleWS) Unsubscribe(channel, symbol string) error { return nil }
func (f fakeCandleWS) OnCandle(h func(domain.Candle)) { *f.onCandle = h }
