package strategy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hivebot/hive/internal/domain"
)

func TestDiffQuotesMatchesWithinTolerance(t *testing.T) {
	target := []Quote{{Side: domain.SideBuy, Price: 99.80, Size: 0.001}}
	live := map[string]*domain.OrderRecord{
		"o1": {ClientOrderID: "o1", Side: domain.SideBuy, Price: 99.8004, Size: 0.001, State: domain.OrderOpen},
	}

	cancels, creates := DiffQuotes(target, live, nil, DiffTolerance{PriceTol: 0.001, SizeTol: 0.0001})
	require.Empty(t, cancels)
	require.Empty(t, creates)
}

func TestDiffQuotesCancelsUnmatchedAndCreatesMissing(t *testing.T) {
	target := []Quote{
		{Side: domain.SideBuy, Price: 99.90, Size: 0.001},
		{Side: domain.SideSell, Price: 100.30, Size: 0.001},
	}
	live := map[string]*domain.OrderRecord{
		"o1": {ClientOrderID: "o1", Side: domain.SideBuy, Price: 99.80, Size: 0.001, State: domain.OrderOpen},
	}

	cancels, creates := DiffQuotes(target, live, nil, DiffTolerance{})
	require.Equal(t, []string{"o1"}, cancels)
	require.Len(t, creates, 2)
}

func TestDiffQuotesNeverCancelsJustAckedOrders(t *testing.T) {
	live := map[string]*domain.OrderRecord{
		"o1": {ClientOrderID: "o1", Side: domain.SideBuy, Price: 99.80, Size: 0.001, State: domain.OrderOpen},
	}

	cancels, _ := DiffQuotes(nil, live, map[string]bool{"o1": true}, DiffTolerance{})
	require.Empty(t, cancels, "an order acknowledged open this tick must survive it")
}

func TestDiffQuotesSkipsTerminalOrders(t *testing.T) {
	live := map[string]*domain.OrderRecord{
		"done": {ClientOrderID: "done", Side: domain.SideBuy, Price: 99.80, Size: 0.001, State: domain.OrderFilled},
	}

	cancels, creates := DiffQuotes([]Quote{{Side: domain.SideBuy, Price: 99.80, Size: 0.001}}, live, nil, DiffTolerance{})
	require.Empty(t, cancels)
	require.Len(t, creates, 1, "a terminal order cannot satisfy a target quote")
}

func TestDiffQuotesPrefersExchangeOrderIDForCancels(t *testing.T) {
	live := map[string]*domain.OrderRecord{
		"o1": {ClientOrderID: "o1", ExchangeOrderID: "ex-77", Side: domain.SideSell, Price: 101, Size: 1, State: domain.OrderOpen},
	}

	cancels, _ := DiffQuotes(nil, live, nil, DiffTolerance{})
	require.Equal(t, []string{"ex-77"}, cancels)
}

func TestBuildIntentsAttributesEveryIntent(t *testing.T) {
	counter := newClientOrderIDCounter("s1")
	intents := BuildIntents("s1", "ETH-USD",
		[]string{"old-1"},
		[]Quote{{Side: domain.SideBuy, Price: 99, Size: 1}},
		func(int) string { return counter.Next() },
	)

	require.Len(t, intents, 2)
	for _, in := range intents {
		require.Equal(t, "s1", in.StrategyID)
		require.Equal(t, "ETH-USD", in.Symbol)
	}
	require.Equal(t, domain.IntentCancel, intents[0].Kind)
	require.Equal(t, "old-1", intents[0].OrderID)
	require.Equal(t, domain.IntentCreate, intents[1].Kind)
	require.Equal(t, "s1-1", intents[1].ClientOrderID)
}

func TestClientOrderIDCounterMonotonic(t *testing.T) {
	c := newClientOrderIDCounter("s1")
	require.Equal(t, "s1-1", c.Next())
	require.Equal(t, "s1-2", c.Next())
	require.Equal(t, "s1-3", c.Next())
}
