package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to StrategyStatus
		want     bool
	}{
		{StatusPending, StatusActive, true},
		{StatusPending, StatusError, true},
		{StatusPending, StatusClosing, false},
		{StatusActive, StatusClosing, true},
		{StatusActive, StatusError, true},
		{StatusActive, StatusStopped, false},
		{StatusClosing, StatusStopped, true},
		{StatusClosing, StatusError, true},
		{StatusClosing, StatusActive, false},
		{StatusStopped, StatusActive, false},
		{StatusError, StatusActive, false},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestOrderStateIsTerminal(t *testing.T) {
	require.True(t, OrderFilled.IsTerminal())
	require.True(t, OrderCancelled.IsTerminal())
	require.True(t, OrderRejected.IsTerminal())
	require.False(t, OrderPendingNew.IsTerminal())
	require.False(t, OrderOpen.IsTerminal())
	require.False(t, OrderPartiallyFilled.IsTerminal())
}

func TestMarketBookFreshnessBoundary(t *testing.T) {
	now := time.Now()
	threshold := 5 * time.Second

	book := MarketBook{LastUpdateTS: now.Add(-threshold)}
	require.False(t, book.IsFresh(now, threshold), "a book exactly at the threshold is stale")

	book.LastUpdateTS = now.Add(-threshold + time.Millisecond)
	require.True(t, book.IsFresh(now, threshold))

	book.Stale = true
	require.False(t, book.IsFresh(now, threshold), "an explicitly stale book is never fresh")
}

func TestAppendRecentActionBounded(t *testing.T) {
	var rt StrategyRuntime
	for i := 0; i < RecentActionsCap+10; i++ {
		rt.AppendRecentAction(Activity{Detail: "a"})
	}
	require.Len(t, rt.RecentActions, RecentActionsCap)
}

func TestPositionIsFlat(t *testing.T) {
	require.True(t, Position{}.IsFlat())
	require.True(t, Position{Size: 1e-12}.IsFlat())
	require.False(t, Position{Size: 0.5}.IsFlat())
	require.False(t, Position{Size: -0.5}.IsFlat())
}

func TestInstrumentMetaRounding(t *testing.T) {
	meta := InstrumentMeta{TickSize: 0.5, LotSize: 0.001}
	require.Equal(t, 99.5, meta.RoundPrice(99.7))
	require.Equal(t, 0.003, meta.RoundSize(0.0039))

	zero := InstrumentMeta{}
	require.Equal(t, 99.7, zero.RoundPrice(99.7), "unset tick passes prices through")
}

func TestOrderRecordRemaining(t *testing.T) {
	o := OrderRecord{Size: 1, FilledSize: 0.4}
	require.InDelta(t, 0.6, o.Remaining(), 1e-12)

	over := OrderRecord{Size: 1, FilledSize: 1.5}
	require.Equal(t, 0.0, over.Remaining())
}
