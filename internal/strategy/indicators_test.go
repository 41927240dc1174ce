package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hivebot/hive/internal/domain"
)

func flatCandles(n int, price float64) []domain.Candle {
	out := make([]domain.Candle, n)
	now := time.Now()
	for i := 0; i < n; i++ {
		out[i] = domain.Candle{
			OpenTime: now.Add(time.Duration(i) * time.Minute),
			Open: price, High: price, Low: price, Close: price, Volume: 1,
		}
	}
	return out
}

func TestSMAInsufficientData(t *testing.T) {
	_, ok := sma([]float64{1, 2}, 5)
	require.False(t, ok)
}

func TestSMAComputesAverage(t *testing.T) {
	v, ok := sma([]float64{1, 2, 3, 4, 5}, 5)
	require.True(t, ok)
	require.InDelta(t, 3.0, v, 1e-9)
}

func TestBollingerPercentBIndeterminateOnFlatSeries(t *testing.T) {
	candles := flatCandles(25, 100)
	_, ok := bollingerPercentB(candles, 20, 2)
	require.False(t, ok) // zero stddev is treated as indeterminate
}

func TestBollingerPercentBAboveMeanOnUptrend(t *testing.T) {
	candles := trendingCandles(30, 100, 2)
	pctB, ok := bollingerPercentB(candles, 20, 2)
	require.True(t, ok)
	require.Greater(t, pctB, 0.5)
}

func TestClampSignalBounds(t *testing.T) {
	require.Equal(t, 1.0, clampSignal(5))
	require.Equal(t, -1.0, clampSignal(-5))
	require.InDelta(t, 0.3, clampSignal(0.3), 1e-9)
}

func TestMACDSignalRequiresWarmup(t *testing.T) {
	_, ok := macdSignal(flatCandles(10, 100))
	require.False(t, ok)
}

func TestMACDSignalPositiveOnUptrend(t *testing.T) {
	// A constant-slope series settles to a zero histogram, so the uptrend
	// here accelerates: the MACD line keeps rising above its signal line.
	candles := trendingCandles(60, 100, 1)
	for i := range candles {
		candles[i].Close += float64(i*i) / 20
	}
	signal, ok := macdSignal(candles)
	require.True(t, ok)
	require.Greater(t, signal, 0.0)
}

func TestATRRequiresWarmup(t *testing.T) {
	_, ok := atr(flatCandles(3, 100), 14)
	require.False(t, ok)
}

func TestATRZeroOnFlatSeries(t *testing.T) {
	v, ok := atr(flatCandles(20, 100), 14)
	require.True(t, ok)
	require.InDelta(t, 0, v, 1e-9)
}

func TestSupertrendSignalRequiresWarmup(t *testing.T) {
	_, ok := supertrendSignal(flatCandles(3, 100), 10, 3)
	require.False(t, ok)
}

func TestDmanSignalBlendsCrossoverAndBands(t *testing.T) {
	candles := trendingCandles(40, 100, 1)
	signal, ok := dmanSignal(candles, 20, 2)
	require.True(t, ok)
	require.Greater(t, signal, 0.0)
}

func TestMaxInt(t *testing.T) {
	require.Equal(t, 5, maxInt(5, 2))
	require.Equal(t, 5, maxInt(2, 5))
}
