package strategy

import (
	"math"

	"github.com/hivebot/hive/internal/domain"
)

// closes extracts closing prices, oldest first.
func closes(candles []domain.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

func sma(values []float64, length int) (float64, bool) {
	if length <= 0 || len(values) < length {
		return 0, false
	}
	window := values[len(values)-length:]
	sum := 0.0
	for _, v := range window {
		sum += v
	}
	return sum / float64(length), true
}

func stddev(values []float64, length int, mean float64) (float64, bool) {
	if length <= 0 || len(values) < length {
		return 0, false
	}
	window := values[len(values)-length:]
	var sumSq float64
	for _, v := range window {
		d := v - mean
		sumSq += d * d
	}
	variance := sumSq / float64(length)
	return math.Sqrt(variance), true
}

// bollingerPercentB returns the candle series' position within its
// Bollinger band as a fraction in roughly [0, 1] (can exceed the range when
// price pierces a band): 0 at the lower band, 1 at the upper band, 0.5 at
// the mean.
func bollingerPercentB(candles []domain.Candle, length int, std float64) (float64, bool) {
	vals := closes(candles)
	mean, ok := sma(vals, length)
	if !ok {
		return 0, false
	}
	dev, ok := stddev(vals, length, mean)
	if !ok || dev == 0 {
		return 0, false
	}
	upper := mean + std*dev
	lower := mean - std*dev
	last := vals[len(vals)-1]
	return (last - lower) / (upper - lower), true
}

// ema computes the exponential moving average series for the given length,
// returned aligned to the input (zero-valued for indices before the
// warm-up period).
func ema(values []float64, length int) []float64 {
	out := make([]float64, len(values))
	if length <= 0 || len(values) < length {
		return out
	}
	k := 2.0 / float64(length+1)
	seed, _ := sma(values[:length], length)
	out[length-1] = seed
	for i := length; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out
}

// macdSignal computes a MACD-histogram-derived signal in [-1, 1]: the sign
// and relative magnitude of (MACD line - signal line) normalized by price.
func macdSignal(candles []domain.Candle) (float64, bool) {
	vals := closes(candles)
	if len(vals) < 35 {
		return 0, false
	}
	fast := ema(vals, 12)
	slow := ema(vals, 26)
	macdLine := make([]float64, len(vals))
	for i := range vals {
		macdLine[i] = fast[i] - slow[i]
	}
	signalLine := ema(macdLine[25:], 9) // MACD line only warms up after slow EMA does
	if len(signalLine) == 0 {
		return 0, false
	}
	hist := macdLine[len(macdLine)-1] - signalLine[len(signalLine)-1]
	last := vals[len(vals)-1]
	if last == 0 {
		return 0, false
	}
	signal := hist / last * 100 // scale so a ~1% histogram deviation saturates the signal
	return clampSignal(signal), true
}

// supertrendSignal computes a simplified Supertrend direction: +1 while
// price trades above the ATR-band midline flipped to an uptrend, -1 below.
// Magnitude reflects distance from the band as a fraction of its width.
func supertrendSignal(candles []domain.Candle, length int, multiplier float64) (float64, bool) {
	if len(candles) < length+1 {
		return 0, false
	}
	atrVal, ok := atr(candles, length)
	if !ok || atrVal == 0 {
		return 0, false
	}
	last := candles[len(candles)-1]
	mid := (last.High + last.Low) / 2
	upperBand := mid + multiplier*atrVal
	lowerBand := mid - multiplier*atrVal

	if last.Close > upperBand {
		return clampSignal((last.Close - upperBand) / atrVal), true
	}
	if last.Close < lowerBand {
		return clampSignal((last.Close - lowerBand) / atrVal), true
	}
	return 0, true
}

func atr(candles []domain.Candle, length int) (float64, bool) {
	if len(candles) < length+1 {
		return 0, false
	}
	window := candles[len(candles)-length:]
	var sum float64
	prevClose := candles[len(candles)-length-1].Close
	for _, c := range window {
		tr := c.High - c.Low
		if d := absf(c.High - prevClose); d > tr {
			tr = d
		}
		if d := absf(c.Low - prevClose); d > tr {
			tr = d
		}
		sum += tr
		prevClose = c.Close
	}
	return sum / float64(length), true
}

// dmanSignal blends a short/long SMA crossover with Bollinger %b, standing
// in for the dman_v3 controller's multi-factor directional model.
func dmanSignal(candles []domain.Candle, bbLength int, bbStd float64) (float64, bool) {
	vals := closes(candles)
	shortMA, ok1 := sma(vals, maxInt(2, bbLength/2))
	longMA, ok2 := sma(vals, bbLength)
	pctB, ok3 := bollingerPercentB(candles, bbLength, bbStd)
	if !ok1 || !ok2 || !ok3 || longMA == 0 {
		return 0, false
	}
	crossSignal := (shortMA - longMA) / longMA * 10
	bbSignal := (pctB - 0.5) * 2
	return clampSignal((crossSignal + bbSignal) / 2), true
}

func clampSignal(s float64) float64 {
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}

func absf(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
