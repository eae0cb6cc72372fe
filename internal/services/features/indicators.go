package features

import (
	"math"

	"SignalFusion/internal/domain/models"
)

// ComputeLogReturns computes log returns r_t = ln(C_t / C_{t-1}).
// It returns a slice of length len(candles)-1, or nil if insufficient data.
func ComputeLogReturns(candles []models.Candle) []float64 {
	if len(candles) < 2 {
		return nil
	}
	out := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		prev := candles[i-1].Close
		cur := candles[i].Close
		if prev <= 0 || cur <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, math.Log(cur/prev))
	}
	return out
}

// RealizedVolatility computes annualized realized volatility of the last
// window log returns. ok is false when there are fewer than window returns.
func RealizedVolatility(logReturns []float64, window int, periodsPerYear float64) (float64, bool) {
	if window <= 1 || len(logReturns) < window {
		return 0, false
	}
	sum := 0.0
	sum2 := 0.0
	for i := len(logReturns) - window; i < len(logReturns); i++ {
		r := logReturns[i]
		sum += r
		sum2 += r * r
	}
	n := float64(window)
	mean := sum / n
	variance := (sum2 - n*mean*mean) / (n - 1)
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance * periodsPerYear), true
}

// SMA is the mean of the last period values.
func SMA(xs []float64, period int) (float64, bool) {
	if period <= 0 || len(xs) < period {
		return 0, false
	}
	sum := 0.0
	for _, x := range xs[len(xs)-period:] {
		sum += x
	}
	return sum / float64(period), true
}

// EMASeries returns the exponential moving average aligned to xs[period-1:],
// seeded with the simple mean of the first period values.
func EMASeries(xs []float64, period int) []float64 {
	if period <= 0 || len(xs) < period {
		return nil
	}
	seed, _ := SMA(xs[:period], period)
	out := make([]float64, 0, len(xs)-period+1)
	out = append(out, seed)
	alpha := 2 / float64(period+1)
	prev := seed
	for _, x := range xs[period:] {
		prev = alpha*x + (1-alpha)*prev
		out = append(out, prev)
	}
	return out
}

// EMA returns the latest exponential moving average.
func EMA(xs []float64, period int) (float64, bool) {
	s := EMASeries(xs, period)
	if len(s) == 0 {
		return 0, false
	}
	return s[len(s)-1], true
}

// RSI is Wilder's relative strength index over closes.
func RSI(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) < period+1 {
		return 0, false
	}
	var gain, loss float64
	for i := 1; i <= period; i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	gain /= float64(period)
	loss /= float64(period)
	for i := period + 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		g, l := 0.0, 0.0
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		gain = (gain*float64(period-1) + g) / float64(period)
		loss = (loss*float64(period-1) + l) / float64(period)
	}
	switch {
	case loss == 0 && gain == 0:
		return 50, true
	case loss == 0:
		return 100, true
	}
	rs := gain / loss
	return 100 - 100/(1+rs), true
}

// MACDResult is the latest MACD line, signal and histogram.
type MACDResult struct {
	Line      float64
	Signal    float64
	Histogram float64
}

// MACD computes the fast/slow EMA spread and its signal EMA.
func MACD(closes []float64, fast, slow, signal int) (MACDResult, bool) {
	if fast <= 0 || slow <= fast || signal <= 0 || len(closes) < slow+signal-1 {
		return MACDResult{}, false
	}
	f := EMASeries(closes, fast)
	s := EMASeries(closes, slow)
	// align fast to slow: both end at the last close
	off := len(f) - len(s)
	line := make([]float64, len(s))
	for i := range s {
		line[i] = f[i+off] - s[i]
	}
	sig, ok := EMA(line, signal)
	if !ok {
		return MACDResult{}, false
	}
	last := line[len(line)-1]
	return MACDResult{Line: last, Signal: sig, Histogram: last - sig}, true
}

func highLow(cs []models.Candle) (hi, lo float64) {
	hi, lo = cs[0].High, cs[0].Low
	for _, c := range cs[1:] {
		hi = math.Max(hi, c.High)
		lo = math.Min(lo, c.Low)
	}
	return hi, lo
}

// Stochastic is %K over the last period candles.
func Stochastic(cs []models.Candle, period int) (float64, bool) {
	if period <= 0 || len(cs) < period {
		return 0, false
	}
	hi, lo := highLow(cs[len(cs)-period:])
	if hi-lo <= 0 {
		return 0, false
	}
	return (cs[len(cs)-1].Close - lo) / (hi - lo) * 100, true
}

// WilliamsR is Williams %R over the last period candles, in [-100, 0].
func WilliamsR(cs []models.Candle, period int) (float64, bool) {
	if period <= 0 || len(cs) < period {
		return 0, false
	}
	hi, lo := highLow(cs[len(cs)-period:])
	if hi-lo <= 0 {
		return 0, false
	}
	return (hi - cs[len(cs)-1].Close) / (hi - lo) * -100, true
}

// Bollinger returns %B and band width for bands k standard deviations wide.
func Bollinger(closes []float64, period int, k float64) (percentB, width float64, ok bool) {
	mid, ok := SMA(closes, period)
	if !ok || mid == 0 {
		return 0, 0, false
	}
	var ss float64
	for _, x := range closes[len(closes)-period:] {
		ss += (x - mid) * (x - mid)
	}
	sd := math.Sqrt(ss / float64(period))
	upper, lower := mid+k*sd, mid-k*sd
	width = (upper - lower) / mid
	if upper == lower {
		return 0, width, false
	}
	return (closes[len(closes)-1] - lower) / (upper - lower), width, true
}

// ATR is Wilder's average true range.
func ATR(cs []models.Candle, period int) (float64, bool) {
	if period <= 0 || len(cs) < period+1 {
		return 0, false
	}
	tr := func(i int) float64 {
		c, prev := cs[i], cs[i-1].Close
		return math.Max(c.High-c.Low, math.Max(math.Abs(c.High-prev), math.Abs(c.Low-prev)))
	}
	atr := 0.0
	for i := 1; i <= period; i++ {
		atr += tr(i)
	}
	atr /= float64(period)
	for i := period + 1; i < len(cs); i++ {
		atr = (atr*float64(period-1) + tr(i)) / float64(period)
	}
	return atr, true
}

func volumes(cs []models.Candle) []float64 {
	out := make([]float64, len(cs))
	for i, c := range cs {
		out[i] = c.Volume
	}
	return out
}
