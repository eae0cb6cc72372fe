package risk

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"SignalFusion/internal/domain/models"
)

// ConcentrationRisk is the normalized Herfindahl index of weights: 0 for an
// even split, 1 for a single holding.
func ConcentrationRisk(weights []float64) float64 {
	var total float64
	for _, w := range weights {
		total += math.Abs(w)
	}
	n := len(weights)
	if n == 0 || total == 0 {
		return 0
	}
	if n == 1 {
		return 1
	}
	var hhi float64
	for _, w := range weights {
		s := math.Abs(w) / total
		hhi += s * s
	}
	inv := 1 / float64(n)
	return (hhi - inv) / (1 - inv)
}

// PortfolioReturns combines per-asset return series on their common tail.
func PortfolioReturns(weights []float64, series [][]float64) []float64 {
	if len(weights) == 0 || len(weights) != len(series) {
		return nil
	}
	l := math.MaxInt
	for _, s := range series {
		l = min(l, len(s))
	}
	if l == 0 {
		return nil
	}
	out := make([]float64, l)
	for i, s := range series {
		off := len(s) - l
		for t := 0; t < l; t++ {
			out[t] += weights[i] * s[off+t]
		}
	}
	return out
}

// Moments returns annualized mean returns and the sample covariance of the
// series over their common tail. It needs at least two aligned observations.
func (e *Engine) Moments(series [][]float64) ([]float64, [][]float64, bool) {
	n := len(series)
	if n == 0 {
		return nil, nil, false
	}
	l := math.MaxInt
	for _, s := range series {
		l = min(l, len(s))
	}
	if l < 2 {
		return nil, nil, false
	}
	ppy := e.cfg.PeriodsPerYear
	X := mat.NewDense(l, n, nil)
	expected := make([]float64, n)
	for j, s := range series {
		tail := s[len(s)-l:]
		for t, v := range tail {
			X.Set(t, j, v)
		}
		expected[j] = stat.Mean(tail, nil) * ppy
	}
	var sym mat.SymDense
	stat.CovarianceMatrix(&sym, X, nil)
	cov := make([][]float64, n)
	for i := range cov {
		cov[i] = make([]float64, n)
		for j := range cov[i] {
			cov[i][j] = sym.At(i, j) * ppy
		}
	}
	return expected, cov, true
}

const (
	riskPerTrade = 0.02
	kellyCap     = 0.25
)

// PositionSize caps a position by the max position share, sizes it so a VaR
// move loses at most 2% of value, and caps it by a quarter-Kelly bound when a
// positive expected return and win probability are known.
func (e *Engine) PositionSize(value, price, valueAtRisk, probUp, expected float64) models.PositionSizing {
	var ps models.PositionSizing
	if value <= 0 || price <= 0 {
		return ps
	}
	ps.MaxShares = value * e.cfg.MaxPositionSize / price
	if daily := math.Abs(valueAtRisk); daily > 0 {
		ps.RiskShares = math.Min(value*riskPerTrade/(daily*price), ps.MaxShares)
	} else {
		ps.RiskShares = ps.MaxShares * 0.5
	}
	ps.Recommended = ps.RiskShares
	if expected > 0 && probUp > 0 {
		k := (probUp*expected - (1 - probUp)) / expected
		ps.KellyFraction = math.Max(0, math.Min(k, kellyCap))
		ps.Recommended = math.Min(ps.Recommended, value*ps.KellyFraction/price)
	}
	return ps
}
