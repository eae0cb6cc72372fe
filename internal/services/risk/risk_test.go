package risk

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalFusion/internal/domain/models"
)

func newEngine() *Engine {
	return NewEngine(Config{MinObservations: 5, PeriodsPerYear: 252, MaxPositionSize: 0.3, MaxIterations: 1000})
}

func TestComputeRisk_HistoricalTail(t *testing.T) {
	rep, err := newEngine().ComputeRisk([]float64{-0.05, 0.02, -0.03, 0.01, -0.10}, []float64{0.95})
	require.NoError(t, err)
	assert.Equal(t, models.VaRHistorical, rep.Method)
	assert.Equal(t, 5, rep.Observations)
	// sorted: -0.10 -0.05 -0.03 0.01 0.02, rank 0.05*4 = 0.2
	assert.InDelta(t, -0.09, rep.VaR95, 1e-12)
	assert.InDelta(t, -0.10, rep.ES95, 1e-12)
	assert.InDelta(t, -0.098, rep.VaR99, 1e-12)
	assert.InDelta(t, -0.10, rep.ES99, 1e-12)
	assert.LessOrEqual(t, rep.ES95, rep.VaR95)
	require.Len(t, rep.Tail, 2)
}

func TestComputeRisk_ParametricFallback(t *testing.T) {
	returns := []float64{0.01, -0.02, 0.03}
	rep, err := newEngine().ComputeRisk(returns, nil)
	require.NoError(t, err)
	assert.Equal(t, models.VaRParametric, rep.Method)

	mean := (0.01 - 0.02 + 0.03) / 3
	var ss float64
	for _, r := range returns {
		ss += (r - mean) * (r - mean)
	}
	sd := math.Sqrt(ss / 2)
	z := -1.6448536269514722
	assert.InDelta(t, mean+z*sd, rep.VaR95, 1e-9)
	phi := math.Exp(-z*z/2) / math.Sqrt(2*math.Pi)
	assert.InDelta(t, mean-sd*phi/0.05, rep.ES95, 1e-9)
	assert.Less(t, rep.VaR99, rep.VaR95)
}

func TestComputeRisk_Errors(t *testing.T) {
	e := newEngine()
	_, err := e.ComputeRisk([]float64{0.01}, nil)
	assert.ErrorIs(t, err, models.ErrInsufficientHistory)

	_, err = e.ComputeRisk([]float64{0.01, 0.02}, []float64{1.5})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = e.ComputeRisk([]float64{0.01, math.NaN()}, nil)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestComputeRisk_ExtraLevelsSorted(t *testing.T) {
	rep, err := newEngine().ComputeRisk([]float64{-0.05, 0.02, -0.03, 0.01, -0.10, 0.04}, []float64{0.90, 0.95})
	require.NoError(t, err)
	require.Len(t, rep.Tail, 3)
	assert.Equal(t, 0.90, rep.Tail[0].Confidence)
	assert.Equal(t, 0.95, rep.Tail[1].Confidence)
	assert.Equal(t, 0.99, rep.Tail[2].Confidence)
	assert.GreaterOrEqual(t, rep.Tail[0].VaR, rep.Tail[2].VaR)
}

func TestComputeRisk_Ratios(t *testing.T) {
	e := newEngine()
	flat, err := e.ComputeRisk([]float64{0.01, 0.01, 0.01, 0.01, 0.01}, nil)
	require.NoError(t, err)
	assert.Nil(t, flat.Sharpe)
	assert.Nil(t, flat.Sortino)
	assert.InDelta(t, 0.0, flat.Volatility, 1e-12)
	assert.Equal(t, 0.0, flat.VaR95)

	oneLoss, err := e.ComputeRisk([]float64{0.02, -0.01, 0.03, 0.01, 0.02}, nil)
	require.NoError(t, err)
	require.NotNil(t, oneLoss.Sharpe)
	assert.Nil(t, oneLoss.Sortino)

	mixed := []float64{0.02, -0.01, 0.03, -0.03, 0.02, -0.02}
	rep, err := e.ComputeRisk(mixed, nil)
	require.NoError(t, err)
	require.NotNil(t, rep.Sharpe)
	require.NotNil(t, rep.Sortino)

	mean := 0.01 / 6
	var ss float64
	for _, r := range mixed {
		ss += (r - mean) * (r - mean)
	}
	sd := math.Sqrt(ss / 5)
	assert.InDelta(t, sd*math.Sqrt(252), rep.Volatility, 1e-12)
	assert.InDelta(t, mean/sd*math.Sqrt(252), *rep.Sharpe, 1e-9)
	// downside -0.01 -0.03 -0.02: sample stdev 0.01
	assert.InDelta(t, mean/0.01*math.Sqrt(252), *rep.Sortino, 1e-9)
}

func TestMaxDrawdown(t *testing.T) {
	assert.Equal(t, 0.0, MaxDrawdown(nil))
	assert.Equal(t, 0.0, MaxDrawdown([]float64{0.01, 0.02}))
	assert.InDelta(t, 0.5, MaxDrawdown([]float64{0.1, -0.5, 0.2}), 1e-12)
	assert.InDelta(t, 1-0.9*0.8/0.9, MaxDrawdown([]float64{-0.1, -0.2, 0.05}), 1e-12)
}

func TestPercentile(t *testing.T) {
	s := []float64{1, 2, 3, 4, 5}
	assert.Equal(t, 1.0, Percentile(s, 0))
	assert.Equal(t, 5.0, Percentile(s, 1))
	assert.Equal(t, 3.0, Percentile(s, 0.5))
	assert.InDelta(t, 1.4, Percentile(s, 0.1), 1e-12)
	assert.True(t, math.IsNaN(Percentile(nil, 0.5)))
}

func TestOptimizePortfolio_Tangency(t *testing.T) {
	e := newEngine()
	alloc, err := e.OptimizePortfolio(
		[]string{"A", "B"},
		[]float64{0.10, 0.05},
		[][]float64{{0.04, 0}, {0, 0.01}},
		[]models.Bounds{{Lower: 0, Upper: 1}, {Lower: 0, Upper: 1}},
	)
	require.NoError(t, err)
	assert.False(t, alloc.Fallback)
	assert.InDelta(t, 1.0/3, alloc.Weights["A"], 1e-4)
	assert.InDelta(t, 2.0/3, alloc.Weights["B"], 1e-4)
	assert.InDelta(t, 1.0, alloc.Weights["A"]+alloc.Weights["B"], 1e-9)
	assert.Greater(t, alloc.Sharpe, 0.0)
}

func TestOptimizePortfolio_RespectsCap(t *testing.T) {
	e := newEngine()
	names := []string{"A", "B", "C", "D"}
	mu := []float64{0.20, 0.05, 0.04, 0.03}
	cov := [][]float64{
		{0.04, 0, 0, 0},
		{0, 0.02, 0, 0},
		{0, 0, 0.02, 0},
		{0, 0, 0, 0.02},
	}
	alloc, err := e.OptimizePortfolio(names, mu, cov, nil)
	require.NoError(t, err)
	var sum float64
	for _, n := range names {
		w := alloc.Weights[n]
		assert.GreaterOrEqual(t, w, -1e-12)
		assert.LessOrEqual(t, w, 0.3+1e-9)
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.InDelta(t, 0.3, alloc.Weights["A"], 1e-6)
}

func TestOptimizePortfolio_InvalidAndFallback(t *testing.T) {
	e := newEngine()
	// explicit bounds that cannot sum to 1 are rejected
	_, err := e.OptimizePortfolio([]string{"A", "B"}, []float64{0.1, 0.1}, [][]float64{{1, 0}, {0, 1}},
		[]models.Bounds{{Upper: 0.3}, {Upper: 0.3}})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = e.OptimizePortfolio([]string{"A"}, []float64{0.1, 0.2}, [][]float64{{1}}, nil)
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = e.OptimizePortfolio([]string{"A", "B"}, []float64{0.1, 0.2}, [][]float64{{1, 0}, {0}},
		[]models.Bounds{{Upper: 1}, {Upper: 1}})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	zero := [][]float64{{0, 0, 0, 0}, {0, 0, 0, 0}, {0, 0, 0, 0}, {0, 0, 0, 0}}
	alloc, err := e.OptimizePortfolio([]string{"A", "B", "C", "D"}, []float64{0.1, 0.1, 0.1, 0.1}, zero, nil)
	require.NoError(t, err)
	assert.True(t, alloc.Fallback)
	for _, w := range alloc.Weights {
		assert.InDelta(t, 0.25, w, 1e-12)
	}
}

func TestOptimizePortfolio_InfeasibleCapFallsBackToEqualWeights(t *testing.T) {
	e := newEngine()
	cov := [][]float64{{0.04, 0.01, 0}, {0.01, 0.09, 0.02}, {0, 0.02, 0.16}}
	alloc, err := e.OptimizePortfolio([]string{"A", "B", "C"}, []float64{0.1, 0.05, 0.2}, cov, nil)
	require.NoError(t, err)
	assert.True(t, alloc.Fallback)
	assert.Equal(t, 0, alloc.Iterations)
	require.Len(t, alloc.Weights, 3)
	for _, w := range alloc.Weights {
		assert.InDelta(t, 1.0/3, w, 1e-12)
	}
	assert.InDelta(t, (0.1+0.05+0.2)/3, alloc.ExpectedReturn, 1e-12)
	assert.Greater(t, alloc.Volatility, 0.0)
}

func TestConcentrationRisk(t *testing.T) {
	assert.Equal(t, 0.0, ConcentrationRisk(nil))
	assert.Equal(t, 1.0, ConcentrationRisk([]float64{5}))
	assert.InDelta(t, 0.0, ConcentrationRisk([]float64{1, 1}), 1e-12)
	assert.InDelta(t, 1.0, ConcentrationRisk([]float64{1, 0}), 1e-12)
	assert.InDelta(t, 0.0625, ConcentrationRisk([]float64{0.5, 0.25, 0.25}), 1e-12)
}

func TestPortfolioReturns(t *testing.T) {
	got := PortfolioReturns([]float64{0.5, 0.5}, [][]float64{{1, 2, 3}, {10, 20}})
	assert.Equal(t, []float64{6, 11.5}, got)
	assert.Nil(t, PortfolioReturns([]float64{1}, nil))
}

func TestPositionSize(t *testing.T) {
	e := newEngine()
	ps := e.PositionSize(100000, 100, -0.02, 0.9, 0.5)
	assert.InDelta(t, 300, ps.MaxShares, 1e-9)
	assert.InDelta(t, 300, ps.RiskShares, 1e-9)
	assert.Equal(t, 0.25, ps.KellyFraction)
	assert.InDelta(t, 250, ps.Recommended, 1e-9)

	noVaR := e.PositionSize(100000, 100, 0, 0, 0)
	assert.InDelta(t, 150, noVaR.Recommended, 1e-9)

	assert.Equal(t, models.PositionSizing{}, e.PositionSize(0, 100, -0.02, 0.5, 0.1))
}

func TestMoments(t *testing.T) {
	e := NewEngine(Config{PeriodsPerYear: 2})
	mu, cov, ok := e.Moments([][]float64{{9, 1, 2, 3}, {2, 4, 6}})
	require.True(t, ok)
	assert.InDelta(t, 4.0, mu[0], 1e-12)
	assert.InDelta(t, 8.0, mu[1], 1e-12)
	// var(1,2,3)=1, var(2,4,6)=4, cov=2
	assert.InDelta(t, 2.0, cov[0][0], 1e-12)
	assert.InDelta(t, 8.0, cov[1][1], 1e-12)
	assert.InDelta(t, 4.0, cov[0][1], 1e-12)
	assert.Equal(t, cov[0][1], cov[1][0])

	_, _, ok = e.Moments([][]float64{{1}, {1, 2}})
	assert.False(t, ok)
}
