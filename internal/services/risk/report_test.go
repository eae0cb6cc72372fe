package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalFusion/internal/domain/models"
)

func TestStressTest(t *testing.T) {
	series := [][]float64{
		{0.01, -0.04, 0.02},
		{-0.02, 0.01, 0.03},
	}
	got := StressTest([]float64{0.5, 0.5}, series)
	require.Len(t, got, 4)

	byName := map[string]float64{}
	for _, s := range got {
		byName[s.Scenario] = s.Return
	}
	assert.InDelta(t, -0.20, byName[ScenarioMarketCrash], 1e-12)
	assert.InDelta(t, -0.10, byName[ScenarioCorrection], 1e-12)
	// weighted series sorted: -0.015, -0.005, 0.025
	assert.InDelta(t, 3*(-0.015+0.1*0.01), byName[ScenarioVolatilitySpike], 1e-12)
	assert.InDelta(t, 0.5*-0.04+0.5*-0.02, byName[ScenarioWorstDays], 1e-12)
}

func TestStressTest_PartiallyInvested(t *testing.T) {
	got := StressTest([]float64{0.25}, [][]float64{{0.01, 0.02}})
	require.Len(t, got, 4)
	assert.InDelta(t, -0.05, got[0].Return, 1e-12)
	// no down days: spike and replay stay flat
	assert.Equal(t, 0.0, got[2].Return)
	assert.Equal(t, 0.0, got[3].Return)
}

func TestCorrelation(t *testing.T) {
	corr := Correlation([][]float64{{0.04, 0.03}, {0.03, 0.09}})
	assert.Equal(t, 1.0, corr[0][0])
	assert.Equal(t, 1.0, corr[1][1])
	assert.InDelta(t, 0.5, corr[0][1], 1e-12)
	assert.InDelta(t, 0.5, corr[1][0], 1e-12)

	flat := Correlation([][]float64{{0, 0}, {0, 0.09}})
	assert.Equal(t, 0.0, flat[0][1])
	assert.Equal(t, 1.0, flat[0][0])
}

func TestHighCorrelations(t *testing.T) {
	corr := [][]float64{
		{1, 0.8, -0.75},
		{0.8, 1, 0.1},
		{-0.75, 0.1, 1},
	}
	got := HighCorrelations([]string{"A", "B", "C"}, corr, MaxCorrelation)
	assert.Equal(t, []models.CorrelatedPair{
		{A: "A", B: "B", Correlation: 0.8},
		{A: "A", B: "C", Correlation: -0.75},
	}, got)
	assert.Empty(t, HighCorrelations([]string{"A", "B", "C"}, corr, 0.9))
}

func TestBudget(t *testing.T) {
	series := [][]float64{
		{0.01, -0.04, 0.02},
		{-0.02, 0.01, 0.03},
		{0.01},
	}
	b := Budget([]string{"A", "B", "C"}, []float64{0.5, 0.5, 0}, series)
	assert.Equal(t, DailyVaRBudget, b.Total)
	require.Len(t, b.Allocated, 2)
	assert.InDelta(t, 0.5*0.035, b.Allocated["A"], 1e-12)
	assert.InDelta(t, 0.5*0.017, b.Allocated["B"], 1e-12)
	assert.Equal(t, 0.0, b.Remaining)
	assert.InDelta(t, 0.026/DailyVaRBudget, b.Utilization, 1e-9)
}

func TestRecommend(t *testing.T) {
	e := newEngine()
	low, high := 0.2, 1.2

	r := &models.PortfolioRisk{
		Report:           models.RiskReport{VaR95: -0.06, MaxDrawdown: 0.25, Sharpe: &low},
		HighCorrelations: []models.CorrelatedPair{{A: "A", B: "B", Correlation: 0.9}},
		Budget:           models.RiskBudget{Utilization: 0.95},
	}
	got := e.Recommend(r, []string{"A", "B"}, []float64{0.6, 0.4})
	assert.Equal(t, []string{
		"portfolio VaR95 exceeds 5%: consider reducing position sizes",
		"maximum drawdown exceeds 20%: review stop levels",
		"low Sharpe ratio: consider improving risk-adjusted returns",
		"1 highly correlated pairs: consider diversifying",
		"A is 60% of the portfolio, above the 30% position cap",
		"B is 40% of the portfolio, above the 30% position cap",
		"risk budget nearly exhausted: avoid new positions",
	}, got)

	calm := &models.PortfolioRisk{
		Report: models.RiskReport{VaR95: -0.01, MaxDrawdown: 0.05, Sharpe: &high},
		Budget: models.RiskBudget{Utilization: 0.7},
	}
	got = e.Recommend(calm, []string{"A", "B", "C", "D"}, []float64{0.25, 0.25, 0.25, 0.25})
	assert.NotNil(t, got)
	assert.Empty(t, got)

	idle := &models.PortfolioRisk{Budget: models.RiskBudget{Utilization: 0.1}}
	assert.Equal(t, []string{"risk budget underutilized: room for additional positions"},
		e.Recommend(idle, nil, nil))
}
