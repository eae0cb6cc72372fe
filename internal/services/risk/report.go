package risk

import (
	"fmt"
	"math"
	"sort"

	"SignalFusion/internal/domain/models"
)

// Stress scenario names.
const (
	ScenarioMarketCrash     = "market_crash"
	ScenarioCorrection      = "correction"
	ScenarioVolatilitySpike = "volatility_spike"
	ScenarioWorstDays       = "worst_days"
)

const (
	crashShock      = -0.20
	correctionShock = -0.10
	volSpikeFactor  = 3.0

	// MaxCorrelation flags holding pairs that move together.
	MaxCorrelation = 0.70
	// DailyVaRBudget is the share of value the holdings may put at risk per day.
	DailyVaRBudget = 0.02
)

// StressTest applies shock scenarios to the current weights. Uniform shocks
// scale with the invested share. The volatility spike triples the 5th
// percentile of the weighted series and worst days replays every holding's
// worst observed return at once.
func StressTest(weights []float64, series [][]float64) []models.StressResult {
	var invested float64
	for _, w := range weights {
		invested += w
	}
	out := []models.StressResult{
		{Scenario: ScenarioMarketCrash, Return: crashShock * invested},
		{Scenario: ScenarioCorrection, Return: correctionShock * invested},
	}

	if port := PortfolioReturns(weights, series); len(port) > 0 {
		sorted := append([]float64(nil), port...)
		sort.Float64s(sorted)
		out = append(out, models.StressResult{
			Scenario: ScenarioVolatilitySpike,
			Return:   volSpikeFactor * math.Min(Percentile(sorted, 0.05), 0),
		})
	}

	if len(weights) == len(series) {
		var worst float64
		for i, s := range series {
			low := 0.0
			for _, r := range s {
				low = math.Min(low, r)
			}
			worst += weights[i] * low
		}
		out = append(out, models.StressResult{Scenario: ScenarioWorstDays, Return: worst})
	}
	return out
}

// Correlation converts a covariance matrix to correlations. An asset with no
// variance correlates 0 with every other asset.
func Correlation(cov [][]float64) [][]float64 {
	n := len(cov)
	sd := make([]float64, n)
	for i := range cov {
		sd[i] = math.Sqrt(math.Max(cov[i][i], 0))
	}
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
		for j := range out[i] {
			switch {
			case i == j:
				out[i][j] = 1
			case sd[i] > denomEps && sd[j] > denomEps:
				out[i][j] = math.Max(-1, math.Min(1, cov[i][j]/(sd[i]*sd[j])))
			}
		}
	}
	return out
}

// HighCorrelations lists pairs with |correlation| above limit in index order.
func HighCorrelations(names []string, corr [][]float64, limit float64) []models.CorrelatedPair {
	var out []models.CorrelatedPair
	for i := range corr {
		for j := i + 1; j < len(corr[i]); j++ {
			if math.Abs(corr[i][j]) > limit {
				out = append(out, models.CorrelatedPair{A: names[i], B: names[j], Correlation: corr[i][j]})
			}
		}
	}
	return out
}

// Budget charges each holding weight * |historical VaR95| against the daily
// budget. Series with fewer than two returns charge nothing.
func Budget(names []string, weights []float64, series [][]float64) models.RiskBudget {
	b := models.RiskBudget{Total: DailyVaRBudget, Allocated: make(map[string]float64, len(names))}
	var used float64
	for i, name := range names {
		if i >= len(series) || len(series[i]) < 2 {
			continue
		}
		sorted := append([]float64(nil), series[i]...)
		sort.Float64s(sorted)
		c := math.Abs(weights[i]) * math.Abs(math.Min(Percentile(sorted, 0.05), 0))
		b.Allocated[name] = c
		used += c
	}
	b.Remaining = math.Max(0, b.Total-used)
	b.Utilization = used / b.Total
	return b
}

// Recommend turns report thresholds into advice. weights follow names.
func (e *Engine) Recommend(r *models.PortfolioRisk, names []string, weights []float64) []string {
	out := []string{}
	if r.Report.VaR95 < -0.05 {
		out = append(out, "portfolio VaR95 exceeds 5%: consider reducing position sizes")
	}
	if r.Report.MaxDrawdown > 0.20 {
		out = append(out, "maximum drawdown exceeds 20%: review stop levels")
	}
	if r.Report.Sharpe != nil && *r.Report.Sharpe < 0.5 {
		out = append(out, "low Sharpe ratio: consider improving risk-adjusted returns")
	}
	if n := len(r.HighCorrelations); n > 0 {
		out = append(out, fmt.Sprintf("%d highly correlated pairs: consider diversifying", n))
	}
	for i, name := range names {
		if i < len(weights) && weights[i] > e.cfg.MaxPositionSize+denomEps {
			out = append(out, fmt.Sprintf("%s is %.0f%% of the portfolio, above the %.0f%% position cap",
				name, weights[i]*100, e.cfg.MaxPositionSize*100))
		}
	}
	switch u := r.Budget.Utilization; {
	case u > 0.9:
		out = append(out, "risk budget nearly exhausted: avoid new positions")
	case u < 0.5:
		out = append(out, "risk budget underutilized: room for additional positions")
	}
	return out
}
