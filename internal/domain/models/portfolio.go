package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is a holding in one symbol.
type Position struct {
	Quantity decimal.Decimal `json:"quantity"`
	AvgPrice decimal.Decimal `json:"avg_price"`
}

// Cost returns quantity * average price.
func (p Position) Cost() decimal.Decimal { return p.Quantity.Mul(p.AvgPrice) }

// Portfolio is a named set of positions. It is mutated only through the
// portfolio service; value is always recomputed from current prices.
type Portfolio struct {
	Name      string              `json:"name"`
	Positions map[string]Position `json:"positions"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// Symbols returns position symbols in no particular order.
func (p *Portfolio) Symbols() []string {
	out := make([]string, 0, len(p.Positions))
	for s := range p.Positions {
		out = append(out, s)
	}
	return out
}

// PortfolioValuation is a point-in-time valuation.
type PortfolioValuation struct {
	Name      string                     `json:"name"`
	Total     decimal.Decimal            `json:"total"`
	Cost      decimal.Decimal            `json:"cost"`
	PnL       decimal.Decimal            `json:"pnl"`
	Holdings  map[string]decimal.Decimal `json:"holdings"`
	Weights   map[string]float64         `json:"weights"`
	Missing   []string                   `json:"missing,omitempty"`
	Timestamp time.Time                  `json:"timestamp"`
}

// PortfolioRisk combines the risk report of the value-weighted return series
// with concentration, correlations, stress scenarios, the VaR budget and the
// optimized allocation.
type PortfolioRisk struct {
	Name             string                        `json:"name"`
	Report           RiskReport                    `json:"report"`
	Concentration    float64                       `json:"concentration_risk"`
	Correlations     map[string]map[string]float64 `json:"correlations,omitempty"`
	HighCorrelations []CorrelatedPair              `json:"high_correlations,omitempty"`
	Stress           []StressResult                `json:"stress_tests"`
	Budget           RiskBudget                    `json:"risk_budget"`
	Optimized        *Allocation                   `json:"optimized,omitempty"`
	Recommendations  []string                      `json:"recommendations"`
	Timestamp        time.Time                     `json:"timestamp"`
}

// StressResult is the portfolio return under one scenario and the value
// change it implies. PnL is negative for a loss.
type StressResult struct {
	Scenario string          `json:"scenario"`
	Return   float64         `json:"return"`
	PnL      decimal.Decimal `json:"pnl"`
}

// CorrelatedPair is two holdings whose return correlation is above the limit.
type CorrelatedPair struct {
	A           string  `json:"a"`
	B           string  `json:"b"`
	Correlation float64 `json:"correlation"`
}

// RiskBudget spreads a daily 95% VaR budget over holdings. Allocated holds
// weight * |VaR95| per symbol.
type RiskBudget struct {
	Total       float64            `json:"total"`
	Allocated   map[string]float64 `json:"allocated"`
	Remaining   float64            `json:"remaining"`
	Utilization float64            `json:"utilization"`
}

// PositionSizing is the suggested size of a new position in shares.
type PositionSizing struct {
	Symbol        string  `json:"symbol,omitempty"`
	Price         float64 `json:"price"`
	MaxShares     float64 `json:"max_shares"`
	RiskShares    float64 `json:"risk_shares"`
	KellyFraction float64 `json:"kelly_fraction"`
	Recommended   float64 `json:"recommended_shares"`
}
