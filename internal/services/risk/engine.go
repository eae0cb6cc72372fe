package risk

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"SignalFusion/internal/domain/models"
)

// Config controls estimation. Zero fields take defaults.
type Config struct {
	MinObservations int
	RiskFreeRate    float64
	PeriodsPerYear  float64
	MaxPositionSize float64
	MaxIterations   int
	Levels          []float64
}

func (c Config) withDefaults() Config {
	if c.MinObservations < 2 {
		c.MinObservations = 5
	}
	if c.PeriodsPerYear <= 0 {
		c.PeriodsPerYear = 252
	}
	if c.MaxPositionSize <= 0 || c.MaxPositionSize > 1 {
		c.MaxPositionSize = 0.3
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = 1000
	}
	return c
}

// Engine computes tail risk, performance ratios and allocations.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg.withDefaults()}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

const denomEps = 1e-12

var unitNormal = distuv.UnitNormal

// ComputeRisk estimates VaR and ES at the configured levels plus any extra
// levels, with 0.95 and 0.99 always present. Samples shorter than
// MinObservations use the normal approximation.
func (e *Engine) ComputeRisk(returns []float64, levels []float64) (models.RiskReport, error) {
	n := len(returns)
	if n < 2 {
		return models.RiskReport{}, fmt.Errorf("%d observations: %w", n, models.ErrInsufficientHistory)
	}
	for _, r := range returns {
		if math.IsNaN(r) || math.IsInf(r, 0) {
			return models.RiskReport{}, fmt.Errorf("non-finite return: %w", models.ErrInvalidInput)
		}
	}
	all, err := mergeLevels(e.cfg.Levels, levels)
	if err != nil {
		return models.RiskReport{}, err
	}

	mean, sd := stat.MeanStdDev(returns, nil)
	rep := models.RiskReport{
		Observations: n,
		Method:       models.VaRHistorical,
		MaxDrawdown:  MaxDrawdown(returns),
		Volatility:   sd * math.Sqrt(e.cfg.PeriodsPerYear),
	}
	if n < e.cfg.MinObservations {
		rep.Method = models.VaRParametric
	}

	sorted := append([]float64(nil), returns...)
	sort.Float64s(sorted)
	for _, c := range all {
		var t models.TailRisk
		if rep.Method == models.VaRHistorical {
			t = historicalTail(sorted, c)
		} else {
			t = parametricTail(mean, sd, c)
		}
		rep.Tail = append(rep.Tail, t)
		switch c {
		case 0.95:
			rep.VaR95, rep.ES95 = t.VaR, t.ES
		case 0.99:
			rep.VaR99, rep.ES99 = t.VaR, t.ES
		}
	}

	excess := mean - e.cfg.RiskFreeRate/e.cfg.PeriodsPerYear
	if sd > denomEps {
		v := excess / sd * math.Sqrt(e.cfg.PeriodsPerYear)
		rep.Sharpe = &v
	}
	var downside []float64
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	if len(downside) >= 2 {
		if dd := stat.StdDev(downside, nil); dd > denomEps {
			v := excess / dd * math.Sqrt(e.cfg.PeriodsPerYear)
			rep.Sortino = &v
		}
	}
	return rep, nil
}

func mergeLevels(sets ...[]float64) ([]float64, error) {
	seen := map[float64]bool{0.95: true, 0.99: true}
	for _, set := range sets {
		for _, c := range set {
			if !(c > 0 && c < 1) {
				return nil, fmt.Errorf("confidence level %v: %w", c, models.ErrInvalidInput)
			}
			seen[c] = true
		}
	}
	out := make([]float64, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Float64s(out)
	return out, nil
}

// Percentile interpolates linearly between order statistics of sorted at
// rank p*(n-1).
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}
	rank := p * float64(n-1)
	lo := int(math.Floor(rank))
	hi := min(lo+1, n-1)
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

func historicalTail(sorted []float64, c float64) models.TailRisk {
	q := Percentile(sorted, 1-c)
	var sum float64
	var k int
	for _, r := range sorted {
		if r > q {
			break
		}
		sum += r
		k++
	}
	es := q
	if k > 0 {
		es = sum / float64(k)
	}
	return models.TailRisk{Confidence: c, VaR: math.Min(q, 0), ES: math.Min(es, 0)}
}

func parametricTail(mean, sd, c float64) models.TailRisk {
	alpha := 1 - c
	z := unitNormal.Quantile(alpha)
	q := mean + z*sd
	es := mean - sd*unitNormal.Prob(z)/alpha
	return models.TailRisk{Confidence: c, VaR: math.Min(q, 0), ES: math.Min(es, 0)}
}

// MaxDrawdown is the largest fractional fall of compounded wealth from its
// running peak, scanning once.
func MaxDrawdown(returns []float64) float64 {
	var wealth, peak, worst float64 = 1, 0, 0
	for i, r := range returns {
		wealth *= 1 + r
		if i == 0 || wealth > peak {
			peak = wealth
		}
		if peak > 0 {
			if dd := (peak - wealth) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}
