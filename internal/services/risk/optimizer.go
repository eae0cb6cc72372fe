package risk

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"SignalFusion/internal/domain/models"
)

const (
	convergenceTol = 1e-9
	minStep        = 1e-12
)

// OptimizePortfolio maximizes (w·μ - rf)/√(wᵀΣw) subject to Σw = 1 and the
// per-asset bounds, by projected gradient ascent with backtracking. Nil bounds
// default to [0, MaxPositionSize]. When the search does not converge or the
// objective is not finite, equal weights are returned with Fallback set.
func (e *Engine) OptimizePortfolio(names []string, expected []float64, cov [][]float64, bounds []models.Bounds) (models.Allocation, error) {
	n := len(expected)
	if n == 0 || len(names) != n || len(cov) != n {
		return models.Allocation{}, fmt.Errorf("dimension mismatch: %d names, %d returns, %d covariance rows: %w",
			len(names), n, len(cov), models.ErrInvalidInput)
	}
	data := make([]float64, 0, n*n)
	for i, row := range cov {
		if len(row) != n {
			return models.Allocation{}, fmt.Errorf("covariance row %d has %d columns: %w", i, len(row), models.ErrInvalidInput)
		}
		data = append(data, row...)
	}
	equal := make([]float64, n)
	for i := range equal {
		equal[i] = 1 / float64(n)
	}
	if bounds == nil {
		// n holdings under the position cap cannot be fully invested
		if float64(n)*e.cfg.MaxPositionSize < 1-1e-12 {
			p := &problem{mu: expected, sigma: mat.NewDense(n, n, data), rf: e.cfg.RiskFreeRate}
			return p.allocation(names, equal, 0, true), nil
		}
		bounds = make([]models.Bounds, n)
		for i := range bounds {
			bounds[i] = models.Bounds{Lower: 0, Upper: e.cfg.MaxPositionSize}
		}
	}
	lo, hi, err := splitBounds(bounds, n)
	if err != nil {
		return models.Allocation{}, err
	}

	p := &problem{mu: expected, sigma: mat.NewDense(n, n, data), rf: e.cfg.RiskFreeRate, lo: lo, hi: hi}
	w := p.project(equal)

	f := p.objective(w)
	converged := false
	iter := 0
	step := 1.0
	for ; iter < e.cfg.MaxIterations && !math.IsNaN(f) && !math.IsInf(f, 0); iter++ {
		g := p.gradient(w)
		improved := false
		for step >= minStep {
			cand := make([]float64, n)
			floats.AddScaledTo(cand, w, step, g)
			cand = p.project(cand)
			moved := floats.Distance(cand, w, 2)
			if moved < convergenceTol {
				converged = true
				break
			}
			if fc := p.objective(cand); fc > f {
				w, f = cand, fc
				improved = true
				step = math.Min(step*2, 1e6)
				break
			}
			step /= 2
		}
		if converged {
			break
		}
		if !improved {
			// no ascent direction left inside the feasible set
			converged = true
			break
		}
	}

	if !converged || math.IsNaN(f) || math.IsInf(f, 0) {
		return p.allocation(names, p.project(equal), iter, true), nil
	}
	return p.allocation(names, w, iter, false), nil
}

func splitBounds(bounds []models.Bounds, n int) ([]float64, []float64, error) {
	if len(bounds) != n {
		return nil, nil, fmt.Errorf("%d bounds for %d assets: %w", len(bounds), n, models.ErrInvalidInput)
	}
	lo := make([]float64, n)
	hi := make([]float64, n)
	for i, b := range bounds {
		if b.Lower > b.Upper {
			return nil, nil, fmt.Errorf("bounds %d: lower %v > upper %v: %w", i, b.Lower, b.Upper, models.ErrInvalidInput)
		}
		lo[i], hi[i] = b.Lower, b.Upper
	}
	if floats.Sum(lo) > 1+1e-12 || floats.Sum(hi) < 1-1e-12 {
		return nil, nil, fmt.Errorf("bounds cannot sum to 1: %w", models.ErrInvalidInput)
	}
	return lo, hi, nil
}

type problem struct {
	mu     []float64
	sigma  *mat.Dense
	rf     float64
	lo, hi []float64
}

func (p *problem) variance(w []float64) (float64, *mat.VecDense) {
	wv := mat.NewVecDense(len(w), w)
	var sw mat.VecDense
	sw.MulVec(p.sigma, wv)
	return mat.Dot(wv, &sw), &sw
}

func (p *problem) objective(w []float64) float64 {
	v, _ := p.variance(w)
	if v <= 0 {
		return math.NaN()
	}
	return (floats.Dot(w, p.mu) - p.rf) / math.Sqrt(v)
}

// gradient of the Sharpe ratio: μ/s - (w·μ - rf)Σw/s³.
func (p *problem) gradient(w []float64) []float64 {
	v, sw := p.variance(w)
	s := math.Sqrt(v)
	excess := floats.Dot(w, p.mu) - p.rf
	g := make([]float64, len(w))
	for i := range g {
		g[i] = p.mu[i]/s - excess*sw.AtVec(i)/(v*s)
	}
	return g
}

// project maps v onto {Σw = 1, lo ≤ w ≤ hi} by bisecting on the shift λ in
// w = clip(v - λ).
func (p *problem) project(v []float64) []float64 {
	n := len(v)
	w := make([]float64, n)
	fill := func(lambda float64) float64 {
		for i := range v {
			w[i] = math.Max(p.lo[i], math.Min(p.hi[i], v[i]-lambda))
		}
		return floats.Sum(w)
	}
	a, b := math.Inf(1), math.Inf(-1)
	for i := range v {
		a = math.Min(a, v[i]-p.hi[i])
		b = math.Max(b, v[i]-p.lo[i])
	}
	for k := 0; k < 200; k++ {
		mid := (a + b) / 2
		s := fill(mid)
		if math.Abs(s-1) < 1e-14 {
			break
		}
		if s > 1 {
			a = mid
		} else {
			b = mid
		}
	}
	out := make([]float64, n)
	copy(out, w)
	return out
}

func (p *problem) allocation(names []string, w []float64, iters int, fallback bool) models.Allocation {
	v, _ := p.variance(w)
	a := models.Allocation{
		Weights:        make(map[string]float64, len(w)),
		ExpectedReturn: floats.Dot(w, p.mu),
		Volatility:     math.Sqrt(math.Max(v, 0)),
		Iterations:     iters,
		Fallback:       fallback,
	}
	if a.Volatility > 0 {
		a.Sharpe = (a.ExpectedReturn - p.rf) / a.Volatility
	}
	for i, name := range names {
		a.Weights[name] = w[i]
	}
	return a
}
