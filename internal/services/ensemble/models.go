package ensemble

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"gonum.org/v1/gonum/mat"

	"SignalFusion/internal/domain/models"
	dservice "SignalFusion/internal/domain/service"
)

// Model names used in weight tables.
const (
	ModelRidge  = "ridge"
	ModelKNN    = "knn"
	ModelDrift  = "drift"
	ModelRemote = "remote"
)

var (
	_ dservice.TrainableModel = (*RidgeModel)(nil)
	_ dservice.TrainableModel = (*KNNModel)(nil)
	_ dservice.TrainableModel = (*DriftModel)(nil)
)

func checkFit(X [][]float64, y []float64) error {
	if len(X) == 0 || len(X) != len(y) {
		return fmt.Errorf("%d rows, %d targets: %w", len(X), len(y), models.ErrInvalidInput)
	}
	p := len(X[0])
	if p == 0 {
		return fmt.Errorf("empty feature rows: %w", models.ErrInvalidInput)
	}
	for i, x := range X {
		if len(x) != p {
			return fmt.Errorf("row %d has width %d, want %d: %w", i, len(x), p, models.ErrInvalidInput)
		}
	}
	return nil
}

// RidgeModel is an L2-penalized linear regression on standardized features.
type RidgeModel struct {
	lambda float64

	mu        sync.RWMutex
	sc        scaler
	coef      []float64
	intercept float64
	trained   bool
}

func NewRidgeModel(lambda float64) *RidgeModel {
	if lambda < 0 {
		lambda = 0
	}
	return &RidgeModel{lambda: lambda}
}

func (m *RidgeModel) Name() string { return ModelRidge }

func (m *RidgeModel) IsAvailable(context.Context) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.trained
}

// Fit solves (ZᵀZ + λI)β = Zᵀ(y-ȳ).
func (m *RidgeModel) Fit(X [][]float64, y []float64) error {
	if err := checkFit(X, y); err != nil {
		return err
	}
	sc := fitScaler(X)
	n, p := len(X), sc.width()

	flat := make([]float64, 0, n*p)
	for _, z := range sc.applyAll(X) {
		flat = append(flat, z...)
	}
	Z := mat.NewDense(n, p, flat)

	var ybar float64
	for _, v := range y {
		ybar += v
	}
	ybar /= float64(n)
	yc := make([]float64, n)
	for i, v := range y {
		yc[i] = v - ybar
	}

	var A mat.Dense
	A.Mul(Z.T(), Z)
	for i := 0; i < p; i++ {
		A.Set(i, i, A.At(i, i)+m.lambda+1e-8)
	}
	var b mat.VecDense
	b.MulVec(Z.T(), mat.NewVecDense(n, yc))

	var beta mat.VecDense
	if err := beta.SolveVec(&A, &b); err != nil {
		return fmt.Errorf("ridge solve: %w", err)
	}
	coef := make([]float64, p)
	for j := range coef {
		coef[j] = beta.AtVec(j)
	}

	m.mu.Lock()
	m.sc, m.coef, m.intercept, m.trained = sc, coef, ybar, true
	m.mu.Unlock()
	return nil
}

func (m *RidgeModel) Predict(_ context.Context, fv models.FeatureVector) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.trained {
		return 0, fmt.Errorf("%s not trained: %w", ModelRidge, models.ErrModelUnavailable)
	}
	if fv.Len() != m.sc.width() {
		return 0, fmt.Errorf("%s: width %d, want %d: %w", ModelRidge, fv.Len(), m.sc.width(), models.ErrInvalidInput)
	}
	out := m.intercept
	for j, z := range m.sc.apply(fv.Values) {
		out += m.coef[j] * z
	}
	return out, nil
}

// KNNModel averages the targets of the k nearest training rows.
type KNNModel struct {
	k int

	mu      sync.RWMutex
	sc      scaler
	rows    [][]float64
	targets []float64
}

func NewKNNModel(k int) *KNNModel {
	if k <= 0 {
		k = 5
	}
	return &KNNModel{k: k}
}

func (m *KNNModel) Name() string { return ModelKNN }

func (m *KNNModel) IsAvailable(context.Context) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows) > 0
}

func (m *KNNModel) Fit(X [][]float64, y []float64) error {
	if err := checkFit(X, y); err != nil {
		return err
	}
	sc := fitScaler(X)
	rows := sc.applyAll(X)
	targets := append([]float64(nil), y...)

	m.mu.Lock()
	m.sc, m.rows, m.targets = sc, rows, targets
	m.mu.Unlock()
	return nil
}

func (m *KNNModel) Predict(_ context.Context, fv models.FeatureVector) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.rows) == 0 {
		return 0, fmt.Errorf("%s not trained: %w", ModelKNN, models.ErrModelUnavailable)
	}
	if fv.Len() != m.sc.width() {
		return 0, fmt.Errorf("%s: width %d, want %d: %w", ModelKNN, fv.Len(), m.sc.width(), models.ErrInvalidInput)
	}
	q := m.sc.apply(fv.Values)
	type nb struct {
		idx  int
		dist float64
	}
	nbs := make([]nb, len(m.rows))
	for i, r := range m.rows {
		var d float64
		for j := range r {
			diff := r[j] - q[j]
			d += diff * diff
		}
		nbs[i] = nb{idx: i, dist: d}
	}
	sort.Slice(nbs, func(i, j int) bool {
		if nbs[i].dist != nbs[j].dist {
			return nbs[i].dist < nbs[j].dist
		}
		return nbs[i].idx < nbs[j].idx
	})
	k := min(m.k, len(nbs))
	var sum float64
	for _, n := range nbs[:k] {
		sum += m.targets[n.idx]
	}
	return sum / float64(k), nil
}

// DriftModel predicts the mean training target. Before any fit it predicts
// zero drift, so an ensemble always has one member to fall back on.
type DriftModel struct {
	mu      sync.RWMutex
	mean    float64
	trained bool
}

func NewDriftModel() *DriftModel { return &DriftModel{} }

func (m *DriftModel) Name() string { return ModelDrift }

func (m *DriftModel) IsAvailable(context.Context) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.trained || !math.IsNaN(m.mean)
}

// Trained reports whether Fit has succeeded.
func (m *DriftModel) Trained() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.trained
}

func (m *DriftModel) Fit(X [][]float64, y []float64) error {
	if err := checkFit(X, y); err != nil {
		return err
	}
	var sum float64
	for _, v := range y {
		sum += v
	}
	m.mu.Lock()
	m.mean, m.trained = sum/float64(len(y)), true
	m.mu.Unlock()
	return nil
}

func (m *DriftModel) Predict(context.Context, models.FeatureVector) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.trained {
		return 0, nil
	}
	if math.IsNaN(m.mean) {
		return 0, fmt.Errorf("%s: %w", ModelDrift, models.ErrModelUnavailable)
	}
	return m.mean, nil
}
