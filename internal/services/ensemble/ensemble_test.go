package ensemble

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalFusion/internal/domain/models"
	dservice "SignalFusion/internal/domain/service"
	xhttp "SignalFusion/pkg/http"
	applogger "SignalFusion/pkg/logger"
)

type stubModel struct {
	name      string
	value     float64
	available bool
	err       error
}

func (s *stubModel) Name() string                     { return s.name }
func (s *stubModel) IsAvailable(context.Context) bool { return s.available }
func (s *stubModel) Predict(context.Context, models.FeatureVector) (float64, error) {
	return s.value, s.err
}

type excludedRecorder struct {
	mu      sync.Mutex
	reasons map[string]string
}

func (r *excludedRecorder) RecordFetch(string, models.QueryKind, string, float64) {}
func (r *excludedRecorder) RecordCache(string)                                    {}
func (r *excludedRecorder) RecordAnalysis(string, float64)                        {}
func (r *excludedRecorder) RecordPublished(string)                                {}
func (r *excludedRecorder) RecordLastPrice(string, float64)                       {}
func (r *excludedRecorder) RecordModelExcluded(model, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reasons == nil {
		r.reasons = map[string]string{}
	}
	r.reasons[model] = reason
}

func TestPredict_RenormalizesAfterExclusion(t *testing.T) {
	members := []dservice.ModelHandle{
		&stubModel{name: "m1", value: 0.02, available: true},
		&stubModel{name: "m2", value: 0.50, available: false},
		&stubModel{name: "m3", value: -0.01, available: true},
	}
	rec := &excludedRecorder{}
	e := New(7, members, map[string]float64{"m1": 0.4, "m2": 0.4, "m3": 0.2}, applogger.Nop(), WithMetrics(rec))

	f, err := e.Predict(context.Background(), "AAPL", models.FeatureVector{})
	require.NoError(t, err)
	assert.InDelta(t, 0.667, f.Weights["m1"], 1e-3)
	assert.Equal(t, 0.0, f.Weights["m2"])
	assert.InDelta(t, 0.333, f.Weights["m3"], 1e-3)
	assert.InDelta(t, 1.0, f.Weights["m1"]+f.Weights["m2"]+f.Weights["m3"], 1e-12)
	assert.Equal(t, []string{"m2"}, f.Excluded)
	assert.NotContains(t, f.PerModel, "m2")
	assert.Equal(t, "unavailable", rec.reasons["m2"])

	assert.InDelta(t, 0.01, f.BlendedValue, 1e-12)
	sigma := math.Sqrt(2.0/3*0.01*0.01 + 1.0/3*0.02*0.02)
	abs := 2.0/3*0.02 + 1.0/3*0.01
	assert.InDelta(t, 1-sigma/(abs+1e-9), f.Confidence, 1e-9)
	assert.Equal(t, 7, f.HorizonDays)
	assert.Equal(t, "AAPL", f.Symbol)
}

func TestPredict_ExcludesErrorsAndNonFinite(t *testing.T) {
	members := []dservice.ModelHandle{
		&stubModel{name: "ok", value: 0.03, available: true},
		&stubModel{name: "bad", available: true, err: errors.New("boom")},
		&stubModel{name: "nan", value: math.NaN(), available: true},
		&stubModel{name: "inf", value: math.Inf(-1), available: true},
	}
	rec := &excludedRecorder{}
	e := New(1, members, map[string]float64{"ok": 1, "bad": 1, "nan": 1, "inf": 1}, applogger.Nop(), WithMetrics(rec))

	f, err := e.Predict(context.Background(), "X", models.FeatureVector{})
	require.NoError(t, err)
	assert.Equal(t, 1.0, f.Weights["ok"])
	assert.Equal(t, 0.03, f.BlendedValue)
	assert.Equal(t, 1.0, f.Confidence)
	assert.Equal(t, []string{"bad", "inf", "nan"}, f.Excluded)
	assert.Equal(t, "error", rec.reasons["bad"])
	assert.Equal(t, "non_finite", rec.reasons["nan"])
}

func TestPredict_NoModels(t *testing.T) {
	e := New(1, []dservice.ModelHandle{&stubModel{name: "a"}}, map[string]float64{"a": 1}, applogger.Nop())
	_, err := e.Predict(context.Background(), "X", models.FeatureVector{})
	assert.ErrorIs(t, err, models.ErrNoModelsAvailable)

	// a member without weight is not part of the ensemble
	e = New(1, []dservice.ModelHandle{&stubModel{name: "a", available: true}}, map[string]float64{"b": 1}, applogger.Nop())
	_, err = e.Predict(context.Background(), "X", models.FeatureVector{})
	assert.ErrorIs(t, err, models.ErrNoModelsAvailable)
}

func TestRenormalize_AnySubsetSumsToOne(t *testing.T) {
	weights := map[string]float64{"a": 0.4, "b": 0.3, "c": 0.2, "d": 0.1}
	names := []string{"a", "b", "c", "d"}
	for mask := 1; mask < 1<<len(names); mask++ {
		preds := map[string]float64{}
		for i, n := range names {
			if mask&(1<<i) != 0 {
				preds[n] = float64(i)
			}
		}
		eff := Renormalize(weights, preds)
		var sum float64
		for _, w := range eff {
			sum += w
		}
		assert.InDelta(t, 1.0, sum, 1e-12, "mask %b", mask)
	}
}

func TestProbabilityUp(t *testing.T) {
	assert.Equal(t, 0.5, ProbabilityUp(0))
	assert.Equal(t, 0.9, ProbabilityUp(1))
	assert.Equal(t, 0.1, ProbabilityUp(-1))
	assert.InDelta(t, 1/(1+math.Exp(-0.5)), ProbabilityUp(0.05), 1e-12)
}

func linearData(n int) ([][]float64, []float64) {
	X := make([][]float64, n)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		a := math.Sin(float64(i) * 0.7)
		b := math.Cos(float64(i) * 0.3)
		X[i] = []float64{a, b, 1}
		y[i] = 0.05*a - 0.02*b + 0.001
	}
	return X, y
}

func TestTrain_ChronologicalSplitAndReweight(t *testing.T) {
	members := []dservice.ModelHandle{NewRidgeModel(1e-6), NewKNNModel(3), NewDriftModel(), NewRemoteModel(nil, 1)}
	weights := map[string]float64{ModelRidge: 0.4, ModelKNN: 0.3, ModelDrift: 0.1, ModelRemote: 0.2}
	e := New(1, members, weights, applogger.Nop(), WithValidation(0.2, true))
	require.False(t, e.Trained())

	X, y := linearData(100)
	rep, err := e.Train(X, y)
	require.NoError(t, err)
	assert.True(t, e.Trained())
	assert.Equal(t, 80, rep.TrainRows)
	assert.Equal(t, 20, rep.ValidationRows)
	require.Contains(t, rep.PerModel, ModelRidge)
	require.Contains(t, rep.PerModel, ModelKNN)
	require.Contains(t, rep.PerModel, ModelDrift)
	assert.NotContains(t, rep.PerModel, ModelRemote)
	assert.Less(t, rep.PerModel[ModelRidge].MSE, 1e-8)
	assert.Greater(t, rep.PerModel[ModelRidge].R2, 0.99)

	// the remote share is untouched, trained members split the rest
	assert.Equal(t, 0.2, rep.Weights[ModelRemote])
	assert.InDelta(t, 0.8, rep.Weights[ModelRidge]+rep.Weights[ModelKNN]+rep.Weights[ModelDrift], 1e-9)
	assert.Greater(t, rep.Weights[ModelRidge], rep.Weights[ModelDrift])

	f, err := e.Predict(context.Background(), "X", models.FeatureVector{Values: []float64{0.5, 0.5, 1}})
	require.NoError(t, err)
	assert.Contains(t, f.Excluded, ModelRemote)
	assert.InDelta(t, 0.05*0.5-0.02*0.5+0.001, f.PerModel[ModelRidge], 1e-4)
}

func TestTrain_Insufficient(t *testing.T) {
	e := New(1, []dservice.ModelHandle{NewDriftModel()}, map[string]float64{ModelDrift: 1}, applogger.Nop())
	X, y := linearData(5)
	_, err := e.Train(X, y)
	assert.ErrorIs(t, err, models.ErrInsufficientHistory)

	_, err = e.Train(X, y[:3])
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestModels_UntrainedUnavailable(t *testing.T) {
	ctx := context.Background()
	for _, m := range []dservice.TrainableModel{NewRidgeModel(1), NewKNNModel(2)} {
		assert.False(t, m.IsAvailable(ctx), m.Name())
		_, err := m.Predict(ctx, models.FeatureVector{Values: []float64{1}})
		assert.ErrorIs(t, err, models.ErrModelUnavailable, m.Name())
	}
}

func TestDrift_UntrainedPredictsZero(t *testing.T) {
	ctx := context.Background()
	d := NewDriftModel()
	assert.True(t, d.IsAvailable(ctx))
	assert.False(t, d.Trained())
	v, err := d.Predict(ctx, models.FeatureVector{Values: []float64{1}})
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)
}

func TestPredict_UntrainedEnsembleFallsBackToDrift(t *testing.T) {
	members := []dservice.ModelHandle{NewRidgeModel(1e-6), NewKNNModel(3), NewDriftModel(), NewRemoteModel(nil, 1)}
	weights := map[string]float64{ModelRidge: 0.4, ModelKNN: 0.3, ModelDrift: 0.1, ModelRemote: 0.2}
	e := New(1, members, weights, applogger.Nop())

	f, err := e.Predict(context.Background(), "AAPL", models.FeatureVector{Values: []float64{0.5, 0.5, 1}})
	require.NoError(t, err)
	assert.Equal(t, 0.0, f.BlendedValue)
	assert.Equal(t, map[string]float64{ModelDrift: 1}, f.Weights)
	assert.ElementsMatch(t, []string{ModelRidge, ModelKNN, ModelRemote}, f.Excluded)
}

func TestKNN_NearestNeighbour(t *testing.T) {
	m := NewKNNModel(1)
	require.NoError(t, m.Fit([][]float64{{0, 0}, {10, 10}, {20, 0}}, []float64{1, 2, 3}))
	v, err := m.Predict(context.Background(), models.FeatureVector{Values: []float64{9, 9}})
	require.NoError(t, err)
	assert.Equal(t, 2.0, v)

	_, err = m.Predict(context.Background(), models.FeatureVector{Values: []float64{1}})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestRemoteModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/predict":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"prediction":0.031}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	m := NewRemoteModel(xhttp.NewServiceBase(srv.URL, nil), 7)
	assert.True(t, m.IsAvailable(context.Background()))
	v, err := m.Predict(context.Background(), models.FeatureVector{Symbol: "X", Names: []string{"a"}, Values: []float64{1}})
	require.NoError(t, err)
	assert.Equal(t, 0.031, v)

	down := NewRemoteModel(xhttp.NewServiceBase("", nil), 7)
	assert.False(t, down.IsAvailable(context.Background()))
	_, err = down.Predict(context.Background(), models.FeatureVector{})
	assert.ErrorIs(t, err, models.ErrModelUnavailable)
}

func TestPredictor_Horizons(t *testing.T) {
	p := NewPredictor(Config{
		Horizons:        []int{30, 1, 7},
		Weights:         map[string]float64{ModelRidge: 0.4, ModelKNN: 0.3, ModelDrift: 0.1, ModelRemote: 0.2},
		ValidationSplit: 0.2,
		RidgeLambda:     1,
		KNeighbors:      5,
	}, nil, applogger.Nop())
	assert.Equal(t, []int{1, 7, 30}, p.Horizons())
	assert.False(t, p.Trained(1))

	_, err := p.Predict(context.Background(), "X", 2, models.FeatureVector{})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	X, y := linearData(60)
	_, err = p.Train(7, X, y)
	require.NoError(t, err)
	assert.True(t, p.Trained(7))
	assert.False(t, p.Trained(1))

	f, err := p.Predict(context.Background(), "X", 7, models.FeatureVector{Values: X[0]})
	require.NoError(t, err)
	assert.Equal(t, 7, f.HorizonDays)
	assert.InDelta(t, 1.0, f.Weights[ModelRidge]+f.Weights[ModelKNN]+f.Weights[ModelDrift], 1e-9)
}
