package ensemble

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"SignalFusion/internal/domain/models"
	drepo "SignalFusion/internal/domain/repository"
	dservice "SignalFusion/internal/domain/service"
	applogger "SignalFusion/pkg/logger"
)

const (
	minTrainRows  = 10
	confidenceEps = 1e-9
)

// Ensemble blends the predictions of its members for one horizon.
type Ensemble struct {
	horizon         int
	members         []dservice.ModelHandle
	validationSplit float64
	reweight        bool
	metrics         drepo.Metrics
	log             *applogger.Logger
	now             func() time.Time

	mu      sync.RWMutex
	weights map[string]float64
	trained bool
}

type Option func(*Ensemble)

func WithMetrics(m drepo.Metrics) Option { return func(e *Ensemble) { e.metrics = m } }

func WithClock(now func() time.Time) Option { return func(e *Ensemble) { e.now = now } }

// WithValidation sets the chronological validation share and whether training
// replaces the weights with normalized inverse validation MSE.
func WithValidation(split float64, reweight bool) Option {
	return func(e *Ensemble) {
		e.validationSplit = split
		e.reweight = reweight
	}
}

// New builds an ensemble. Members without a positive weight are ignored.
func New(horizon int, members []dservice.ModelHandle, weights map[string]float64, log *applogger.Logger, opts ...Option) *Ensemble {
	e := &Ensemble{
		horizon:         horizon,
		validationSplit: 0.2,
		log:             log,
		now:             time.Now,
		weights:         map[string]float64{},
	}
	for _, m := range members {
		if w := weights[m.Name()]; w > 0 {
			e.members = append(e.members, m)
			e.weights[m.Name()] = w
		}
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Horizon is the forecast horizon in days.
func (e *Ensemble) Horizon() int { return e.horizon }

// Weights returns the configured (or validation-derived) raw weights.
func (e *Ensemble) Weights() map[string]float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]float64, len(e.weights))
	for k, v := range e.weights {
		out[k] = v
	}
	return out
}

// Trained reports whether Train has completed at least once.
func (e *Ensemble) Trained() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.trained
}

func (e *Ensemble) exclude(name, reason string) {
	if e.metrics != nil {
		e.metrics.RecordModelExcluded(name, reason)
	}
}

type memberResult struct {
	value  float64
	reason string
	err    error
}

// Predict blends every available member. Members that are unavailable, fail
// or return a non-finite value are excluded and the remaining weights are
// renormalized.
func (e *Ensemble) Predict(ctx context.Context, symbol string, fv models.FeatureVector) (models.EnsembleForecast, error) {
	weights := e.Weights()
	results := make([]memberResult, len(e.members))

	var wg sync.WaitGroup
	for i, m := range e.members {
		wg.Add(1)
		go func(i int, m dservice.ModelHandle) {
			defer wg.Done()
			if !m.IsAvailable(ctx) {
				results[i] = memberResult{reason: "unavailable", err: models.ErrModelUnavailable}
				return
			}
			v, err := m.Predict(ctx, fv)
			switch {
			case err != nil:
				results[i] = memberResult{reason: "error", err: err}
			case math.IsNaN(v) || math.IsInf(v, 0):
				results[i] = memberResult{reason: "non_finite", err: fmt.Errorf("non-finite prediction: %w", models.ErrModelUnavailable)}
			default:
				results[i] = memberResult{value: v}
			}
		}(i, m)
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return models.EnsembleForecast{}, err
	}

	preds := map[string]float64{}
	var excluded []string
	for i, m := range e.members {
		r := results[i]
		if r.err != nil {
			excluded = append(excluded, m.Name())
			e.exclude(m.Name(), r.reason)
			e.log.Debug("ensemble.model excluded",
				applogger.String("model", m.Name()),
				applogger.String("symbol", symbol),
				applogger.Int("horizon", e.horizon),
				applogger.Error(r.err))
			continue
		}
		preds[m.Name()] = r.value
	}
	if len(preds) == 0 {
		return models.EnsembleForecast{}, fmt.Errorf("%s horizon %d: %w", symbol, e.horizon, models.ErrNoModelsAvailable)
	}

	eff := Renormalize(weights, preds)
	blended, confidence := Blend(eff, preds)
	sort.Strings(excluded)
	return models.EnsembleForecast{
		Symbol:        symbol,
		HorizonDays:   e.horizon,
		BlendedValue:  blended,
		PerModel:      preds,
		Weights:       eff,
		Excluded:      excluded,
		Confidence:    confidence,
		ProbabilityUp: ProbabilityUp(blended),
		GeneratedAt:   e.now(),
	}, nil
}

// Renormalize scales weights of models present in preds to sum to 1. Models
// absent from preds keep a zero entry.
func Renormalize(weights map[string]float64, preds map[string]float64) map[string]float64 {
	var total float64
	for name := range preds {
		total += weights[name]
	}
	out := make(map[string]float64, len(weights))
	for name, w := range weights {
		out[name] = 0
		if _, ok := preds[name]; ok && total > 0 {
			out[name] = w / total
		}
	}
	if total <= 0 {
		// no usable weights among survivors: equal split
		for name := range preds {
			out[name] = 1 / float64(len(preds))
		}
	}
	return out
}

// Blend returns Σwᵢpᵢ and the agreement-based confidence
// clamp(1 - σ_w/(Σwᵢ|pᵢ|+ε), 0, 1).
func Blend(weights, preds map[string]float64) (blended, confidence float64) {
	var absSum float64
	for name, p := range preds {
		w := weights[name]
		blended += w * p
		absSum += w * math.Abs(p)
	}
	var variance float64
	for name, p := range preds {
		d := p - blended
		variance += weights[name] * d * d
	}
	sigma := math.Sqrt(variance)
	if sigma < 1e-15 {
		return blended, 1
	}
	return blended, clamp(1-sigma/(absSum+confidenceEps), 0, 1)
}

// ProbabilityUp maps the blended return to a bounded directional probability.
func ProbabilityUp(blended float64) float64 {
	return clamp(1/(1+math.Exp(-10*blended)), 0.1, 0.9)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Train fits every trainable member on the leading rows and reports error on
// the trailing validation rows. Rows must be in time order.
func (e *Ensemble) Train(X [][]float64, y []float64) (models.TrainingReport, error) {
	n := len(X)
	if n != len(y) {
		return models.TrainingReport{}, fmt.Errorf("%d rows, %d targets: %w", n, len(y), models.ErrInvalidInput)
	}
	split := int(float64(n) * (1 - e.validationSplit))
	if n < minTrainRows || split <= 0 || split >= n {
		return models.TrainingReport{}, fmt.Errorf("%d rows: %w", n, models.ErrInsufficientHistory)
	}
	trainX, trainY := X[:split], y[:split]
	valX, valY := X[split:], y[split:]

	report := models.TrainingReport{
		HorizonDays:    e.horizon,
		TrainRows:      split,
		ValidationRows: n - split,
		PerModel:       map[string]models.ValidationMetrics{},
	}
	skip := func(name string, err error) {
		if report.Skipped == nil {
			report.Skipped = map[string]string{}
		}
		report.Skipped[name] = err.Error()
	}

	for _, m := range e.members {
		tm, ok := m.(dservice.TrainableModel)
		if !ok {
			continue
		}
		if err := tm.Fit(trainX, trainY); err != nil {
			skip(m.Name(), err)
			e.log.Warn("ensemble.fit failed", applogger.String("model", m.Name()), applogger.Int("horizon", e.horizon), applogger.Error(err))
			continue
		}
		vm, err := validate(tm, valX, valY)
		if err != nil {
			skip(m.Name(), err)
			continue
		}
		report.PerModel[m.Name()] = vm
	}
	if len(report.PerModel) == 0 && len(report.Skipped) > 0 {
		return report, errors.New("ensemble: no member could be trained")
	}

	e.mu.Lock()
	if e.reweight && len(report.PerModel) > 0 {
		e.weights = inverseMSEWeights(e.weights, report.PerModel)
	}
	e.trained = true
	report.Weights = make(map[string]float64, len(e.weights))
	for k, v := range e.weights {
		report.Weights[k] = v
	}
	e.mu.Unlock()

	e.log.Info("ensemble.trained",
		applogger.Int("horizon", e.horizon),
		applogger.Int("train_rows", report.TrainRows),
		applogger.Int("validation_rows", report.ValidationRows),
		applogger.Int("models", len(report.PerModel)))
	return report, nil
}

func validate(m dservice.TrainableModel, X [][]float64, y []float64) (models.ValidationMetrics, error) {
	var sse, sae, mean float64
	for _, v := range y {
		mean += v
	}
	mean /= float64(len(y))
	var sst float64
	for i, x := range X {
		p, err := m.Predict(context.Background(), models.FeatureVector{Values: x})
		if err != nil {
			return models.ValidationMetrics{}, err
		}
		d := y[i] - p
		sse += d * d
		sae += math.Abs(d)
		sst += (y[i] - mean) * (y[i] - mean)
	}
	n := float64(len(y))
	vm := models.ValidationMetrics{MSE: sse / n, MAE: sae / n}
	if sst > 0 {
		vm.R2 = 1 - sse/sst
	}
	return vm, nil
}

// inverseMSEWeights redistributes the combined weight of the validated models
// in proportion to 1/(mse+1e-8). Members without metrics keep their weight.
func inverseMSEWeights(current map[string]float64, metrics map[string]models.ValidationMetrics) map[string]float64 {
	out := make(map[string]float64, len(current))
	var share, invSum float64
	for name, w := range current {
		if _, ok := metrics[name]; ok {
			share += w
			invSum += 1 / (metrics[name].MSE + 1e-8)
			continue
		}
		out[name] = w
	}
	for name := range metrics {
		if _, ok := current[name]; ok {
			out[name] = share * (1 / (metrics[name].MSE + 1e-8)) / invSum
		}
	}
	return out
}
