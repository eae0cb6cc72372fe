package ensemble

import (
	"context"
	"fmt"
	"sort"
	"time"

	"SignalFusion/internal/domain/models"
	drepo "SignalFusion/internal/domain/repository"
	dservice "SignalFusion/internal/domain/service"
	xhttp "SignalFusion/pkg/http"
	applogger "SignalFusion/pkg/logger"
)

// Config wires the member models of every horizon.
type Config struct {
	Horizons             []int
	Weights              map[string]float64
	ValidationSplit      float64
	ReweightByValidation bool
	RidgeLambda          float64
	KNeighbors           int
	RemoteURL            string
	RemoteTimeout        time.Duration
	RemoteRetries        int
}

// Predictor holds one ensemble per forecast horizon.
type Predictor struct {
	horizons  []int
	ensembles map[int]*Ensemble
	log       *applogger.Logger
}

// NewPredictor builds ridge, knn, drift and remote members for each horizon.
func NewPredictor(cfg Config, metrics drepo.Metrics, log *applogger.Logger) *Predictor {
	horizons := append([]int(nil), cfg.Horizons...)
	sort.Ints(horizons)
	p := &Predictor{ensembles: make(map[int]*Ensemble, len(horizons)), log: log}

	var remote *xhttp.ServiceBase
	if cfg.RemoteURL != "" {
		client := xhttp.NewClient(xhttp.WithTimeout(cfg.RemoteTimeout))
		remote = xhttp.NewServiceBase(cfg.RemoteURL, client, xhttp.WithRetry(max(cfg.RemoteRetries, 1), 100*time.Millisecond))
	}
	for _, h := range horizons {
		if _, dup := p.ensembles[h]; dup {
			continue
		}
		members := []dservice.ModelHandle{
			NewRidgeModel(cfg.RidgeLambda),
			NewKNNModel(cfg.KNeighbors),
			NewDriftModel(),
			NewRemoteModel(remote, h),
		}
		p.ensembles[h] = New(h, members, cfg.Weights, log,
			WithMetrics(metrics),
			WithValidation(cfg.ValidationSplit, cfg.ReweightByValidation))
		p.horizons = append(p.horizons, h)
	}
	return p
}

// NewPredictorFrom assembles a predictor from prebuilt ensembles.
func NewPredictorFrom(log *applogger.Logger, ensembles ...*Ensemble) *Predictor {
	p := &Predictor{ensembles: make(map[int]*Ensemble, len(ensembles)), log: log}
	for _, e := range ensembles {
		p.ensembles[e.Horizon()] = e
		p.horizons = append(p.horizons, e.Horizon())
	}
	sort.Ints(p.horizons)
	return p
}

func (p *Predictor) Horizons() []int { return append([]int(nil), p.horizons...) }

func (p *Predictor) ensemble(horizon int) (*Ensemble, error) {
	e, ok := p.ensembles[horizon]
	if !ok {
		return nil, fmt.Errorf("horizon %d: %w", horizon, models.ErrInvalidInput)
	}
	return e, nil
}

// Trained reports whether the horizon's ensemble has been trained.
func (p *Predictor) Trained(horizon int) bool {
	e, err := p.ensemble(horizon)
	return err == nil && e.Trained()
}

func (p *Predictor) Predict(ctx context.Context, symbol string, horizon int, fv models.FeatureVector) (models.EnsembleForecast, error) {
	e, err := p.ensemble(horizon)
	if err != nil {
		return models.EnsembleForecast{}, err
	}
	return e.Predict(ctx, symbol, fv)
}

func (p *Predictor) Train(horizon int, X [][]float64, y []float64) (models.TrainingReport, error) {
	e, err := p.ensemble(horizon)
	if err != nil {
		return models.TrainingReport{}, err
	}
	return e.Train(X, y)
}
