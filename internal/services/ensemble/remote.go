package ensemble

import (
	"context"
	"fmt"
	"math"
	"time"

	"SignalFusion/internal/domain/models"
	dservice "SignalFusion/internal/domain/service"
	xhttp "SignalFusion/pkg/http"
)

var _ dservice.ModelHandle = (*RemoteModel)(nil)

type remoteRequest struct {
	Symbol      string    `json:"symbol"`
	HorizonDays int       `json:"horizon_days"`
	Names       []string  `json:"names"`
	Values      []float64 `json:"values"`
}

type remoteResponse struct {
	Prediction *float64 `json:"prediction"`
}

// RemoteModel delegates inference to an external service:
// GET /health and POST /predict.
type RemoteModel struct {
	svc           *xhttp.ServiceBase
	horizon       int
	healthTimeout time.Duration
}

func NewRemoteModel(svc *xhttp.ServiceBase, horizon int) *RemoteModel {
	return &RemoteModel{svc: svc, horizon: horizon, healthTimeout: time.Second}
}

func (m *RemoteModel) Name() string { return ModelRemote }

func (m *RemoteModel) IsAvailable(ctx context.Context) bool {
	if !m.svc.Configured() {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, m.healthTimeout)
	defer cancel()
	return m.svc.GetJSON(ctx, "/health", nil, nil) == nil
}

func (m *RemoteModel) Predict(ctx context.Context, fv models.FeatureVector) (float64, error) {
	if !m.svc.Configured() {
		return 0, fmt.Errorf("%s: no endpoint: %w", ModelRemote, models.ErrModelUnavailable)
	}
	var resp remoteResponse
	err := m.svc.PostJSON(ctx, "/predict", remoteRequest{
		Symbol:      fv.Symbol,
		HorizonDays: m.horizon,
		Names:       fv.Names,
		Values:      fv.Values,
	}, &resp)
	if err != nil {
		return 0, fmt.Errorf("%s: %w: %w", ModelRemote, models.ErrModelUnavailable, err)
	}
	if resp.Prediction == nil || math.IsNaN(*resp.Prediction) {
		return 0, fmt.Errorf("%s: empty prediction: %w", ModelRemote, models.ErrModelUnavailable)
	}
	return *resp.Prediction, nil
}
