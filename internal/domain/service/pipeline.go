package service

import (
	"context"
	"time"

	"SignalFusion/internal/domain/models"
)

// SourceAdapter is the uniform contract over an external data source. New sources
// are added by implementing it; the aggregator never changes.
//
// Fetch returns a partial snapshot (Partial=true) when only some fields were
// obtained, and a *models.SourceError only on total failure.
type SourceAdapter interface {
	ID() string
	Kinds() []models.QueryKind
	Budget() models.RateBudget
	TTL(kind models.QueryKind) time.Duration
	Fetch(ctx context.Context, symbol string, kind models.QueryKind) (models.SourceSnapshot, error)
}

// ModelHandle is one ensemble member.
type ModelHandle interface {
	Name() string
	Predict(ctx context.Context, fv models.FeatureVector) (float64, error)
	IsAvailable(ctx context.Context) bool
}

// TrainableModel is a ModelHandle that can be fitted in-process.
type TrainableModel interface {
	ModelHandle
	Fit(X [][]float64, y []float64) error
}
