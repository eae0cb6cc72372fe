package repository

import (
	"context"
	"time"

	"SignalFusion/internal/domain/models"
)

// CandleStore provides historical candles for features, training and risk.
type CandleStore interface {
	GetCandles(ctx context.Context, symbol string, from, to time.Time, tf Timeframe) ([]models.Candle, error)
	GetLatestNCandles(ctx context.Context, symbol string, n int, tf Timeframe) ([]models.Candle, error)
	SaveCandles(ctx context.Context, candles []models.Candle, tf Timeframe) error
}

// KVStore is the persistence contract for portfolios and other documents.
// Load returns models.ErrNotFound for a missing key.
type KVStore interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, value []byte) error
	Close() error
}

// ArtifactPublisher delivers produced value objects to downstream consumers.
type ArtifactPublisher interface {
	PublishForecast(ctx context.Context, passID string, f models.EnsembleForecast) error
	PublishScore(ctx context.Context, passID string, s models.CompositeScore) error
	PublishRisk(ctx context.Context, passID, symbol string, r models.RiskReport) error
	Close() error
}

// MarketStream is a live trade feed.
type MarketStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, symbols []string) error
	Read(ctx context.Context) (<-chan models.Trade, <-chan error)
	Close() error
	IsConnected() bool
}

// Metrics records pipeline observations.
type Metrics interface {
	RecordFetch(source string, kind models.QueryKind, outcome string, seconds float64)
	RecordCache(result string)
	RecordModelExcluded(model, reason string)
	RecordAnalysis(outcome string, seconds float64)
	RecordPublished(artifact string)
	RecordLastPrice(symbol string, price float64)
}
