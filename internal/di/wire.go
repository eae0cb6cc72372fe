//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"SignalFusion/pkg/config"
	"SignalFusion/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideMetrics,
		ProvideRedisClient,
		ProvideClickHouseClient,

		// Repositories
		ProvideArtifactPublisher,
		ProvideCandleStore,
		ProvideKVStore,

		// Sources and cache
		ProvideLimiter,
		ProvideSnapshotCache,
		ProvideStreamAdapter,
		ProvideAdapters,
		ProvideAggregator,

		// Analytics
		ProvideFeatureBuilder,
		ProvidePredictor,
		ProvideScoringEngine,
		ProvideRiskEngine,

		// Use cases
		ProvideAnalysisUseCase,
		ProvideHistoryUseCase,
		ProvidePortfolioService,
		ProvideAlertService,
		ProvideCandleRecorder,
		ProvideQueue,
		ProvideAnalysisJobs,
		ProvideScheduler,

		// Transport and application
		ProvideHandler,
		ProvideHTTPServer,
		ProvideApp,
	)
	return &server.App{}, nil
}
