package di

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"SignalFusion/internal/domain/models"
	"SignalFusion/internal/domain/repository"
	dservice "SignalFusion/internal/domain/service"
	"SignalFusion/internal/handler/api"
	internalrepo "SignalFusion/internal/repository"
	"SignalFusion/internal/service/cache"
	"SignalFusion/internal/service/finnhub"
	"SignalFusion/internal/service/ratelimit"
	"SignalFusion/internal/service/sources"
	"SignalFusion/internal/services/ensemble"
	"SignalFusion/internal/services/features"
	"SignalFusion/internal/services/risk"
	"SignalFusion/internal/services/scoring"
	"SignalFusion/internal/usecase"
	pkgch "SignalFusion/pkg/clickhouse"
	"SignalFusion/pkg/config"
	xhttp "SignalFusion/pkg/http"
	pkgkafka "SignalFusion/pkg/kafka"
	applogger "SignalFusion/pkg/logger"
	"SignalFusion/pkg/metrics"
	"SignalFusion/pkg/queue"
	"SignalFusion/pkg/server"
)

// ProvideLogger builds the application logger. When the digest is enabled
// and Kafka is available, warn/error aggregates are shipped to the digest topic.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, error) {
	log, err := applogger.New(&applogger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: cfg.Log.TimeFormat,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if cfg.Log.Digest.Enabled && producer != nil {
		log.AttachDigest(applogger.DigestConfig{
			Interval:  cfg.Log.Digest.Interval,
			MaxUnique: cfg.Log.Digest.MaxUnique,
			Topic:     cfg.Log.Digest.Topic,
			Publisher: producer,
		})
	}
	return log, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New(prometheus.DefaultRegisterer)
}

func needsRedis(cfg *config.Config) bool {
	return cfg.Cache.L2 || cfg.Portfolio.Store == "redis" || (cfg.Jobs.Enabled && cfg.Jobs.Backend == "redis")
}

// ProvideRedisClient dials redis only when a component is configured to use it.
func ProvideRedisClient(cfg *config.Config) (*redis.Client, error) {
	if !needsRedis(cfg) {
		return nil, nil
	}
	cli, err := cache.NewRedisClient(context.Background(), cache.RedisConfig{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  5 * time.Second,
		Prefix:       cfg.Redis.Prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("redis client: %w", err)
	}
	return cli, nil
}

// ProvideClickHouseClient connects and creates the candle tables when
// history is stored in ClickHouse.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if cfg.History.Store != "clickhouse" {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := pkgch.NewClient(ctx,
		pkgch.WithAddr(cfg.ClickHouse.Host, cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	if err := client.InitSchema(ctx, internalrepo.CandleSchema(cfg.ClickHouse.Database)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithTopic(cfg.Kafka.Topic),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithMaxAttempts(cfg.Kafka.MaxAttempts),
		pkgkafka.WithBatch(cfg.Kafka.BatchSize, cfg.Kafka.BatchTimeout),
		pkgkafka.WithWriteTimeout(cfg.Kafka.WriteTimeout),
		pkgkafka.WithAsync(cfg.Kafka.Async),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideArtifactPublisher publishes forecasts, scores and risk reports.
func ProvideArtifactPublisher(producer *pkgkafka.Producer, m repository.Metrics, cfg *config.Config) repository.ArtifactPublisher {
	if producer == nil {
		return internalrepo.NopArtifactPublisher{}
	}
	return internalrepo.NewKafkaArtifactPublisher(producer, cfg.Kafka.Topic, m)
}

func ProvideCandleStore(ch *pkgch.Client, log *applogger.Logger) repository.CandleStore {
	if ch == nil {
		return internalrepo.NewMemoryCandleStore()
	}
	return internalrepo.NewCHCandleStore(ch, log)
}

// ProvideKVStore selects the document store for portfolios and job records.
func ProvideKVStore(cfg *config.Config, rdb *redis.Client) (repository.KVStore, error) {
	switch cfg.Portfolio.Store {
	case "redis":
		return internalrepo.NewRedisKV(rdb, cfg.Redis.Prefix), nil
	case "badger":
		kv, err := internalrepo.OpenBadgerKV(cfg.Portfolio.BadgerDir)
		if err != nil {
			return nil, fmt.Errorf("kv store: %w", err)
		}
		return kv, nil
	default:
		return internalrepo.NewMemoryKV(), nil
	}
}

func ProvideLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(cfg.RateLimit.MaxConcurrentRequests, models.RateBudget{
		RequestsPerMinute: cfg.RateLimit.DefaultRequestsPerMinute,
		Burst:             cfg.RateLimit.DefaultBurst,
	})
}

func ProvideSnapshotCache(cfg *config.Config, limiter *ratelimit.Limiter, rdb *redis.Client, m repository.Metrics, log *applogger.Logger) *cache.SnapshotCache {
	opts := []cache.SnapshotCacheOption{
		cache.WithMetrics(m),
		cache.WithFetchTimeout(cfg.Cache.FetchTimeout),
	}
	if cfg.Cache.L2 && rdb != nil {
		opts = append(opts, cache.WithL2(cache.NewRedisCache(rdb, cfg.Redis.Prefix+":snap")))
	}
	return cache.NewSnapshotCache(limiter, log, opts...)
}

// ProvideStreamAdapter returns nil when the live stream is disabled.
func ProvideStreamAdapter(cfg *config.Config, m repository.Metrics, log *applogger.Logger) *finnhub.StreamAdapter {
	sc := cfg.Sources.FinnhubStream
	if !sc.Enabled || sc.APIKey == "" {
		return nil
	}
	stream := finnhub.NewStreamClient(sc.APIKey, sc.URL, sc.PingInterval, log)
	a := finnhub.NewStreamAdapter(stream, m, cfg.TTL(string(models.KindQuote), time.Minute), sc.ReconnectDelay, log)
	a.Watch(context.Background(), cfg.Analysis.Watchlist)
	return a
}

func sourceConfig(cfg *config.Config, sc config.SourceConfig) sources.Config {
	ttl := make(map[models.QueryKind]time.Duration, len(cfg.Cache.TTLSeconds))
	for kind, secs := range cfg.Cache.TTLSeconds {
		ttl[models.QueryKind(kind)] = time.Duration(secs) * time.Second
	}
	return sources.Config{
		APIKey:  sc.APIKey,
		BaseURL: sc.BaseURL,
		Budget:  models.RateBudget{RequestsPerMinute: sc.RequestsPerMinute, Burst: sc.Burst},
		TTL:     ttl,
		Timeout: sc.Timeout,
		Retries: sc.Retries,
	}
}

// ProvideAdapters builds every enabled source and registers its rate budget.
func ProvideAdapters(cfg *config.Config, stream *finnhub.StreamAdapter, limiter *ratelimit.Limiter, log *applogger.Logger) []dservice.SourceAdapter {
	var out []dservice.SourceAdapter
	if sc := cfg.Sources.Finnhub; sc.Enabled {
		out = append(out, finnhub.NewRESTAdapter(sourceConfig(cfg, sc), log))
	}
	if sc := cfg.Sources.AlphaVantage; sc.Enabled {
		out = append(out, sources.NewAlphaVantage(sourceConfig(cfg, sc), log))
	}
	if sc := cfg.Sources.Polygon; sc.Enabled {
		out = append(out, sources.NewPolygon(sourceConfig(cfg, sc), log))
	}
	if stream != nil {
		out = append(out, stream)
	}
	for _, a := range out {
		limiter.Register(a.ID(), a.Budget())
	}
	return out
}

func ProvideAggregator(cfg *config.Config, c *cache.SnapshotCache, adapters []dservice.SourceAdapter, log *applogger.Logger) *usecase.Aggregator {
	return usecase.NewAggregator(c, adapters, cfg.Sources.Priority, log)
}

func ProvideFeatureBuilder(cfg *config.Config, log *applogger.Logger) *features.Builder {
	return features.NewBuilder(cfg.Features.Neutral, cfg.Features.MinHistory, cfg.Features.PeriodsPerYear, log)
}

func ProvidePredictor(cfg *config.Config, m repository.Metrics, log *applogger.Logger) *ensemble.Predictor {
	return ensemble.NewPredictor(ensemble.Config{
		Horizons:             cfg.PredictionHorizons,
		Weights:              cfg.Ensemble.Weights,
		ValidationSplit:      cfg.Ensemble.ValidationSplit,
		ReweightByValidation: cfg.Ensemble.ReweightByValidation,
		RidgeLambda:          cfg.Ensemble.RidgeLambda,
		KNeighbors:           cfg.Ensemble.KNeighbors,
		RemoteURL:            cfg.Ensemble.Remote.URL,
		RemoteTimeout:        cfg.Ensemble.Remote.Timeout,
		RemoteRetries:        cfg.Ensemble.Remote.Retries,
	}, m, log)
}

func ProvideScoringEngine(cfg *config.Config) (*scoring.Engine, error) {
	weights := make(map[models.Category]float64, len(cfg.Scoring.Weights))
	for k, w := range cfg.Scoring.Weights {
		weights[models.Category(k)] = w
	}
	th := cfg.Scoring.Thresholds
	return scoring.NewEngine(weights, scoring.Thresholds{
		StrongBuy: th.StrongBuy,
		Buy:       th.Buy,
		Hold:      th.Hold,
		Sell:      th.Sell,
	})
}

func ProvideRiskEngine(cfg *config.Config) *risk.Engine {
	return risk.NewEngine(risk.Config{
		MinObservations: cfg.Risk.MinObservations,
		RiskFreeRate:    cfg.Risk.RiskFreeRate,
		PeriodsPerYear:  cfg.Risk.PeriodsPerYear,
		MaxPositionSize: cfg.Risk.MaxPositionSize,
		MaxIterations:   cfg.Risk.MaxIterations,
		Levels:          cfg.Risk.VaRConfidenceLevels,
	})
}

func ProvideAnalysisUseCase(
	cfg *config.Config,
	agg *usecase.Aggregator,
	candles repository.CandleStore,
	builder *features.Builder,
	predictor *ensemble.Predictor,
	scorer *scoring.Engine,
	engine *risk.Engine,
	publisher repository.ArtifactPublisher,
	m repository.Metrics,
	log *applogger.Logger,
) *usecase.AnalysisUseCase {
	return usecase.NewAnalysisUseCase(agg, candles, builder, predictor, scorer, engine, publisher, m, log,
		usecase.WithAnalysisHistory(repository.Timeframe(cfg.History.Timeframe), cfg.Ensemble.HistoryBars, cfg.Risk.HistoryBars),
		usecase.WithWorkers(cfg.Analysis.Workers, cfg.Analysis.Timeout),
	)
}

func ProvideHistoryUseCase(cfg *config.Config, store repository.CandleStore, log *applogger.Logger) *usecase.HistoryUseCase {
	return usecase.NewHistoryUseCase(store, repository.Timeframe(cfg.History.Timeframe), log)
}

func ProvidePortfolioService(
	cfg *config.Config,
	kv repository.KVStore,
	agg *usecase.Aggregator,
	candles repository.CandleStore,
	engine *risk.Engine,
	log *applogger.Logger,
) *usecase.PortfolioService {
	return usecase.NewPortfolioService(kv, agg, candles, engine, log,
		usecase.WithKeyPrefix(cfg.Portfolio.KeyPrefix),
		usecase.WithHistory(repository.Timeframe(cfg.History.Timeframe), cfg.Risk.HistoryBars),
	)
}

func ProvideAlertService(cfg *config.Config, kv repository.KVStore, agg *usecase.Aggregator, log *applogger.Logger) *usecase.AlertService {
	return usecase.NewAlertService(kv, agg, log,
		usecase.WithAlertKey(cfg.Alerts.Key),
		usecase.WithAlertParallelism(cfg.Alerts.Parallelism),
	)
}

// ProvideCandleRecorder folds stream trades into stored candles. Nil when
// there is no stream or recording is off.
func ProvideCandleRecorder(cfg *config.Config, stream *finnhub.StreamAdapter, store repository.CandleStore, log *applogger.Logger) *usecase.CandleRecorder {
	if stream == nil || !cfg.History.RecordStream {
		return nil
	}
	r := usecase.NewCandleRecorder(store, repository.Timeframe(cfg.History.Timeframe), log,
		usecase.WithRecorderBuffer(cfg.History.Buffer),
		usecase.WithFlushInterval(cfg.History.FlushInterval),
	)
	stream.SetTradeSink(r.Record)
	return r
}

// ProvideQueue returns the job queue backing asynchronous batches, or nil.
func ProvideQueue(cfg *config.Config, rdb *redis.Client, log *applogger.Logger) queue.Queue {
	if !cfg.Jobs.Enabled {
		return nil
	}
	qc := queue.Config{
		Workers:    cfg.Jobs.Workers,
		QueueSize:  cfg.Jobs.QueueSize,
		RetryLimit: cfg.Jobs.RetryLimit,
		RetryDelay: cfg.Jobs.RetryDelay,
	}
	if cfg.Jobs.Backend == "redis" && rdb != nil {
		return queue.NewRedisQueue(log, qc, rdb, queue.WithKeyPrefix(cfg.Redis.Prefix+":jobs"))
	}
	return queue.NewMemoryQueue(log, qc)
}

func ProvideAnalysisJobs(q queue.Queue, analysis *usecase.AnalysisUseCase, kv repository.KVStore, log *applogger.Logger) *usecase.AnalysisJobs {
	if q == nil {
		return nil
	}
	return usecase.NewAnalysisJobs(analysis, q, kv, log)
}

func ProvideScheduler(cfg *config.Config, analysis *usecase.AnalysisUseCase, alerts *usecase.AlertService, log *applogger.Logger) *usecase.Scheduler {
	if !cfg.Scheduler.Enabled {
		return nil
	}
	return usecase.NewScheduler(analysis, cfg.Scheduler.Spec, cfg.Analysis.Watchlist, cfg.Analysis.Timeout, log,
		usecase.WithAlertChecks(alerts))
}

func ProvideHandler(
	log *applogger.Logger,
	agg *usecase.Aggregator,
	analysis *usecase.AnalysisUseCase,
	engine *risk.Engine,
	portfolios *usecase.PortfolioService,
	history *usecase.HistoryUseCase,
	c *cache.SnapshotCache,
	jobs *usecase.AnalysisJobs,
	alerts *usecase.AlertService,
	sched *usecase.Scheduler,
) *api.Handler {
	opts := []api.Option{api.WithAlerts(alerts)}
	if jobs != nil {
		opts = append(opts, api.WithJobs(jobs))
	}
	if sched != nil {
		opts = append(opts, api.WithScheduler(sched))
	}
	return api.NewHandler(log, agg, analysis, engine, portfolios, history, c, opts...)
}

// ProvideHTTPServer mounts the API with per-client throttling.
func ProvideHTTPServer(cfg *config.Config, h *api.Handler, log *applogger.Logger) *xhttp.Server {
	opts := []xhttp.ServerOption{
		xhttp.WithConfig(xhttp.ServerConfig{
			Host:            cfg.Server.Host,
			Port:            cfg.Server.Port,
			ReadTimeout:     cfg.Server.ReadTimeout,
			WriteTimeout:    cfg.Server.WriteTimeout,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
			SlowRequest:     cfg.Server.SlowRequest,
			CORS:            cfg.Server.CORS,
			CORSOrigins:     cfg.Server.CORSOrigins,
		}),
	}
	if cfg.Server.ClientRPM > 0 {
		opts = append(opts, xhttp.WithClientLimiter(ratelimit.New(0, models.RateBudget{
			RequestsPerMinute: cfg.Server.ClientRPM,
			Burst:             cfg.Server.ClientBurst,
		})))
	}
	return xhttp.NewServer(h, log, opts...)
}

// ProvideApp assembles the lifecycle. Nil optional components are skipped.
func ProvideApp(
	cfg *config.Config,
	log *applogger.Logger,
	httpServer *xhttp.Server,
	agg *usecase.Aggregator,
	c *cache.SnapshotCache,
	stream *finnhub.StreamAdapter,
	recorder *usecase.CandleRecorder,
	q queue.Queue,
	sched *usecase.Scheduler,
	publisher repository.ArtifactPublisher,
	kv repository.KVStore,
	ch *pkgch.Client,
	rdb *redis.Client,
) *server.App {
	app := server.New(cfg, log, httpServer)
	app.AddRunner("cache_janitor", func(ctx context.Context) {
		c.StartJanitor(ctx, cfg.Cache.JanitorInterval, agg.TTL)
	})
	if stream != nil {
		app.AddRunner("finnhub_stream", stream.Run)
	}
	if recorder != nil {
		app.AddService("candle_recorder", server.Service{
			Start: func(ctx context.Context) error { recorder.Start(ctx); return nil },
			Stop:  recorder.Stop,
		})
	}
	if q != nil {
		app.AddService("job_queue", server.Service{
			Start: func(context.Context) error { return q.Start() },
			Stop:  q.Stop,
		})
	}
	if sched != nil {
		app.AddService("scheduler", server.Service{
			Start: func(context.Context) error { return sched.Start() },
			Stop:  func(ctx context.Context) error { sched.Stop(ctx); return nil },
		})
	}
	app.AddCloser("artifact_publisher", publisher.Close)
	app.AddCloser("kv_store", kv.Close)
	if ch != nil {
		app.AddCloser("clickhouse", ch.Close)
	}
	if rdb != nil {
		app.AddCloser("redis", rdb.Close)
	}
	return app
}
