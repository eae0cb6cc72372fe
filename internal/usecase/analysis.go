package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"SignalFusion/internal/domain/models"
	drepo "SignalFusion/internal/domain/repository"
	"SignalFusion/internal/services/ensemble"
	"SignalFusion/internal/services/features"
	"SignalFusion/internal/services/risk"
	"SignalFusion/internal/services/scoring"
	applogger "SignalFusion/pkg/logger"
)

// SnapshotProvider returns the merged view of one symbol. The Aggregator
// satisfies it.
type SnapshotProvider interface {
	GetMergedSnapshot(ctx context.Context, symbol string, sources []string) (*models.MergedSnapshot, error)
}

// AnalysisUseCase runs the per-symbol pipeline: snapshot, features,
// forecasts, score, risk, publish.
type AnalysisUseCase struct {
	snapshots SnapshotProvider
	candles   drepo.CandleStore
	builder   *features.Builder
	predictor *ensemble.Predictor
	scorer    *scoring.Engine
	risk      *risk.Engine
	publisher drepo.ArtifactPublisher
	metrics   drepo.Metrics
	log       *applogger.Logger

	tf          drepo.Timeframe
	historyBars int
	riskBars    int
	workers     int
	timeout     time.Duration
	autoTrain   bool
	now         func() time.Time

	// trainMu serializes auto training so one fit wins per horizon.
	trainMu sync.Mutex
}

type AnalysisOption func(*AnalysisUseCase)

// WithAnalysisHistory sets the timeframe, the lookback for features and
// training, and the lookback for per-symbol risk.
func WithAnalysisHistory(tf drepo.Timeframe, historyBars, riskBars int) AnalysisOption {
	return func(a *AnalysisUseCase) {
		if drepo.IsValidTimeframe(tf) {
			a.tf = tf
		}
		if historyBars > 0 {
			a.historyBars = historyBars
		}
		if riskBars >= 2 {
			a.riskBars = riskBars
		}
	}
}

// WithWorkers bounds batch parallelism and sets the batch deadline.
func WithWorkers(n int, timeout time.Duration) AnalysisOption {
	return func(a *AnalysisUseCase) {
		if n > 0 {
			a.workers = n
		}
		a.timeout = timeout
	}
}

// WithAutoTrain trains an untrained horizon from the analyzed symbol's
// history before predicting.
func WithAutoTrain(on bool) AnalysisOption {
	return func(a *AnalysisUseCase) { a.autoTrain = on }
}

// WithAnalysisClock overrides time.Now.
func WithAnalysisClock(now func() time.Time) AnalysisOption {
	return func(a *AnalysisUseCase) { a.now = now }
}

func NewAnalysisUseCase(
	snapshots SnapshotProvider,
	candles drepo.CandleStore,
	builder *features.Builder,
	predictor *ensemble.Predictor,
	scorer *scoring.Engine,
	engine *risk.Engine,
	publisher drepo.ArtifactPublisher,
	metrics drepo.Metrics,
	log *applogger.Logger,
	opts ...AnalysisOption,
) *AnalysisUseCase {
	a := &AnalysisUseCase{
		snapshots:   snapshots,
		candles:     candles,
		builder:     builder,
		predictor:   predictor,
		scorer:      scorer,
		risk:        engine,
		publisher:   publisher,
		metrics:     metrics,
		log:         log,
		tf:          drepo.DefaultTimeframe(),
		historyBars: 750,
		riskBars:    252,
		workers:     4,
		autoTrain:   true,
		now:         time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Analyze runs one pass for a single symbol.
func (a *AnalysisUseCase) Analyze(ctx context.Context, symbol string) (*models.SymbolAnalysis, error) {
	start := time.Now()
	res, err := a.analyze(ctx, uuid.NewString(), symbol)
	a.record(err, start)
	return res, err
}

// AnalyzeBatch analyzes symbols in parallel. A failing symbol is recorded
// and skipped; the batch fails only when every symbol fails.
func (a *AnalysisUseCase) AnalyzeBatch(ctx context.Context, symbols []string) (*models.BatchAnalysis, error) {
	passID := uuid.NewString()
	batch := &models.BatchAnalysis{PassID: passID, Timestamp: a.now().UTC(), Errors: map[string]string{}}

	var list []string
	seen := map[string]bool{}
	for _, raw := range symbols {
		s, err := models.NormalizeSymbol(raw)
		if err != nil {
			batch.Errors[raw] = err.Error()
			continue
		}
		if !seen[s] {
			seen[s] = true
			list = append(list, s)
		}
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	start := time.Now()
	if a.autoTrain {
		a.warmUp(ctx, list)
	}
	results := make([]*models.SymbolAnalysis, len(list))
	errs := make([]error, len(list))
	var g errgroup.Group
	g.SetLimit(a.workers)
	for i, s := range list {
		i, s := i, s
		g.Go(func() error {
			t0 := time.Now()
			results[i], errs[i] = a.analyze(ctx, passID, s)
			a.record(errs[i], t0)
			return nil
		})
	}
	_ = g.Wait()

	for i, s := range list {
		if errs[i] != nil {
			batch.Errors[s] = errs[i].Error()
			continue
		}
		batch.Results = append(batch.Results, *results[i])
	}
	if len(batch.Errors) == 0 {
		batch.Errors = nil
	}

	a.log.Info("analysis.batch done",
		applogger.String("pass_id", passID),
		applogger.Int("symbols", len(list)),
		applogger.Int("ok", len(batch.Results)),
		applogger.Int("failed", len(batch.Errors)),
		applogger.Duration("duration", time.Since(start)))

	if len(batch.Results) == 0 && len(symbols) > 0 {
		return batch, fmt.Errorf("all %d symbols failed: %w", len(symbols), models.ErrDataUnavailable)
	}
	return batch, nil
}

func (a *AnalysisUseCase) record(err error, start time.Time) {
	if a.metrics == nil {
		return
	}
	outcome := "ok"
	switch {
	case errors.Is(err, models.ErrDataUnavailable):
		outcome = "unavailable"
	case err != nil:
		outcome = "error"
	}
	a.metrics.RecordAnalysis(outcome, time.Since(start).Seconds())
}

func (a *AnalysisUseCase) analyze(ctx context.Context, passID, symbol string) (*models.SymbolAnalysis, error) {
	symbol, err := models.NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	log := a.log.With(applogger.String("pass_id", passID), applogger.String("symbol", symbol))

	snap, err := a.snapshots.GetMergedSnapshot(ctx, symbol, nil)
	if err != nil {
		log.Warn("analysis.snapshot failed", applogger.Error(err))
		return nil, err
	}
	res := &models.SymbolAnalysis{PassID: passID, Symbol: symbol, Snapshot: snap}
	warn := func(format string, args ...interface{}) {
		res.Warnings = append(res.Warnings, fmt.Sprintf(format, args...))
	}

	series, err := a.candles.GetLatestNCandles(ctx, symbol, a.historyBars, a.tf)
	if err != nil {
		log.Warn("analysis.history failed", applogger.Error(err))
		warn("history unavailable: %v", err)
		series = nil
	}

	fv := a.builder.Build(symbol, series, snap)
	if len(fv.Degraded) > 0 {
		warn("%d of %d features degraded to neutral values", len(fv.Degraded), fv.Len())
	}

	for _, h := range a.predictor.Horizons() {
		if a.autoTrain {
			if err := a.ensureTrained(series, h); err != nil {
				log.Debug("analysis.auto train skipped", applogger.Int("horizon", h), applogger.Error(err))
			}
		}
		f, err := a.predictor.Predict(ctx, symbol, h, fv)
		if err != nil {
			warn("forecast %dd: %v", h, err)
			continue
		}
		res.Forecasts = append(res.Forecasts, f)
	}

	res.Score = a.scorer.Evaluate(symbol, snap, series)

	riskSeries := series
	if len(riskSeries) > a.riskBars+1 {
		riskSeries = riskSeries[len(riskSeries)-a.riskBars-1:]
	}
	if rep, err := a.risk.ComputeRisk(models.SimpleReturns(riskSeries), nil); err != nil {
		warn("risk: %v", err)
	} else {
		res.Risk = &rep
	}

	a.publish(ctx, log, res)
	log.Debug("analysis.done",
		applogger.Int("forecasts", len(res.Forecasts)),
		applogger.String("recommendation", string(res.Score.Recommendation)),
		applogger.Int("warnings", len(res.Warnings)))
	return res, nil
}

// publish failures are logged and never fail the analysis.
func (a *AnalysisUseCase) publish(ctx context.Context, log *applogger.Logger, res *models.SymbolAnalysis) {
	if a.publisher == nil {
		return
	}
	for _, f := range res.Forecasts {
		if err := a.publisher.PublishForecast(ctx, res.PassID, f); err != nil {
			log.Warn("analysis.publish failed", applogger.String("artifact", "forecast"), applogger.Error(err))
		}
	}
	if err := a.publisher.PublishScore(ctx, res.PassID, res.Score); err != nil {
		log.Warn("analysis.publish failed", applogger.String("artifact", "score"), applogger.Error(err))
	}
	if res.Risk != nil {
		if err := a.publisher.PublishRisk(ctx, res.PassID, res.Symbol, *res.Risk); err != nil {
			log.Warn("analysis.publish failed", applogger.String("artifact", "risk"), applogger.Error(err))
		}
	}
}

// ensureTrained fits horizon h from series unless it is already trained.
func (a *AnalysisUseCase) ensureTrained(series []models.Candle, h int) error {
	if a.predictor.Trained(h) {
		return nil
	}
	a.trainMu.Lock()
	defer a.trainMu.Unlock()
	if a.predictor.Trained(h) {
		return nil
	}
	_, err := a.trainHorizon(series, h)
	return err
}

// warmUp trains untrained horizons from the batch symbols in request order,
// so a parallel batch does not depend on which worker trains first.
func (a *AnalysisUseCase) warmUp(ctx context.Context, symbols []string) {
	for _, s := range symbols {
		var pending []int
		for _, h := range a.predictor.Horizons() {
			if !a.predictor.Trained(h) {
				pending = append(pending, h)
			}
		}
		if len(pending) == 0 || ctx.Err() != nil {
			return
		}
		series, err := a.candles.GetLatestNCandles(ctx, s, a.historyBars, a.tf)
		if err != nil {
			continue
		}
		for _, h := range pending {
			if err := a.ensureTrained(series, h); err == nil {
				a.log.Debug("analysis.warm up trained", applogger.String("symbol", s), applogger.Int("horizon", h))
			}
		}
	}
}

func (a *AnalysisUseCase) trainHorizon(series []models.Candle, h int) (models.TrainingReport, error) {
	X, y, err := a.builder.TrainingSet(series, h)
	if err != nil {
		return models.TrainingReport{}, err
	}
	return a.predictor.Train(h, X, y)
}

// Train fits every horizon on the last n stored candles of symbol.
func (a *AnalysisUseCase) Train(ctx context.Context, symbol string, n int) (*models.TrainResult, error) {
	symbol, err := models.NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		n = a.historyBars
	}
	series, err := a.candles.GetLatestNCandles(ctx, symbol, n, a.tf)
	if err != nil {
		return nil, fmt.Errorf("history for %s: %w", symbol, err)
	}
	out := &models.TrainResult{Symbol: symbol, Candles: len(series), Errors: map[string]string{}}
	var firstErr error
	for _, h := range a.predictor.Horizons() {
		rep, err := a.trainHorizon(series, h)
		if err != nil {
			out.Errors[strconv.Itoa(h)+"d"] = err.Error()
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		out.Reports = append(out.Reports, rep)
	}
	if len(out.Errors) == 0 {
		out.Errors = nil
	}
	a.log.Info("analysis.trained",
		applogger.String("symbol", symbol),
		applogger.Int("candles", len(series)),
		applogger.Int("horizons", len(out.Reports)))
	if len(out.Reports) == 0 {
		return out, fmt.Errorf("train %s: %w", symbol, firstErr)
	}
	return out, nil
}
