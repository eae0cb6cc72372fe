package usecase

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalFusion/internal/domain/models"
	"SignalFusion/internal/repository"
	"SignalFusion/internal/services/ensemble"
	"SignalFusion/internal/services/features"
	"SignalFusion/internal/services/risk"
	"SignalFusion/internal/services/scoring"
	"SignalFusion/pkg/config"
	applogger "SignalFusion/pkg/logger"
)

type stubSnapshots struct {
	fail map[string]bool
}

func (s stubSnapshots) GetMergedSnapshot(_ context.Context, symbol string, _ []string) (*models.MergedSnapshot, error) {
	if s.fail[symbol] {
		return nil, &models.DataUnavailableError{Symbol: symbol, Reasons: map[string]string{"stub": "down"}}
	}
	return &models.MergedSnapshot{Symbol: symbol, AsOf: testNow, Fields: map[string]models.FieldValue{
		models.FieldPrice:     {Value: 100, Source: "stub"},
		models.FieldPERatio:   {Value: 14, Source: "stub"},
		models.FieldMarketCap: {Value: 5e10, Source: "stub"},
	}}, nil
}

type recordingPublisher struct {
	mu        sync.Mutex
	forecasts []models.EnsembleForecast
	scores    []models.CompositeScore
	risks     []string
	passIDs   map[string]bool
	err       error
}

func (p *recordingPublisher) note(passID string) {
	if p.passIDs == nil {
		p.passIDs = map[string]bool{}
	}
	p.passIDs[passID] = true
}

func (p *recordingPublisher) PublishForecast(_ context.Context, passID string, f models.EnsembleForecast) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.note(passID)
	p.forecasts = append(p.forecasts, f)
	return p.err
}

func (p *recordingPublisher) PublishScore(_ context.Context, passID string, s models.CompositeScore) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.note(passID)
	p.scores = append(p.scores, s)
	return p.err
}

func (p *recordingPublisher) PublishRisk(_ context.Context, passID, symbol string, _ models.RiskReport) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.note(passID)
	p.risks = append(p.risks, symbol)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

type analysisCounter struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (c *analysisCounter) RecordFetch(string, models.QueryKind, string, float64) {}
func (c *analysisCounter) RecordCache(string)                                    {}
func (c *analysisCounter) RecordModelExcluded(string, string)                    {}
func (c *analysisCounter) RecordPublished(string)                                {}
func (c *analysisCounter) RecordLastPrice(string, float64)                       {}
func (c *analysisCounter) RecordAnalysis(outcome string, _ float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outcomes == nil {
		c.outcomes = map[string]int{}
	}
	c.outcomes[outcome]++
}

type analysisFixture struct {
	uc        *AnalysisUseCase
	store     *repository.MemoryCandleStore
	publisher *recordingPublisher
	metrics   *analysisCounter
	predictor *ensemble.Predictor
}

func newAnalysisFixture(t *testing.T, snaps stubSnapshots, opts ...AnalysisOption) *analysisFixture {
	t.Helper()
	log := applogger.Nop()
	store := repository.NewMemoryCandleStore()
	pub := &recordingPublisher{}
	counter := &analysisCounter{}
	predictor := ensemble.NewPredictor(ensemble.Config{
		Horizons:        []int{1, 7},
		Weights:         map[string]float64{ensemble.ModelRidge: 0.5, ensemble.ModelKNN: 0.3, ensemble.ModelDrift: 0.2},
		ValidationSplit: 0.2,
		RidgeLambda:     1,
		KNeighbors:      5,
	}, counter, log)
	scorer, err := scoring.NewEngine(scoring.DefaultWeights(), scoring.DefaultThresholds())
	require.NoError(t, err)
	engine := risk.NewEngine(risk.Config{MinObservations: 5, PeriodsPerYear: 252, MaxPositionSize: 0.3})
	builder := features.NewBuilder(config.Neutral{RSI: 50, Ratio: 1, PercentB: 0.5, Stochastic: 50, Williams: -50}, 30, 252, log)

	uc := NewAnalysisUseCase(snaps, store, builder, predictor, scorer, engine, pub, counter, log,
		append([]AnalysisOption{WithAnalysisClock(func() time.Time { return testNow })}, opts...)...)
	return &analysisFixture{uc: uc, store: store, publisher: pub, metrics: counter, predictor: predictor}
}

func wave(i int) float64 { return 0.01*math.Sin(float64(i)*0.3) + 0.001 }

func TestAnalyze_FullPass(t *testing.T) {
	f := newAnalysisFixture(t, stubSnapshots{})
	seedCandles(t, f.store, "AAPL", 150, wave)

	res, err := f.uc.Analyze(context.Background(), " aapl ")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", res.Symbol)
	assert.NotEmpty(t, res.PassID)
	require.Len(t, res.Forecasts, 2)
	assert.Equal(t, 1, res.Forecasts[0].HorizonDays)
	assert.Equal(t, 7, res.Forecasts[1].HorizonDays)
	assert.True(t, f.predictor.Trained(1))
	assert.True(t, f.predictor.Trained(7))
	require.NotNil(t, res.Risk)
	assert.Equal(t, 149, res.Risk.Observations)
	assert.Equal(t, "AAPL", res.Score.Symbol)

	assert.Len(t, f.publisher.forecasts, 2)
	assert.Len(t, f.publisher.scores, 1)
	assert.Equal(t, []string{"AAPL"}, f.publisher.risks)
	assert.Equal(t, map[string]bool{res.PassID: true}, f.publisher.passIDs)
	assert.Equal(t, 1, f.metrics.outcomes["ok"])
}

func TestAnalyze_NoHistoryDegrades(t *testing.T) {
	f := newAnalysisFixture(t, stubSnapshots{})

	res, err := f.uc.Analyze(context.Background(), "MSFT")
	require.NoError(t, err)
	// untrained horizons still forecast through zero drift
	require.Len(t, res.Forecasts, 2)
	for _, fc := range res.Forecasts {
		assert.Equal(t, 0.0, fc.BlendedValue)
		assert.Equal(t, map[string]float64{ensemble.ModelDrift: 1}, fc.Weights)
	}
	assert.False(t, f.predictor.Trained(1))
	assert.Nil(t, res.Risk)
	assert.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Score.SubScores, models.CategoryFundamental)
	assert.NotContains(t, res.Score.SubScores, models.CategoryTechnical)
	assert.Len(t, f.publisher.scores, 1)
}

func TestAnalyze_RiskWindow(t *testing.T) {
	f := newAnalysisFixture(t, stubSnapshots{}, WithAnalysisHistory("", 200, 60), WithAutoTrain(false))
	seedCandles(t, f.store, "AAPL", 150, wave)

	res, err := f.uc.Analyze(context.Background(), "AAPL")
	require.NoError(t, err)
	require.NotNil(t, res.Risk)
	assert.Equal(t, 60, res.Risk.Observations)
	assert.False(t, f.predictor.Trained(1))
	require.Len(t, res.Forecasts, 2)
	assert.Equal(t, []string{ensemble.ModelKNN, ensemble.ModelRidge}, res.Forecasts[0].Excluded)
}

func TestAnalyze_PublishFailureIsNotFatal(t *testing.T) {
	f := newAnalysisFixture(t, stubSnapshots{})
	f.publisher.err = errors.New("broker down")

	res, err := f.uc.Analyze(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.NotNil(t, res)
}

func TestAnalyze_Errors(t *testing.T) {
	f := newAnalysisFixture(t, stubSnapshots{fail: map[string]bool{"DOWN": true}})

	_, err := f.uc.Analyze(context.Background(), "DOWN")
	assert.ErrorIs(t, err, models.ErrDataUnavailable)
	assert.Equal(t, 1, f.metrics.outcomes["unavailable"])

	_, err = f.uc.Analyze(context.Background(), "bad symbol!")
	assert.ErrorIs(t, err, models.ErrInvalidSymbol)
}

func TestAnalyzeBatch(t *testing.T) {
	f := newAnalysisFixture(t, stubSnapshots{fail: map[string]bool{"DOWN": true}}, WithWorkers(2, time.Minute))
	for _, s := range []string{"AAPL", "MSFT", "NVDA"} {
		seedCandles(t, f.store, s, 80, wave)
	}

	batch, err := f.uc.AnalyzeBatch(context.Background(), []string{"nvda", "AAPL", "DOWN", "MSFT", "aapl"})
	require.NoError(t, err)
	require.Len(t, batch.Results, 3)
	assert.Equal(t, "NVDA", batch.Results[0].Symbol)
	assert.Equal(t, "AAPL", batch.Results[1].Symbol)
	assert.Equal(t, "MSFT", batch.Results[2].Symbol)
	for _, r := range batch.Results {
		assert.Equal(t, batch.PassID, r.PassID)
	}
	assert.Contains(t, batch.Errors, "DOWN")
	assert.Equal(t, testNow, batch.Timestamp)
	assert.Equal(t, map[string]bool{batch.PassID: true}, f.publisher.passIDs)
}

func phased(phase float64) func(int) float64 {
	return func(i int) float64 { return 0.01*math.Sin(float64(i)*0.3+phase) + 0.001 }
}

func TestAnalyzeBatch_AutoTrainIsDeterministic(t *testing.T) {
	symbols := []string{"AAPL", "MSFT", "NVDA", "AMZN", "GOOG", "META"}
	run := func() map[string][]float64 {
		f := newAnalysisFixture(t, stubSnapshots{}, WithWorkers(len(symbols), time.Minute))
		for i, s := range symbols {
			seedCandles(t, f.store, s, 120, phased(float64(i)))
		}
		batch, err := f.uc.AnalyzeBatch(context.Background(), symbols)
		require.NoError(t, err)
		require.Len(t, batch.Results, len(symbols))
		out := map[string][]float64{}
		for _, r := range batch.Results {
			for _, fc := range r.Forecasts {
				out[r.Symbol] = append(out[r.Symbol], fc.BlendedValue)
			}
		}
		return out
	}

	first := run()
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, run())
	}

	// the batch trains from the first symbol in request order
	f := newAnalysisFixture(t, stubSnapshots{})
	for i, s := range symbols {
		seedCandles(t, f.store, s, 120, phased(float64(i)))
	}
	_, err := f.uc.Train(context.Background(), "AAPL", 0)
	require.NoError(t, err)
	for _, s := range symbols {
		res, err := f.uc.Analyze(context.Background(), s)
		require.NoError(t, err)
		var got []float64
		for _, fc := range res.Forecasts {
			got = append(got, fc.BlendedValue)
		}
		assert.Equal(t, first[s], got, s)
	}
}

func TestAnalyzeBatch_AllFail(t *testing.T) {
	f := newAnalysisFixture(t, stubSnapshots{fail: map[string]bool{"A": true, "B": true}})

	batch, err := f.uc.AnalyzeBatch(context.Background(), []string{"A", "B"})
	assert.ErrorIs(t, err, models.ErrDataUnavailable)
	require.NotNil(t, batch)
	assert.Len(t, batch.Errors, 2)
	assert.Empty(t, batch.Results)
}

func TestTrain(t *testing.T) {
	f := newAnalysisFixture(t, stubSnapshots{})
	seedCandles(t, f.store, "AAPL", 120, wave)

	out, err := f.uc.Train(context.Background(), "aapl", 0)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", out.Symbol)
	assert.Equal(t, 120, out.Candles)
	require.Len(t, out.Reports, 2)
	assert.Equal(t, 1, out.Reports[0].HorizonDays)
	assert.Nil(t, out.Errors)

	seedCandles(t, f.store, "TINY", 10, wave)
	out, err = f.uc.Train(context.Background(), "TINY", 0)
	assert.ErrorIs(t, err, models.ErrInsufficientHistory)
	assert.Len(t, out.Errors, 2)
}
