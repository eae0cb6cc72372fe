package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalFusion/internal/domain/models"
	drepo "SignalFusion/internal/domain/repository"
	"SignalFusion/internal/service/cache"
	"SignalFusion/internal/usecase"
	applogger "SignalFusion/pkg/logger"
)

type fakeSnapshots struct {
	sources []string
	err     error
}

func (f *fakeSnapshots) GetMergedSnapshot(_ context.Context, symbol string, sources []string) (*models.MergedSnapshot, error) {
	f.sources = sources
	if f.err != nil {
		return nil, f.err
	}
	return &models.MergedSnapshot{Symbol: strings.ToUpper(symbol)}, nil
}

type fakeAnalysis struct {
	err    error
	trainN int
}

func (f *fakeAnalysis) Analyze(_ context.Context, symbol string) (*models.SymbolAnalysis, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.SymbolAnalysis{Symbol: symbol, PassID: "p1"}, nil
}

func (f *fakeAnalysis) AnalyzeBatch(_ context.Context, symbols []string) (*models.BatchAnalysis, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := &models.BatchAnalysis{PassID: "p2"}
	for _, s := range symbols {
		out.Results = append(out.Results, models.SymbolAnalysis{Symbol: s})
	}
	return out, nil
}

func (f *fakeAnalysis) Train(_ context.Context, symbol string, n int) (*models.TrainResult, error) {
	f.trainN = n
	return &models.TrainResult{Symbol: symbol, Candles: n}, f.err
}

type fakeRisk struct {
	bounds []models.Bounds
}

func (f *fakeRisk) ComputeRisk(returns []float64, _ []float64) (models.RiskReport, error) {
	return models.RiskReport{Observations: len(returns)}, nil
}

func (f *fakeRisk) OptimizePortfolio(names []string, _ []float64, _ [][]float64, bounds []models.Bounds) (models.Allocation, error) {
	f.bounds = bounds
	w := map[string]float64{}
	for _, n := range names {
		w[n] = 1 / float64(len(names))
	}
	return models.Allocation{Weights: w}, nil
}

type fakePortfolios struct {
	err       error
	removeQty decimal.Decimal
}

func (f *fakePortfolios) Create(_ context.Context, name string) (*models.Portfolio, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.Portfolio{Name: name}, nil
}

func (f *fakePortfolios) Get(_ context.Context, name string) (*models.Portfolio, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.Portfolio{Name: name}, nil
}

func (f *fakePortfolios) AddPosition(_ context.Context, name, _ string, _, _ decimal.Decimal) (*models.Portfolio, error) {
	return &models.Portfolio{Name: name}, f.err
}

func (f *fakePortfolios) RemovePosition(_ context.Context, name, _ string, qty decimal.Decimal) (*models.Portfolio, error) {
	f.removeQty = qty
	if f.err != nil {
		return nil, f.err
	}
	return &models.Portfolio{Name: name}, nil
}

func (f *fakePortfolios) Value(context.Context, string) (*models.PortfolioValuation, error) {
	return &models.PortfolioValuation{}, f.err
}

func (f *fakePortfolios) Risk(context.Context, string) (*models.PortfolioRisk, error) {
	return &models.PortfolioRisk{}, f.err
}

func (f *fakePortfolios) SizePosition(_ context.Context, _, symbol string) (*models.PositionSizing, error) {
	return &models.PositionSizing{Symbol: symbol, Recommended: 10}, f.err
}

type fakeHistory struct {
	params   usecase.GetHistoryParams
	importTF drepo.Timeframe
}

func (f *fakeHistory) GetHistory(_ context.Context, p usecase.GetHistoryParams) (*usecase.HistoryResult, error) {
	f.params = p
	return &usecase.HistoryResult{Symbol: p.Symbol}, nil
}

func (f *fakeHistory) Import(_ context.Context, _ string, tf drepo.Timeframe, candles []models.Candle) (int, error) {
	f.importTF = tf
	return len(candles), nil
}

type fakeCache struct{ cleared *string }

func (f *fakeCache) Stats() cache.Stats { return cache.Stats{Hits: 3, Misses: 1} }

func (f *fakeCache) Clear(_ context.Context, source string) error {
	f.cleared = &source
	return nil
}

type fakeJobs struct {
	jobs map[string]*models.AnalysisJob
}

func (f *fakeJobs) Submit(_ context.Context, symbols []string) (*models.AnalysisJob, error) {
	j := &models.AnalysisJob{ID: "0b7c1f38-4a2e-4c5e-9a51-2f1f4b7d9e10", Status: models.JobQueued, Symbols: symbols}
	f.jobs[j.ID] = j
	return j, nil
}

func (f *fakeJobs) Get(_ context.Context, id string) (*models.AnalysisJob, error) {
	if j, ok := f.jobs[id]; ok {
		return j, nil
	}
	return nil, fmt.Errorf("job %s: %w", id, models.ErrNotFound)
}

type fakeAlerts struct {
	created   []models.Alert
	symbol    string
	triggered *bool
}

func (f *fakeAlerts) Create(_ context.Context, symbol string, typ models.AlertType, cond models.AlertCondition, threshold float64) (*models.Alert, error) {
	if _, err := models.NormalizeSymbol(symbol); err != nil {
		return nil, err
	}
	a := models.Alert{ID: fmt.Sprintf("a%d", len(f.created)+1), Symbol: symbol, Type: typ, Condition: cond, Threshold: threshold}
	f.created = append(f.created, a)
	return &a, nil
}

func (f *fakeAlerts) List(_ context.Context, symbol string, triggered *bool) ([]models.Alert, error) {
	f.symbol, f.triggered = symbol, triggered
	return f.created, nil
}

type fakeScheduler struct{ last *models.BatchAnalysis }

func (f *fakeScheduler) Last() *models.BatchAnalysis { return f.last }

type fixture struct {
	e          *echo.Echo
	snapshots  *fakeSnapshots
	analysis   *fakeAnalysis
	risk       *fakeRisk
	portfolios *fakePortfolios
	history    *fakeHistory
	cache      *fakeCache
	alerts     *fakeAlerts
	scheduler  *fakeScheduler
}

func newFixture() *fixture {
	f := &fixture{
		e:          echo.New(),
		snapshots:  &fakeSnapshots{},
		analysis:   &fakeAnalysis{},
		risk:       &fakeRisk{},
		portfolios: &fakePortfolios{},
		history:    &fakeHistory{},
		cache:      &fakeCache{},
		alerts:     &fakeAlerts{},
		scheduler:  &fakeScheduler{},
	}
	h := NewHandler(applogger.Nop(), f.snapshots, f.analysis, f.risk, f.portfolios, f.history, f.cache,
		WithJobs(&fakeJobs{jobs: map[string]*models.AnalysisJob{}}),
		WithAlerts(f.alerts),
		WithScheduler(f.scheduler))
	h.RegisterRoutes(f.e)
	return f
}

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func (f *fixture) do(t *testing.T, method, target, body string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec.Code, env
}

func errCode(t *testing.T, env envelope) string {
	t.Helper()
	var errs []struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &errs))
	require.NotEmpty(t, errs)
	return errs[0].Code
}

func TestSnapshot(t *testing.T) {
	f := newFixture()

	code, env := f.do(t, http.MethodGet, "/api/snapshot/aapl?sources=finnhub,%20polygon", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"finnhub", "polygon"}, f.snapshots.sources)
	var snap models.MergedSnapshot
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	assert.Equal(t, "AAPL", snap.Symbol)

	f.snapshots.err = fmt.Errorf("normalize: %w", models.ErrInvalidSymbol)
	code, env = f.do(t, http.MethodGet, "/api/snapshot/$$", "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "ERR_INVALID_SYMBOL", errCode(t, env))
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{models.ErrDataUnavailable, http.StatusServiceUnavailable},
		{models.ErrNoModelsAvailable, http.StatusServiceUnavailable},
		{models.ErrRateLimited, http.StatusTooManyRequests},
		{models.ErrInsufficientHistory, http.StatusUnprocessableEntity},
		{models.ErrUnsupportedKind, http.StatusBadRequest},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			f := newFixture()
			f.analysis.err = fmt.Errorf("analyze: %w", tc.err)
			code, _ := f.do(t, http.MethodGet, "/api/analysis/AAPL", "")
			assert.Equal(t, tc.want, code)
		})
	}
}

func TestAnalyzeBatch(t *testing.T) {
	f := newFixture()

	code, _ := f.do(t, http.MethodPost, "/api/analysis/batch", `{"symbols":[]}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env := f.do(t, http.MethodPost, "/api/analysis/batch", `{"symbols":["AAPL","MSFT"]}`)
	assert.Equal(t, http.StatusOK, code)
	var batch models.BatchAnalysis
	require.NoError(t, json.Unmarshal(env.Data, &batch))
	assert.Len(t, batch.Results, 2)
}

func TestTrain(t *testing.T) {
	f := newFixture()

	code, _ := f.do(t, http.MethodPost, "/api/models/train/AAPL", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 750, f.analysis.trainN)

	code, _ = f.do(t, http.MethodPost, "/api/models/train/AAPL", `{"n":300}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 300, f.analysis.trainN)

	code, _ = f.do(t, http.MethodPost, "/api/models/train/AAPL", `{"n":10}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestHistory(t *testing.T) {
	f := newFixture()

	code, _ := f.do(t, http.MethodGet, "/api/history/AAPL?n=20&tf=1h", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 20, f.history.params.Limit)
	assert.Equal(t, drepo.TF1h, f.history.params.Timeframe)
	assert.True(t, f.history.params.From.IsZero())

	code, _ = f.do(t, http.MethodGet, "/api/history/AAPL?from=2024-01-01&to=2024-02-01", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), f.history.params.From)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), f.history.params.To)

	code, env := f.do(t, http.MethodGet, "/api/history/AAPL?from=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "ERR_INVALID_TIME", errCode(t, env))

	code, _ = f.do(t, http.MethodGet, "/api/history/AAPL?tf=5m", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestImportHistory(t *testing.T) {
	f := newFixture()
	body := `{"timeframe":"1d","candles":[{"t":"2024-01-02T00:00:00Z","o":1,"h":2,"l":1,"c":2,"v":10}]}`

	code, env := f.do(t, http.MethodPut, "/api/history/AAPL", body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, drepo.TF1d, f.history.importTF)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, 1.0, out["imported"])

	code, _ = f.do(t, http.MethodPut, "/api/history/AAPL", `{"candles":[]}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRiskAndOptimize(t *testing.T) {
	f := newFixture()

	code, _ := f.do(t, http.MethodPost, "/api/risk", `{"returns":[0.01,-0.02,0.005]}`)
	assert.Equal(t, http.StatusOK, code)

	code, _ = f.do(t, http.MethodPost, "/api/optimize",
		`{"symbols":["A","B"],"expected_returns":[0.1,0.05],"covariance":[[0.04,0],[0,0.02]]}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Nil(t, f.risk.bounds)

	code, _ = f.do(t, http.MethodPost, "/api/optimize",
		`{"symbols":["A","B"],"expected_returns":[0.1,0.05],"covariance":[[0.04,0],[0,0.02]],"upper":[0.6,0.7]}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []models.Bounds{{Lower: 0, Upper: 0.6}, {Lower: 0, Upper: 0.7}}, f.risk.bounds)

	code, _ = f.do(t, http.MethodPost, "/api/optimize",
		`{"symbols":["A","B"],"expected_returns":[0.1,0.05],"covariance":[[0.04,0],[0,0.02]],"lower":[0.1]}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestPortfolioRoutes(t *testing.T) {
	f := newFixture()

	code, _ := f.do(t, http.MethodPost, "/api/portfolios", `{"name":"core"}`)
	assert.Equal(t, http.StatusCreated, code)

	code, _ = f.do(t, http.MethodPost, "/api/portfolios/core/positions", `{"symbol":"AAPL","quantity":0,"price":10}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodPost, "/api/portfolios/core/positions", `{"symbol":"AAPL","quantity":5,"price":10}`)
	assert.Equal(t, http.StatusOK, code)

	code, _ = f.do(t, http.MethodDelete, "/api/portfolios/core/positions/AAPL?quantity=2.5", "")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, decimal.NewFromFloat(2.5).Equal(f.portfolios.removeQty))

	code, env := f.do(t, http.MethodGet, "/api/portfolios/core/size/AAPL", "")
	assert.Equal(t, http.StatusOK, code)
	var sizing models.PositionSizing
	require.NoError(t, json.Unmarshal(env.Data, &sizing))
	assert.Equal(t, 10.0, sizing.Recommended)

	f.portfolios.err = models.ErrPortfolioExists
	code, env = f.do(t, http.MethodPost, "/api/portfolios", `{"name":"core"}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "ERR_PORTFOLIO_EXISTS", errCode(t, env))

	f.portfolios.err = fmt.Errorf("load: %w", models.ErrPortfolioNotFound)
	code, _ = f.do(t, http.MethodGet, "/api/portfolios/ghost/value", "")
	assert.Equal(t, http.StatusNotFound, code)

	f.portfolios.err = models.ErrInsufficientQuantity
	code, _ = f.do(t, http.MethodDelete, "/api/portfolios/core/positions/AAPL?quantity=99", "")
	assert.Equal(t, http.StatusUnprocessableEntity, code)
}

func TestCacheRoutes(t *testing.T) {
	f := newFixture()

	code, env := f.do(t, http.MethodGet, "/api/cache/stats", "")
	assert.Equal(t, http.StatusOK, code)
	var st cache.Stats
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Equal(t, int64(3), st.Hits)

	code, _ = f.do(t, http.MethodDelete, "/api/cache?source=polygon", "")
	assert.Equal(t, http.StatusNoContent, code)
	require.NotNil(t, f.cache.cleared)
	assert.Equal(t, "polygon", *f.cache.cleared)
}

func TestJobsAndScheduler(t *testing.T) {
	f := newFixture()

	code, env := f.do(t, http.MethodPost, "/api/analysis/jobs", `{"symbols":["AAPL"]}`)
	assert.Equal(t, http.StatusAccepted, code)
	var job models.AnalysisJob
	require.NoError(t, json.Unmarshal(env.Data, &job))
	assert.Equal(t, models.JobQueued, job.Status)

	code, _ = f.do(t, http.MethodGet, "/api/analysis/jobs/"+job.ID, "")
	assert.Equal(t, http.StatusOK, code)

	code, _ = f.do(t, http.MethodGet, "/api/analysis/jobs/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodGet, "/api/analysis/jobs/6f1d2a7c-1111-4a2b-8c3d-123456789abc", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = f.do(t, http.MethodGet, "/api/scheduler/last", "")
	assert.Equal(t, http.StatusNotFound, code)

	f.scheduler.last = &models.BatchAnalysis{PassID: "p9"}
	code, _ = f.do(t, http.MethodGet, "/api/scheduler/last", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestAlertRoutes(t *testing.T) {
	f := newFixture()

	code, env := f.do(t, http.MethodPost, "/api/alerts", `{"symbol":"AAPL","type":"market_cap","condition":"equals","threshold":2e12}`)
	assert.Equal(t, http.StatusCreated, code)
	var a models.Alert
	require.NoError(t, json.Unmarshal(env.Data, &a))
	assert.Equal(t, models.AlertMarketCap, a.Type)
	assert.Equal(t, models.AlertEquals, a.Condition)
	assert.Equal(t, 2e12, a.Threshold)

	code, _ = f.do(t, http.MethodPost, "/api/alerts", `{"symbol":"AAPL","type":"dividend","condition":"above","threshold":1}`)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = f.do(t, http.MethodPost, "/api/alerts", `{"symbol":"AAPL","type":"price","condition":"above","threshold":0}`)
	assert.Equal(t, http.StatusBadRequest, code)
	code, env = f.do(t, http.MethodPost, "/api/alerts", `{"symbol":"$$","type":"price","condition":"above","threshold":1}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "ERR_INVALID_SYMBOL", errCode(t, env))

	code, env = f.do(t, http.MethodGet, "/api/alerts?symbol=aapl&triggered=false", "")
	assert.Equal(t, http.StatusOK, code)
	var list []models.Alert
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Len(t, list, 1)
	assert.Equal(t, "aapl", f.alerts.symbol)
	require.NotNil(t, f.alerts.triggered)
	assert.False(t, *f.alerts.triggered)

	code, _ = f.do(t, http.MethodGet, "/api/alerts", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Nil(t, f.alerts.triggered)

	code, _ = f.do(t, http.MethodGet, "/api/alerts?triggered=maybe", "")
	assert.Equal(t, http.StatusBadRequest, code)
}
