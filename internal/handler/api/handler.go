package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"SignalFusion/internal/domain/models"
	drepo "SignalFusion/internal/domain/repository"
	"SignalFusion/internal/service/cache"
	"SignalFusion/internal/usecase"
	xhttp "SignalFusion/pkg/http"
	xlogger "SignalFusion/pkg/logger"
)

type SnapshotService interface {
	GetMergedSnapshot(ctx context.Context, symbol string, sources []string) (*models.MergedSnapshot, error)
}

type AnalysisService interface {
	Analyze(ctx context.Context, symbol string) (*models.SymbolAnalysis, error)
	AnalyzeBatch(ctx context.Context, symbols []string) (*models.BatchAnalysis, error)
	Train(ctx context.Context, symbol string, n int) (*models.TrainResult, error)
}

type RiskService interface {
	ComputeRisk(returns []float64, levels []float64) (models.RiskReport, error)
	OptimizePortfolio(names []string, expected []float64, cov [][]float64, bounds []models.Bounds) (models.Allocation, error)
}

type PortfolioService interface {
	Create(ctx context.Context, name string) (*models.Portfolio, error)
	Get(ctx context.Context, name string) (*models.Portfolio, error)
	AddPosition(ctx context.Context, name, symbol string, qty, price decimal.Decimal) (*models.Portfolio, error)
	RemovePosition(ctx context.Context, name, symbol string, qty decimal.Decimal) (*models.Portfolio, error)
	Value(ctx context.Context, name string) (*models.PortfolioValuation, error)
	Risk(ctx context.Context, name string) (*models.PortfolioRisk, error)
	SizePosition(ctx context.Context, name, symbol string) (*models.PositionSizing, error)
}

type HistoryService interface {
	GetHistory(ctx context.Context, p usecase.GetHistoryParams) (*usecase.HistoryResult, error)
	Import(ctx context.Context, symbol string, tf drepo.Timeframe, candles []models.Candle) (int, error)
}

type CacheAdmin interface {
	Stats() cache.Stats
	Clear(ctx context.Context, source string) error
}

type JobService interface {
	Submit(ctx context.Context, symbols []string) (*models.AnalysisJob, error)
	Get(ctx context.Context, id string) (*models.AnalysisJob, error)
}

type AlertService interface {
	Create(ctx context.Context, symbol string, typ models.AlertType, cond models.AlertCondition, threshold float64) (*models.Alert, error)
	List(ctx context.Context, symbol string, triggered *bool) ([]models.Alert, error)
}

type ScheduleReporter interface {
	Last() *models.BatchAnalysis
}

// Handler serves the /api routes.
type Handler struct {
	logger     *xlogger.Logger
	snapshots  SnapshotService
	analysis   AnalysisService
	risk       RiskService
	portfolios PortfolioService
	history    HistoryService
	cache      CacheAdmin
	jobs       JobService
	alerts     AlertService
	scheduler  ScheduleReporter
}

var _ xhttp.Handler = (*Handler)(nil)

type Option func(*Handler)

// WithJobs enables the asynchronous batch routes.
func WithJobs(j JobService) Option { return func(h *Handler) { h.jobs = j } }

// WithAlerts enables the alert routes.
func WithAlerts(a AlertService) Option { return func(h *Handler) { h.alerts = a } }

// WithScheduler exposes the last scheduled pass.
func WithScheduler(s ScheduleReporter) Option { return func(h *Handler) { h.scheduler = s } }

func NewHandler(
	logger *xlogger.Logger,
	snapshots SnapshotService,
	analysis AnalysisService,
	risk RiskService,
	portfolios PortfolioService,
	history HistoryService,
	cacheAdmin CacheAdmin,
	opts ...Option,
) *Handler {
	h := &Handler{
		logger:     logger,
		snapshots:  snapshots,
		analysis:   analysis,
		risk:       risk,
		portfolios: portfolios,
		history:    history,
		cache:      cacheAdmin,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")

	g.GET("/snapshot/:symbol", h.Snapshot)
	g.GET("/analysis/:symbol", h.Analyze)
	g.POST("/analysis/batch", h.AnalyzeBatch)
	if h.jobs != nil {
		g.POST("/analysis/jobs", h.SubmitJob)
		g.GET("/analysis/jobs/:id", h.GetJob)
	}
	if h.scheduler != nil {
		g.GET("/scheduler/last", h.LastScheduled)
	}
	g.POST("/models/train/:symbol", h.Train)

	g.GET("/history/:symbol", h.GetHistory)
	g.PUT("/history/:symbol", h.ImportHistory)

	g.POST("/risk", h.Risk)
	g.POST("/optimize", h.Optimize)

	g.POST("/portfolios", h.CreatePortfolio)
	g.GET("/portfolios/:name", h.GetPortfolio)
	g.POST("/portfolios/:name/positions", h.AddPosition)
	g.DELETE("/portfolios/:name/positions/:symbol", h.RemovePosition)
	g.GET("/portfolios/:name/value", h.PortfolioValue)
	g.GET("/portfolios/:name/risk", h.PortfolioRisk)
	g.GET("/portfolios/:name/size/:symbol", h.SizePosition)

	if h.alerts != nil {
		g.POST("/alerts", h.CreateAlert)
		g.GET("/alerts", h.ListAlerts)
	}

	g.GET("/cache/stats", h.CacheStats)
	g.DELETE("/cache", h.ClearCache)
}

// errorResponse maps domain errors onto HTTP statuses.
func (h *Handler) errorResponse(c echo.Context, op string, err error) error {
	var appErr *xhttp.AppError
	switch {
	case errors.As(err, &appErr):
	case errors.Is(err, models.ErrInvalidSymbol):
		appErr = xhttp.NewAppError("ERR_INVALID_SYMBOL", "symbol", "invalid symbol", http.StatusBadRequest)
	case errors.Is(err, models.ErrInvalidInput), errors.Is(err, models.ErrUnsupportedKind):
		appErr = xhttp.BadRequestError(err.Error())
	case errors.Is(err, models.ErrPortfolioNotFound):
		appErr = xhttp.NewAppError("ERR_PORTFOLIO_NOT_FOUND", "name", "portfolio not found", http.StatusNotFound)
	case errors.Is(err, models.ErrNotFound):
		appErr = xhttp.NotFoundError(err.Error())
	case errors.Is(err, models.ErrPortfolioExists):
		appErr = xhttp.NewAppError("ERR_PORTFOLIO_EXISTS", "name", "portfolio already exists", http.StatusConflict)
	case errors.Is(err, models.ErrInsufficientQuantity):
		appErr = xhttp.NewAppError("ERR_INSUFFICIENT_QUANTITY", "quantity", err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, models.ErrInsufficientHistory), errors.Is(err, models.ErrOptimizationNonConvergence):
		appErr = xhttp.UnprocessableError(err.Error())
	case errors.Is(err, models.ErrRateLimited):
		appErr = xhttp.TooManyRequestsError(err.Error())
	case errors.Is(err, models.ErrDataUnavailable), errors.Is(err, models.ErrNoModelsAvailable):
		appErr = xhttp.ServiceUnavailableError(err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		appErr = xhttp.GatewayTimeoutError("request timed out")
	default:
		h.logger.Error("api."+op+" failed", xlogger.Error(err))
		return xhttp.InternalServerErrorResponse(c)
	}
	if appErr.Err == nil {
		appErr.Err = err
	}
	if appErr.Status >= http.StatusInternalServerError {
		h.logger.Warn("api."+op+" unavailable", xlogger.Error(err))
	}
	return xhttp.AppErrorResponse(c, appErr)
}
