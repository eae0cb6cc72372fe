package api

import (
	"time"

	"github.com/labstack/echo/v4"

	"SignalFusion/internal/domain/models"
	drepo "SignalFusion/internal/domain/repository"
	"SignalFusion/internal/usecase"
	xhttp "SignalFusion/pkg/http"
)

// Snapshot godoc
// GET /api/snapshot/:symbol?sources=finnhub,polygon
func (h *Handler) Snapshot(c echo.Context) error {
	req := &models.SnapshotRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	snap, err := h.snapshots.GetMergedSnapshot(c.Request().Context(), req.Symbol, xhttp.ParseCSV(req.Sources))
	if err != nil {
		return h.errorResponse(c, "snapshot", err)
	}
	return xhttp.SuccessResponse(c, snap)
}

func (h *Handler) Analyze(c echo.Context) error {
	req := &models.AnalysisRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.analysis.Analyze(c.Request().Context(), req.Symbol)
	if err != nil {
		return h.errorResponse(c, "analyze", err)
	}
	return xhttp.SuccessResponse(c, res)
}

// AnalyzeBatch runs a synchronous batch. Per-symbol failures are reported in
// the body and only a fully failed batch is an error.
func (h *Handler) AnalyzeBatch(c echo.Context) error {
	req := &models.BatchAnalysisRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.analysis.AnalyzeBatch(c.Request().Context(), req.Symbols)
	if err != nil {
		return h.errorResponse(c, "analyze_batch", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *Handler) SubmitJob(c echo.Context) error {
	req := &models.BatchAnalysisRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	job, err := h.jobs.Submit(c.Request().Context(), req.Symbols)
	if err != nil {
		return h.errorResponse(c, "submit_job", err)
	}
	return xhttp.AcceptedResponse(c, job)
}

func (h *Handler) GetJob(c echo.Context) error {
	req := &models.JobRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	job, err := h.jobs.Get(c.Request().Context(), req.ID)
	if err != nil {
		return h.errorResponse(c, "get_job", err)
	}
	return xhttp.SuccessResponse(c, job)
}

func (h *Handler) LastScheduled(c echo.Context) error {
	last := h.scheduler.Last()
	if last == nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("no scheduled pass has completed"))
	}
	return xhttp.SuccessResponse(c, last)
}

// Train fits every horizon for a symbol on its latest n candles.
func (h *Handler) Train(c echo.Context) error {
	req := &models.TrainRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.analysis.Train(c.Request().Context(), req.Symbol, req.N)
	if err != nil {
		return h.errorResponse(c, "train", err)
	}
	return xhttp.SuccessResponse(c, res)
}

// GetHistory godoc
// GET /api/history/:symbol?n=500 or ?from=2024-01-01&to=2024-06-30&tf=1d
func (h *Handler) GetHistory(c echo.Context) error {
	req := &models.HistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	p := usecase.GetHistoryParams{
		Symbol:    req.Symbol,
		Timeframe: drepo.Timeframe(req.Timeframe),
		Limit:     req.N,
	}
	if req.From != "" || req.To != "" {
		from, aerr := xhttp.ParseTimeParam("from", req.From, time.Time{})
		if aerr != nil {
			return xhttp.AppErrorResponse(c, aerr)
		}
		to, aerr := xhttp.ParseTimeParam("to", req.To, time.Now().UTC())
		if aerr != nil {
			return xhttp.AppErrorResponse(c, aerr)
		}
		p.From, p.To = from, to
	}
	res, err := h.history.GetHistory(c.Request().Context(), p)
	if err != nil {
		return h.errorResponse(c, "get_history", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *Handler) ImportHistory(c echo.Context) error {
	req := &models.ImportHistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	n, err := h.history.Import(c.Request().Context(), req.Symbol, drepo.Timeframe(req.Timeframe), req.Candles)
	if err != nil {
		return h.errorResponse(c, "import_history", err)
	}
	return xhttp.SuccessResponse(c, map[string]interface{}{"symbol": req.Symbol, "imported": n})
}
