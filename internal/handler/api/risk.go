package api

import (
	"fmt"

	"github.com/labstack/echo/v4"

	"SignalFusion/internal/domain/models"
	xhttp "SignalFusion/pkg/http"
)

func (h *Handler) Risk(c echo.Context) error {
	req := &models.RiskRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	report, err := h.risk.ComputeRisk(req.Returns, req.ConfidenceLevels)
	if err != nil {
		return h.errorResponse(c, "risk", err)
	}
	return xhttp.SuccessResponse(c, report)
}

// Optimize godoc
// POST /api/optimize
// Lower/upper default to 0 and 1 per asset when only one side is given.
func (h *Handler) Optimize(c echo.Context) error {
	req := &models.OptimizeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	bounds, err := optimizeBounds(len(req.Symbols), req.Lower, req.Upper)
	if err != nil {
		return h.errorResponse(c, "optimize", err)
	}
	alloc, err := h.risk.OptimizePortfolio(req.Symbols, req.ExpectedReturns, req.Covariance, bounds)
	if err != nil {
		return h.errorResponse(c, "optimize", err)
	}
	return xhttp.SuccessResponse(c, alloc)
}

func optimizeBounds(n int, lower, upper []float64) ([]models.Bounds, error) {
	if len(lower) == 0 && len(upper) == 0 {
		return nil, nil
	}
	if (len(lower) != 0 && len(lower) != n) || (len(upper) != 0 && len(upper) != n) {
		return nil, fmt.Errorf("bounds must have one entry per symbol: %w", models.ErrInvalidInput)
	}
	out := make([]models.Bounds, n)
	for i := range out {
		out[i] = models.Bounds{Lower: 0, Upper: 1}
		if len(lower) == n {
			out[i].Lower = lower[i]
		}
		if len(upper) == n {
			out[i].Upper = upper[i]
		}
	}
	return out, nil
}
