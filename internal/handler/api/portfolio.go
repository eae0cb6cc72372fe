package api

import (
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"SignalFusion/internal/domain/models"
	xhttp "SignalFusion/pkg/http"
)

func (h *Handler) CreatePortfolio(c echo.Context) error {
	req := &models.CreatePortfolioRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	p, err := h.portfolios.Create(c.Request().Context(), req.Name)
	if err != nil {
		return h.errorResponse(c, "create_portfolio", err)
	}
	return xhttp.CreatedResponse(c, p)
}

func (h *Handler) GetPortfolio(c echo.Context) error {
	req := &models.PortfolioRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	p, err := h.portfolios.Get(c.Request().Context(), req.Name)
	if err != nil {
		return h.errorResponse(c, "get_portfolio", err)
	}
	return xhttp.SuccessResponse(c, p)
}

func (h *Handler) AddPosition(c echo.Context) error {
	req := &models.AddPositionRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	p, err := h.portfolios.AddPosition(c.Request().Context(), req.Name, req.Symbol,
		decimal.NewFromFloat(req.Quantity), decimal.NewFromFloat(req.Price))
	if err != nil {
		return h.errorResponse(c, "add_position", err)
	}
	return xhttp.SuccessResponse(c, p)
}

// RemovePosition godoc
// DELETE /api/portfolios/:name/positions/:symbol?quantity=5
// A zero or missing quantity closes the position.
func (h *Handler) RemovePosition(c echo.Context) error {
	req := &models.RemovePositionRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	p, err := h.portfolios.RemovePosition(c.Request().Context(), req.Name, req.Symbol, decimal.NewFromFloat(req.Quantity))
	if err != nil {
		return h.errorResponse(c, "remove_position", err)
	}
	return xhttp.SuccessResponse(c, p)
}

func (h *Handler) PortfolioValue(c echo.Context) error {
	req := &models.PortfolioRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	v, err := h.portfolios.Value(c.Request().Context(), req.Name)
	if err != nil {
		return h.errorResponse(c, "portfolio_value", err)
	}
	return xhttp.SuccessResponse(c, v)
}

func (h *Handler) PortfolioRisk(c echo.Context) error {
	req := &models.PortfolioRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	r, err := h.portfolios.Risk(c.Request().Context(), req.Name)
	if err != nil {
		return h.errorResponse(c, "portfolio_risk", err)
	}
	return xhttp.SuccessResponse(c, r)
}

func (h *Handler) SizePosition(c echo.Context) error {
	req := &models.SizePositionRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	s, err := h.portfolios.SizePosition(c.Request().Context(), req.Name, req.Symbol)
	if err != nil {
		return h.errorResponse(c, "size_position", err)
	}
	return xhttp.SuccessResponse(c, s)
}
