package api

import (
	"github.com/labstack/echo/v4"

	"SignalFusion/internal/domain/models"
	xhttp "SignalFusion/pkg/http"
)

func (h *Handler) CreateAlert(c echo.Context) error {
	req := &models.CreateAlertRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	a, err := h.alerts.Create(c.Request().Context(), req.Symbol,
		models.AlertType(req.Type), models.AlertCondition(req.Condition), req.Threshold)
	if err != nil {
		return h.errorResponse(c, "create_alert", err)
	}
	return xhttp.CreatedResponse(c, a)
}

// ListAlerts filters by ?symbol= and ?triggered=true|false.
func (h *Handler) ListAlerts(c echo.Context) error {
	req := &models.ListAlertsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	var triggered *bool
	if req.Triggered != "" {
		v := req.Triggered == "true"
		triggered = &v
	}
	alerts, err := h.alerts.List(c.Request().Context(), req.Symbol, triggered)
	if err != nil {
		return h.errorResponse(c, "list_alerts", err)
	}
	return xhttp.SuccessResponse(c, alerts)
}
