package api

import (
	"github.com/labstack/echo/v4"

	"SignalFusion/internal/domain/models"
	xhttp "SignalFusion/pkg/http"
)

func (h *Handler) CacheStats(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.cache.Stats())
}

// ClearCache drops cached snapshots for one source, or all of them when no
// source is given.
func (h *Handler) ClearCache(c echo.Context) error {
	req := &models.ClearCacheRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.cache.Clear(c.Request().Context(), req.Source); err != nil {
		return h.errorResponse(c, "clear_cache", err)
	}
	return xhttp.NoContentResponse(c)
}
