package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Allower grants or refuses one request for key.
type Allower interface {
	Allow(key string) bool
}

// RateLimit throttles per client IP. Paths in skip bypass the limiter.
func RateLimit(a Allower, skip ...string) echo.MiddlewareFunc {
	bypass := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		bypass[p] = struct{}{}
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if _, ok := bypass[c.Path()]; ok {
				return next(c)
			}
			if !a.Allow("client:" + c.RealIP()) {
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"status":  http.StatusTooManyRequests,
					"message": http.StatusText(http.StatusTooManyRequests),
				})
			}
			return next(c)
		}
	}
}
