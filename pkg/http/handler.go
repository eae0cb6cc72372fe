package http

import "github.com/labstack/echo/v4"

// Handler mounts a group of API routes. NewServer calls RegisterRoutes once,
// after the shared middleware is installed.
type Handler interface {
	RegisterRoutes(e *echo.Echo)
}
