package search

import (
	"github.com/labstack/echo/v4"

	"github.com/pagemill/pagemill/pkg/auth"
)

// RegisterRoutes registers the tenant search route and the internal
// cross-tenant variant.
func RegisterRoutes(e *echo.Echo, handler *Handler, authMiddleware *auth.Middleware) {
	e.POST("/search", handler.Search, authMiddleware.RequireTenant())
	e.POST("/internal/search", handler.SearchInternal, authMiddleware.RequireInternal())
}
