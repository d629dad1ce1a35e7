package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/lyzr/assembly/cmd/station/container"
	"github.com/lyzr/assembly/cmd/station/handlers"
	"github.com/lyzr/assembly/cmd/station/middleware"
)

// RegisterFallbackRoutes registers fallback record routes
func RegisterFallbackRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewFallbackHandler(c.StationService)

	fb := e.Group("/api/v1/fallback")
	fb.Use(middleware.ExtractOperator())
	{
		fb.GET("/pending", h.ListPending)  // GET /api/v1/fallback/pending?limit=50
		fb.POST("/reconcile", h.Reconcile) // POST /api/v1/fallback/reconcile
	}
}
