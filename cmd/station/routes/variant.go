package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/lyzr/assembly/cmd/station/container"
	"github.com/lyzr/assembly/cmd/station/handlers"
	"github.com/lyzr/assembly/cmd/station/middleware"
)

// RegisterVariantRoutes registers variant configuration routes
func RegisterVariantRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewVariantHandler(c.StationService)

	v := e.Group("/api/v1/variants")
	{
		v.GET("", h.ListVariants)                                     // GET /api/v1/variants
		v.GET("/:id", h.GetVariant)                                   // GET /api/v1/variants/5RS011027
		v.PATCH("/:id", h.PatchVariant, middleware.RequireOperator()) // PATCH /api/v1/variants/5RS011027
	}
}
