package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/lyzr/assembly/cmd/station/container"
	"github.com/lyzr/assembly/cmd/station/handlers"
	"github.com/lyzr/assembly/cmd/station/middleware"
	commonmw "github.com/lyzr/assembly/common/middleware"
)

// RegisterStationRoutes registers all scan station routes
func RegisterStationRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewStationHandler(c.StationService)

	var scanLimit []echo.MiddlewareFunc
	if c.ScanLimiter != nil {
		cfg := c.Components.Config.RateLimit
		scanLimit = append(scanLimit, commonmw.StationRateLimitMiddleware(c.ScanLimiter, int64(cfg.StationScans), cfg.WindowSeconds))
	}

	st := e.Group("/api/v1/stations")
	st.Use(middleware.ExtractOperator())
	{
		st.POST("", h.OpenStation)                                  // POST /api/v1/stations
		st.GET("", h.ListStations)                                  // GET /api/v1/stations
		st.GET("/:id", h.GetStation)                                // GET /api/v1/stations/line-3
		st.DELETE("/:id", h.CloseStation)                           // DELETE /api/v1/stations/line-3
		st.POST("/:id/scan", h.Scan, scanLimit...)                  // POST /api/v1/stations/line-3/scan
		st.POST("/:id/complete", h.Complete)                        // POST /api/v1/stations/line-3/complete
		st.POST("/:id/restart", h.Restart)                          // POST /api/v1/stations/line-3/restart
		st.POST("/:id/next", h.NextUnit)                            // POST /api/v1/stations/line-3/next
		st.POST("/:id/acknowledge-degraded", h.AcknowledgeDegraded) // POST /api/v1/stations/line-3/acknowledge-degraded
		st.POST("/:id/rework", h.Rework)                            // POST /api/v1/stations/line-3/rework
		st.GET("/:id/audit", h.GetAudit)                            // GET /api/v1/stations/line-3/audit
	}
}
