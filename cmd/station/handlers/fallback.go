package handlers

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/lyzr/assembly/cmd/station/service"
)

// FallbackHandler handles locally completed assemblies awaiting the backend
type FallbackHandler struct {
	stations *service.StationService
}

// NewFallbackHandler creates a new fallback handler
func NewFallbackHandler(stations *service.StationService) *FallbackHandler {
	return &FallbackHandler{
		stations: stations,
	}
}

// ListPending lists fallback records not yet reconciled
// GET /api/v1/fallback/pending?limit=50
func (h *FallbackHandler) ListPending(c echo.Context) error {
	limit := 100
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return c.JSON(http.StatusBadRequest, map[string]interface{}{
				"error": "limit must be a positive integer",
			})
		}
		limit = n
	}

	records, err := h.stations.PendingFallback(c.Request().Context(), limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"records": records,
		"count":   len(records),
	})
}

// Reconcile runs one reconciliation pass now
// POST /api/v1/fallback/reconcile
func (h *FallbackHandler) Reconcile(c echo.Context) error {
	report, err := h.stations.Reconcile(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, report)
}
