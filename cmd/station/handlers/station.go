package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/lyzr/assembly/cmd/station/service"
	"github.com/lyzr/assembly/common/clients"
)

// StationHandler handles scan station requests
type StationHandler struct {
	stations *service.StationService
}

// NewStationHandler creates a new station handler
func NewStationHandler(stations *service.StationService) *StationHandler {
	return &StationHandler{
		stations: stations,
	}
}

// OpenStationRequest is the body of OpenStation
type OpenStationRequest struct {
	StationID string `json:"station_id"`
	URL       string `json:"url"`
}

// ScanRequest is the body of Scan
type ScanRequest struct {
	Barcode string `json:"barcode"`
}

// ReworkRequest is the body of Rework
type ReworkRequest struct {
	Reason string `json:"reason"`
}

// OpenStation opens a station on the unit named by a navigation url
// POST /api/v1/stations
func (h *StationHandler) OpenStation(c echo.Context) error {
	var req OpenStationRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid request body",
		})
	}
	if req.URL == "" {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "url is required",
		})
	}

	view, err := h.stations.Open(c.Request().Context(), service.OpenRequest{
		StationID: req.StationID,
		URL:       req.URL,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, view)
}

// ListStations lists the open stations
// GET /api/v1/stations
func (h *StationHandler) ListStations(c echo.Context) error {
	stations := h.stations.List()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"stations": stations,
		"count":    len(stations),
	})
}

// GetStation returns a station with its session snapshot
// GET /api/v1/stations/:id
func (h *StationHandler) GetStation(c echo.Context) error {
	view, err := h.stations.Get(c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

// CloseStation discards a station
// DELETE /api/v1/stations/:id
func (h *StationHandler) CloseStation(c echo.Context) error {
	id := c.Param("id")
	if err := h.stations.Close(id); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"station_id": id,
		"closed":     true,
	})
}

// Scan feeds one barcode to the station. Rejected scans are answered with
// 200 and the feedback; only a missing station is an HTTP error.
// POST /api/v1/stations/:id/scan
func (h *StationHandler) Scan(c echo.Context) error {
	var req ScanRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid request body",
		})
	}

	fb, err := h.stations.Scan(c.Param("id"), req.Barcode)
	if err != nil {
		return respondError(c, err)
	}

	body := map[string]interface{}{
		"feedback": fb,
		"accepted": fb.Accepted(),
		"blocking": fb.Blocking(),
	}
	if fb.Error != nil {
		body["error"] = fb.Error.Error()
	}
	return c.JSON(http.StatusOK, body)
}

// Complete persists the station's unit
// POST /api/v1/stations/:id/complete
func (h *StationHandler) Complete(c echo.Context) error {
	id := c.Param("id")
	ctx := clients.WithStationID(c.Request().Context(), id)

	outcome, err := h.stations.Complete(ctx, id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, outcome)
}

// Restart clears the station's scans
// POST /api/v1/stations/:id/restart
func (h *StationHandler) Restart(c echo.Context) error {
	view, err := h.stations.Restart(c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

// NextUnit skips the countdown to the next unit of the work order
// POST /api/v1/stations/:id/next
func (h *StationHandler) NextUnit(c echo.Context) error {
	view, err := h.stations.NextUnit(c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

// AcknowledgeDegraded lets the station scan without verification codes
// POST /api/v1/stations/:id/acknowledge-degraded
func (h *StationHandler) AcknowledgeDegraded(c echo.Context) error {
	view, err := h.stations.AcknowledgeDegraded(c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

// Rework flags the station's unit for rework
// POST /api/v1/stations/:id/rework
func (h *StationHandler) Rework(c echo.Context) error {
	var req ReworkRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid request body",
		})
	}

	id := c.Param("id")
	ctx := clients.WithStationID(c.Request().Context(), id)

	result, err := h.stations.Rework(ctx, id, req.Reason)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// GetAudit returns the station's audit log
// GET /api/v1/stations/:id/audit
func (h *StationHandler) GetAudit(c echo.Context) error {
	id := c.Param("id")
	entries, err := h.stations.Audit(id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"station_id": id,
		"entries":    entries,
		"count":      len(entries),
	})
}
