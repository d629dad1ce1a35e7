package handlers

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/lyzr/assembly/cmd/station/service"
)

// VariantHandler handles variant configuration requests
type VariantHandler struct {
	stations *service.StationService
}

// NewVariantHandler creates a new variant handler
func NewVariantHandler(stations *service.StationService) *VariantHandler {
	return &VariantHandler{
		stations: stations,
	}
}

// ListVariants lists the registered variants
// GET /api/v1/variants
func (h *VariantHandler) ListVariants(c echo.Context) error {
	variants := h.stations.Variants()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"variants": variants,
		"count":    len(variants),
	})
}

// GetVariant returns one variant definition
// GET /api/v1/variants/:id
func (h *VariantHandler) GetVariant(c echo.Context) error {
	v, err := h.stations.Variant(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]interface{}{
			"error": err.Error(),
		})
	}
	return c.JSON(http.StatusOK, v)
}

// PatchVariant applies an RFC 6902 JSON Patch to a variant
// PATCH /api/v1/variants/:id
func (h *VariantHandler) PatchVariant(c echo.Context) error {
	patch, err := io.ReadAll(c.Request().Body)
	if err != nil || len(patch) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "request body must be a JSON Patch document",
		})
	}

	v, err := h.stations.Reconfigure(c.Param("id"), patch)
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, map[string]interface{}{
			"error": err.Error(),
		})
	}
	return c.JSON(http.StatusOK, v)
}
