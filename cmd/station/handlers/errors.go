package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/lyzr/assembly/cmd/station/coordinator"
	"github.com/lyzr/assembly/cmd/station/models"
	"github.com/lyzr/assembly/cmd/station/reconciler"
	"github.com/lyzr/assembly/cmd/station/service"
	"github.com/lyzr/assembly/cmd/station/session"
)

// statusFor maps an error onto an HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrStationNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, session.ErrClosed):
		return http.StatusGone
	case errors.Is(err, reconciler.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, service.ErrReconcilerDisabled), errors.Is(err, coordinator.ErrNoFallbackStore):
		return http.StatusNotImplemented
	}

	kind, ok := models.KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch kind {
	case models.KindValidationRejection:
		return http.StatusUnprocessableEntity
	case models.KindDuplicateRejection:
		return http.StatusConflict
	case models.KindLookupFailure:
		return http.StatusBadGateway
	case models.KindPersistenceFailure:
		return http.StatusServiceUnavailable
	case models.KindPreconditionError:
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as a JSON error body
func respondError(c echo.Context, err error) error {
	body := map[string]interface{}{
		"error": err.Error(),
	}
	if kind, ok := models.KindOf(err); ok {
		body["kind"] = kind
		body["blocking"] = models.IsBlocking(err)
	}
	return c.JSON(statusFor(err), body)
}
