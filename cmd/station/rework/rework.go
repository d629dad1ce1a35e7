// Package rework takes a unit out of the normal scan flow and into the
// rework queue.
package rework

import (
	"context"
	"strings"

	"github.com/lyzr/assembly/cmd/station/events"
	"github.com/lyzr/assembly/cmd/station/models"
	"github.com/lyzr/assembly/cmd/station/session"
)

const (
	// DefaultReason is used when the operator gives none
	DefaultReason = "Quality issue"

	// PendingView is where the caller navigates after a successful rework
	PendingView = "/assembly/pending"
)

// ErrReworkRefused is returned when the backend answers without success
var ErrReworkRefused = models.NewError(models.KindPersistenceFailure, "rework request was not accepted", nil)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Flagger submits rework requests to the assembly backend
type Flagger interface {
	FlagRework(ctx context.Context, assemblyID, reason string) (bool, error)
}

// Result tells the caller what to do after a rework
type Result struct {
	Success    bool   `json:"success"`
	AssemblyID string `json:"assembly_id"`
	Reason     string `json:"reason"`
	Navigate   string `json:"navigate"`
}

// Handler flags units for rework
type Handler struct {
	flagger   Flagger
	events    events.Publisher
	logger    Logger
	stationID string
}

// NewHandler creates a new rework handler
func NewHandler(flagger Flagger, publisher events.Publisher, stationID string, logger Logger) *Handler {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Handler{
		flagger:   flagger,
		events:    publisher,
		logger:    logger,
		stationID: stationID,
	}
}

// FlagForRework submits the session's unit for rework. On success the
// session is discarded, never restarted. On failure the session is left
// as it was so the operator can retry.
func (h *Handler) FlagForRework(ctx context.Context, sess *session.Session, reason string) (*Result, error) {
	if err := sess.BeginRework(); err != nil {
		return nil, err
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = DefaultReason
	}
	assemblyID := sess.AssemblyID()

	ok, err := h.flagger.FlagRework(ctx, assemblyID, reason)
	if err == nil && !ok {
		err = ErrReworkRefused
	}
	if err != nil {
		sess.FinishRework(false)
		h.logger.Error("rework request failed",
			"session_id", sess.ID(),
			"assembly_id", assemblyID,
			"error", err)
		if _, classified := models.KindOf(err); !classified {
			err = models.NewError(models.KindPersistenceFailure, "rework request failed", err)
		}
		return nil, err
	}

	sess.FinishRework(true)

	h.logger.Info("unit flagged for rework",
		"session_id", sess.ID(),
		"assembly_id", assemblyID,
		"reason", reason)
	h.events.Publish(ctx, events.Event{
		Type:       events.TypeRework,
		StationID:  h.stationID,
		SessionID:  sess.ID(),
		AssemblyID: assemblyID,
		VariantID:  sess.VariantID(),
		Data:       map[string]interface{}{"reason": reason},
	})

	return &Result{
		Success:    true,
		AssemblyID: assemblyID,
		Reason:     reason,
		Navigate:   PendingView,
	}, nil
}
