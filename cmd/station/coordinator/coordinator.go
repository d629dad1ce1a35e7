// Package coordinator finishes a fully scanned session: it submits the
// assembly, falls back to a locally issued barcode when the backend is
// unavailable, and advances the work order to the next unit.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lyzr/assembly/cmd/station/events"
	"github.com/lyzr/assembly/cmd/station/models"
	"github.com/lyzr/assembly/cmd/station/session"
	"github.com/lyzr/assembly/common/clients"
)

const (
	DefaultTimeout       = 8 * time.Second
	DefaultNextUnitDelay = 3 * time.Second
)

// ErrNoFallbackStore is returned when a fallback is needed but no store is set
var ErrNoFallbackStore = errors.New("no fallback store configured")

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Persistence is the assembly backend used on completion
type Persistence interface {
	SubmitAssembly(ctx context.Context, sub clients.AssemblySubmission) (clients.SubmitResult, error)
	UpdateWorkOrderProgress(ctx context.Context, workOrderID, barcode string, components []clients.ComponentScan) (clients.WorkOrderProgress, error)
}

// FallbackStore durably keeps records that still need the backend
type FallbackStore interface {
	Append(ctx context.Context, record models.AssemblyRecord) error
}

// Opts configures a Coordinator
type Opts struct {
	Persistence Persistence
	Store       FallbackStore
	Events      events.Publisher
	Logger      Logger
	StationID   string

	// Timeout bounds the backend calls of one completion
	Timeout       time.Duration
	NextUnitDelay time.Duration

	Clock  func() time.Time
	Suffix func() string
}

// Outcome is the result of a completion
type Outcome struct {
	Record models.AssemblyRecord `json:"record"`

	// Fallback is set when the barcode was issued locally
	Fallback bool `json:"fallback"`

	Progress          *clients.WorkOrderProgress `json:"progress,omitempty"`
	WorkOrderFinished bool                       `json:"work_order_finished"`
	NextUnit          *NextUnit                  `json:"-"`
	Warning           string                     `json:"warning,omitempty"`
}

// Coordinator completes sessions
type Coordinator struct {
	persistence   Persistence
	store         FallbackStore
	events        events.Publisher
	logger        Logger
	stationID     string
	timeout       time.Duration
	nextUnitDelay time.Duration
	clock         func() time.Time
	suffix        func() string
}

// New creates a new Coordinator
func New(opts Opts) *Coordinator {
	c := &Coordinator{
		persistence:   opts.Persistence,
		store:         opts.Store,
		events:        opts.Events,
		logger:        opts.Logger,
		stationID:     opts.StationID,
		timeout:       opts.Timeout,
		nextUnitDelay: opts.NextUnitDelay,
		clock:         opts.Clock,
		suffix:        opts.Suffix,
	}
	if c.events == nil {
		c.events = events.NopPublisher{}
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.nextUnitDelay <= 0 {
		c.nextUnitDelay = DefaultNextUnitDelay
	}
	if c.clock == nil {
		c.clock = time.Now
	}
	if c.suffix == nil {
		c.suffix = RandomSuffix
	}
	return c
}

// Complete persists a fully scanned session. Scans are refused while it
// runs. A backend failure or timeout completes the unit with a local
// barcode; the error is non-nil only when the unit could not be recorded
// anywhere or the session was not ready.
func (c *Coordinator) Complete(ctx context.Context, sess *session.Session) (*Outcome, error) {
	if err := sess.BeginCompletion(); err != nil {
		c.logger.Warn("completion refused",
			"session_id", sess.ID(),
			"assembly_id", sess.AssemblyID(),
			"error", err)
		return nil, err
	}

	record := BuildRecord(sess, c.clock())

	// Only the coordinator's timeout ends backend calls; a caller that
	// goes away does not abandon a unit the backend may already record.
	storeCtx := context.WithoutCancel(ctx)
	callCtx, cancel := context.WithTimeout(storeCtx, c.timeout)
	defer cancel()

	result, err := withDeadline(callCtx, func(ctx context.Context) (clients.SubmitResult, error) {
		return c.persistence.SubmitAssembly(ctx, record.Submission())
	})
	if err != nil {
		return c.fallback(storeCtx, sess, record, err)
	}

	record.GeneratedBarcode = result.GeneratedBarcode
	record.Source = models.SourceServer
	outcome := &Outcome{Record: record}

	var progress *clients.WorkOrderProgress
	if record.WorkOrderID != "" {
		p, err := withDeadline(callCtx, func(ctx context.Context) (clients.WorkOrderProgress, error) {
			return c.persistence.UpdateWorkOrderProgress(ctx, record.WorkOrderID, record.GeneratedBarcode, record.Scans())
		})
		if err != nil {
			c.deferProgress(storeCtx, outcome, err)
		} else {
			progress = &p
			outcome.Progress = progress
			outcome.WorkOrderFinished = p.Finished()
		}
	}

	sess.FinishCompletion(true)

	if progress != nil && !progress.Finished() {
		outcome.NextUnit = ScheduleNextUnit(*progress, c.nextUnitDelay, sess.Restart, c.logger)
	}

	c.logger.Info("assembly completed",
		"session_id", sess.ID(),
		"assembly_id", record.AssemblyID,
		"barcode", record.GeneratedBarcode,
		"work_order_finished", outcome.WorkOrderFinished)
	c.publish(storeCtx, events.TypeCompleted, record, map[string]interface{}{
		"barcode":             record.GeneratedBarcode,
		"source":              string(record.Source),
		"work_order_finished": outcome.WorkOrderFinished,
		"pending":             record.PendingReconciliation,
	})
	return outcome, nil
}

// fallback completes the unit with a locally issued barcode
func (c *Coordinator) fallback(ctx context.Context, sess *session.Session, record models.AssemblyRecord, cause error) (*Outcome, error) {
	record.GeneratedBarcode = FallbackBarcode(record.VariantID, record.AssemblyID, c.clock(), c.suffix())
	record.Source = models.SourceLocal
	record.PendingReconciliation = true
	record.ReconcileStage = models.StageSubmit

	c.logger.Warn("assembly backend unavailable, issuing local barcode",
		"session_id", sess.ID(),
		"assembly_id", record.AssemblyID,
		"barcode", record.GeneratedBarcode,
		"error", cause)

	if err := c.append(ctx, record); err != nil {
		sess.FinishCompletion(false)
		c.logger.Error("assembly could not be recorded",
			"session_id", sess.ID(),
			"assembly_id", record.AssemblyID,
			"submit_error", cause,
			"store_error", err)
		return nil, models.NewError(models.KindPersistenceFailure,
			"assembly could not be submitted or stored locally", errors.Join(cause, err))
	}

	sess.FinishCompletion(true)
	c.publish(ctx, events.TypeFallback, record, map[string]interface{}{
		"barcode": record.GeneratedBarcode,
		"reason":  cause.Error(),
	})

	return &Outcome{
		Record:   record,
		Fallback: true,
		Warning:  "backend unavailable, unit completed with a local barcode pending reconciliation",
	}, nil
}

// deferProgress stores a server-confirmed record whose work order update
// failed so reconciliation can retry it
func (c *Coordinator) deferProgress(ctx context.Context, outcome *Outcome, cause error) {
	outcome.Record.PendingReconciliation = true
	outcome.Record.ReconcileStage = models.StageProgress
	outcome.Warning = "work order progress not updated, pending reconciliation"

	c.logger.Warn("work order progress update failed",
		"assembly_id", outcome.Record.AssemblyID,
		"work_order_id", outcome.Record.WorkOrderID,
		"error", cause)

	if err := c.append(ctx, outcome.Record); err != nil {
		c.logger.Error("failed to store record for progress reconciliation",
			"assembly_id", outcome.Record.AssemblyID,
			"error", err)
		outcome.Warning = "work order progress not updated and could not be queued for reconciliation"
	}
}

func (c *Coordinator) append(ctx context.Context, record models.AssemblyRecord) error {
	if c.store == nil {
		return ErrNoFallbackStore
	}
	return c.store.Append(ctx, record)
}

func (c *Coordinator) publish(ctx context.Context, t events.Type, record models.AssemblyRecord, data map[string]interface{}) {
	c.events.Publish(ctx, events.Event{
		Type:       t,
		StationID:  c.stationID,
		SessionID:  record.SessionID,
		AssemblyID: record.AssemblyID,
		VariantID:  record.VariantID,
		Data:       data,
	})
}

// BuildRecord builds the assembly record of a session from its
// sequence-ordered entries
func BuildRecord(sess *session.Session, now time.Time) models.AssemblyRecord {
	entries := sess.Entries()
	components := make([]models.ScannedComponent, 0, len(entries))
	for _, e := range entries {
		components = append(components, models.ScannedComponent{
			ComponentID:    e.ID,
			ItemCode:       e.ItemCode,
			ScannedBarcode: e.ScannedBarcode,
			Sequence:       e.Sequence,
		})
	}

	return models.AssemblyRecord{
		RecordID:    uuid.NewString(),
		SessionID:   sess.ID(),
		AssemblyID:  sess.AssemblyID(),
		VariantID:   sess.VariantID(),
		WorkOrderID: sess.WorkOrderID(),
		CompletedAt: now.UTC(),
		Components:  components,
		IsRework:    sess.IsRework(),
		Degraded:    sess.Degraded(),
	}
}

// withDeadline runs call and gives up when ctx ends, even if call does not
// observe ctx
func withDeadline[T any](ctx context.Context, call func(context.Context) (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}

	done := make(chan result, 1)
	go func() {
		v, err := call(ctx)
		done <- result{value: v, err: err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("backend call abandoned: %w", ctx.Err())
	}
}
