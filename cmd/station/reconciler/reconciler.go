// Package reconciler resubmits fallback records to the assembly backend on
// a cron schedule.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lyzr/assembly/cmd/station/coordinator"
	"github.com/lyzr/assembly/cmd/station/events"
	"github.com/lyzr/assembly/cmd/station/models"
	"github.com/lyzr/assembly/cmd/station/repository"
	"github.com/robfig/cron/v3"
)

const (
	DefaultSchedule  = "@every 1m"
	DefaultBatchSize = 50
	DefaultTimeout   = 10 * time.Second
)

// ErrAlreadyRunning is returned when a pass is requested during another
var ErrAlreadyRunning = errors.New("reconciliation already running")

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Opts configures a Reconciler
type Opts struct {
	Persistence coordinator.Persistence
	Store       repository.FallbackRepository
	Events      events.Publisher
	Logger      Logger
	BatchSize   int

	// Timeout bounds the backend calls for one record
	Timeout time.Duration
}

// Report summarizes one reconciliation pass
type Report struct {
	Attempted  int               `json:"attempted"`
	Reconciled int               `json:"reconciled"`
	Failed     int               `json:"failed"`
	Errors     map[string]string `json:"errors,omitempty"`
}

// Reconciler drains the fallback store
type Reconciler struct {
	persistence coordinator.Persistence
	store       repository.FallbackRepository
	events      events.Publisher
	logger      Logger
	batchSize   int
	timeout     time.Duration

	running sync.Mutex

	mu   sync.Mutex
	cron *cron.Cron
}

// New creates a new Reconciler
func New(opts Opts) *Reconciler {
	r := &Reconciler{
		persistence: opts.Persistence,
		store:       opts.Store,
		events:      opts.Events,
		logger:      opts.Logger,
		batchSize:   opts.BatchSize,
		timeout:     opts.Timeout,
	}
	if r.events == nil {
		r.events = events.NopPublisher{}
	}
	if r.batchSize <= 0 {
		r.batchSize = DefaultBatchSize
	}
	if r.timeout <= 0 {
		r.timeout = DefaultTimeout
	}
	return r
}

// RunOnce reconciles up to one batch of pending records. Passes never
// overlap; a concurrent call returns ErrAlreadyRunning.
func (r *Reconciler) RunOnce(ctx context.Context) (Report, error) {
	if !r.running.TryLock() {
		return Report{}, ErrAlreadyRunning
	}
	defer r.running.Unlock()

	pending, err := r.store.ListPending(ctx, r.batchSize)
	if err != nil {
		return Report{}, fmt.Errorf("failed to list pending records: %w", err)
	}

	var report Report
	for _, rec := range pending {
		if ctx.Err() != nil {
			break
		}
		report.Attempted++

		barcode, err := r.reconcile(ctx, rec)
		if err != nil {
			report.Failed++
			if report.Errors == nil {
				report.Errors = make(map[string]string)
			}
			report.Errors[rec.RecordID] = err.Error()

			r.logger.Warn("reconciliation attempt failed",
				"record_id", rec.RecordID,
				"assembly_id", rec.AssemblyID,
				"stage", rec.ReconcileStage,
				"attempts", rec.Attempts+1,
				"error", err)
			if markErr := r.store.MarkAttempt(ctx, rec.RecordID, err); markErr != nil {
				r.logger.Error("failed to record reconciliation attempt",
					"record_id", rec.RecordID,
					"error", markErr)
			}
			continue
		}

		if err := r.store.MarkReconciled(ctx, rec.RecordID, barcode); err != nil {
			report.Failed++
			r.logger.Error("failed to mark record reconciled",
				"record_id", rec.RecordID,
				"error", err)
			continue
		}
		report.Reconciled++

		r.logger.Info("fallback record reconciled",
			"record_id", rec.RecordID,
			"assembly_id", rec.AssemblyID,
			"local_barcode", rec.GeneratedBarcode,
			"server_barcode", barcode)
		r.events.Publish(ctx, events.Event{
			Type:       events.TypeReconciled,
			SessionID:  rec.SessionID,
			AssemblyID: rec.AssemblyID,
			VariantID:  rec.VariantID,
			Data: map[string]interface{}{
				"record_id":      rec.RecordID,
				"local_barcode":  rec.GeneratedBarcode,
				"server_barcode": barcode,
			},
		})
	}

	if report.Attempted > 0 {
		r.logger.Info("reconciliation pass finished",
			"attempted", report.Attempted,
			"reconciled", report.Reconciled,
			"failed", report.Failed)
	}
	return report, nil
}

// reconcile performs the backend calls a record still needs and returns
// the barcode the backend knows the unit by. A record whose submission
// succeeds moves to the progress stage before the work order update so a
// later pass never submits it again.
func (r *Reconciler) reconcile(ctx context.Context, rec repository.FallbackRecord) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	barcode := rec.GeneratedBarcode
	switch rec.ReconcileStage {
	case models.StageSubmit:
		result, err := r.persistence.SubmitAssembly(ctx, rec.Submission())
		if err != nil {
			return "", err
		}
		barcode = result.GeneratedBarcode

		if rec.WorkOrderID != "" {
			if err := r.store.MarkSubmitted(context.WithoutCancel(ctx), rec.RecordID, barcode); err != nil {
				return "", fmt.Errorf("failed to record submission: %w", err)
			}
		}
	case models.StageProgress:
		if rec.ServerBarcode != "" {
			barcode = rec.ServerBarcode
		}
	default:
		return "", fmt.Errorf("unknown reconcile stage %q", rec.ReconcileStage)
	}

	if rec.WorkOrderID != "" {
		if _, err := r.persistence.UpdateWorkOrderProgress(ctx, rec.WorkOrderID, barcode, rec.Scans()); err != nil {
			return "", fmt.Errorf("work order progress: %w", err)
		}
	}
	return barcode, nil
}

// Start runs RunOnce on schedule until Stop
func (r *Reconciler) Start(ctx context.Context, schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if _, err := r.RunOnce(ctx); err != nil && !errors.Is(err, ErrAlreadyRunning) {
			r.logger.Error("reconciliation pass failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", schedule, err)
	}

	r.mu.Lock()
	if r.cron != nil {
		r.mu.Unlock()
		return errors.New("reconciler already started")
	}
	r.cron = c
	r.mu.Unlock()

	c.Start()
	r.logger.Info("reconciler started", "schedule", schedule, "batch_size", r.batchSize)
	return nil
}

// Stop halts the schedule and waits for a running pass to finish
func (r *Reconciler) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	r.logger.Info("reconciler stopped")
}
