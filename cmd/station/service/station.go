package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lyzr/assembly/cmd/station/coordinator"
	"github.com/lyzr/assembly/cmd/station/events"
	"github.com/lyzr/assembly/cmd/station/models"
	"github.com/lyzr/assembly/cmd/station/navigation"
	"github.com/lyzr/assembly/cmd/station/reconciler"
	"github.com/lyzr/assembly/cmd/station/registry"
	"github.com/lyzr/assembly/cmd/station/repository"
	"github.com/lyzr/assembly/cmd/station/rework"
	"github.com/lyzr/assembly/cmd/station/session"
	"github.com/lyzr/assembly/common/clients"
	"github.com/lyzr/assembly/common/validation"
)

var (
	// ErrStationNotFound is returned for an unknown station id
	ErrStationNotFound = errors.New("station not found")

	// ErrNoPendingUnit is returned by NextUnit when no countdown is running
	ErrNoPendingUnit = models.NewError(models.KindPreconditionError, "no next unit is pending", nil)

	// ErrReconcilerDisabled is returned when no reconciler is configured
	ErrReconcilerDisabled = errors.New("reconciliation is not configured")
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// WorkOrderReader reads the progress of a work order
type WorkOrderReader interface {
	GetWorkOrder(ctx context.Context, workOrderID string) (clients.WorkOrderProgress, error)
}

// Backend is the assembly service as seen by a station
type Backend interface {
	coordinator.Persistence
	rework.Flagger
	WorkOrderReader
}

// Settings are the station behaviour knobs from configuration
type Settings struct {
	CompletionTimeout  time.Duration
	NextUnitDelay      time.Duration
	AuditLogSize       int
	RequireDegradedAck bool
	LookupConcurrency  int
}

// Deps wires a StationService
type Deps struct {
	Registry   *registry.Registry
	Lookup     registry.LookupService
	Backend    Backend
	Store      repository.FallbackRepository
	Reconciler *reconciler.Reconciler
	Events     events.Publisher
	Rule       *navigation.ReworkRule
	Logger     Logger
	Settings   Settings
}

// OpenRequest opens a station on the unit named by a navigation URL
type OpenRequest struct {
	StationID string `json:"station_id"`
	URL       string `json:"url"`
}

// PendingUnit describes a running next-unit countdown
type PendingUnit struct {
	WorkOrderID string        `json:"work_order_id"`
	Remaining   int           `json:"remaining"`
	Delay       time.Duration `json:"delay"`
}

// StationView is what the API returns for a station
type StationView struct {
	StationID  string                     `json:"station_id"`
	OpenedAt   time.Time                  `json:"opened_at"`
	Params     navigation.Params          `json:"params"`
	Detection  registry.Detection         `json:"detection"`
	Hydration  registry.HydrationReport   `json:"hydration"`
	Session    session.Snapshot           `json:"session"`
	WorkOrder  *clients.WorkOrderProgress `json:"work_order,omitempty"`
	LastResult *coordinator.Outcome       `json:"last_result,omitempty"`
	NextUnit   *PendingUnit               `json:"next_unit,omitempty"`
}

// station is one open scan station
type station struct {
	id        string
	openedAt  time.Time
	params    navigation.Params
	detection registry.Detection
	hydration registry.HydrationReport

	session     *session.Session
	coordinator *coordinator.Coordinator
	rework      *rework.Handler

	mu         sync.Mutex
	workOrder  *clients.WorkOrderProgress
	nextUnit   *coordinator.NextUnit
	lastResult *coordinator.Outcome
}

// takeNextUnit detaches and cancels any running countdown
func (st *station) takeNextUnit() {
	st.mu.Lock()
	n := st.nextUnit
	st.nextUnit = nil
	st.mu.Unlock()

	if n != nil {
		n.Cancel()
	}
}

func (st *station) view() StationView {
	st.mu.Lock()
	defer st.mu.Unlock()

	v := StationView{
		StationID:  st.id,
		OpenedAt:   st.openedAt,
		Params:     st.params,
		Detection:  st.detection,
		Hydration:  st.hydration,
		Session:    st.session.Snapshot(),
		WorkOrder:  st.workOrder,
		LastResult: st.lastResult,
	}
	if n := st.nextUnit; n != nil {
		select {
		case <-n.Done():
		default:
			v.NextUnit = &PendingUnit{
				WorkOrderID: n.Progress().WorkOrderID,
				Remaining:   n.Remaining(),
				Delay:       n.Delay(),
			}
		}
	}
	return v
}

// StationService manages the open scan stations
type StationService struct {
	registry   *registry.Registry
	lookup     registry.LookupService
	backend    Backend
	store      repository.FallbackRepository
	reconciler *reconciler.Reconciler
	events     events.Publisher
	rule       *navigation.ReworkRule
	log        Logger
	settings   Settings
	patches    *validation.PatchValidator

	mu       sync.RWMutex
	stations map[string]*station
}

// NewStationService creates a new station service
func NewStationService(deps Deps) *StationService {
	publisher := deps.Events
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	settings := deps.Settings
	if settings.LookupConcurrency < 1 {
		settings.LookupConcurrency = 4
	}

	return &StationService{
		registry:   deps.Registry,
		lookup:     deps.Lookup,
		backend:    deps.Backend,
		store:      deps.Store,
		reconciler: deps.Reconciler,
		events:     publisher,
		rule:       deps.Rule,
		log:        deps.Logger,
		settings:   settings,
		patches:    validation.NewPatchValidator(),
		stations:   make(map[string]*station),
	}
}

// Open starts a scan session for the unit in req.URL. An open station with
// the same id is discarded first.
func (s *StationService) Open(ctx context.Context, req OpenRequest) (StationView, error) {
	params, err := navigation.Parse(req.URL, s.rule)
	if err != nil {
		return StationView{}, models.NewError(models.KindValidationRejection, "invalid navigation url", err)
	}

	stationID := req.StationID
	if stationID == "" {
		stationID = uuid.NewString()
	}

	detection := s.registry.Detect(params.VariantHint, params.Path)
	defs, err := s.registry.Resolve(detection.VariantID)
	if err != nil {
		return StationView{}, fmt.Errorf("failed to resolve variant %s: %w", detection.VariantID, err)
	}

	hydrated, report := defs, registry.HydrationReport{}
	if s.lookup != nil {
		hydrated, report = registry.Hydrate(ctx, defs, s.lookup, s.settings.LookupConcurrency, s.log)
	}

	workOrder := s.workOrder(ctx, params.WorkOrderID)

	sessionID := uuid.NewString()
	sess, err := session.New(session.Options{
		ID:                 sessionID,
		AssemblyID:         params.AssemblyID,
		WorkOrderID:        params.WorkOrderID,
		VariantID:          detection.VariantID,
		IsRework:           params.IsRework,
		Definitions:        hydrated,
		AuditSize:          s.settings.AuditLogSize,
		RequireDegradedAck: s.settings.RequireDegradedAck,
		OnAudit:            s.auditHook(stationID, sessionID, params.AssemblyID, detection.VariantID),
	})
	if err != nil {
		return StationView{}, models.NewError(models.KindConfigurationFault, "failed to create session", err)
	}

	st := &station{
		id:        stationID,
		openedAt:  time.Now().UTC(),
		params:    params,
		detection: detection,
		hydration: report,
		workOrder: workOrder,
		session:   sess,
		coordinator: coordinator.New(coordinator.Opts{
			Persistence:   s.backend,
			Store:         s.store,
			Events:        s.events,
			Logger:        s.log,
			StationID:     stationID,
			Timeout:       s.settings.CompletionTimeout,
			NextUnitDelay: s.settings.NextUnitDelay,
		}),
		rework: rework.NewHandler(s.backend, s.events, stationID, s.log),
	}

	s.mu.Lock()
	previous := s.stations[stationID]
	s.stations[stationID] = st
	s.mu.Unlock()

	if previous != nil {
		s.discard(previous)
	}

	s.log.Info("station opened",
		"station_id", stationID,
		"session_id", sessionID,
		"assembly_id", params.AssemblyID,
		"work_order_id", params.WorkOrderID,
		"variant_id", detection.VariantID,
		"variant_source", detection.Source,
		"is_rework", params.IsRework,
		"degraded", report.Degraded(),
		"blocking", report.Blocking())

	return st.view(), nil
}

// workOrder fetches the progress shown while a work order unit is open. A
// failed fetch only hides the progress; the station still opens.
func (s *StationService) workOrder(ctx context.Context, workOrderID string) *clients.WorkOrderProgress {
	if workOrderID == "" || s.backend == nil {
		return nil
	}
	progress, err := s.backend.GetWorkOrder(ctx, workOrderID)
	if err != nil {
		s.log.Warn("failed to fetch work order progress",
			"work_order_id", workOrderID,
			"error", err)
		return nil
	}
	return &progress
}

// auditHook publishes scan outcomes as events
func (s *StationService) auditHook(stationID, sessionID, assemblyID, variantID string) func(session.AuditEntry) {
	return func(e session.AuditEntry) {
		if e.Action != "scan" {
			return
		}
		s.events.Publish(context.Background(), events.Event{
			Type:       events.TypeScan,
			StationID:  stationID,
			SessionID:  sessionID,
			AssemblyID: assemblyID,
			VariantID:  variantID,
			At:         e.At,
			Data: map[string]interface{}{
				"seq":          e.Seq,
				"outcome":      e.Outcome,
				"barcode":      e.Barcode,
				"component_id": e.ComponentID,
				"state":        string(e.To),
			},
		})
	}
}

// Get returns the current view of a station
func (s *StationService) Get(stationID string) (StationView, error) {
	st, err := s.station(stationID)
	if err != nil {
		return StationView{}, err
	}
	return st.view(), nil
}

// List returns every open station ordered by id
func (s *StationService) List() []StationView {
	s.mu.RLock()
	open := make([]*station, 0, len(s.stations))
	for _, st := range s.stations {
		open = append(open, st)
	}
	s.mu.RUnlock()

	sort.Slice(open, func(i, j int) bool { return open[i].id < open[j].id })

	out := make([]StationView, 0, len(open))
	for _, st := range open {
		out = append(out, st.view())
	}
	return out
}

// Scan feeds one barcode to the station's session
func (s *StationService) Scan(stationID, barcode string) (session.Feedback, error) {
	st, err := s.station(stationID)
	if err != nil {
		return session.Feedback{}, err
	}

	fb := st.session.HandleScan(barcode)
	if fb.Blocking() {
		s.log.Error("scan hit a configuration fault",
			"station_id", stationID,
			"barcode", barcode,
			"error", fb.Error)
	} else {
		s.log.Debug("scan handled",
			"station_id", stationID,
			"barcode", barcode,
			"kind", fb.Kind,
			"remaining", fb.Remaining)
	}
	return fb, nil
}

// Complete persists the station's unit
func (s *StationService) Complete(ctx context.Context, stationID string) (*coordinator.Outcome, error) {
	st, err := s.station(stationID)
	if err != nil {
		return nil, err
	}
	st.takeNextUnit()

	outcome, err := st.coordinator.Complete(ctx, st.session)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	st.lastResult = outcome
	st.nextUnit = outcome.NextUnit
	if outcome.Progress != nil {
		st.workOrder = outcome.Progress
	}
	st.mu.Unlock()

	return outcome, nil
}

// Restart clears the station's session for a fresh attempt
func (s *StationService) Restart(stationID string) (StationView, error) {
	st, err := s.station(stationID)
	if err != nil {
		return StationView{}, err
	}
	st.takeNextUnit()

	if err := st.session.Restart(); err != nil {
		return StationView{}, err
	}
	return st.view(), nil
}

// NextUnit skips the countdown and moves to the next unit of the work order
func (s *StationService) NextUnit(stationID string) (StationView, error) {
	st, err := s.station(stationID)
	if err != nil {
		return StationView{}, err
	}

	st.mu.Lock()
	n := st.nextUnit
	st.nextUnit = nil
	st.mu.Unlock()

	if n == nil {
		return StationView{}, ErrNoPendingUnit
	}
	if err := n.Skip(); err != nil {
		return StationView{}, fmt.Errorf("failed to start next unit: %w", err)
	}
	return st.view(), nil
}

// AcknowledgeDegraded lets the station scan without verification codes
func (s *StationService) AcknowledgeDegraded(stationID string) (StationView, error) {
	st, err := s.station(stationID)
	if err != nil {
		return StationView{}, err
	}

	st.session.AcknowledgeDegraded()
	s.log.Warn("degraded mode acknowledged",
		"station_id", stationID,
		"assembly_id", st.session.AssemblyID(),
		"failed_items", st.hydration.FailedItems)
	return st.view(), nil
}

// Rework flags the station's unit for rework and closes the station
func (s *StationService) Rework(ctx context.Context, stationID, reason string) (*rework.Result, error) {
	st, err := s.station(stationID)
	if err != nil {
		return nil, err
	}

	result, err := st.rework.FlagForRework(ctx, st.session, reason)
	if err != nil {
		return nil, err
	}

	st.takeNextUnit()
	s.remove(st)
	return result, nil
}

// Audit returns the station's retained audit entries
func (s *StationService) Audit(stationID string) ([]session.AuditEntry, error) {
	st, err := s.station(stationID)
	if err != nil {
		return nil, err
	}
	return st.session.Audit(), nil
}

// Close discards a station. A completing station cannot be closed.
func (s *StationService) Close(stationID string) error {
	st, err := s.station(stationID)
	if err != nil {
		return err
	}

	if err := st.session.Close(); err != nil {
		return err
	}
	st.takeNextUnit()
	s.remove(st)

	s.log.Info("station closed",
		"station_id", stationID,
		"assembly_id", st.session.AssemblyID())
	return nil
}

// Shutdown discards every open station
func (s *StationService) Shutdown() {
	s.mu.Lock()
	open := s.stations
	s.stations = make(map[string]*station)
	s.mu.Unlock()

	for _, st := range open {
		s.discard(st)
	}
}

// Variants lists the registered variants
func (s *StationService) Variants() []models.Variant {
	return s.registry.Variants()
}

// Variant returns one variant definition
func (s *StationService) Variant(variantID string) (models.Variant, error) {
	v, ok := s.registry.Variant(variantID)
	if !ok {
		return models.Variant{}, fmt.Errorf("%q: %w", variantID, registry.ErrUnknownVariant)
	}
	return v, nil
}

// Reconfigure patches a variant. Stations already open keep the
// definitions they were opened with.
func (s *StationService) Reconfigure(variantID string, patch []byte) (models.Variant, error) {
	if err := s.patches.Validate(patch); err != nil {
		return models.Variant{}, models.NewError(models.KindValidationRejection, "invalid variant patch", err)
	}
	return s.registry.Reconfigure(variantID, patch)
}

// PendingFallback lists fallback records still waiting for the backend
func (s *StationService) PendingFallback(ctx context.Context, limit int) ([]repository.FallbackRecord, error) {
	if s.store == nil {
		return nil, coordinator.ErrNoFallbackStore
	}
	records, err := s.store.ListPending(ctx, limit)
	if err != nil {
		return nil, models.NewError(models.KindPersistenceFailure, "failed to list pending records", err)
	}
	return records, nil
}

// Reconcile runs one reconciliation pass now
func (s *StationService) Reconcile(ctx context.Context) (reconciler.Report, error) {
	if s.reconciler == nil {
		return reconciler.Report{}, ErrReconcilerDisabled
	}
	return s.reconciler.RunOnce(ctx)
}

func (s *StationService) station(stationID string) (*station, error) {
	s.mu.RLock()
	st, ok := s.stations[stationID]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%s: %w", stationID, ErrStationNotFound)
	}
	return st, nil
}

// remove drops st from the map unless it was already replaced
func (s *StationService) remove(st *station) {
	s.mu.Lock()
	if s.stations[st.id] == st {
		delete(s.stations, st.id)
	}
	s.mu.Unlock()
}

func (s *StationService) discard(st *station) {
	st.takeNextUnit()
	if err := st.session.Close(); err != nil {
		s.log.Warn("discarded station was still completing",
			"station_id", st.id,
			"session_id", st.session.ID(),
			"error", err)
	}
}
