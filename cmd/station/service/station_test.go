package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lyzr/assembly/cmd/station/events"
	"github.com/lyzr/assembly/cmd/station/models"
	"github.com/lyzr/assembly/cmd/station/navigation"
	"github.com/lyzr/assembly/cmd/station/reconciler"
	"github.com/lyzr/assembly/cmd/station/registry"
	"github.com/lyzr/assembly/cmd/station/repository"
	"github.com/lyzr/assembly/cmd/station/session"
	"github.com/lyzr/assembly/common/clients"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLogger implements Logger through t.Logf
type testLogger struct {
	t *testing.T
}

func (l *testLogger) Info(msg string, keysAndValues ...interface{}) {
	l.t.Logf("[INFO] %s %v", msg, keysAndValues)
}

func (l *testLogger) Error(msg string, keysAndValues ...interface{}) {
	l.t.Logf("[ERROR] %s %v", msg, keysAndValues)
}

func (l *testLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.t.Logf("[WARN] %s %v", msg, keysAndValues)
}

func (l *testLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.t.Logf("[DEBUG] %s %v", msg, keysAndValues)
}

// fakeBackend is an in-memory assembly service
type fakeBackend struct {
	mu        sync.Mutex
	down      bool
	latency   time.Duration
	quantity  int
	completed int
	reworked  []string
}

func (b *fakeBackend) SubmitAssembly(ctx context.Context, sub clients.AssemblySubmission) (clients.SubmitResult, error) {
	b.mu.Lock()
	latency := b.latency
	b.mu.Unlock()
	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return clients.SubmitResult{}, ctx.Err()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return clients.SubmitResult{}, errors.New("connection refused")
	}
	return clients.SubmitResult{GeneratedBarcode: "SRV-" + sub.AssemblyID}, nil
}

func (b *fakeBackend) UpdateWorkOrderProgress(ctx context.Context, workOrderID, barcode string, components []clients.ComponentScan) (clients.WorkOrderProgress, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return clients.WorkOrderProgress{}, errors.New("connection refused")
	}
	b.completed++
	return clients.WorkOrderProgress{WorkOrderID: workOrderID, CompletedQuantity: b.completed, Quantity: b.quantity}, nil
}

func (b *fakeBackend) GetWorkOrder(ctx context.Context, workOrderID string) (clients.WorkOrderProgress, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return clients.WorkOrderProgress{}, errors.New("connection refused")
	}
	return clients.WorkOrderProgress{WorkOrderID: workOrderID, CompletedQuantity: b.completed, Quantity: b.quantity}, nil
}

func (b *fakeBackend) FlagRework(ctx context.Context, assemblyID, reason string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return false, errors.New("connection refused")
	}
	b.reworked = append(b.reworked, assemblyID)
	return true, nil
}

func (b *fakeBackend) setDown(down bool) {
	b.mu.Lock()
	b.down = down
	b.mu.Unlock()
}

// fakeLookup resolves item codes from a map; missing items fail
type fakeLookup map[string]string

func (f fakeLookup) Lookup(ctx context.Context, itemCode string) (string, error) {
	if code, ok := f[itemCode]; ok {
		return code, nil
	}
	return "", errors.New("inventory unavailable")
}

func testVariant() models.Variant {
	one, two := "1", "22"
	return models.Variant{
		ID:     "5YB099001",
		Family: registry.FamilyYBS,
		Name:   "Test Assembly",
		Components: []models.ComponentDefinition{
			{ID: "left", ItemCode: "ITEM-L", DisplayName: "Left", Sequence: 1, VerificationCode: &one},
			{ID: "right", ItemCode: "ITEM-R", DisplayName: "Right", Sequence: 2, VerificationCode: &two},
		},
	}
}

func lookupVariant() models.Variant {
	return models.Variant{
		ID:     "5RS099002",
		Family: registry.FamilyRSM,
		Name:   "Looked Up Assembly",
		Components: []models.ComponentDefinition{
			{ID: "pcb", ItemCode: "ITEM-P", DisplayName: "PCB", Sequence: 1},
			{ID: "cable", ItemCode: "ITEM-C", DisplayName: "Cable", Sequence: 2},
		},
	}
}

type fixture struct {
	svc     *StationService
	backend *fakeBackend
	store   *repository.SQLiteFallbackRepository
	events  *events.Recorder
}

func newFixture(t *testing.T, lookup registry.LookupService, settings Settings) *fixture {
	t.Helper()
	log := &testLogger{t: t}

	reg, err := registry.New(log, testVariant(), lookupVariant())
	require.NoError(t, err)

	db, err := repository.OpenSQLite(":memory:")
	require.NoError(t, err)
	store, err := repository.NewSQLiteFallbackRepository(db)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	backend := &fakeBackend{quantity: 2}
	rec := &events.Recorder{}

	if settings.CompletionTimeout == 0 {
		settings.CompletionTimeout = time.Second
	}
	if settings.NextUnitDelay == 0 {
		settings.NextUnitDelay = time.Hour
	}

	svc := NewStationService(Deps{
		Registry: reg,
		Lookup:   lookup,
		Backend:  backend,
		Store:    store,
		Reconciler: reconciler.New(reconciler.Opts{
			Persistence: backend,
			Store:       store,
			Events:      rec,
			Logger:      log,
		}),
		Events:   rec,
		Rule:     navigation.MustReworkRule(navigation.DefaultReworkRule),
		Logger:   log,
		Settings: settings,
	})
	t.Cleanup(svc.Shutdown)

	return &fixture{svc: svc, backend: backend, store: store, events: rec}
}

func (f *fixture) open(t *testing.T, stationID, url string) StationView {
	t.Helper()
	view, err := f.svc.Open(context.Background(), OpenRequest{StationID: stationID, URL: url})
	require.NoError(t, err)
	return view
}

func (f *fixture) scanAll(t *testing.T, stationID string) {
	t.Helper()
	for _, barcode := range []string{"AAAA1xyz", "BBBB22xy"} {
		fb, err := f.svc.Scan(stationID, barcode)
		require.NoError(t, err)
		require.True(t, fb.Accepted(), "scan %s: %s", barcode, fb.Message)
	}
}

func TestOpen(t *testing.T) {
	f := newFixture(t, nil, Settings{})

	view := f.open(t, "st-1", "/assembly?id=ASM-1&workOrderId=WO-1&variant=5YB099001")
	assert.Equal(t, "st-1", view.StationID)
	assert.Equal(t, "5YB099001", view.Detection.VariantID)
	assert.Equal(t, "hint", view.Detection.Source)
	assert.Equal(t, "ASM-1", view.Session.AssemblyID)
	assert.Equal(t, "WO-1", view.Session.WorkOrderID)
	assert.Equal(t, session.StateScanning, view.Session.State)
	assert.Equal(t, 2, view.Session.Total)
	assert.False(t, view.Session.IsRework)
	require.NotNil(t, view.Session.Next)
	assert.Equal(t, "left", view.Session.Next.ID)
	require.NotNil(t, view.WorkOrder)
	assert.Equal(t, "WO-1", view.WorkOrder.WorkOrderID)
	assert.Equal(t, 0, view.WorkOrder.CompletedQuantity)
	assert.Equal(t, 2, view.WorkOrder.Quantity)

	assert.Len(t, f.svc.List(), 1)
}

func TestOpen_WorkOrderProgressUnavailable(t *testing.T) {
	f := newFixture(t, nil, Settings{})

	view := f.open(t, "st-1", "/assembly?id=ASM-1&variant=5YB099001")
	assert.Nil(t, view.WorkOrder)

	// a backend outage hides the progress but the station still opens
	f.backend.setDown(true)
	view = f.open(t, "st-2", "/assembly?id=ASM-2&workOrderId=WO-1&variant=5YB099001")
	assert.Nil(t, view.WorkOrder)
	assert.Equal(t, "WO-1", view.Session.WorkOrderID)
	assert.Equal(t, session.StateScanning, view.Session.State)
}

func TestOpen_ReworkRuleAndDefaultVariant(t *testing.T) {
	f := newFixture(t, fakeLookup{"ITEM-P": "7", "ITEM-C": "8"}, Settings{})

	view := f.open(t, "", "/assembly?id=RW-17")
	assert.NotEmpty(t, view.StationID)
	assert.True(t, view.Session.IsRework)
	assert.Equal(t, "rule", view.Params.ReworkSource)

	// no hint and no id in the path
	assert.True(t, view.Detection.Fallback)
	assert.Equal(t, "5YB099001", view.Detection.VariantID)
}

func TestOpen_InvalidURL(t *testing.T) {
	f := newFixture(t, nil, Settings{})

	_, err := f.svc.Open(context.Background(), OpenRequest{URL: "%zz"})
	assert.True(t, models.IsKind(err, models.KindValidationRejection))
}

func TestOpen_ReplacesStation(t *testing.T) {
	f := newFixture(t, nil, Settings{})

	first := f.open(t, "st-1", "/assembly?id=ASM-1&variant=5YB099001")
	second := f.open(t, "st-1", "/assembly?id=ASM-2&variant=5YB099001")
	assert.NotEqual(t, first.Session.ID, second.Session.ID)

	view, err := f.svc.Get("st-1")
	require.NoError(t, err)
	assert.Equal(t, "ASM-2", view.Session.AssemblyID)
	assert.Len(t, f.svc.List(), 1)
}

func TestScanAndCompleteWithNextUnit(t *testing.T) {
	f := newFixture(t, nil, Settings{})
	f.open(t, "st-1", "/assembly?id=ASM-1&workOrderId=WO-1&variant=5YB099001")

	fb, err := f.svc.Scan("st-1", "AAAA9xyz")
	require.NoError(t, err)
	assert.Equal(t, session.FeedbackRejected, fb.Kind)

	f.scanAll(t, "st-1")

	outcome, err := f.svc.Complete(context.Background(), "st-1")
	require.NoError(t, err)
	assert.False(t, outcome.Fallback)
	assert.Equal(t, "SRV-ASM-1", outcome.Record.GeneratedBarcode)
	assert.False(t, outcome.WorkOrderFinished)

	view, err := f.svc.Get("st-1")
	require.NoError(t, err)
	assert.Equal(t, session.StateCompleted, view.Session.State)
	require.NotNil(t, view.NextUnit)
	assert.Equal(t, 1, view.NextUnit.Remaining)
	require.NotNil(t, view.LastResult)
	require.NotNil(t, view.WorkOrder)
	assert.Equal(t, 1, view.WorkOrder.CompletedQuantity)

	view, err = f.svc.NextUnit("st-1")
	require.NoError(t, err)
	assert.Equal(t, session.StateScanning, view.Session.State)
	assert.Nil(t, view.NextUnit)

	_, err = f.svc.NextUnit("st-1")
	assert.ErrorIs(t, err, ErrNoPendingUnit)

	// the second unit finishes the work order
	f.scanAll(t, "st-1")
	outcome, err = f.svc.Complete(context.Background(), "st-1")
	require.NoError(t, err)
	assert.True(t, outcome.WorkOrderFinished)

	view, err = f.svc.Get("st-1")
	require.NoError(t, err)
	assert.Nil(t, view.NextUnit)

	assert.NotEmpty(t, f.events.OfType(events.TypeScan))
	assert.Len(t, f.events.OfType(events.TypeCompleted), 2)
}

func TestComplete_RequestCancelledMidSubmit(t *testing.T) {
	f := newFixture(t, nil, Settings{CompletionTimeout: 5 * time.Second})
	f.backend.latency = 50 * time.Millisecond
	f.open(t, "st-1", "/assembly?id=ASM-1&workOrderId=WO-1&variant=5YB099001")
	f.scanAll(t, "st-1")

	// the operator's browser drops the request while the backend works
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	outcome, err := f.svc.Complete(ctx, "st-1")
	require.NoError(t, err)
	assert.False(t, outcome.Fallback)
	assert.Equal(t, "SRV-ASM-1", outcome.Record.GeneratedBarcode)
	require.NotNil(t, outcome.Progress)
	assert.Equal(t, 1, outcome.Progress.CompletedQuantity)

	pending, err := f.store.ListPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Empty(t, f.events.OfType(events.TypeFallback))
}

func TestCompleteNotReady(t *testing.T) {
	f := newFixture(t, nil, Settings{})
	f.open(t, "st-1", "/assembly?id=ASM-1&variant=5YB099001")

	_, err := f.svc.Complete(context.Background(), "st-1")
	assert.True(t, models.IsKind(err, models.KindPreconditionError))
}

func TestFallbackAndReconcile(t *testing.T) {
	f := newFixture(t, nil, Settings{})
	ctx := context.Background()
	f.open(t, "st-1", "/assembly?id=ASM-1&variant=5YB099001")
	f.scanAll(t, "st-1")

	f.backend.setDown(true)
	outcome, err := f.svc.Complete(ctx, "st-1")
	require.NoError(t, err)
	assert.True(t, outcome.Fallback)
	assert.Regexp(t, `^5YB099001-ASM-1-\d{6}-[A-Z0-9]{4}$`, outcome.Record.GeneratedBarcode)

	pending, err := f.svc.PendingFallback(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, outcome.Record.GeneratedBarcode, pending[0].GeneratedBarcode)

	report, err := f.svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	f.backend.setDown(false)
	report, err = f.svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Reconciled)

	pending, err = f.svc.PendingFallback(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRestartCancelsNextUnit(t *testing.T) {
	f := newFixture(t, nil, Settings{})
	f.open(t, "st-1", "/assembly?id=ASM-1&workOrderId=WO-1&variant=5YB099001")
	f.scanAll(t, "st-1")

	_, err := f.svc.Complete(context.Background(), "st-1")
	require.NoError(t, err)

	view, err := f.svc.Restart("st-1")
	require.NoError(t, err)
	assert.Equal(t, session.StateScanning, view.Session.State)
	assert.Nil(t, view.NextUnit)
	assert.Zero(t, view.Session.Scanned)
}

func TestDegradedAcknowledgement(t *testing.T) {
	f := newFixture(t, fakeLookup{"ITEM-P": "7"}, Settings{RequireDegradedAck: true})
	view := f.open(t, "st-1", "/assembly?id=ASM-1&variant=5RS099002")

	assert.True(t, view.Hydration.Degraded())
	assert.Equal(t, []string{"ITEM-C"}, view.Hydration.FailedItems)
	assert.True(t, view.Session.Degraded)

	fb, err := f.svc.Scan("st-1", "AAAA7xyz")
	require.NoError(t, err)
	assert.Equal(t, session.FeedbackDegradedUnacknowledged, fb.Kind)

	view, err = f.svc.AcknowledgeDegraded("st-1")
	require.NoError(t, err)
	assert.True(t, view.Session.DegradedAcknowledged)

	fb, err = f.svc.Scan("st-1", "AAAA7xyz")
	require.NoError(t, err)
	assert.True(t, fb.Accepted())

	// the cable has no code, so anything unused passes
	fb, err = f.svc.Scan("st-1", "anything")
	require.NoError(t, err)
	assert.True(t, fb.Accepted())
	assert.True(t, fb.Degraded)
}

func TestRework(t *testing.T) {
	f := newFixture(t, nil, Settings{})
	ctx := context.Background()
	f.open(t, "st-1", "/assembly?id=ASM-1&variant=5YB099001")

	f.backend.setDown(true)
	_, err := f.svc.Rework(ctx, "st-1", "")
	assert.True(t, models.IsKind(err, models.KindPersistenceFailure))

	// the station survives a failed request
	_, err = f.svc.Get("st-1")
	require.NoError(t, err)

	f.backend.setDown(false)
	result, err := f.svc.Rework(ctx, "st-1", "  bent pin ")
	require.NoError(t, err)
	assert.Equal(t, "bent pin", result.Reason)
	assert.Equal(t, []string{"ASM-1"}, f.backend.reworked)

	_, err = f.svc.Get("st-1")
	assert.ErrorIs(t, err, ErrStationNotFound)
	assert.Len(t, f.events.OfType(events.TypeRework), 1)
}

func TestAuditAndClose(t *testing.T) {
	f := newFixture(t, nil, Settings{})
	f.open(t, "st-1", "/assembly?id=ASM-1&variant=5YB099001")

	_, err := f.svc.Scan("st-1", "AAAA1xyz")
	require.NoError(t, err)

	audit, err := f.svc.Audit("st-1")
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, "scan", audit[0].Action)
	assert.Equal(t, "success", audit[0].Outcome)

	require.NoError(t, f.svc.Close("st-1"))
	assert.ErrorIs(t, f.svc.Close("st-1"), ErrStationNotFound)

	_, err = f.svc.Scan("st-1", "BBBB22xy")
	assert.ErrorIs(t, err, ErrStationNotFound)
}

func TestVariantsAndReconfigure(t *testing.T) {
	f := newFixture(t, nil, Settings{})

	assert.Len(t, f.svc.Variants(), 2)

	_, err := f.svc.Variant("nope")
	assert.ErrorIs(t, err, registry.ErrUnknownVariant)

	v, err := f.svc.Reconfigure("5YB099001", []byte(`[{"op":"replace","path":"/components/1/verification_code","value":"33"}]`))
	require.NoError(t, err)
	require.NotNil(t, v.Components[1].VerificationCode)
	assert.Equal(t, "33", *v.Components[1].VerificationCode)

	view := f.open(t, "st-1", "/assembly?id=ASM-1&variant=5YB099001")
	assert.Equal(t, "33", *view.Session.Entries[1].VerificationCode)

	_, err = f.svc.Reconfigure("5YB099001", []byte(`[{"op":"replace","path":"/id","value":"X"}]`))
	assert.True(t, models.IsKind(err, models.KindValidationRejection))
}

func TestReconcileDisabled(t *testing.T) {
	svc := NewStationService(Deps{Logger: &testLogger{t: t}})

	_, err := svc.Reconcile(context.Background())
	assert.ErrorIs(t, err, ErrReconcilerDisabled)

	_, err = svc.PendingFallback(context.Background(), 10)
	assert.Error(t, err)
}
