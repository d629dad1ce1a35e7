package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/lyzr/assembly/cmd/station/container"
	"github.com/lyzr/assembly/cmd/station/models"
	"github.com/lyzr/assembly/cmd/station/registry"
	"github.com/lyzr/assembly/cmd/station/service"
	"github.com/lyzr/assembly/common/bootstrap"
	"github.com/lyzr/assembly/common/clients"
	"github.com/lyzr/assembly/common/config"
	"github.com/lyzr/assembly/common/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

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

// stubBackend issues server barcodes and records the operator of each call
type stubBackend struct {
	mu        sync.Mutex
	fail      bool
	operators []string
}

func (b *stubBackend) note(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	op, _ := clients.GetOperatorID(ctx)
	b.operators = append(b.operators, op)
}

func (b *stubBackend) SubmitAssembly(ctx context.Context, sub clients.AssemblySubmission) (clients.SubmitResult, error) {
	b.note(ctx)
	if b.fail {
		return clients.SubmitResult{}, errors.New("backend down")
	}
	return clients.SubmitResult{GeneratedBarcode: "SRV-" + sub.AssemblyID}, nil
}

func (b *stubBackend) UpdateWorkOrderProgress(ctx context.Context, workOrderID, barcode string, components []clients.ComponentScan) (clients.WorkOrderProgress, error) {
	return clients.WorkOrderProgress{WorkOrderID: workOrderID, CompletedQuantity: 1, Quantity: 1}, nil
}

func (b *stubBackend) GetWorkOrder(ctx context.Context, workOrderID string) (clients.WorkOrderProgress, error) {
	return clients.WorkOrderProgress{WorkOrderID: workOrderID, Quantity: 1}, nil
}

func (b *stubBackend) FlagRework(ctx context.Context, assemblyID, reason string) (bool, error) {
	b.note(ctx)
	return !b.fail, nil
}

// countingLimiter allows limit scans per station and never resets
type countingLimiter struct {
	mu     sync.Mutex
	counts map[string]int64
}

func (l *countingLimiter) CheckStationLimit(ctx context.Context, stationID string, limit int64, windowSec int) (*ratelimit.RateLimitResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts[stationID]++
	count := l.counts[stationID]
	return &ratelimit.RateLimitResult{
		Allowed:           count <= limit,
		CurrentCount:      count,
		Limit:             limit,
		RetryAfterSeconds: int64(windowSec),
	}, nil
}

func testServer(t *testing.T, backend *stubBackend) *echo.Echo {
	t.Helper()
	return testServerWith(t, backend, func(*container.Container) {})
}

func testServerWith(t *testing.T, backend *stubBackend, customize func(*container.Container)) *echo.Echo {
	t.Helper()
	log := &testLogger{t: t}

	code1, code2 := "1", "22"
	reg, err := registry.New(log, models.Variant{
		ID:     "5YB099001",
		Family: registry.FamilyYBS,
		Name:   "Test Assembly",
		Components: []models.ComponentDefinition{
			{ID: "left", ItemCode: "ITEM-L", DisplayName: "Left", Sequence: 1, VerificationCode: &code1},
			{ID: "right", ItemCode: "ITEM-R", DisplayName: "Right", Sequence: 2, VerificationCode: &code2},
		},
	})
	require.NoError(t, err)

	svc := service.NewStationService(service.Deps{
		Registry: reg,
		Backend:  backend,
		Logger:   log,
	})
	t.Cleanup(svc.Shutdown)

	c := &container.Container{Registry: reg, StationService: svc}
	customize(c)
	e := echo.New()
	RegisterVariantRoutes(e, c)
	RegisterStationRoutes(e, c)
	RegisterFallbackRoutes(e, c)
	return e
}

func do(e *echo.Echo, method, path string, body interface{}, operator string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, _ := json.Marshal(b)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if operator != "" {
		req.Header.Set("X-Operator-ID", operator)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestStationLifecycle(t *testing.T) {
	backend := &stubBackend{}
	e := testServer(t, backend)

	rec := do(e, http.MethodPost, "/api/v1/stations", map[string]string{
		"station_id": "line-3",
		"url":        "/assembly?id=ASM-1&variant=5YB099001",
	}, "op-7")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(e, http.MethodPost, "/api/v1/stations/line-3/scan", map[string]string{"barcode": "AAAA9xyz"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["accepted"])
	assert.Contains(t, body["error"], "does not match")

	for _, barcode := range []string{"AAAA1xyz", "BBBB22xy"} {
		rec = do(e, http.MethodPost, "/api/v1/stations/line-3/scan", map[string]string{"barcode": barcode}, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, decode(t, rec)["accepted"])
	}

	rec = do(e, http.MethodPost, "/api/v1/stations/line-3/complete", nil, "op-7")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body = decode(t, rec)
	assert.Equal(t, false, body["fallback"])
	record := body["record"].(map[string]interface{})
	assert.Equal(t, "SRV-ASM-1", record["generated_barcode"])
	assert.Equal(t, []string{"op-7"}, backend.operators)

	rec = do(e, http.MethodGet, "/api/v1/stations/line-3/audit", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 5, decode(t, rec)["count"])

	rec = do(e, http.MethodDelete, "/api/v1/stations/line-3", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(e, http.MethodGet, "/api/v1/stations/line-3", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestErrorStatuses(t *testing.T) {
	e := testServer(t, &stubBackend{})

	rec := do(e, http.MethodPost, "/api/v1/stations", map[string]string{}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(e, http.MethodPost, "/api/v1/stations", map[string]string{"url": "%zz"}, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, string(models.KindValidationRejection), decode(t, rec)["kind"])

	rec = do(e, http.MethodPost, "/api/v1/stations", map[string]string{"station_id": "s", "url": "/assembly?id=A&variant=5YB099001"}, "")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(e, http.MethodPost, "/api/v1/stations/s/complete", nil, "")
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	assert.Equal(t, true, decode(t, rec)["blocking"])

	rec = do(e, http.MethodPost, "/api/v1/stations/s/next", nil, "")
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)

	rec = do(e, http.MethodPost, "/api/v1/stations/missing/scan", map[string]string{"barcode": "x"}, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// no fallback store and no reconciler are configured
	rec = do(e, http.MethodGet, "/api/v1/fallback/pending", nil, "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
	rec = do(e, http.MethodPost, "/api/v1/fallback/reconcile", nil, "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
	rec = do(e, http.MethodGet, "/api/v1/fallback/pending?limit=0", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRework(t *testing.T) {
	backend := &stubBackend{fail: true}
	e := testServer(t, backend)

	rec := do(e, http.MethodPost, "/api/v1/stations", map[string]string{"station_id": "s", "url": "/assembly?id=A&variant=5YB099001"}, "")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(e, http.MethodPost, "/api/v1/stations/s/rework", map[string]string{"reason": "scratched"}, "op-1")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	backend.mu.Lock()
	backend.fail = false
	backend.mu.Unlock()

	rec = do(e, http.MethodPost, "/api/v1/stations/s/rework", map[string]string{"reason": "scratched"}, "op-1")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "/assembly/pending", body["navigate"])

	rec = do(e, http.MethodGet, "/api/v1/stations/s", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVariantRoutes(t *testing.T) {
	e := testServer(t, &stubBackend{})

	rec := do(e, http.MethodGet, "/api/v1/variants", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["count"])

	rec = do(e, http.MethodGet, "/api/v1/variants/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	patch := `[{"op":"replace","path":"/components/0/verification_code","value":"9"}]`

	rec = do(e, http.MethodPatch, "/api/v1/variants/5YB099001", patch, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(e, http.MethodPatch, "/api/v1/variants/5YB099001", patch, "op-1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, strings.Contains(rec.Body.String(), `"verification_code":"9"`))

	rec = do(e, http.MethodPatch, "/api/v1/variants/5YB099001", `[{"op":"replace","path":"/id","value":"X"}]`, "op-1")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestScanRateLimit(t *testing.T) {
	e := testServerWith(t, &stubBackend{}, func(c *container.Container) {
		c.Components = &bootstrap.Components{Config: &config.Config{
			RateLimit: config.RateLimitConfig{StationScans: 2, WindowSeconds: 60},
		}}
		c.ScanLimiter = &countingLimiter{counts: map[string]int64{}}
	})

	rec := do(e, http.MethodPost, "/api/v1/stations", map[string]string{"station_id": "s", "url": "/assembly?id=A&variant=5YB099001"}, "")
	require.Equal(t, http.StatusCreated, rec.Code)

	for _, barcode := range []string{"AAAA1xyz", "BBBB22xy"} {
		rec = do(e, http.MethodPost, "/api/v1/stations/s/scan", map[string]string{"barcode": barcode}, "")
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec = do(e, http.MethodPost, "/api/v1/stations/s/scan", map[string]string{"barcode": "AAAA1xyz"}, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	// completion is not counted against the scan limit
	rec = do(e, http.MethodPost, "/api/v1/stations/s/complete", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}
