package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/lyzr/assembly/common/ratelimit"
	"github.com/stretchr/testify/assert"
)

type fakeLimiter struct {
	counts map[string]int64
	err    error
}

func (f *fakeLimiter) CheckStationLimit(ctx context.Context, stationID string, limit int64, windowSec int) (*ratelimit.RateLimitResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.counts[stationID]++
	count := f.counts[stationID]
	if count > limit {
		return &ratelimit.RateLimitResult{CurrentCount: count, Limit: limit, RetryAfterSeconds: 30}, nil
	}
	return &ratelimit.RateLimitResult{Allowed: true, CurrentCount: count, Limit: limit}, nil
}

func newServer(limiter StationLimiter) *echo.Echo {
	e := echo.New()
	e.POST("/stations/:id/scan", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}, StationRateLimitMiddleware(limiter, 2, 60))
	return e
}

func scan(e *echo.Echo, station string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/stations/"+station+"/scan", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestStationRateLimit(t *testing.T) {
	e := newServer(&fakeLimiter{counts: map[string]int64{}})

	assert.Equal(t, http.StatusOK, scan(e, "a").Code)
	assert.Equal(t, http.StatusOK, scan(e, "a").Code)

	rec := scan(e, "a")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "station_rate_limit_exceeded")

	// other stations keep their own window
	assert.Equal(t, http.StatusOK, scan(e, "b").Code)
}

func TestStationRateLimitFailsOpen(t *testing.T) {
	e := newServer(&fakeLimiter{err: errors.New("redis down")})

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, scan(e, "a").Code)
	}
}
