package middleware

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/lyzr/assembly/common/ratelimit"
)

// StationLimiter counts scan requests of one station
type StationLimiter interface {
	CheckStationLimit(ctx context.Context, stationID string, limit int64, windowSec int) (*ratelimit.RateLimitResult, error)
}

// StationRateLimitMiddleware caps the scan requests of the station named by
// the :id path parameter. Counter failures let the request through.
func StationRateLimitMiddleware(limiter StationLimiter, limit int64, windowSec int) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			stationID := c.Param("id")
			if stationID == "" {
				return next(c)
			}

			result, err := limiter.CheckStationLimit(c.Request().Context(), stationID, limit, windowSec)
			if err != nil {
				// On error, allow request (fail open for availability)
				return next(c)
			}

			if !result.Allowed {
				c.Response().Header().Set("Retry-After", strconv.FormatInt(result.RetryAfterSeconds, 10))
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"error":   "station_rate_limit_exceeded",
					"message": "Too many scans from this station. Check the scanner trigger.",
					"details": map[string]interface{}{
						"station_id":          stationID,
						"limit":               result.Limit,
						"window_seconds":      windowSec,
						"current_count":       result.CurrentCount,
						"retry_after_seconds": result.RetryAfterSeconds,
					},
				})
			}

			return next(c)
		}
	}
}
