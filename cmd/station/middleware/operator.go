package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/lyzr/assembly/common/clients"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// OperatorKey is the context key for the operator id
	OperatorKey ContextKey = "operator_id"

	// OperatorHeader carries the operator id on API requests
	OperatorHeader = "X-Operator-ID"
)

// ExtractOperator copies the X-Operator-ID header into the echo context and
// the request context, so backend calls made for the request carry it too.
//
// Usage:
//
//	g := e.Group("/api/v1/stations")
//	g.Use(middleware.ExtractOperator())
func ExtractOperator() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			operatorID := c.Request().Header.Get(OperatorHeader)
			if operatorID != "" {
				c.Set(string(OperatorKey), operatorID)
				req := c.Request()
				c.SetRequest(req.WithContext(clients.WithOperatorID(req.Context(), operatorID)))
			}
			return next(c)
		}
	}
}

// RequireOperator is the strict variant of ExtractOperator for routes that
// change backend state
func RequireOperator() echo.MiddlewareFunc {
	extract := ExtractOperator()
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Header.Get(OperatorHeader) == "" {
				return c.JSON(http.StatusUnauthorized, map[string]interface{}{
					"error": "X-Operator-ID header is required",
				})
			}
			return extract(next)(c)
		}
	}
}

// GetOperator returns the operator id, or "" when the header was absent
func GetOperator(c echo.Context) string {
	operatorID, _ := c.Get(string(OperatorKey)).(string)
	return operatorID
}
