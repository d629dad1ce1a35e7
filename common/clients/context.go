package clients

import "context"

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// OperatorIDKey is the context key for the operator (X-Operator-ID header)
	OperatorIDKey contextKey = "operator-id"

	// StationIDKey is the context key for the scan station (X-Station-ID header)
	StationIDKey contextKey = "station-id"
)

// WithOperatorID adds an operator ID to the context
func WithOperatorID(ctx context.Context, operatorID string) context.Context {
	return context.WithValue(ctx, OperatorIDKey, operatorID)
}

// GetOperatorID retrieves the operator ID from context
func GetOperatorID(ctx context.Context) (string, bool) {
	operatorID, ok := ctx.Value(OperatorIDKey).(string)
	return operatorID, ok && operatorID != ""
}

// WithStationID adds a station ID to the context
func WithStationID(ctx context.Context, stationID string) context.Context {
	return context.WithValue(ctx, StationIDKey, stationID)
}

// GetStationID retrieves the station ID from context
func GetStationID(ctx context.Context) (string, bool) {
	stationID, ok := ctx.Value(StationIDKey).(string)
	return stationID, ok && stationID != ""
}
