package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResult(t *testing.T) {
	res, err := parseResult([]interface{}{int64(1), int64(3), int64(120), int64(0)})
	require.NoError(t, err)
	assert.Equal(t, &RateLimitResult{Allowed: true, CurrentCount: 3, Limit: 120}, res)

	res, err = parseResult([]interface{}{int64(0), int64(121), int64(120), int64(42)})
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.EqualValues(t, 42, res.RetryAfterSeconds)

	_, err = parseResult([]interface{}{int64(1)})
	assert.Error(t, err)

	_, err = parseResult([]interface{}{"1", int64(1), int64(1), int64(0)})
	assert.Error(t, err)
}

func TestStationKey(t *testing.T) {
	assert.Equal(t, "rate_limit:station:line-3:scan", StationKey("line-3"))
}
