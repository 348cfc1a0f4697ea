package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildAttendanceQueryNoFilters(t *testing.T) {
	query, args := buildAttendanceQuery(AttendanceFilter{})

	assert.NotContains(t, query, "WHERE")
	assert.Contains(t, query, "ORDER BY timestamp DESC LIMIT $1")
	require.Len(t, args, 1)
	assert.Equal(t, defaultQueryLimit, args[0])
}

func TestBuildAttendanceQueryAllFilters(t *testing.T) {
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	until := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	query, args := buildAttendanceQuery(AttendanceFilter{
		UserID:       "42",
		DeviceSerial: "DEV1",
		Since:        since,
		Until:        until,
		Limit:        50,
	})

	assert.Contains(t, query, "user_id = $1")
	assert.Contains(t, query, "device_serial = $2")
	assert.Contains(t, query, "timestamp >= $3")
	assert.Contains(t, query, "timestamp < $4")
	assert.Contains(t, query, "LIMIT $5")

	require.Len(t, args, 5)
	assert.Equal(t, "42", args[0])
	assert.Equal(t, "DEV1", args[1])
	assert.Equal(t, since, args[2])
	assert.Equal(t, until, args[3])
	assert.Equal(t, 50, args[4])
}

func TestBuildAttendanceQueryClampsLimit(t *testing.T) {
	_, args := buildAttendanceQuery(AttendanceFilter{Limit: 999999})
	assert.Equal(t, maxQueryLimit, args[len(args)-1])

	_, args = buildAttendanceQuery(AttendanceFilter{Limit: -5})
	assert.Equal(t, defaultQueryLimit, args[len(args)-1])
}

func TestStoreErrorWrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := storeErr("insert event", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "insert event")

	var serr *StoreError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "insert event", serr.Op)
}
