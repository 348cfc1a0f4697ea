package punch

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stempelwerk/zeitcore/internal/devicebus"
)

func berlin(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	return loc
}

func TestNormalizeCanonicalizesToUTC(t *testing.T) {
	raw := devicebus.RawRecord{
		UserID:    " 42 ",
		Timestamp: time.Date(2024, 1, 1, 10, 0, 0, 0, berlin(t)),
		Punch:     1,
		Sequence:  7,
	}

	ev, err := Normalize(raw, "DEV1", "DEV1")
	require.NoError(t, err)

	assert.Equal(t, "42", ev.UserID)
	assert.Equal(t, "DEV1", ev.DeviceSerial)
	assert.Equal(t, uint32(7), ev.RawSequence)
	assert.Equal(t, time.UTC, ev.Timestamp.Location())
	assert.Equal(t, time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC), ev.Timestamp)
}

func TestNormalizeAdoptsSessionSerialWhenUnconfigured(t *testing.T) {
	raw := devicebus.RawRecord{
		UserID:    "7",
		Timestamp: time.Date(2024, 3, 4, 8, 30, 0, 0, time.UTC),
	}

	ev, err := Normalize(raw, " 10.0.0.5:4370 ", "")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5:4370", ev.DeviceSerial)
}

func TestNormalizeRejectsCrossWiredSerial(t *testing.T) {
	raw := devicebus.RawRecord{
		UserID:    "7",
		Timestamp: time.Date(2024, 3, 4, 8, 30, 0, 0, time.UTC),
	}

	_, err := Normalize(raw, "DEV9", "DEV1")
	require.Error(t, err)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "device_serial", verr.Field)
}

func TestNormalizeRejectsMissingFields(t *testing.T) {
	var verr *ValidationError

	_, err := Normalize(devicebus.RawRecord{
		Timestamp: time.Date(2024, 3, 4, 8, 30, 0, 0, time.UTC),
	}, "DEV1", "DEV1")
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "user_id", verr.Field)

	_, err = Normalize(devicebus.RawRecord{UserID: "42"}, "DEV1", "DEV1")
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "timestamp", verr.Field)

	_, err = Normalize(devicebus.RawRecord{
		UserID:    "42",
		Timestamp: time.Date(2024, 3, 4, 8, 30, 0, 0, time.UTC),
	}, "  ", "")
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "device_serial", verr.Field)
}

func TestNormalizeTruncatesSubSecond(t *testing.T) {
	raw := devicebus.RawRecord{
		UserID:    "42",
		Timestamp: time.Date(2024, 1, 1, 9, 0, 0, 999_000_000, time.UTC),
	}

	ev, err := Normalize(raw, "DEV1", "")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC), ev.Timestamp)
}

func TestNormalizeUser(t *testing.T) {
	u, err := NormalizeUser(devicebus.RawUser{UserID: " 42 ", Name: " Anna Muster "})
	require.NoError(t, err)
	assert.Equal(t, "42", u.UserID)
	assert.Equal(t, "Anna Muster", u.Username)

	// Name darf fehlen
	u, err = NormalizeUser(devicebus.RawUser{UserID: "43"})
	require.NoError(t, err)
	assert.Empty(t, u.Username)

	_, err = NormalizeUser(devicebus.RawUser{Name: "niemand"})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
}

func TestKindLabel(t *testing.T) {
	assert.Equal(t, "check_in", KindLabel(0))
	assert.Equal(t, "check_out", KindLabel(1))
	assert.Equal(t, "unknown", KindLabel(99))
}
