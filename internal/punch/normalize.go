// Package punch wandelt Geräte-Rohsätze in kanonische Ereignisse um.
// Reine Funktionen, kein I/O.
package punch

import (
	"fmt"
	"strings"
	"time"

	"github.com/stempelwerk/zeitcore/internal/devicebus"
	"github.com/stempelwerk/zeitcore/internal/types"
)

// ValidationError rejects a single malformed record. Der Verbindungszustand
// des Geräts bleibt davon unberührt; der Satz wird verworfen und gezählt.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid record: %s %s", e.Field, e.Reason)
}

// Normalize converts one device record into the canonical event.
// sessionSerial is what the device reported at handshake, wantSerial the
// configured identity (empty = adopt whatever the device reports). A
// mismatch means the configuration points at the wrong physical device.
func Normalize(raw devicebus.RawRecord, sessionSerial, wantSerial string) (types.AttendanceEvent, error) {
	serial := strings.TrimSpace(sessionSerial)
	if serial == "" {
		return types.AttendanceEvent{}, &ValidationError{Field: "device_serial", Reason: "missing"}
	}
	if want := strings.TrimSpace(wantSerial); want != "" && serial != want {
		return types.AttendanceEvent{}, &ValidationError{
			Field:  "device_serial",
			Reason: fmt.Sprintf("mismatch: device reports %q, configured %q", serial, want),
		}
	}

	userID := strings.TrimSpace(raw.UserID)
	if userID == "" {
		return types.AttendanceEvent{}, &ValidationError{Field: "user_id", Reason: "missing"}
	}
	if raw.Timestamp.IsZero() {
		return types.AttendanceEvent{}, &ValidationError{Field: "timestamp", Reason: "missing"}
	}

	return types.AttendanceEvent{
		UserID:       userID,
		Timestamp:    raw.Timestamp.UTC().Truncate(time.Second),
		DeviceSerial: serial,
		RawSequence:  raw.Sequence,
	}, nil
}

// NormalizeUser converts one directory entry. Leere Namen sind erlaubt,
// leere IDs nicht.
func NormalizeUser(raw devicebus.RawUser) (types.UserRecord, error) {
	userID := strings.TrimSpace(raw.UserID)
	if userID == "" {
		return types.UserRecord{}, &ValidationError{Field: "user_id", Reason: "missing"}
	}
	return types.UserRecord{
		UserID:   userID,
		Username: strings.TrimSpace(raw.Name),
	}, nil
}

// KindLabel names a punch code for logs and the live feed.
func KindLabel(code uint8) string {
	switch code {
	case 0:
		return "check_in"
	case 1:
		return "check_out"
	case 2:
		return "break_out"
	case 3:
		return "break_in"
	case 4:
		return "overtime_in"
	case 5:
		return "overtime_out"
	default:
		return "unknown"
	}
}
