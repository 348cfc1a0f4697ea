package types

import "time"

// UserRecord ist die kanonische Form eines Terminal-Benutzers.
// Username darf leer sein, solange das Terminal den Namen noch nicht
// geliefert hat; user_id ist die fachliche Identität.
type UserRecord struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AttendanceEvent is one canonical punch. The triple
// (UserID, DeviceSerial, Timestamp) identifies the event fleet-wide;
// Timestamp is always UTC. RawSequence ist der gerätelokale Zähler,
// 0 wenn das Terminal keinen liefert; er gehört nicht zum Schlüssel.
type AttendanceEvent struct {
	UserID       string    `json:"user_id"`
	Timestamp    time.Time `json:"timestamp"`
	DeviceSerial string    `json:"device_serial"`
	RawSequence  uint32    `json:"raw_sequence,omitempty"`
}

// Key renders the natural identity of the event, used in logs.
func (e AttendanceEvent) Key() string {
	return e.UserID + "@" + e.DeviceSerial + "@" + e.Timestamp.Format(time.RFC3339)
}

// InsertOutcome reports what a conflict-tolerant insert actually did.
type InsertOutcome int

const (
	OutcomeUnknown InsertOutcome = iota
	OutcomeInserted
	OutcomeAlreadyExists
)

func (o InsertOutcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeAlreadyExists:
		return "already_exists"
	default:
		return "unknown"
	}
}
