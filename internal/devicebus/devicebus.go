// Package devicebus definiert die Sitzungs-Abstraktion über ein einzelnes
// Terminal. Treiber (internal/zkt) implementieren sie, Worker konsumieren
// sie; oberhalb dieses Pakets existiert kein Wire-Format mehr.
package devicebus

import (
	"context"
	"time"
)

// RawUser is a user entry as the terminal reports it.
type RawUser struct {
	UserID    string
	Name      string
	Privilege uint8
	CardNo    uint32
}

// RawRecord is one attendance record as the terminal reports it.
// Timestamp trägt die Gerätezeitzone; kanonisiert wird erst im Normalizer.
type RawRecord struct {
	UserID    string
	Timestamp time.Time
	Punch     uint8 // 0=in 1=out 2=break-out 3=break-in 4=ot-in 5=ot-out
	Status    uint8 // Verifikationsart (Finger, Karte, PIN)
	Sequence  uint32
}

// ConnectParams describes how to reach one terminal.
type ConnectParams struct {
	Address  string // host:port
	Timeout  time.Duration
	Location *time.Location // Gerätezeitzone für die Zeit-Dekodierung
}

// Driver opens sessions. One Driver serves the whole fleet.
type Driver interface {
	Connect(ctx context.Context, params ConnectParams) (Session, error)
}

// Session is one live connection. Implementations must make Close
// idempotent and safe after any error; everything else may fail with
// *ConnectionError or *ProtocolError.
type Session interface {
	// Serial is the identity the device reported during the handshake,
	// or the dial address if the device does not expose one.
	Serial() string

	// Ping verifies the device still answers. Cheap, safe in Live.
	Ping(ctx context.Context) error

	// ListUsers reads the on-device user directory.
	ListUsers(ctx context.Context) ([]RawUser, error)

	// AttendanceLog drains the on-device attendance buffer.
	AttendanceLog(ctx context.Context) ([]RawRecord, error)

	// Subscribe arms live event delivery. Records arrive via Next.
	Subscribe(ctx context.Context) (EventStream, error)

	Close() error
}

// EventStream yields live records. Next blocks until a record arrives,
// ctx is done, or the transport fails; it never ends silently.
type EventStream interface {
	Next(ctx context.Context) (RawRecord, error)
}
