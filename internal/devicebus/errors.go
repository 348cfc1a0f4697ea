package devicebus

import (
	"errors"
	"fmt"
)

// ConnectionError: Transportfehler (refused, timeout, reset).
// Immer retry-fähig, nie fatal.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError: das Gerät hat geantwortet, aber falsch. Wird wie ein
// ConnectionError behandelt, weil Geräte sich nach einem internen Reset
// wieder fangen.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// ErrSessionClosed wird von Aufrufen auf einer geschlossenen Session
// geliefert, verpackt in einen ConnectionError.
var ErrSessionClosed = errors.New("session closed")
