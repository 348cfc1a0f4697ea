package storage

import "fmt"

// StoreError: die Datenbank war das Problem, nicht das Gerät. Worker
// gehen damit in den Backoff, loggen die Ursache aber als storage.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) *StoreError {
	return &StoreError{Op: op, Err: err}
}
