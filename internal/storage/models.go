package storage

import "time"

// AttendanceRow ist ein gespeicherter Stempel inklusive der von der
// Datenbank vergebenen Felder
type AttendanceRow struct {
	ID           int64     `json:"id"`
	UserID       string    `json:"user_id"`
	Timestamp    time.Time `json:"timestamp"`
	DeviceSerial string    `json:"device_serial"`
	CreatedAt    time.Time `json:"created_at"`
}

// AttendanceFilter grenzt die Reporting-Abfrage ein. Nullwerte bedeuten:
// Filter nicht gesetzt.
type AttendanceFilter struct {
	UserID       string
	DeviceSerial string
	Since        time.Time
	Until        time.Time
	Limit        int
}
