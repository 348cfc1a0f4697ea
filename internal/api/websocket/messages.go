package websocket

import (
	"time"

	"github.com/stempelwerk/zeitcore/internal/fleet"
	"github.com/stempelwerk/zeitcore/internal/types"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Live-Stempel, nur echte Inserts (Duplikate erreichen den Feed nie)
	MessageTypePunchRecorded MessageType = "punch_recorded"

	// Zustandswechsel eines Geräte-Workers
	MessageTypeDeviceState MessageType = "device_state"

	// Periodische Flottenkennzahlen
	MessageTypeFleetSummary MessageType = "fleet_summary"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// PunchData represents one persisted attendance event
type PunchData struct {
	UserID       string    `json:"user_id"`
	Timestamp    time.Time `json:"timestamp"`
	DeviceSerial string    `json:"device_serial"`
	Kind         string    `json:"kind"`
}

// DeviceStateData represents a worker state transition
type DeviceStateData struct {
	Device   string `json:"device"`
	State    string `json:"state"`
	Previous string `json:"previous_state"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// Helper functions for creating specific message types

func NewPunchMessage(event types.AttendanceEvent, kind string) Message {
	return NewMessage(MessageTypePunchRecorded, PunchData{
		UserID:       event.UserID,
		Timestamp:    event.Timestamp,
		DeviceSerial: event.DeviceSerial,
		Kind:         kind,
	})
}

func NewDeviceStateMessage(device, previous, state string) Message {
	return NewMessage(MessageTypeDeviceState, DeviceStateData{
		Device:   device,
		State:    state,
		Previous: previous,
	})
}

func NewFleetSummaryMessage(summary fleet.FleetSummary) Message {
	return NewMessage(MessageTypeFleetSummary, summary)
}
