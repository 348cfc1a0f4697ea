package fleet

import "time"

type WorkerState string

const (
	StateDisconnected  WorkerState = "disconnected"
	StateConnecting    WorkerState = "connecting"
	StateBootstrapping WorkerState = "bootstrapping"
	StateLive          WorkerState = "live"
	StateReconnecting  WorkerState = "reconnecting"
)

// DeviceHealth ist der Blick von außen auf einen Worker. Der Worker
// besitzt die Daten exklusiv; nach außen gehen nur Kopien.
type DeviceHealth struct {
	Serial               string      `json:"serial"`
	Address              string      `json:"address"`
	State                WorkerState `json:"state"`
	SessionID            string      `json:"session_id,omitempty"`
	LastSuccessAt        *time.Time  `json:"last_success_at,omitempty"`
	ConsecutiveFailures  int         `json:"consecutive_failures"`
	EventsPersisted      int64       `json:"events_persisted"`
	DuplicatesSuppressed int64       `json:"duplicates_suppressed"`
	ValidationDrops      int64       `json:"validation_drops"`
	LastError            string      `json:"last_error,omitempty"`
	LastStateChange      time.Time   `json:"last_state_change"`
}
