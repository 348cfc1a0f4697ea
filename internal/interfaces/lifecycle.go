// Package interfaces bricht den Importzyklus zwischen REST-Schicht und
// Lifecycle-Manager: die API spricht gegen dieses Interface, das konkrete
// System implementiert es.
package interfaces

import (
	"context"

	"github.com/stempelwerk/zeitcore/internal/config"
	"github.com/stempelwerk/zeitcore/internal/fleet"
	"github.com/stempelwerk/zeitcore/internal/storage"
)

// SystemStatus ist der Momentzustand für den Statusendpunkt
type SystemStatus struct {
	State            string             `json:"state"`
	Fleet            fleet.FleetSummary `json:"fleet"`
	ConnectedClients int                `json:"connected_clients"`
	Timestamp        int64              `json:"timestamp"`
}

// LifecycleManager ist die Sicht der API auf das laufende System
type LifecycleManager interface {
	Config() *config.Config
	Storage() *storage.PostgresClient
	Fleet() *fleet.Supervisor
	GetCurrentStatus() SystemStatus
	Shutdown(ctx context.Context) error
}
