package system

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stempelwerk/zeitcore/internal/api/rest"
	"github.com/stempelwerk/zeitcore/internal/api/websocket"
	"github.com/stempelwerk/zeitcore/internal/auth"
	"github.com/stempelwerk/zeitcore/internal/config"
	"github.com/stempelwerk/zeitcore/internal/fleet"
	"github.com/stempelwerk/zeitcore/internal/interfaces"
	"github.com/stempelwerk/zeitcore/internal/storage"
	"github.com/stempelwerk/zeitcore/internal/zkt"
)

// LifecycleManager fährt das System hoch und wieder herunter: Schema,
// Inventar, WebSocket-Hub, Geräteflotte, REST-API. Die Reihenfolge beim
// Stopp ist die Umkehrung des Starts.
type LifecycleManager struct {
	config      *config.Config
	storage     *storage.PostgresClient
	authService *auth.AuthService
	wsHub       *websocket.Hub
	logger      *zap.Logger

	supervisor *fleet.Supervisor
	restServer *rest.Server

	// runCancel beendet Hub und alles, was am Laufzeitkontext hängt
	runCancel context.CancelFunc

	stateMu      sync.RWMutex
	currentState SystemState

	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

var _ interfaces.LifecycleManager = (*LifecycleManager)(nil)

func NewLifecycleManager(
	store *storage.PostgresClient,
	cfg *config.Config,
	logger *zap.Logger,
) *LifecycleManager {
	authService := auth.NewAuthService(cfg.Auth)

	return &LifecycleManager{
		config:       cfg,
		storage:      store,
		authService:  authService,
		wsHub:        websocket.NewHub(logger, authService),
		logger:       logger,
		currentState: StateInitializing,
		shutdownChan: make(chan struct{}),
	}
}

// Start starts the entire system
func (lm *LifecycleManager) Start() error {
	lm.logger.Info("Starting zeitcore")

	schemaCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := lm.storage.EnsureSchema(schemaCtx); err != nil {
		lm.setError(err)
		return fmt.Errorf("failed to ensure schema: %w", err)
	}

	// Inventarfehler sind Startabbrüche, kein Gerät darf mit geratener
	// Konfiguration laufen
	devices, err := fleet.LoadInventory(lm.config.Fleet.InventoryPath)
	if err != nil {
		lm.setError(err)
		return fmt.Errorf("failed to load device inventory: %w", err)
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	lm.runCancel = runCancel

	go lm.wsHub.Run(runCtx)

	lm.supervisor = fleet.NewSupervisor(
		devices,
		lm.syncOptions(),
		zkt.NewDriver(),
		lm.storage,
		lm.wsHub,
		lm.logger,
	)
	lm.supervisor.Start(runCtx)

	if err := lm.startRESTServer(); err != nil {
		lm.setError(err)
		return fmt.Errorf("failed to start REST API: %w", err)
	}

	lm.setState(StateRunning)

	lm.logger.Info("System started successfully",
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.Int("devices", len(devices)))

	return nil
}

func (lm *LifecycleManager) syncOptions() fleet.Options {
	sc := lm.config.Sync
	return fleet.Options{
		ConnectTimeout:   sc.ConnectTimeout,
		BootstrapTimeout: sc.BootstrapTimeout,
		LiveReadTimeout:  sc.LiveReadTimeout,
		StoreTimeout:     sc.StoreTimeout,
		Backoff: fleet.Backoff{
			Base:   sc.BackoffBase,
			Max:    sc.BackoffMax,
			Jitter: sc.BackoffJitter,
		},
		SummaryInterval: sc.SummaryInterval,
	}
}

func (lm *LifecycleManager) startRESTServer() error {
	lm.restServer = rest.NewServer(lm.config, lm, lm.logger, lm.wsHub, lm.authService)
	return lm.restServer.Start()
}

// Shutdown gracefully shuts down the system
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")
		lm.setState(StateStopping)

		shutdownErr = lm.gracefulShutdown(ctx)

		lm.setState(StateStopped)
		close(lm.shutdownChan)
	})

	return shutdownErr
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	var wg sync.WaitGroup
	errChan := make(chan error, 2)

	// 1. REST API: keine neuen Anfragen mehr annehmen
	if lm.restServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := lm.restServer.Shutdown(ctx); err != nil {
				errChan <- fmt.Errorf("rest api shutdown failed: %w", err)
			}
		}()
	}

	// 2. Flotte: Sitzungen beenden, laufende Speicheraufrufe dürfen
	// innerhalb ihrer Kulanzfrist noch abschließen
	if lm.supervisor != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := lm.supervisor.Stop(ctx); err != nil {
				errChan <- fmt.Errorf("fleet stop failed: %w", err)
			}
		}()
	}

	// Wait for all shutdowns
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	var result error
	select {
	case <-done:
		lm.logger.Info("Graceful shutdown completed")
	case <-ctx.Done():
		lm.logger.Warn("Shutdown timeout, forcing stop")
		result = fmt.Errorf("shutdown timeout exceeded")
	case err := <-errChan:
		result = err
	}

	// 3. Hub zuletzt, damit letzte Zustandswechsel noch rausgehen
	if lm.runCancel != nil {
		lm.runCancel()
	}

	return result
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()

	if err := ValidateTransition(lm.currentState, state); err != nil {
		lm.logger.Warn("Unexpected state transition", zap.Error(err))
	}
	lm.currentState = state
}

func (lm *LifecycleManager) setError(err error) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()
	lm.currentState = StateError
}

// Done wird geschlossen, sobald der Shutdown durch ist. main wartet
// darauf, wenn der Stopp über die API statt per Signal ausgelöst wurde.
func (lm *LifecycleManager) Done() <-chan struct{} {
	return lm.shutdownChan
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	lm.stateMu.RLock()
	state := lm.currentState
	lm.stateMu.RUnlock()

	status := interfaces.SystemStatus{
		State:            state.String(),
		ConnectedClients: lm.wsHub.GetClientCount(),
		Timestamp:        time.Now().Unix(),
	}
	if lm.supervisor != nil {
		status.Fleet = fleet.Summarize(lm.supervisor.FleetHealth())
	}

	return status
}

// Fleet returns the device fleet supervisor
func (lm *LifecycleManager) Fleet() *fleet.Supervisor {
	return lm.supervisor
}

// Storage returns the storage client
func (lm *LifecycleManager) Storage() *storage.PostgresClient {
	return lm.storage
}

// Config returns the configuration
func (lm *LifecycleManager) Config() *config.Config {
	return lm.config
}
