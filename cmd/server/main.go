package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/stempelwerk/zeitcore/internal/config"
	"github.com/stempelwerk/zeitcore/internal/storage"
	"github.com/stempelwerk/zeitcore/internal/system"
)

func main() {
	// Logger initialisieren
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Config laden
	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	logger.Info("Config loaded successfully")

	if !cfg.Auth.IsProductionReady() {
		logger.Warn("Running with development secrets, do not expose this instance")
	}

	// PostgreSQL verbinden
	db, err := storage.NewPostgresClient(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	logger.Info("Database connected successfully")

	// Lifecycle Manager
	lifecycle := system.NewLifecycleManager(db, cfg, logger)

	// System starten
	if err := lifecycle.Start(); err != nil {
		logger.Fatal("Failed to start system", zap.Error(err))
	}

	logger.Info("zeitcore started successfully")

	// Graceful Shutdown auf Signal oder API-Befehl
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", zap.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := lifecycle.Shutdown(ctx); err != nil {
			logger.Error("Shutdown failed", zap.Error(err))
			os.Exit(1)
		}
	case <-lifecycle.Done():
		logger.Info("Shutdown completed via API request")
	}

	logger.Info("zeitcore stopped successfully")
}
