package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/stempelwerk/zeitcore/internal/api/websocket"
	"github.com/stempelwerk/zeitcore/internal/auth"
	"github.com/stempelwerk/zeitcore/internal/config"
	"github.com/stempelwerk/zeitcore/internal/interfaces"
)

// Server ist die Reporting- und Betriebs-API. Sie liest Flottenzustand
// und Stempeldaten, schreibt aber nie selbst an den Terminals vorbei in
// die Datenbank.
type Server struct {
	router      *gin.Engine
	lm          interfaces.LifecycleManager
	logger      *zap.Logger
	server      *http.Server
	wsHub       *websocket.Hub
	authService *auth.AuthService
}

func NewServer(cfg *config.Config, lm interfaces.LifecycleManager, logger *zap.Logger, wsHub *websocket.Hub, authService *auth.AuthService) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		router:      router,
		lm:          lm,
		logger:      logger,
		wsHub:       wsHub,
		authService: authService,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) Start() error {
	s.logger.Info("Starting REST API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Fatal("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	// Public routes (no auth required)
	s.router.GET("/health", s.healthCheck)

	// API v1
	v1 := s.router.Group("/api/v1")
	{
		// ==================== AUTH (PUBLIC) ====================
		authPublic := v1.Group("/auth")
		{
			authPublic.POST("/token", s.issueToken)
		}

		// ==================== FLEET (AUTHENTICATED) ====================
		fleetGroup := v1.Group("/fleet")
		fleetGroup.Use(s.authService.RequireToken())
		{
			fleetGroup.GET("", s.listFleet)
			fleetGroup.GET("/:serial", s.getDeviceHealth)
		}

		// ==================== REPORTING (AUTHENTICATED) ====================
		reporting := v1.Group("")
		reporting.Use(s.authService.RequireToken())
		{
			reporting.GET("/attendance", s.listAttendance)
			reporting.GET("/users", s.listUsers)
		}

		// ==================== SYSTEM (AUTHENTICATED) ====================
		systemGroup := v1.Group("/system")
		systemGroup.Use(s.authService.RequireToken())
		{
			systemGroup.GET("/status", s.getSystemStatus)
			systemGroup.POST("/shutdown", s.shutdown)
		}

		// ==================== WEBSOCKET (PUBLIC - Auth via first message) ====================
		ws := v1.Group("/ws")
		{
			ws.GET("/live", s.wsLiveConnection)
			ws.GET("/status", s.authService.RequireToken(), s.wsStatus)
		}
	}
}

// WebSocket handlers
func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

func (s *Server) wsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": s.wsHub.GetClientCount(),
	})
}

// Health check (public)
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}
