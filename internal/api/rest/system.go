package rest

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GET /api/v1/system/status
func (s *Server) getSystemStatus(c *gin.Context) {
	status := s.lm.GetCurrentStatus()

	resp := gin.H{
		"state":             status.State,
		"fleet":             status.Fleet,
		"connected_clients": status.ConnectedClients,
		"timestamp":         status.Timestamp,
	}

	// Bestandszahlen sind Beiwerk, der Status antwortet auch ohne Datenbank
	if users, events, err := s.lm.Storage().Counts(c.Request.Context()); err != nil {
		s.logger.Warn("storage counts unavailable", zap.Error(err))
	} else {
		resp["storage"] = gin.H{
			"users":  users,
			"events": events,
		}
	}

	c.JSON(http.StatusOK, resp)
}

// POST /api/v1/system/shutdown
// Antwortet sofort mit 202, der eigentliche Stopp läuft asynchron. Die
// Verbindung endet, sobald der HTTP-Server selbst heruntergefahren wird.
func (s *Server) shutdown(c *gin.Context) {
	s.logger.Warn("shutdown requested via API",
		zap.String("subject", c.GetString("subject")),
		zap.String("client_ip", c.ClientIP()),
	)

	c.JSON(http.StatusAccepted, gin.H{
		"message": "shutdown initiated",
	})

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.lm.Config().Server.ShutdownTimeout)
		defer cancel()
		if err := s.lm.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown failed", zap.Error(err))
		}
	}()
}
