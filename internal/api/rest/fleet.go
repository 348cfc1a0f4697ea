package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stempelwerk/zeitcore/internal/fleet"
	"github.com/stempelwerk/zeitcore/internal/types"
)

// GET /api/v1/fleet
// Liefert alle Geräte mit Zustand und Zählern plus eine Flottensumme.
func (s *Server) listFleet(c *gin.Context) {
	supervisor := s.lm.Fleet()
	if supervisor == nil {
		c.JSON(http.StatusServiceUnavailable, types.NewErrorResponse(
			types.ErrCodeInternal, "Fleet is not running", nil))
		return
	}

	healths := supervisor.FleetHealth()
	c.JSON(http.StatusOK, gin.H{
		"devices": healths,
		"summary": fleet.Summarize(healths),
	})
}

// GET /api/v1/fleet/:serial
// :serial ist die Geräteidentität aus dem Inventar (Seriennummer oder,
// solange keine gemeldet ist, die Adresse).
func (s *Server) getDeviceHealth(c *gin.Context) {
	supervisor := s.lm.Fleet()
	if supervisor == nil {
		c.JSON(http.StatusServiceUnavailable, types.NewErrorResponse(
			types.ErrCodeInternal, "Fleet is not running", nil))
		return
	}

	identity := c.Param("serial")
	health, ok := supervisor.WorkerHealth(identity)
	if !ok {
		c.JSON(http.StatusNotFound, types.NewErrorResponse(
			types.ErrCodeNotFound, "Unknown device", gin.H{"device": identity}))
		return
	}

	c.JSON(http.StatusOK, health)
}
