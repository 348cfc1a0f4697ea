package rest

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/stempelwerk/zeitcore/internal/storage"
	"github.com/stempelwerk/zeitcore/internal/types"
)

// parseAttendanceFilter übersetzt Query-Parameter in einen Filter.
// Zeitstempel kommen als RFC 3339, damit die Zeitzone immer explizit ist.
func parseAttendanceFilter(c *gin.Context) (storage.AttendanceFilter, error) {
	filter := storage.AttendanceFilter{
		UserID:       c.Query("user_id"),
		DeviceSerial: c.Query("device_serial"),
	}

	if v := c.Query("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, fmt.Errorf("invalid query parameter since: %w", err)
		}
		filter.Since = t
	}
	if v := c.Query("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, fmt.Errorf("invalid query parameter until: %w", err)
		}
		filter.Until = t
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return filter, fmt.Errorf("invalid query parameter limit: %q", v)
		}
		filter.Limit = n
	}

	return filter, nil
}

// GET /api/v1/attendance?user_id=&device_serial=&since=&until=&limit=
func (s *Server) listAttendance(c *gin.Context) {
	filter, err := parseAttendanceFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(
			types.ErrCodeBadRequest, err.Error(), nil))
		return
	}

	events, err := s.lm.Storage().QueryAttendance(c.Request.Context(), filter)
	if err != nil {
		s.logger.Error("attendance query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(
			types.ErrCodeInternal, "Failed to query attendance", nil))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"count":  len(events),
	})
}

// GET /api/v1/users
func (s *Server) listUsers(c *gin.Context) {
	users, err := s.lm.Storage().ListUsers(c.Request.Context())
	if err != nil {
		s.logger.Error("user listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(
			types.ErrCodeInternal, "Failed to list users", nil))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"users": users,
		"count": len(users),
	})
}
