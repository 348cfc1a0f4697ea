package rest

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stempelwerk/zeitcore/internal/auth"
	"github.com/stempelwerk/zeitcore/internal/types"
)

// TokenRequest ist der Tauschantrag: statischer API-Key gegen ein
// kurzlebiges Bearer-Token.
type TokenRequest struct {
	APIKey string `json:"api_key" binding:"required"`
}

type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// POST /api/v1/auth/token
func (s *Server) issueToken(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(
			types.ErrCodeBadRequest, "Invalid request body", err.Error()))
		return
	}

	grant, err := s.authService.Login(req.APIKey)
	if err != nil {
		if errors.Is(err, auth.ErrLoginDisabled) {
			c.JSON(http.StatusForbidden, types.NewErrorResponse(
				types.ErrCodeUnauthorized, "Token issuing is disabled", nil))
			return
		}
		// absichtlich ohne Details, ein Angreifer lernt hier nichts
		c.JSON(http.StatusUnauthorized, types.NewErrorResponse(
			types.ErrCodeUnauthorized, "Invalid API key", nil))
		return
	}

	c.JSON(http.StatusOK, TokenResponse{
		AccessToken: grant.Token,
		TokenType:   "Bearer",
		ExpiresAt:   grant.ExpiresAt,
	})
}
