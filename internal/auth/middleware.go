package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/stempelwerk/zeitcore/internal/types"
)

// RequireToken validates the bearer token and aborts unauthenticated
// requests.
func (a *AuthService) RequireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized,
				types.NewErrorResponse(types.ErrCodeUnauthorized, "Missing authorization header", nil))
			c.Abort()
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized,
				types.NewErrorResponse(types.ErrCodeUnauthorized, "Invalid authorization header format", nil))
			c.Abort()
			return
		}

		claims, err := a.ValidateToken(parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized,
				types.NewErrorResponse(types.ErrCodeUnauthorized, "Invalid or expired token", nil))
			c.Abort()
			return
		}

		c.Set("subject", claims.Subject)
		c.Set("role", claims.Role)
		c.Next()
	}
}
