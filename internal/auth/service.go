package auth

import (
	"crypto/subtle"
	"errors"
	"time"

	"github.com/stempelwerk/zeitcore/internal/config"
)

const RoleOps = "ops"

var (
	// ErrLoginDisabled: kein API-Key konfiguriert, Tokenvergabe aus
	ErrLoginDisabled = errors.New("token issuing disabled: no API key configured")
	ErrBadAPIKey     = errors.New("invalid API key")
)

// TokenGrant is what a successful login returns.
type TokenGrant struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AuthService tauscht den konfigurierten API-Key gegen kurzlebige JWTs
// und prüft sie für REST und WebSocket.
type AuthService struct {
	jwtHandler *JWTHandler
	apiKey     []byte
}

func NewAuthService(cfg config.AuthConfig) *AuthService {
	return &AuthService{
		jwtHandler: NewJWTHandler(cfg.GetJWTSecret(), cfg.AccessTokenTTL),
		apiKey:     []byte(cfg.GetAPIKey()),
	}
}

// Login exchanges the API key for a short-lived access token.
// Der Vergleich ist zeitkonstant.
func (a *AuthService) Login(apiKey string) (TokenGrant, error) {
	if len(a.apiKey) == 0 {
		return TokenGrant{}, ErrLoginDisabled
	}
	if subtle.ConstantTimeCompare([]byte(apiKey), a.apiKey) != 1 {
		return TokenGrant{}, ErrBadAPIKey
	}

	token, expiresAt, err := a.jwtHandler.GenerateAccessToken("api", RoleOps)
	if err != nil {
		return TokenGrant{}, err
	}
	return TokenGrant{Token: token, ExpiresAt: expiresAt}, nil
}

// ValidateToken validates a bearer token. Auch der WebSocket-Handschlag
// läuft hierüber.
func (a *AuthService) ValidateToken(token string) (*Claims, error) {
	return a.jwtHandler.ValidateAccessToken(token)
}
