package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stempelwerk/zeitcore/internal/config"
)

func testAuthConfig(t *testing.T, apiKey string) config.AuthConfig {
	t.Helper()
	t.Setenv("ZEITTEST_JWT_SECRET", "test-secret-0123456789-0123456789")
	if apiKey != "" {
		t.Setenv("ZEITTEST_API_KEY", apiKey)
	}
	return config.AuthConfig{
		JWTSecretEnv:   "ZEITTEST_JWT_SECRET",
		APIKeyEnv:      "ZEITTEST_API_KEY",
		AccessTokenTTL: time.Hour,
	}
}

func TestLoginIssuesValidToken(t *testing.T) {
	svc := NewAuthService(testAuthConfig(t, "geheim"))

	grant, err := svc.Login("geheim")
	require.NoError(t, err)
	require.NotEmpty(t, grant.Token)
	assert.WithinDuration(t, time.Now().Add(time.Hour), grant.ExpiresAt, 5*time.Second)

	claims, err := svc.ValidateToken(grant.Token)
	require.NoError(t, err)
	assert.Equal(t, RoleOps, claims.Role)
	assert.Equal(t, "api", claims.Subject)
	assert.NotEmpty(t, claims.ID)
}

func TestLoginRejectsWrongKey(t *testing.T) {
	svc := NewAuthService(testAuthConfig(t, "geheim"))

	_, err := svc.Login("falsch")
	assert.ErrorIs(t, err, ErrBadAPIKey)
}

func TestLoginDisabledWithoutKey(t *testing.T) {
	svc := NewAuthService(testAuthConfig(t, ""))

	_, err := svc.Login("egal")
	assert.ErrorIs(t, err, ErrLoginDisabled)
}

func TestValidateTokenRejectsForeignSignature(t *testing.T) {
	svc := NewAuthService(testAuthConfig(t, "geheim"))
	grant, err := svc.Login("geheim")
	require.NoError(t, err)

	t.Setenv("ZEITTEST_OTHER_JWT_SECRET", "another-secret-0123456789-012345")
	other := NewAuthService(config.AuthConfig{
		JWTSecretEnv:   "ZEITTEST_OTHER_JWT_SECRET",
		APIKeyEnv:      "ZEITTEST_API_KEY",
		AccessTokenTTL: time.Hour,
	})

	_, err = other.ValidateToken(grant.Token)
	assert.Error(t, err)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	handler := NewJWTHandler("test-secret", -time.Minute)
	token, _, err := handler.GenerateAccessToken("api", RoleOps)
	require.NoError(t, err)

	_, err = handler.ValidateAccessToken(token)
	assert.Error(t, err)
}

func TestRequireToken(t *testing.T) {
	gin.SetMode(gin.TestMode)

	svc := NewAuthService(testAuthConfig(t, "geheim"))
	grant, err := svc.Login("geheim")
	require.NoError(t, err)

	router := gin.New()
	router.GET("/probe", svc.RequireToken(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"role": c.GetString("role")})
	})

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{name: "missing header", header: "", want: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", want: http.StatusUnauthorized},
		{name: "garbage token", header: "Bearer garbage", want: http.StatusUnauthorized},
		{name: "valid token", header: "Bearer " + grant.Token, want: http.StatusOK},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/probe", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tc.want, rec.Code)
			if tc.want == http.StatusOK {
				assert.Contains(t, rec.Body.String(), RoleOps)
			}
		})
	}
}
