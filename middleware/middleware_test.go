package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policy_kline_backend/config"
)

func init() {
	gin.SetMode(gin.TestMode)
	config.AppConfig = &config.Config{JWTSecret: "test-secret"}
}

func protectedRouter() *gin.Engine {
	r := gin.New()
	r.GET("/admin", JWTAuthMiddleware(), AdminRoleMiddleware(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"username": c.GetString("username")})
	})
	return r
}

func TestJWTAuthRoundTrip(t *testing.T) {
	token, err := GenerateToken("admin", "superadmin")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	protectedRouter().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "admin")
}

func TestJWTAuthRejectsMissingHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	w := httptest.NewRecorder()
	protectedRouter().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJWTAuthRejectsMalformedHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Token abc")
	w := httptest.NewRecorder()
	protectedRouter().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJWTAuthRejectsGarbageToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer not.a.token")
	w := httptest.NewRecorder()
	protectedRouter().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminRoleRejectsNonAdmin(t *testing.T) {
	token, err := GenerateToken("viewer", "viewer")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	protectedRouter().ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRateLimiterLocksAfterMaxAttempts(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute, time.Minute)

	for i := 0; i < 3; i++ {
		allowed, _, _ := rl.Check("10.0.0.1")
		assert.True(t, allowed)
		rl.RecordAttempt("10.0.0.1", false)
	}

	allowed, remaining, lock := rl.Check("10.0.0.1")
	assert.False(t, allowed)
	assert.Equal(t, 0, remaining)
	assert.Greater(t, lock, time.Duration(0))
}

func TestRateLimiterResetsOnSuccess(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute, time.Minute)

	rl.RecordAttempt("10.0.0.2", false)
	rl.RecordAttempt("10.0.0.2", false)
	rl.RecordAttempt("10.0.0.2", true)

	_, remaining, _ := rl.Check("10.0.0.2")
	assert.Equal(t, 3, remaining)
}

func TestRateLimiterIsolatesIPs(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute, time.Minute)
	rl.RecordAttempt("10.0.0.3", false)

	allowed, _, _ := rl.Check("10.0.0.3")
	assert.False(t, allowed)

	allowed, _, _ = rl.Check("10.0.0.4")
	assert.True(t, allowed)
}
