package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthRouter(t *testing.T, token string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()

	group := router.Group("/api", Middleware(NewStaticTokenVerifier(token)))
	group.GET("/whoami", func(c *gin.Context) {
		principal, ok := PrincipalFromContext(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{"subject": principal.Subject})
	})
	return router
}

func TestMiddleware_AcceptsValidToken(t *testing.T) {
	router := newAuthRouter(t, "secret-token")

	req := httptest.NewRequest(http.MethodGet, "/api/whoami", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "api-client")
}

func TestMiddleware_RejectsMissingToken(t *testing.T) {
	router := newAuthRouter(t, "secret-token")

	req := httptest.NewRequest(http.MethodGet, "/api/whoami", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "UNAUTHORIZED")
}

func TestMiddleware_RejectsWrongToken(t *testing.T) {
	router := newAuthRouter(t, "secret-token")

	req := httptest.NewRequest(http.MethodGet, "/api/whoami", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTokenFromHeader(t *testing.T) {
	assert.Equal(t, "abc", TokenFromHeader("Bearer abc"))
	assert.Equal(t, "abc", TokenFromHeader("bearer abc"))
	assert.Equal(t, "", TokenFromHeader(""))
	assert.Equal(t, "", TokenFromHeader("Basic abc"))
	assert.Equal(t, "", TokenFromHeader("Bearer "))
}
