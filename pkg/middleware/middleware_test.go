package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/regcalc-api/internal/auth"
)

// issueToken builds a token against the middleware's signing secret with the
// given engine permissions.
func issueToken(t *testing.T, permissions ...string) string {
	t.Helper()
	svc := auth.NewService("regcalc-secret-key")
	svc.RegisterAPICredentials("test-client", "test-secret", permissions...)
	token, err := svc.GenerateToken(auth.Credentials{APIKey: "test-client", APISecret: "test-secret"})
	require.NoError(t, err)
	return token.Token
}

func permissionRouter(permission string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	group := router.Group("/calc")
	group.Use(JWTAuth(), RequirePermission(permission))
	group.GET("/op", func(c *gin.Context) { c.Status(http.StatusOK) })
	return router
}

func TestRequirePermission(t *testing.T) {
	t.Run("token naming the engine passes", func(t *testing.T) {
		router := permissionRouter(auth.PermissionSolvency)
		token := issueToken(t, auth.PermissionSolvency)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/calc/op", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("token for a different engine is forbidden", func(t *testing.T) {
		router := permissionRouter(auth.PermissionSolvency)
		token := issueToken(t, auth.PermissionCreditRisk)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/calc/op", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("token with no permissions is forbidden", func(t *testing.T) {
		router := permissionRouter(auth.PermissionLiability)
		token := issueToken(t)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/calc/op", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("missing token never reaches the permission check", func(t *testing.T) {
		router := permissionRouter(auth.PermissionLiability)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/calc/op", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("rejects a context without parsed claims", func(t *testing.T) {
		gin.SetMode(gin.TestMode)
		router := gin.New()
		router.GET("/op", RequirePermission(auth.PermissionSolvency), func(c *gin.Context) { c.Status(http.StatusOK) })

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/op", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestJWTAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/op", JWTAuth(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"client_id": c.GetString("clientID")})
	})

	t.Run("valid token sets the client identity", func(t *testing.T) {
		token := issueToken(t, auth.PermissionCreditRisk)
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/op", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "test-client")
	})

	t.Run("malformed header is unauthorized", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/op", nil)
		req.Header.Set("Authorization", "Bearer")
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("tampered token is unauthorized", func(t *testing.T) {
		token := issueToken(t, auth.PermissionCreditRisk)
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/op", nil)
		req.Header.Set("Authorization", "Bearer "+token+"x")
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}
