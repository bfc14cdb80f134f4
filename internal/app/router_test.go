package app

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"merchpulse.io/pulse/internal/api/handlers"
	"merchpulse.io/pulse/internal/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	require.NoError(t, logger.Init("error", "console"))
	return newRouter(handlers.NewServer(handlers.ServerDeps{}))
}

func TestRouterHealthEndpointsArePublic(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/log/level", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouterAPIRequiresTenant(t *testing.T) {
	router := newTestRouter(t)

	for _, path := range []string{
		"/api/v1/segments",
		"/api/v1/sync/active",
		"/api/v1/analytics/summary",
		"/api/v1/webhooks/endpoints",
	} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
	}
}
