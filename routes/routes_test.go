package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"livepoll/handlers"
	"livepoll/services"
	"livepoll/testutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newRouter(t *testing.T, frontendDir string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.SetupTestDB(t)
	svc := services.NewPollService(db, services.NewTokenIssuer("test-secret"), bcrypt.MinCost)
	hub := services.NewHub(svc, 0, 1)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	router := gin.New()
	SetupRoutes(router, handlers.NewPollHandler(svc, hub), hub, frontendDir)
	return router
}

func get(router *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHealth(t *testing.T) {
	router := newRouter(t, t.TempDir())

	w := get(router, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	router := newRouter(t, t.TempDir())

	w := get(router, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "livepoll_connected_clients")
}

func TestUnknownRouteWithoutFrontend(t *testing.T) {
	router := newRouter(t, t.TempDir())

	w := get(router, "/polls/ABC123")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"Not found"}`, w.Body.String())
}

func TestFrontendFallback(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>app</html>"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "assets"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "assets", "app.js"), []byte("console.log(1)"), 0o644))
	router := newRouter(t, dir)

	w := get(router, "/assets/app.js")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "console.log(1)", w.Body.String())

	w = get(router, "/poll/ABC123")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "app")

	w = get(router, "/api/nothing")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"Not found"}`, w.Body.String())
}

func TestWebSocketRequiresUpgrade(t *testing.T) {
	router := newRouter(t, t.TempDir())

	w := get(router, "/ws")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
