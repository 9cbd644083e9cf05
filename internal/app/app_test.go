package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"drover.io/drover/internal/config"
	"drover.io/drover/internal/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
	_ = logger.Init("error", "json")
}

func memoryConfig() *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{Driver: "memory"},
		Worker:   config.WorkerConfig{GeneralPoolSize: 10, ActionPoolSize: 10},
		Engine:   config.EngineConfig{ActionTimeout: time.Second},
	}
}

func TestBootstrap_MemoryDriver(t *testing.T) {
	app, err := Bootstrap(context.Background(), memoryConfig())
	require.NoError(t, err)
	defer app.Shutdown()

	require.NotNil(t, app.Router)
	require.NotNil(t, app.Engine)
	require.NotNil(t, app.Store)
	require.Nil(t, app.DB, "memory driver needs no database clients")

	w := httptest.NewRecorder()
	app.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestBootstrap_CommandRoundTrip(t *testing.T) {
	app, err := Bootstrap(context.Background(), memoryConfig())
	require.NoError(t, err)
	defer app.Shutdown()

	body := strings.NewReader(`{
		"command": "request_order",
		"params": {"customer_name": "Ada", "customer_email": "ada@example.com"}
	}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/commands", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	app.Router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestBootstrap_AuthProtectsAPI(t *testing.T) {
	cfg := memoryConfig()
	cfg.Auth = config.AuthConfig{
		Enabled:    true,
		SigningKey: "0123456789abcdef0123456789abcdef",
	}

	app, err := Bootstrap(context.Background(), cfg)
	require.NoError(t, err)
	defer app.Shutdown()

	w := httptest.NewRecorder()
	app.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/processes", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)

	// Probes stay open.
	w = httptest.NewRecorder()
	app.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestBootstrap_UnknownDriver(t *testing.T) {
	cfg := memoryConfig()
	cfg.Database.Driver = "sqlite"

	_, err := Bootstrap(context.Background(), cfg)
	require.Error(t, err)
}
