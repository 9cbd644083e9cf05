package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"drover.io/drover/internal/api/middleware"
	"drover.io/drover/internal/command"
	"drover.io/drover/internal/engine"
	"drover.io/drover/internal/fulfillment"
	"drover.io/drover/internal/pkg/logger"
	"drover.io/drover/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
	_ = logger.Init("error", "json")
}

func newTestRouter(t *testing.T) (*gin.Engine, *store.MemoryStore) {
	t.Helper()

	reg, err := fulfillment.BuildRegistry(fulfillment.LogPorts())
	require.NoError(t, err)

	st := store.NewMemoryStore()
	eng := engine.NewBuilder(reg, st, engine.NewDispatcher(nil, time.Second), fulfillment.DeriveStatus)

	mux := command.NewMux()
	require.NoError(t, fulfillment.RegisterCommands(mux))

	srv := NewServer(ServerDeps{
		Commands: command.NewHandler(mux, st, eng),
		Engine:   eng,
		Store:    st,
	})

	router := gin.New()
	router.Use(middleware.RequestID(), middleware.ErrorHandler())
	v1 := router.Group("/api/v1")
	{
		v1.POST("/commands", srv.PostCommand)
		v1.GET("/processes", srv.ListProcesses)
		v1.GET("/processes/:id", srv.GetProcess)
		v1.POST("/processes/:id/replay", srv.PostReplay)
		v1.DELETE("/processes/:id/events/:event_id", srv.DeleteEvent)
	}
	router.GET("/healthz", srv.GetHealth)
	return router, st
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var decoded map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	}
	return w, decoded
}

func createOrder(t *testing.T, router *gin.Engine) string {
	t.Helper()
	w, body := doJSON(t, router, http.MethodPost, "/api/v1/commands", map[string]any{
		"command": "request_order",
		"params": map[string]any{
			"customer_name":    "Ada",
			"customer_email":   "ada@example.com",
			"delivery_address": "1 Analytical Way",
		},
	}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	result := body["result"].(map[string]any)
	return result["process_id"].(string)
}

func TestPostCommand_CreatesOrder(t *testing.T) {
	router, st := newTestRouter(t)
	id := createOrder(t, router)

	p, err := st.Load(t.Context(), id)
	require.NoError(t, err)
	require.Equal(t, fulfillment.StatusPending, p.Status)
}

func TestPostCommand_UnknownCommand(t *testing.T) {
	router, _ := newTestRouter(t)

	w, body := doJSON(t, router, http.MethodPost, "/api/v1/commands", map[string]any{
		"command": "teleport_order",
	}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "UNKNOWN_COMMAND", body["code"])
}

func TestPostCommand_ValidationError(t *testing.T) {
	router, _ := newTestRouter(t)

	w, body := doJSON(t, router, http.MethodPost, "/api/v1/commands", map[string]any{
		"command": "request_order",
		"params":  map[string]any{"customer_name": "Ada"},
	}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "VALIDATION_FAILED", body["code"])
}

func TestGetProcess(t *testing.T) {
	router, _ := newTestRouter(t)
	id := createOrder(t, router)

	w, body := doJSON(t, router, http.MethodGet, "/api/v1/processes/"+id, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	p := body["process"].(map[string]any)
	require.Equal(t, string(fulfillment.StatusPending), p["status"])
	require.Equal(t, "Ada", p["attributes"].(map[string]any)["customer_name"])
}

func TestGetProcess_NotFound(t *testing.T) {
	router, _ := newTestRouter(t)

	w, body := doJSON(t, router, http.MethodGet, "/api/v1/processes/missing", nil, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "PROCESS_NOT_FOUND", body["code"])
}

func TestGetProcess_AsOf(t *testing.T) {
	router, _ := newTestRouter(t)
	id := createOrder(t, router)

	cutoff := time.Now().UTC().Add(time.Minute).Format(time.RFC3339)
	w, body := doJSON(t, router, http.MethodGet, "/api/v1/processes/"+id+"?as_of="+cutoff, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, body["process"])

	w, body = doJSON(t, router, http.MethodGet, "/api/v1/processes/"+id+"?as_of=yesterday", nil, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "VALIDATION_FAILED", body["code"])
}

func TestListProcesses(t *testing.T) {
	router, _ := newTestRouter(t)
	createOrder(t, router)

	w, body := doJSON(t, router, http.MethodGet, "/api/v1/processes", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1.0, body["count"])

	w, body = doJSON(t, router, http.MethodGet, "/api/v1/processes?failed=true", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 0.0, body["count"])
}

func TestPostReplay_Synchronous(t *testing.T) {
	router, _ := newTestRouter(t)
	id := createOrder(t, router)

	w, body := doJSON(t, router, http.MethodPost, "/api/v1/processes/"+id+"/replay", map[string]any{}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, body["process"])
}

func TestPostReplay_ForceRequiresActor(t *testing.T) {
	router, _ := newTestRouter(t)
	id := createOrder(t, router)

	w, body := doJSON(t, router, http.MethodPost, "/api/v1/processes/"+id+"/replay",
		map[string]any{"force": true, "reason": "resend"}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "FORCE_REPLAY_UNAUDITED", body["code"])

	w, _ = doJSON(t, router, http.MethodPost, "/api/v1/processes/"+id+"/replay",
		map[string]any{"force": true, "reason": "resend"},
		map[string]string{"X-Actor": "ops@example.com"})
	require.Equal(t, http.StatusOK, w.Code)
}

func TestDeleteEvent_RebuildsProcess(t *testing.T) {
	router, st := newTestRouter(t)
	id := createOrder(t, router)

	w, _ := doJSON(t, router, http.MethodPost, "/api/v1/commands", map[string]any{
		"command":    "record_payment",
		"process_id": id,
		"params":     map[string]any{"amount": 50.0},
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	p, err := st.Load(t.Context(), id)
	require.NoError(t, err)
	require.Equal(t, fulfillment.StatusPaid, p.Status)
	paymentEventID := p.Events[1].ID

	// Removing the payment event rolls derived state back to pending.
	w, body := doJSON(t, router, http.MethodDelete,
		"/api/v1/processes/"+id+"/events/"+paymentEventID,
		map[string]any{"reason": "payment recorded against wrong order"},
		map[string]string{"X-Actor": "ops@example.com"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, string(fulfillment.StatusPending), body["process"].(map[string]any)["status"])
}

func TestDeleteEvent_RequiresActorAndReason(t *testing.T) {
	router, _ := newTestRouter(t)
	id := createOrder(t, router)

	w, _ := doJSON(t, router, http.MethodDelete,
		"/api/v1/processes/"+id+"/events/whatever", nil, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = doJSON(t, router, http.MethodDelete,
		"/api/v1/processes/"+id+"/events/whatever",
		map[string]any{"reason": "r"}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t)
	w, body := doJSON(t, router, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "ok", body["status"])
}
