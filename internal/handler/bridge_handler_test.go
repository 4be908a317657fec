package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"serial-bridge/internal/bridge"
	"serial-bridge/internal/serial"
	"serial-bridge/internal/utils"
)

func newBridgeRouter(t *testing.T, entries []bridge.Entry) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	server, _ := bridge.NewServer(entries, zap.NewNop())
	h := NewBridgeHandler(server, zap.NewNop())

	router := gin.New()
	h.RegisterRoutes(router.Group("/api/v1"))
	return router
}

func testEntries() []bridge.Entry {
	return []bridge.Entry{
		{
			Name:     "printer",
			URL:      "loop://",
			Listener: ":0",
			Mode:     bridge.ModeRFC2217,
			Serial:   serial.DefaultConfig(),
		},
	}
}

func TestListBridges(t *testing.T) {
	router := newBridgeRouter(t, testEntries())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/bridges", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp utils.APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Success)

	statuses, ok := resp.Data.([]interface{})
	require.True(t, ok)
	require.Len(t, statuses, 1)
}

func TestGetBridge(t *testing.T) {
	router := newBridgeRouter(t, testEntries())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/bridges/printer", nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/v1/bridges/unknown", nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)

	var resp utils.APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.False(t, resp.Success)
	require.Equal(t, "NOT_FOUND", resp.Error.Code)
}
