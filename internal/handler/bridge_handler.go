// internal/handler/bridge_handler.go
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"serial-bridge/internal/bridge"
	"serial-bridge/internal/utils"
)

// BridgeHandler exposes the state of the configured bridge entries
type BridgeHandler struct {
	server *bridge.Server
	logger *utils.ServiceLogger
}

// NewBridgeHandler creates a new bridge handler
func NewBridgeHandler(server *bridge.Server, logger *zap.Logger) *BridgeHandler {
	return &BridgeHandler{
		server: server,
		logger: utils.NewServiceLogger(logger, "bridge-handler"),
	}
}

// RegisterRoutes registers bridge routes
func (h *BridgeHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/bridges", h.ListBridges)
	router.GET("/bridges/:name", h.GetBridge)
}

// ListBridges returns the status of every configured bridge entry
func (h *BridgeHandler) ListBridges(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, h.server.Status())
}

// GetBridge returns the status of one bridge entry by name
func (h *BridgeHandler) GetBridge(c *gin.Context) {
	name := c.Param("name")
	for _, st := range h.server.Status() {
		if st.Entry.Name == name {
			utils.SuccessResponse(c, http.StatusOK, st)
			return
		}
	}
	utils.ErrorResponse(c, http.StatusNotFound, "bridge entry not found", name)
}
