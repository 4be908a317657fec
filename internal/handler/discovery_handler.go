// internal/handler/discovery_handler.go
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"serial-bridge/internal/discovery"
	"serial-bridge/internal/utils"
)

// DiscoveryHandler lists the serial ports available on the host
type DiscoveryHandler struct {
	scanner *discovery.Scanner
	logger  *utils.ServiceLogger
}

// NewDiscoveryHandler creates a new discovery handler
func NewDiscoveryHandler(scanner *discovery.Scanner, logger *zap.Logger) *DiscoveryHandler {
	return &DiscoveryHandler{
		scanner: scanner,
		logger:  utils.NewServiceLogger(logger, "discovery-handler"),
	}
}

// RegisterRoutes registers discovery routes
func (h *DiscoveryHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/ports", h.ListPorts)
}

// ListPorts enumerates the serial ports of the host
func (h *DiscoveryHandler) ListPorts(c *gin.Context) {
	ports, err := h.scanner.Scan(c.Request.Context())
	if err != nil {
		h.logger.Error("Port scan failed", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "failed to list serial ports", err.Error())
		return
	}

	utils.SuccessResponse(c, http.StatusOK, gin.H{
		"ports": ports,
		"count": len(ports),
	})
}
