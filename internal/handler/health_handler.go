// internal/handler/health_handler.go
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"serial-bridge/internal/bridge"
	"serial-bridge/internal/config"
	"serial-bridge/internal/utils"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	bridges   *bridge.Server
	config    *config.Config
	logger    *utils.ServiceLogger
	startTime time.Time
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(bridges *bridge.Server, config *config.Config, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		bridges:   bridges,
		config:    config,
		logger:    utils.NewServiceLogger(logger, "health-handler"),
		startTime: time.Now(),
	}
}

// RegisterRoutes registers health check routes
func (h *HealthHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/health", h.HealthCheck)
	router.GET("/ready", h.ReadinessCheck)
	router.GET("/live", h.LivenessCheck)
}

// HealthCheck performs general health check
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	health := &HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Service:   h.config.App.Name,
		Version:   h.config.App.Version,
		Uptime:    time.Since(h.startTime).String(),
		Checks:    make(map[string]CheckResult),
	}

	statuses := h.bridges.Status()
	total := len(statuses)
	failed := 0
	busy := 0
	for _, st := range statuses {
		if st.Error != "" {
			failed++
		}
		if st.Busy {
			busy++
		}
	}

	check := CheckResult{
		Status: "healthy",
		Data: map[string]interface{}{
			"entries": total,
			"active":  busy,
			"failed":  failed,
		},
	}
	if failed == total && total > 0 {
		health.Status = "unhealthy"
		check.Status = "unhealthy"
		check.Message = "no bridge entry is serviceable"
	} else if failed > 0 {
		health.Status = "degraded"
		check.Status = "degraded"
	}
	health.Checks["bridges"] = check

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, health)
}

// ReadinessCheck for Kubernetes readiness probe
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	statuses := h.bridges.Status()
	failed := 0
	for _, st := range statuses {
		if st.Error != "" {
			failed++
		}
	}
	if len(statuses) > 0 && failed == len(statuses) {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"reason": "no bridge entry is serviceable",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"timestamp": time.Now(),
	})
}

// LivenessCheck for Kubernetes liveness probe
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	// Simple liveness check - service is alive if it can respond
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now(),
	})
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
}

// CheckResult represents individual check result
type CheckResult struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}
