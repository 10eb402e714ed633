package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yoockh/deepfake-detector/internal/services"
)

type HealthHandler struct {
	health  services.HealthService
	version string
}

func NewHealthHandler(health services.HealthService, version string) *HealthHandler {
	return &HealthHandler{health: health, version: version}
}

// Health is the liveness/readiness check: 503 only when the store is down.
func (h *HealthHandler) Health(c *gin.Context) {
	rep := h.health.Check(c.Request.Context())
	status := http.StatusOK
	if rep.Status == services.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, rep)
}

func (h *HealthHandler) Status(c *gin.Context) {
	rep := h.health.Check(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"message": "Deepfake Detection API is running",
		"version": h.version,
		"health":  rep,
	})
}
