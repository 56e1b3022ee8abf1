package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chrono-hq/chrono_service/pkg/health"
	"github.com/chrono-hq/chrono_service/pkg/version"
)

// HealthHandler serves liveness and readiness probes backed by the
// registered dependency checkers.
type HealthHandler struct {
	checker *health.HealthChecker
	logger  *zap.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(checker *health.HealthChecker, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{checker: checker, logger: logger}
}

// Health runs every dependency check and reports the aggregate
func (h *HealthHandler) Health(c *gin.Context) {
	status, checks := h.checker.Check(c.Request.Context())

	code := http.StatusOK
	if status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, health.HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Version:   version.Get().Version,
		Checks:    checks,
	})
}

// Liveness reports process liveness without touching dependencies
func (h *HealthHandler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// Readiness reports whether the service can take traffic
func (h *HealthHandler) Readiness(c *gin.Context) {
	if !h.checker.IsHealthy(c.Request.Context()) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
