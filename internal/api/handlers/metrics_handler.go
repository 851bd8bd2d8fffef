package handlers

import (
	"net/http"
	"runtime"

	"github.com/gin-gonic/gin"

	"example.com/backstage/services/shortage/internal/telemetry"
)

// MetricsHandler handles metrics-related HTTP requests
type MetricsHandler struct {
	metrics *telemetry.Collector
}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler(metrics *telemetry.Collector) *MetricsHandler {
	return &MetricsHandler{metrics: metrics}
}

// HandleGetMetrics returns all metrics
func (h *MetricsHandler) HandleGetMetrics(c *gin.Context) {
	h.metrics.SetGauge("goroutines", float64(runtime.NumGoroutine()))
	c.JSON(http.StatusOK, h.metrics.GetMetrics())
}

// HandleGetHealthCheck returns a simplified health status
func (h *MetricsHandler) HandleGetHealthCheck(c *gin.Context) {
	health := h.metrics.GetHealthStatus()

	status := http.StatusOK
	if s, ok := health["status"].(map[string]interface{}); ok {
		if healthy, _ := s["healthy"].(bool); !healthy {
			status = http.StatusServiceUnavailable
		}
	}
	c.JSON(status, health)
}

// RegisterRoutes registers the handler's routes
func (h *MetricsHandler) RegisterRoutes(router gin.IRouter) {
	router.GET("/metrics", h.HandleGetMetrics)
	router.GET("/health", h.HandleGetHealthCheck)
}
