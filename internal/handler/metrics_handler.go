package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dvlab/dvlab-api/internal/service"
	"github.com/dvlab/dvlab-api/pkg/response"
)

type readinessProbe interface {
	Ready() bool
}

// MetricsHandler exposes observability endpoints.
type MetricsHandler struct {
	metrics   *service.MetricsService
	readiness readinessProbe
}

// NewMetricsHandler constructs a metrics handler. readiness reports whether
// the calendar token client finished initializing.
func NewMetricsHandler(metrics *service.MetricsService, readiness readinessProbe) *MetricsHandler {
	return &MetricsHandler{metrics: metrics, readiness: readiness}
}

// Prometheus serves the Prometheus metrics endpoint.
func (h *MetricsHandler) Prometheus(c *gin.Context) {
	if h.metrics == nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// Summary godoc
// @Summary Metrics summary
// @Tags Observability
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /metrics/summary [get]
func (h *MetricsHandler) Summary(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.metrics.Snapshot())
}

// Health responds with a generic OK payload for liveness checks.
func (h *MetricsHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready reports 503 until the token client is initialized.
func (h *MetricsHandler) Ready(c *gin.Context) {
	if h.readiness != nil && !h.readiness.Ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "initializing"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
