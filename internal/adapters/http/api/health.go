package api

import (
	"net/http"
	"strings"

	"github.com/okian/hoopcal/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthProvider reports whether the service is ready to take runs.
type HealthProvider interface {
	Started() bool
}

type healthResponse struct {
	Status string `json:"status"`
}

// HealthHandler handles health check and metrics requests.
type HealthHandler struct {
	health  HealthProvider
	metrics http.Handler
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(health HealthProvider) *HealthHandler {
	return &HealthHandler{
		health:  health,
		metrics: promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}),
	}
}

// HandleHealth handles GET /healthz requests.
// If the Accept header asks for openmetrics or plain text it returns
// Prometheus metrics. Otherwise it returns a JSON status.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	accept := r.Header.Get("Accept")
	if strings.Contains(accept, "application/openmetrics-text") || strings.Contains(accept, "text/plain") {
		h.metrics.ServeHTTP(w, r)
		return
	}
	if !h.health.Started() {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "starting"})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

// MetricsHandler serves the Prometheus registry.
func (h *HealthHandler) MetricsHandler() http.Handler {
	return h.metrics
}
