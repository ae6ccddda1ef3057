package handler

import (
	"net/http"
	"time"

	natsclient "github.com/jarvis-labs/operator-console/internal/nats"
)

// HealthHandler serves liveness and readiness probes for the task backend.
type HealthHandler struct {
	natsClient *natsclient.Client
	started    time.Time
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(natsClient *natsclient.Client) *HealthHandler {
	return &HealthHandler{
		natsClient: natsClient,
		started:    time.Now(),
	}
}

// Health handles GET /health. Always healthy while the process serves.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"service":        "taskmockd",
		"uptime_seconds": int(time.Since(h.started).Seconds()),
	})
}

// Ready handles GET /ready. The backend cannot serve streams or persist
// history without NATS, so readiness tracks the connection.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.natsClient == nil || !h.natsClient.IsConnected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "NATS not connected",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
