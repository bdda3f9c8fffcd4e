package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// HealthHandler answers liveness probes. It reports uptime so `csw status`
// can show how long the proxy has been serving.
type HealthHandler struct {
	logger  *slog.Logger
	started time.Time
}

func NewHealthHandler(logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		logger:  logger,
		started: time.Now(),
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	body := map[string]any{
		"status": "ok",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to write health response", "error", err)
	}
}
