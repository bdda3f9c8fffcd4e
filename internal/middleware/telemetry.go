package middleware

import (
	"log/slog"
	"net/http"
	"strings"
)

type telemetryBlocker struct {
	logger *slog.Logger
}

// NewTelemetryBlocker short-circuits the client's telemetry and metrics
// uploads with the success shapes it expects, so nothing leaves the machine
// and the client never retries.
func NewTelemetryBlocker(logger *slog.Logger) Middleware {
	tb := &telemetryBlocker{logger: logger}
	return tb.middleware
}

func (tb *telemetryBlocker) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if host == "" {
			host = r.Header.Get("Host")
		}

		switch {
		case isStatsigRequest(host, r.URL.Path):
			tb.logger.Debug("blocking telemetry upload", "path", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusAccepted)
			w.Write([]byte(`{"success":true}`))
		case isMetricsRequest(host, r.URL.Path):
			tb.logger.Debug("blocking metrics upload", "path", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"accepted_count":0,"rejected_count":0}`))
		default:
			next.ServeHTTP(w, r)
		}
	})
}

func isStatsigRequest(host, path string) bool {
	if strings.Contains(host, "statsig.anthropic.com") {
		return true
	}
	for _, prefix := range []string{
		"/v1/initialize",
		"/v1/log_event",
		"/v1/rgstr",
		"/statsig",
		"/telemetry",
		"/analytics",
	} {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func isMetricsRequest(host, path string) bool {
	if !strings.Contains(host, "api.anthropic.com") {
		return false
	}
	return strings.HasPrefix(path, "/api/claude_code/metrics") ||
		strings.HasPrefix(path, "/claude_code/metrics")
}
