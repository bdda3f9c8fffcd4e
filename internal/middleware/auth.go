package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/claudeswitch/claudeswitch/internal/config"
)

type authMiddleware struct {
	config *config.Manager
	logger *slog.Logger
}

// NewAuth guards endpoints with the proxy's own API key. With no key
// configured, all requests pass.
func NewAuth(cfg *config.Manager, logger *slog.Logger) Middleware {
	am := &authMiddleware{config: cfg, logger: logger}
	return am.middleware
}

func (am *authMiddleware) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := am.authenticate(r); err != nil {
			am.logger.Error("authentication failed", "error", err, "remote_addr", r.RemoteAddr)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"proxy API key not authorized"}}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (am *authMiddleware) authenticate(r *http.Request) error {
	cfg := am.config.Get()

	if r.URL.Path == "/health" || cfg.APIKey == "" {
		return nil
	}

	var token string
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		token = strings.TrimPrefix(auth, "Bearer ")
	} else if apiKey := r.Header.Get("x-api-key"); apiKey != "" {
		token = apiKey
	}

	if token == "" {
		return errors.New("no authentication token provided")
	}
	if token != cfg.APIKey {
		return errors.New("invalid API key")
	}
	return nil
}
