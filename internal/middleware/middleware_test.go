package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claudeswitch/claudeswitch/internal/config"
)

func testConfig(t *testing.T, apiKey string) *config.Manager {
	t.Helper()
	mgr := config.NewManager(t.TempDir())
	require.NoError(t, mgr.Save(&config.Config{APIKey: apiKey}))
	return mgr
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
}

func TestAuthMiddleware(t *testing.T) {
	handler := NewAuth(testConfig(t, "secret"), testLogger())(okHandler())

	t.Run("rejects missing token", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest("POST", "/v1/messages", nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Contains(t, rr.Body.String(), "authentication_error")
	})

	t.Run("rejects wrong token", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/v1/messages", nil)
		req.Header.Set("x-api-key", "wrong")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("accepts bearer token", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/v1/messages", nil)
		req.Header.Set("Authorization", "Bearer secret")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("accepts x-api-key", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/v1/messages", nil)
		req.Header.Set("x-api-key", "secret")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("health bypasses auth", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest("GET", "/health", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
	})
}

func TestAuthMiddlewareNoKeyConfigured(t *testing.T) {
	handler := NewAuth(testConfig(t, ""), testLogger())(okHandler())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("POST", "/v1/messages", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestTelemetryBlocker(t *testing.T) {
	handler := NewTelemetryBlocker(testLogger())(okHandler())

	t.Run("blocks statsig uploads", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/v1/rgstr", nil)
		req.Host = "statsig.anthropic.com"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusAccepted, rr.Code)
		assert.JSONEq(t, `{"success":true}`, rr.Body.String())
	})

	t.Run("blocks metrics uploads", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/claude_code/metrics", nil)
		req.Host = "api.anthropic.com"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"accepted_count":0,"rejected_count":0}`, rr.Body.String())
	})

	t.Run("passes ordinary requests through", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest("POST", "/v1/messages", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "ok", rr.Body.String())
	})
}

func TestChainOrder(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	handler := New(tag("outer"), tag("inner")).Handler(okHandler())
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestLoggingMiddlewarePreservesFlusher(t *testing.T) {
	handler := NewLogging(testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := w.(http.Flusher)
		assert.True(t, ok, "streaming needs the flusher to survive wrapping")
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
}
