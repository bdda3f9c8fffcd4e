package handlers

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/claudeswitch/claudeswitch/internal/audit"
	"github.com/claudeswitch/claudeswitch/internal/canonical"
	"github.com/claudeswitch/claudeswitch/internal/config"
	"github.com/claudeswitch/claudeswitch/internal/models"
	"github.com/claudeswitch/claudeswitch/internal/providers"
	"github.com/claudeswitch/claudeswitch/internal/stream"
)

// ProxyHandler intercepts home-protocol chat requests, routes them to a
// configured backend, and re-encodes the result in the home protocol.
type ProxyHandler struct {
	config   *config.Manager
	registry *providers.Registry
	models   *models.Registry
	audit    audit.Sink
	logger   *slog.Logger
	client   *http.Client
}

func NewProxyHandler(cfg *config.Manager, registry *providers.Registry, modelRegistry *models.Registry, sink audit.Sink, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		config:   cfg,
		registry: registry,
		models:   modelRegistry,
		audit:    sink,
		logger:   logger,
		client:   &http.Client{},
	}
}

// ShouldHandle reports whether a request is a chat completion the proxy
// translates. Everything else on the mux falls through to a 404.
func ShouldHandle(r *http.Request) bool {
	return r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/v1/messages")
}

func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !ShouldHandle(r) {
		h.writeError(w, &canonical.Error{
			Kind:    canonical.ErrInvalidRequest,
			Message: fmt.Sprintf("no handler for %s %s", r.Method, r.URL.Path),
		})
		return
	}

	cfg := h.config.Get()
	start := time.Now()

	body, err := h.readBody(r)
	if err != nil {
		h.writeError(w, &canonical.Error{
			Kind:    canonical.ErrInvalidRequest,
			Message: fmt.Sprintf("read request body: %v", err),
		})
		return
	}

	home, _ := h.registry.Get("anthropic")
	creq, warnings, err := home.RequestToCanonical(body)
	if err != nil {
		h.writeError(w, &canonical.Error{
			Kind:    canonical.ErrInvalidRequest,
			Message: err.Error(),
		})
		return
	}
	for _, warning := range warnings {
		h.logger.Warn(warning)
	}

	homeModel := creq.Model
	inputTokens := stream.EstimateTokens(string(body))

	providerName, modelName := h.selectRoute(creq, inputTokens, &cfg.Router)
	provider, providerCfg, err := h.resolveProvider(providerName, modelName, cfg)
	if err != nil {
		h.writeError(w, &canonical.Error{
			Kind:    canonical.ErrInvalidRequest,
			Message: err.Error(),
		})
		return
	}
	creq.Model = modelName

	metadata, _ := h.models.Lookup(modelName)
	capWarnings, adjustments := models.Validate(creq, metadata)
	for _, warning := range capWarnings {
		h.logger.Warn(warning)
	}
	models.Apply(creq, adjustments)

	outBody, err := provider.CanonicalToRequest(creq)
	if err != nil {
		h.writeError(w, canonical.MapError(err))
		return
	}

	h.auditRequest(creq, provider.Name())

	endpoint := provider.Endpoint(providerCfg.APIBase, modelName, creq.Stream)
	upstream, err := http.NewRequestWithContext(r.Context(), http.MethodPost, endpoint, bytes.NewReader(outBody))
	if err != nil {
		h.writeError(w, canonical.MapError(err))
		return
	}
	upstream.Header.Set("Content-Type", "application/json")
	upstream.Header.Set("Accept", "application/json, text/event-stream")
	provider.ApplyAuth(upstream.Header, providerCfg.ResolveAPIKey())

	h.logger.Info("dispatching request",
		"provider", provider.Name(),
		"model", modelName,
		"url", endpoint,
		"stream", creq.Stream,
		"input_tokens", inputTokens,
	)

	resp, err := h.client.Do(upstream)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			h.logger.Info("request cancelled before upstream response")
			return
		}
		h.writeError(w, canonical.MapError(err))
		return
	}
	defer resp.Body.Close()

	bodyReader, err := decompressReader(resp.Body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		h.writeError(w, canonical.MapError(err))
		return
	}

	if resp.StatusCode >= 400 {
		h.relayUpstreamError(w, resp, bodyReader)
		return
	}

	if creq.Stream && providers.IsStreamingResponse(resp.Header) {
		h.streamResponse(r.Context(), w, bodyReader, provider, homeModel, metadata, start)
		return
	}
	h.completeResponse(w, bodyReader, provider, homeModel, metadata, start)
}

func (h *ProxyHandler) streamResponse(ctx context.Context, w http.ResponseWriter, body io.Reader, provider providers.Provider, homeModel string, metadata *models.ModelData, start time.Time) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	enc := stream.NewEncoder(homeModel)
	result, err := stream.Pipe(ctx, body, provider.NewNormalizer(), enc, w, h.logger)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			h.logger.Info("stream cancelled",
				"provider", provider.Name(),
				"events", result.Events,
			)
			return
		}
		// The client already received a partial stream; close it with a
		// terminal error event rather than leaving it truncated.
		h.logger.Error("stream failed", "provider", provider.Name(), "error", err)
		w.Write(stream.EncodeErrorEvent(canonical.MapError(err)))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		return
	}

	h.auditResult(provider.Name(), homeModel, result.Usage, result.Stop)
	h.logCompletion(provider.Name(), homeModel, metadata, result.Usage, result.Stop, start)
}

func (h *ProxyHandler) completeResponse(w http.ResponseWriter, body io.Reader, provider providers.Provider, homeModel string, metadata *models.ModelData, start time.Time) {
	respBody, err := io.ReadAll(body)
	if err != nil {
		h.writeError(w, canonical.MapError(err))
		return
	}

	msg, stop, err := provider.ResponseToCanonical(respBody)
	if err != nil {
		h.writeError(w, canonical.MapError(err))
		return
	}
	if msg.Usage.IsZero() && msg.Content != "" {
		msg.Usage = stream.EstimateUsage(msg.Content)
	}
	msg.Timestamp = start
	msg.Duration = time.Since(start)

	out, err := providers.EncodeHomeMessage(msg, stop, homeModel)
	if err != nil {
		h.writeError(w, canonical.MapError(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(out)

	h.auditMessage(provider.Name(), homeModel, msg, stop)
	h.logCompletion(provider.Name(), homeModel, metadata, msg.Usage, stop, start)
}

// selectRoute picks the "provider,model" route for a request. Rules apply in
// priority order: long context wins over the background model, which wins
// over the think route, which wins over the default.
func (h *ProxyHandler) selectRoute(creq *canonical.Request, inputTokens int, router *config.Router) (string, string) {
	ref := router.Default
	switch {
	case inputTokens > router.LongContextTokens && router.LongContext != "":
		ref = router.LongContext
	case strings.HasPrefix(creq.Model, "claude-3-5-haiku") && router.Background != "":
		ref = router.Background
	case creq.ThinkingBudget > 0 && router.Think != "":
		ref = router.Think
	}
	if ref == "" {
		return "", creq.Model
	}
	return config.SplitModelRef(ref)
}

func (h *ProxyHandler) resolveProvider(providerName, modelName string, cfg *config.Config) (providers.Provider, *config.Provider, error) {
	if providerName == "" {
		// Route gave no provider; fall back to model metadata, then to
		// whichever configured provider lists the model.
		if md, ok := h.models.Lookup(modelName); ok {
			providerName = md.Provider
		} else {
			for i := range cfg.Providers {
				for _, m := range cfg.Providers[i].Models {
					if m == modelName {
						providerName = cfg.Providers[i].Name
					}
				}
			}
		}
	}
	if providerName == "" {
		return nil, nil, fmt.Errorf("no provider route for model %q", modelName)
	}

	providerCfg, ok := cfg.Provider(providerName)
	if !ok {
		return nil, nil, fmt.Errorf("provider %q not configured", providerName)
	}

	provider, ok := h.registry.Get(providerName)
	if !ok {
		byDomain, err := h.registry.GetByDomain(providerCfg.APIBase)
		if err != nil {
			return nil, nil, fmt.Errorf("no implementation for provider %q: %w", providerName, err)
		}
		provider = byDomain
	}
	return provider, providerCfg, nil
}

func (h *ProxyHandler) readBody(r *http.Request) ([]byte, error) {
	reader, err := decompressReader(r.Body, r.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, err
	}
	return io.ReadAll(reader)
}

func decompressReader(body io.Reader, encoding string) (io.Reader, error) {
	switch encoding {
	case "gzip":
		return gzip.NewReader(body)
	case "br":
		return brotli.NewReader(body), nil
	default:
		return body, nil
	}
}

// relayUpstreamError maps an upstream failure into the canonical taxonomy
// and re-encodes it as a home-protocol error body.
func (h *ProxyHandler) relayUpstreamError(w http.ResponseWriter, resp *http.Response, body io.Reader) {
	raw, _ := io.ReadAll(body)
	message := extractErrorMessage(raw)
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	cerr := canonical.MapHTTPError(resp.StatusCode, message, resp.Header)
	h.logger.Error("upstream error",
		"status", resp.StatusCode,
		"kind", string(cerr.Kind),
		"retryable", cerr.Retryable,
		"message", message,
	)
	h.writeError(w, cerr)
}

// extractErrorMessage digs the human-readable message out of the common
// vendor error envelopes. The raw body is the message of last resort.
func extractErrorMessage(raw []byte) string {
	var envelope struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return strings.TrimSpace(string(raw))
	}
	if envelope.Message != "" {
		return envelope.Message
	}
	if len(envelope.Error) > 0 {
		var inner struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(envelope.Error, &inner); err == nil && inner.Message != "" {
			return inner.Message
		}
		var plain string
		if err := json.Unmarshal(envelope.Error, &plain); err == nil {
			return plain
		}
	}
	return strings.TrimSpace(string(raw))
}

func (h *ProxyHandler) writeError(w http.ResponseWriter, cerr *canonical.Error) {
	body := providers.EncodeHomeError(cerr)
	w.Header().Set("Content-Type", "application/json")
	if cerr.Kind == canonical.ErrRateLimit && cerr.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", cerr.RetryAfterSeconds))
	}
	w.WriteHeader(providers.HomeErrorStatus(cerr))
	w.Write(body)
}

func (h *ProxyHandler) auditRequest(creq *canonical.Request, providerName string) {
	if h.audit == nil {
		return
	}
	payload, err := json.Marshal(creq)
	if err != nil {
		h.logger.Warn("audit marshal failed", "error", err)
		return
	}
	if err := h.audit.Write(audit.Record{
		Direction: audit.DirectionRequest,
		Provider:  providerName,
		Model:     creq.Model,
		Payload:   payload,
	}); err != nil {
		h.logger.Warn("audit write failed", "error", err)
	}
}

// auditMessage records the canonical form of a completed assistant turn,
// including its timestamp and duration stamps.
func (h *ProxyHandler) auditMessage(providerName, model string, msg *canonical.Message, stop canonical.StopReason) {
	if h.audit == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"message": msg,
		"stop":    string(stop),
	})
	if err != nil {
		return
	}
	if err := h.audit.Write(audit.Record{
		Direction: audit.DirectionResponse,
		Provider:  providerName,
		Model:     model,
		Payload:   payload,
	}); err != nil {
		h.logger.Warn("audit write failed", "error", err)
	}
}

func (h *ProxyHandler) auditResult(providerName, model string, usage canonical.Usage, stop canonical.StopReason) {
	if h.audit == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"usage": usage,
		"stop":  string(stop),
	})
	if err != nil {
		return
	}
	if err := h.audit.Write(audit.Record{
		Direction: audit.DirectionResponse,
		Provider:  providerName,
		Model:     model,
		Payload:   payload,
	}); err != nil {
		h.logger.Warn("audit write failed", "error", err)
	}
}

func (h *ProxyHandler) logCompletion(providerName, model string, metadata *models.ModelData, usage canonical.Usage, stop canonical.StopReason, start time.Time) {
	fields := []any{
		"provider", providerName,
		"model", model,
		"stop", string(stop),
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens,
		"estimated", usage.Estimated,
		"duration", time.Since(start).Round(time.Millisecond),
	}
	if metadata != nil {
		if cost := metadata.Cost(usage); cost != nil {
			fields = append(fields, "cost_usd", fmt.Sprintf("%.6f", cost.TotalUSD()))
		}
	}
	h.logger.Info("completed request", fields...)
}
