// Package providers implements the per-vendor request translators and
// streaming normalizers. Each provider decodes its wire format into the
// canonical model at the boundary; vendor-shaped data never leaks past this
// package.
package providers

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/claudeswitch/claudeswitch/internal/canonical"
	"github.com/claudeswitch/claudeswitch/internal/stream"
)

// Provider bundles the request translator and streaming normalizer for one
// backend vendor.
type Provider interface {
	Name() string

	// Endpoint returns the dispatch URL. base overrides the provider's
	// default host when non-empty; model and streaming matter to providers
	// that encode them in the path.
	Endpoint(base, model string, streaming bool) string

	// ApplyAuth sets the vendor's auth headers. The key is resolved by the
	// caller and passed in; providers never read the environment.
	ApplyAuth(header http.Header, apiKey string)

	// RequestToCanonical decodes a vendor request into the canonical
	// model, returning warnings for anything dropped along the way.
	RequestToCanonical(raw []byte) (*canonical.Request, []string, error)

	// CanonicalToRequest encodes a canonical request in the vendor's wire
	// format.
	CanonicalToRequest(req *canonical.Request) ([]byte, error)

	// ResponseToCanonical decodes a complete non-streaming vendor response
	// into an assistant message and its terminal stop reason.
	ResponseToCanonical(raw []byte) (*canonical.Message, canonical.StopReason, error)

	// NewNormalizer allocates the per-stream state machine for one network
	// stream. The state is owned by that stream alone and discarded with
	// it.
	NewNormalizer() stream.Normalizer
}

// Registry manages provider instances.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

// Register adds a provider to the registry.
func (r *Registry) Register(provider Provider) {
	r.providers[provider.Name()] = provider
}

// Get retrieves a provider by name.
func (r *Registry) Get(name string) (Provider, bool) {
	provider, exists := r.providers[name]
	return provider, exists
}

// GetByDomain returns a provider based on the API base URL domain.
func (r *Registry) GetByDomain(apiBase string) (Provider, error) {
	u, err := url.Parse(apiBase)
	if err != nil {
		return nil, fmt.Errorf("invalid API base URL: %w", err)
	}

	domain := strings.ToLower(u.Hostname())

	domainProviderMap := map[string]string{
		"api.anthropic.com":                 "anthropic",
		"anthropic.com":                     "anthropic",
		"api.openai.com":                    "openai",
		"openai.com":                        "openai",
		"openrouter.ai":                     "openrouter",
		"api.openrouter.ai":                 "openrouter",
		"generativelanguage.googleapis.com": "gemini",
		"googleapis.com":                    "gemini",
	}

	if providerName, exists := domainProviderMap[domain]; exists {
		if provider, found := r.Get(providerName); found {
			return provider, nil
		}
	}

	return nil, fmt.Errorf("no provider found for domain: %s", domain)
}

// List returns all registered provider names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// Initialize registers all built-in providers.
func (r *Registry) Initialize() {
	r.Register(NewAnthropicProvider())
	r.Register(NewOpenAIProvider())
	r.Register(NewOpenRouterProvider())
	r.Register(NewGeminiProvider())
}

// IsStreamingResponse checks whether upstream response headers indicate a
// server-sent event stream.
func IsStreamingResponse(header http.Header) bool {
	contentType := header.Get("Content-Type")
	if contentType == "text/event-stream" || strings.Contains(contentType, "stream") {
		return true
	}
	for _, te := range header.Values("Transfer-Encoding") {
		if te == "chunked" {
			return true
		}
	}
	return false
}
