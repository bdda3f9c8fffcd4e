package providers

import "net/http"

// OpenRouterProvider is the chat-completions dialect served at openrouter.ai.
// It differs from OpenAI in its base URL, its attribution headers, and in
// re-sending the full tool-argument string on every stream chunk, which the
// shared normalizer reduces back to fragments.
type OpenRouterProvider struct {
	OpenAIProvider
}

func NewOpenRouterProvider() *OpenRouterProvider {
	return &OpenRouterProvider{OpenAIProvider{
		name:           "openrouter",
		base:           "https://openrouter.ai/api",
		cumulativeArgs: true,
	}}
}

func (p *OpenRouterProvider) ApplyAuth(header http.Header, apiKey string) {
	header.Set("Authorization", "Bearer "+apiKey)
	header.Set("HTTP-Referer", "https://github.com/claudeswitch/claudeswitch")
	header.Set("X-Title", "claudeswitch")
}
