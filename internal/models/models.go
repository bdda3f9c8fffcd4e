// Package models holds the static per-model capability and pricing records
// used for capability validation and cost accounting. The data is read-only
// reference material; absence of an entry means "unknown model", not an
// error.
package models

// Pricing is USD per million tokens. Nil pricing on a ModelData means cost
// cannot be computed for that model.
type Pricing struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// ModelData is one model's declared limits and capabilities.
type ModelData struct {
	ID               string
	Provider         string
	ContextWindow    int
	MaxOutputTokens  int
	SupportsTools    bool
	SupportsImages   bool
	SupportsThinking bool
	Pricing          *Pricing
}

// Registry maps model ids to their capability records.
type Registry struct {
	byID map[string]ModelData
}

// NewRegistry returns a registry preloaded with the built-in model table.
func NewRegistry() *Registry {
	r := &Registry{byID: make(map[string]ModelData)}
	for _, md := range builtinModels {
		r.Register(md)
	}
	return r
}

// Register adds or replaces a model record.
func (r *Registry) Register(md ModelData) {
	r.byID[md.ID] = md
}

// Lookup returns the record for a model id. Unknown models return (nil,
// false) and degrade gracefully: no pricing, no capability clamping.
func (r *Registry) Lookup(id string) (*ModelData, bool) {
	md, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return &md, true
}

// List returns all registered model ids.
func (r *Registry) List() []string {
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	return ids
}

var builtinModels = []ModelData{
	{
		ID:               "claude-sonnet-4-20250514",
		Provider:         "anthropic",
		ContextWindow:    200000,
		MaxOutputTokens:  64000,
		SupportsTools:    true,
		SupportsImages:   true,
		SupportsThinking: true,
		Pricing:          &Pricing{InputPerMTok: 3.0, OutputPerMTok: 15.0},
	},
	{
		ID:               "claude-opus-4-20250514",
		Provider:         "anthropic",
		ContextWindow:    200000,
		MaxOutputTokens:  32000,
		SupportsTools:    true,
		SupportsImages:   true,
		SupportsThinking: true,
		Pricing:          &Pricing{InputPerMTok: 15.0, OutputPerMTok: 75.0},
	},
	{
		ID:              "claude-3-5-haiku-20241022",
		Provider:        "anthropic",
		ContextWindow:   200000,
		MaxOutputTokens: 8192,
		SupportsTools:   true,
		SupportsImages:  true,
		Pricing:         &Pricing{InputPerMTok: 0.8, OutputPerMTok: 4.0},
	},
	{
		ID:              "gpt-4o",
		Provider:        "openai",
		ContextWindow:   128000,
		MaxOutputTokens: 16384,
		SupportsTools:   true,
		SupportsImages:  true,
		Pricing:         &Pricing{InputPerMTok: 2.5, OutputPerMTok: 10.0},
	},
	{
		ID:              "gpt-4o-mini",
		Provider:        "openai",
		ContextWindow:   128000,
		MaxOutputTokens: 16384,
		SupportsTools:   true,
		SupportsImages:  true,
		Pricing:         &Pricing{InputPerMTok: 0.15, OutputPerMTok: 0.6},
	},
	{
		ID:               "o3-mini",
		Provider:         "openai",
		ContextWindow:    200000,
		MaxOutputTokens:  100000,
		SupportsTools:    true,
		SupportsThinking: true,
		Pricing:          &Pricing{InputPerMTok: 1.1, OutputPerMTok: 4.4},
	},
	{
		ID:              "gemini-2.0-flash",
		Provider:        "gemini",
		ContextWindow:   1048576,
		MaxOutputTokens: 8192,
		SupportsTools:   true,
		SupportsImages:  true,
		Pricing:         &Pricing{InputPerMTok: 0.1, OutputPerMTok: 0.4},
	},
	{
		ID:              "gemini-2.5-pro",
		Provider:        "gemini",
		ContextWindow:   1048576,
		MaxOutputTokens: 65536,
		SupportsTools:   true,
		SupportsImages:  true,
		Pricing:         &Pricing{InputPerMTok: 1.25, OutputPerMTok: 10.0},
	},
}
