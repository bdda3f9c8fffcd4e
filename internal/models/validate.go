package models

import (
	"fmt"

	"github.com/claudeswitch/claudeswitch/internal/canonical"
)

// Adjustments is the set of changes the capability validator asks the caller
// to apply before dispatch. Zero values mean "leave unchanged".
type Adjustments struct {
	MaxTokens     int
	ToolsDisabled bool
	ImagesIgnored bool
}

// Validate checks a canonical request against a model's declared limits.
// Each rule is independent and additive; validation never fails, it only
// collects warnings and adjustments. A nil ModelData (unknown model) yields
// nothing.
func Validate(req *canonical.Request, md *ModelData) ([]string, Adjustments) {
	var (
		warnings []string
		adj      Adjustments
	)

	if md == nil {
		return nil, adj
	}

	if md.MaxOutputTokens > 0 && req.MaxTokens > md.MaxOutputTokens {
		adj.MaxTokens = md.MaxOutputTokens
		warnings = append(warnings, fmt.Sprintf(
			"requested max_tokens %d exceeds %s limit %d, clamping",
			req.MaxTokens, md.ID, md.MaxOutputTokens))
	}

	if !md.SupportsTools && len(req.Context.Tools) > 0 {
		adj.ToolsDisabled = true
		warnings = append(warnings, fmt.Sprintf(
			"model %s does not support tools, dropping %d tool definitions",
			md.ID, len(req.Context.Tools)))
	}

	if !md.SupportsImages && hasImageAttachments(req.Context) {
		adj.ImagesIgnored = true
		warnings = append(warnings, fmt.Sprintf(
			"model %s does not support image input, ignoring attachments", md.ID))
	}

	return warnings, adj
}

// Apply folds an adjustment set into the request.
func Apply(req *canonical.Request, adj Adjustments) {
	if adj.MaxTokens > 0 {
		req.MaxTokens = adj.MaxTokens
	}
	if adj.ToolsDisabled {
		req.ToolsDisabled = true
	}
	if adj.ImagesIgnored {
		req.ImagesIgnored = true
	}
}

func hasImageAttachments(ctx *canonical.Context) bool {
	for i := range ctx.Messages {
		if ctx.Messages[i].Role == canonical.RoleUser && len(ctx.Messages[i].Attachments) > 0 {
			return true
		}
	}
	return false
}
