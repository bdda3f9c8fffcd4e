package stream

import (
	"log/slog"

	"github.com/pkoukk/tiktoken-go"

	"github.com/claudeswitch/claudeswitch/internal/canonical"
)

// EstimateTokens counts tokens with the cl100k_base encoding, falling back
// to a bytes/4 heuristic when the encoding is unavailable.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		slog.Warn("tiktoken encoding unavailable, using byte heuristic", "error", err)
		return (len(text) + 3) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

// EstimateUsage builds the fallback usage record for a stream whose provider
// never reported usage but produced text anyway. Estimated is set so callers
// can tell the fallback apart from provider-reported figures.
func EstimateUsage(outputText string) canonical.Usage {
	return canonical.Usage{
		OutputTokens: EstimateTokens(outputText),
		Estimated:    true,
	}
}
