package providers

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claudeswitch/claudeswitch/internal/canonical"
)

func TestGeminiEndpoint(t *testing.T) {
	p := NewGeminiProvider()
	assert.Equal(t,
		"https://generativelanguage.googleapis.com/v1beta/models/gemini-2.5-pro:streamGenerateContent?alt=sse",
		p.Endpoint("", "gemini-2.5-pro", true))
	assert.Equal(t,
		"https://custom.example/v1beta/models/gemini-2.5-pro:generateContent",
		p.Endpoint("https://custom.example/", "gemini-2.5-pro", false))

	header := make(http.Header)
	p.ApplyAuth(header, "goog-key")
	assert.Equal(t, "goog-key", header.Get("x-goog-api-key"))
}

func TestGeminiCanonicalToRequest(t *testing.T) {
	req := &canonical.Request{
		Model:     "gemini-2.5-pro",
		MaxTokens: 2048,
		Context: &canonical.Context{
			System: "be brief",
			Messages: []canonical.Message{
				{Role: canonical.RoleUser, Content: "read go.mod"},
				{Role: canonical.RoleAssistant, ToolCalls: []canonical.ToolCall{
					{ID: "toolu_1", Name: "Read", Arguments: map[string]any{"path": "go.mod"}},
				}},
				{Role: canonical.RoleUser, ToolResults: []canonical.ToolResult{
					{ToolCallID: "toolu_1", Content: "module x"},
				}},
				{Role: canonical.RoleUser, ToolResults: []canonical.ToolResult{
					{ToolCallID: "toolu_1", Content: "went wrong", IsError: true},
				}},
			},
		},
	}

	raw, err := NewGeminiProvider().CanonicalToRequest(req)
	require.NoError(t, err)

	var wire geminiRequest
	require.NoError(t, json.Unmarshal(raw, &wire))

	require.NotNil(t, wire.SystemInstruction)
	assert.Equal(t, "be brief", wire.SystemInstruction.Parts[0].Text)
	assert.Equal(t, 2048, wire.GenerationConfig.MaxOutputTokens)
	require.Len(t, wire.SafetySettings, 4)
	assert.Equal(t, "BLOCK_NONE", wire.SafetySettings[0].Threshold)

	require.Len(t, wire.Contents, 4)
	assert.Equal(t, "model", wire.Contents[1].Role)
	call := wire.Contents[1].Parts[0].FunctionCall
	require.NotNil(t, call)
	assert.Equal(t, "Read", call.Name)

	okResp := wire.Contents[2].Parts[0].FunctionResponse
	require.NotNil(t, okResp)
	assert.Equal(t, "Read", okResp.Name)
	assert.Equal(t, map[string]any{"output": "module x"}, okResp.Response)

	errResp := wire.Contents[3].Parts[0].FunctionResponse
	require.NotNil(t, errResp)
	assert.Equal(t, map[string]any{"error": "went wrong"}, errResp.Response)
}

func TestGeminiCanonicalToRequestRejectsUnknownResult(t *testing.T) {
	req := &canonical.Request{
		Model: "gemini-2.5-pro",
		Context: &canonical.Context{
			Messages: []canonical.Message{
				{Role: canonical.RoleUser, ToolResults: []canonical.ToolResult{
					{ToolCallID: "toolu_missing", Content: "orphan"},
				}},
			},
		},
	}

	_, err := NewGeminiProvider().CanonicalToRequest(req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "toolu_missing")
}

func TestGeminiRequestToCanonicalMintsToolIDs(t *testing.T) {
	raw := []byte(`{
		"systemInstruction": {"parts": [{"text": "be brief"}]},
		"generationConfig": {"maxOutputTokens": 1024},
		"contents": [
			{"role": "user", "parts": [{"text": "read it"}]},
			{"role": "model", "parts": [{"functionCall": {"name": "Read", "args": {"path": "go.mod"}}}]},
			{"role": "user", "parts": [{"functionResponse": {"name": "Read", "response": {"output": "module x"}}}]}
		]
	}`)

	req, warnings, err := NewGeminiProvider().RequestToCanonical(raw)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, "be brief", req.Context.System)
	assert.Equal(t, 1024, req.MaxTokens)

	calls := req.Context.Messages[1].ToolCalls
	require.Len(t, calls, 1)
	assert.True(t, strings.HasPrefix(calls[0].ID, "toolu_"))

	results := req.Context.Messages[2].ToolResults
	require.Len(t, results, 1)
	assert.Equal(t, calls[0].ID, results[0].ToolCallID)
	assert.Equal(t, "module x", results[0].Content)
}

func TestGeminiRequestToCanonicalDropsUnmatchedResponse(t *testing.T) {
	raw := []byte(`{
		"contents": [
			{"role": "user", "parts": [{"functionResponse": {"name": "Never", "response": {"output": "x"}}}]}
		]
	}`)

	req, warnings, err := NewGeminiProvider().RequestToCanonical(raw)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "Never")
	assert.Empty(t, req.Context.Messages[0].ToolResults)
}

func TestGeminiResponseToCanonical(t *testing.T) {
	raw := []byte(`{
		"modelVersion": "gemini-2.5-pro",
		"candidates": [{
			"content": {"role": "model", "parts": [
				{"text": "checking", "thought": true},
				{"text": "here you go"},
				{"functionCall": {"name": "Glob", "args": {"pattern": "*.go"}}}
			]},
			"finishReason": "STOP"
		}],
		"usageMetadata": {"promptTokenCount": 8, "candidatesTokenCount": 4}
	}`)

	msg, stop, err := NewGeminiProvider().ResponseToCanonical(raw)
	require.NoError(t, err)

	// STOP with a function call present means the turn wants tools run.
	assert.Equal(t, canonical.StopToolCall, stop)
	assert.Equal(t, "here you go", msg.Content)
	assert.Equal(t, "checking", msg.Thinking)
	assert.Equal(t, canonical.Usage{InputTokens: 8, OutputTokens: 4}, msg.Usage)
	require.Len(t, msg.ToolCalls, 1)
	assert.True(t, strings.HasPrefix(msg.ToolCalls[0].ID, "toolu_"))
}

func TestGeminiStopMapping(t *testing.T) {
	assert.Equal(t, canonical.StopComplete, geminiStopToCanonical("STOP", false))
	assert.Equal(t, canonical.StopToolCall, geminiStopToCanonical("STOP", true))
	assert.Equal(t, canonical.StopMaxTokens, geminiStopToCanonical("MAX_TOKENS", false))
	assert.Equal(t, canonical.StopSequence, geminiStopToCanonical("SAFETY", false))
	assert.Equal(t, canonical.StopSequence, geminiStopToCanonical("RECITATION", false))
	assert.Equal(t, canonical.StopUndefined, geminiStopToCanonical("OTHER", false))
}

func TestGeminiErrorMapping(t *testing.T) {
	assert.Equal(t, canonical.ErrAuth, geminiErrorToCanonical(&geminiError{Code: 403}).Kind)
	assert.Equal(t, canonical.ErrRateLimit, geminiErrorToCanonical(&geminiError{Code: 429}).Kind)
	assert.Equal(t, canonical.ErrInvalidRequest, geminiErrorToCanonical(&geminiError{Code: 400}).Kind)

	server := geminiErrorToCanonical(&geminiError{Code: 503, Message: "unavailable"})
	assert.Equal(t, canonical.ErrAPI, server.Kind)
	assert.True(t, server.Retryable)
}

func TestGeminiNormalizerExpandsFunctionCalls(t *testing.T) {
	events := feedAll(t, NewGeminiProvider().NewNormalizer(),
		`{"candidates":[{"content":{"role":"model","parts":[{"text":"on it"}]}}]}`,
		`{"candidates":[{"content":{"role":"model","parts":[{"functionCall":{"name":"Glob","args":{"pattern":"*.go"}}}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":6,"candidatesTokenCount":2}}`,
	)

	assert.Equal(t, []canonical.EventKind{
		canonical.EventTextDelta,
		canonical.EventToolCallStart,
		canonical.EventToolCallArgsDelta,
		canonical.EventToolCallEnd,
		canonical.EventUsageUpdate,
		canonical.EventStopReason,
	}, eventKinds(events))

	// The whole argument object arrives in one fragment.
	var args map[string]any
	require.NoError(t, json.Unmarshal([]byte(events[2].ArgsFragment), &args))
	assert.Equal(t, map[string]any{"pattern": "*.go"}, args)
	assert.Equal(t, events[1].ToolCallID, events[2].ToolCallID)
	assert.Equal(t, canonical.StopToolCall, events[5].Stop)
}

func TestGeminiNormalizerThinking(t *testing.T) {
	events := feedAll(t, NewGeminiProvider().NewNormalizer(),
		`{"candidates":[{"content":{"role":"model","parts":[{"text":"hmm","thought":true},{"text":"answer"}]},"finishReason":"STOP"}]}`,
	)

	assert.Equal(t, []canonical.EventKind{
		canonical.EventThinkingDelta,
		canonical.EventTextDelta,
		canonical.EventStopReason,
	}, eventKinds(events))
	assert.Equal(t, canonical.StopComplete, events[2].Stop)
}

func TestGeminiNormalizerStreamError(t *testing.T) {
	events := feedAll(t, NewGeminiProvider().NewNormalizer(),
		`{"error":{"code":429,"message":"quota exceeded","status":"RESOURCE_EXHAUSTED"}}`,
	)

	require.Len(t, events, 1)
	require.Equal(t, canonical.EventStreamError, events[0].Kind)
	assert.Equal(t, canonical.ErrRateLimit, events[0].Err.Kind)
}
