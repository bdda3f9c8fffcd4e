package stream_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claudeswitch/claudeswitch/internal/canonical"
	"github.com/claudeswitch/claudeswitch/internal/providers"
	"github.com/claudeswitch/claudeswitch/internal/stream"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedNormalizer plays back canned events, one batch per payload, and
// optionally cancels a context after a given batch.
type scriptedNormalizer struct {
	batches     [][]canonical.Event
	fed         int
	flushed     bool
	cancelAfter int
	cancel      context.CancelFunc
}

func (s *scriptedNormalizer) Feed(payload []byte) ([]canonical.Event, error) {
	if s.fed >= len(s.batches) {
		return nil, nil
	}
	batch := s.batches[s.fed]
	s.fed++
	if s.cancel != nil && s.fed == s.cancelAfter {
		s.cancel()
	}
	return batch, nil
}

func (s *scriptedNormalizer) Flush() []canonical.Event {
	s.flushed = true
	return nil
}

func dataLines(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteString("data: {}\n\n")
	}
	return b.String()
}

func TestPipeReassemblesOpenAIToolFragments(t *testing.T) {
	for _, tc := range []struct {
		name      string
		fragments []string
	}{
		{"single fragment", []string{`{"pattern":"**/*.go"}`}},
		{"three fragments", []string{`{"pat`, `tern":"**`, `/*.go"}`}},
		{"many fragments", strings.Split(`{"pattern":"**/*.go"}`, "")},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var b strings.Builder
			b.WriteString(`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_glob","function":{"name":"Glob","arguments":""}}]}}]}` + "\n\n")
			for _, frag := range tc.fragments {
				chunk := map[string]any{
					"choices": []any{map[string]any{
						"delta": map[string]any{
							"tool_calls": []any{map[string]any{
								"index":    0,
								"function": map[string]any{"arguments": frag},
							}},
						},
					}},
				}
				raw, err := json.Marshal(chunk)
				require.NoError(t, err)
				b.WriteString("data: " + string(raw) + "\n\n")
			}
			b.WriteString(`data: {"choices":[{"delta":{},"finish_reason":"tool_calls"}]}` + "\n\n")
			b.WriteString("data: [DONE]\n")

			var out bytes.Buffer
			norm := providers.NewOpenAIProvider().NewNormalizer()
			res, err := stream.Pipe(context.Background(), strings.NewReader(b.String()),
				norm, stream.NewEncoder("m"), &out, discardLogger())
			require.NoError(t, err)
			assert.Equal(t, canonical.StopToolCall, res.Stop)

			raw := out.String()
			assert.Contains(t, raw, `"type":"tool_use"`)
			assert.Contains(t, raw, `"name":"Glob"`)
			assert.Contains(t, raw, "event: message_stop")

			var rebuilt strings.Builder
			for _, line := range strings.Split(raw, "\n") {
				if !strings.HasPrefix(line, "data: ") {
					continue
				}
				var payload struct {
					Type  string `json:"type"`
					Delta struct {
						Type        string `json:"type"`
						PartialJSON string `json:"partial_json"`
					} `json:"delta"`
				}
				require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &payload))
				if payload.Delta.Type == "input_json_delta" {
					rebuilt.WriteString(payload.Delta.PartialJSON)
				}
			}
			var args map[string]any
			require.NoError(t, json.Unmarshal([]byte(rebuilt.String()), &args))
			assert.Equal(t, "**/*.go", args["pattern"])
		})
	}
}

func TestPipeCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	norm := &scriptedNormalizer{
		batches: [][]canonical.Event{
			{canonical.TextDelta("one")},
			{canonical.TextDelta("two")},
			{canonical.TextDelta("never")},
		},
		cancelAfter: 2,
		cancel:      cancel,
	}

	var out bytes.Buffer
	res, err := stream.Pipe(ctx, strings.NewReader(dataLines(5)),
		norm, stream.NewEncoder("m"), &out, discardLogger())

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, norm.fed)
	assert.False(t, norm.flushed)
	assert.NotContains(t, out.String(), "event: message_stop")
	assert.Equal(t, 2, res.Events)
}

func TestPipeUsageFallback(t *testing.T) {
	norm := &scriptedNormalizer{
		batches: [][]canonical.Event{
			{canonical.TextDelta("hello world, this is output text")},
		},
	}

	var out bytes.Buffer
	res, err := stream.Pipe(context.Background(), strings.NewReader(dataLines(1)),
		norm, stream.NewEncoder("m"), &out, discardLogger())
	require.NoError(t, err)

	assert.True(t, norm.flushed)
	assert.True(t, res.Usage.Estimated)
	assert.Greater(t, res.Usage.OutputTokens, 0)
	assert.Contains(t, out.String(), "event: message_stop")
}

func TestPipeKeepsProviderUsage(t *testing.T) {
	norm := &scriptedNormalizer{
		batches: [][]canonical.Event{
			{
				canonical.TextDelta("hi"),
				canonical.UsageUpdate(canonical.Usage{InputTokens: 12, OutputTokens: 3}),
				canonical.Stop(canonical.StopComplete),
			},
		},
	}

	var out bytes.Buffer
	res, err := stream.Pipe(context.Background(), strings.NewReader(dataLines(1)),
		norm, stream.NewEncoder("m"), &out, discardLogger())
	require.NoError(t, err)

	assert.False(t, res.Usage.Estimated)
	assert.Equal(t, 12, res.Usage.InputTokens)
	assert.Equal(t, 3, res.Usage.OutputTokens)
	assert.Equal(t, canonical.StopComplete, res.Stop)
}

func TestPipeStopsAtDone(t *testing.T) {
	norm := &scriptedNormalizer{
		batches: [][]canonical.Event{
			{canonical.TextDelta("before")},
			{canonical.TextDelta("after")},
		},
	}

	input := "data: {}\n\ndata: [DONE]\n\ndata: {}\n\n"
	var out bytes.Buffer
	_, err := stream.Pipe(context.Background(), strings.NewReader(input),
		norm, stream.NewEncoder("m"), &out, discardLogger())
	require.NoError(t, err)

	assert.Equal(t, 1, norm.fed)
	assert.True(t, norm.flushed)
	assert.Contains(t, out.String(), "before")
	assert.NotContains(t, out.String(), "after")
}

func TestPipeSkipsMalformedChunks(t *testing.T) {
	input := "data: not json\n\n" +
		`data: {"choices":[{"delta":{"content":"still here"},"finish_reason":"stop"}]}` + "\n\n" +
		"data: [DONE]\n"

	var out bytes.Buffer
	norm := providers.NewOpenAIProvider().NewNormalizer()
	res, err := stream.Pipe(context.Background(), strings.NewReader(input),
		norm, stream.NewEncoder("m"), &out, discardLogger())
	require.NoError(t, err)

	assert.Equal(t, canonical.StopComplete, res.Stop)
	assert.Contains(t, out.String(), "still here")
}
