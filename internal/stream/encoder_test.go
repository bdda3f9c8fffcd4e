package stream

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claudeswitch/claudeswitch/internal/canonical"
)

type sseEvent struct {
	name string
	data map[string]any
}

func parseSSE(t *testing.T, raw string) []sseEvent {
	t.Helper()
	var events []sseEvent
	var current sseEvent
	for _, line := range strings.Split(raw, "\n") {
		switch {
		case strings.HasPrefix(line, "event: "):
			current = sseEvent{name: strings.TrimPrefix(line, "event: ")}
		case strings.HasPrefix(line, "data: "):
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &current.data))
			events = append(events, current)
		}
	}
	return events
}

func encodeAll(enc *Encoder, evs ...canonical.Event) []byte {
	var out []byte
	for _, ev := range evs {
		out = append(out, enc.Encode(ev)...)
	}
	return out
}

func TestEncoderTextStream(t *testing.T) {
	enc := NewEncoder("claude-sonnet-4-20250514")

	out := encodeAll(enc,
		canonical.TextDelta("Hello"),
		canonical.TextDelta(" world"),
		canonical.UsageUpdate(canonical.Usage{InputTokens: 10, OutputTokens: 2}),
		canonical.Stop(canonical.StopComplete),
	)

	events := parseSSE(t, string(out))
	names := make([]string, len(events))
	for i, ev := range events {
		names[i] = ev.name
	}
	assert.Equal(t, []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, names)

	start := events[0].data["message"].(map[string]any)
	assert.Equal(t, "claude-sonnet-4-20250514", start["model"])
	assert.True(t, strings.HasPrefix(start["id"].(string), "msg_"))

	delta := events[5].data["delta"].(map[string]any)
	assert.Equal(t, "end_turn", delta["stop_reason"])
	usage := events[5].data["usage"].(map[string]any)
	assert.Equal(t, float64(10), usage["input_tokens"])
	assert.Equal(t, float64(2), usage["output_tokens"])
}

func TestEncoderMessageStartCarriesLeadingUsage(t *testing.T) {
	enc := NewEncoder("claude-sonnet-4-20250514")

	out := encodeAll(enc,
		canonical.UsageUpdate(canonical.Usage{InputTokens: 42}),
		canonical.TextDelta("hi"),
		canonical.Stop(canonical.StopComplete),
	)

	events := parseSSE(t, string(out))
	require.Equal(t, "message_start", events[0].name)
	usage := events[0].data["message"].(map[string]any)["usage"].(map[string]any)
	assert.Equal(t, float64(42), usage["input_tokens"])
}

func TestEncoderThinkingBlockStartsEmpty(t *testing.T) {
	enc := NewEncoder("m")

	out := encodeAll(enc, canonical.ThinkingDelta("hmm"))

	events := parseSSE(t, string(out))
	require.Equal(t, "content_block_start", events[1].name)
	block := events[1].data["content_block"].(map[string]any)
	assert.Equal(t, "thinking", block["type"])
	thinking, present := block["thinking"]
	require.True(t, present)
	assert.Equal(t, "", thinking)
}

func TestEncoderToolCallTriplet(t *testing.T) {
	enc := NewEncoder("m")

	out := encodeAll(enc,
		canonical.ToolCallStart("toolu_1", "Glob"),
		canonical.ToolCallArgsDelta("toolu_1", `{"pattern":`),
		canonical.ToolCallArgsDelta("toolu_1", `"*.go"}`),
		canonical.ToolCallEnd("toolu_1", map[string]any{"pattern": "*.go"}),
		canonical.Stop(canonical.StopToolCall),
	)

	events := parseSSE(t, string(out))

	var blockStart, stopDelta map[string]any
	var fragments []string
	for _, ev := range events {
		switch ev.name {
		case "content_block_start":
			blockStart = ev.data
		case "content_block_delta":
			delta := ev.data["delta"].(map[string]any)
			require.Equal(t, "input_json_delta", delta["type"])
			fragments = append(fragments, delta["partial_json"].(string))
		case "message_delta":
			stopDelta = ev.data["delta"].(map[string]any)
		}
	}

	block := blockStart["content_block"].(map[string]any)
	assert.Equal(t, "tool_use", block["type"])
	assert.Equal(t, "toolu_1", block["id"])
	assert.Equal(t, "Glob", block["name"])

	var args map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.Join(fragments, "")), &args))
	assert.Equal(t, "*.go", args["pattern"])

	assert.Equal(t, "tool_use", stopDelta["stop_reason"])
}

func TestEncoderSequentialIndices(t *testing.T) {
	enc := NewEncoder("m")

	out := encodeAll(enc,
		canonical.ThinkingDelta("hmm"),
		canonical.TextDelta("first"),
		canonical.ToolCallStart("toolu_1", "Read"),
		canonical.ToolCallEnd("toolu_1", map[string]any{}),
		canonical.TextDelta("second"),
		canonical.Stop(canonical.StopComplete),
	)

	var startIndices []int
	for _, ev := range parseSSE(t, string(out)) {
		if ev.name == "content_block_start" {
			startIndices = append(startIndices, int(ev.data["index"].(float64)))
		}
	}
	assert.Equal(t, []int{0, 1, 2, 3}, startIndices)
}

func TestEncoderFinish(t *testing.T) {
	t.Run("emits terminal events when no stop was seen", func(t *testing.T) {
		enc := NewEncoder("m")
		out := encodeAll(enc, canonical.TextDelta("partial"))
		out = append(out, enc.Finish()...)

		events := parseSSE(t, string(out))
		assert.Equal(t, "message_stop", events[len(events)-1].name)
	})

	t.Run("no-op after an explicit stop", func(t *testing.T) {
		enc := NewEncoder("m")
		encodeAll(enc, canonical.TextDelta("x"), canonical.Stop(canonical.StopComplete))
		assert.Empty(t, enc.Finish())
	})

	t.Run("no-op on an empty stream", func(t *testing.T) {
		enc := NewEncoder("m")
		assert.Empty(t, enc.Finish())
	})
}

func TestEncoderStreamError(t *testing.T) {
	enc := NewEncoder("m")
	out := enc.Encode(canonical.StreamError(&canonical.Error{
		Kind:    canonical.ErrRateLimit,
		Message: "slow down",
	}))

	events := parseSSE(t, string(out))
	require.Len(t, events, 1)
	assert.Equal(t, "error", events[0].name)
	body := events[0].data["error"].(map[string]any)
	assert.Equal(t, "rate_limit_error", body["type"])
	assert.Equal(t, "slow down", body["message"])
}

func TestToolCallAccumulator(t *testing.T) {
	t.Run("concatenates fragments", func(t *testing.T) {
		acc := &ToolCallAccumulator{ID: "toolu_1", Name: "Glob"}
		for _, fragment := range []string{`{"pat`, `tern": `, `"*.go"}`} {
			acc.Append(fragment)
		}
		args, err := acc.Parse()
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"pattern": "*.go"}, args)
	})

	t.Run("empty accumulation is an argument-less call", func(t *testing.T) {
		acc := &ToolCallAccumulator{ID: "toolu_1", Name: "List"}
		args, err := acc.Parse()
		require.NoError(t, err)
		assert.Equal(t, map[string]any{}, args)
	})

	t.Run("corrupt arguments report a parse error", func(t *testing.T) {
		acc := &ToolCallAccumulator{ID: "toolu_1", Name: "Glob"}
		acc.Append(`{"pattern": "*.go"`)
		_, err := acc.Parse()
		var perr *canonical.ToolArgumentParseError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, "toolu_1", perr.ToolCallID)
		assert.Equal(t, "Glob", perr.ToolName)
	})
}
