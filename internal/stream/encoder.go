package stream

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/claudeswitch/claudeswitch/internal/canonical"
)

type blockKind int

const (
	blockNone blockKind = iota
	blockText
	blockThinking
	blockTool
)

// Encoder re-encodes a canonical event sequence into the home protocol's
// exact streaming grammar, regardless of which backend produced the events.
// Block indices are assigned sequentially per stream and are independent of
// the source provider's chunk boundaries: a provider that delivers full tool
// arguments in one event still comes out as a start+delta+stop triplet.
type Encoder struct {
	model     string
	messageID string

	started   bool
	nextIndex int
	openIndex int
	openKind  blockKind

	toolIndex map[string]int // tool call id -> open block index

	usage    canonical.Usage
	stopSent bool
}

func NewEncoder(model string) *Encoder {
	return &Encoder{
		model:     model,
		messageID: "msg_" + uuid.NewString(),
		openIndex: -1,
		toolIndex: make(map[string]int),
	}
}

// MessageID is the home-protocol message id minted for this stream.
func (e *Encoder) MessageID() string { return e.messageID }

// Usage returns the last usage snapshot observed on the stream.
func (e *Encoder) Usage() canonical.Usage { return e.usage }

// Encode renders one canonical event as zero or more home-protocol SSE
// events.
func (e *Encoder) Encode(ev canonical.Event) []byte {
	var out []byte

	// Usage merges ahead of the lazy message_start so a leading snapshot
	// shows up in its usage block instead of reading zero.
	if ev.Kind == canonical.EventUsageUpdate {
		e.mergeUsage(ev.Usage)
	}

	if !e.started && ev.Kind != canonical.EventStreamError {
		out = append(out, e.encodeMessageStart()...)
		e.started = true
	}

	switch ev.Kind {
	case canonical.EventTextDelta:
		out = append(out, e.ensureBlock(blockText, "", "")...)
		out = append(out, formatSSE("content_block_delta", sseContentBlockDelta{
			Type:  "content_block_delta",
			Index: e.openIndex,
			Delta: sseDelta{Type: "text_delta", Text: ev.Text},
		})...)

	case canonical.EventThinkingDelta:
		out = append(out, e.ensureBlock(blockThinking, "", "")...)
		out = append(out, formatSSE("content_block_delta", sseContentBlockDelta{
			Type:  "content_block_delta",
			Index: e.openIndex,
			Delta: sseDelta{Type: "thinking_delta", Thinking: ev.Text},
		})...)

	case canonical.EventToolCallStart:
		out = append(out, e.ensureBlock(blockTool, ev.ToolCallID, ev.ToolName)...)
		e.toolIndex[ev.ToolCallID] = e.openIndex

	case canonical.EventToolCallArgsDelta:
		index, ok := e.toolIndex[ev.ToolCallID]
		if !ok {
			return out // delta for a call that never started; drop
		}
		out = append(out, formatSSE("content_block_delta", sseContentBlockDelta{
			Type:  "content_block_delta",
			Index: index,
			Delta: sseDelta{Type: "input_json_delta", PartialJSON: ev.ArgsFragment},
		})...)

	case canonical.EventToolCallEnd:
		index, ok := e.toolIndex[ev.ToolCallID]
		if !ok {
			return out
		}
		out = append(out, formatSSE("content_block_stop", sseContentBlockStop{
			Type:  "content_block_stop",
			Index: index,
		})...)
		delete(e.toolIndex, ev.ToolCallID)
		if e.openIndex == index {
			e.openIndex = -1
			e.openKind = blockNone
		}

	case canonical.EventStopReason:
		out = append(out, e.encodeStop(ev.Stop)...)

	case canonical.EventStreamError:
		out = append(out, EncodeErrorEvent(ev.Err)...)
	}

	return out
}

// Finish emits the terminal events for a stream whose provider never
// reported a stop reason. It is a no-op after a stop reason was encoded.
func (e *Encoder) Finish() []byte {
	if e.stopSent || !e.started {
		return nil
	}
	return e.encodeStop(canonical.StopUndefined)
}

func (e *Encoder) encodeMessageStart() []byte {
	return formatSSE("message_start", sseMessageStart{
		Type: "message_start",
		Message: sseMessage{
			ID:      e.messageID,
			Type:    "message",
			Role:    "assistant",
			Model:   e.model,
			Content: []sseContentBlock{},
			Usage:   sseUsage{InputTokens: e.usage.InputTokens, OutputTokens: e.usage.OutputTokens},
		},
	})
}

// ensureBlock opens a block of the wanted kind, closing whatever block is
// currently open if it differs.
func (e *Encoder) ensureBlock(kind blockKind, toolID, toolName string) []byte {
	if e.openKind == kind && kind != blockTool {
		return nil
	}

	out := e.closeOpenBlock()
	index := e.nextIndex
	e.nextIndex++
	e.openIndex = index
	e.openKind = kind

	block := sseContentBlock{}
	empty := ""
	switch kind {
	case blockText:
		block.Type = "text"
		block.Text = &empty
	case blockThinking:
		block.Type = "thinking"
		block.Thinking = &empty
	case blockTool:
		block.Type = "tool_use"
		block.ID = toolID
		block.Name = toolName
		block.Input = json.RawMessage(`{}`)
	}

	out = append(out, formatSSE("content_block_start", sseContentBlockStart{
		Type:         "content_block_start",
		Index:        index,
		ContentBlock: block,
	})...)
	return out
}

func (e *Encoder) closeOpenBlock() []byte {
	if e.openIndex < 0 {
		return nil
	}
	out := formatSSE("content_block_stop", sseContentBlockStop{
		Type:  "content_block_stop",
		Index: e.openIndex,
	})
	if e.openKind == blockTool {
		for id, index := range e.toolIndex {
			if index == e.openIndex {
				delete(e.toolIndex, id)
			}
		}
	}
	e.openIndex = -1
	e.openKind = blockNone
	return out
}

func (e *Encoder) encodeStop(reason canonical.StopReason) []byte {
	out := e.closeOpenBlock()

	stopReason := HomeStopReason(reason)
	out = append(out, formatSSE("message_delta", sseMessageDelta{
		Type: "message_delta",
		Delta: sseMessageDeltaBody{
			StopReason: &stopReason,
		},
		Usage: &sseUsage{
			InputTokens:  e.usage.InputTokens,
			OutputTokens: e.usage.OutputTokens,
		},
	})...)
	out = append(out, formatSSE("message_stop", sseMessageStop{Type: "message_stop"})...)
	e.stopSent = true
	return out
}

func (e *Encoder) mergeUsage(u canonical.Usage) {
	// Providers report usage as cumulative snapshots; keep the latest
	// nonzero figures.
	if u.InputTokens > 0 {
		e.usage.InputTokens = u.InputTokens
	}
	if u.OutputTokens > 0 {
		e.usage.OutputTokens = u.OutputTokens
	}
	e.usage.Estimated = e.usage.Estimated || u.Estimated
}

// HomeStopReason maps a canonical stop reason onto the home protocol's
// vocabulary. Undefined is treated as a normal completion, never an error.
func HomeStopReason(reason canonical.StopReason) string {
	switch reason {
	case canonical.StopMaxTokens:
		return "max_tokens"
	case canonical.StopSequence:
		return "stop_sequence"
	case canonical.StopToolCall:
		return "tool_use"
	default:
		return "end_turn"
	}
}

// HomeErrorType maps a canonical error kind onto the home protocol's error
// type strings.
func HomeErrorType(kind canonical.ErrorKind) string {
	switch kind {
	case canonical.ErrAuth:
		return "authentication_error"
	case canonical.ErrRateLimit:
		return "rate_limit_error"
	case canonical.ErrInvalidRequest:
		return "invalid_request_error"
	default:
		return "api_error"
	}
}

// EncodeErrorEvent renders a canonical error as a home-protocol SSE error
// event.
func EncodeErrorEvent(cerr *canonical.Error) []byte {
	if cerr == nil {
		return nil
	}
	return formatSSE("error", sseError{
		Type: "error",
		Error: sseErrorBody{
			Type:    HomeErrorType(cerr.Kind),
			Message: cerr.Message,
		},
	})
}

// Home-protocol SSE wire shapes.

type sseMessageStart struct {
	Type    string     `json:"type"`
	Message sseMessage `json:"message"`
}

type sseMessage struct {
	ID           string            `json:"id"`
	Type         string            `json:"type"`
	Role         string            `json:"role"`
	Model        string            `json:"model"`
	Content      []sseContentBlock `json:"content"`
	StopReason   *string           `json:"stop_reason"`
	StopSequence *string           `json:"stop_sequence"`
	Usage        sseUsage          `json:"usage"`
}

type sseUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type sseContentBlock struct {
	Type     string          `json:"type"`
	Text     *string         `json:"text,omitempty"`
	Thinking *string         `json:"thinking,omitempty"`
	ID       string          `json:"id,omitempty"`
	Name     string          `json:"name,omitempty"`
	Input    json.RawMessage `json:"input,omitempty"`
}

type sseContentBlockStart struct {
	Type         string          `json:"type"`
	Index        int             `json:"index"`
	ContentBlock sseContentBlock `json:"content_block"`
}

type sseDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
}

type sseContentBlockDelta struct {
	Type  string   `json:"type"`
	Index int      `json:"index"`
	Delta sseDelta `json:"delta"`
}

type sseContentBlockStop struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

type sseMessageDeltaBody struct {
	StopReason   *string `json:"stop_reason"`
	StopSequence *string `json:"stop_sequence"`
}

type sseMessageDelta struct {
	Type  string              `json:"type"`
	Delta sseMessageDeltaBody `json:"delta"`
	Usage *sseUsage           `json:"usage,omitempty"`
}

type sseMessageStop struct {
	Type string `json:"type"`
}

type sseErrorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type sseError struct {
	Type  string       `json:"type"`
	Error sseErrorBody `json:"error"`
}

func formatSSE(eventType string, data any) []byte {
	payload, err := json.Marshal(data)
	if err != nil {
		return []byte("event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"api_error\",\"message\":\"failed to marshal event\"}}\n\n")
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, payload))
}
