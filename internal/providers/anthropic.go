package providers

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/claudeswitch/claudeswitch/internal/canonical"
	"github.com/claudeswitch/claudeswitch/internal/schema"
	"github.com/claudeswitch/claudeswitch/internal/stream"
)

const (
	anthropicDefaultBase      = "https://api.anthropic.com"
	anthropicVersion          = "2023-06-01"
	anthropicDefaultMaxTokens = 4096
)

// AnthropicProvider speaks the home protocol: it decodes incoming requests
// into the canonical model and encodes canonical results back out. It also
// serves as a backend when requests route to an Anthropic model.
type AnthropicProvider struct {
	name string
}

func NewAnthropicProvider() *AnthropicProvider {
	return &AnthropicProvider{name: "anthropic"}
}

func (p *AnthropicProvider) Name() string {
	return p.name
}

func (p *AnthropicProvider) Endpoint(base, model string, streaming bool) string {
	if base == "" {
		base = anthropicDefaultBase
	}
	return strings.TrimSuffix(base, "/") + "/v1/messages"
}

func (p *AnthropicProvider) ApplyAuth(header http.Header, apiKey string) {
	header.Set("x-api-key", apiKey)
	header.Set("anthropic-version", anthropicVersion)
}

// Wire shapes. Content is a union (string or block list) in both directions,
// so it stays a RawMessage until the fan-in decides.

type anthropicRequest struct {
	Model         string             `json:"model"`
	MaxTokens     int                `json:"max_tokens"`
	System        json.RawMessage    `json:"system,omitempty"`
	Messages      []anthropicMessage `json:"messages"`
	Tools         []anthropicTool    `json:"tools,omitempty"`
	Temperature   *float64           `json:"temperature,omitempty"`
	TopP          *float64           `json:"top_p,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
	Stream        bool               `json:"stream,omitempty"`
	Thinking      *anthropicThinking `json:"thinking,omitempty"`
}

type anthropicThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

type anthropicMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type anthropicBlock struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`

	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`

	Source *anthropicImageSource `json:"source,omitempty"`
}

type anthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type anthropicTool struct {
	Type        string          `json:"type,omitempty"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (p *AnthropicProvider) RequestToCanonical(raw []byte) (*canonical.Request, []string, error) {
	var wire anthropicRequest
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, nil, fmt.Errorf("decode anthropic request: %w", err)
	}

	var warnings []string
	cctx := &canonical.Context{}

	if len(wire.System) > 0 {
		system, err := decodeSystemPrompt(wire.System)
		if err != nil {
			return nil, nil, fmt.Errorf("decode system prompt: %w", err)
		}
		cctx.System = system
	}

	for _, t := range wire.Tools {
		// Builtin server tools carry a versioned type and no schema the
		// canonical model can represent. They are skipped, not forwarded.
		if t.Type != "" {
			warnings = append(warnings, fmt.Sprintf("skipping builtin tool %q (type %s)", t.Name, t.Type))
			continue
		}
		def := canonical.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  schema.FromJSON(t.InputSchema),
		}
		if err := cctx.AddTool(def); err != nil {
			return nil, nil, err
		}
	}

	for i, wm := range wire.Messages {
		msg, msgWarnings, err := decodeAnthropicMessage(wm)
		if err != nil {
			return nil, nil, fmt.Errorf("decode message %d: %w", i, err)
		}
		warnings = append(warnings, msgWarnings...)
		cctx.Append(msg)
	}

	if err := cctx.CheckToolResults(); err != nil {
		return nil, nil, err
	}

	req := &canonical.Request{
		Context:       cctx,
		Model:         wire.Model,
		MaxTokens:     wire.MaxTokens,
		Temperature:   wire.Temperature,
		TopP:          wire.TopP,
		StopSequences: wire.StopSequences,
		Stream:        wire.Stream,
	}
	if wire.Thinking != nil && wire.Thinking.Type == "enabled" {
		req.ThinkingBudget = wire.Thinking.BudgetTokens
		if req.ThinkingBudget == 0 {
			req.ThinkingBudget = 1024
		}
	}
	return req, warnings, nil
}

// decodeSystemPrompt accepts both the string form and the block-list form,
// joining text blocks with newlines.
func decodeSystemPrompt(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}

	var blocks []anthropicBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return "", fmt.Errorf("system prompt is neither string nor block list")
	}

	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n"), nil
}

func decodeAnthropicMessage(wm anthropicMessage) (canonical.Message, []string, error) {
	role := canonical.RoleUser
	if wm.Role == "assistant" {
		role = canonical.RoleAssistant
	}
	msg := canonical.Message{Role: role}

	var plain string
	if err := json.Unmarshal(wm.Content, &plain); err == nil {
		msg.Content = plain
		return msg, nil, nil
	}

	var blocks []anthropicBlock
	if err := json.Unmarshal(wm.Content, &blocks); err != nil {
		return msg, nil, fmt.Errorf("content is neither string nor block list")
	}

	var warnings []string
	var texts []string
	for _, b := range blocks {
		switch b.Type {
		case "text":
			texts = append(texts, b.Text)
		case "thinking":
			msg.Thinking += b.Thinking
			if b.Signature != "" {
				msg.ThinkingSignature = b.Signature
			}
		case "tool_use":
			args := b.Input
			if args == nil {
				args = map[string]any{}
			}
			msg.ToolCalls = append(msg.ToolCalls, canonical.ToolCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: args,
			})
		case "tool_result":
			content, err := decodeToolResultContent(b.Content)
			if err != nil {
				return msg, warnings, err
			}
			msg.ToolResults = append(msg.ToolResults, canonical.ToolResult{
				ToolCallID: b.ToolUseID,
				Content:    content,
				IsError:    b.IsError,
			})
		case "image":
			att, err := decodeImageSource(b.Source)
			if err != nil {
				return msg, warnings, err
			}
			msg.Attachments = append(msg.Attachments, att)
		default:
			warnings = append(warnings, fmt.Sprintf("dropping unrecognized content block %q", b.Type))
		}
	}
	msg.Content = strings.Join(texts, "\n")
	return msg, warnings, nil
}

func decodeToolResultContent(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}

	var blocks []anthropicBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return "", fmt.Errorf("tool result content is neither string nor block list")
	}
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b.Type == "text" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n"), nil
}

func decodeImageSource(src *anthropicImageSource) (canonical.Attachment, error) {
	if src == nil {
		return canonical.Attachment{}, fmt.Errorf("image block has no source")
	}
	switch src.Type {
	case "base64":
		data, err := base64.StdEncoding.DecodeString(src.Data)
		if err != nil {
			return canonical.Attachment{}, fmt.Errorf("decode image data: %w", err)
		}
		return canonical.Attachment{MimeType: src.MediaType, Data: data}, nil
	case "url":
		mime := src.MediaType
		if mime == "" {
			mime = inferMimeType(src.URL)
		}
		return canonical.Attachment{MimeType: mime, URL: src.URL}, nil
	default:
		return canonical.Attachment{}, fmt.Errorf("unrecognized image source type %q", src.Type)
	}
}

func (p *AnthropicProvider) CanonicalToRequest(req *canonical.Request) ([]byte, error) {
	wire := anthropicRequest{
		Model:         req.Model,
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		StopSequences: req.StopSequences,
		Stream:        req.Stream,
	}
	if wire.MaxTokens <= 0 {
		wire.MaxTokens = anthropicDefaultMaxTokens
	}
	if req.ThinkingBudget > 0 {
		wire.Thinking = &anthropicThinking{Type: "enabled", BudgetTokens: req.ThinkingBudget}
	}

	cctx := req.Context
	if cctx.System != "" {
		system, err := json.Marshal(cctx.System)
		if err != nil {
			return nil, err
		}
		wire.System = system
	}

	if !req.ToolsDisabled {
		for _, t := range cctx.Tools {
			wire.Tools = append(wire.Tools, anthropicTool{
				Name:        t.Name,
				Description: t.Description,
				InputSchema: schema.MarshalJSONSchema(t.Parameters),
			})
		}
	}

	for i := range cctx.Messages {
		wm, err := encodeAnthropicMessage(&cctx.Messages[i], req.ImagesIgnored)
		if err != nil {
			return nil, err
		}
		wire.Messages = append(wire.Messages, wm)
	}

	return json.Marshal(wire)
}

func encodeAnthropicMessage(msg *canonical.Message, imagesIgnored bool) (anthropicMessage, error) {
	wm := anthropicMessage{Role: string(msg.Role)}

	var blocks []anthropicBlock
	switch msg.Role {
	case canonical.RoleUser:
		// Tool results lead the turn so the backend pairs them with the
		// preceding assistant calls before reading new text.
		for _, tr := range msg.ToolResults {
			content, err := json.Marshal(tr.Content)
			if err != nil {
				return wm, err
			}
			blocks = append(blocks, anthropicBlock{
				Type:      "tool_result",
				ToolUseID: tr.ToolCallID,
				Content:   content,
				IsError:   tr.IsError,
			})
		}
		if msg.Content != "" {
			blocks = append(blocks, anthropicBlock{Type: "text", Text: msg.Content})
		}
		if !imagesIgnored {
			for _, att := range msg.Attachments {
				if err := validateAttachment(att); err != nil {
					return wm, err
				}
				blocks = append(blocks, anthropicBlock{Type: "image", Source: encodeImageSource(att)})
			}
		}
	case canonical.RoleAssistant:
		if msg.Thinking != "" {
			blocks = append(blocks, anthropicBlock{
				Type:      "thinking",
				Thinking:  msg.Thinking,
				Signature: msg.ThinkingSignature,
			})
		}
		if msg.Content != "" {
			blocks = append(blocks, anthropicBlock{Type: "text", Text: msg.Content})
		}
		for _, tc := range msg.ToolCalls {
			args := tc.Arguments
			if args == nil {
				args = map[string]any{}
			}
			blocks = append(blocks, anthropicBlock{
				Type:  "tool_use",
				ID:    tc.ID,
				Name:  tc.Name,
				Input: args,
			})
		}
	}

	// A pure-text turn encodes as a plain string, matching what most
	// clients send.
	if len(blocks) == 1 && blocks[0].Type == "text" {
		content, err := json.Marshal(blocks[0].Text)
		if err != nil {
			return wm, err
		}
		wm.Content = content
		return wm, nil
	}

	content, err := json.Marshal(blocks)
	if err != nil {
		return wm, err
	}
	wm.Content = content
	return wm, nil
}

func encodeImageSource(att canonical.Attachment) *anthropicImageSource {
	if len(att.Data) > 0 {
		return &anthropicImageSource{
			Type:      "base64",
			MediaType: att.MimeType,
			Data:      base64.StdEncoding.EncodeToString(att.Data),
		}
	}
	return &anthropicImageSource{Type: "url", URL: att.URL}
}

type anthropicResponse struct {
	ID         string           `json:"id"`
	Type       string           `json:"type"`
	Role       string           `json:"role"`
	Model      string           `json:"model"`
	Content    []anthropicBlock `json:"content"`
	StopReason string           `json:"stop_reason"`
	Usage      anthropicUsage   `json:"usage"`
}

func (p *AnthropicProvider) ResponseToCanonical(raw []byte) (*canonical.Message, canonical.StopReason, error) {
	var wire anthropicResponse
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, canonical.StopUndefined, fmt.Errorf("decode anthropic response: %w", err)
	}

	msg := &canonical.Message{
		Role:     canonical.RoleAssistant,
		Provider: p.name,
		Model:    wire.Model,
		Usage: canonical.Usage{
			InputTokens:  wire.Usage.InputTokens,
			OutputTokens: wire.Usage.OutputTokens,
		},
	}

	var texts []string
	for _, b := range wire.Content {
		switch b.Type {
		case "text":
			texts = append(texts, b.Text)
		case "thinking":
			msg.Thinking += b.Thinking
			if b.Signature != "" {
				msg.ThinkingSignature = b.Signature
			}
		case "tool_use":
			args := b.Input
			if args == nil {
				args = map[string]any{}
			}
			msg.ToolCalls = append(msg.ToolCalls, canonical.ToolCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: args,
			})
		}
	}
	msg.Content = strings.Join(texts, "\n")

	return msg, anthropicStopToCanonical(wire.StopReason), nil
}

func anthropicStopToCanonical(reason string) canonical.StopReason {
	switch reason {
	case "end_turn":
		return canonical.StopComplete
	case "max_tokens":
		return canonical.StopMaxTokens
	case "stop_sequence":
		return canonical.StopSequence
	case "tool_use":
		return canonical.StopToolCall
	default:
		return canonical.StopUndefined
	}
}

// EncodeHomeMessage renders a completed canonical turn as a home-protocol
// response body for the non-streaming path.
func EncodeHomeMessage(msg *canonical.Message, stop canonical.StopReason, model string) ([]byte, error) {
	var blocks []anthropicBlock
	if msg.Thinking != "" {
		blocks = append(blocks, anthropicBlock{
			Type:      "thinking",
			Thinking:  msg.Thinking,
			Signature: msg.ThinkingSignature,
		})
	}
	if msg.Content != "" {
		blocks = append(blocks, anthropicBlock{Type: "text", Text: msg.Content})
	}
	for _, tc := range msg.ToolCalls {
		args := tc.Arguments
		if args == nil {
			args = map[string]any{}
		}
		blocks = append(blocks, anthropicBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: args})
	}
	if blocks == nil {
		blocks = []anthropicBlock{}
	}

	out := anthropicResponse{
		ID:         "msg_" + uuid.NewString(),
		Type:       "message",
		Role:       "assistant",
		Model:      model,
		Content:    blocks,
		StopReason: stream.HomeStopReason(stop),
		Usage: anthropicUsage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}
	return json.Marshal(out)
}

type homeErrorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type homeError struct {
	Type  string        `json:"type"`
	Error homeErrorBody `json:"error"`
}

// EncodeHomeError renders a canonical error as a home-protocol error body.
func EncodeHomeError(cerr *canonical.Error) []byte {
	data, err := json.Marshal(homeError{
		Type: "error",
		Error: homeErrorBody{
			Type:    stream.HomeErrorType(cerr.Kind),
			Message: cerr.Message,
		},
	})
	if err != nil {
		return []byte(`{"type":"error","error":{"type":"api_error","message":"internal error"}}`)
	}
	return data
}

// HomeErrorStatus maps a canonical error kind to the home-protocol HTTP
// status.
func HomeErrorStatus(cerr *canonical.Error) int {
	switch cerr.Kind {
	case canonical.ErrAuth:
		return http.StatusUnauthorized
	case canonical.ErrRateLimit:
		return http.StatusTooManyRequests
	case canonical.ErrInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Streaming normalizer. Block indexes come from the wire; the per-index
// kind table disambiguates deltas and stops.

type anthropicStreamDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

type anthropicStreamMessage struct {
	Usage anthropicUsage `json:"usage"`
}

type anthropicStreamEvent struct {
	Type         string                  `json:"type"`
	Index        int                     `json:"index"`
	Message      *anthropicStreamMessage `json:"message,omitempty"`
	ContentBlock *anthropicBlock         `json:"content_block,omitempty"`
	Delta        *anthropicStreamDelta   `json:"delta,omitempty"`
	Usage        *anthropicUsage         `json:"usage,omitempty"`
	Error        *homeErrorBody          `json:"error,omitempty"`
}

type anthropicNormalizer struct {
	blockKinds map[int]string
	tools      map[int]*stream.ToolCallAccumulator
	stopSeen   bool
}

func (p *AnthropicProvider) NewNormalizer() stream.Normalizer {
	return &anthropicNormalizer{
		blockKinds: make(map[int]string),
		tools:      make(map[int]*stream.ToolCallAccumulator),
	}
}

func (n *anthropicNormalizer) Feed(payload []byte) ([]canonical.Event, error) {
	var ev anthropicStreamEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, &canonical.ConversionError{Provider: "anthropic", Stage: "stream", Err: err}
	}

	switch ev.Type {
	case "message_start":
		if ev.Message != nil && (ev.Message.Usage.InputTokens > 0 || ev.Message.Usage.OutputTokens > 0) {
			return []canonical.Event{canonical.UsageUpdate(canonical.Usage{
				InputTokens:  ev.Message.Usage.InputTokens,
				OutputTokens: ev.Message.Usage.OutputTokens,
			})}, nil
		}

	case "content_block_start":
		if ev.ContentBlock == nil {
			return nil, nil
		}
		n.blockKinds[ev.Index] = ev.ContentBlock.Type
		if ev.ContentBlock.Type == "tool_use" {
			n.tools[ev.Index] = &stream.ToolCallAccumulator{
				ID:   ev.ContentBlock.ID,
				Name: ev.ContentBlock.Name,
			}
			return []canonical.Event{canonical.ToolCallStart(ev.ContentBlock.ID, ev.ContentBlock.Name)}, nil
		}

	case "content_block_delta":
		if ev.Delta == nil {
			return nil, nil
		}
		switch ev.Delta.Type {
		case "text_delta":
			return []canonical.Event{canonical.TextDelta(ev.Delta.Text)}, nil
		case "thinking_delta":
			return []canonical.Event{canonical.ThinkingDelta(ev.Delta.Thinking)}, nil
		case "input_json_delta":
			acc, ok := n.tools[ev.Index]
			if !ok {
				return nil, nil
			}
			acc.Append(ev.Delta.PartialJSON)
			return []canonical.Event{canonical.ToolCallArgsDelta(acc.ID, ev.Delta.PartialJSON)}, nil
		case "signature_delta":
			// Signatures ride along with the thinking block on replay;
			// the streaming view has no slot for them.
		}

	case "content_block_stop":
		acc, ok := n.tools[ev.Index]
		if !ok {
			return nil, nil
		}
		delete(n.tools, ev.Index)
		end, err := acc.Close()
		if err != nil {
			slog.Warn("dropping tool call with corrupt arguments", "error", err)
			return nil, nil
		}
		return []canonical.Event{end}, nil

	case "message_delta":
		var events []canonical.Event
		if ev.Usage != nil {
			events = append(events, canonical.UsageUpdate(canonical.Usage{
				InputTokens:  ev.Usage.InputTokens,
				OutputTokens: ev.Usage.OutputTokens,
			}))
		}
		if ev.Delta != nil && ev.Delta.StopReason != "" {
			n.stopSeen = true
			events = append(events, canonical.Stop(anthropicStopToCanonical(ev.Delta.StopReason)))
		}
		return events, nil

	case "message_stop":
		if !n.stopSeen {
			n.stopSeen = true
			return []canonical.Event{canonical.Stop(canonical.StopComplete)}, nil
		}

	case "error":
		if ev.Error != nil {
			return []canonical.Event{canonical.StreamError(&canonical.Error{
				Kind:    anthropicErrorKind(ev.Error.Type),
				Message: ev.Error.Message,
			})}, nil
		}

	case "ping":
	}

	return nil, nil
}

func (n *anthropicNormalizer) Flush() []canonical.Event {
	var events []canonical.Event
	for index, acc := range n.tools {
		delete(n.tools, index)
		end, err := acc.Close()
		if err != nil {
			slog.Warn("dropping tool call with corrupt arguments", "error", err)
			continue
		}
		events = append(events, end)
	}
	return events
}

func anthropicErrorKind(errType string) canonical.ErrorKind {
	switch errType {
	case "authentication_error", "permission_error":
		return canonical.ErrAuth
	case "rate_limit_error", "overloaded_error":
		return canonical.ErrRateLimit
	case "invalid_request_error", "not_found_error":
		return canonical.ErrInvalidRequest
	default:
		return canonical.ErrAPI
	}
}
