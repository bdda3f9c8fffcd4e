package providers

import (
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

const openaiDefaultBase = "https://api.openai.com"

// OpenAIProvider translates to and from the chat-completions wire format.
// OpenRouter reuses it with cumulativeArgs set, since OpenRouter re-sends
// the full tool-argument string on every chunk instead of a fragment.
type OpenAIProvider struct {
	name           string
	base           string
	cumulativeArgs bool
}

func NewOpenAIProvider() *OpenAIProvider {
	return &OpenAIProvider{name: "openai", base: openaiDefaultBase}
}

func (p *OpenAIProvider) Name() string {
	return p.name
}

func (p *OpenAIProvider) Endpoint(base, model string, streaming bool) string {
	if base == "" {
		base = p.base
	}
	return strings.TrimSuffix(base, "/") + "/v1/chat/completions"
}

func (p *OpenAIProvider) ApplyAuth(header http.Header, apiKey string) {
	header.Set("Authorization", "Bearer "+apiKey)
}

type openaiRequest struct {
	Model               string               `json:"model"`
	Messages            []openaiMessage      `json:"messages"`
	MaxTokens           int                  `json:"max_tokens,omitempty"`
	MaxCompletionTokens int                  `json:"max_completion_tokens,omitempty"`
	Temperature         *float64             `json:"temperature,omitempty"`
	TopP                *float64             `json:"top_p,omitempty"`
	Stop                []string             `json:"stop,omitempty"`
	Stream              bool                 `json:"stream,omitempty"`
	StreamOptions       *openaiStreamOptions `json:"stream_options,omitempty"`
	Tools               []openaiTool         `json:"tools,omitempty"`
}

type openaiStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    json.RawMessage  `json:"content,omitempty"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openaiContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openaiImageURL `json:"image_url,omitempty"`
}

type openaiImageURL struct {
	URL string `json:"url"`
}

type openaiToolCall struct {
	Index    *int               `json:"index,omitempty"`
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function openaiFunctionCall `json:"function"`
}

type openaiFunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type openaiTool struct {
	Type     string         `json:"type"`
	Function openaiFunction `json:"function"`
}

type openaiFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Tool call ids cross the boundary in both directions; each side keeps its
// native prefix.

func openaiToolID(id string) string {
	if rest, ok := strings.CutPrefix(id, "toolu_"); ok {
		return "call_" + rest
	}
	return id
}

func canonicalToolID(id string) string {
	if id == "" {
		return "toolu_" + uuid.NewString()
	}
	if rest, ok := strings.CutPrefix(id, "call_"); ok {
		return "toolu_" + rest
	}
	return id
}

func (p *OpenAIProvider) CanonicalToRequest(req *canonical.Request) ([]byte, error) {
	wire := openaiRequest{
		Model:               req.Model,
		MaxCompletionTokens: req.MaxTokens,
		Temperature:         req.Temperature,
		TopP:                req.TopP,
		Stop:                req.StopSequences,
		Stream:              req.Stream,
	}
	if req.Stream {
		wire.StreamOptions = &openaiStreamOptions{IncludeUsage: true}
	}

	cctx := req.Context
	if cctx.System != "" {
		content, err := json.Marshal(cctx.System)
		if err != nil {
			return nil, err
		}
		wire.Messages = append(wire.Messages, openaiMessage{Role: "system", Content: content})
	}

	if !req.ToolsDisabled {
		for _, t := range cctx.Tools {
			wire.Tools = append(wire.Tools, openaiTool{
				Type: "function",
				Function: openaiFunction{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  schema.MarshalJSONSchema(t.Parameters),
				},
			})
		}
	}

	for i := range cctx.Messages {
		msgs, err := encodeOpenAIMessage(&cctx.Messages[i], req.ImagesIgnored)
		if err != nil {
			return nil, err
		}
		wire.Messages = append(wire.Messages, msgs...)
	}

	return json.Marshal(wire)
}

// encodeOpenAIMessage fans one canonical turn out to its wire messages. A
// user turn with tool results becomes one role:"tool" message per result,
// followed by the user message proper when there is text or an image.
func encodeOpenAIMessage(msg *canonical.Message, imagesIgnored bool) ([]openaiMessage, error) {
	var out []openaiMessage

	switch msg.Role {
	case canonical.RoleUser:
		for _, tr := range msg.ToolResults {
			content, err := json.Marshal(tr.Content)
			if err != nil {
				return nil, err
			}
			out = append(out, openaiMessage{
				Role:       "tool",
				ToolCallID: openaiToolID(tr.ToolCallID),
				Content:    content,
			})
		}

		attachments := msg.Attachments
		if imagesIgnored {
			attachments = nil
		}
		if msg.Content == "" && len(attachments) == 0 {
			break
		}

		if len(attachments) == 0 {
			content, err := json.Marshal(msg.Content)
			if err != nil {
				return nil, err
			}
			out = append(out, openaiMessage{Role: "user", Content: content})
			break
		}

		var parts []openaiContentPart
		if msg.Content != "" {
			parts = append(parts, openaiContentPart{Type: "text", Text: msg.Content})
		}
		for _, att := range attachments {
			if err := validateAttachment(att); err != nil {
				return nil, err
			}
			url := att.URL
			if len(att.Data) > 0 {
				url = buildDataURL(att.MimeType, att.Data)
			}
			parts = append(parts, openaiContentPart{
				Type:     "image_url",
				ImageURL: &openaiImageURL{URL: url},
			})
		}
		content, err := json.Marshal(parts)
		if err != nil {
			return nil, err
		}
		out = append(out, openaiMessage{Role: "user", Content: content})

	case canonical.RoleAssistant:
		wm := openaiMessage{Role: "assistant"}
		if msg.Content != "" {
			content, err := json.Marshal(msg.Content)
			if err != nil {
				return nil, err
			}
			wm.Content = content
		}
		for _, tc := range msg.ToolCalls {
			args, err := json.Marshal(tc.Arguments)
			if err != nil {
				return nil, err
			}
			wm.ToolCalls = append(wm.ToolCalls, openaiToolCall{
				ID:   openaiToolID(tc.ID),
				Type: "function",
				Function: openaiFunctionCall{
					Name:      tc.Name,
					Arguments: string(args),
				},
			})
		}
		out = append(out, wm)
	}

	return out, nil
}

func (p *OpenAIProvider) RequestToCanonical(raw []byte) (*canonical.Request, []string, error) {
	var wire openaiRequest
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, nil, fmt.Errorf("decode openai request: %w", err)
	}

	var warnings []string
	cctx := &canonical.Context{}

	for _, t := range wire.Tools {
		if t.Type != "function" {
			warnings = append(warnings, fmt.Sprintf("skipping tool of type %q", t.Type))
			continue
		}
		def := canonical.ToolDefinition{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  schema.FromJSON(t.Function.Parameters),
		}
		if err := cctx.AddTool(def); err != nil {
			return nil, nil, err
		}
	}

	var systemParts []string
	for i, wm := range wire.Messages {
		switch wm.Role {
		case "system", "developer":
			text, err := decodeOpenAIText(wm.Content)
			if err != nil {
				return nil, nil, fmt.Errorf("decode message %d: %w", i, err)
			}
			systemParts = append(systemParts, text)

		case "user":
			msg, err := decodeOpenAIUserMessage(wm.Content)
			if err != nil {
				return nil, nil, fmt.Errorf("decode message %d: %w", i, err)
			}
			cctx.Append(msg)

		case "assistant":
			msg, err := decodeOpenAIAssistantMessage(wm)
			if err != nil {
				return nil, nil, fmt.Errorf("decode message %d: %w", i, err)
			}
			cctx.Append(msg)

		case "tool":
			text, err := decodeOpenAIText(wm.Content)
			if err != nil {
				return nil, nil, fmt.Errorf("decode message %d: %w", i, err)
			}
			result := canonical.ToolResult{
				ToolCallID: canonicalToolID(wm.ToolCallID),
				Content:    text,
			}
			// Consecutive tool messages fold into one user turn.
			if n := len(cctx.Messages); n > 0 {
				last := &cctx.Messages[n-1]
				if last.Role == canonical.RoleUser && last.Content == "" && len(last.ToolResults) > 0 {
					last.ToolResults = append(last.ToolResults, result)
					continue
				}
			}
			cctx.Append(canonical.Message{
				Role:        canonical.RoleUser,
				ToolResults: []canonical.ToolResult{result},
			})

		default:
			warnings = append(warnings, fmt.Sprintf("dropping message with unrecognized role %q", wm.Role))
		}
	}
	cctx.System = strings.Join(systemParts, "\n")

	if err := cctx.CheckToolResults(); err != nil {
		return nil, nil, err
	}

	maxTokens := wire.MaxCompletionTokens
	if maxTokens == 0 {
		maxTokens = wire.MaxTokens
	}

	req := &canonical.Request{
		Context:       cctx,
		Model:         wire.Model,
		MaxTokens:     maxTokens,
		Temperature:   wire.Temperature,
		TopP:          wire.TopP,
		StopSequences: wire.Stop,
		Stream:        wire.Stream,
	}
	return req, warnings, nil
}

func decodeOpenAIText(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}

	var parts []openaiContentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", fmt.Errorf("content is neither string nor part list")
	}
	var texts []string
	for _, part := range parts {
		if part.Type == "text" {
			texts = append(texts, part.Text)
		}
	}
	return strings.Join(texts, "\n"), nil
}

func decodeOpenAIUserMessage(raw json.RawMessage) (canonical.Message, error) {
	msg := canonical.Message{Role: canonical.RoleUser}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		msg.Content = s
		return msg, nil
	}

	var parts []openaiContentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return msg, fmt.Errorf("content is neither string nor part list")
	}

	var texts []string
	for _, part := range parts {
		switch part.Type {
		case "text":
			texts = append(texts, part.Text)
		case "image_url":
			if part.ImageURL == nil {
				continue
			}
			url := part.ImageURL.URL
			if strings.HasPrefix(url, "data:") {
				mime, data, err := parseDataURL(url)
				if err != nil {
					return msg, err
				}
				msg.Attachments = append(msg.Attachments, canonical.Attachment{
					MimeType: mime,
					Data:     data,
				})
			} else {
				msg.Attachments = append(msg.Attachments, canonical.Attachment{
					MimeType: inferMimeType(url),
					URL:      url,
				})
			}
		}
	}
	msg.Content = strings.Join(texts, "\n")
	return msg, nil
}

func decodeOpenAIAssistantMessage(wm openaiMessage) (canonical.Message, error) {
	text, err := decodeOpenAIText(wm.Content)
	if err != nil {
		return canonical.Message{}, err
	}
	msg := canonical.Message{Role: canonical.RoleAssistant, Content: text}

	for _, tc := range wm.ToolCalls {
		args, err := parseToolArguments(tc.Function.Arguments)
		if err != nil {
			return msg, err
		}
		msg.ToolCalls = append(msg.ToolCalls, canonical.ToolCall{
			ID:        canonicalToolID(tc.ID),
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return msg, nil
}

func parseToolArguments(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("tool arguments are not a JSON object: %w", err)
	}
	return args, nil
}

type openaiResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content          string           `json:"content"`
			ReasoningContent string           `json:"reasoning_content"`
			ToolCalls        []openaiToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *openaiUsage `json:"usage"`
}

func (p *OpenAIProvider) ResponseToCanonical(raw []byte) (*canonical.Message, canonical.StopReason, error) {
	var wire openaiResponse
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, canonical.StopUndefined, fmt.Errorf("decode openai response: %w", err)
	}
	if len(wire.Choices) == 0 {
		return nil, canonical.StopUndefined, fmt.Errorf("openai response has no choices")
	}

	choice := wire.Choices[0]
	msg := &canonical.Message{
		Role:     canonical.RoleAssistant,
		Provider: p.name,
		Model:    wire.Model,
		Content:  choice.Message.Content,
		Thinking: choice.Message.ReasoningContent,
	}
	if wire.Usage != nil {
		msg.Usage = canonical.Usage{
			InputTokens:  wire.Usage.PromptTokens,
			OutputTokens: wire.Usage.CompletionTokens,
		}
	}

	for _, tc := range choice.Message.ToolCalls {
		args, err := parseToolArguments(tc.Function.Arguments)
		if err != nil {
			slog.Warn("dropping tool call with corrupt arguments",
				"tool", tc.Function.Name, "error", err)
			continue
		}
		msg.ToolCalls = append(msg.ToolCalls, canonical.ToolCall{
			ID:        canonicalToolID(tc.ID),
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	return msg, openaiStopToCanonical(choice.FinishReason), nil
}

func openaiStopToCanonical(reason string) canonical.StopReason {
	switch reason {
	case "stop":
		return canonical.StopComplete
	case "length":
		return canonical.StopMaxTokens
	case "content_filter":
		return canonical.StopSequence
	case "tool_calls", "function_call":
		return canonical.StopToolCall
	default:
		return canonical.StopUndefined
	}
}

// Streaming normalizer. Tool calls arrive keyed by a per-choice index; the
// id and name come once with the first chunk, argument fragments trail in.
// The stop reason is held back until the trailing usage chunk (or end of
// stream) so the final usage lands before the turn closes.

type openaiStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content          string           `json:"content"`
			ReasoningContent string           `json:"reasoning_content"`
			ToolCalls        []openaiToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *openaiUsage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error"`
}

type openaiNormalizer struct {
	providerName   string
	cumulativeArgs bool

	tools     map[int]*stream.ToolCallAccumulator
	toolOrder []int
	seenArgs  map[int]string
	pending   canonical.StopReason
	hasStop   bool
}

func (p *OpenAIProvider) NewNormalizer() stream.Normalizer {
	return &openaiNormalizer{
		providerName:   p.name,
		cumulativeArgs: p.cumulativeArgs,
		tools:          make(map[int]*stream.ToolCallAccumulator),
		seenArgs:       make(map[int]string),
	}
}

func (n *openaiNormalizer) Feed(payload []byte) ([]canonical.Event, error) {
	var chunk openaiStreamChunk
	if err := json.Unmarshal(payload, &chunk); err != nil {
		return nil, &canonical.ConversionError{Provider: n.providerName, Stage: "stream", Err: err}
	}

	if chunk.Error != nil {
		return []canonical.Event{canonical.StreamError(&canonical.Error{
			Kind:    canonical.ErrAPI,
			Message: chunk.Error.Message,
		})}, nil
	}

	var events []canonical.Event

	for _, choice := range chunk.Choices {
		if choice.Delta.ReasoningContent != "" {
			events = append(events, canonical.ThinkingDelta(choice.Delta.ReasoningContent))
		}
		if choice.Delta.Content != "" {
			events = append(events, canonical.TextDelta(choice.Delta.Content))
		}

		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}

			acc, ok := n.tools[index]
			if !ok {
				acc = &stream.ToolCallAccumulator{
					ID:   canonicalToolID(tc.ID),
					Name: tc.Function.Name,
				}
				n.tools[index] = acc
				n.toolOrder = append(n.toolOrder, index)
				events = append(events, canonical.ToolCallStart(acc.ID, acc.Name))
			}

			fragment := tc.Function.Arguments
			if n.cumulativeArgs {
				fragment = argumentsSuffix(n.seenArgs[index], fragment)
				n.seenArgs[index] += fragment
			}
			if fragment != "" {
				acc.Append(fragment)
				events = append(events, canonical.ToolCallArgsDelta(acc.ID, fragment))
			}
		}

		if choice.FinishReason != "" {
			events = append(events, n.closeTools()...)
			n.pending = openaiStopToCanonical(choice.FinishReason)
			n.hasStop = true
		}
	}

	if chunk.Usage != nil {
		events = append(events, canonical.UsageUpdate(canonical.Usage{
			InputTokens:  chunk.Usage.PromptTokens,
			OutputTokens: chunk.Usage.CompletionTokens,
		}))
		if n.hasStop {
			events = append(events, canonical.Stop(n.pending))
			n.hasStop = false
		}
	}

	return events, nil
}

func (n *openaiNormalizer) Flush() []canonical.Event {
	events := n.closeTools()
	if n.hasStop {
		events = append(events, canonical.Stop(n.pending))
		n.hasStop = false
	}
	return events
}

func (n *openaiNormalizer) closeTools() []canonical.Event {
	var events []canonical.Event
	for _, index := range n.toolOrder {
		acc, ok := n.tools[index]
		if !ok {
			continue
		}
		delete(n.tools, index)
		end, err := acc.Close()
		if err != nil {
			slog.Warn("dropping tool call with corrupt arguments", "error", err)
			continue
		}
		events = append(events, end)
	}
	n.toolOrder = n.toolOrder[:0]
	return events
}

// argumentsSuffix returns the part of full not yet seen. Providers that
// re-send the whole argument string each chunk reduce to ordinary fragments
// this way; anything that is not an extension of the seen prefix is treated
// as a fresh fragment.
func argumentsSuffix(seen, full string) string {
	if seen == "" {
		return full
	}
	if strings.HasPrefix(full, seen) {
		return full[len(seen):]
	}
	return full
}
