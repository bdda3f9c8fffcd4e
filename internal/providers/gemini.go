package providers

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/claudeswitch/claudeswitch/internal/canonical"
	"github.com/claudeswitch/claudeswitch/internal/schema"
	"github.com/claudeswitch/claudeswitch/internal/stream"
)

const geminiDefaultBase = "https://generativelanguage.googleapis.com"

// GeminiProvider translates to and from the generateContent wire format.
// Gemini has no tool call ids, so canonical ids are minted on the way in and
// results are keyed back by function name on the way out.
type GeminiProvider struct {
	name string
}

func NewGeminiProvider() *GeminiProvider {
	return &GeminiProvider{name: "gemini"}
}

func (p *GeminiProvider) Name() string {
	return p.name
}

func (p *GeminiProvider) Endpoint(base, model string, streaming bool) string {
	if base == "" {
		base = geminiDefaultBase
	}
	base = strings.TrimSuffix(base, "/")
	if streaming {
		return fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse", base, model)
	}
	return fmt.Sprintf("%s/v1beta/models/%s:generateContent", base, model)
}

func (p *GeminiProvider) ApplyAuth(header http.Header, apiKey string) {
	header.Set("x-goog-api-key", apiKey)
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
	Tools             []geminiToolDecl        `json:"tools,omitempty"`
	SafetySettings    []geminiSafetySetting   `json:"safetySettings,omitempty"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type geminiToolDecl struct {
	FunctionDeclarations []geminiFunctionDecl `json:"functionDeclarations"`
}

type geminiFunctionDecl struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type geminiSafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts,omitempty"`
}

type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	Thought          bool                    `json:"thought,omitempty"`
	InlineData       *geminiInlineData       `json:"inlineData,omitempty"`
	FileData         *geminiFileData         `json:"fileData,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiFileData struct {
	MimeType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri"`
}

type geminiFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type geminiFunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount,omitempty"`
	CandidatesTokenCount int `json:"candidatesTokenCount,omitempty"`
	TotalTokenCount      int `json:"totalTokenCount,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

type geminiCandidate struct {
	Content      *geminiContent `json:"content,omitempty"`
	FinishReason string         `json:"finishReason,omitempty"`
	Index        int            `json:"index,omitempty"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate    `json:"candidates,omitempty"`
	UsageMetadata *geminiUsageMetadata `json:"usageMetadata,omitempty"`
	ModelVersion  string               `json:"modelVersion,omitempty"`
	Error         *geminiError         `json:"error,omitempty"`
}

var geminiSafetyOff = []geminiSafetySetting{
	{Category: "HARM_CATEGORY_HARASSMENT", Threshold: "BLOCK_NONE"},
	{Category: "HARM_CATEGORY_HATE_SPEECH", Threshold: "BLOCK_NONE"},
	{Category: "HARM_CATEGORY_SEXUALLY_EXPLICIT", Threshold: "BLOCK_NONE"},
	{Category: "HARM_CATEGORY_DANGEROUS_CONTENT", Threshold: "BLOCK_NONE"},
}

func (p *GeminiProvider) CanonicalToRequest(req *canonical.Request) ([]byte, error) {
	wire := geminiRequest{
		SafetySettings: geminiSafetyOff,
		GenerationConfig: &geminiGenerationConfig{
			MaxOutputTokens: req.MaxTokens,
			Temperature:     req.Temperature,
			TopP:            req.TopP,
			StopSequences:   req.StopSequences,
		},
	}

	cctx := req.Context
	if cctx.System != "" {
		wire.SystemInstruction = &geminiContent{
			Parts: []geminiPart{{Text: cctx.System}},
		}
	}

	if !req.ToolsDisabled && len(cctx.Tools) > 0 {
		decl := geminiToolDecl{}
		for _, t := range cctx.Tools {
			decl.FunctionDeclarations = append(decl.FunctionDeclarations, geminiFunctionDecl{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema.MarshalJSONSchema(t.Parameters),
			})
		}
		wire.Tools = []geminiToolDecl{decl}
	}

	for i := range cctx.Messages {
		content, err := encodeGeminiContent(cctx, &cctx.Messages[i], req.ImagesIgnored)
		if err != nil {
			return nil, err
		}
		if len(content.Parts) > 0 {
			wire.Contents = append(wire.Contents, content)
		}
	}

	return json.Marshal(wire)
}

func encodeGeminiContent(cctx *canonical.Context, msg *canonical.Message, imagesIgnored bool) (geminiContent, error) {
	switch msg.Role {
	case canonical.RoleUser:
		content := geminiContent{Role: "user"}
		for _, tr := range msg.ToolResults {
			// Results correlate by function name on this wire; the name
			// comes from the assistant turn that issued the call.
			name, ok := cctx.ToolCallName(tr.ToolCallID)
			if !ok {
				return content, fmt.Errorf("tool result references unknown tool call %q", tr.ToolCallID)
			}
			response := map[string]any{"output": tr.Content}
			if tr.IsError {
				response = map[string]any{"error": tr.Content}
			}
			content.Parts = append(content.Parts, geminiPart{
				FunctionResponse: &geminiFunctionResponse{Name: name, Response: response},
			})
		}
		if msg.Content != "" {
			content.Parts = append(content.Parts, geminiPart{Text: msg.Content})
		}
		if !imagesIgnored {
			for _, att := range msg.Attachments {
				if err := validateAttachment(att); err != nil {
					return content, err
				}
				if len(att.Data) > 0 {
					content.Parts = append(content.Parts, geminiPart{
						InlineData: &geminiInlineData{
							MimeType: att.MimeType,
							Data:     base64.StdEncoding.EncodeToString(att.Data),
						},
					})
				} else {
					content.Parts = append(content.Parts, geminiPart{
						FileData: &geminiFileData{MimeType: att.MimeType, FileURI: att.URL},
					})
				}
			}
		}
		return content, nil

	case canonical.RoleAssistant:
		content := geminiContent{Role: "model"}
		if msg.Thinking != "" {
			content.Parts = append(content.Parts, geminiPart{Text: msg.Thinking, Thought: true})
		}
		if msg.Content != "" {
			content.Parts = append(content.Parts, geminiPart{Text: msg.Content})
		}
		for _, tc := range msg.ToolCalls {
			content.Parts = append(content.Parts, geminiPart{
				FunctionCall: &geminiFunctionCall{Name: tc.Name, Args: tc.Arguments},
			})
		}
		return content, nil
	}

	return geminiContent{}, fmt.Errorf("unrecognized role %q", msg.Role)
}

func (p *GeminiProvider) RequestToCanonical(raw []byte) (*canonical.Request, []string, error) {
	var wire geminiRequest
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, nil, fmt.Errorf("decode gemini request: %w", err)
	}

	var warnings []string
	cctx := &canonical.Context{}

	if wire.SystemInstruction != nil {
		var parts []string
		for _, part := range wire.SystemInstruction.Parts {
			if part.Text != "" {
				parts = append(parts, part.Text)
			}
		}
		cctx.System = strings.Join(parts, "\n")
	}

	for _, decl := range wire.Tools {
		for _, fn := range decl.FunctionDeclarations {
			def := canonical.ToolDefinition{
				Name:        fn.Name,
				Description: fn.Description,
				Parameters:  schema.FromJSON(fn.Parameters),
			}
			if err := cctx.AddTool(def); err != nil {
				return nil, nil, err
			}
		}
	}

	// Calls carry no ids on this wire; mint one per call and pay it back to
	// the next result with the same function name.
	pendingCalls := make(map[string][]string)

	for _, content := range wire.Contents {
		role := canonical.RoleUser
		if content.Role == "model" {
			role = canonical.RoleAssistant
		}
		msg := canonical.Message{Role: role}

		var texts []string
		for _, part := range content.Parts {
			switch {
			case part.FunctionCall != nil:
				id := "toolu_" + uuid.NewString()
				pendingCalls[part.FunctionCall.Name] = append(pendingCalls[part.FunctionCall.Name], id)
				args := part.FunctionCall.Args
				if args == nil {
					args = map[string]any{}
				}
				msg.ToolCalls = append(msg.ToolCalls, canonical.ToolCall{
					ID:        id,
					Name:      part.FunctionCall.Name,
					Arguments: args,
				})
			case part.FunctionResponse != nil:
				name := part.FunctionResponse.Name
				ids := pendingCalls[name]
				if len(ids) == 0 {
					warnings = append(warnings, fmt.Sprintf("dropping response for function %q with no pending call", name))
					continue
				}
				pendingCalls[name] = ids[1:]
				msg.ToolResults = append(msg.ToolResults, canonical.ToolResult{
					ToolCallID: ids[0],
					Content:    flattenFunctionResponse(part.FunctionResponse.Response),
				})
			case part.InlineData != nil:
				data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
				if err != nil {
					return nil, nil, fmt.Errorf("decode inline data: %w", err)
				}
				msg.Attachments = append(msg.Attachments, canonical.Attachment{
					MimeType: part.InlineData.MimeType,
					Data:     data,
				})
			case part.FileData != nil:
				mime := part.FileData.MimeType
				if mime == "" {
					mime = inferMimeType(part.FileData.FileURI)
				}
				msg.Attachments = append(msg.Attachments, canonical.Attachment{
					MimeType: mime,
					URL:      part.FileData.FileURI,
				})
			case part.Thought:
				msg.Thinking += part.Text
			case part.Text != "":
				texts = append(texts, part.Text)
			}
		}
		msg.Content = strings.Join(texts, "\n")
		cctx.Append(msg)
	}

	if err := cctx.CheckToolResults(); err != nil {
		return nil, nil, err
	}

	req := &canonical.Request{Context: cctx}
	if gc := wire.GenerationConfig; gc != nil {
		req.MaxTokens = gc.MaxOutputTokens
		req.Temperature = gc.Temperature
		req.TopP = gc.TopP
		req.StopSequences = gc.StopSequences
	}
	return req, warnings, nil
}

func flattenFunctionResponse(response map[string]any) string {
	if s, ok := response["output"].(string); ok {
		return s
	}
	if s, ok := response["error"].(string); ok {
		return s
	}
	data, err := json.Marshal(response)
	if err != nil {
		return ""
	}
	return string(data)
}

func (p *GeminiProvider) ResponseToCanonical(raw []byte) (*canonical.Message, canonical.StopReason, error) {
	var wire geminiResponse
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, canonical.StopUndefined, fmt.Errorf("decode gemini response: %w", err)
	}
	if wire.Error != nil {
		return nil, canonical.StopUndefined, geminiErrorToCanonical(wire.Error)
	}
	if len(wire.Candidates) == 0 {
		return nil, canonical.StopUndefined, fmt.Errorf("gemini response has no candidates")
	}

	candidate := wire.Candidates[0]
	msg := &canonical.Message{
		Role:     canonical.RoleAssistant,
		Provider: p.name,
		Model:    wire.ModelVersion,
	}
	if wire.UsageMetadata != nil {
		msg.Usage = canonical.Usage{
			InputTokens:  wire.UsageMetadata.PromptTokenCount,
			OutputTokens: wire.UsageMetadata.CandidatesTokenCount,
		}
	}

	var texts []string
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			switch {
			case part.FunctionCall != nil:
				args := part.FunctionCall.Args
				if args == nil {
					args = map[string]any{}
				}
				msg.ToolCalls = append(msg.ToolCalls, canonical.ToolCall{
					ID:        "toolu_" + uuid.NewString(),
					Name:      part.FunctionCall.Name,
					Arguments: args,
				})
			case part.Thought:
				msg.Thinking += part.Text
			case part.Text != "":
				texts = append(texts, part.Text)
			}
		}
	}
	msg.Content = strings.Join(texts, "\n")

	return msg, geminiStopToCanonical(candidate.FinishReason, len(msg.ToolCalls) > 0), nil
}

// geminiStopToCanonical maps a finish reason. Gemini reports STOP for turns
// that end in a function call, so the presence of calls wins over the
// literal reason.
func geminiStopToCanonical(reason string, sawToolCall bool) canonical.StopReason {
	switch reason {
	case "STOP":
		if sawToolCall {
			return canonical.StopToolCall
		}
		return canonical.StopComplete
	case "MAX_TOKENS":
		return canonical.StopMaxTokens
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT":
		return canonical.StopSequence
	default:
		return canonical.StopUndefined
	}
}

func geminiErrorToCanonical(gerr *geminiError) *canonical.Error {
	switch gerr.Code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &canonical.Error{Kind: canonical.ErrAuth, Message: gerr.Message}
	case http.StatusTooManyRequests:
		return &canonical.Error{Kind: canonical.ErrRateLimit, Message: gerr.Message, Retryable: true}
	case http.StatusBadRequest, http.StatusNotFound:
		return &canonical.Error{Kind: canonical.ErrInvalidRequest, Message: gerr.Message}
	default:
		return &canonical.Error{Kind: canonical.ErrAPI, Message: gerr.Message, Retryable: gerr.Code >= 500}
	}
}

// Streaming normalizer. Gemini delivers each function call whole in a
// single part, so every call expands to its full start/args/end sequence at
// once. Text streams as ordinary deltas.

type geminiNormalizer struct {
	sawToolCall bool
}

func (p *GeminiProvider) NewNormalizer() stream.Normalizer {
	return &geminiNormalizer{}
}

func (n *geminiNormalizer) Feed(payload []byte) ([]canonical.Event, error) {
	var chunk geminiResponse
	if err := json.Unmarshal(payload, &chunk); err != nil {
		return nil, &canonical.ConversionError{Provider: "gemini", Stage: "stream", Err: err}
	}

	if chunk.Error != nil {
		return []canonical.Event{canonical.StreamError(geminiErrorToCanonical(chunk.Error))}, nil
	}

	var events []canonical.Event

	for _, candidate := range chunk.Candidates {
		if candidate.Content != nil {
			for _, part := range candidate.Content.Parts {
				switch {
				case part.FunctionCall != nil:
					n.sawToolCall = true
					id := "toolu_" + uuid.NewString()
					args := part.FunctionCall.Args
					if args == nil {
						args = map[string]any{}
					}
					fragment, err := json.Marshal(args)
					if err != nil {
						return nil, &canonical.ConversionError{Provider: "gemini", Stage: "stream", Err: err}
					}
					events = append(events,
						canonical.ToolCallStart(id, part.FunctionCall.Name),
						canonical.ToolCallArgsDelta(id, string(fragment)),
						canonical.ToolCallEnd(id, args),
					)
				case part.Thought:
					if part.Text != "" {
						events = append(events, canonical.ThinkingDelta(part.Text))
					}
				case part.Text != "":
					events = append(events, canonical.TextDelta(part.Text))
				}
			}
		}

		if candidate.FinishReason != "" {
			if chunk.UsageMetadata != nil {
				events = append(events, canonical.UsageUpdate(canonical.Usage{
					InputTokens:  chunk.UsageMetadata.PromptTokenCount,
					OutputTokens: chunk.UsageMetadata.CandidatesTokenCount,
				}))
			}
			events = append(events, canonical.Stop(geminiStopToCanonical(candidate.FinishReason, n.sawToolCall)))
		}
	}

	return events, nil
}

func (n *geminiNormalizer) Flush() []canonical.Event {
	return nil
}
