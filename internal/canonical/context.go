// Package canonical defines the provider-neutral conversation model that all
// request translators and streaming normalizers read and write. Vendor wire
// shapes are decoded into these types at the boundary and never leak past it.
package canonical

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/claudeswitch/claudeswitch/internal/schema"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Usage tracks token consumption for a single assistant turn. Estimated is
// set when the numbers come from a length-based fallback rather than the
// provider, so callers can tell the two apart.
type Usage struct {
	InputTokens  int  `json:"input_tokens"`
	OutputTokens int  `json:"output_tokens"`
	Estimated    bool `json:"estimated,omitempty"`
}

func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
		Estimated:    u.Estimated || other.Estimated,
	}
}

func (u Usage) IsZero() bool {
	return u.InputTokens == 0 && u.OutputTokens == 0
}

// Attachment is a user-supplied image, either inline bytes or a URL.
type Attachment struct {
	MimeType string `json:"mime_type"`
	Data     []byte `json:"data,omitempty"`
	URL      string `json:"url,omitempty"`
}

// ToolCall is an assistant's request to invoke a tool. Arguments are the
// parsed JSON object, never a partial fragment.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResult carries the outcome of a tool call back into a later user turn,
// correlated by ToolCallID.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Message is one turn in a Context. Role selects which field groups are
// meaningful: ToolResults and Attachments belong to user turns, the rest of
// the optional fields to assistant turns.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content,omitempty"`

	ToolResults []ToolResult `json:"tool_results,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`

	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Thinking  string     `json:"thinking,omitempty"`
	// ThinkingSignature is an opaque provider-scoped token. It is carried
	// through untouched and never interpreted or validated.
	ThinkingSignature string        `json:"thinking_signature,omitempty"`
	Usage             Usage         `json:"usage,omitempty"`
	Provider          string        `json:"provider,omitempty"`
	Model             string        `json:"model,omitempty"`
	Timestamp         time.Time     `json:"timestamp,omitempty"`
	Duration          time.Duration `json:"duration,omitempty"`
}

// IsEmpty reports whether an assistant message carries no content at all.
// A completed turn must have at least one of content, tool calls, or
// thinking; an all-empty assistant message indicates a normalizer bug.
func (m *Message) IsEmpty() bool {
	return m.Content == "" && len(m.ToolCalls) == 0 && m.Thinking == ""
}

// ErrExecutionUnsupported is returned by tool definitions whose executor is
// a stub; actually running tools is the caller's concern.
var ErrExecutionUnsupported = errors.New("tool execution not supported")

// ToolExecutor runs a tool call. The core only carries the reference.
type ToolExecutor interface {
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// ToolDefinition declares a tool the assistant may call. Name is unique
// within a Context.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  *schema.Schema `json:"parameters,omitempty"`
	Executor    ToolExecutor   `json:"-"`
}

// Execute runs the tool's executor, or reports that execution is
// unsupported when none is attached.
func (t *ToolDefinition) Execute(ctx context.Context, args map[string]any) (string, error) {
	if t.Executor == nil {
		return "", ErrExecutionUnsupported
	}
	return t.Executor.Execute(ctx, args)
}

// Context is the durable conversation: an ordered, append-only message
// sequence, an optional system prompt, and the tool definitions in play.
type Context struct {
	System   string           `json:"system,omitempty"`
	Messages []Message        `json:"messages"`
	Tools    []ToolDefinition `json:"tools,omitempty"`
}

// Append adds a message to the end of the conversation. Order is append-only
// and defines causal order for turn reconstruction.
func (c *Context) Append(m Message) {
	c.Messages = append(c.Messages, m)
}

// AddTool registers a tool definition; names must be unique.
func (c *Context) AddTool(t ToolDefinition) error {
	for _, existing := range c.Tools {
		if existing.Name == t.Name {
			return fmt.Errorf("duplicate tool definition %q", t.Name)
		}
	}
	c.Tools = append(c.Tools, t)
	return nil
}

// Tool looks up a tool definition by name.
func (c *Context) Tool(name string) (*ToolDefinition, bool) {
	for i := range c.Tools {
		if c.Tools[i].Name == name {
			return &c.Tools[i], true
		}
	}
	return nil, false
}

// ToolCallName resolves the tool name for a tool call id by scanning earlier
// assistant turns. Providers that key results by name rather than id
// (Gemini) need this during request encoding.
func (c *Context) ToolCallName(toolCallID string) (string, bool) {
	for i := range c.Messages {
		if c.Messages[i].Role != RoleAssistant {
			continue
		}
		for _, tc := range c.Messages[i].ToolCalls {
			if tc.ID == toolCallID {
				return tc.Name, true
			}
		}
	}
	return "", false
}

// CheckToolResults verifies the correlation invariant: every tool result must
// reference a tool call emitted by a strictly earlier assistant message.
func (c *Context) CheckToolResults() error {
	seen := make(map[string]bool)
	for i := range c.Messages {
		msg := &c.Messages[i]
		switch msg.Role {
		case RoleUser:
			for _, tr := range msg.ToolResults {
				if !seen[tr.ToolCallID] {
					return fmt.Errorf("tool result references unknown tool call %q", tr.ToolCallID)
				}
			}
		case RoleAssistant:
			for _, tc := range msg.ToolCalls {
				seen[tc.ID] = true
			}
		}
	}
	return nil
}

// Request is a canonical chat-completion request: the conversation plus the
// per-call parameters the capability validator inspects and adjusts.
type Request struct {
	Context       *Context `json:"context"`
	Model         string   `json:"model"`
	MaxTokens     int      `json:"max_tokens,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	TopP          *float64 `json:"top_p,omitempty"`
	StopSequences []string `json:"stop_sequences,omitempty"`
	Stream        bool     `json:"stream,omitempty"`

	// ThinkingBudget is the requested extended-thinking token budget, zero
	// when thinking was not requested.
	ThinkingBudget int `json:"thinking_budget,omitempty"`

	// Set by capability adjustments before dispatch.
	ToolsDisabled bool `json:"tools_disabled,omitempty"`
	ImagesIgnored bool `json:"images_ignored,omitempty"`
}
