// Package stream carries provider streams through the canonical event model:
// a per-provider Normalizer turns decoded chunks into canonical events, and
// the Encoder re-emits those events in the home protocol's SSE grammar.
package stream

import (
	"encoding/json"
	"fmt"

	"github.com/claudeswitch/claudeswitch/internal/canonical"
)

// Normalizer converts one provider's stream payloads into canonical events.
// A Normalizer is owned by a single in-flight request and holds all
// per-stream state; it is never shared and never persisted past the stream.
type Normalizer interface {
	// Feed consumes one decoded stream payload (the JSON after "data:")
	// and returns the canonical events it implies, in order.
	Feed(payload []byte) ([]canonical.Event, error)

	// Flush reports the events implied by end of stream, closing any state
	// the provider left dangling. It is not called for cancelled streams:
	// open accumulators are discarded, not flushed.
	Flush() []canonical.Event
}

// ToolCallAccumulator reassembles a tool call whose arguments arrive as JSON
// string fragments. Fragments are concatenated, not JSON-merged, since no
// prefix of the argument document is valid JSON on its own.
type ToolCallAccumulator struct {
	ID   string
	Name string
	args []byte
}

func (a *ToolCallAccumulator) Append(fragment string) {
	a.args = append(a.args, fragment...)
}

// Fragments reports whether any argument bytes have arrived.
func (a *ToolCallAccumulator) Fragments() string {
	return string(a.args)
}

// Parse decodes the accumulated fragments. An empty accumulation counts as
// an argument-less call ({}); anything else must be a complete JSON object.
func (a *ToolCallAccumulator) Parse() (map[string]any, error) {
	if len(a.args) == 0 {
		return map[string]any{}, nil
	}

	var parsed map[string]any
	if err := json.Unmarshal(a.args, &parsed); err != nil {
		return nil, &canonical.ToolArgumentParseError{
			ToolCallID: a.ID,
			ToolName:   a.Name,
			Err:        err,
		}
	}
	return parsed, nil
}

// Close parses the accumulator and produces the terminal ToolCallEnd event,
// or an error when the arguments are corrupt and the call must be dropped.
func (a *ToolCallAccumulator) Close() (canonical.Event, error) {
	args, err := a.Parse()
	if err != nil {
		return canonical.Event{}, err
	}
	return canonical.ToolCallEnd(a.ID, args), nil
}

func (a *ToolCallAccumulator) String() string {
	return fmt.Sprintf("tool_call(%s %s, %d bytes)", a.ID, a.Name, len(a.args))
}
