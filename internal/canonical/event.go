package canonical

// EventKind discriminates the streaming event union.
type EventKind int

const (
	EventTextDelta EventKind = iota
	EventThinkingDelta
	EventToolCallStart
	EventToolCallArgsDelta
	EventToolCallEnd
	EventUsageUpdate
	EventStopReason
	EventStreamError
)

func (k EventKind) String() string {
	switch k {
	case EventTextDelta:
		return "text_delta"
	case EventThinkingDelta:
		return "thinking_delta"
	case EventToolCallStart:
		return "tool_call_start"
	case EventToolCallArgsDelta:
		return "tool_call_args_delta"
	case EventToolCallEnd:
		return "tool_call_end"
	case EventUsageUpdate:
		return "usage_update"
	case EventStopReason:
		return "stop_reason"
	case EventStreamError:
		return "stream_error"
	default:
		return "unknown"
	}
}

// StopReason is the canonical terminal state of a turn. An unrecognized
// vendor reason maps to StopUndefined, which downstream consumers must treat
// as complete, never as an error.
type StopReason string

const (
	StopComplete  StopReason = "complete"
	StopMaxTokens StopReason = "max_tokens"
	StopSequence  StopReason = "stop_sequence"
	StopToolCall  StopReason = "tool_call"
	StopUndefined StopReason = ""
)

// Event is the streaming unit a normalizer produces and the re-encoder
// consumes. One Event is created per network chunk observation, consumed
// exactly once, and never persisted.
type Event struct {
	Kind EventKind

	// EventTextDelta / EventThinkingDelta
	Text string

	// EventToolCall*
	ToolCallID   string
	ToolName     string
	ArgsFragment string
	Args         map[string]any

	// EventUsageUpdate
	Usage Usage

	// EventStopReason
	Stop StopReason

	// EventStreamError
	Err *Error
}

func TextDelta(text string) Event {
	return Event{Kind: EventTextDelta, Text: text}
}

func ThinkingDelta(text string) Event {
	return Event{Kind: EventThinkingDelta, Text: text}
}

func ToolCallStart(id, name string) Event {
	return Event{Kind: EventToolCallStart, ToolCallID: id, ToolName: name}
}

func ToolCallArgsDelta(id, fragment string) Event {
	return Event{Kind: EventToolCallArgsDelta, ToolCallID: id, ArgsFragment: fragment}
}

func ToolCallEnd(id string, args map[string]any) Event {
	return Event{Kind: EventToolCallEnd, ToolCallID: id, Args: args}
}

func UsageUpdate(u Usage) Event {
	return Event{Kind: EventUsageUpdate, Usage: u}
}

func Stop(reason StopReason) Event {
	return Event{Kind: EventStopReason, Stop: reason}
}

func StreamError(err *Error) Event {
	return Event{Kind: EventStreamError, Err: err}
}
