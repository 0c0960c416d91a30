// Package runtime defines the boundary between model runtimes and the relay:
// a flat event union that every runtime emits and the interfaces the relay
// drives them through. Raw provider payloads are decoded into Event exactly
// once, at this boundary.
package runtime

import "encoding/json"

// EventKind discriminates the runtime event union.
type EventKind int

const (
	KindUnknown EventKind = iota
	KindTextDelta
	KindTranscriptionDelta
	KindToolCallAnnounced
	KindToolCallReady
	KindToolResult
	KindTurnComplete
	KindUsage
	KindError
)

func (k EventKind) String() string {
	switch k {
	case KindTextDelta:
		return "text_delta"
	case KindTranscriptionDelta:
		return "transcription_delta"
	case KindToolCallAnnounced:
		return "tool_call_announced"
	case KindToolCallReady:
		return "tool_call_ready"
	case KindToolResult:
		return "tool_result"
	case KindTurnComplete:
		return "turn_complete"
	case KindUsage:
		return "usage"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// TranscriptionSource says whose audio a transcription delta belongs to.
type TranscriptionSource string

const (
	SourceInput  TranscriptionSource = "input"
	SourceOutput TranscriptionSource = "output"
)

// Event is one occurrence in a runtime stream. Only the fields relevant to
// Kind are set.
type Event struct {
	Kind EventKind

	// Text and transcription deltas.
	Delta  string
	Done   bool
	Source TranscriptionSource

	// Tool calls and their results.
	ToolCallID string
	ToolName   string
	Arguments  json.RawMessage
	Result     json.RawMessage
	IsError    bool
	ErrorText  string

	// Turn completion.
	FinishReason string

	// Usage accounting.
	InputTokens  int64
	OutputTokens int64

	// Fatal stream failure.
	Err error
}

// NewTextDelta returns a text delta event. Done marks the end of the block.
func NewTextDelta(delta string, done bool) Event {
	return Event{Kind: KindTextDelta, Delta: delta, Done: done}
}

// NewTranscriptionDelta returns a transcription delta for the given source.
func NewTranscriptionDelta(source TranscriptionSource, delta string, done bool) Event {
	return Event{Kind: KindTranscriptionDelta, Source: source, Delta: delta, Done: done}
}

// NewToolCallAnnounced returns the first sighting of a tool call, before its
// arguments are complete.
func NewToolCallAnnounced(toolCallID, toolName string) Event {
	return Event{Kind: KindToolCallAnnounced, ToolCallID: toolCallID, ToolName: toolName}
}

// NewToolCallReady returns a tool call whose arguments are fully assembled.
func NewToolCallReady(toolCallID, toolName string, args json.RawMessage) Event {
	return Event{Kind: KindToolCallReady, ToolCallID: toolCallID, ToolName: toolName, Arguments: args}
}

// NewToolResult returns a successful tool execution payload.
func NewToolResult(toolCallID string, result json.RawMessage) Event {
	return Event{Kind: KindToolResult, ToolCallID: toolCallID, Result: result}
}

// NewToolError returns a failed tool execution.
func NewToolError(toolCallID, errorText string) Event {
	return Event{Kind: KindToolResult, ToolCallID: toolCallID, IsError: true, ErrorText: errorText}
}

// NewTurnComplete signals the end of a turn.
func NewTurnComplete(finishReason string) Event {
	return Event{Kind: KindTurnComplete, FinishReason: finishReason}
}

// NewUsage reports token consumption observed so far.
func NewUsage(inputTokens, outputTokens int64) Event {
	return Event{Kind: KindUsage, InputTokens: inputTokens, OutputTokens: outputTokens}
}

// NewError reports a fatal stream failure. The stream ends after it.
func NewError(err error) Event {
	return Event{Kind: KindError, Err: err}
}
