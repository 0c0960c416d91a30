// Package protocol defines the typed chunk stream consumed by UI clients and
// the conversation message types replayed into sessions. Chunk shapes follow
// the stable fields of the UI message stream contract; any payload beyond the
// stable fields is carried opaquely as raw JSON.
package protocol

import "encoding/json"

// ChunkType identifies the kind of a stream chunk.
type ChunkType string

const (
	ChunkStart               ChunkType = "start"
	ChunkTextStart           ChunkType = "text-start"
	ChunkTextDelta           ChunkType = "text-delta"
	ChunkTextEnd             ChunkType = "text-end"
	ChunkToolInputStart      ChunkType = "tool-input-start"
	ChunkToolInputAvailable  ChunkType = "tool-input-available"
	ChunkApprovalRequest     ChunkType = "tool-approval-request"
	ChunkToolOutputAvailable ChunkType = "tool-output-available"
	ChunkToolOutputError     ChunkType = "tool-output-error"
	ChunkFinish              ChunkType = "finish"
	ChunkError               ChunkType = "error"

	// ChunkTerminate is the out-of-band turn terminator. It is never marshaled
	// as a JSON chunk: transports translate it into their own terminal marker
	// (an SSE data line or a socket text frame carrying TerminalMarker).
	ChunkTerminate ChunkType = "terminate"
)

// TerminalMarker is the sentinel payload transports write after the final
// chunk of a turn.
const TerminalMarker = "[DONE]"

// Chunk is a single element of the UI stream protocol. Exactly one turn's
// worth of chunks is bounded by a ChunkStart and a ChunkTerminate; every chunk
// between them carries identifiers stable for the whole turn.
type Chunk struct {
	Type         ChunkType       `json:"type"`
	MessageID    string          `json:"messageId,omitempty"`
	ID           string          `json:"id,omitempty"`
	Delta        string          `json:"delta,omitempty"`
	ToolCallID   string          `json:"toolCallId,omitempty"`
	ToolName     string          `json:"toolName,omitempty"`
	Input        json.RawMessage `json:"input,omitempty"`
	ApprovalID   string          `json:"approvalId,omitempty"`
	Output       json.RawMessage `json:"output,omitempty"`
	ErrorText    string          `json:"errorText,omitempty"`
	FinishReason string          `json:"finishReason,omitempty"`
	Metadata     json.RawMessage `json:"messageMetadata,omitempty"`
}

// Terminal reports whether the chunk is the out-of-band turn terminator.
func (c Chunk) Terminal() bool {
	return c.Type == ChunkTerminate
}

// NewStart creates the turn-opening chunk carrying the turn's message id.
func NewStart(messageID string) Chunk {
	return Chunk{Type: ChunkStart, MessageID: messageID}
}

// NewTextStart opens a text block with the given stable block id.
func NewTextStart(blockID string) Chunk {
	return Chunk{Type: ChunkTextStart, ID: blockID}
}

// NewTextDelta appends delta content to an open text block.
func NewTextDelta(blockID, delta string) Chunk {
	return Chunk{Type: ChunkTextDelta, ID: blockID, Delta: delta}
}

// NewTextEnd closes a text block.
func NewTextEnd(blockID string) Chunk {
	return Chunk{Type: ChunkTextEnd, ID: blockID}
}

// NewToolInputStart announces a tool invocation before its arguments are known.
func NewToolInputStart(toolCallID, toolName string) Chunk {
	return Chunk{Type: ChunkToolInputStart, ToolCallID: toolCallID, ToolName: toolName}
}

// NewToolInputAvailable carries a tool invocation's complete argument payload.
func NewToolInputAvailable(toolCallID, toolName string, input json.RawMessage) Chunk {
	return Chunk{Type: ChunkToolInputAvailable, ToolCallID: toolCallID, ToolName: toolName, Input: input}
}

// NewApprovalRequest asks the client for a human decision on a pending tool
// call. ToolCallID references the original tool call awaiting approval;
// approvalID is the identifier the client must resolve the decision against.
func NewApprovalRequest(toolCallID, approvalID string, input json.RawMessage) Chunk {
	return Chunk{Type: ChunkApprovalRequest, ToolCallID: toolCallID, ApprovalID: approvalID, Input: input}
}

// NewToolOutputAvailable carries a successful tool result.
func NewToolOutputAvailable(toolCallID string, output json.RawMessage) Chunk {
	return Chunk{Type: ChunkToolOutputAvailable, ToolCallID: toolCallID, Output: output}
}

// NewToolOutputError carries a failed, denied, or timed-out tool result.
func NewToolOutputError(toolCallID, errorText string) Chunk {
	return Chunk{Type: ChunkToolOutputError, ToolCallID: toolCallID, ErrorText: errorText}
}

// NewFinish closes a turn with its finish reason and accumulated metadata.
func NewFinish(finishReason string, metadata json.RawMessage) Chunk {
	return Chunk{Type: ChunkFinish, FinishReason: finishReason, Metadata: metadata}
}

// NewError reports a fatal stream failure to the client.
func NewError(errorText string) Chunk {
	return Chunk{Type: ChunkError, ErrorText: errorText}
}

// Terminator creates the out-of-band turn terminator.
func Terminator() Chunk {
	return Chunk{Type: ChunkTerminate}
}

// Finish reasons carried by ChunkFinish.
const (
	FinishReasonStop  = "stop"
	FinishReasonError = "error"
)
