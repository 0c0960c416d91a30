package transport

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tailored-agentic-units/relay/protocol"
)

// Inbound frame types accepted on a websocket connection.
const (
	FrameMessage    = "message"
	FrameApproval   = "approval"
	FrameToolResult = "tool_result"
)

// Frame is one inbound websocket frame. Type selects which fields apply:
// message frames carry the user prompt and optional client-held history,
// approval frames settle a pending decision, and tool_result frames resume a
// runtime call parked on an external executor.
type Frame struct {
	Type string `json:"type"`

	Content string             `json:"content,omitempty"`
	History []protocol.Message `json:"history,omitempty"`

	RequestID string `json:"requestId,omitempty"`
	Approved  *bool  `json:"approved,omitempty"`
	Reason    string `json:"reason,omitempty"`

	ToolCallID string          `json:"toolCallId,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
}

// DecodeFrame parses and validates one inbound frame.
func DecodeFrame(raw []byte) (*Frame, error) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch frame.Type {
	case FrameMessage:
		if strings.TrimSpace(frame.Content) == "" {
			return nil, fmt.Errorf("%w: message frame without content", ErrInvalidFrame)
		}
	case FrameApproval:
		if frame.RequestID == "" {
			return nil, fmt.Errorf("%w: approval frame without requestId", ErrInvalidFrame)
		}
		if frame.Approved == nil {
			return nil, fmt.Errorf("%w: approval frame without approved", ErrInvalidFrame)
		}
	case FrameToolResult:
		if frame.ToolCallID == "" {
			return nil, fmt.Errorf("%w: tool_result frame without toolCallId", ErrInvalidFrame)
		}
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrInvalidFrame)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrameType, frame.Type)
	}

	return &frame, nil
}
