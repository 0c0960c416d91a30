package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ConfirmationToolName is the internal tool the executor synthesizes when a
// gated call needs a human decision. It never reaches the user as a tool of
// its own; the stream converter folds it into an approval request for the
// original call.
const ConfirmationToolName = "request_confirmation"

// ErrInvalidConfirmation marks a confirmation payload that cannot be tied
// back to an original tool call.
var ErrInvalidConfirmation = errors.New("invalid confirmation payload")

// ConfirmationRequest is the argument payload of a synthesized confirmation
// tool call.
type ConfirmationRequest struct {
	// OriginalCallID is the id of the gated tool call the decision is for.
	OriginalCallID string `json:"originalCallId"`
	// ToolName is the gated tool's name, for display.
	ToolName string `json:"toolName"`
	// Hint is a short human-readable description of what will run.
	Hint string `json:"hint,omitempty"`
	// Payload is a redacted preview of the gated call's arguments.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ConfirmationResponse is the decision payload flowing back to a runtime.
type ConfirmationResponse struct {
	RequestID string `json:"requestId"`
	Approved  bool   `json:"approved"`
	Reason    string `json:"reason,omitempty"`
}

// ParseConfirmationRequest decodes and validates confirmation tool arguments.
func ParseConfirmationRequest(args json.RawMessage) (ConfirmationRequest, error) {
	var req ConfirmationRequest
	if err := json.Unmarshal(args, &req); err != nil {
		return ConfirmationRequest{}, fmt.Errorf("%w: %s", ErrInvalidConfirmation, err)
	}
	if req.OriginalCallID == "" {
		return ConfirmationRequest{}, fmt.Errorf("%w: missing originalCallId", ErrInvalidConfirmation)
	}
	return req, nil
}
