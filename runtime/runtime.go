package runtime

import (
	"context"
	"encoding/json"

	"github.com/tailored-agentic-units/relay/protocol"
)

// Request carries one turn into a runtime.
type Request struct {
	SessionID string
	Subject   string
	Message   string
	History   []protocol.Message
}

// Runtime produces the event stream for a turn. Run returns a channel that
// the runtime closes when the turn's stream ends; the last event on a
// well-formed stream is KindTurnComplete or KindError.
//
// Resume injects a tool result produced outside the runtime, for calls the
// runtime parked waiting on an external executor.
type Runtime interface {
	Run(ctx context.Context, req Request) (<-chan Event, error)
	Resume(ctx context.Context, toolCallID string, result json.RawMessage) error
}
