package transport

import "github.com/tailored-agentic-units/relay/observability"

// Transport event types.
const (
	EventTurnStreamed     observability.EventType = "transport.turn.streamed"
	EventApprovalResolved observability.EventType = "transport.approval.resolved"
	EventToolResumed      observability.EventType = "transport.tool.resumed"
	EventConnected        observability.EventType = "transport.socket.connected"
	EventDisconnected     observability.EventType = "transport.socket.disconnected"
	EventFrameRejected    observability.EventType = "transport.frame.rejected"
	EventSessionsCleared  observability.EventType = "transport.sessions.cleared"
)
