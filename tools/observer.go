package tools

import "github.com/tailored-agentic-units/relay/observability"

const (
	EventExecuted observability.EventType = "tools.call.executed"
	EventFailed   observability.EventType = "tools.call.failed"
	EventGated    observability.EventType = "tools.call.gated"
	EventDenied   observability.EventType = "tools.call.denied"
	EventTimeout  observability.EventType = "tools.call.timeout"
)
