package approval

import "github.com/tailored-agentic-units/relay/observability"

const (
	EventRegistered observability.EventType = "approval.request.registered"
	EventReplaced   observability.EventType = "approval.request.replaced"
	EventDecided    observability.EventType = "approval.request.decided"
	EventSettled    observability.EventType = "approval.request.settled"
	EventTimeout    observability.EventType = "approval.request.timeout"
	EventCancelled  observability.EventType = "approval.request.cancelled"
	EventOrphaned   observability.EventType = "approval.request.orphaned"
)
