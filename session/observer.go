package session

import "github.com/tailored-agentic-units/relay/observability"

const (
	EventCreated  observability.EventType = "session.created"
	EventAttached observability.EventType = "session.attached"
	EventRemoved  observability.EventType = "session.removed"
	EventCleared  observability.EventType = "session.store.cleared"
)
