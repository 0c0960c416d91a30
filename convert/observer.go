package convert

import "github.com/tailored-agentic-units/relay/observability"

const (
	EventTurnOpen            observability.EventType = "convert.turn.open"
	EventTurnClosed          observability.EventType = "convert.turn.closed"
	EventFinishHeld          observability.EventType = "convert.finish.held"
	EventDropped             observability.EventType = "convert.event.dropped"
	EventConfirmationInvalid observability.EventType = "convert.confirmation.invalid"
)
