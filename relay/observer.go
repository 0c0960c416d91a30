package relay

import "github.com/tailored-agentic-units/relay/observability"

// Relay event types emitted while orchestrating turns.
const (
	EventTurnStart      observability.EventType = "relay.turn.start"
	EventTurnComplete   observability.EventType = "relay.turn.complete"
	EventTurnAbandoned  observability.EventType = "relay.turn.abandoned"
	EventReplayApplied  observability.EventType = "relay.replay.applied"
	EventReplayRejected observability.EventType = "relay.replay.rejected"
)
