package anthropic

import "github.com/tailored-agentic-units/relay/observability"

const (
	EventIterationStart observability.EventType = "anthropic.iteration.start"
	EventStreamError    observability.EventType = "anthropic.stream.error"
	EventBadArguments   observability.EventType = "anthropic.tool.bad_arguments"
	EventBadSchema      observability.EventType = "anthropic.tool.bad_schema"
	EventAwaitingResume observability.EventType = "anthropic.tool.awaiting_resume"
	EventResumed        observability.EventType = "anthropic.tool.resumed"
)
