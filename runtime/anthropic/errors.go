package anthropic

import "errors"

// Sentinel errors for the Anthropic runtime.
var (
	ErrMissingAPIKey     = errors.New("anthropic api key is required")
	ErrEmptyPrompt       = errors.New("prompt and history are both empty")
	ErrTooManyIterations = errors.New("tool loop exceeded max iterations")
	ErrNoPendingCall     = errors.New("no pending tool call")
	ErrResumeTimeout     = errors.New("timed out waiting for external tool result")
)
