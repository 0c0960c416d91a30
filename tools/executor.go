package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/tailored-agentic-units/relay/approval"
	"github.com/tailored-agentic-units/relay/observability"
	"github.com/tailored-agentic-units/relay/protocol"
	"github.com/tailored-agentic-units/relay/runtime"
)

// defaultRedactedKeys are argument fields stripped from approval previews so
// a gated call never echoes credentials back to the user interface.
var defaultRedactedKeys = []string{
	"api_key", "apiKey", "token", "secret", "password", "authorization",
}

// defaultHintFields are argument fields promoted into the one-line approval
// hint, checked in order.
var defaultHintFields = []string{"command", "path", "url", "query", "text"}

const maxHintLength = 160

// Emit delivers a synthesized event into the stream of the running turn.
type Emit func(runtime.Event)

// ExecutorOption configures an Executor after construction.
type ExecutorOption func(*Executor)

// WithExecutorObserver overrides the default NoOpObserver.
func WithExecutorObserver(o observability.Observer) ExecutorOption {
	return func(e *Executor) { e.observer = o }
}

// WithExecutorInstrumentation attaches Prometheus instrumentation.
func WithExecutorInstrumentation(m *observability.Metrics) ExecutorOption {
	return func(e *Executor) { e.instruments = m }
}

// WithRedactedKeys replaces the default set of argument keys removed from
// approval previews.
func WithRedactedKeys(keys ...string) ExecutorOption {
	return func(e *Executor) { e.redactKeys = keys }
}

// WithHintFields replaces the default set of argument fields scanned for the
// approval hint.
func WithHintFields(fields ...string) ExecutorOption {
	return func(e *Executor) { e.hintFields = fields }
}

// WithExecutionTimeout bounds both handler runtime and gated approval waits.
func WithExecutionTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.execTimeout = d
		}
	}
}

// Executor runs tool calls from the model, consulting the gate first: gated
// calls suspend on the approval registry until a human decides, ungated
// calls run immediately. Either way the outcome comes back as a single
// runtime event the caller feeds to the model and the stream.
type Executor struct {
	registry    *Registry
	approvals   *approval.Registry
	gate        *Gate
	execTimeout time.Duration

	redactKeys []string
	hintFields []string

	observer    observability.Observer
	instruments *observability.Metrics
}

// NewExecutor wires an executor. A nil registry falls back to the package
// default; a nil gate gates nothing. The approval registry may only be nil
// when the gate is nil too, otherwise gated calls fail closed.
func NewExecutor(registry *Registry, approvals *approval.Registry, gate *Gate, opts ...ExecutorOption) *Executor {
	if registry == nil {
		registry = Default
	}

	e := &Executor{
		registry:    registry,
		approvals:   approvals,
		gate:        gate,
		execTimeout: approval.DefaultConfig().ExecutionTimeout,
		redactKeys:  defaultRedactedKeys,
		hintFields:  defaultHintFields,
		observer:    observability.NoOpObserver{},
	}
	if approvals != nil {
		e.execTimeout = approvals.ExecutionTimeout()
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Execute resolves a single tool call to its result event. Gated calls emit
// the synthesized confirmation announcement and block until resolved; the
// returned event is the final outcome and is not passed to emit, so the
// caller can both stream it and feed it back to the model. Denial and
// timeout are normal outcomes, never Go errors.
func (e *Executor) Execute(ctx context.Context, sessionID string, call protocol.ToolCall, emit Emit) runtime.Event {
	args := json.RawMessage(call.Arguments)

	if !e.gate.Requires(call.Name) {
		return e.run(ctx, sessionID, call.ID, call.Name, args, time.Now())
	}

	start := time.Now()
	if e.approvals == nil {
		e.observeFailure(ctx, sessionID, call.Name, "no approval registry")
		return runtime.NewToolError(call.ID, fmt.Sprintf("tool %s requires approval but no approval registry is configured", call.Name))
	}

	confirmationID := uuid.Must(uuid.NewV7()).String()
	preview := e.preview(args)

	request := runtime.ConfirmationRequest{
		OriginalCallID: call.ID,
		ToolName:       call.Name,
		Hint:           e.hint(call.Name, args),
		Payload:        preview,
	}
	confirmationArgs, err := json.Marshal(request)
	if err != nil {
		e.observeFailure(ctx, sessionID, call.Name, err.Error())
		return runtime.NewToolError(call.ID, fmt.Sprintf("tool %s confirmation encode failed: %s", call.Name, err))
	}

	if err := e.approvals.Register(ctx, confirmationID, call.Name, preview); err != nil {
		e.observeFailure(ctx, sessionID, call.Name, err.Error())
		return runtime.NewToolError(call.ID, fmt.Sprintf("tool %s approval registration failed: %s", call.Name, err))
	}

	e.observer.OnEvent(ctx, observability.Event{
		Type:      EventGated,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "tools.Execute",
		Session:   sessionID,
		Data: map[string]any{
			"tool":        call.Name,
			"call_id":     call.ID,
			"approval_id": confirmationID,
		},
	})

	emit(runtime.NewToolCallAnnounced(confirmationID, runtime.ConfirmationToolName))
	emit(runtime.NewToolCallReady(confirmationID, runtime.ConfirmationToolName, confirmationArgs))

	decision, err := e.approvals.Await(ctx, confirmationID, e.execTimeout)
	if err != nil {
		e.instruments.ToolExecuted(call.Name, "error", time.Since(start).Seconds())
		e.observeFailure(ctx, sessionID, call.Name, err.Error())
		return runtime.NewToolError(call.ID, fmt.Sprintf("tool %s approval wait failed: %s", call.Name, err))
	}

	switch {
	case decision.TimedOut:
		e.instruments.ToolExecuted(call.Name, "timeout", time.Since(start).Seconds())
		e.observer.OnEvent(ctx, observability.Event{
			Type:      EventTimeout,
			Level:     observability.LevelWarning,
			Timestamp: time.Now(),
			Source:    "tools.Execute",
			Session:   sessionID,
			Data: map[string]any{
				"tool":        call.Name,
				"call_id":     call.ID,
				"approval_id": confirmationID,
				"timeout":     e.execTimeout.String(),
			},
		})
		return runtime.NewToolError(call.ID, fmt.Sprintf("approval timed out after %s; tool %s was not executed", e.execTimeout, call.Name))

	case !decision.Approved:
		e.instruments.ToolExecuted(call.Name, "denied", time.Since(start).Seconds())
		e.observer.OnEvent(ctx, observability.Event{
			Type:      EventDenied,
			Level:     observability.LevelInfo,
			Timestamp: time.Now(),
			Source:    "tools.Execute",
			Session:   sessionID,
			Data: map[string]any{
				"tool":        call.Name,
				"call_id":     call.ID,
				"approval_id": confirmationID,
			},
		})
		return runtime.NewToolError(call.ID, fmt.Sprintf("approval denied; tool %s was not executed", call.Name))
	}

	return e.run(ctx, sessionID, call.ID, call.Name, args, start)
}

// run executes the handler under the execution deadline and converts the
// outcome to a result event.
func (e *Executor) run(ctx context.Context, sessionID, callID, name string, args json.RawMessage, start time.Time) runtime.Event {
	runCtx, cancel := context.WithTimeout(ctx, e.execTimeout)
	defer cancel()

	result, err := e.registry.Execute(runCtx, name, args)
	elapsed := time.Since(start)

	if err != nil {
		e.instruments.ToolExecuted(name, "error", elapsed.Seconds())
		e.observer.OnEvent(ctx, observability.Event{
			Type:      EventFailed,
			Level:     observability.LevelWarning,
			Timestamp: time.Now(),
			Source:    "tools.Execute",
			Session:   sessionID,
			Data: map[string]any{
				"tool":        name,
				"call_id":     callID,
				"duration_ms": elapsed.Milliseconds(),
				"error":       err.Error(),
			},
		})
		return runtime.NewToolError(callID, err.Error())
	}

	status := "success"
	if result.IsError {
		status = "error"
	}
	e.instruments.ToolExecuted(name, status, elapsed.Seconds())
	e.observer.OnEvent(ctx, observability.Event{
		Type:      EventExecuted,
		Level:     observability.LevelVerbose,
		Timestamp: time.Now(),
		Source:    "tools.Execute",
		Session:   sessionID,
		Data: map[string]any{
			"tool":        name,
			"call_id":     callID,
			"duration_ms": elapsed.Milliseconds(),
			"is_error":    result.IsError,
		},
	})

	if result.IsError {
		return runtime.NewToolError(callID, result.Content)
	}
	return runtime.NewToolResult(callID, payloadJSON(result.Content))
}

// preview returns the call arguments with sensitive keys removed, suitable
// for showing to the user. Arguments that are not a JSON object are omitted
// entirely rather than leaked unredacted.
func (e *Executor) preview(args json.RawMessage) json.RawMessage {
	if len(args) == 0 || !gjson.ValidBytes(args) {
		return nil
	}
	if !gjson.ParseBytes(args).IsObject() {
		return nil
	}

	preview := append(json.RawMessage(nil), args...)
	for _, key := range e.redactKeys {
		if redacted, err := sjson.DeleteBytes(preview, key); err == nil {
			preview = redacted
		}
	}
	return preview
}

// hint builds the one-line description shown next to the approval prompt,
// preferring well-known argument fields over the bare tool name.
func (e *Executor) hint(name string, args json.RawMessage) string {
	if gjson.ValidBytes(args) {
		for _, field := range e.hintFields {
			if value := gjson.GetBytes(args, field); value.Exists() {
				return truncate(fmt.Sprintf("%s: %s", name, value.String()), maxHintLength)
			}
		}
	}
	return name
}

func (e *Executor) observeFailure(ctx context.Context, sessionID, tool, reason string) {
	e.observer.OnEvent(ctx, observability.Event{
		Type:      EventFailed,
		Level:     observability.LevelWarning,
		Timestamp: time.Now(),
		Source:    "tools.Execute",
		Session:   sessionID,
		Data: map[string]any{
			"tool":  tool,
			"error": reason,
		},
	})
}

// payloadJSON wraps handler output into the opaque JSON payload carried by
// tool-output chunks. Handler content that already is valid JSON passes
// through untouched.
func payloadJSON(content string) json.RawMessage {
	if content != "" && gjson.Valid(content) {
		return json.RawMessage(content)
	}
	wrapped, err := json.Marshal(map[string]string{"output": content})
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return wrapped
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
