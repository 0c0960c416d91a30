// Package anthropic adapts the Anthropic Messages API to the runtime event
// stream. It owns the tool loop for a turn: streamed tool calls are resolved
// through the executor (or an external Resume) and their results feed the
// next model iteration until the model stops requesting tools.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/tidwall/gjson"

	"github.com/tailored-agentic-units/relay/observability"
	"github.com/tailored-agentic-units/relay/protocol"
	"github.com/tailored-agentic-units/relay/runtime"
	"github.com/tailored-agentic-units/relay/tools"
)

// Option configures a Runtime after construction.
type Option func(*Runtime)

// WithObserver overrides the default NoOpObserver.
func WithObserver(o observability.Observer) Option {
	return func(r *Runtime) { r.observer = o }
}

// WithRegistry sets the tool registry advertised to the model. Defaults to
// the package-wide tools registry.
func WithRegistry(registry *tools.Registry) Option {
	return func(r *Runtime) {
		if registry != nil {
			r.registry = registry
		}
	}
}

// WithExecutor sets the executor that resolves registered tool calls,
// including the approval flow for gated tools. Without one every tool call
// is treated as externally executed and waits on Resume.
func WithExecutor(executor *tools.Executor) Option {
	return func(r *Runtime) { r.executor = executor }
}

// pendingCall is a tool call streamed by the model, awaiting resolution.
type pendingCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// iterationResult is what one model iteration produced.
type iterationResult struct {
	text         string
	toolCalls    []pendingCall
	inputTokens  int64
	outputTokens int64
}

// Runtime drives conversations against the Anthropic API.
type Runtime struct {
	client   sdk.Client
	config   Config
	registry *tools.Registry
	executor *tools.Executor
	observer observability.Observer

	mu      sync.Mutex
	waiting map[string]chan json.RawMessage
}

// New creates a Runtime. Zero fields in cfg fall back to defaults; the API
// key is required.
func New(cfg Config, opts ...Option) (*Runtime, error) {
	config := DefaultConfig()
	config.Merge(&cfg)

	if config.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	clientOptions := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		clientOptions = append(clientOptions, option.WithBaseURL(config.BaseURL))
	}

	r := &Runtime{
		client:   sdk.NewClient(clientOptions...),
		config:   config,
		registry: tools.Default,
		observer: observability.NoOpObserver{},
		waiting:  make(map[string]chan json.RawMessage),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

// Run starts a turn and returns its event stream. The channel closes when
// the turn finishes, fails, or ctx is cancelled.
func (r *Runtime) Run(ctx context.Context, req runtime.Request) (<-chan runtime.Event, error) {
	messages, err := historyToParams(req.History)
	if err != nil {
		return nil, err
	}
	if req.Message != "" {
		messages = append(messages, sdk.NewUserMessage(sdk.NewTextBlock(req.Message)))
	}
	if len(messages) == 0 {
		return nil, ErrEmptyPrompt
	}

	events := make(chan runtime.Event, 16)
	go r.converse(ctx, req.SessionID, messages, events)
	return events, nil
}

// Resume delivers the result of an externally executed tool call. Returns
// ErrNoPendingCall when no turn is waiting on the given call id.
func (r *Runtime) Resume(ctx context.Context, toolCallID string, result json.RawMessage) error {
	r.mu.Lock()
	delivery, ok := r.waiting[toolCallID]
	if ok {
		delete(r.waiting, toolCallID)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNoPendingCall, toolCallID)
	}

	delivery <- append(json.RawMessage(nil), result...)

	r.observer.OnEvent(ctx, observability.Event{
		Type:      EventResumed,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "anthropic.Resume",
		Data: map[string]any{
			"call_id": toolCallID,
		},
	})
	return nil
}

// PendingResumes returns the call ids currently blocked on Resume.
func (r *Runtime) PendingResumes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiting)
}

func (r *Runtime) converse(ctx context.Context, sessionID string, messages []sdk.MessageParam, events chan<- runtime.Event) {
	defer close(events)

	send := func(ev runtime.Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	toolDefs := r.toolParams(ctx, sessionID)

	for iteration := 0; iteration < r.config.MaxIterations; iteration++ {
		r.observer.OnEvent(ctx, observability.Event{
			Type:      EventIterationStart,
			Level:     observability.LevelVerbose,
			Timestamp: time.Now(),
			Source:    "anthropic.Run",
			Session:   sessionID,
			Data: map[string]any{
				"iteration": iteration,
				"messages":  len(messages),
			},
		})

		turn, ok := r.streamIteration(ctx, sessionID, messages, toolDefs, send)
		if !ok {
			return
		}

		if turn.inputTokens > 0 || turn.outputTokens > 0 {
			if !send(runtime.NewUsage(turn.inputTokens, turn.outputTokens)) {
				return
			}
		}

		if len(turn.toolCalls) == 0 {
			send(runtime.NewTurnComplete(protocol.FinishReasonStop))
			return
		}

		// Echo the assistant's request, then gather one result per call for
		// the next iteration.
		var request []sdk.ContentBlockParamUnion
		if turn.text != "" {
			request = append(request, sdk.NewTextBlock(turn.text))
		}
		for _, call := range turn.toolCalls {
			var input map[string]any
			if err := json.Unmarshal(call.Arguments, &input); err != nil {
				input = map[string]any{}
			}
			request = append(request, sdk.NewToolUseBlock(call.ID, input, call.Name))
		}
		messages = append(messages, sdk.NewAssistantMessage(request...))

		var results []sdk.ContentBlockParamUnion
		for _, call := range turn.toolCalls {
			outcome, ok := r.resolveCall(ctx, sessionID, call, send)
			if !ok {
				return
			}
			if !send(outcome) {
				return
			}
			content := string(outcome.Result)
			if outcome.IsError {
				content = outcome.ErrorText
			}
			results = append(results, sdk.NewToolResultBlock(call.ID, content, outcome.IsError))
		}
		messages = append(messages, sdk.NewUserMessage(results...))
	}

	send(runtime.NewError(fmt.Errorf("%w (%d)", ErrTooManyIterations, r.config.MaxIterations)))
}

// streamIteration runs one model request, forwarding text deltas and tool
// announcements as they arrive. Returns false when the turn must stop, with
// any fatal error already sent.
func (r *Runtime) streamIteration(ctx context.Context, sessionID string, messages []sdk.MessageParam, toolDefs []sdk.ToolUnionParam, send func(runtime.Event) bool) (iterationResult, bool) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(r.config.Model),
		Messages:  messages,
		MaxTokens: r.config.MaxTokens,
	}
	if r.config.SystemPrompt != "" {
		params.System = []sdk.TextBlockParam{
			{Type: "text", Text: r.config.SystemPrompt},
		}
	}
	if len(toolDefs) > 0 {
		params.Tools = toolDefs
	}

	stream := r.client.Messages.NewStreaming(ctx, params)

	var result iterationResult
	var current *pendingCall
	var partialInput strings.Builder
	var assistantText strings.Builder
	textOpen := false

	for stream.Next() {
		event := stream.Current()

		switch event.Type {
		case "message_start":
			messageStart := event.AsMessageStart()
			if messageStart.Message.Usage.InputTokens > 0 {
				result.inputTokens = messageStart.Message.Usage.InputTokens
			}

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			switch block.Type {
			case "text":
				textOpen = true
			case "tool_use":
				toolUse := block.AsToolUse()
				current = &pendingCall{ID: toolUse.ID, Name: toolUse.Name}
				partialInput.Reset()
				if !send(runtime.NewToolCallAnnounced(toolUse.ID, toolUse.Name)) {
					return result, false
				}
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					assistantText.WriteString(delta.Text)
					if !send(runtime.NewTextDelta(delta.Text, false)) {
						return result, false
					}
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					partialInput.WriteString(delta.PartialJSON)
				}
			}

		case "content_block_stop":
			if current != nil {
				call := *current
				current = nil
				call.Arguments = json.RawMessage(partialInput.String())
				if len(call.Arguments) == 0 {
					call.Arguments = json.RawMessage(`{}`)
				}
				if !gjson.ValidBytes(call.Arguments) {
					r.observer.OnEvent(ctx, observability.Event{
						Type:      EventBadArguments,
						Level:     observability.LevelWarning,
						Timestamp: time.Now(),
						Source:    "anthropic.Run",
						Session:   sessionID,
						Data: map[string]any{
							"tool":    call.Name,
							"call_id": call.ID,
						},
					})
					call.Arguments = json.RawMessage(`{}`)
				}
				result.toolCalls = append(result.toolCalls, call)
				if !send(runtime.NewToolCallReady(call.ID, call.Name, call.Arguments)) {
					return result, false
				}
			} else if textOpen {
				textOpen = false
				if !send(runtime.NewTextDelta("", true)) {
					return result, false
				}
			}

		case "message_delta":
			messageDelta := event.AsMessageDelta()
			if messageDelta.Usage.OutputTokens > 0 {
				result.outputTokens = messageDelta.Usage.OutputTokens
			}

		case "message_stop":
			result.text = assistantText.String()
			return result, true

		case "error":
			send(runtime.NewError(errors.New("model stream error")))
			return result, false
		}
	}

	if err := stream.Err(); err != nil {
		r.observer.OnEvent(ctx, observability.Event{
			Type:      EventStreamError,
			Level:     observability.LevelError,
			Timestamp: time.Now(),
			Source:    "anthropic.Run",
			Session:   sessionID,
			Data: map[string]any{
				"error": err.Error(),
			},
		})
		send(runtime.NewError(fmt.Errorf("model stream failed: %w", err)))
		return result, false
	}

	result.text = assistantText.String()
	return result, true
}

// resolveCall turns one streamed tool call into its result event. Registered
// tools go through the executor; unknown tools are assumed to run on the
// client and wait for Resume.
func (r *Runtime) resolveCall(ctx context.Context, sessionID string, call pendingCall, send func(runtime.Event) bool) (runtime.Event, bool) {
	if _, registered := r.registry.Get(call.Name); registered && r.executor != nil {
		outcome := r.executor.Execute(ctx, sessionID, protocol.ToolCall{
			ID:        call.ID,
			Name:      call.Name,
			Arguments: string(call.Arguments),
		}, func(ev runtime.Event) { send(ev) })
		return outcome, true
	}

	outcome, err := r.awaitExternal(ctx, sessionID, call)
	if err != nil {
		if ctx.Err() != nil {
			return runtime.Event{}, false
		}
		return runtime.NewToolError(call.ID, err.Error()), true
	}
	return outcome, true
}

// awaitExternal blocks until Resume delivers the call's result or the
// resume timeout passes.
func (r *Runtime) awaitExternal(ctx context.Context, sessionID string, call pendingCall) (runtime.Event, error) {
	delivery := make(chan json.RawMessage, 1)
	r.mu.Lock()
	r.waiting[call.ID] = delivery
	r.mu.Unlock()

	r.observer.OnEvent(ctx, observability.Event{
		Type:      EventAwaitingResume,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "anthropic.Run",
		Session:   sessionID,
		Data: map[string]any{
			"tool":    call.Name,
			"call_id": call.ID,
		},
	})

	select {
	case result := <-delivery:
		return runtime.NewToolResult(call.ID, result), nil

	case <-ctx.Done():
		if result, ok := r.dropWaiter(call.ID, delivery); ok {
			return runtime.NewToolResult(call.ID, result), nil
		}
		return runtime.Event{}, ctx.Err()

	case <-time.After(r.config.ResumeTimeout):
		if result, ok := r.dropWaiter(call.ID, delivery); ok {
			return runtime.NewToolResult(call.ID, result), nil
		}
		return runtime.Event{}, fmt.Errorf("%w: %s after %s", ErrResumeTimeout, call.Name, r.config.ResumeTimeout)
	}
}

// dropWaiter removes the wait state for a call id, recovering a result that
// raced in on delivery.
func (r *Runtime) dropWaiter(callID string, delivery chan json.RawMessage) (json.RawMessage, bool) {
	r.mu.Lock()
	delete(r.waiting, callID)
	r.mu.Unlock()

	select {
	case result := <-delivery:
		return result, true
	default:
		return nil, false
	}
}

// toolParams converts registry definitions to API tool params. Definitions
// whose parameter schema cannot be encoded are skipped with a warning.
func (r *Runtime) toolParams(ctx context.Context, sessionID string) []sdk.ToolUnionParam {
	defs := r.registry.List()
	params := make([]sdk.ToolUnionParam, 0, len(defs))

	for _, def := range defs {
		raw, err := json.Marshal(def.Parameters)
		if err == nil {
			var schema sdk.ToolInputSchemaParam
			if unmarshalErr := json.Unmarshal(raw, &schema); unmarshalErr != nil {
				err = unmarshalErr
			} else {
				tool := sdk.ToolUnionParamOfTool(schema, def.Name)
				if tool.OfTool != nil {
					tool.OfTool.Description = sdk.String(def.Description)
				}
				params = append(params, tool)
				continue
			}
		}

		r.observer.OnEvent(ctx, observability.Event{
			Type:      EventBadSchema,
			Level:     observability.LevelWarning,
			Timestamp: time.Now(),
			Source:    "anthropic.Run",
			Session:   sessionID,
			Data: map[string]any{
				"tool":  def.Name,
				"error": err.Error(),
			},
		})
	}

	return params
}
