// Package relay composes the session store, approval registry, tool executor,
// and a runtime into the turn orchestrator behind every transport. One
// HandleTurn call runs one conversation turn: client-held history is replayed
// into the session first, then the runtime's event stream is converted into
// ordered protocol chunks and forwarded to the caller's stream.
//
// The relay initializes from configuration via New, creating collaborators
// internally. Functional options supply the runtime and override any
// collaborator:
//
//	r, err := relay.New(relay.WithConfig(cfg), relay.WithRuntime(rt))
//	stream, err := r.HandleTurn(ctx, sess, "What's the weather in Boston?", nil)
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tailored-agentic-units/relay/approval"
	"github.com/tailored-agentic-units/relay/convert"
	"github.com/tailored-agentic-units/relay/observability"
	"github.com/tailored-agentic-units/relay/protocol"
	"github.com/tailored-agentic-units/relay/runtime"
	"github.com/tailored-agentic-units/relay/session"
	"github.com/tailored-agentic-units/relay/tools"
)

// Option configures a Relay during New.
type Option func(*Relay)

// WithConfig merges cfg over the defaults.
func WithConfig(cfg Config) Option {
	return func(r *Relay) { r.config.Merge(&cfg) }
}

// WithRuntime sets the runtime that produces turn events. Required.
func WithRuntime(rt runtime.Runtime) Option {
	return func(r *Relay) { r.runtime = rt }
}

// WithStore overrides the internally created session store.
func WithStore(s *session.Store) Option {
	return func(r *Relay) { r.store = s }
}

// WithApprovals overrides the internally created approval registry.
func WithApprovals(a *approval.Registry) Option {
	return func(r *Relay) { r.approvals = a }
}

// WithExecutor overrides the internally created tool executor.
func WithExecutor(e *tools.Executor) Option {
	return func(r *Relay) { r.executor = e }
}

// WithObserver overrides the default NoOpObserver.
func WithObserver(o observability.Observer) Option {
	return func(r *Relay) { r.observer = o }
}

// WithMetrics attaches Prometheus instrumentation.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Relay) { r.instruments = m }
}

// Relay is the turn orchestrator shared by every transport.
type Relay struct {
	config    Config
	store     *session.Store
	approvals *approval.Registry
	executor  *tools.Executor
	runtime   runtime.Runtime

	observer    observability.Observer
	instruments *observability.Metrics
}

// New creates a Relay. A runtime must be supplied through WithRuntime; every
// other collaborator is created from the configuration when not overridden,
// sharing the relay's observer and instrumentation.
func New(opts ...Option) (*Relay, error) {
	r := &Relay{
		config:   DefaultConfig(),
		observer: observability.NoOpObserver{},
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.runtime == nil {
		return nil, ErrNoRuntime
	}
	if r.store == nil {
		r.store = session.NewStore(
			session.WithObserver(r.observer),
			session.WithInstrumentation(r.instruments),
		)
	}
	if r.approvals == nil {
		r.approvals = approval.New(r.config.Approval,
			approval.WithObserver(r.observer),
			approval.WithInstrumentation(r.instruments),
		)
	}
	if r.executor == nil {
		r.executor = tools.NewExecutor(nil, r.approvals, tools.NewGate(r.config.GatedTools...),
			tools.WithExecutorObserver(r.observer),
			tools.WithExecutorInstrumentation(r.instruments),
		)
	}

	return r, nil
}

// Store returns the relay's session store.
func (r *Relay) Store() *session.Store {
	return r.store
}

// Approvals returns the relay's approval registry.
func (r *Relay) Approvals() *approval.Registry {
	return r.approvals
}

// Executor returns the relay's tool executor.
func (r *Relay) Executor() *tools.Executor {
	return r.executor
}

// Config returns a copy of the effective configuration.
func (r *Relay) Config() Config {
	return r.config
}

// Resume forwards an externally produced tool result to the runtime.
func (r *Relay) Resume(ctx context.Context, toolCallID string, result json.RawMessage) error {
	return r.runtime.Resume(ctx, toolCallID, result)
}

// HandleTurn runs one conversation turn against the session. Client-held
// history is replayed into the session before the turn starts, the user
// message is recorded, and the runtime's events stream through a fresh
// converter onto the returned stream. The stream closes after the turn's
// terminator; cancelling ctx abandons the turn.
func (r *Relay) HandleTurn(ctx context.Context, sess *session.Session, message string, history []protocol.Message) (*protocol.ChunkStream, error) {
	if sess == nil {
		return nil, ErrNilSession
	}
	if strings.TrimSpace(message) == "" {
		return nil, ErrEmptyMessage
	}

	if len(history) > 0 {
		applied, err := sess.Replay(history)
		if err != nil {
			r.observer.OnEvent(ctx, observability.Event{
				Type:      EventReplayRejected,
				Level:     observability.LevelWarning,
				Timestamp: time.Now(),
				Source:    "relay.HandleTurn",
				Session:   sess.ID(),
				Data:      map[string]any{"error": err.Error()},
			})
		} else if applied > 0 {
			r.observer.OnEvent(ctx, observability.Event{
				Type:      EventReplayApplied,
				Level:     observability.LevelVerbose,
				Timestamp: time.Now(),
				Source:    "relay.HandleTurn",
				Session:   sess.ID(),
				Data:      map[string]any{"applied": applied},
			})
		}
	}

	prior := sess.Messages()
	sess.AddMessage(protocol.Message{
		ID:      uuid.Must(uuid.NewV7()).String(),
		Role:    protocol.RoleUser,
		Content: message,
	})
	sess.State().BeginTurn()

	events, err := r.runtime.Run(ctx, runtime.Request{
		SessionID: sess.ID(),
		Subject:   sess.Subject(),
		Message:   message,
		History:   prior,
	})
	if err != nil {
		sess.State().Discard()
		return nil, fmt.Errorf("runtime start failed: %w", err)
	}

	r.observer.OnEvent(ctx, observability.Event{
		Type:      EventTurnStart,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "relay.HandleTurn",
		Session:   sess.ID(),
		Data: map[string]any{
			"message_length": len(message),
			"history":        len(prior),
		},
	})

	stream := protocol.NewChunkStream(ctx, r.config.StreamBuffer)
	converter := convert.New(
		convert.WithObserver(r.observer),
		convert.WithSession(sess.ID()),
	)
	go r.pump(ctx, sess, converter, events, stream)

	return stream, nil
}

// pump drains runtime events through the converter into the stream. It owns
// the stream's producing side and always closes it. Assistant text is
// accumulated and recorded in the session when the turn commits; a failed or
// abandoned turn discards the session's turn overlay instead.
func (r *Relay) pump(ctx context.Context, sess *session.Session, converter *convert.Converter, events <-chan runtime.Event, stream *protocol.ChunkStream) {
	defer stream.Close()
	start := time.Now()

	var assistant strings.Builder
	finishReason := ""
	failed := false

	forward := func(chunk protocol.Chunk) bool {
		switch chunk.Type {
		case protocol.ChunkFinish:
			finishReason = chunk.FinishReason
		case protocol.ChunkError:
			failed = true
			finishReason = protocol.FinishReasonError
		}
		r.instruments.ChunkEmitted(string(chunk.Type))

		if err := stream.Send(ctx, chunk); err != nil {
			sess.State().Discard()
			r.observer.OnEvent(ctx, observability.Event{
				Type:      EventTurnAbandoned,
				Level:     observability.LevelWarning,
				Timestamp: time.Now(),
				Source:    "relay.pump",
				Session:   sess.ID(),
				Data: map[string]any{
					"message_id": converter.MessageID(),
					"error":      err.Error(),
				},
			})
			return false
		}
		return true
	}

	for ev := range events {
		if ev.Kind == runtime.KindTextDelta {
			assistant.WriteString(ev.Delta)
		}
		for _, chunk := range converter.Process(ctx, ev) {
			if !forward(chunk) {
				return
			}
		}
	}

	// A well-formed runtime stream ends with a completion or an error event.
	// Anything else leaves the converter active and the client unterminated.
	if converter.Active() {
		synthetic := runtime.NewError(errors.New("runtime stream ended unexpectedly"))
		for _, chunk := range converter.Process(ctx, synthetic) {
			if !forward(chunk) {
				return
			}
		}
	}

	if failed {
		sess.State().Discard()
	} else {
		if text := assistant.String(); text != "" {
			sess.AddMessage(protocol.Message{
				ID:      uuid.Must(uuid.NewV7()).String(),
				Role:    protocol.RoleAssistant,
				Content: text,
			})
		}
		sess.State().Commit()
	}

	if finishReason != "" {
		r.instruments.TurnCompleted(finishReason, time.Since(start).Seconds())
	}
	r.observer.OnEvent(ctx, observability.Event{
		Type:      EventTurnComplete,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "relay.pump",
		Session:   sess.ID(),
		Data: map[string]any{
			"message_id":    converter.MessageID(),
			"finish_reason": finishReason,
			"failed":        failed,
			"duration_ms":   time.Since(start).Milliseconds(),
		},
	})
}
