// Package convert turns runtime event streams into ordered protocol chunks.
// One Converter serves one processing context at a time; it holds no locks
// and is not safe for concurrent use.
package convert

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/tailored-agentic-units/relay/observability"
	"github.com/tailored-agentic-units/relay/protocol"
	"github.com/tailored-agentic-units/relay/runtime"
)

// Channel discriminators for text block identifiers. A block id is always
// the turn message id joined with one of these, never derived from any
// single event.
const (
	ChannelText          = "text"
	ChannelTranscriptIn  = "transcript-in"
	ChannelTranscriptOut = "transcript-out"
)

type state int

const (
	stateIdle state = iota
	stateActive
)

// Option configures a Converter.
type Option func(*Converter)

// WithObserver overrides the default NoOpObserver.
func WithObserver(o observability.Observer) Option {
	return func(c *Converter) { c.observer = o }
}

// WithSession tags the converter's observer events with a session id.
func WithSession(id string) Option {
	return func(c *Converter) { c.sessionID = id }
}

// Converter is the protocol state machine for one turn at a time. It assigns
// the turn message id on the first event of a turn, tracks open text blocks
// per channel, folds the internal confirmation tool into approval requests,
// and guarantees exactly one terminator per Active-to-Idle transition.
type Converter struct {
	state     state
	messageID string
	sessionID string

	openBlocks map[string]bool
	gated      map[string]bool
	held       bool
	heldReason string

	inputTokens  int64
	outputTokens int64
	sawUsage     bool

	observer observability.Observer
}

// New creates an idle Converter.
func New(opts ...Option) *Converter {
	c := &Converter{
		observer: observability.NoOpObserver{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MessageID returns the message id of the current (or most recent) turn.
// Empty before the first turn starts.
func (c *Converter) MessageID() string {
	return c.messageID
}

// Active reports whether a turn is open.
func (c *Converter) Active() bool {
	return c.state == stateActive
}

// BlockID returns the text block id for a channel within the current turn.
func (c *Converter) BlockID(channel string) string {
	return c.messageID + "-" + channel
}

// Process converts one runtime event into zero or more protocol chunks.
// Unrecognized kinds produce nothing; events that cannot start a turn are
// dropped with a log entry while Idle.
func (c *Converter) Process(ctx context.Context, ev runtime.Event) []protocol.Chunk {
	if ev.Kind == runtime.KindUnknown {
		return nil
	}

	if c.state == stateIdle {
		if !startsTurn(ev.Kind) {
			c.drop(ctx, ev)
			return nil
		}
		c.begin(ctx)
		chunks := []protocol.Chunk{protocol.NewStart(c.messageID)}
		return append(chunks, c.dispatch(ctx, ev)...)
	}

	return c.dispatch(ctx, ev)
}

// startsTurn reports whether an event kind may open a turn from Idle.
// Results, usage, and completions for a turn that already closed are
// invariant violations, not new turns.
func startsTurn(kind runtime.EventKind) bool {
	switch kind {
	case runtime.KindTextDelta,
		runtime.KindTranscriptionDelta,
		runtime.KindToolCallAnnounced,
		runtime.KindToolCallReady,
		runtime.KindError:
		return true
	default:
		return false
	}
}

func (c *Converter) dispatch(ctx context.Context, ev runtime.Event) []protocol.Chunk {
	switch ev.Kind {
	case runtime.KindTextDelta:
		return c.textDelta(ChannelText, ev)

	case runtime.KindTranscriptionDelta:
		channel := ChannelTranscriptOut
		if ev.Source == runtime.SourceInput {
			channel = ChannelTranscriptIn
		}
		return c.textDelta(channel, ev)

	case runtime.KindToolCallAnnounced:
		if ev.ToolName == runtime.ConfirmationToolName {
			return nil
		}
		return []protocol.Chunk{protocol.NewToolInputStart(ev.ToolCallID, ev.ToolName)}

	case runtime.KindToolCallReady:
		if ev.ToolName == runtime.ConfirmationToolName {
			return c.confirmationReady(ctx, ev)
		}
		return []protocol.Chunk{protocol.NewToolInputAvailable(ev.ToolCallID, ev.ToolName, ev.Arguments)}

	case runtime.KindToolResult:
		return c.toolResult(ev)

	case runtime.KindUsage:
		c.inputTokens += ev.InputTokens
		c.outputTokens += ev.OutputTokens
		c.sawUsage = true
		return nil

	case runtime.KindTurnComplete:
		return c.turnComplete(ctx, ev)

	case runtime.KindError:
		return c.fatal(ctx, ev)

	default:
		return nil
	}
}

// textDelta streams a delta into the channel's block, opening it on first
// use. The done flag closes the block; the block id stays a pure function of
// the message id and channel, so a channel that resumes after closing reuses
// its id.
func (c *Converter) textDelta(channel string, ev runtime.Event) []protocol.Chunk {
	blockID := c.BlockID(channel)
	var chunks []protocol.Chunk

	if ev.Delta != "" {
		if !c.openBlocks[channel] {
			c.openBlocks[channel] = true
			chunks = append(chunks, protocol.NewTextStart(blockID))
		}
		chunks = append(chunks, protocol.NewTextDelta(blockID, ev.Delta))
	}

	if ev.Done && c.openBlocks[channel] {
		delete(c.openBlocks, channel)
		chunks = append(chunks, protocol.NewTextEnd(blockID))
	}

	return chunks
}

// confirmationReady folds a confirmation tool call into a single approval
// request addressed at the original tool call. The confirmation tool itself
// never surfaces in tool-input chunks.
func (c *Converter) confirmationReady(ctx context.Context, ev runtime.Event) []protocol.Chunk {
	req, err := runtime.ParseConfirmationRequest(ev.Arguments)
	if err != nil {
		c.observer.OnEvent(ctx, observability.Event{
			Type:      EventConfirmationInvalid,
			Level:     observability.LevelWarning,
			Timestamp: time.Now(),
			Source:    "convert.Converter",
			Session:   c.sessionID,
			Data: map[string]any{
				"tool_call_id": ev.ToolCallID,
				"error":        err.Error(),
			},
		})
		return nil
	}

	c.gated[req.OriginalCallID] = true
	return []protocol.Chunk{protocol.NewApprovalRequest(req.OriginalCallID, ev.ToolCallID, ev.Arguments)}
}

func (c *Converter) toolResult(ev runtime.Event) []protocol.Chunk {
	delete(c.gated, ev.ToolCallID)

	if ev.IsError {
		return []protocol.Chunk{protocol.NewToolOutputError(ev.ToolCallID, ev.ErrorText)}
	}
	return []protocol.Chunk{protocol.NewToolOutputAvailable(ev.ToolCallID, ev.Result)}
}

// turnComplete finishes the turn unless an approval-gated call still lacks
// its output, in which case the completion is held and the next completion
// after that output lands closes the turn.
func (c *Converter) turnComplete(ctx context.Context, ev runtime.Event) []protocol.Chunk {
	if len(c.gated) > 0 {
		c.held = true
		if ev.FinishReason != "" {
			c.heldReason = ev.FinishReason
		}
		c.observer.OnEvent(ctx, observability.Event{
			Type:      EventFinishHeld,
			Level:     observability.LevelInfo,
			Timestamp: time.Now(),
			Source:    "convert.Converter",
			Session:   c.sessionID,
			Data: map[string]any{
				"message_id":    c.messageID,
				"awaiting_gate": len(c.gated),
			},
		})
		return nil
	}

	return c.finish(ctx, ev.FinishReason)
}

func (c *Converter) finish(ctx context.Context, reason string) []protocol.Chunk {
	chunks := c.closeOpenBlocks()

	if reason == "" {
		reason = c.heldReason
	}
	if reason == "" {
		reason = protocol.FinishReasonStop
	}

	chunks = append(chunks,
		protocol.NewFinish(reason, c.usageMetadata()),
		protocol.Terminator(),
	)

	c.observer.OnEvent(ctx, observability.Event{
		Type:      EventTurnClosed,
		Level:     observability.LevelVerbose,
		Timestamp: time.Now(),
		Source:    "convert.Converter",
		Session:   c.sessionID,
		Data: map[string]any{
			"message_id":    c.messageID,
			"finish_reason": reason,
			"was_held":      c.held,
		},
	})

	c.state = stateIdle
	return chunks
}

func (c *Converter) fatal(ctx context.Context, ev runtime.Event) []protocol.Chunk {
	errText := "stream error"
	if ev.Err != nil {
		errText = ev.Err.Error()
	}

	c.observer.OnEvent(ctx, observability.Event{
		Type:      EventTurnClosed,
		Level:     observability.LevelError,
		Timestamp: time.Now(),
		Source:    "convert.Converter",
		Session:   c.sessionID,
		Data: map[string]any{
			"message_id": c.messageID,
			"error":      errText,
		},
	})

	c.state = stateIdle
	return []protocol.Chunk{protocol.NewError(errText), protocol.Terminator()}
}

func (c *Converter) closeOpenBlocks() []protocol.Chunk {
	var chunks []protocol.Chunk
	for _, channel := range []string{ChannelText, ChannelTranscriptIn, ChannelTranscriptOut} {
		if c.openBlocks[channel] {
			delete(c.openBlocks, channel)
			chunks = append(chunks, protocol.NewTextEnd(c.BlockID(channel)))
		}
	}
	return chunks
}

func (c *Converter) usageMetadata() json.RawMessage {
	if !c.sawUsage {
		return nil
	}
	metadata, err := json.Marshal(map[string]any{
		"usage": map[string]int64{
			"inputTokens":  c.inputTokens,
			"outputTokens": c.outputTokens,
			"totalTokens":  c.inputTokens + c.outputTokens,
		},
	})
	if err != nil {
		return nil
	}
	return metadata
}

func (c *Converter) begin(ctx context.Context) {
	c.messageID = uuid.Must(uuid.NewV7()).String()
	c.state = stateActive
	c.openBlocks = make(map[string]bool)
	c.gated = make(map[string]bool)
	c.held = false
	c.heldReason = ""
	c.inputTokens = 0
	c.outputTokens = 0
	c.sawUsage = false

	c.observer.OnEvent(ctx, observability.Event{
		Type:      EventTurnOpen,
		Level:     observability.LevelVerbose,
		Timestamp: time.Now(),
		Source:    "convert.Converter",
		Session:   c.sessionID,
		Data:      map[string]any{"message_id": c.messageID},
	})
}

func (c *Converter) drop(ctx context.Context, ev runtime.Event) {
	c.observer.OnEvent(ctx, observability.Event{
		Type:      EventDropped,
		Level:     observability.LevelWarning,
		Timestamp: time.Now(),
		Source:    "convert.Converter",
		Session:   c.sessionID,
		Data:      map[string]any{"kind": ev.Kind.String()},
	})
}
