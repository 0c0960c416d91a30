package runtime

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"
)

// ToolHook is invoked by the Scripted runtime when the script reaches a
// ready tool call for anything other than the confirmation tool. The hook
// may inject follow-up events (confirmation calls, tool results) through
// emit; they appear on the stream directly after the triggering event.
type ToolHook func(ctx context.Context, ev Event, emit func(Event))

// ScriptedOption configures a Scripted runtime.
type ScriptedOption func(*Scripted)

// WithDelay spaces script events by d, approximating a live stream.
func WithDelay(d time.Duration) ScriptedOption {
	return func(s *Scripted) { s.delay = d }
}

// WithToolHook installs the hook that executes ready tool calls.
func WithToolHook(hook ToolHook) ScriptedOption {
	return func(s *Scripted) { s.hook = hook }
}

// ResumeCall records one Resume invocation on a Scripted runtime.
type ResumeCall struct {
	ToolCallID string
	Result     json.RawMessage
}

// Scripted is a Runtime that replays a fixed event script. Every Run yields
// the same stream, making converter and transport behavior reproducible in
// tests and in demo mode.
type Scripted struct {
	script []Event
	delay  time.Duration
	hook   ToolHook

	mu      sync.Mutex
	resumed []ResumeCall
}

// NewScripted creates a Scripted runtime that replays script on each Run.
func NewScripted(script []Event, opts ...ScriptedOption) *Scripted {
	s := &Scripted{script: slices.Clone(script)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run replays the script. The returned channel closes when the script is
// exhausted or ctx is cancelled.
func (s *Scripted) Run(ctx context.Context, req Request) (<-chan Event, error) {
	events := make(chan Event, 16)

	go func() {
		defer close(events)

		send := func(ev Event) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for _, ev := range s.script {
			if s.delay > 0 {
				select {
				case <-time.After(s.delay):
				case <-ctx.Done():
					return
				}
			}

			if !send(ev) {
				return
			}

			if ev.Kind == KindToolCallReady && ev.ToolName != ConfirmationToolName && s.hook != nil {
				s.hook(ctx, ev, func(extra Event) { send(extra) })
			}
		}
	}()

	return events, nil
}

// Resume records the injected result for later inspection.
func (s *Scripted) Resume(ctx context.Context, toolCallID string, result json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resumed = append(s.resumed, ResumeCall{
		ToolCallID: toolCallID,
		Result:     append(json.RawMessage(nil), result...),
	})
	return nil
}

// Resumed returns a copy of all recorded Resume calls.
func (s *Scripted) Resumed() []ResumeCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.resumed)
}
