package relay_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tailored-agentic-units/relay/approval"
	"github.com/tailored-agentic-units/relay/observability"
	"github.com/tailored-agentic-units/relay/protocol"
	"github.com/tailored-agentic-units/relay/relay"
	"github.com/tailored-agentic-units/relay/runtime"
	"github.com/tailored-agentic-units/relay/session"
	"github.com/tailored-agentic-units/relay/tools"
)

func textScript() []runtime.Event {
	return []runtime.Event{
		runtime.NewTextDelta("Hello", false),
		runtime.NewTextDelta(" world", false),
		runtime.NewTextDelta("", true),
		runtime.NewUsage(10, 25),
		runtime.NewTurnComplete("stop"),
	}
}

func newSession(t *testing.T, r *relay.Relay, subject string) *session.Session {
	t.Helper()
	sess, _, err := r.Store().GetOrCreate(context.Background(), subject, "")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	return sess
}

func drain(t *testing.T, stream *protocol.ChunkStream) []protocol.Chunk {
	t.Helper()
	done := make(chan []protocol.Chunk, 1)
	go func() {
		var chunks []protocol.Chunk
		for chunk := range stream.Chunks() {
			chunks = append(chunks, chunk)
		}
		done <- chunks
	}()

	select {
	case chunks := <-done:
		return chunks
	case <-time.After(5 * time.Second):
		t.Fatal("timed out draining chunk stream")
		return nil
	}
}

func chunkTypes(chunks []protocol.Chunk) []protocol.ChunkType {
	types := make([]protocol.ChunkType, len(chunks))
	for i, chunk := range chunks {
		types[i] = chunk.Type
	}
	return types
}

func assertTypes(t *testing.T, chunks []protocol.Chunk, want ...protocol.ChunkType) {
	t.Helper()
	got := chunkTypes(chunks)
	if len(got) != len(want) {
		t.Fatalf("chunk types = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("chunk %d type = %v, want %v (full sequence %v)", i, got[i], want[i], got)
		}
	}
}

type eventRecorder struct {
	mu     sync.Mutex
	events []observability.Event
}

func (r *eventRecorder) OnEvent(ctx context.Context, event observability.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) countType(eventType observability.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, ev := range r.events {
		if ev.Type == eventType {
			count++
		}
	}
	return count
}

// captureRuntime records every Run request before replaying a fixed script.
type captureRuntime struct {
	script []runtime.Event

	mu       sync.Mutex
	requests []runtime.Request
}

func (c *captureRuntime) Run(ctx context.Context, req runtime.Request) (<-chan runtime.Event, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()

	events := make(chan runtime.Event, len(c.script)+1)
	for _, ev := range c.script {
		events <- ev
	}
	close(events)
	return events, nil
}

func (c *captureRuntime) Resume(context.Context, string, json.RawMessage) error {
	return nil
}

func (c *captureRuntime) lastRequest(t *testing.T) runtime.Request {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.requests) == 0 {
		t.Fatal("runtime received no requests")
	}
	return c.requests[len(c.requests)-1]
}

type failingRuntime struct{}

func (failingRuntime) Run(context.Context, runtime.Request) (<-chan runtime.Event, error) {
	return nil, errors.New("boom")
}

func (failingRuntime) Resume(context.Context, string, json.RawMessage) error {
	return nil
}

func TestNew_RequiresRuntime(t *testing.T) {
	_, err := relay.New()
	if !errors.Is(err, relay.ErrNoRuntime) {
		t.Fatalf("got error %v, want ErrNoRuntime", err)
	}
}

func TestHandleTurn_Validation(t *testing.T) {
	r, err := relay.New(relay.WithRuntime(runtime.NewScripted(textScript())))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	sess := newSession(t, r, "validator")

	if _, err := r.HandleTurn(context.Background(), nil, "hi", nil); !errors.Is(err, relay.ErrNilSession) {
		t.Errorf("nil session: got %v, want ErrNilSession", err)
	}
	if _, err := r.HandleTurn(context.Background(), sess, "", nil); !errors.Is(err, relay.ErrEmptyMessage) {
		t.Errorf("empty message: got %v, want ErrEmptyMessage", err)
	}
	if _, err := r.HandleTurn(context.Background(), sess, "   ", nil); !errors.Is(err, relay.ErrEmptyMessage) {
		t.Errorf("blank message: got %v, want ErrEmptyMessage", err)
	}
}

func TestHandleTurn_TextTurn(t *testing.T) {
	r, err := relay.New(relay.WithRuntime(runtime.NewScripted(textScript())))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	sess := newSession(t, r, "alice")

	stream, err := r.HandleTurn(context.Background(), sess, "say hello", nil)
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}

	chunks := drain(t, stream)
	assertTypes(t, chunks,
		protocol.ChunkStart,
		protocol.ChunkTextStart,
		protocol.ChunkTextDelta,
		protocol.ChunkTextDelta,
		protocol.ChunkTextEnd,
		protocol.ChunkFinish,
		protocol.ChunkTerminate,
	)

	messages := sess.Messages()
	if len(messages) != 2 {
		t.Fatalf("session messages = %d, want 2 (user + assistant)", len(messages))
	}
	if messages[0].Role != protocol.RoleUser || messages[0].Content != "say hello" {
		t.Errorf("user record = %+v", messages[0])
	}
	if messages[1].Role != protocol.RoleAssistant || messages[1].Content != "Hello world" {
		t.Errorf("assistant record = %+v", messages[1])
	}
	if messages[0].ID == "" || messages[0].ID == messages[1].ID {
		t.Errorf("record ids = %q, %q, want distinct non-empty", messages[0].ID, messages[1].ID)
	}
	if sess.State().InTurn() {
		t.Error("turn overlay still open after completion")
	}
}

func TestHandleTurn_CapturesRequest(t *testing.T) {
	rt := &captureRuntime{script: textScript()}
	r, err := relay.New(relay.WithRuntime(rt))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	sess := newSession(t, r, "bob")

	history := []protocol.Message{
		{ID: "client-1", Role: protocol.RoleUser, Content: "first question"},
		{ID: "client-2", Role: protocol.RoleAssistant, Content: "first answer"},
		{ID: "client-3", Role: protocol.RoleUser, Content: "next question"},
	}

	stream, err := r.HandleTurn(context.Background(), sess, "next question", history)
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}
	drain(t, stream)

	req := rt.lastRequest(t)
	if req.SessionID != sess.ID() {
		t.Errorf("request session = %q, want %q", req.SessionID, sess.ID())
	}
	if req.Subject != "bob" {
		t.Errorf("request subject = %q, want bob", req.Subject)
	}
	if req.Message != "next question" {
		t.Errorf("request message = %q", req.Message)
	}

	// The prompt itself is never replayed; the runtime sees the two absorbed
	// records with deterministic replay ids.
	if len(req.History) != 2 {
		t.Fatalf("request history = %d messages, want 2", len(req.History))
	}
	if req.History[0].ID != session.ReplayMessageID(0, "user") {
		t.Errorf("history[0] id = %q, want %q", req.History[0].ID, session.ReplayMessageID(0, "user"))
	}
	if req.History[1].ID != session.ReplayMessageID(1, "assistant") {
		t.Errorf("history[1] id = %q, want %q", req.History[1].ID, session.ReplayMessageID(1, "assistant"))
	}
	if got := sess.ReplayedCount(); got != 2 {
		t.Errorf("replayed count = %d, want 2", got)
	}
}

func TestHandleTurn_ReplayRegressionIgnored(t *testing.T) {
	recorder := &eventRecorder{}
	rt := &captureRuntime{script: textScript()}
	r, err := relay.New(relay.WithRuntime(rt), relay.WithObserver(recorder))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	sess := newSession(t, r, "carol")

	long := []protocol.Message{
		{Role: protocol.RoleUser, Content: "one"},
		{Role: protocol.RoleAssistant, Content: "two"},
		{Role: protocol.RoleUser, Content: "three"},
	}
	stream, err := r.HandleTurn(context.Background(), sess, "three", long)
	if err != nil {
		t.Fatalf("first HandleTurn failed: %v", err)
	}
	drain(t, stream)

	// A shorter history is an invariant violation: logged, never applied, and
	// the turn still runs.
	short := []protocol.Message{{Role: protocol.RoleUser, Content: "four"}}
	stream, err = r.HandleTurn(context.Background(), sess, "four", short)
	if err != nil {
		t.Fatalf("second HandleTurn failed: %v", err)
	}
	chunks := drain(t, stream)

	if len(chunks) == 0 || chunks[len(chunks)-1].Type != protocol.ChunkTerminate {
		t.Errorf("regressed-history turn did not stream to completion: %v", chunkTypes(chunks))
	}
	if got := recorder.countType(relay.EventReplayRejected); got != 1 {
		t.Errorf("replay rejections logged = %d, want 1", got)
	}
	if got := sess.ReplayedCount(); got != 2 {
		t.Errorf("replayed count = %d, want 2 (regression never applied)", got)
	}
}

func TestHandleTurn_RuntimeStartFailure(t *testing.T) {
	r, err := relay.New(relay.WithRuntime(failingRuntime{}))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	sess := newSession(t, r, "dave")

	_, err = r.HandleTurn(context.Background(), sess, "hi", nil)
	if err == nil || !strings.Contains(err.Error(), "runtime start failed") {
		t.Fatalf("got error %v, want runtime start failure", err)
	}
	if sess.State().InTurn() {
		t.Error("turn overlay left open after start failure")
	}
}

func TestHandleTurn_FatalErrorDiscardsTurn(t *testing.T) {
	script := []runtime.Event{
		runtime.NewTextDelta("partial", false),
		runtime.NewError(errors.New("upstream connection reset")),
	}
	r, err := relay.New(relay.WithRuntime(runtime.NewScripted(script)))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	sess := newSession(t, r, "erin")

	stream, err := r.HandleTurn(context.Background(), sess, "hi", nil)
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}
	chunks := drain(t, stream)

	last := chunks[len(chunks)-2:]
	assertTypes(t, last, protocol.ChunkError, protocol.ChunkTerminate)

	messages := sess.Messages()
	if len(messages) != 1 || messages[0].Role != protocol.RoleUser {
		t.Errorf("failed turn recorded %d messages, want only the user record", len(messages))
	}
	if sess.State().InTurn() {
		t.Error("turn overlay still open after fatal error")
	}
}

func TestHandleTurn_TruncatedStreamSynthesizesError(t *testing.T) {
	script := []runtime.Event{runtime.NewTextDelta("hi", false)}
	r, err := relay.New(relay.WithRuntime(runtime.NewScripted(script)))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	sess := newSession(t, r, "frank")

	stream, err := r.HandleTurn(context.Background(), sess, "hi", nil)
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}
	chunks := drain(t, stream)

	last := chunks[len(chunks)-2:]
	assertTypes(t, last, protocol.ChunkError, protocol.ChunkTerminate)
	if !strings.Contains(last[0].ErrorText, "ended unexpectedly") {
		t.Errorf("error text = %q", last[0].ErrorText)
	}
	if got := sess.Len(); got != 1 {
		t.Errorf("session messages = %d, want only the user record", got)
	}
}

func TestHandleTurn_SequentialTurns(t *testing.T) {
	r, err := relay.New(relay.WithRuntime(runtime.NewScripted(textScript())))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	sess := newSession(t, r, "grace")

	first := drain(t, mustTurn(t, r, sess, "one"))
	second := drain(t, mustTurn(t, r, sess, "two"))

	if first[0].MessageID == second[0].MessageID {
		t.Error("two turns share a message id")
	}
	if got := sess.Len(); got != 4 {
		t.Errorf("session messages = %d, want 4 after two turns", got)
	}
}

func mustTurn(t *testing.T, r *relay.Relay, sess *session.Session, message string) *protocol.ChunkStream {
	t.Helper()
	stream, err := r.HandleTurn(context.Background(), sess, message, nil)
	if err != nil {
		t.Fatalf("HandleTurn(%q) failed: %v", message, err)
	}
	return stream
}

func TestHandleTurn_ApprovalGatedTool(t *testing.T) {
	registry := tools.NewRegistry()
	var ran atomic.Bool
	err := registry.Register(
		protocol.Tool{Name: "run_command", Description: "Run a shell command"},
		func(ctx context.Context, args json.RawMessage) (tools.Result, error) {
			ran.Store(true)
			return tools.Result{Content: `{"stdout":"ok"}`}, nil
		},
	)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	approvals := approval.New(approval.Config{ExecutionTimeout: 2 * time.Second})
	executor := tools.NewExecutor(registry, approvals, tools.NewGate("run_command"))

	script := []runtime.Event{
		runtime.NewToolCallAnnounced("call-1", "run_command"),
		runtime.NewToolCallReady("call-1", "run_command", json.RawMessage(`{"command":"ls"}`)),
		runtime.NewTurnComplete("stop"),
	}
	rt := runtime.NewScripted(script, runtime.WithToolHook(
		func(ctx context.Context, ev runtime.Event, emit func(runtime.Event)) {
			call := protocol.ToolCall{ID: ev.ToolCallID, Name: ev.ToolName, Arguments: string(ev.Arguments)}
			emit(executor.Execute(ctx, "gated-session", call, emit))
		},
	))

	r, err := relay.New(
		relay.WithRuntime(rt),
		relay.WithApprovals(approvals),
		relay.WithExecutor(executor),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	sess := newSession(t, r, "heidi")

	// Approve as soon as the request surfaces, standing in for the operator.
	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if pending := approvals.Pending(); len(pending) > 0 {
				approvals.Resolve(context.Background(), pending[0].ID, true)
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	stream, err := r.HandleTurn(context.Background(), sess, "please run ls", nil)
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}
	chunks := drain(t, stream)

	assertTypes(t, chunks,
		protocol.ChunkStart,
		protocol.ChunkToolInputStart,
		protocol.ChunkToolInputAvailable,
		protocol.ChunkApprovalRequest,
		protocol.ChunkToolOutputAvailable,
		protocol.ChunkFinish,
		protocol.ChunkTerminate,
	)

	request := chunks[3]
	if request.ToolCallID != "call-1" {
		t.Errorf("approval toolCallId = %q, want call-1", request.ToolCallID)
	}
	if request.ApprovalID == "" {
		t.Error("approval request carries no approval id")
	}
	if string(chunks[4].Output) != `{"stdout":"ok"}` {
		t.Errorf("tool output = %s", chunks[4].Output)
	}
	if !ran.Load() {
		t.Error("approved tool never executed")
	}
	for i, chunk := range chunks {
		if chunk.ToolName == runtime.ConfirmationToolName {
			t.Errorf("chunk %d names the confirmation tool", i)
		}
	}
}

func TestHandleTurn_AbandonedWhenClientGone(t *testing.T) {
	// A tiny buffer plus an undrained stream forces the pump to block on Send
	// until the context dies.
	script := []runtime.Event{
		runtime.NewTextDelta("one", false),
		runtime.NewTextDelta("two", false),
		runtime.NewTextDelta("three", false),
		runtime.NewTextDelta("", true),
		runtime.NewTurnComplete("stop"),
	}
	recorder := &eventRecorder{}
	r, err := relay.New(
		relay.WithRuntime(runtime.NewScripted(script)),
		relay.WithObserver(recorder),
		relay.WithConfig(relay.Config{StreamBuffer: 1}),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	sess := newSession(t, r, "ivan")

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := r.HandleTurn(ctx, sess, "hi", nil)
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for !stream.IsClosed() {
		if time.Now().After(deadline) {
			t.Fatal("stream not closed after context cancellation")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if got := recorder.countType(relay.EventTurnAbandoned); got != 1 {
		t.Errorf("abandoned events logged = %d, want 1", got)
	}
	if sess.State().InTurn() {
		t.Error("turn overlay still open after abandonment")
	}
}
