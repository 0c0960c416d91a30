package runtime_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/tailored-agentic-units/relay/runtime"
)

func TestEventKind_String(t *testing.T) {
	tests := []struct {
		kind runtime.EventKind
		want string
	}{
		{runtime.KindTextDelta, "text_delta"},
		{runtime.KindTranscriptionDelta, "transcription_delta"},
		{runtime.KindToolCallAnnounced, "tool_call_announced"},
		{runtime.KindToolCallReady, "tool_call_ready"},
		{runtime.KindToolResult, "tool_result"},
		{runtime.KindTurnComplete, "turn_complete"},
		{runtime.KindUsage, "usage"},
		{runtime.KindError, "error"},
		{runtime.KindUnknown, "unknown"},
		{runtime.EventKind(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("EventKind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestParseConfirmationRequest(t *testing.T) {
	args := json.RawMessage(`{
		"originalCallId": "call-1",
		"toolName": "run_command",
		"hint": "run: ls -la",
		"payload": {"command": "ls -la"}
	}`)

	req, err := runtime.ParseConfirmationRequest(args)
	if err != nil {
		t.Fatalf("ParseConfirmationRequest() error = %v", err)
	}
	if req.OriginalCallID != "call-1" {
		t.Errorf("OriginalCallID = %q, want call-1", req.OriginalCallID)
	}
	if req.ToolName != "run_command" {
		t.Errorf("ToolName = %q, want run_command", req.ToolName)
	}
	if req.Hint != "run: ls -la" {
		t.Errorf("Hint = %q", req.Hint)
	}
}

func TestParseConfirmationRequest_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args string
	}{
		{"missing original id", `{"toolName": "run_command"}`},
		{"empty original id", `{"originalCallId": "", "toolName": "x"}`},
		{"malformed json", `{"originalCallId": `},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runtime.ParseConfirmationRequest(json.RawMessage(tt.args))
			if !errors.Is(err, runtime.ErrInvalidConfirmation) {
				t.Errorf("ParseConfirmationRequest() error = %v, want ErrInvalidConfirmation", err)
			}
		})
	}
}

func collectEvents(t *testing.T, events <-chan runtime.Event) []runtime.Event {
	t.Helper()
	var collected []runtime.Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return collected
			}
			collected = append(collected, ev)
		case <-timeout:
			t.Fatalf("timeout draining event stream; got %d events", len(collected))
		}
	}
}

func TestScripted_ReplaysScript(t *testing.T) {
	script := []runtime.Event{
		runtime.NewTextDelta("Hello", false),
		runtime.NewTextDelta(" world", true),
		runtime.NewUsage(10, 5),
		runtime.NewTurnComplete("stop"),
	}
	rt := runtime.NewScripted(script)

	events, err := rt.Run(context.Background(), runtime.Request{Message: "hi"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got := collectEvents(t, events)
	if len(got) != len(script) {
		t.Fatalf("stream produced %d events, want %d", len(got), len(script))
	}
	for i := range script {
		if got[i].Kind != script[i].Kind {
			t.Errorf("event %d kind = %v, want %v", i, got[i].Kind, script[i].Kind)
		}
	}
	if got[0].Delta != "Hello" {
		t.Errorf("event 0 delta = %q, want Hello", got[0].Delta)
	}
}

func TestScripted_RepeatedRuns(t *testing.T) {
	rt := runtime.NewScripted([]runtime.Event{
		runtime.NewTextDelta("again", true),
		runtime.NewTurnComplete("stop"),
	})

	for i := 0; i < 3; i++ {
		events, err := rt.Run(context.Background(), runtime.Request{Message: "hi"})
		if err != nil {
			t.Fatalf("Run() #%d error = %v", i, err)
		}
		if got := collectEvents(t, events); len(got) != 2 {
			t.Errorf("Run() #%d produced %d events, want 2", i, len(got))
		}
	}
}

func TestScripted_ContextCancel(t *testing.T) {
	script := make([]runtime.Event, 100)
	for i := range script {
		script[i] = runtime.NewTextDelta("x", false)
	}
	rt := runtime.NewScripted(script, runtime.WithDelay(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	events, err := rt.Run(ctx, runtime.Request{Message: "hi"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	<-events
	cancel()

	// The channel must close promptly instead of replaying all 100 events.
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream did not close after context cancellation")
		}
	}
}

func TestScripted_ToolHook(t *testing.T) {
	script := []runtime.Event{
		runtime.NewToolCallAnnounced("call-1", "echo"),
		runtime.NewToolCallReady("call-1", "echo", json.RawMessage(`{"text":"hi"}`)),
		runtime.NewTurnComplete("stop"),
	}

	hook := func(ctx context.Context, ev runtime.Event, emit func(runtime.Event)) {
		emit(runtime.NewToolResult(ev.ToolCallID, json.RawMessage(`{"echoed":"hi"}`)))
	}
	rt := runtime.NewScripted(script, runtime.WithToolHook(hook))

	events, err := rt.Run(context.Background(), runtime.Request{Message: "hi"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got := collectEvents(t, events)
	kinds := make([]runtime.EventKind, len(got))
	for i, ev := range got {
		kinds[i] = ev.Kind
	}

	want := []runtime.EventKind{
		runtime.KindToolCallAnnounced,
		runtime.KindToolCallReady,
		runtime.KindToolResult,
		runtime.KindTurnComplete,
	}
	if len(kinds) != len(want) {
		t.Fatalf("event kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("event %d kind = %v, want %v", i, kinds[i], want[i])
		}
	}
	if string(got[2].Result) != `{"echoed":"hi"}` {
		t.Errorf("hook result = %s", got[2].Result)
	}
}

func TestScripted_HookSkipsConfirmationTool(t *testing.T) {
	called := false
	script := []runtime.Event{
		runtime.NewToolCallReady("confirm-1", runtime.ConfirmationToolName, json.RawMessage(`{}`)),
		runtime.NewTurnComplete("stop"),
	}
	rt := runtime.NewScripted(script, runtime.WithToolHook(
		func(ctx context.Context, ev runtime.Event, emit func(runtime.Event)) {
			called = true
		},
	))

	events, _ := rt.Run(context.Background(), runtime.Request{Message: "hi"})
	collectEvents(t, events)

	if called {
		t.Error("hook ran for the confirmation tool")
	}
}

func TestScripted_RecordsResume(t *testing.T) {
	rt := runtime.NewScripted(nil)

	if err := rt.Resume(context.Background(), "call-1", json.RawMessage(`{"ok":true}`)); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}

	resumed := rt.Resumed()
	if len(resumed) != 1 {
		t.Fatalf("Resumed() returned %d calls, want 1", len(resumed))
	}
	if resumed[0].ToolCallID != "call-1" {
		t.Errorf("resumed call id = %q, want call-1", resumed[0].ToolCallID)
	}
	if string(resumed[0].Result) != `{"ok":true}` {
		t.Errorf("resumed result = %s", resumed[0].Result)
	}
}
