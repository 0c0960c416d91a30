package observability_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tailored-agentic-units/relay/observability"
)

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level observability.Level
		want  string
	}{
		{observability.LevelVerbose, "VERBOSE"},
		{observability.LevelInfo, "INFO"},
		{observability.LevelWarning, "WARNING"},
		{observability.LevelError, "ERROR"},
		{observability.Level(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("Level(%d).String() = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestLevel_SlogLevel(t *testing.T) {
	tests := []struct {
		level observability.Level
		want  slog.Level
	}{
		{observability.LevelVerbose, slog.LevelDebug},
		{observability.LevelInfo, slog.LevelInfo},
		{observability.LevelWarning, slog.LevelWarn},
		{observability.LevelError, slog.LevelError},
	}

	for _, tt := range tests {
		if got := tt.level.SlogLevel(); got != tt.want {
			t.Errorf("Level(%d).SlogLevel() = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func newBufferedSlogObserver(min observability.Level) (*observability.SlogObserver, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	return observability.NewSlogObserverWithLevel(logger, min), &buf
}

func TestSlogObserver_EmitsEvent(t *testing.T) {
	obs, buf := newBufferedSlogObserver(observability.LevelVerbose)

	obs.OnEvent(context.Background(), observability.Event{
		Type:      "relay.turn.start",
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "relay",
		Session:   "sess-1",
		Data:      map[string]any{"message_id": "msg-1"},
	})

	out := buf.String()
	for _, want := range []string{"relay.turn.start", "source=relay", "session=sess-1", "message_id=msg-1"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestSlogObserver_FiltersBelowMinimum(t *testing.T) {
	obs, buf := newBufferedSlogObserver(observability.LevelWarning)

	obs.OnEvent(context.Background(), observability.Event{
		Type:  "relay.chunk.emitted",
		Level: observability.LevelVerbose,
	})
	obs.OnEvent(context.Background(), observability.Event{
		Type:  "relay.turn.error",
		Level: observability.LevelError,
	})

	out := buf.String()
	if strings.Contains(out, "relay.chunk.emitted") {
		t.Errorf("verbose event emitted despite WARNING floor:\n%s", out)
	}
	if !strings.Contains(out, "relay.turn.error") {
		t.Errorf("error event missing despite WARNING floor:\n%s", out)
	}
}

func TestSlogObserver_OmitsEmptySession(t *testing.T) {
	obs, buf := newBufferedSlogObserver(observability.LevelVerbose)

	obs.OnEvent(context.Background(), observability.Event{
		Type:  "relay.start",
		Level: observability.LevelInfo,
	})

	if strings.Contains(buf.String(), "session=") {
		t.Errorf("session attribute present for sessionless event:\n%s", buf.String())
	}
}

type recordingObserver struct {
	mu     sync.Mutex
	events []observability.Event
}

func (r *recordingObserver) OnEvent(ctx context.Context, event observability.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingObserver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestMultiObserver_FansOut(t *testing.T) {
	first := &recordingObserver{}
	second := &recordingObserver{}

	multi := observability.NewMultiObserver(first, nil, second)
	multi.OnEvent(context.Background(), observability.Event{Type: "relay.turn.start"})
	multi.OnEvent(context.Background(), observability.Event{Type: "relay.turn.complete"})

	if got := first.count(); got != 2 {
		t.Errorf("first observer saw %d events, want 2", got)
	}
	if got := second.count(); got != 2 {
		t.Errorf("second observer saw %d events, want 2", got)
	}
}

func TestNoOpObserver(t *testing.T) {
	var obs observability.NoOpObserver
	// Must not panic.
	obs.OnEvent(context.Background(), observability.Event{Type: "relay.turn.start"})
}

func TestObserverRegistry(t *testing.T) {
	if _, err := observability.GetObserver("noop"); err != nil {
		t.Errorf("GetObserver(noop) error = %v, want nil", err)
	}
	if _, err := observability.GetObserver("slog"); err != nil {
		t.Errorf("GetObserver(slog) error = %v, want nil", err)
	}
	if _, err := observability.GetObserver("missing"); err == nil {
		t.Error("GetObserver(missing) error = nil, want error")
	}

	recorder := &recordingObserver{}
	observability.RegisterObserver("recording", recorder)
	got, err := observability.GetObserver("recording")
	if err != nil {
		t.Fatalf("GetObserver(recording) error = %v", err)
	}
	if got != recorder {
		t.Error("GetObserver(recording) returned a different observer")
	}
}
