package transport_test

import (
	"errors"
	"testing"

	"github.com/tailored-agentic-units/relay/protocol"
	"github.com/tailored-agentic-units/relay/transport"
)

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{
			name: "message",
			raw:  `{"type":"message","content":"hello"}`,
		},
		{
			name: "message with history",
			raw:  `{"type":"message","content":"hi","history":[{"role":"user","content":"earlier"}]}`,
		},
		{
			name:    "message without content",
			raw:     `{"type":"message","content":"   "}`,
			wantErr: transport.ErrInvalidFrame,
		},
		{
			name: "approval granted",
			raw:  `{"type":"approval","requestId":"req-1","approved":true}`,
		},
		{
			name: "approval denied with reason",
			raw:  `{"type":"approval","requestId":"req-2","approved":false,"reason":"too risky"}`,
		},
		{
			name:    "approval without requestId",
			raw:     `{"type":"approval","approved":true}`,
			wantErr: transport.ErrInvalidFrame,
		},
		{
			name:    "approval without decision",
			raw:     `{"type":"approval","requestId":"req-3"}`,
			wantErr: transport.ErrInvalidFrame,
		},
		{
			name: "tool result",
			raw:  `{"type":"tool_result","toolCallId":"call-1","result":{"stdout":"ok"}}`,
		},
		{
			name:    "tool result without id",
			raw:     `{"type":"tool_result","result":{}}`,
			wantErr: transport.ErrInvalidFrame,
		},
		{
			name:    "missing type",
			raw:     `{"content":"hello"}`,
			wantErr: transport.ErrInvalidFrame,
		},
		{
			name:    "unknown type",
			raw:     `{"type":"subscribe"}`,
			wantErr: transport.ErrUnknownFrameType,
		},
		{
			name:    "malformed json",
			raw:     `{"type":"message",`,
			wantErr: transport.ErrMalformedFrame,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := transport.DecodeFrame([]byte(tt.raw))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("DecodeFrame() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeFrame() error = %v", err)
			}
			if frame == nil {
				t.Fatal("DecodeFrame() returned nil frame")
			}
			if frame.Type == "" {
				t.Error("decoded frame has empty type")
			}
		})
	}
}

func TestDecodeFrame_ApprovalFields(t *testing.T) {
	raw := `{"type":"approval","requestId":"req-9","approved":false,"reason":"not on this host"}`

	frame, err := transport.DecodeFrame([]byte(raw))
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}
	if frame.Type != transport.FrameApproval {
		t.Errorf("Type = %q, want %q", frame.Type, transport.FrameApproval)
	}
	if frame.RequestID != "req-9" {
		t.Errorf("RequestID = %q, want req-9", frame.RequestID)
	}
	if frame.Approved == nil || *frame.Approved {
		t.Errorf("Approved = %v, want false", frame.Approved)
	}
	if frame.Reason != "not on this host" {
		t.Errorf("Reason = %q, want %q", frame.Reason, "not on this host")
	}
}

func TestDecodeFrame_HistoryToolCalls(t *testing.T) {
	raw := `{
		"type": "message",
		"content": "continue",
		"history": [
			{"role": "user", "content": "list files"},
			{"role": "assistant", "content": "", "toolCalls": [
				{"id": "call-1", "type": "function", "function": {"name": "run_command", "arguments": "{\"command\":\"ls\"}"}}
			]},
			{"role": "tool", "toolCallId": "call-1", "content": "README.md"}
		]
	}`

	frame, err := transport.DecodeFrame([]byte(raw))
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}
	if len(frame.History) != 3 {
		t.Fatalf("len(History) = %d, want 3", len(frame.History))
	}

	calls := frame.History[1].ToolCalls
	if len(calls) != 1 {
		t.Fatalf("len(ToolCalls) = %d, want 1", len(calls))
	}
	want := protocol.ToolCall{ID: "call-1", Name: "run_command", Arguments: `{"command":"ls"}`}
	if calls[0] != want {
		t.Errorf("ToolCalls[0] = %+v, want %+v", calls[0], want)
	}
	if frame.History[2].ToolCallID != "call-1" {
		t.Errorf("History[2].ToolCallID = %q, want call-1", frame.History[2].ToolCallID)
	}
}
