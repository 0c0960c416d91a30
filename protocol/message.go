package protocol

import "encoding/json"

// Role identifies the sender of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall represents a tool invocation recorded in conversation history.
// Fields are flat (ID, Name, Arguments) for direct use across the relay.
// UnmarshalJSON transparently handles the nested LLM API format
// (function.name, function.arguments) so exported provider transcripts
// replay correctly.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// UnmarshalJSON handles both the nested LLM API format ({function: {name,
// arguments}}) and the flat relay format ({name, arguments}), so history
// payloads from either source decode into the canonical ToolCall type.
func (tc *ToolCall) UnmarshalJSON(data []byte) error {
	var nested struct {
		ID       string `json:"id"`
		Function struct {
			Name      string `json:"name"`
			Arguments string `json:"arguments"`
		} `json:"function"`
	}
	if err := json.Unmarshal(data, &nested); err != nil {
		return err
	}

	if nested.Function.Name != "" {
		tc.ID = nested.ID
		tc.Name = nested.Function.Name
		tc.Arguments = nested.Function.Arguments
		return nil
	}

	type plain ToolCall
	return json.Unmarshal(data, (*plain)(tc))
}

// Message is a single conversation turn record. ID is assigned when the
// record enters a session: user/assistant turns minted during live streaming
// get generated ids, while replayed history records get deterministic ids so
// repeated replays converge on identical session contents.
//
// For tool-calling turns, assistant messages carry ToolCalls and tool result
// messages carry a ToolCallID correlating back to the request.
type Message struct {
	ID         string     `json:"id,omitempty"`
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"toolCallId,omitempty"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
}

// NewMessage creates a Message with the given role and content.
// Use struct literals directly when setting id or tool call fields.
func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: content}
}
