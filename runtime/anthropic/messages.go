package anthropic

import (
	"encoding/json"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/tailored-agentic-units/relay/protocol"
)

// historyToParams converts stored conversation records to API message
// params. System records are skipped (the system prompt travels separately),
// tool records become tool_result blocks on a user message, and assistant
// tool calls become tool_use blocks.
func historyToParams(history []protocol.Message) ([]sdk.MessageParam, error) {
	var params []sdk.MessageParam

	for _, msg := range history {
		switch msg.Role {
		case protocol.RoleSystem:
			continue

		case protocol.RoleTool:
			if msg.ToolCallID == "" {
				continue
			}
			params = append(params, sdk.NewUserMessage(
				sdk.NewToolResultBlock(msg.ToolCallID, msg.Content, false),
			))

		case protocol.RoleAssistant:
			var blocks []sdk.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				var input map[string]any
				if call.Arguments != "" {
					if err := json.Unmarshal([]byte(call.Arguments), &input); err != nil {
						return nil, fmt.Errorf("invalid tool call arguments for %s: %w", call.ID, err)
					}
				}
				blocks = append(blocks, sdk.NewToolUseBlock(call.ID, input, call.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			params = append(params, sdk.NewAssistantMessage(blocks...))

		default:
			if msg.Content == "" {
				continue
			}
			params = append(params, sdk.NewUserMessage(sdk.NewTextBlock(msg.Content)))
		}
	}

	return params, nil
}
