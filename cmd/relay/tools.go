package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/tailored-agentic-units/relay/protocol"
	"github.com/tailored-agentic-units/relay/tools"
)

const commandTimeout = 30 * time.Second

func registerBuiltinTools() {
	must(tools.Register(protocol.Tool{
		Name:        "run_command",
		Description: "Runs a shell command and returns its combined output. Requires approval.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{
					"type":        "string",
					"description": "Shell command to run.",
				},
			},
			"required": []string{"command"},
		},
	}, handleRunCommand))

	must(tools.Register(protocol.Tool{
		Name:        "current_time",
		Description: "Returns the current date and time in RFC3339 format.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	}, handleCurrentTime))

	must(tools.Register(protocol.Tool{
		Name:        "echo",
		Description: "Returns the given text unchanged.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{
					"type":        "string",
					"description": "Text to echo back.",
				},
			},
			"required": []string{"text"},
		},
	}, handleEcho))
}

func must(err error) {
	if err != nil {
		panic(fmt.Sprintf("failed to register tool: %v", err))
	}
}

func handleRunCommand(ctx context.Context, raw json.RawMessage) (tools.Result, error) {
	var args struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return tools.Result{Content: "invalid arguments: " + err.Error(), IsError: true}, nil
	}
	if strings.TrimSpace(args.Command) == "" {
		return tools.Result{Content: "command is required", IsError: true}, nil
	}

	runCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	out, err := exec.CommandContext(runCtx, "sh", "-c", args.Command).CombinedOutput()
	if err != nil {
		return tools.Result{Content: fmt.Sprintf("%v: %s", err, out), IsError: true}, nil
	}
	return tools.Result{Content: string(out)}, nil
}

func handleCurrentTime(_ context.Context, _ json.RawMessage) (tools.Result, error) {
	return tools.Result{Content: time.Now().Format(time.RFC3339)}, nil
}

func handleEcho(_ context.Context, raw json.RawMessage) (tools.Result, error) {
	var args struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return tools.Result{Content: "invalid arguments: " + err.Error(), IsError: true}, nil
	}
	return tools.Result{Content: args.Text}, nil
}
