package relay

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailored-agentic-units/relay/approval"
	"github.com/tailored-agentic-units/relay/runtime/anthropic"
)

const defaultStreamBuffer = 64

// Config holds initialization parameters for all relay subsystems. Each
// subsystem section delegates to that subsystem's config type.
type Config struct {
	// Addr is the listen address for the HTTP transports.
	Addr string `json:"addr,omitempty"`

	// Approval configures the approval registry timeouts.
	Approval approval.Config `json:"approval"`

	// Anthropic configures the live model runtime.
	Anthropic anthropic.Config `json:"anthropic"`

	// GatedTools lists tool names that require human approval before
	// execution. A trailing * gates every tool sharing the prefix.
	GatedTools []string `json:"gated_tools,omitempty"`

	// StreamBuffer sizes the per-turn chunk stream buffer.
	StreamBuffer int `json:"stream_buffer,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults for all subsystems.
func DefaultConfig() Config {
	return Config{
		Addr:         ":8080",
		Approval:     approval.DefaultConfig(),
		Anthropic:    anthropic.DefaultConfig(),
		GatedTools:   []string{"run_command"},
		StreamBuffer: defaultStreamBuffer,
	}
}

// Merge applies non-zero values from source into c, delegating to each
// subsystem's Merge method.
func (c *Config) Merge(source *Config) {
	if source == nil {
		return
	}
	c.Approval.Merge(&source.Approval)
	c.Anthropic.Merge(&source.Anthropic)

	if source.Addr != "" {
		c.Addr = source.Addr
	}
	if len(source.GatedTools) > 0 {
		c.GatedTools = source.GatedTools
	}
	if source.StreamBuffer > 0 {
		c.StreamBuffer = source.StreamBuffer
	}
}

// LoadConfig reads a JSON config file, merges it with defaults, and returns
// the resulting Config.
func LoadConfig(filename string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Merge(&loaded)
	return &cfg, nil
}
