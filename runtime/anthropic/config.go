package anthropic

import "time"

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-sonnet-4-20250514"

// Config holds the Anthropic runtime settings.
type Config struct {
	// APIKey authenticates against the Anthropic API. Required.
	APIKey string `json:"api_key"`

	// BaseURL overrides the default API endpoint. Optional.
	BaseURL string `json:"base_url"`

	// Model selects the model for every turn.
	Model string `json:"model"`

	// SystemPrompt is prepended to every conversation. Optional.
	SystemPrompt string `json:"system_prompt"`

	// MaxTokens caps generation per model iteration.
	MaxTokens int64 `json:"max_tokens"`

	// MaxIterations bounds the tool loop within one turn.
	MaxIterations int `json:"max_iterations"`

	// ResumeTimeout bounds the wait for an externally executed tool result
	// delivered through Resume.
	ResumeTimeout time.Duration `json:"resume_timeout"`
}

// DefaultConfig returns the runtime defaults. APIKey must still be set.
func DefaultConfig() Config {
	return Config{
		Model:         DefaultModel,
		MaxTokens:     4096,
		MaxIterations: 8,
		ResumeTimeout: 60 * time.Second,
	}
}

// Merge overlays non-zero fields from source onto c.
func (c *Config) Merge(source *Config) {
	if source == nil {
		return
	}
	if source.APIKey != "" {
		c.APIKey = source.APIKey
	}
	if source.BaseURL != "" {
		c.BaseURL = source.BaseURL
	}
	if source.Model != "" {
		c.Model = source.Model
	}
	if source.SystemPrompt != "" {
		c.SystemPrompt = source.SystemPrompt
	}
	if source.MaxTokens > 0 {
		c.MaxTokens = source.MaxTokens
	}
	if source.MaxIterations > 0 {
		c.MaxIterations = source.MaxIterations
	}
	if source.ResumeTimeout > 0 {
		c.ResumeTimeout = source.ResumeTimeout
	}
}
