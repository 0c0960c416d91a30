package approval

import "time"

// Config holds approval registry timing parameters.
type Config struct {
	// ExecutionTimeout bounds Await when the caller passes no explicit
	// timeout. Used for unattended execution paths.
	ExecutionTimeout time.Duration `json:"execution_timeout,omitempty"`

	// InteractiveTimeout bounds waits whose decision comes from a user
	// prompt on an interactive transport.
	InteractiveTimeout time.Duration `json:"interactive_timeout,omitempty"`
}

// DefaultConfig returns the default approval configuration.
func DefaultConfig() Config {
	return Config{
		ExecutionTimeout:   30 * time.Second,
		InteractiveTimeout: 60 * time.Second,
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.ExecutionTimeout > 0 {
		c.ExecutionTimeout = source.ExecutionTimeout
	}
	if source.InteractiveTimeout > 0 {
		c.InteractiveTimeout = source.InteractiveTimeout
	}
}
