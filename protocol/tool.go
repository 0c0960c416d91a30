package protocol

// Tool describes a function the model may invoke during a turn.
// This is the canonical definition type shared by the registry, the
// runtime adapters, and the transport surface. Parameters holds a
// JSON Schema object describing the tool's input.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}
