package llm

// Tool describes a capability the agent loop can offer to an endpoint.
// Implementations live in pkg/tools and pkg/api; this interface is the
// minimal shape every provider client needs to build a wire-level tool
// declaration, independent of how the tool is actually executed.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any   // JSON Schema "properties"
	RequiredParameters() []string // JSON Schema "required"
}

// FunctionSchema is the OpenAI/Ollama-style function-calling wire format:
// {"type":"function","function":{"name":...,"description":...,"parameters":{...}}}
type FunctionSchema struct {
	Type     string             `json:"type"`
	Function FunctionDefinition `json:"function"`
}

type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolsToFunctionSchema converts a slice of Tool declarations into the
// function-calling wire schema shared by OpenAI-compatible and Ollama
// endpoints, so provider clients can round-trip it through JSON into their
// own SDK types instead of marshaling opaque interface values.
func ToolsToFunctionSchema(tools []Tool) []FunctionSchema {
	out := make([]FunctionSchema, 0, len(tools))
	for _, t := range tools {
		out = append(out, FunctionSchema{
			Type: "function",
			Function: FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters: map[string]any{
					"type":       "object",
					"properties": t.Parameters(),
					"required":   t.RequiredParameters(),
				},
			},
		})
	}
	return out
}
