package tool

import (
	"context"
	"encoding/json"
)

// Tool is the unified interface for all tools. Built-in tools and MCP tool
// adapters both implement this interface, so the Agent Loop never needs to
// know which kind of tool it's calling.
type Tool interface {
	// Name returns the qualified tool identifier (the LLM uses this name to
	// invoke the tool). MCP-backed tools return `mcp__<server>__<tool>`.
	Name() string

	// Description returns a natural-language description for prompt injection.
	Description() string

	// InputSchema returns a JSON Schema object describing the tool's
	// parameters, compatible with both MCP and OpenAI Function Calling.
	InputSchema() json.RawMessage

	// Execute runs the tool with JSON-encoded arguments.
	Execute(ctx context.Context, args json.RawMessage) (ToolResult, error)

	// Init initializes tool resources. Built-in tools return nil.
	Init(ctx context.Context) error

	// Close releases tool resources.
	Close() error
}

// Origin identifies where a tool comes from.
type Origin string

const (
	OriginBuiltin Origin = "builtin"
	OriginMCP     Origin = "mcp"
)

// ToolResult encapsulates a tool execution result as it is carried back
// into the model's view. Succeeded is false exactly when the tool failed —
// in that case Error carries a terse, error-kind-prefixed message and the
// loop never raises: the model sees the failure as ordinary tool output.
type ToolResult struct {
	Succeeded bool   `json:"succeeded"`
	Output    string `json:"output,omitempty"`
	Error     string `json:"error,omitempty"`
}

// SchemaParam describes a single parameter for the BuildSchema helper.
type SchemaParam struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"` // "string", "integer", "boolean", "number", "array", "object"
	Description string   `json:"description"`
	Required    bool     `json:"-"`
	Enum        []string `json:"enum,omitempty"`
	Items       *SchemaParam `json:"-"` // element schema, when Type == "array"
}

// BuildSchema generates a JSON Schema object from a list of SchemaParams, so
// built-in tools avoid hand-writing JSON strings.
func BuildSchema(params ...SchemaParam) json.RawMessage {
	properties := make(map[string]any)
	var required []string

	for _, p := range params {
		prop := map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Type == "array" && p.Items != nil {
			prop["items"] = map[string]any{"type": p.Items.Type}
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}

	data, _ := json.Marshal(schema)
	return data
}
