package llm

import (
	"context"
	"encoding/json"
)

// Message represents a chat message for LLM communication.
type Message struct {
	Role             string     `json:"role"` // "system", "user", "assistant", "tool"
	Content          string     `json:"content"`
	ReasoningContent string     `json:"reasoning_content,omitempty"` // native thinking output, when the model exposes it
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`        // set on assistant messages that invoke tools
	ToolCallID       string     `json:"tool_call_id,omitempty"`      // set on role="tool" result messages
	Name             string     `json:"name,omitempty"`              // tool name, set on role="tool" result messages
}

// ToolCall represents a tool invocation requested by the model.
// Arguments is the raw argument text the model emitted, kept verbatim even
// when it is not valid JSON; the agent loop records an invalid-JSON call as
// a failure with arguments=null rather than raising.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolDefinition describes a tool's schema as exposed to the model for
// Function Calling.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema object
}

// FinishReason mirrors the provider's stop reason for a completion.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool_calls"
	FinishLength    FinishReason = "length"
)

// Response is the normalized result of a completion call.
type Response struct {
	Message      Message
	FinishReason FinishReason
}

// StreamCallback is invoked for each chunk of streamed text.
// Implementations should be lightweight; heavy work should be deferred.
type StreamCallback func(chunk string)

// Provider defines the interface all LLM implementations satisfy.
// Any OpenAI-compatible endpoint (litellm, Ollama, Azure, vLLM, etc.) can be
// used by implementing this interface.
type Provider interface {
	// Complete sends messages (with optional tool definitions) and returns
	// the full response, including the provider's finish reason.
	Complete(ctx context.Context, messages []Message, tools []ToolDefinition) (Response, error)

	// CompleteStream streams a plain-text completion token-by-token, with no
	// tool definitions. The agent loop does not call it; its turns go
	// through Complete.
	CompleteStream(ctx context.Context, messages []Message, onChunk StreamCallback) (Response, error)

	// SupportsFunctionCalling reports whether this provider/model combination
	// should be driven with the Function Calling path rather than YAML-mode.
	SupportsFunctionCalling() bool

	// GetName returns the provider name/identifier, for reporting.
	GetName() string
}

// BudgetedProvider is implemented by providers that can override their
// configured max-output-tokens default for a single call. The agent loop
// type-asserts for this to apply the Context Manager's dynamic per-turn
// budget; providers that don't implement it just run with their own default.
type BudgetedProvider interface {
	Provider
	CompleteWithBudget(ctx context.Context, messages []Message, tools []ToolDefinition, maxOutputTokens int) (Response, error)
}

// Role constants.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)
