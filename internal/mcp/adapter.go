package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/swival/swival/internal/errs"
	"github.com/swival/swival/internal/tool"
)

// ToolAdapter bridges an MCP server tool to the tool.Tool interface, making
// it indistinguishable from a built-in tool to the Agent Loop.
//
// Naming convention: mcp__<serverName>__<toolName> (double underscore on
// both sides). The double underscore cannot appear within a valid server or
// tool name and prevents collisions when either component contains a single
// underscore.
//
// Example: server "csv-tool", tool "read_csv" → "mcp__csv-tool__read_csv".
type ToolAdapter struct {
	serverName string
	info       ToolInfo
	client     *Client
}

// NewMCPToolAdapter creates an adapter for a single MCP tool backed by a
// persistent client connection.
func NewMCPToolAdapter(serverName string, info ToolInfo, client *Client) *ToolAdapter {
	return &ToolAdapter{serverName: serverName, info: info, client: client}
}

// Name returns the fully-qualified tool name: mcp__<server>__<tool>.
func (a *ToolAdapter) Name() string {
	return fmt.Sprintf("mcp__%s__%s", a.serverName, a.info.Name)
}

// Description returns the tool description advertised by the MCP server.
func (a *ToolAdapter) Description() string {
	return a.info.Description
}

// InputSchema returns the JSON Schema advertised by the MCP server, or an
// empty object schema when the server provided none.
func (a *ToolAdapter) InputSchema() json.RawMessage {
	if len(a.info.InputSchema) == 0 {
		return tool.BuildSchema()
	}
	return a.info.InputSchema
}

// Execute deserializes the JSON args and delegates to the MCP server. A
// degraded server (transport errored earlier this session) returns
// McpDegraded without attempting the call; infrastructure and tool-level
// errors alike surface as a ToolResult.Error, never a Go error, so the
// agent loop never needs to special-case MCP failures.
func (a *ToolAdapter) Execute(ctx context.Context, args json.RawMessage) (tool.ToolResult, error) {
	if a.client.IsDegraded() {
		return tool.ToolResult{
			Succeeded: false,
			Error:     fmt.Sprintf("%s: server %q is degraded for the remainder of this session", errs.McpDegraded, a.serverName),
		}, nil
	}

	var params map[string]any
	if len(args) > 0 && string(args) != "null" {
		if err := json.Unmarshal(args, &params); err != nil {
			return tool.ToolResult{
				Succeeded: false,
				Error:     fmt.Sprintf("%s: %v", errs.InvalidToolArguments, err),
			}, nil
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, mcpToolTimeout)
	defer cancel()

	text, err := a.client.CallTool(callCtx, a.info.Name, params)
	if err != nil {
		if callCtx.Err() != nil {
			return tool.ToolResult{Succeeded: false, Error: fmt.Sprintf("%s: %v", errs.McpTimeout, err)}, nil
		}
		if a.client.IsDegraded() {
			return tool.ToolResult{Succeeded: false, Error: fmt.Sprintf("%s: %v", errs.McpDegraded, err)}, nil
		}
		return tool.ToolResult{Succeeded: false, Error: err.Error()}, nil
	}
	return tool.ToolResult{Succeeded: true, Output: text}, nil
}

// Init satisfies tool.Tool. MCP connections are managed by the Manager;
// individual adapters have no additional initialization.
func (a *ToolAdapter) Init(_ context.Context) error { return nil }

// Close satisfies tool.Tool. Connection lifecycle is managed by the Manager;
// adapters do not close the shared client.
func (a *ToolAdapter) Close() error { return nil }
