// Package mcp connects to stdio and SSE MCP (Model Context Protocol) tool
// servers, tracks their liveness, and exposes tool invocation through the
// shared tool.Tool interface.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	sdk_client "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	sdk_mcp "github.com/mark3labs/mcp-go/mcp"
)

// mcpConfigFile mirrors the top-level structure of .mcp.json.
type mcpConfigFile struct {
	MCPServers map[string]ServerConfig `json:"mcpServers"`
}

// LoadConfig reads and parses an .mcp.json file.
// The Name field of each ServerConfig is populated from the map key, not
// from any JSON field.
func LoadConfig(path string) (map[string]ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mcp: read config %q: %w", path, err)
	}

	var file mcpConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("mcp: parse config %q: %w", path, err)
	}

	if file.MCPServers == nil {
		return map[string]ServerConfig{}, nil
	}
	for key, cfg := range file.MCPServers {
		cfg.Name = key
		file.MCPServers[key] = cfg
	}
	return file.MCPServers, nil
}

// ServerConfig describes a single MCP server connection, stdio or SSE.
type ServerConfig struct {
	Name      string            // derived from the config map key
	Transport string            `json:"transport"` // "stdio" | "sse"
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	URL       string            `json:"url,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
}

// envSlice renders Env as KEY=VALUE pairs, the form the stdio transport
// expects.
func (c ServerConfig) envSlice() []string {
	out := make([]string, 0, len(c.Env))
	for k, v := range c.Env {
		out = append(out, k+"="+v)
	}
	return out
}

// ToolInfo captures the metadata of a single tool exposed by an MCP server.
type ToolInfo struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// Client wraps the mcp-go SDK client for a single MCP server. Safe for
// concurrent use. Once a transport error is observed, the client is marked
// degraded and stays that way for the rest of the process — no reconnect is
// attempted within a session.
type Client struct {
	mu       sync.RWMutex
	cfg      ServerConfig
	inner    sdk_client.MCPClient
	degraded bool
}

// NewClient creates an uninitialized Client for the given server config.
func NewClient(cfg ServerConfig) *Client {
	return &Client{cfg: cfg}
}

// Connect establishes the transport connection and performs the MCP
// initialize handshake.
func (c *Client) Connect(ctx context.Context) error {
	var inner sdk_client.MCPClient

	switch c.cfg.Transport {
	case "stdio":
		cli, err := sdk_client.NewStdioMCPClient(c.cfg.Command, c.cfg.envSlice(), c.cfg.Args...)
		if err != nil {
			return fmt.Errorf("mcp: start stdio server %q: %w", c.cfg.Name, err)
		}
		inner = cli

	case "sse":
		var opts []transport.ClientOption
		if len(c.cfg.Headers) > 0 {
			opts = append(opts, sdk_client.WithHeaders(c.cfg.Headers))
		}
		cli, err := sdk_client.NewSSEMCPClient(c.cfg.URL, opts...)
		if err != nil {
			return fmt.Errorf("mcp: create SSE client %q: %w", c.cfg.Name, err)
		}
		if err := cli.Start(ctx); err != nil {
			return fmt.Errorf("mcp: start SSE client %q: %w", c.cfg.Name, err)
		}
		inner = cli

	default:
		return fmt.Errorf("mcp: unknown transport %q for server %q", c.cfg.Transport, c.cfg.Name)
	}

	_, err := inner.Initialize(ctx, sdk_mcp.InitializeRequest{
		Params: sdk_mcp.InitializeParams{
			ProtocolVersion: sdk_mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo: sdk_mcp.Implementation{
				Name:    "swival",
				Version: "0.1.0",
			},
		},
	})
	if err != nil {
		_ = inner.Close()
		return fmt.Errorf("mcp: initialize server %q: %w", c.cfg.Name, err)
	}

	c.mu.Lock()
	c.inner = inner
	c.mu.Unlock()
	return nil
}

// ListTools returns metadata for all tools exposed by this MCP server.
func (c *Client) ListTools(ctx context.Context) ([]ToolInfo, error) {
	c.mu.RLock()
	inner := c.inner
	c.mu.RUnlock()

	if inner == nil {
		return nil, fmt.Errorf("mcp: client %q not connected", c.cfg.Name)
	}

	result, err := inner.ListTools(ctx, sdk_mcp.ListToolsRequest{})
	if err != nil {
		if shouldDegrade(ctx) {
			c.markDegraded()
		}
		return nil, fmt.Errorf("mcp: list tools %q: %w", c.cfg.Name, err)
	}

	tools := make([]ToolInfo, 0, len(result.Tools))
	for _, t := range result.Tools {
		schema, err := json.Marshal(t.InputSchema)
		if err != nil {
			schema = json.RawMessage("{}")
		}
		tools = append(tools, ToolInfo{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	return tools, nil
}

// CallTool invokes the named tool on the MCP server with the given arguments
// and returns the concatenated text content. A transport-level failure marks
// the client degraded for the rest of the session.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	if c.IsDegraded() {
		return "", fmt.Errorf("mcp: server %q is degraded", c.cfg.Name)
	}

	c.mu.RLock()
	inner := c.inner
	c.mu.RUnlock()

	if inner == nil {
		return "", fmt.Errorf("mcp: client %q not connected", c.cfg.Name)
	}

	req := sdk_mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	result, err := inner.CallTool(ctx, req)
	if err != nil {
		if shouldDegrade(ctx) {
			c.markDegraded()
		}
		return "", fmt.Errorf("mcp: call tool %q on %q: %w", name, c.cfg.Name, err)
	}

	var parts []string
	for _, content := range result.Content {
		if tc, ok := content.(sdk_mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	text := strings.Join(parts, "\n")

	if result.IsError {
		// A tool-level error is not a transport failure: the server is still
		// healthy, the tool call itself just failed.
		return "", fmt.Errorf("mcp: tool %q returned error: %s", name, text)
	}
	return text, nil
}

// shouldDegrade reports whether a request failure indicates a broken
// transport. A call whose own context expired or was cancelled merely failed
// — the per-call timeout marks the call failed, not the server degraded —
// so only an error arriving while the context is still live is attributed
// to the transport.
func shouldDegrade(ctx context.Context) bool {
	return ctx.Err() == nil
}

// markDegraded sets the sticky degraded flag after a transport error.
func (c *Client) markDegraded() {
	c.mu.Lock()
	c.degraded = true
	c.mu.Unlock()
}

// IsDegraded reports whether this client's transport has errored mid-session.
func (c *Client) IsDegraded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.degraded
}

// Close terminates the connection to the MCP server and releases resources.
func (c *Client) Close() error {
	c.mu.Lock()
	inner := c.inner
	c.inner = nil
	c.mu.Unlock()

	if inner == nil {
		return nil
	}
	return inner.Close()
}
