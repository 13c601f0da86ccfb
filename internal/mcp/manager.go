package mcp

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/swival/swival/internal/tool"
)

// mcpToolTimeout caps a single MCP tool call so a hung server cannot consume
// the whole turn budget; the error returns promptly and the loop continues.
const mcpToolTimeout = 60 * time.Second

// connectTimeout bounds how long Manager.ConnectAll waits for any single
// server's connect + tool discovery before giving up on it.
const connectTimeout = 20 * time.Second

// Manager owns the lifecycle of all MCP server connections: concurrent
// startup, tool registration, schema budgeting, and teardown.
type Manager struct {
	mu      sync.Mutex
	clients map[string]*Client     // server name -> connection
	tools   map[string][]ToolInfo  // server name -> discovered tools
}

// NewManager creates an empty Manager. No connections are established until
// ConnectAll is called.
func NewManager() *Manager {
	return &Manager{
		clients: make(map[string]*Client),
		tools:   make(map[string][]ToolInfo),
	}
}

// ConnectResult reports the outcome of connecting to one configured server.
type ConnectResult struct {
	Name string
	Err  error
}

// ConnectAll connects to every configured server concurrently, each bounded
// by connectTimeout. A connection failure is logged as a warning and the
// server is omitted — never fatal. A server whose tool
// names collide internally is dropped entirely.
func (m *Manager) ConnectAll(ctx context.Context, configs map[string]ServerConfig) []ConnectResult {
	type outcome struct {
		name  string
		cli   *Client
		tools []ToolInfo
		err   error
	}

	results := make(chan outcome, len(configs))
	var wg sync.WaitGroup
	for name, cfg := range configs {
		wg.Add(1)
		go func(name string, cfg ServerConfig) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, connectTimeout)
			defer cancel()

			cli := NewClient(cfg)
			if err := cli.Connect(callCtx); err != nil {
				results <- outcome{name: name, err: err}
				return
			}
			tools, err := cli.ListTools(callCtx)
			if err != nil {
				_ = cli.Close()
				results <- outcome{name: name, err: err}
				return
			}
			results <- outcome{name: name, cli: cli, tools: tools}
		}(name, cfg)
	}
	go func() { wg.Wait(); close(results) }()

	var reports []ConnectResult
	m.mu.Lock()
	defer m.mu.Unlock()
	for r := range results {
		if r.err != nil {
			log.Printf("[MCP] WARNING: connect %q failed: %v", r.name, r.err)
			reports = append(reports, ConnectResult{Name: r.name, Err: r.err})
			continue
		}
		if dup := collidingToolNames(r.tools); dup != "" {
			log.Printf("[MCP] WARNING: server %q has internal tool name collision on %q, dropping entire server", r.name, dup)
			_ = r.cli.Close()
			reports = append(reports, ConnectResult{Name: r.name, Err: fmt.Errorf("duplicate tool name %q", dup)})
			continue
		}
		m.clients[r.name] = r.cli
		m.tools[r.name] = r.tools
		reports = append(reports, ConnectResult{Name: r.name})
	}
	return reports
}

// collidingToolNames returns the first tool name that appears more than once
// in infos, or "" if there is no collision.
func collidingToolNames(infos []ToolInfo) string {
	seen := make(map[string]bool, len(infos))
	for _, ti := range infos {
		if seen[ti.Name] {
			return ti.Name
		}
		seen[ti.Name] = true
	}
	return ""
}

// RegisterTools registers an adapter for every surviving server's tools into
// registry, namespaced mcp__<server>__<tool>.
func (m *Manager) RegisterTools(registry *tool.Registry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, cli := range m.clients {
		for _, ti := range m.tools[name] {
			registry.Register(NewMCPToolAdapter(name, ti, cli))
		}
	}
}

// ServerNames returns the names of all currently connected servers, sorted.
func (m *Manager) ServerNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.clients))
	for name := range m.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Client returns the connection for a server name, or nil if not connected.
func (m *Manager) Client(name string) *Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clients[name]
}

// ServerTools returns the discovered tools for a server name.
func (m *Manager) ServerTools(name string) []ToolInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tools[name]
}

// DropServer disconnects and forgets a server entirely — used by schema
// budgeting to evict the most expensive server when the schema budget is
// exceeded at startup.
func (m *Manager) DropServer(name string) {
	m.mu.Lock()
	cli := m.clients[name]
	delete(m.clients, name)
	delete(m.tools, name)
	m.mu.Unlock()
	if cli != nil {
		_ = cli.Close()
	}
}

// CloseAll terminates all active MCP server connections. Safe to call
// multiple times.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	clients := make(map[string]*Client, len(m.clients))
	for name, cli := range m.clients {
		clients[name] = cli
		delete(m.clients, name)
	}
	m.mu.Unlock()

	for name, cli := range clients {
		if err := cli.Close(); err != nil {
			log.Printf("[MCP] close error for %q: %v", name, err)
		}
	}
}
