package mcp

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/swival/swival/internal/tool"
)

func TestNewManager_CreatesEmptyState(t *testing.T) {
	m := NewManager()
	if m == nil {
		t.Fatal("NewManager returned nil")
	}
	if len(m.ServerNames()) != 0 {
		t.Errorf("expected no servers, got %v", m.ServerNames())
	}
}

func TestConnectAll_EmptyConfigs(t *testing.T) {
	m := NewManager()
	results := m.ConnectAll(context.Background(), map[string]ServerConfig{})
	if len(results) != 0 {
		t.Errorf("expected 0 results, got %d", len(results))
	}
}

func TestConnectAll_UnknownTransportFails(t *testing.T) {
	m := NewManager()
	configs := map[string]ServerConfig{
		"bad": {Transport: "grpc"},
	}
	results := m.ConnectAll(context.Background(), configs)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Err == nil {
		t.Error("expected a connect error for an unknown transport")
	}
	if len(m.ServerNames()) != 0 {
		t.Error("a failed server must not be registered")
	}
}

func TestCollidingToolNames_FindsDuplicate(t *testing.T) {
	infos := []ToolInfo{{Name: "dup"}, {Name: "dup"}}
	if got := collidingToolNames(infos); got != "dup" {
		t.Errorf("collidingToolNames() = %q, want %q", got, "dup")
	}
	if got := collidingToolNames([]ToolInfo{{Name: "a"}, {Name: "b"}}); got != "" {
		t.Errorf("collidingToolNames() = %q, want empty", got)
	}
}

func TestCloseAll_Idempotent(t *testing.T) {
	m := NewManager()
	// Multiple CloseAll calls must not panic even with no connections.
	m.CloseAll()
	m.CloseAll()
	m.CloseAll()
}

func TestRegisterTools_EmptyManager(t *testing.T) {
	m := NewManager()
	registry := tool.NewRegistry()
	m.RegisterTools(registry)
	if len(registry.List()) != 0 {
		t.Errorf("expected no tools registered, got %d", len(registry.List()))
	}
}

func TestDropServer_RemovesFromState(t *testing.T) {
	m := NewManager()
	m.mu.Lock()
	m.clients["srv"] = NewClient(ServerConfig{Name: "srv"})
	m.tools["srv"] = []ToolInfo{{Name: "t"}}
	m.mu.Unlock()

	m.DropServer("srv")

	if names := m.ServerNames(); len(names) != 0 {
		t.Errorf("expected server dropped, still present: %v", names)
	}
	if m.Client("srv") != nil {
		t.Error("expected Client() to return nil after DropServer")
	}
}

func TestLoadConfig_EmptyServers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mcp.json")
	if err := os.WriteFile(path, []byte(`{"mcpServers":{}}`), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	configs, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if len(configs) != 0 {
		t.Errorf("expected 0 servers, got %d", len(configs))
	}
}
