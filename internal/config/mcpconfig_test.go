package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidateServerName(t *testing.T) {
	valid := []string{"csv-tool", "srv_1", "ABC", "a"}
	for _, name := range valid {
		if err := ValidateServerName(name); err != nil {
			t.Errorf("ValidateServerName(%q) = %v, want nil", name, err)
		}
	}

	invalid := []string{"", "has space", "dots.not.ok", "double__under", "uni·code"}
	for _, name := range invalid {
		if err := ValidateServerName(name); err == nil {
			t.Errorf("ValidateServerName(%q) = nil, want error", name)
		}
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestResolveMCPServers_TOMLBeatsJSON(t *testing.T) {
	dir := t.TempDir()
	tomlPath := filepath.Join(dir, "swival.toml")
	jsonPath := filepath.Join(dir, ".mcp.json")

	writeFile(t, tomlPath, "[mcp_servers.from-toml]\ntransport = \"stdio\"\ncommand = \"srv\"\n")
	writeFile(t, jsonPath, `{"mcpServers":{"from-json":{"transport":"stdio","command":"srv"}}}`)

	servers, err := ResolveMCPServers("", tomlPath, jsonPath, "")
	if err != nil {
		t.Fatalf("ResolveMCPServers: %v", err)
	}
	if _, ok := servers["from-toml"]; !ok {
		t.Errorf("expected the TOML source to win, got %v", keys(servers))
	}
	if _, ok := servers["from-json"]; ok {
		t.Error("sources must override, not merge")
	}
}

func TestResolveMCPServers_ExplicitOverrideWins(t *testing.T) {
	dir := t.TempDir()
	overridePath := filepath.Join(dir, "override.json")
	tomlPath := filepath.Join(dir, "swival.toml")

	writeFile(t, overridePath, `{"mcpServers":{"explicit":{"transport":"stdio","command":"srv"}}}`)
	writeFile(t, tomlPath, "[mcp_servers.project]\ntransport = \"stdio\"\ncommand = \"srv\"\n")

	servers, err := ResolveMCPServers(overridePath, tomlPath, "", "")
	if err != nil {
		t.Fatalf("ResolveMCPServers: %v", err)
	}
	if len(servers) != 1 {
		t.Fatalf("got %d servers, want 1", len(servers))
	}
	if _, ok := servers["explicit"]; !ok {
		t.Errorf("expected the explicit override to win, got %v", keys(servers))
	}
}

func TestResolveMCPServers_FallsThroughToGlobal(t *testing.T) {
	dir := t.TempDir()
	globalPath := filepath.Join(dir, "global.json")
	writeFile(t, globalPath, `{"mcpServers":{"global-srv":{"transport":"sse","url":"http://example.com/sse"}}}`)

	servers, err := ResolveMCPServers("",
		filepath.Join(dir, "no-such.toml"),
		filepath.Join(dir, "no-such.json"),
		globalPath)
	if err != nil {
		t.Fatalf("ResolveMCPServers: %v", err)
	}
	if _, ok := servers["global-srv"]; !ok {
		t.Errorf("expected the global config, got %v", keys(servers))
	}
}

func TestResolveMCPServers_NoConfigAnywhere(t *testing.T) {
	dir := t.TempDir()
	servers, err := ResolveMCPServers("",
		filepath.Join(dir, "a.toml"), filepath.Join(dir, "b.json"), filepath.Join(dir, "c.json"))
	if err != nil {
		t.Fatalf("ResolveMCPServers: %v", err)
	}
	if len(servers) != 0 {
		t.Errorf("got %v, want none", keys(servers))
	}
}

func TestResolveMCPServers_InvalidNameIsFatal(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, ".mcp.json")
	writeFile(t, jsonPath, `{"mcpServers":{"bad__name":{"transport":"stdio","command":"srv"}}}`)

	if _, err := ResolveMCPServers("", filepath.Join(dir, "x.toml"), jsonPath, ""); err == nil {
		t.Fatal("a server name containing __ must be a fatal config error")
	}
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
