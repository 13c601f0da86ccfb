package config

import (
	"os"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/swival/swival/internal/errs"
	"github.com/swival/swival/internal/mcp"
)

// serverNameRe is the allowed character set for an MCP server name; the
// "__" substring is checked separately since it would otherwise
// collide with the mcp__<server>__<tool> namespacing convention.
var serverNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateServerName rejects names that would break the mcp__<server>__<tool>
// qualified-name convention.
func ValidateServerName(name string) error {
	if !serverNameRe.MatchString(name) {
		return errs.New(errs.ConfigError, "MCP server name \""+name+"\" must match [A-Za-z0-9_-]+")
	}
	if strings.Contains(name, "__") {
		return errs.New(errs.ConfigError, "MCP server name \""+name+"\" must not contain \"__\"")
	}
	return nil
}

// tomlMCPConfig mirrors the [mcp_servers.<name>] tables of swival.toml.
type tomlMCPConfig struct {
	MCPServers map[string]mcp.ServerConfig `toml:"mcp_servers"`
}

// loadTOMLServers reads swival.toml's [mcp_servers.*] section, if present.
func loadTOMLServers(path string) (map[string]mcp.ServerConfig, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, nil
	}
	var cfg tomlMCPConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, errs.Wrap(errs.ConfigError, "parse "+path, err)
	}
	for name, sc := range cfg.MCPServers {
		sc.Name = name
		cfg.MCPServers[name] = sc
	}
	return cfg.MCPServers, nil
}

// loadJSONServers reads a .mcp.json-shaped file, if present. Returns nil,
// nil when the file does not exist — this is not an error at any precedence
// level except the explicit override, which the caller checks itself.
func loadJSONServers(path string) (map[string]mcp.ServerConfig, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, nil
	}
	return mcp.LoadConfig(path)
}

// ResolveMCPServers applies the config precedence chain (high to low):
// explicit override file, project TOML section, project JSON file, global
// config. The first source that yields any servers wins outright — sources
// are not merged, per "Config precedence (high -> low)" naming a strict
// override chain rather than a layered merge. Every server name is
// validated; an invalid name is a fatal ConfigError.
func ResolveMCPServers(explicitOverride, projectTOML, projectJSON, globalConfig string) (map[string]mcp.ServerConfig, error) {
	sources := []struct {
		label string
		load  func() (map[string]mcp.ServerConfig, error)
		must  bool
	}{
		{"explicit MCP override", func() (map[string]mcp.ServerConfig, error) {
			if explicitOverride == "" {
				return nil, nil
			}
			return mcp.LoadConfig(explicitOverride)
		}, explicitOverride != ""},
		{"project swival.toml", func() (map[string]mcp.ServerConfig, error) { return loadTOMLServers(projectTOML) }, false},
		{"project .mcp.json", func() (map[string]mcp.ServerConfig, error) { return loadJSONServers(projectJSON) }, false},
		{"global config", func() (map[string]mcp.ServerConfig, error) { return loadJSONServers(globalConfig) }, false},
	}

	for _, src := range sources {
		servers, err := src.load()
		if err != nil {
			return nil, errs.Wrap(errs.ConfigError, "loading "+src.label, err)
		}
		if len(servers) == 0 {
			if src.must {
				return nil, nil
			}
			continue
		}
		for name := range servers {
			if err := ValidateServerName(name); err != nil {
				return nil, err
			}
		}
		return servers, nil
	}
	return map[string]mcp.ServerConfig{}, nil
}
