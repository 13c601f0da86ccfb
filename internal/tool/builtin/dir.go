package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/swival/swival/internal/errs"
	"github.com/swival/swival/internal/outputcaps"
	"github.com/swival/swival/internal/pathpolicy"
	"github.com/swival/swival/internal/tool"
)

// ListDirTool implements list_dir(path).
type ListDirTool struct{ sb *Sandbox }

func NewListDirTool(sb *Sandbox) *ListDirTool { return &ListDirTool{sb: sb} }

func (t *ListDirTool) Name() string        { return "list_dir" }
func (t *ListDirTool) Description() string { return "List the immediate entries of a directory." }
func (t *ListDirTool) Init(context.Context) error { return nil }
func (t *ListDirTool) Close() error               { return nil }

func (t *ListDirTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "path", Type: "string", Description: "Directory to list.", Required: true},
	)
}

type listDirArgs struct {
	Path string `json:"path"`
}

func (t *ListDirTool) Execute(_ context.Context, args json.RawMessage) (tool.ToolResult, error) {
	var a listDirArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return fail(errs.InvalidToolArguments, "%v", err)
	}
	res, err := t.sb.Paths.Resolve(a.Path, pathpolicy.Read)
	if err != nil {
		return resolveErrResult(err)
	}

	entries, err := os.ReadDir(res.Absolute)
	if err != nil {
		return fail(errs.PathEscape, "cannot list %s: %v", a.Path, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)

	capped, truncated := outputcaps.ApplyEntries(names)
	out := strings.Join(capped, "\n")
	if truncated {
		out += fmt.Sprintf("\n... (%d more entries not shown)", len(names)-len(capped))
	}
	return ok(out)
}

// GrepTool implements grep(pattern, path, regex?).
type GrepTool struct{ sb *Sandbox }

func NewGrepTool(sb *Sandbox) *GrepTool { return &GrepTool{sb: sb} }

func (t *GrepTool) Name() string        { return "grep" }
func (t *GrepTool) Description() string { return "Search for a pattern across files under a path, returning matching lines." }
func (t *GrepTool) Init(context.Context) error { return nil }
func (t *GrepTool) Close() error               { return nil }

func (t *GrepTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "pattern", Type: "string", Description: "Literal substring or regular expression to search for.", Required: true},
		tool.SchemaParam{Name: "path", Type: "string", Description: "File or directory to search.", Required: true},
		tool.SchemaParam{Name: "regex", Type: "boolean", Description: "Treat pattern as a regular expression (default: literal substring)."},
	)
}

type grepArgs struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path"`
	Regex   bool   `json:"regex"`
}

func (t *GrepTool) Execute(_ context.Context, args json.RawMessage) (tool.ToolResult, error) {
	var a grepArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return fail(errs.InvalidToolArguments, "%v", err)
	}
	res, err := t.sb.Paths.Resolve(a.Path, pathpolicy.Read)
	if err != nil {
		return resolveErrResult(err)
	}

	var matcher func(line string) bool
	if a.Regex {
		re, err := regexp.Compile(a.Pattern)
		if err != nil {
			return fail(errs.InvalidToolArguments, "invalid regex: %v", err)
		}
		matcher = re.MatchString
	} else {
		matcher = func(line string) bool { return strings.Contains(line, a.Pattern) }
	}

	var results []string
	walkErr := filepath.WalkDir(res.Absolute, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil
		}
		if strings.IndexByte(string(data), 0) >= 0 {
			return nil // skip binary files
		}
		rel, _ := filepath.Rel(res.Absolute, p)
		for i, line := range strings.Split(string(data), "\n") {
			if matcher(line) {
				results = append(results, fmt.Sprintf("%s:%d: %s", rel, i+1, line))
			}
		}
		return nil
	})
	if walkErr != nil {
		return fail(errs.PathEscape, "grep failed: %v", walkErr)
	}

	capped, truncated := outputcaps.ApplyEntries(results)
	out := strings.Join(capped, "\n")
	if truncated {
		out += fmt.Sprintf("\n... (%d more matches not shown)", len(results)-len(capped))
	}
	if out == "" {
		out = "(no matches)"
	}
	return ok(out)
}
