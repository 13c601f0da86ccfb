// Package builtin implements the minimum built-in tool set: filesystem
// access, command execution, URL fetch, and the Knowledge Channel tools.
package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/swival/swival/internal/errs"
	"github.com/swival/swival/internal/outputcaps"
	"github.com/swival/swival/internal/pathpolicy"
	"github.com/swival/swival/internal/readtracker"
	"github.com/swival/swival/internal/tool"
)

// Sandbox bundles the three cross-cutting guards every filesystem tool goes
// through: path resolution, read-before-write enforcement, and output
// capping. Built-in tools hold a reference to a shared Sandbox rather than
// each re-implementing the same checks.
type Sandbox struct {
	Paths   *pathpolicy.Policy
	Reads   *readtracker.Tracker
	Caps    *outputcaps.Capper
}

func fail(kind errs.Kind, format string, args ...any) (tool.ToolResult, error) {
	msg := fmt.Sprintf(format, args...)
	return tool.ToolResult{Succeeded: false, Error: fmt.Sprintf("%s: %s", kind, msg)}, nil
}

func ok(output string) (tool.ToolResult, error) {
	return tool.ToolResult{Succeeded: true, Output: output}, nil
}

// ReadFileTool implements read_file(path, offset?, limit?).
type ReadFileTool struct{ sb *Sandbox }

func NewReadFileTool(sb *Sandbox) *ReadFileTool { return &ReadFileTool{sb: sb} }

func (t *ReadFileTool) Name() string        { return "read_file" }
func (t *ReadFileTool) Description() string { return "Read a text file's contents, optionally by line offset/limit." }
func (t *ReadFileTool) Init(context.Context) error { return nil }
func (t *ReadFileTool) Close() error               { return nil }

func (t *ReadFileTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "path", Type: "string", Description: "File path, absolute or relative to the base directory.", Required: true},
		tool.SchemaParam{Name: "offset", Type: "integer", Description: "0-based starting line (optional)."},
		tool.SchemaParam{Name: "limit", Type: "integer", Description: "Maximum number of lines to return (optional)."},
	)
}

type readFileArgs struct {
	Path   string `json:"path"`
	Offset int    `json:"offset"`
	Limit  int    `json:"limit"`
}

func (t *ReadFileTool) Execute(_ context.Context, args json.RawMessage) (tool.ToolResult, error) {
	var a readFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return fail(errs.InvalidToolArguments, "%v", err)
	}
	res, err := t.sb.Paths.Resolve(a.Path, pathpolicy.Read)
	if err != nil {
		return resolveErrResult(err)
	}

	data, err := os.ReadFile(res.Absolute)
	if err != nil {
		return fail(errs.PathEscape, "cannot read %s: %v", a.Path, err)
	}
	t.sb.Reads.MarkRead(res.Absolute)

	content := string(data)
	if a.Offset > 0 || a.Limit > 0 {
		lines := strings.Split(content, "\n")
		start := a.Offset
		if start > len(lines) {
			start = len(lines)
		}
		end := len(lines)
		if a.Limit > 0 && start+a.Limit < end {
			end = start + a.Limit
		}
		content = strings.Join(lines[start:end], "\n")
	}

	capped, err := t.sb.Caps.ApplyText(outputcaps.FileRead, content)
	if err != nil {
		return tool.ToolResult{}, err
	}
	return ok(capped.Text)
}

// WriteFileTool implements write_file(path, content, move_from?).
type WriteFileTool struct{ sb *Sandbox }

func NewWriteFileTool(sb *Sandbox) *WriteFileTool { return &WriteFileTool{sb: sb} }

func (t *WriteFileTool) Name() string        { return "write_file" }
func (t *WriteFileTool) Description() string {
	return "Write (or move-then-write) a file's full contents. Requires a prior read_file for existing targets, unless move_from is set."
}
func (t *WriteFileTool) Init(context.Context) error { return nil }
func (t *WriteFileTool) Close() error               { return nil }

func (t *WriteFileTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "path", Type: "string", Description: "Destination file path.", Required: true},
		tool.SchemaParam{Name: "content", Type: "string", Description: "Full file contents to write.", Required: true},
		tool.SchemaParam{Name: "move_from", Type: "string", Description: "If set, the source path is renamed to path first; exempts the destination from the read requirement."},
	)
}

type writeFileArgs struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	MoveFrom string `json:"move_from"`
}

func (t *WriteFileTool) Execute(_ context.Context, args json.RawMessage) (tool.ToolResult, error) {
	var a writeFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return fail(errs.InvalidToolArguments, "%v", err)
	}
	res, err := t.sb.Paths.Resolve(a.Path, pathpolicy.Write)
	if err != nil {
		return resolveErrResult(err)
	}

	_, statErr := os.Stat(res.Absolute)
	existing := statErr == nil
	moveFrom := a.MoveFrom != ""

	if moveFrom {
		srcRes, err := t.sb.Paths.Resolve(a.MoveFrom, pathpolicy.Write)
		if err != nil {
			return resolveErrResult(err)
		}
		if err := os.Rename(srcRes.Absolute, res.Absolute); err != nil {
			return fail(errs.PathEscape, "move failed: %v", err)
		}
		t.sb.Reads.MarkWritten(res.Absolute)
	}

	if !t.sb.Reads.CanWrite(res.Absolute, existing, moveFrom) {
		return fail(errs.UnreadTarget, "%s must be read before it can be overwritten", a.Path)
	}

	if err := os.WriteFile(res.Absolute, []byte(a.Content), 0o644); err != nil {
		return fail(errs.PathEscape, "write failed: %v", err)
	}
	t.sb.Reads.MarkWritten(res.Absolute)
	return ok(fmt.Sprintf("wrote %d bytes to %s", len(a.Content), a.Path))
}

// EditFileTool implements edit_file(path, old_string, new_string).
type EditFileTool struct{ sb *Sandbox }

func NewEditFileTool(sb *Sandbox) *EditFileTool { return &EditFileTool{sb: sb} }

func (t *EditFileTool) Name() string        { return "edit_file" }
func (t *EditFileTool) Description() string { return "Replace the first occurrence of old_string with new_string in an existing file. Requires a prior read_file." }
func (t *EditFileTool) Init(context.Context) error { return nil }
func (t *EditFileTool) Close() error               { return nil }

func (t *EditFileTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "path", Type: "string", Description: "File to edit.", Required: true},
		tool.SchemaParam{Name: "old_string", Type: "string", Description: "Exact text to replace.", Required: true},
		tool.SchemaParam{Name: "new_string", Type: "string", Description: "Replacement text.", Required: true},
	)
}

type editFileArgs struct {
	Path      string `json:"path"`
	OldString string `json:"old_string"`
	NewString string `json:"new_string"`
}

func (t *EditFileTool) Execute(_ context.Context, args json.RawMessage) (tool.ToolResult, error) {
	var a editFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return fail(errs.InvalidToolArguments, "%v", err)
	}
	res, err := t.sb.Paths.Resolve(a.Path, pathpolicy.Write)
	if err != nil {
		return resolveErrResult(err)
	}

	if !t.sb.Reads.CanWrite(res.Absolute, true, false) {
		return fail(errs.UnreadTarget, "%s must be read before it can be edited", a.Path)
	}

	data, err := os.ReadFile(res.Absolute)
	if err != nil {
		return fail(errs.PathEscape, "cannot read %s: %v", a.Path, err)
	}
	content := string(data)
	if !strings.Contains(content, a.OldString) {
		return fail(errs.InvalidToolArguments, "old_string not found in %s", a.Path)
	}
	updated := strings.Replace(content, a.OldString, a.NewString, 1)
	if err := os.WriteFile(res.Absolute, []byte(updated), 0o644); err != nil {
		return fail(errs.PathEscape, "write failed: %v", err)
	}
	t.sb.Reads.MarkWritten(res.Absolute)
	return ok(fmt.Sprintf("edited %s", a.Path))
}

// resolveErrResult maps a pathpolicy/errs error to a failed ToolResult.
func resolveErrResult(err error) (tool.ToolResult, error) {
	kind, ok := errs.KindOf(err)
	if !ok {
		kind = errs.PathEscape
	}
	return tool.ToolResult{Succeeded: false, Error: fmt.Sprintf("%s: %v", kind, err)}, nil
}
