package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/swival/swival/internal/errs"
	"github.com/swival/swival/internal/outputcaps"
	"github.com/swival/swival/internal/tool"
)

const defaultCommandTimeout = 2 * time.Minute

// CommandTool implements run_command(args[]), restricted at startup to an
// explicit allowlist of resolved absolute executable paths. There is no
// shell: args[0] is looked up directly, never interpreted by /bin/sh. Under
// YOLO the allowlist is bypassed and any resolvable command runs.
type CommandTool struct {
	sb      *Sandbox
	allowed map[string]string // basename -> resolved absolute path
	workDir string
	yolo    bool
}

// NewCommandTool resolves each entry of allowedCommands to an absolute path
// at startup (via exec.LookPath, falling back to the literal path if it is
// already absolute) and rejects any entry that resolves inside the base
// directory the agent operates on — an executable living in the sandboxed
// tree could be swapped out by the agent's own writes.
func NewCommandTool(sb *Sandbox, allowedCommands []string, workDir string, baseDir string, yolo bool) (*CommandTool, error) {
	t := &CommandTool{sb: sb, allowed: make(map[string]string), workDir: workDir, yolo: yolo}
	baseAbs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, errs.Wrap(errs.ConfigError, "invalid base dir", err)
	}
	for _, name := range allowedCommands {
		resolved := name
		if !filepath.IsAbs(name) {
			p, err := exec.LookPath(name)
			if err != nil {
				return nil, errs.Wrap(errs.ConfigError, fmt.Sprintf("allowed command %q not found on PATH", name), err)
			}
			resolved = p
		}
		abs, err := filepath.Abs(resolved)
		if err != nil {
			return nil, errs.Wrap(errs.ConfigError, "cannot resolve allowed command", err)
		}
		if abs == baseAbs || strings.HasPrefix(abs, baseAbs+string(filepath.Separator)) {
			return nil, errs.New(errs.ConfigError, fmt.Sprintf("allowed command %q resolves inside the base directory and cannot be whitelisted", name))
		}
		t.allowed[filepath.Base(name)] = abs
	}
	return t, nil
}

func (t *CommandTool) Name() string        { return "run_command" }
func (t *CommandTool) Description() string {
	return "Run a whitelisted executable with an explicit argument array. There is no shell: no globbing, piping, or redirection."
}
func (t *CommandTool) Init(context.Context) error { return nil }
func (t *CommandTool) Close() error               { return nil }

func (t *CommandTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "args", Type: "array", Description: "Argument vector; args[0] is the command name and must be on the allowlist.", Required: true,
			Items: &tool.SchemaParam{Type: "string"}},
	)
}

type commandArgs struct {
	Args []string `json:"args"`
}

func (t *CommandTool) Execute(ctx context.Context, args json.RawMessage) (tool.ToolResult, error) {
	var a commandArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return fail(errs.InvalidToolArguments, "%v", err)
	}
	if len(a.Args) == 0 {
		return fail(errs.InvalidToolArguments, "args must contain at least a command name")
	}

	base := filepath.Base(a.Args[0])
	resolved, allowed := t.allowed[base]
	if !allowed {
		if !t.yolo {
			return fail(errs.CommandNotAllowed, "%q is not on the allowed command list", a.Args[0])
		}
		p := a.Args[0]
		if !filepath.IsAbs(p) {
			lp, err := exec.LookPath(p)
			if err != nil {
				return fail(errs.CommandNotAllowed, "%q not found on PATH", a.Args[0])
			}
			p = lp
		}
		resolved = p
	}

	runCtx, cancel := context.WithTimeout(ctx, defaultCommandTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, resolved, a.Args[1:]...)
	cmd.Dir = t.workDir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	combined := stdout.String()
	if stderr.Len() > 0 {
		combined += "\n--- stderr ---\n" + stderr.String()
	}

	capped, err := t.sb.Caps.ApplyText(outputcaps.CommandOutput, combined)
	if err != nil {
		return tool.ToolResult{}, err
	}

	if runErr != nil {
		exitMsg := runErr.Error()
		if runCtx.Err() != nil {
			exitMsg = "command timed out"
		}
		return tool.ToolResult{Succeeded: false, Output: capped.Text, Error: exitMsg}, nil
	}
	return ok(capped.Text)
}
