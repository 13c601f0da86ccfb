package main

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/swival/swival/internal/agent"
	"github.com/swival/swival/internal/config"
	"github.com/swival/swival/internal/contextmgr"
	"github.com/swival/swival/internal/guardrail"
	"github.com/swival/swival/internal/knowledge"
	"github.com/swival/swival/internal/llm/openai"
	"github.com/swival/swival/internal/mcp"
	"github.com/swival/swival/internal/outputcaps"
	"github.com/swival/swival/internal/pathpolicy"
	"github.com/swival/swival/internal/readtracker"
	"github.com/swival/swival/internal/report"
	"github.com/swival/swival/internal/snapshot"
	"github.com/swival/swival/internal/tool"
	"github.com/swival/swival/internal/tool/builtin"
)

// safetyMargin and safetyFloor tune the Context Manager's per-turn output
// budget: margin reserves headroom for framing/estimation
// error, floor is the point below which compaction must run before the
// next LLM call is attempted.
const (
	safetyMargin = 256
	safetyFloor  = 64
)

// instructionFileNames are the project instruction files loaded from the
// base directory, if present, in this fixed order.
var instructionFileNames = []string{"AGENTS.md", "SWIVAL.md", "rules.md"}

// App bundles everything wired up for one process run: the agent Session
// plus the pieces that need explicit teardown (MCP connections).
type App struct {
	session    *agent.Session
	mcpMgr     *mcp.Manager
	settings   report.Settings
	fs         afero.Fs
	reportOnly bool
	reportPath string
}

// wireApp builds the full dependency graph for one process run from the
// parsed CLI flags and environment: provider, sandboxed tool registry, MCP
// pool, context manager, knowledge channels, guardrail, snapshot
// controller, and report recorder.
func wireApp(cmd *cobra.Command) (*App, error) {
	config.LoadEnv()

	if err := checkSandboxFlags(); err != nil {
		return nil, err
	}

	baseDir, err := filepath.Abs(flags.baseDir)
	if err != nil {
		return nil, fmt.Errorf("config: invalid --base-dir: %w", err)
	}
	if info, err := os.Stat(baseDir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("config: --base-dir %q does not exist or is not a directory", baseDir)
	}

	llmClient, err := openai.NewClientFromEnv()
	if err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}
	applyCLISamplingOverrides(cmd, llmClient.GetConfig())

	contextWindow := flags.maxContext
	if contextWindow <= 0 {
		contextWindow = llmClient.GetConfig().ResolveContextWindow()
	}

	fs := afero.NewOsFs()
	scratchDir := filepath.Join(baseDir, ".swival")
	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		return nil, fmt.Errorf("config: cannot create scratch dir %q: %w", scratchDir, err)
	}

	paths, err := pathpolicy.New(baseDir, flags.addDirs, flags.addDirsRO, flags.yolo)
	if err != nil {
		return nil, err
	}
	reads := readtracker.New(flags.noReadGuard)
	caps := outputcaps.New(scratchDir)
	_ = caps.Sweep(time.Now()) // clear stale spill files left by earlier runs

	sb := &builtin.Sandbox{Paths: paths, Reads: reads, Caps: caps}
	registry := tool.NewRegistry()
	registry.Register(builtin.NewReadFileTool(sb))
	registry.Register(builtin.NewWriteFileTool(sb))
	registry.Register(builtin.NewEditFileTool(sb))
	registry.Register(builtin.NewListDirTool(sb))
	registry.Register(builtin.NewGrepTool(sb))
	registry.Register(builtin.NewFetchURLTool(sb))

	allowedCommands := splitCSV(flags.allowedCmds)
	if len(allowedCommands) > 0 || flags.yolo {
		cmdTool, err := builtin.NewCommandTool(sb, allowedCommands, baseDir, baseDir, flags.yolo)
		if err != nil {
			return nil, err
		}
		registry.Register(cmdTool)
	}

	turnRef := new(int)
	turnFunc := func() int { return *turnRef }

	channels := knowledge.New(fs, filepath.Join(scratchDir, "todo.md"))
	snapCtl := snapshot.NewController()
	registry.Register(builtin.NewThinkTool(channels.Thinking))
	registry.Register(builtin.NewTodoTool(channels.Todos, turnFunc))
	registry.Register(builtin.NewSnapshotTool(snapCtl, turnFunc))

	var mcpMgr *mcp.Manager
	if !flags.noMCP {
		mcpMgr = mcp.NewManager()
		servers, err := config.ResolveMCPServers(
			flags.mcpConfig,
			filepath.Join(baseDir, "swival.toml"),
			filepath.Join(baseDir, ".mcp.json"),
			globalMCPConfigPath(),
		)
		if err != nil {
			return nil, err
		}
		if len(servers) > 0 {
			ctx := context.Background()
			for _, res := range mcpMgr.ConnectAll(ctx, servers) {
				if res.Err != nil {
					log.Printf("[MCP] server %q unavailable: %v", res.Name, res.Err)
				}
			}
			mcpMgr.ApplySchemaBudget(contextWindow)
			mcpMgr.RegisterTools(registry)
		}
	}

	if err := registry.InitAll(context.Background()); err != nil {
		return nil, fmt.Errorf("tool: %w", err)
	}

	instructionFiles, loadedNames := loadInstructionFiles(baseDir, caps)
	skills := discoverSkills(baseDir)

	preamble := agentPreamble
	if !llmClient.SupportsFunctionCalling() {
		preamble += "\n\n" + agent.YAMLDecisionGuide
	}
	basePrompt := agent.BuildBasePrompt(preamble, registry.GenerateToolsPrompt(), instructionFiles)

	cm := contextmgr.New(contextWindow, flags.maxOutput, safetyMargin, safetyFloor)
	summarizer := &agent.LLMSummarizer{Provider: llmClient}

	session := &agent.Session{
		Fs:           fs,
		Registry:     registry,
		Provider:     llmClient,
		ModelName:    llmClient.GetConfig().Model,
		ProviderName: llmClient.GetName(),
		ContextMgr:   cm,
		Summarizer:   summarizer,
		BasePrompt:   basePrompt,
		Channels:     channels,
		Merger:       summarizer,
		Caps:         caps,
		Guardrail:    guardrail.New(),
		Snapshot:     snapCtl,
		Recorder:     report.NewRecorder(),
		HistoryPath:  filepath.Join(scratchDir, "HISTORY.md"),
		TurnRef:      turnRef,
		Proactive:    flags.proactive,
	}

	settings := report.Settings{
		Temperature:        float64FromPtr(llmClient.GetConfig().Temperature),
		TopP:               float64FromPtr(llmClient.GetConfig().TopP),
		Seed:               intFromPtr(llmClient.GetConfig().Seed),
		MaxTurns:           flags.maxTurns,
		MaxOutputTokens:    flags.maxOutput,
		ContextLength:      contextWindow,
		YOLO:               flags.yolo,
		AllowedCommands:    sortedCopy(allowedCommands),
		SkillsDiscovered:   skills,
		InstructionsLoaded: loadedNames,
	}

	return &App{
		session:    session,
		mcpMgr:     mcpMgr,
		settings:   settings,
		fs:         fs,
		reportOnly: flags.reportPath != "",
		reportPath: flags.reportPath,
	}, nil
}

// Close tears down everything that outlives a single task: the MCP
// sessions. Spill files of an interrupted run are removed by RunOnce.
func (a *App) Close() {
	if a.mcpMgr != nil {
		a.mcpMgr.CloseAll()
	}
}

// checkSandboxFlags validates the overlay-filesystem flag group. This build
// ships no overlay integration, so any request for one is a configuration
// error — but an actionable one, including the session ID that would have
// been used, so the operator can carry it to a build that does.
func checkSandboxFlags() error {
	if flags.sandbox == "" {
		if flags.strictRead {
			return fmt.Errorf("config: --sandbox-strict-read requires --sandbox, which this build does not ship; remove the flag to run directly on the host filesystem")
		}
		return nil
	}
	sessionID := flags.sandboxSess
	if sessionID == "" && !flags.noAutoSess {
		if abs, err := filepath.Abs(flags.baseDir); err == nil {
			sessionID = deriveSessionID(abs)
		}
	}
	return fmt.Errorf("config: --sandbox=%q requires an overlay filesystem integration that this build does not ship (session ID would be %q); omit --sandbox to run directly on the host filesystem", flags.sandbox, sessionID)
}

// deriveSessionID maps a project directory to a stable overlay session ID:
// the same canonical absolute path always reuses the same session.
func deriveSessionID(canonicalBaseDir string) string {
	sum := sha256.Sum256([]byte(canonicalBaseDir))
	return "swival-" + hex.EncodeToString(sum[:8])
}

// ResolveTask joins positional args into the task text, falling back to
// reading all of stdin when none were given (piped task input).
func (a *App) ResolveTask(args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("reading task from stdin: %w", err)
	}
	task := strings.TrimSpace(string(data))
	if task == "" {
		return "", fmt.Errorf("no task given: pass it as an argument or pipe it on stdin")
	}
	return task, nil
}

// RunOnce drives a single task through the agent loop and reports the
// result: to --report as JSON, or the answer to stdout.
func (a *App) RunOnce(ctx context.Context, task string) int {
	rep, exitCode := agent.Run(ctx, task, a.session, a.settings)

	if ctx.Err() != nil {
		a.session.Caps.CleanupRun()
	}

	if a.reportOnly {
		if err := report.WriteAtomic(a.fs, a.reportPath, rep); err != nil {
			fmt.Fprintln(os.Stderr, "swival: writing report:", err)
			return 1
		}
		return exitCode
	}

	if rep.Result.Answer != nil {
		fmt.Println(*rep.Result.Answer)
	}
	if rep.Result.ErrorMessage != "" {
		fmt.Fprintln(os.Stderr, "swival:", rep.Result.ErrorMessage)
	}
	return exitCode
}

// RunRepl reads successive lines from stdin, running each as its own task
// through a fresh turn budget but the same warm session (tools, MCP pool,
// knowledge channels persist across tasks). Line-editing niceties (history,
// completion) are explicitly out of scope — this is a plain
// scanner loop.
func (a *App) RunRepl(ctx context.Context) int {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Fprintln(os.Stderr, "swival repl — one task per line, Ctrl-D to exit")
	last := 0
	for {
		fmt.Fprint(os.Stderr, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		last = a.RunOnce(ctx, line)
	}
	return last
}

// applyCLISamplingOverrides copies any explicitly-set --temperature/--top-p
// /--seed flags onto the provider config, leaving the env-derived defaults
// in place for flags the user didn't pass.
func applyCLISamplingOverrides(cmd *cobra.Command, cfg *openai.Config) {
	if cmd.Flags().Changed("temperature") {
		t := float32(flags.temperature)
		cfg.Temperature = &t
	}
	if cmd.Flags().Changed("top-p") {
		p := float32(flags.topP)
		cfg.TopP = &p
	}
	if cmd.Flags().Changed("seed") {
		s := flags.seed
		cfg.Seed = &s
	}
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func sortedCopy(s []string) []string {
	out := make([]string, len(s))
	copy(out, s)
	sort.Strings(out)
	return out
}

// loadInstructionFiles reads any of instructionFileNames present directly
// under baseDir, capping each at the instruction-file limit.
func loadInstructionFiles(baseDir string, caps *outputcaps.Capper) ([]agent.InstructionFile, []string) {
	var files []agent.InstructionFile
	var names []string
	for _, name := range instructionFileNames {
		path := filepath.Join(baseDir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		capped, cerr := caps.ApplyText(outputcaps.InstructionFile, string(data))
		if cerr != nil {
			continue
		}
		files = append(files, agent.InstructionFile{Name: name, Content: capped.Text})
		names = append(names, name)
	}
	return files, names
}

// discoverSkills lists the immediate subdirectories of <baseDir>/skills, if
// present, sorted by name — the set surfaced in the report's
// skills_discovered field. Skill compilation/execution beyond
// discovery is out of this runtime's scope.
func discoverSkills(baseDir string) []string {
	entries, err := os.ReadDir(filepath.Join(baseDir, "skills"))
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}

// globalMCPConfigPath returns the lowest-precedence MCP config location,
// under the user's config directory.
func globalMCPConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "swival", "mcp.json")
}

func float64FromPtr(p *float32) float64 {
	if p == nil {
		return 0
	}
	return float64(*p)
}

func intFromPtr(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

// agentPreamble is the static system-prompt preamble; project instructions
// and the tool catalog are layered on top of it by BuildBasePrompt.
const agentPreamble = `You are swival, a careful coding agent operating inside a sandboxed workspace.
Use the available tools to read and modify files, run whitelisted commands, and fetch URLs as needed.
Think before acting on ambiguous requests; record non-trivial reasoning with the think tool.
Read a file before editing or overwriting it. When the task is complete, answer with plain text and no further tool calls.`
