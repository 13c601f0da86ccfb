package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// flags holds the full CLI surface. Bound directly to pflag
// variables rather than a separate struct, matching vanducng-goclaw's
// cmd/root.go convention of package-level flag vars.
var flags struct {
	baseDir      string
	addDirs      []string
	addDirsRO    []string
	allowedCmds  string
	yolo         bool
	noReadGuard  bool
	maxTurns     int
	maxOutput    int
	maxContext   int
	temperature  float64
	topP         float64
	seed         int
	proactive    bool
	reportPath   string
	repl         bool
	noMCP        bool
	mcpConfig    string
	sandbox      string
	sandboxSess  string
	noAutoSess   bool
	strictRead   bool
}

var rootCmd = &cobra.Command{
	Use:           "swival [task]",
	Short:         "swival — a tool-using coding agent loop",
	Long:          "swival drives an LLM through a turn-based agent loop over a sandboxed set of filesystem, command, and MCP tools, with graduated context compaction and a structured run report.",
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.ArbitraryArgs,
	RunE:          runRoot,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&flags.baseDir, "base-dir", ".", "base directory the agent operates in (always a read-write root)")
	f.StringArrayVar(&flags.addDirs, "add-dir", nil, "additional read-write root (repeatable)")
	f.StringArrayVar(&flags.addDirsRO, "add-dir-ro", nil, "additional read-only root (repeatable)")
	f.StringVar(&flags.allowedCmds, "allowed-commands", "", "comma-separated allowlist for run_command")
	f.BoolVar(&flags.yolo, "yolo", false, "relax the sandbox: bypass command whitelist and root containment (never the filesystem root)")
	f.BoolVar(&flags.noReadGuard, "no-read-guard", false, "disable the read-before-write requirement")
	f.IntVar(&flags.maxTurns, "max-turns", 25, "maximum agent loop turns before exhaustion")
	f.IntVar(&flags.maxOutput, "max-output-tokens", 1024, "maximum output tokens per LLM call")
	f.IntVar(&flags.maxContext, "max-context-tokens", 0, "context window override (0 = auto-detect from model)")
	f.Float64Var(&flags.temperature, "temperature", 0, "sampling temperature override")
	f.Float64Var(&flags.topP, "top-p", 0, "nucleus sampling override")
	f.IntVar(&flags.seed, "seed", 0, "deterministic sampling seed override")
	f.BoolVar(&flags.proactive, "proactive-summaries", false, "enable periodic background checkpoint summarization")
	f.StringVar(&flags.reportPath, "report", "", "write the run report as JSON to this path instead of printing the answer to stdout")
	f.BoolVar(&flags.repl, "repl", false, "run an interactive REPL instead of a single task")
	f.BoolVar(&flags.noMCP, "no-mcp", false, "disable all MCP server connections")
	f.StringVar(&flags.mcpConfig, "mcp-config", "", "explicit MCP server config file, overriding project/global config")
	f.StringVar(&flags.sandbox, "sandbox", "", "overlay filesystem integration to re-exec under (e.g. agentfs); unset runs directly on the host fs")
	f.StringVar(&flags.sandboxSess, "sandbox-session", "", "reuse an existing overlay session ID")
	f.BoolVar(&flags.noAutoSess, "no-sandbox-auto-session", false, "don't derive an overlay session ID automatically from the base directory")
	f.BoolVar(&flags.strictRead, "sandbox-strict-read", false, "require the overlay to enforce read isolation as well as writes")

	// Accept snake_case spellings of any flag, normalized to the canonical
	// dashed form.
	f.SetNormalizeFunc(func(fs *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "swival:", err)
		return 1
	}
	return rootExitCode
}

// rootExitCode is set by runRoot/runTask before returning, since cobra's
// RunE only reports success/failure, not the tri-state exit code the CLI
// requires (0 success, 1 error, 2 exhausted).
var rootExitCode int

func runRoot(cmd *cobra.Command, args []string) error {
	if flags.reportPath != "" && flags.repl {
		return fmt.Errorf("--report and --repl are mutually exclusive")
	}

	// A single interrupt cancels the in-flight LLM call and tool, the run
	// records outcome=error, the report is still flushed, spill files of the
	// run are cleaned by App.RunOnce, and MCP sessions close via App.Close.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := wireApp(cmd)
	if err != nil {
		rootExitCode = 1
		return err
	}
	defer app.Close()

	if flags.repl {
		rootExitCode = app.RunRepl(ctx)
		return nil
	}

	task, err := app.ResolveTask(args)
	if err != nil {
		rootExitCode = 1
		return err
	}
	rootExitCode = app.RunOnce(ctx, task)
	return nil
}
