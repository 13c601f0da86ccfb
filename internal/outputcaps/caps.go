// Package outputcaps enforces per-tool output size limits after a tool runs
// and before its result enters the message list, spilling oversize output to
// a scratch directory with a pointer message.
package outputcaps

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Source identifies which cap table entry applies to a tool's output.
type Source int

const (
	FileRead Source = iota
	DirListing
	CommandOutput
	MCPResult
	MCPError
	URLFetch
	InstructionFile
)

const (
	fileReadInlineCap   = 50 * 1024
	fileReadLineCap     = 2000
	dirListingEntryCap  = 100
	commandInlineCap    = 10 * 1024
	commandSpillCap     = 1 * 1024 * 1024
	mcpResultInlineCap  = 20 * 1024
	mcpResultSpillCap   = 10 * 1024 * 1024
	mcpErrorInlineCap   = 20 * 1024
	urlFetchInlineCap   = 50 * 1024
	urlFetchSpillCap    = 5 * 1024 * 1024
	instructionFileCap  = 10_000
	spillSweepAge       = 10 * time.Minute
)

// Capper spills oversize tool output to scratchDir and returns an inline,
// capped representation plus a pointer when a spill happened. It remembers
// every spill file it created so a cancelled run can clean up after itself.
type Capper struct {
	scratchDir string

	mu      sync.Mutex
	created []string
}

func New(scratchDir string) *Capper {
	return &Capper{scratchDir: scratchDir}
}

// Result is the capped, message-ready representation of a tool's raw output.
type Result struct {
	Text       string
	Spilled    bool
	SpillPath  string
	Truncated  bool
}

// ApplyText caps a plain string result per source, spilling to disk when the
// source supports it and the content exceeds the inline cap.
func (c *Capper) ApplyText(source Source, content string) (Result, error) {
	switch source {
	case FileRead:
		return c.capLines(content, fileReadInlineCap, fileReadLineCap), nil
	case CommandOutput:
		return c.capWithSpill(content, commandInlineCap, commandSpillCap, "cmd_output_")
	case MCPResult:
		return c.capWithSpill(content, mcpResultInlineCap, mcpResultSpillCap, "mcp_result_")
	case MCPError:
		// MCP errors are never spilled, only truncated inline.
		return c.capInline(content, mcpErrorInlineCap), nil
	case URLFetch:
		return c.capWithSpill(content, urlFetchInlineCap, urlFetchSpillCap, "url_fetch_")
	case InstructionFile:
		return c.capInline(content, instructionFileCap), nil
	default:
		return c.capInline(content, fileReadInlineCap), nil
	}
}

// ApplyEntries caps a list of directory/grep entries to at most
// dirListingEntryCap items.
func ApplyEntries(entries []string) ([]string, bool) {
	if len(entries) <= dirListingEntryCap {
		return entries, false
	}
	return entries[:dirListingEntryCap], true
}

func (c *Capper) capInline(content string, cap int) Result {
	if len(content) <= cap {
		return Result{Text: content}
	}
	return Result{Text: content[:cap], Truncated: true}
}

// capLines enforces both a total byte cap and a per-line character cap, used
// for file reads.
func (c *Capper) capLines(content string, byteCap, lineCap int) Result {
	lines := strings.Split(content, "\n")
	truncated := false
	for i, line := range lines {
		if len(line) > lineCap {
			lines[i] = line[:lineCap]
			truncated = true
		}
	}
	joined := strings.Join(lines, "\n")
	if len(joined) > byteCap {
		joined = joined[:byteCap]
		truncated = true
	}
	return Result{Text: joined, Truncated: truncated}
}

// capWithSpill returns content unchanged when it fits inlineCap; otherwise
// writes the full content (up to spillCap) to scratchDir and returns a
// pointer message. Content beyond spillCap is simply dropped.
func (c *Capper) capWithSpill(content string, inlineCap, spillCap int, prefix string) (Result, error) {
	if len(content) <= inlineCap {
		return Result{Text: content}, nil
	}

	toSpill := content
	if len(toSpill) > spillCap {
		toSpill = toSpill[:spillCap]
	}

	if err := os.MkdirAll(c.scratchDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("outputcaps: create scratch dir: %w", err)
	}
	name := prefix + uuid.NewString() + ".txt"
	path := filepath.Join(c.scratchDir, name)
	if err := os.WriteFile(path, []byte(toSpill), 0o644); err != nil {
		return Result{}, fmt.Errorf("outputcaps: write spill file: %w", err)
	}
	c.mu.Lock()
	c.created = append(c.created, path)
	c.mu.Unlock()

	pointer := fmt.Sprintf("[output exceeded %d bytes — full output spilled to %s (%d bytes); read it with read_file using offset/limit to paginate]\n%s",
		inlineCap, path, len(toSpill), content[:inlineCap])
	return Result{Text: pointer, Spilled: true, SpillPath: path, Truncated: true}, nil
}

// CleanupRun removes every spill file this Capper created, regardless of
// age — called when a run is cancelled so interrupted output
// doesn't linger until the age sweep.
func (c *Capper) CleanupRun() {
	c.mu.Lock()
	paths := c.created
	c.created = nil
	c.mu.Unlock()
	for _, p := range paths {
		_ = os.Remove(p)
	}
}

// Sweep deletes spill files under scratchDir older than spillSweepAge.
func (c *Capper) Sweep(now time.Time) error {
	entries, err := os.ReadDir(c.scratchDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) > spillSweepAge {
			_ = os.Remove(filepath.Join(c.scratchDir, e.Name()))
		}
	}
	return nil
}
