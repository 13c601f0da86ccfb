// Package snapshot implements the Snapshot Controller: a small state
// machine that lets the user collapse a labeled region of the conversation
// into a single recap, with dirty-scope protection and a read-streak nudge.
package snapshot

import (
	"fmt"
	"sync"

	"github.com/swival/swival/internal/errs"
)

// State is the Snapshot Controller's state machine position.
type State string

const (
	StateIdle   State = "idle"
	StateActive State = "active"
)

// Checkpoint is the single active checkpoint, if any.
type Checkpoint struct {
	Label        string
	TurnAtSave   int
	Dirty        bool
}

// readStreakTarget is the number of consecutive read-only turns that earns
// a one-time nudge suggesting `snapshot restore`.
const readStreakTarget = 5

// Controller is the Snapshot Controller. Not safe for concurrent use beyond
// the agent loop's single goroutine, aside from the internal mutex which
// guards against incidental concurrent reads (e.g. a status command run
// from a different goroutine in future REPL modes).
type Controller struct {
	mu sync.Mutex

	state      State
	checkpoint *Checkpoint

	// lastRestoreTurn is the turn index of the most recent restore boundary,
	// used when Idle to determine the default restore range start.
	lastRestoreTurn int

	readStreak     int
	nudgeIssued    bool
}

// NewController creates a Controller starting Idle.
func NewController() *Controller {
	return &Controller{state: StateIdle}
}

// Save transitions Idle -> Active, recording the current turn index. Fails
// AlreadyActive if a checkpoint is already open.
func (c *Controller) Save(label string, currentTurn int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateActive {
		return errs.New(errs.AlreadyActive, fmt.Sprintf("a snapshot (%q) is already active", c.checkpoint.Label))
	}
	c.checkpoint = &Checkpoint{Label: label, TurnAtSave: currentTurn}
	c.state = StateActive
	return nil
}

// Cancel transitions Active -> Idle without producing a recap.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkpoint = nil
	c.state = StateIdle
}

// Status reports the current state and checkpoint, if any.
func (c *Controller) Status() (State, *Checkpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.checkpoint == nil {
		return c.state, nil
	}
	cp := *c.checkpoint
	return c.state, &cp
}

// RestoreRange returns the [from, to] turn range that should be collapsed
// into a recap message by Restore, given the current turn. If Active, the
// range starts at the checkpoint's save turn; if Idle, it starts at the
// most recent restore boundary (or turn 1 if none yet).
func (c *Controller) RestoreRange(currentTurn int) (from, to int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateActive {
		return c.checkpoint.TurnAtSave, currentTurn
	}
	if c.lastRestoreTurn > 0 {
		return c.lastRestoreTurn + 1, currentTurn
	}
	return 1, currentTurn
}

// Restore validates a restore attempt against the dirty-scope rule and, if
// permitted, transitions Active -> Idle (a no-op transition if already
// Idle) and advances the restore boundary. Returns an error if the active
// checkpoint is dirty and force is false.
func (c *Controller) Restore(currentTurn int, force bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateActive && c.checkpoint.Dirty && !force {
		return fmt.Errorf("snapshot %q has uncommitted mutations; pass force=true to collapse it anyway", c.checkpoint.Label)
	}
	c.checkpoint = nil
	c.state = StateIdle
	c.lastRestoreTurn = currentTurn
	return nil
}

// MarkDirty records that a mutating tool call happened while Active.
// A no-op when Idle.
func (c *Controller) MarkDirty() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateActive {
		c.checkpoint.Dirty = true
	}
}

// dirtyTools is the set of tool names whose successful execution marks the
// active checkpoint dirty.
var dirtyTools = map[string]bool{
	"write_file":  true,
	"edit_file":   true,
	"run_command": true,
}

// IsDirtying reports whether a successful call to toolName should mark the
// active checkpoint dirty.
func IsDirtying(toolName string) bool {
	return dirtyTools[toolName]
}

// readOnlyTools is the set of tool names that leave the read-only streak
// intact: pure reads and Knowledge Channel bookkeeping. Anything else —
// writes, command execution, URL fetches, snapshot operations, MCP tools —
// resets the streak.
var readOnlyTools = map[string]bool{
	"read_file": true,
	"list_dir":  true,
	"grep":      true,
	"think":     true,
	"todo":      true,
}

// IsReadOnly reports whether toolName counts as read-only for the
// read-streak nudge.
func IsReadOnly(toolName string) bool {
	return readOnlyTools[toolName]
}

// ObserveTurn updates the read-only streak after a completed turn and
// returns a one-time nudge string when the streak reaches readStreakTarget.
// allReadOnly must report whether every tool call in the turn was read-only
// (read_file, list_dir, grep, think, todo — the tools in readOnlyTools).
func (c *Controller) ObserveTurn(allReadOnly bool) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !allReadOnly {
		c.readStreak = 0
		c.nudgeIssued = false
		return ""
	}

	c.readStreak++
	if c.readStreak >= readStreakTarget && !c.nudgeIssued {
		c.nudgeIssued = true
		return "[SNAPSHOT] Several turns in a row have been read-only exploration — consider `snapshot restore` to consolidate progress before continuing."
	}
	return ""
}
