package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/swival/swival/internal/errs"
	"github.com/swival/swival/internal/knowledge"
	"github.com/swival/swival/internal/snapshot"
	"github.com/swival/swival/internal/tool"
)

// ThinkTool implements think(text, revise_of?, branch_of?). It operates
// purely on the Thinking Knowledge Channel, never touching the message list.
type ThinkTool struct {
	channel *knowledge.Thinking
}

func NewThinkTool(channel *knowledge.Thinking) *ThinkTool { return &ThinkTool{channel: channel} }

func (t *ThinkTool) Name() string        { return "think" }
func (t *ThinkTool) Description() string { return "Record a reasoning step, optionally revising or branching from an earlier one." }
func (t *ThinkTool) Init(context.Context) error { return nil }
func (t *ThinkTool) Close() error               { return nil }

func (t *ThinkTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "text", Type: "string", Description: "The thought to record.", Required: true},
		tool.SchemaParam{Name: "revise_of", Type: "integer", Description: "Step number this revises, if any."},
		tool.SchemaParam{Name: "branch_of", Type: "integer", Description: "Step number this branches from, if any."},
	)
}

type thinkArgs struct {
	Text     string `json:"text"`
	ReviseOf int    `json:"revise_of"`
	BranchOf int    `json:"branch_of"`
}

func (t *ThinkTool) Execute(_ context.Context, args json.RawMessage) (tool.ToolResult, error) {
	var a thinkArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return fail(errs.InvalidToolArguments, "%v", err)
	}
	parent := a.ReviseOf
	if parent == 0 {
		parent = a.BranchOf
	}
	n := t.channel.Add(a.Text, parent)
	return ok(fmt.Sprintf("recorded thinking step %d", n))
}

// TodoTool implements todo(action, text?, id?, state?): a single tool
// multiplexing add/update/list over the Todos Knowledge Channel, matching
// how a CLI coding agent typically exposes a small todo surface through one
// tool rather than three.
type TodoTool struct {
	channel   *knowledge.Todos
	turnFunc  func() int
}

func NewTodoTool(channel *knowledge.Todos, turnFunc func() int) *TodoTool {
	return &TodoTool{channel: channel, turnFunc: turnFunc}
}

func (t *TodoTool) Name() string        { return "todo" }
func (t *TodoTool) Description() string { return "Manage the session todo list: add, set_state, or list items." }
func (t *TodoTool) Init(context.Context) error { return nil }
func (t *TodoTool) Close() error               { return nil }

func (t *TodoTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "action", Type: "string", Description: "add | set_state | list", Required: true, Enum: []string{"add", "set_state", "list"}},
		tool.SchemaParam{Name: "text", Type: "string", Description: "Item text, for action=add."},
		tool.SchemaParam{Name: "id", Type: "integer", Description: "Item id, for action=set_state."},
		tool.SchemaParam{Name: "state", Type: "string", Description: "pending | in-progress | done | cancelled, for action=set_state.",
			Enum: []string{"pending", "in-progress", "done", "cancelled"}},
	)
}

type todoArgs struct {
	Action string `json:"action"`
	Text   string `json:"text"`
	ID     int    `json:"id"`
	State  string `json:"state"`
}

func (t *TodoTool) Execute(_ context.Context, args json.RawMessage) (tool.ToolResult, error) {
	var a todoArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return fail(errs.InvalidToolArguments, "%v", err)
	}
	turn := t.turnFunc()
	switch a.Action {
	case "add":
		if a.Text == "" {
			return fail(errs.InvalidToolArguments, "text is required for action=add")
		}
		item := t.channel.Add(a.Text, turn)
		return ok(fmt.Sprintf("added todo #%d: %s", item.ID, item.Text))
	case "set_state":
		state := knowledge.TodoState(a.State)
		switch state {
		case knowledge.TodoPending, knowledge.TodoInProgress, knowledge.TodoDone, knowledge.TodoCancelled:
		default:
			return fail(errs.InvalidToolArguments, "invalid state %q", a.State)
		}
		if !t.channel.SetState(a.ID, state, turn) {
			return fail(errs.InvalidToolArguments, "no todo item with id %d", a.ID)
		}
		return ok(fmt.Sprintf("todo #%d set to %s", a.ID, a.State))
	case "list":
		items := t.channel.Items()
		if len(items) == 0 {
			return ok("(no todo items)")
		}
		var out string
		for _, it := range items {
			out += fmt.Sprintf("[%s] (%d) %s\n", it.State, it.ID, it.Text)
		}
		return ok(out)
	default:
		return fail(errs.InvalidToolArguments, "unknown action %q", a.Action)
	}
}

// SnapshotTool implements snapshot(action, label?, force?): save, restore,
// cancel, status over the Snapshot Controller. The actual
// message-list collapse happens in the agent loop, which observes a
// successful "restore" result and performs the splice; this tool only
// drives the state machine and reports outcomes.
type SnapshotTool struct {
	controller *snapshot.Controller
	turnFunc   func() int
}

func NewSnapshotTool(controller *snapshot.Controller, turnFunc func() int) *SnapshotTool {
	return &SnapshotTool{controller: controller, turnFunc: turnFunc}
}

func (t *SnapshotTool) Name() string        { return "snapshot" }
func (t *SnapshotTool) Description() string { return "Save, restore, cancel, or check the status of a labeled conversation snapshot." }
func (t *SnapshotTool) Init(context.Context) error { return nil }
func (t *SnapshotTool) Close() error               { return nil }

func (t *SnapshotTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "action", Type: "string", Description: "save | restore | cancel | status", Required: true,
			Enum: []string{"save", "restore", "cancel", "status"}},
		tool.SchemaParam{Name: "label", Type: "string", Description: "Checkpoint label, for action=save."},
		tool.SchemaParam{Name: "force", Type: "boolean", Description: "Collapse a dirty checkpoint anyway, for action=restore."},
	)
}

type snapshotArgs struct {
	Action string `json:"action"`
	Label  string `json:"label"`
	Force  bool   `json:"force"`
}

func (t *SnapshotTool) Execute(_ context.Context, args json.RawMessage) (tool.ToolResult, error) {
	var a snapshotArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return fail(errs.InvalidToolArguments, "%v", err)
	}
	turn := t.turnFunc()
	switch a.Action {
	case "save":
		if a.Label == "" {
			return fail(errs.InvalidToolArguments, "label is required for action=save")
		}
		if err := t.controller.Save(a.Label, turn); err != nil {
			kind, _ := errs.KindOf(err)
			return fail(kind, "%v", err)
		}
		return ok(fmt.Sprintf("snapshot %q saved at turn %d", a.Label, turn))
	case "restore":
		from, to := t.controller.RestoreRange(turn)
		if err := t.controller.Restore(turn, a.Force); err != nil {
			return tool.ToolResult{Succeeded: false, Error: err.Error()}, nil
		}
		return ok(fmt.Sprintf("restore:%d:%d", from, to))
	case "cancel":
		t.controller.Cancel()
		return ok("snapshot cancelled")
	case "status":
		state, cp := t.controller.Status()
		if cp == nil {
			return ok(fmt.Sprintf("state=%s", state))
		}
		return ok(fmt.Sprintf("state=%s label=%q turn_at_save=%d dirty=%v", state, cp.Label, cp.TurnAtSave, cp.Dirty))
	default:
		return fail(errs.InvalidToolArguments, "unknown action %q", a.Action)
	}
}
