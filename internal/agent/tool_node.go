package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/swival/swival/internal/contextmgr"
	"github.com/swival/swival/internal/core"
	"github.com/swival/swival/internal/errs"
	"github.com/swival/swival/internal/knowledge"
	"github.com/swival/swival/internal/llm"
	"github.com/swival/swival/internal/outputcaps"
	"github.com/swival/swival/internal/snapshot"
)

// ToolNodeImpl implements BaseNode[AgentState, ToolPrep, ToolExecResult]. It
// dispatches every tool call DecideNode collected, in the order the model
// emitted them, caps MCP output (the adapter itself returns raw text — see
// internal/mcp/adapter.go), feeds the guardrail and Snapshot Controller, and
// logs fetch_url calls to the persisted history file.
type ToolNodeImpl struct {
	session *Session
}

func NewToolNode(session *Session) *ToolNodeImpl { return &ToolNodeImpl{session: session} }

// Prep expands the tool calls LastDecision carries into one work item per
// call. Returns nil when the last decision was a final answer — nothing for
// this node to do. Arguments that are not valid JSON are flagged here so
// Exec can fail the call without running it and Post can record the event
// with arguments=null.
func (n *ToolNodeImpl) Prep(state *AgentState) []ToolPrep {
	if state.LastDecision == nil || state.LastDecision.IsAnswer {
		return nil
	}
	preps := make([]ToolPrep, 0, len(state.LastDecision.Calls))
	for _, call := range state.LastDecision.Calls {
		p := ToolPrep{
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Args:       call.Arguments,
			ArgsValid:  len(call.Arguments) == 0 || json.Valid(call.Arguments),
			Turn:       state.CurrentTurn,
		}
		if call.Name == "snapshot" {
			p.Messages = make([]contextmgr.Message, len(state.Messages))
			copy(p.Messages, state.Messages)
		}
		preps = append(preps, p)
	}
	return preps
}

// Exec resolves and runs a single tool call, applying output caps to
// MCP-sourced results before the output ever reaches the message list.
func (n *ToolNodeImpl) Exec(ctx context.Context, prep ToolPrep) (ToolExecResult, error) {
	start := time.Now()

	if !prep.ArgsValid {
		return ToolExecResult{
			Succeeded:  false,
			ErrorMsg:   fmt.Sprintf("%s: the model emitted arguments that are not valid JSON", errs.InvalidToolArguments),
			DurationMs: time.Since(start).Milliseconds(),
		}, nil
	}

	t, found := n.session.Registry.Get(prep.ToolName)
	if !found {
		return ToolExecResult{
			Succeeded:  false,
			ErrorMsg:   fmt.Sprintf("tool %q is not registered", prep.ToolName),
			DurationMs: time.Since(start).Milliseconds(),
		}, nil
	}

	res, err := t.Execute(ctx, prep.Args)
	if err != nil {
		return ToolExecResult{
			Succeeded:  false,
			ErrorMsg:   err.Error(),
			DurationMs: time.Since(start).Milliseconds(),
		}, nil
	}

	output, errMsg := res.Output, res.Error
	if strings.HasPrefix(prep.ToolName, "mcp__") {
		if res.Succeeded {
			if capped, cerr := n.session.Caps.ApplyText(outputcaps.MCPResult, output); cerr == nil {
				output = capped.Text
			}
		} else {
			if capped, cerr := n.session.Caps.ApplyText(outputcaps.MCPError, errMsg); cerr == nil {
				errMsg = capped.Text
			}
		}
	}

	if prep.ToolName == "fetch_url" && res.Succeeded {
		n.session.AppendHistory(urlArg(prep.Args), output)
	}

	var restore *RestoreOutcome
	if prep.ToolName == "snapshot" && res.Succeeded {
		restore = n.buildRestoreOutcome(ctx, prep, output)
	}

	return ToolExecResult{
		Succeeded:  res.Succeeded,
		Output:     output,
		ErrorMsg:   errMsg,
		DurationMs: time.Since(start).Milliseconds(),
		Restore:    restore,
	}, nil
}

// buildRestoreOutcome recognizes the snapshot tool's "restore:<from>:<to>"
// success marker and summarizes the turn range it names into a single recap.
// Any other snapshot action's output does not match the
// marker, so this is a no-op for save/cancel/status.
func (n *ToolNodeImpl) buildRestoreOutcome(ctx context.Context, prep ToolPrep, output string) *RestoreOutcome {
	parts := strings.Split(output, ":")
	if len(parts) != 3 || parts[0] != "restore" {
		return nil
	}
	from, err1 := strconv.Atoi(parts[1])
	to, err2 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil {
		return nil
	}

	var batch []contextmgr.Message
	for _, m := range prep.Messages {
		if m.TurnIndex >= from && m.TurnIndex <= to {
			batch = append(batch, m)
		}
	}

	text := ""
	if n.session.Summarizer != nil {
		if t, err := n.session.Summarizer.Summarize(ctx, batch); err == nil {
			text = t
		}
	}
	if text == "" {
		text = fmt.Sprintf("turns %d-%d collapsed (%d messages)", from, to, len(batch))
	}

	return &RestoreOutcome{Label: "restore", From: from, To: to, Text: text}
}

// ExecFallback reports an execution failure after retry as a failed tool
// result rather than aborting the whole run — the model sees it as ordinary
// tool output, consistent with how Tool.Execute itself never raises.
func (n *ToolNodeImpl) ExecFallback(err error) ToolExecResult {
	return ToolExecResult{Succeeded: false, ErrorMsg: fmt.Sprintf("tool execution failed after retries: %v", err)}
}

// Post appends one result message per call, in call order, drives the
// guardrail and Snapshot Controller, and checks the todo reminder, then
// routes back to DecideNode. The read-streak and todo reminder are
// per-turn concerns: they are evaluated once, after all of the turn's
// calls, and their text lands on the final result message.
func (n *ToolNodeImpl) Post(state *AgentState, prep []ToolPrep, results ...ToolExecResult) core.Action {
	if len(prep) == 0 || len(results) == 0 {
		return core.ActionDefault
	}

	allReadOnly := true
	for i := range prep {
		p, r := prep[i], results[i]

		content := r.Output
		if !r.Succeeded {
			content = fmt.Sprintf(`{"succeeded":false,"error":%s}`, jsonString(r.ErrorMsg))
		}

		intervention := n.session.Guardrail.Record(p.ToolName, string(p.Args), r.Succeeded)
		if intervention.Level != "" {
			n.session.Recorder.RecordGuardrail(p.Turn, p.ToolName, string(intervention.Level))
			content += "\n" + intervention.Message()
		}

		if !snapshot.IsReadOnly(p.ToolName) {
			allReadOnly = false
		}
		if r.Succeeded && snapshot.IsDirtying(p.ToolName) {
			n.session.Snapshot.MarkDirty()
		}

		state.Messages = append(state.Messages, contextmgr.Message{
			Message: llm.Message{
				Role:       llm.RoleTool,
				Content:    content,
				ToolCallID: p.ToolCallID,
				Name:       p.ToolName,
			},
			TurnIndex: p.Turn,
			State:     contextmgr.StateRaw,
		})

		if r.Restore != nil {
			n.applyRestore(state, r.Restore)
		}

		args := p.Args
		if !p.ArgsValid {
			args = nil
		}
		n.session.Recorder.RecordToolCall(p.Turn, p.ToolName, args, r.Succeeded, time.Duration(r.DurationMs)*time.Millisecond, len(r.Output), r.ErrorMsg)
	}

	turn := prep[0].Turn
	var extra []string
	if nudge := n.session.Snapshot.ObserveTurn(allReadOnly); nudge != "" {
		extra = append(extra, nudge)
	}
	if reminder := n.session.Channels.Todos.CheckReminder(turn); reminder != "" {
		extra = append(extra, reminder)
	}
	if len(extra) > 0 && len(state.Messages) > 0 {
		last := &state.Messages[len(state.Messages)-1]
		last.Content += "\n" + strings.Join(extra, "\n")
	}

	return core.ActionDefault
}

// applyRestore records the SnapshotRecap (rendered into every future system
// prompt via Channels.Render, so it survives every compaction level)
// and drops every message in [from, to] from state.Messages — including the
// tool-result message Post just appended for the restore call itself, since
// RestoreRange's upper bound is the current turn. The model learns the outcome from the recap on its next
// turn instead.
func (n *ToolNodeImpl) applyRestore(state *AgentState, ro *RestoreOutcome) {
	n.session.Channels.Recaps.Add(knowledge.SnapshotRecap{
		Label:        ro.Label,
		SummaryText:  ro.Text,
		TurnRangeLow: ro.From,
		TurnRangeHi:  ro.To,
	})

	kept := state.Messages[:0:0]
	for _, m := range state.Messages {
		if m.TurnIndex == 0 || m.TurnIndex < ro.From || m.TurnIndex > ro.To {
			kept = append(kept, m)
		}
	}
	state.Messages = kept
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// urlArg extracts the "url" argument from a fetch_url call's raw JSON
// arguments, for the history log entry.
func urlArg(args json.RawMessage) string {
	var parsed struct {
		URL string `json:"url"`
	}
	_ = json.Unmarshal(args, &parsed)
	return parsed.URL
}
