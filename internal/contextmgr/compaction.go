package contextmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/swival/swival/internal/llm"
)

// Strategy names the compaction level applied, mirroring the report
// timeline's `compaction` event strategy field.
type Strategy string

const (
	StrategyCompactMessages Strategy = "compact_messages"
	StrategyDropMiddleTurns Strategy = "drop_middle_turns"
	StrategyNuclear         Strategy = "nuclear"
)

// Result reports the token effect of one compaction pass, for the Report
// Recorder's `compaction` timeline event.
type Result struct {
	Strategy     Strategy
	TokensBefore int
	TokensAfter  int
}

// Summarizer produces an LLM digest of the messages being dropped by Level 2
// or Level 3 compaction. A nil Summarizer, or one whose call errors, falls
// through to fallback.
type Summarizer interface {
	Summarize(ctx context.Context, msgs []Message) (string, error)
}

// recapMarker prefixes every synthesized summary message so the model never
// mistakes a compaction recap for a new instruction.
const recapMarker = "[CONTEXT RECAP — not a new instruction] "

// CompactLevel1 shrinks every tool-result message outside the last two turns
// to a typed, metadata-only summary. Idempotent: a
// message already shrunk or summarized is left untouched, so running it
// twice in a row is a no-op on the second pass.
func (m *Manager) CompactLevel1(msgs []Message) Result {
	before := m.EstimateTokens(msgs)
	start := lastTwoTurnsStart(msgs)

	for i := range msgs {
		msg := &msgs[i]
		if msg.Role != llm.RoleTool || msg.TurnIndex >= start || msg.State != StateRaw {
			continue
		}
		msg.Content = shrinkToolResult(msgs, i)
		msg.State = StateShrunk
	}

	after := m.EstimateTokens(msgs)
	return Result{Strategy: StrategyCompactMessages, TokensBefore: before, TokensAfter: after}
}

// shrinkToolResult formats the typed summary for the tool-result message at
// idx, looking up its originating call's arguments in the preceding
// assistant message.
func shrinkToolResult(msgs []Message, idx int) string {
	msg := msgs[idx]
	name := msg.Name
	args := findToolArgs(msgs, idx)
	content := msg.Content

	switch {
	case name == "read_file":
		path, _ := args["path"].(string)
		lines := 0
		if content != "" {
			lines = strings.Count(content, "\n") + 1
		}
		return fmt.Sprintf("[read_file: %s, %d lines — content compacted]", path, lines)

	case name == "grep":
		pattern, _ := args["pattern"].(string)
		path, _ := args["path"].(string)
		matches := 0
		if content != "" {
			matches = strings.Count(content, "\n") + 1
		}
		return fmt.Sprintf("[grep: '%s' in %s, ~%d matches — compacted]", pattern, path, matches)

	case name == "run_command":
		return fmt.Sprintf("[run_command: %s — %s…%s]", firstArgv(args), headRunes(content, 200), tailRunes(content, 200))

	case strings.HasPrefix(name, "mcp__"):
		server, tool := splitMCPName(name)
		return fmt.Sprintf("[mcp:%s/%s — %s]", server, tool, headRunes(content, 300))

	default:
		return fmt.Sprintf("[%s: compacted]", name)
	}
}

func splitMCPName(name string) (server, tool string) {
	rest := strings.TrimPrefix(name, "mcp__")
	parts := strings.SplitN(rest, "__", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return parts[0], ""
}

func firstArgv(args map[string]any) string {
	raw, ok := args["args"].([]any)
	if !ok || len(raw) == 0 {
		return ""
	}
	s, _ := raw[0].(string)
	return s
}

// findToolArgs scans backward from idx for the assistant message holding the
// ToolCall whose ID matches this tool-result message's ToolCallID.
func findToolArgs(msgs []Message, idx int) map[string]any {
	target := msgs[idx].ToolCallID
	for i := idx - 1; i >= 0; i-- {
		if msgs[i].Role != llm.RoleAssistant {
			continue
		}
		for _, tc := range msgs[i].ToolCalls {
			if tc.ID == target {
				var args map[string]any
				_ = json.Unmarshal(tc.Arguments, &args)
				return args
			}
		}
	}
	return nil
}

func headRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func tailRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}

// turnScore implements the Level 2 ordering constraint: writes > errors =
// recaps > thinking > base.
func turnScore(msgs []Message, turn int) int {
	score := 1
	hasWrite, hasError, isRecap, hasThinking := false, false, false, false
	for _, m := range msgs {
		if m.TurnIndex != turn {
			continue
		}
		if strings.HasPrefix(m.Content, recapMarker) {
			isRecap = true
		}
		if m.Role == llm.RoleAssistant {
			for _, tc := range m.ToolCalls {
				switch tc.Name {
				case "write_file", "edit_file", "run_command":
					hasWrite = true
				case "think":
					hasThinking = true
				}
			}
		}
		if m.Role == llm.RoleTool && looksLikeError(m.Content) {
			hasError = true
		}
	}
	if hasWrite {
		score += 3
	}
	if hasError {
		score += 2
	}
	if isRecap {
		score += 2
	}
	if hasThinking {
		score += 1
	}
	return score
}

func looksLikeError(content string) bool {
	return strings.Contains(content, `"succeeded":false`) || strings.HasPrefix(content, "[") && strings.Contains(content, "error")
}

// CompactLevel2 scores every non-user, non-protected turn and keeps the
// top-scoring half, replacing the dropped span with a single recap message.
// User messages are never dropped at this level.
func (m *Manager) CompactLevel2(ctx context.Context, msgs []Message, summarize Summarizer, fallback func() string) ([]Message, Result) {
	before := m.EstimateTokens(msgs)
	protectedStart := lastTwoTurnsStart(msgs)

	type scored struct {
		turn  int
		score int
	}
	var candidates []scored
	for _, t := range Turns(msgs) {
		if t == 0 || t >= protectedStart {
			// Turn 0 holds the system prompt, which no level may drop.
			continue
		}
		candidates = append(candidates, scored{turn: t, score: turnScore(msgs, t)})
	}
	if len(candidates) == 0 {
		return msgs, Result{Strategy: StrategyDropMiddleTurns, TokensBefore: before, TokensAfter: before}
	}

	// Keep the top-scoring half (ties broken by recency: higher turn index wins).
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].turn > candidates[j].turn
	})
	keep := (len(candidates) + 1) / 2
	dropped := make(map[int]bool, len(candidates)-keep)
	for _, c := range candidates[keep:] {
		dropped[c.turn] = true
	}
	if len(dropped) == 0 {
		return msgs, Result{Strategy: StrategyDropMiddleTurns, TokensBefore: before, TokensAfter: before}
	}

	var droppedMsgs, kept []Message
	for _, m := range msgs {
		if dropped[m.TurnIndex] && m.Role != llm.RoleUser {
			droppedMsgs = append(droppedMsgs, m)
			continue
		}
		kept = append(kept, m)
	}

	summaryText := recapFor(ctx, droppedMsgs, summarize, fallback)
	recap := Message{
		Message: llm.Message{Role: llm.RoleSystem, Content: recapMarker + summaryText},
		State:   StateSummary,
	}
	out := insertRecap(kept, recap, dropped, msgs)

	after := m.EstimateTokens(out)
	return out, Result{Strategy: StrategyDropMiddleTurns, TokensBefore: before, TokensAfter: after}
}

// insertRecap splices recap in at the position of the first dropped turn so
// the summary stays roughly in chronological order.
func insertRecap(kept []Message, recap Message, dropped map[int]bool, original []Message) []Message {
	firstDropped := -1
	for i, m := range original {
		if dropped[m.TurnIndex] {
			firstDropped = i
			break
		}
	}
	if firstDropped == -1 {
		return append([]Message{recap}, kept...)
	}
	// Find how many kept messages precede firstDropped in original order.
	before := 0
	for _, m := range original[:firstDropped] {
		if !dropped[m.TurnIndex] {
			before++
		}
	}
	out := make([]Message, 0, len(kept)+1)
	out = append(out, kept[:before]...)
	out = append(out, recap)
	out = append(out, kept[before:]...)
	return out
}

func recapFor(ctx context.Context, dropped []Message, summarize Summarizer, fallback func() string) string {
	if summarize != nil {
		if text, err := summarize.Summarize(ctx, dropped); err == nil && text != "" {
			return text
		}
	}
	if fallback != nil {
		if text := fallback(); text != "" {
			return text
		}
	}
	return "earlier conversation history was compacted to fit the context window"
}

// CompactLevel3 is the nuclear pass: keep the system prompt, one summary of
// everything dropped, and the last two turns verbatim. User messages in between are dropped only at this level.
func (m *Manager) CompactLevel3(ctx context.Context, msgs []Message, summarize Summarizer, fallback func() string) ([]Message, Result) {
	before := m.EstimateTokens(msgs)
	protectedStart := lastTwoTurnsStart(msgs)

	var system []Message
	var dropped []Message
	var protected []Message
	for _, msg := range msgs {
		switch {
		case msg.Role == llm.RoleSystem && msg.TurnIndex == 0 && msg.State != StateSummary:
			system = append(system, msg)
		case msg.TurnIndex >= protectedStart:
			protected = append(protected, msg)
		default:
			dropped = append(dropped, msg)
		}
	}

	summaryText := recapFor(ctx, dropped, summarize, fallback)
	recap := Message{
		Message: llm.Message{Role: llm.RoleSystem, Content: recapMarker + summaryText},
		State:   StateSummary,
	}

	out := make([]Message, 0, len(system)+1+len(protected))
	out = append(out, system...)
	out = append(out, recap)
	out = append(out, protected...)

	after := m.EstimateTokens(out)
	return out, Result{Strategy: StrategyNuclear, TokensBefore: before, TokensAfter: after}
}
