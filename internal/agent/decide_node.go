package agent

import (
	"context"
	"time"

	"github.com/swival/swival/internal/contextmgr"
	"github.com/swival/swival/internal/core"
	"github.com/swival/swival/internal/errs"
	"github.com/swival/swival/internal/knowledge"
	"github.com/swival/swival/internal/llm"
)

// maxOverflowRetries bounds how many times DecideNode escalates compaction
// and retries a single LLM call after the provider itself rejects the
// request as too large. Three attempts cover Level 1 -> 2 -> 3; a fourth
// ContextOverflow after the nuclear pass means the single last-two-turns
// window alone still doesn't fit, which compaction cannot fix.
const maxOverflowRetries = 3

// checkpointWindow is how many trailing turns a proactive checkpoint
// summary covers, matching the Knowledge Channels' own
// checkpointBatchSize cadence.
const checkpointWindow = 10

// DecideNode implements BaseNode[AgentState, DecidePrep, DecideResult]. It
// is the Agent Loop's central router: on every turn it ensures the message
// list fits the context window, calls the LLM, and decides whether the
// model wants to call tools or has reached a final answer.
type DecideNode struct {
	session *Session
}

func NewDecideNode(session *Session) *DecideNode { return &DecideNode{session: session} }

// Prep advances the turn counter and builds the turn's work item. Returning
// an empty slice when the turn budget is exhausted skips Exec entirely
// (core.Node.Run's documented short-circuit), routing straight to Post.
func (n *DecideNode) Prep(state *AgentState) []DecidePrep {
	state.CurrentTurn++
	if n.session.TurnRef != nil {
		*n.session.TurnRef = state.CurrentTurn
	}
	if state.CurrentTurn > state.MaxTurns {
		return nil
	}

	msgs := make([]contextmgr.Message, len(state.Messages))
	copy(msgs, state.Messages)

	return []DecidePrep{{
		Messages: msgs,
		Turn:     state.CurrentTurn,
		ToolDefs: n.session.Registry.GenerateToolDefinitions(),
	}}
}

// Exec refreshes the system message with the current Knowledge Channels
// render, fits the message list to the context window (escalating
// compaction as needed), calls the LLM, and retries with deeper compaction
// if the provider itself reports the request as too large. Every attempt —
// the first call and every post-compaction retry — records its own
// llm_call event; a retry carries the strategy of the compaction pass that
// preceded it as its retry_reason.
func (n *DecideNode) Exec(ctx context.Context, prep DecidePrep) (DecideResult, error) {
	msgs := prep.Messages
	refreshSystemMessage(msgs, n.session)

	isRetry := false
	retryReason := ""
	if _, ok := n.session.ContextMgr.Fit(msgs); !ok {
		var strategy string
		msgs, strategy = n.escalateCompact(ctx, msgs, prep.Turn, 1)
		isRetry = true
		retryReason = strategy
	}

	var resp llm.Response
	for attempt := 0; ; attempt++ {
		budget, _ := n.session.ContextMgr.Fit(msgs)
		est := n.session.ContextMgr.EstimateTokens(msgs)

		start := time.Now()
		var err error
		resp, err = n.complete(ctx, msgs, prep.ToolDefs, budget)
		dur := time.Since(start)

		if err == nil {
			n.session.Recorder.RecordLLMCall(prep.Turn, dur, est, string(resp.FinishReason), isRetry, retryReason)
			break
		}
		if kind, ok := errs.KindOf(err); ok && kind == errs.ContextOverflow && attempt < maxOverflowRetries {
			n.session.Recorder.RecordLLMCall(prep.Turn, dur, est, "error", isRetry, retryReason)
			var strategy string
			msgs, strategy = n.escalateCompact(ctx, msgs, prep.Turn, attempt+1)
			isRetry = true
			retryReason = strategy
			continue
		}
		return DecideResult{Err: err}, nil
	}

	if resp.FinishReason == llm.FinishLength {
		n.session.Recorder.RecordTruncated(prep.Turn)
	}

	decision, assistantMsg := n.decide(resp)
	msgs = append(msgs, contextmgr.Message{
		Message:   assistantMsg,
		TurnIndex: prep.Turn,
		State:     contextmgr.StateRaw,
	})

	if n.session.Proactive && n.session.Channels.Checkpoints.Due(prep.Turn) {
		n.maybeCheckpoint(ctx, msgs, prep.Turn)
	}

	return DecideResult{Messages: msgs, Decision: decision}, nil
}

// decide maps the provider's response onto a Decision. With Function
// Calling, tool calls arrive structured on the message; in YAML mode the
// decision is parsed out of the text body, and a synthesized ToolCall is
// attached to the assistant message so the subsequent tool-result message
// still pairs with a call.
func (n *DecideNode) decide(resp llm.Response) (Decision, llm.Message) {
	msg := resp.Message
	if len(msg.ToolCalls) > 0 {
		return Decision{Calls: msg.ToolCalls}, msg
	}

	if !n.session.Provider.SupportsFunctionCalling() {
		if call, answer, isTool := parseYAMLDecision(msg.Content); isTool {
			msg.ToolCalls = []llm.ToolCall{call}
			return Decision{Calls: msg.ToolCalls}, msg
		} else if answer != "" {
			return Decision{IsAnswer: true, Answer: answer}, msg
		}
	}

	return Decision{IsAnswer: true, Answer: msg.Content}, msg
}

// ExecFallback surfaces a retry-exhausted LLM call as an error result rather
// than a silently empty answer.
func (n *DecideNode) ExecFallback(err error) DecideResult {
	return DecideResult{Err: err}
}

// Post writes the decision (or terminal outcome) to state and routes to the
// next node.
func (n *DecideNode) Post(state *AgentState, prep []DecidePrep, results ...DecideResult) core.Action {
	if len(prep) == 0 {
		state.Outcome = "exhausted"
		return core.ActionEnd
	}

	result := results[0]
	if result.Err != nil {
		state.Outcome = "error"
		state.ErrMessage = result.Err.Error()
		return core.ActionEnd
	}

	state.Messages = result.Messages
	state.LastDecision = &result.Decision

	if result.Decision.IsAnswer {
		return core.ActionAnswer
	}
	return core.ActionDispatchTools
}

// complete dispatches to the provider's budgeted call when available,
// falling back to the plain Complete otherwise. In YAML mode no structured
// tool definitions are sent — the tool catalog already lives in the system
// prompt and the decision comes back as text.
func (n *DecideNode) complete(ctx context.Context, msgs []contextmgr.Message, toolDefs []llm.ToolDefinition, budget int) (llm.Response, error) {
	if !n.session.Provider.SupportsFunctionCalling() {
		toolDefs = nil
	}
	plain := toPlainMessages(msgs)
	if bp, ok := n.session.Provider.(llm.BudgetedProvider); ok {
		return bp.CompleteWithBudget(ctx, plain, toolDefs, budget)
	}
	return n.session.Provider.Complete(ctx, plain, toolDefs)
}

func toPlainMessages(msgs []contextmgr.Message) []llm.Message {
	out := make([]llm.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Message
	}
	return out
}

// refreshSystemMessage rebuilds the turn-0 system message's content from the
// session's static BasePrompt plus the live Knowledge Channels render, so
// thinking/todos/recaps/checkpoints are always current.
func refreshSystemMessage(msgs []contextmgr.Message, session *Session) {
	if len(msgs) == 0 || msgs[0].Role != llm.RoleSystem || msgs[0].TurnIndex != 0 {
		return
	}
	content := session.BasePrompt
	if rendered := session.Channels.Render(); rendered != "" {
		content += "\n\n" + rendered
	}
	msgs[0].Content = content
}

// escalateCompact runs the graduated compaction pipeline from fromLevel
// upward: Level 1, then Level 2, then Level 3, stopping as soon as the
// message list fits. Provider-overflow retries pass a higher fromLevel so
// each retry goes one level deeper than the last. Returns the compacted
// list and the strategy of the last level applied.
func (n *DecideNode) escalateCompact(ctx context.Context, msgs []contextmgr.Message, turn, fromLevel int) ([]contextmgr.Message, string) {
	cm := n.session.ContextMgr
	fallback := n.session.Channels.Checkpoints.MostRelevant

	if fromLevel <= 1 {
		r1 := cm.CompactLevel1(msgs)
		n.session.Recorder.RecordCompaction(turn, string(r1.Strategy), r1.TokensBefore, r1.TokensAfter, 0)
		if _, ok := cm.Fit(msgs); ok {
			return msgs, string(r1.Strategy)
		}
	}

	msgs2 := msgs
	if fromLevel <= 2 {
		before2 := len(contextmgr.Turns(msgs))
		var r2 contextmgr.Result
		msgs2, r2 = cm.CompactLevel2(ctx, msgs, n.session.Summarizer, fallback)
		after2 := len(contextmgr.Turns(msgs2))
		n.session.Recorder.RecordCompaction(turn, string(r2.Strategy), r2.TokensBefore, r2.TokensAfter, before2-after2)
		if _, ok := cm.Fit(msgs2); ok {
			return msgs2, string(r2.Strategy)
		}
	}

	before3 := len(contextmgr.Turns(msgs2))
	msgs3, r3 := cm.CompactLevel3(ctx, msgs2, n.session.Summarizer, fallback)
	after3 := len(contextmgr.Turns(msgs3))
	n.session.Recorder.RecordCompaction(turn, string(r3.Strategy), r3.TokensBefore, r3.TokensAfter, before3-after3)
	return msgs3, string(r3.Strategy)
}

// maybeCheckpoint summarizes the last checkpointWindow turns into a
// proactive Checkpoint summary and triggers map/reduce consolidation if the
// stored summaries have grown too large. The batch is captured
// synchronously; the LLM call runs on its own goroutine so it never blocks
// the turn, writing into the mutex-guarded Checkpoints store whenever it
// completes. Cancelling ctx (run teardown, compaction) abandons the call. A
// failed or unavailable summarizer simply skips this checkpoint — it is not
// fatal.
func (n *DecideNode) maybeCheckpoint(ctx context.Context, msgs []contextmgr.Message, turn int) {
	if n.session.Summarizer == nil {
		return
	}
	low := turn - checkpointWindow + 1
	if low < 1 {
		low = 1
	}
	var batch []contextmgr.Message
	for _, m := range msgs {
		if m.TurnIndex >= low && m.TurnIndex <= turn {
			batch = append(batch, m)
		}
	}

	n.session.Channels.Checkpoints.MarkScheduled(turn)
	go func() {
		text, err := n.session.Summarizer.Summarize(ctx, batch)
		if err != nil || text == "" {
			return
		}
		n.session.Channels.Checkpoints.Add(knowledge.CheckpointSummary{TurnRangeLow: low, TurnRangeHi: turn, Text: text})
		n.session.Channels.Checkpoints.ConsolidateIfNeeded(ctx, n.session.Merger)
	}()
}
