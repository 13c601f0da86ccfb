package agent

import (
	"encoding/json"

	"github.com/swival/swival/internal/contextmgr"
	"github.com/swival/swival/internal/llm"
)

// AgentState is the shared state threaded through the Agent Loop flow.
// A single instance lives for the duration of one task.
type AgentState struct {
	Messages    []contextmgr.Message
	CurrentTurn int
	MaxTurns    int

	LastDecision *Decision

	Outcome     string // "", "success", "exhausted", "error"
	FinalAnswer string
	ErrMessage  string
}

// Decision is what DecideNode decided to do on a given turn: dispatch the
// model's tool calls (in the order it emitted them), or commit a final
// answer. Exactly one of the two is populated.
type Decision struct {
	Calls []llm.ToolCall

	IsAnswer bool
	Answer   string
}

// DecidePrep is DecideNode's per-turn work item.
type DecidePrep struct {
	Messages []contextmgr.Message
	Turn     int
	ToolDefs []llm.ToolDefinition
}

// DecideResult is DecideNode's per-turn outcome: the (possibly compacted and
// extended) message list plus the decision reached, or an unrecoverable
// error from the LLM call.
type DecideResult struct {
	Messages []contextmgr.Message
	Decision Decision
	Err      error
}

// ToolPrep is ToolNode's per-call work item. ArgsValid is false when the
// model emitted arguments that are not valid JSON; such a call is recorded
// as a failure with arguments=null instead of being executed.
type ToolPrep struct {
	ToolCallID string
	ToolName   string
	Args       json.RawMessage
	ArgsValid  bool
	Turn       int

	// Messages is only populated for a snapshot(action=restore) call, which
	// needs the conversation so far to build its recap.
	Messages []contextmgr.Message
}

// ToolExecResult is ToolNode's per-call outcome.
type ToolExecResult struct {
	Succeeded  bool
	Output     string
	ErrorMsg   string
	DurationMs int64

	// Restore carries the turn range and recap text for a successful
	// snapshot(action=restore) call, for Post to splice into the
	// conversation. Nil for every other tool call.
	Restore *RestoreOutcome
}

// RestoreOutcome is the result of collapsing a snapshot restore's turn range
// into a single recap.
type RestoreOutcome struct {
	Label string
	From  int
	To    int
	Text  string
}

// AnswerPrep is AnswerNode's work item: the final answer text already
// produced by DecideNode.
type AnswerPrep struct {
	Answer string
}

// AnswerResult is AnswerNode's outcome.
type AnswerResult struct {
	Answer string
}
