package agent

import (
	"context"

	"github.com/swival/swival/internal/core"
)

// AnswerNodeImpl implements BaseNode[AgentState, AnswerPrep, AnswerResult].
// DecideNode already produces the model's own final-answer text (there is
// no separate tool-output aggregation step to synthesize over, since every
// tool result already lives in the message list DecideNode's next call
// would see) — this node's job is just to commit that text as the run's
// terminal result.
type AnswerNodeImpl struct {
	session *Session
}

func NewAnswerNode(session *Session) *AnswerNodeImpl { return &AnswerNodeImpl{session: session} }

func (n *AnswerNodeImpl) Prep(state *AgentState) []AnswerPrep {
	if state.LastDecision == nil {
		return nil
	}
	return []AnswerPrep{{Answer: state.LastDecision.Answer}}
}

func (n *AnswerNodeImpl) Exec(_ context.Context, prep AnswerPrep) (AnswerResult, error) {
	return AnswerResult{Answer: prep.Answer}, nil
}

func (n *AnswerNodeImpl) ExecFallback(err error) AnswerResult {
	return AnswerResult{}
}

func (n *AnswerNodeImpl) Post(state *AgentState, prep []AnswerPrep, results ...AnswerResult) core.Action {
	if len(results) > 0 {
		state.FinalAnswer = results[0].Answer
	}
	state.Outcome = "success"
	return core.ActionEnd
}
