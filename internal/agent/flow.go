package agent

import "github.com/swival/swival/internal/core"

// toolNodeMaxRetries bounds ToolNodeImpl.Exec's retry-on-error attempts
// before falling through to ExecFallback. Tools already turn their own
// failures into ToolResult{Succeeded:false} without an error, so this only
// covers genuinely transient failures (e.g. a cancelled sub-context).
const toolNodeMaxRetries = 1

// BuildAgentFlow wires DecideNode, ToolNode, and AnswerNode into the Agent
// Loop: Decide collects the turn's tool calls or reaches an answer; ToolNode
// runs the calls in order and always routes back to Decide for the next turn.
func BuildAgentFlow(session *Session) *core.Flow[AgentState] {
	decide := core.NewNode[AgentState, DecidePrep, DecideResult](NewDecideNode(session), 0)
	toolNode := core.NewNode[AgentState, ToolPrep, ToolExecResult](NewToolNode(session), toolNodeMaxRetries)
	answer := core.NewNode[AgentState, AnswerPrep, AnswerResult](NewAnswerNode(session), 0)

	decide.AddSuccessor(toolNode, core.ActionDispatchTools)
	decide.AddSuccessor(answer, core.ActionAnswer)
	toolNode.AddSuccessor(decide, core.ActionDefault)

	return core.NewFlow[AgentState](decide)
}
