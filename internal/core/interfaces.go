package core

import "context"

// BaseNode is the contract every node of the agent flow implements, split
// into the three phases Node.Run drives: Prep reads shared state and emits
// work items, Exec does the blocking work on one item (an LLM call, a tool
// invocation), Post folds the results back into state and picks the route.
//
// Type parameters:
//   - State: the shared state threaded through the flow
//   - PrepResult: one unit of work, produced by Prep and consumed by Exec
//   - ExecResults: one unit of outcome, produced by Exec and consumed by Post
//
// Prep returning an empty slice skips Exec entirely; Post is still called,
// with no results, so a node can turn "nothing to do" into a terminal route
// (this is how the loop detects turn-budget exhaustion).
type BaseNode[State any, PrepResult any, ExecResults any] interface {
	// Prep reads from shared state and generates this activation's work
	// items — one per tool call for a dispatch node, exactly one for the
	// decide and answer nodes.
	Prep(state *State) []PrepResult

	// Exec performs the blocking work on a single item. It must not touch
	// shared state; everything Post needs travels in the result value.
	Exec(ctx context.Context, prepResult PrepResult) (ExecResults, error)

	// Post receives the work items and their results in matching order,
	// updates state, and returns the action that routes to the next node.
	Post(state *State, prepRes []PrepResult, execResults ...ExecResults) Action

	// ExecFallback stands in for Exec's result when it failed after all
	// retries (or was skipped because the context died), so Post always
	// sees one result per item.
	ExecFallback(err error) ExecResults
}

// Workflow is a runnable, routable unit. Both Node and Flow implement it,
// so a flow can appear as a single node inside a larger flow.
type Workflow[State any] interface {
	// Run executes the workflow and returns an action for routing.
	Run(ctx context.Context, state *State) Action

	// GetSuccessor returns the successor workflow for a given action.
	GetSuccessor(action Action) Workflow[State]

	// AddSuccessor connects a successor workflow for a specific action.
	// Returns the successor for chaining.
	AddSuccessor(successor Workflow[State], action ...Action) Workflow[State]
}
