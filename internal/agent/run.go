package agent

import (
	"context"

	"github.com/swival/swival/internal/contextmgr"
	"github.com/swival/swival/internal/llm"
	"github.com/swival/swival/internal/report"
)

// Run drives one complete task through the Agent Loop: builds the initial
// two-message conversation (system + user), runs the flow to completion,
// and finalizes the Report Recorder's document.
func Run(ctx context.Context, task string, session *Session, settings report.Settings) (report.Report, int) {
	systemContent := session.BasePrompt
	if rendered := session.Channels.Render(); rendered != "" {
		systemContent += "\n\n" + rendered
	}

	state := &AgentState{
		Messages: []contextmgr.Message{
			{Message: llm.Message{Role: llm.RoleSystem, Content: systemContent}, TurnIndex: 0, State: contextmgr.StateRaw},
			{Message: llm.Message{Role: llm.RoleUser, Content: task}, TurnIndex: 1, State: contextmgr.StateRaw},
		},
		MaxTurns: settings.MaxTurns,
	}

	flow := BuildAgentFlow(session)
	flow.Run(ctx, state)

	turns := state.CurrentTurn
	if turns > state.MaxTurns {
		turns = state.MaxTurns
	}
	session.Recorder.SetTurns(turns)

	outcome := report.OutcomeError
	exitCode := 1
	var answer *string

	switch state.Outcome {
	case "success":
		outcome = report.OutcomeSuccess
		exitCode = 0
		a := state.FinalAnswer
		answer = &a
	case "exhausted":
		outcome = report.OutcomeExhausted
		exitCode = 2
	case "error":
	default:
		// The flow ended without reaching a terminal node: cancellation, or
		// a routing failure. Both are error outcomes.
		if ctx.Err() != nil {
			state.ErrMessage = "run interrupted: " + ctx.Err().Error()
		} else if state.ErrMessage == "" {
			state.ErrMessage = "agent flow aborted before reaching a terminal state"
		}
	}

	rep := session.Recorder.Finalize(task, session.ModelName, session.ProviderName, settings, report.Result{
		Outcome:      outcome,
		Answer:       answer,
		ExitCode:     exitCode,
		ErrorMessage: state.ErrMessage,
	})
	return rep, exitCode
}
