package agent

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/swival/swival/internal/contextmgr"
	"github.com/swival/swival/internal/errs"
	"github.com/swival/swival/internal/guardrail"
	"github.com/swival/swival/internal/knowledge"
	"github.com/swival/swival/internal/llm"
	"github.com/swival/swival/internal/outputcaps"
	"github.com/swival/swival/internal/pathpolicy"
	"github.com/swival/swival/internal/readtracker"
	"github.com/swival/swival/internal/report"
	"github.com/swival/swival/internal/snapshot"
	"github.com/swival/swival/internal/tool"
	"github.com/swival/swival/internal/tool/builtin"
)

// scriptedStep is one canned provider response (or error) for the scripted
// provider below.
type scriptedStep struct {
	resp llm.Response
	err  error
}

// scriptedProvider plays back a fixed sequence of responses, repeating the
// last one if the loop asks for more.
type scriptedProvider struct {
	steps []scriptedStep
	calls int
}

func (p *scriptedProvider) Complete(_ context.Context, msgs []llm.Message, _ []llm.ToolDefinition) (llm.Response, error) {
	i := p.calls
	if i >= len(p.steps) {
		i = len(p.steps) - 1
	}
	p.calls++
	s := p.steps[i]
	return s.resp, s.err
}

func (p *scriptedProvider) CompleteStream(ctx context.Context, msgs []llm.Message, _ llm.StreamCallback) (llm.Response, error) {
	return p.Complete(ctx, msgs, nil)
}

func (p *scriptedProvider) SupportsFunctionCalling() bool { return true }
func (p *scriptedProvider) GetName() string               { return "scripted" }

func toolCallResp(id, name, args string) llm.Response {
	return llm.Response{
		Message: llm.Message{
			Role:      llm.RoleAssistant,
			ToolCalls: []llm.ToolCall{{ID: id, Name: name, Arguments: []byte(args)}},
		},
		FinishReason: llm.FinishToolCalls,
	}
}

func answerResp(text string) llm.Response {
	return llm.Response{
		Message:      llm.Message{Role: llm.RoleAssistant, Content: text},
		FinishReason: llm.FinishStop,
	}
}

// newTestSession builds a Session over a real temp directory with the full
// built-in filesystem tool set registered, backed by the given provider.
func newTestSession(t *testing.T, provider llm.Provider) (*Session, string) {
	t.Helper()
	dir := t.TempDir()

	paths, err := pathpolicy.New(dir, nil, nil, false)
	if err != nil {
		t.Fatalf("pathpolicy.New: %v", err)
	}
	sb := &builtin.Sandbox{
		Paths: paths,
		Reads: readtracker.New(false),
		Caps:  outputcaps.New(filepath.Join(dir, ".swival")),
	}

	registry := tool.NewRegistry()
	registry.Register(builtin.NewReadFileTool(sb))
	registry.Register(builtin.NewWriteFileTool(sb))
	registry.Register(builtin.NewEditFileTool(sb))
	registry.Register(builtin.NewListDirTool(sb))
	registry.Register(builtin.NewGrepTool(sb))

	turnRef := new(int)
	channels := knowledge.New(nil, "")
	snapCtl := snapshot.NewController()
	registry.Register(builtin.NewThinkTool(channels.Thinking))
	registry.Register(builtin.NewTodoTool(channels.Todos, func() int { return *turnRef }))
	registry.Register(builtin.NewSnapshotTool(snapCtl, func() int { return *turnRef }))

	return &Session{
		Fs:           afero.NewOsFs(),
		Registry:     registry,
		Provider:     provider,
		ModelName:    "test-model",
		ProviderName: "scripted",
		ContextMgr:   contextmgr.New(100_000, 512, 256, 64),
		BasePrompt:   "You are a test agent.",
		Channels:     channels,
		Caps:         sb.Caps,
		Guardrail:    guardrail.New(),
		Snapshot:     snapCtl,
		Recorder:     report.NewRecorder(),
		TurnRef:      turnRef,
	}, dir
}

func settingsForTest(maxTurns int) report.Settings {
	return report.Settings{MaxTurns: maxTurns, MaxOutputTokens: 512, ContextLength: 100_000}
}

func TestRun_PureTextIsFinalAnswer(t *testing.T) {
	p := &scriptedProvider{steps: []scriptedStep{{resp: answerResp("done, nothing to do")}}}
	session, _ := newTestSession(t, p)

	rep, exitCode := Run(context.Background(), "do nothing", session, settingsForTest(5))

	if exitCode != 0 {
		t.Fatalf("exit code = %d, want 0", exitCode)
	}
	if rep.Result.Outcome != report.OutcomeSuccess {
		t.Errorf("outcome = %q, want success", rep.Result.Outcome)
	}
	if rep.Result.Answer == nil || *rep.Result.Answer != "done, nothing to do" {
		t.Errorf("answer = %v, want the model's text", rep.Result.Answer)
	}
	if rep.Stats.Turns != 1 || rep.Stats.LLMCalls != 1 {
		t.Errorf("turns=%d llm_calls=%d, want 1/1", rep.Stats.Turns, rep.Stats.LLMCalls)
	}
}

func TestRun_ExhaustionAfterMaxTurns(t *testing.T) {
	p := &scriptedProvider{steps: []scriptedStep{
		{resp: toolCallResp("c1", "think", `{"text":"still thinking"}`)},
	}}
	session, _ := newTestSession(t, p)

	rep, exitCode := Run(context.Background(), "never finish", session, settingsForTest(3))

	if exitCode != 2 {
		t.Fatalf("exit code = %d, want 2", exitCode)
	}
	if rep.Result.Outcome != report.OutcomeExhausted {
		t.Errorf("outcome = %q, want exhausted", rep.Result.Outcome)
	}
	if rep.Result.Answer != nil {
		t.Errorf("answer = %q, want null", *rep.Result.Answer)
	}
	if rep.Stats.Turns != 3 {
		t.Errorf("turns = %d, want 3", rep.Stats.Turns)
	}
	if rep.Stats.LLMCalls < rep.Stats.Turns {
		t.Errorf("llm_calls (%d) must be >= turns (%d)", rep.Stats.LLMCalls, rep.Stats.Turns)
	}
}

func TestRun_ReadBeforeWriteScenario(t *testing.T) {
	p := &scriptedProvider{steps: []scriptedStep{
		{resp: toolCallResp("c1", "edit_file", `{"path":"src/x.txt","old_string":"a","new_string":"b"}`)},
		{resp: toolCallResp("c2", "read_file", `{"path":"src/x.txt"}`)},
		{resp: toolCallResp("c3", "edit_file", `{"path":"src/x.txt","old_string":"a","new_string":"b"}`)},
		{resp: answerResp("edited")},
	}}
	session, dir := newTestSession(t, p)

	if err := os.MkdirAll(filepath.Join(dir, "src"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "src", "x.txt"), []byte("a line\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	rep, exitCode := Run(context.Background(), "modify src/x.txt", session, settingsForTest(10))

	if exitCode != 0 {
		t.Fatalf("exit code = %d, want 0 (outcome %q, err %q)", exitCode, rep.Result.Outcome, rep.Result.ErrorMessage)
	}
	if rep.Stats.ToolCallsFailed != 1 || rep.Stats.ToolCallsSucceeded != 2 {
		t.Errorf("tool calls failed/succeeded = %d/%d, want 1/2",
			rep.Stats.ToolCallsFailed, rep.Stats.ToolCallsSucceeded)
	}

	var firstEditErr string
	for _, ev := range rep.Timeline {
		if ev.Type == report.EventToolCall && ev.Name == "edit_file" {
			firstEditErr = ev.Error
			break
		}
	}
	if firstEditErr == "" || !strings.Contains(firstEditErr, string(errs.UnreadTarget)) {
		t.Errorf("first edit_file error = %q, want an UnreadTarget failure", firstEditErr)
	}

	data, err := os.ReadFile(filepath.Join(dir, "src", "x.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "b line\n" {
		t.Errorf("file content = %q, want the edit applied", data)
	}
}

func TestRun_GuardrailStopOnThirdIdenticalFailure(t *testing.T) {
	badEdit := `{"path":"missing.txt","old_string":"a","new_string":"b"}`
	p := &scriptedProvider{steps: []scriptedStep{
		{resp: toolCallResp("c1", "edit_file", badEdit)},
		{resp: toolCallResp("c2", "edit_file", badEdit)},
		{resp: toolCallResp("c3", "edit_file", badEdit)},
		{resp: answerResp("giving up")},
	}}
	session, _ := newTestSession(t, p)

	rep, _ := Run(context.Background(), "edit a missing file forever", session, settingsForTest(10))

	var levels []string
	for _, ev := range rep.Timeline {
		if ev.Type == report.EventGuardrail {
			levels = append(levels, ev.Level)
		}
	}
	if len(levels) != 2 || levels[0] != "nudge" || levels[1] != "stop" {
		t.Errorf("guardrail levels = %v, want [nudge stop]", levels)
	}
	if rep.Stats.GuardrailInterventions != 2 {
		t.Errorf("guardrail_interventions = %d, want 2", rep.Stats.GuardrailInterventions)
	}
}

func TestRun_ProviderOverflowCompactsAndRetries(t *testing.T) {
	overflow := errs.New(errs.ContextOverflow, "prompt too large")
	p := &scriptedProvider{steps: []scriptedStep{
		{err: overflow},
		{resp: answerResp("recovered")},
	}}
	session, _ := newTestSession(t, p)

	rep, exitCode := Run(context.Background(), "big task", session, settingsForTest(5))

	if exitCode != 0 {
		t.Fatalf("exit code = %d, want 0 (err %q)", exitCode, rep.Result.ErrorMessage)
	}

	var compactions, retries int
	var retryReason string
	for _, ev := range rep.Timeline {
		switch ev.Type {
		case report.EventCompaction:
			compactions++
			if ev.TokensAfter > ev.TokensBefore {
				t.Errorf("compaction grew the prompt: %d -> %d", ev.TokensBefore, ev.TokensAfter)
			}
		case report.EventLLMCall:
			if ev.IsRetry {
				retries++
				retryReason = ev.RetryReason
			}
		}
	}
	if compactions == 0 {
		t.Error("expected at least one compaction event")
	}
	if retries != 1 {
		t.Errorf("retry llm_calls = %d, want 1", retries)
	}
	if retryReason != string(contextmgr.StrategyCompactMessages) {
		t.Errorf("retry_reason = %q, want %q", retryReason, contextmgr.StrategyCompactMessages)
	}
	if rep.Stats.LLMCalls != 2 || rep.Stats.Turns != 1 {
		t.Errorf("llm_calls=%d turns=%d, want 2/1 (retries add calls, not turns)",
			rep.Stats.LLMCalls, rep.Stats.Turns)
	}
}

func TestRun_InvalidToolArgumentsRecordedAsFailure(t *testing.T) {
	p := &scriptedProvider{steps: []scriptedStep{
		{resp: toolCallResp("c1", "read_file", `{not json`)},
		{resp: answerResp("ok")},
	}}
	session, _ := newTestSession(t, p)

	rep, _ := Run(context.Background(), "call badly", session, settingsForTest(5))

	var found bool
	for _, ev := range rep.Timeline {
		if ev.Type == report.EventToolCall && ev.Name == "read_file" {
			found = true
			if ev.Succeeded == nil || *ev.Succeeded {
				t.Error("invalid-arguments call must be recorded as failed")
			}
			if string(ev.Arguments) != "null" {
				t.Errorf("arguments = %s, want null", ev.Arguments)
			}
		}
	}
	if !found {
		t.Fatal("no tool_call event for the invalid call")
	}
	if rep.Stats.ToolCallsFailed != 1 {
		t.Errorf("tool_calls_failed = %d, want 1", rep.Stats.ToolCallsFailed)
	}
}

func TestRun_MultipleToolCallsDispatchInOrder(t *testing.T) {
	multi := llm.Response{
		Message: llm.Message{
			Role: llm.RoleAssistant,
			ToolCalls: []llm.ToolCall{
				{ID: "c1", Name: "write_file", Arguments: []byte(`{"path":"one.txt","content":"1"}`)},
				{ID: "c2", Name: "write_file", Arguments: []byte(`{"path":"two.txt","content":"2"}`)},
			},
		},
		FinishReason: llm.FinishToolCalls,
	}
	p := &scriptedProvider{steps: []scriptedStep{
		{resp: multi},
		{resp: answerResp("wrote both")},
	}}
	session, dir := newTestSession(t, p)

	rep, exitCode := Run(context.Background(), "write two files", session, settingsForTest(5))
	if exitCode != 0 {
		t.Fatalf("exit code = %d, want 0 (err %q)", exitCode, rep.Result.ErrorMessage)
	}
	if rep.Stats.ToolCallsTotal != 2 || rep.Stats.ToolCallsSucceeded != 2 {
		t.Fatalf("tool calls total/succeeded = %d/%d, want 2/2",
			rep.Stats.ToolCallsTotal, rep.Stats.ToolCallsSucceeded)
	}

	var order []string
	for _, ev := range rep.Timeline {
		if ev.Type == report.EventToolCall {
			order = append(order, string(ev.Arguments))
		}
	}
	if len(order) != 2 || !strings.Contains(order[0], "one.txt") || !strings.Contains(order[1], "two.txt") {
		t.Errorf("tool_call order = %v, want one.txt then two.txt", order)
	}

	for _, name := range []string{"one.txt", "two.txt"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s was not written: %v", name, err)
		}
	}
}

