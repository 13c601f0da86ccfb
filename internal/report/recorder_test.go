package report

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/spf13/afero"
)

func strPtr(s string) *string { return &s }

func TestRecordToolCall_SucceededPlusFailedEqualsTotal(t *testing.T) {
	// P5
	r := NewRecorder()
	r.RecordToolCall(1, "read_file", json.RawMessage(`{"path":"a"}`), true, 10*time.Millisecond, 100, "")
	r.RecordToolCall(1, "read_file", json.RawMessage(`{"path":"b"}`), false, 5*time.Millisecond, 0, "not found")
	r.RecordToolCall(2, "write_file", json.RawMessage(`{}`), true, time.Millisecond, 0, "")

	rep := r.Finalize("task", "m", "p", Settings{}, Result{Outcome: OutcomeSuccess})
	if rep.Stats.ToolCallsSucceeded+rep.Stats.ToolCallsFailed != rep.Stats.ToolCallsTotal {
		t.Fatalf("succeeded+failed != total: %+v", rep.Stats)
	}
	if rep.Stats.ToolCallsTotal != 3 {
		t.Errorf("expected 3 total tool calls, got %d", rep.Stats.ToolCallsTotal)
	}

	byName := rep.Stats.ToolCallsByName["read_file"]
	if byName == nil || byName.Succeeded != 1 || byName.Failed != 1 {
		t.Errorf("unexpected read_file breakdown: %+v", byName)
	}
}

func TestRecordLLMCall_CallsCanExceedTurns(t *testing.T) {
	// P6: a retry increases llm_calls without increasing turns.
	r := NewRecorder()
	r.SetTurns(1)
	r.RecordLLMCall(1, 100*time.Millisecond, 500, "stop", false, "")
	r.RecordLLMCall(1, 120*time.Millisecond, 520, "stop", true, "context_overflow")

	rep := r.Finalize("task", "m", "p", Settings{}, Result{Outcome: OutcomeSuccess})
	if rep.Stats.LLMCalls < rep.Stats.Turns {
		t.Fatalf("expected llm_calls >= turns, got %d < %d", rep.Stats.LLMCalls, rep.Stats.Turns)
	}
	if rep.Stats.LLMCalls != 2 {
		t.Errorf("expected 2 llm calls, got %d", rep.Stats.LLMCalls)
	}
}

func TestRecordCompaction_TracksStrategyAndTurnDrops(t *testing.T) {
	r := NewRecorder()
	r.RecordCompaction(3, "compact_messages", 1000, 600, 0)
	r.RecordCompaction(8, "drop_middle_turns", 2000, 900, 4)

	rep := r.Finalize("task", "m", "p", Settings{}, Result{Outcome: OutcomeSuccess})
	if rep.Stats.Compactions != 2 {
		t.Errorf("expected 2 compactions, got %d", rep.Stats.Compactions)
	}
	if rep.Stats.TurnDrops != 4 {
		t.Errorf("expected 4 turn drops, got %d", rep.Stats.TurnDrops)
	}
}

func TestRecordGuardrailAndTruncated(t *testing.T) {
	r := NewRecorder()
	r.RecordGuardrail(5, "run_command", "nudge")
	r.RecordGuardrail(6, "run_command", "stop")
	r.RecordTruncated(7)

	rep := r.Finalize("task", "m", "p", Settings{}, Result{Outcome: OutcomeSuccess})
	if rep.Stats.GuardrailInterventions != 2 {
		t.Errorf("expected 2 guardrail interventions, got %d", rep.Stats.GuardrailInterventions)
	}
	if rep.Stats.TruncatedResponses != 1 {
		t.Errorf("expected 1 truncated response, got %d", rep.Stats.TruncatedResponses)
	}
}

func TestFinalize_SnapshotIsIndependentOfLaterMutation(t *testing.T) {
	r := NewRecorder()
	r.RecordToolCall(1, "read_file", json.RawMessage(`{}`), true, 0, 10, "")
	rep := r.Finalize("task", "m", "p", Settings{}, Result{Outcome: OutcomeSuccess})

	r.RecordToolCall(2, "write_file", json.RawMessage(`{}`), true, 0, 0, "")

	if len(rep.Timeline) != 1 {
		t.Errorf("expected the earlier snapshot's timeline to stay at length 1, got %d", len(rep.Timeline))
	}
}

func TestReport_JSONRoundTrip(t *testing.T) {
	// R1
	r := NewRecorder()
	r.SetTurns(2)
	r.RecordLLMCall(1, 50*time.Millisecond, 200, "stop", false, "")
	r.RecordToolCall(1, "grep", json.RawMessage(`{"pattern":"foo"}`), true, 5*time.Millisecond, 42, "")
	r.RecordCompaction(2, "compact_messages", 3000, 1800, 0)
	r.RecordGuardrail(2, "run_command", "nudge")

	rep := r.Finalize("do the thing", "gpt-5", "openai", Settings{
		Temperature: 0.7, MaxTurns: 50, AllowedCommands: []string{"ls", "cat"},
	}, Result{Outcome: OutcomeSuccess, Answer: strPtr("done")})

	data, err := json.Marshal(rep)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var roundTripped Report
	if err := json.Unmarshal(data, &roundTripped); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	data2, err := json.Marshal(roundTripped)
	if err != nil {
		t.Fatalf("re-Marshal: %v", err)
	}
	if string(data) != string(data2) {
		t.Errorf("round-trip not stable:\n%s\nvs\n%s", data, data2)
	}
}

func TestWriteAtomic_WritesReadableFileAndCleansUpTemp(t *testing.T) {
	fs := afero.NewMemMapFs()
	r := NewRecorder()
	rep := r.Finalize("task", "m", "p", Settings{}, Result{Outcome: OutcomeExhausted, ExitCode: 1})

	if err := WriteAtomic(fs, "report.json", rep); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}

	data, err := afero.ReadFile(fs, "report.json")
	if err != nil {
		t.Fatalf("expected report.json to exist: %v", err)
	}
	var got Report
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("report.json is not valid JSON: %v", err)
	}
	if got.Result.Outcome != OutcomeExhausted || got.Result.ExitCode != 1 {
		t.Errorf("unexpected result in written report: %+v", got.Result)
	}
	if exists, _ := afero.Exists(fs, "report.json.tmp"); exists {
		t.Error("expected the temp file to be gone after rename")
	}
}
