package report

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// Recorder is the append-only event log plus incrementally updated
// counters. Safe for concurrent use: every mutating method takes mu, so a
// background summarization call can record its own events without racing
// the loop.
type Recorder struct {
	mu       sync.Mutex
	timeline []TimelineEvent
	stats    Stats
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{stats: Stats{ToolCallsByName: make(map[string]*ToolNameCounter)}}
}

// SetTurns records the final turn count.
func (r *Recorder) SetTurns(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.Turns = n
}

// RecordLLMCall appends an llm_call event and updates its counters.
func (r *Recorder) RecordLLMCall(turn int, duration time.Duration, promptTokensEst int, finishReason string, isRetry bool, retryReason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timeline = append(r.timeline, TimelineEvent{
		Turn: turn, Type: EventLLMCall,
		DurationS: duration.Seconds(), PromptTokensEst: promptTokensEst,
		FinishReason: finishReason, IsRetry: isRetry, RetryReason: retryReason,
	})
	r.stats.LLMCalls++
	r.stats.TotalLLMTimeS += duration.Seconds()
}

// RecordToolCall appends a tool_call event and updates per-tool counters.
// A nil args means the model emitted invalid JSON; the event records an
// explicit null so the report distinguishes "no parseable arguments" from
// an empty object.
func (r *Recorder) RecordToolCall(turn int, name string, args json.RawMessage, succeeded bool, duration time.Duration, resultLength int, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if args == nil {
		args = json.RawMessage("null")
	}
	ok := succeeded
	r.timeline = append(r.timeline, TimelineEvent{
		Turn: turn, Type: EventToolCall,
		Name: name, Arguments: args, Succeeded: &ok,
		DurationS: duration.Seconds(), ResultLength: resultLength, Error: errMsg,
	})

	r.stats.ToolCallsTotal++
	r.stats.TotalToolTimeS += duration.Seconds()
	if succeeded {
		r.stats.ToolCallsSucceeded++
	} else {
		r.stats.ToolCallsFailed++
	}

	c, ok2 := r.stats.ToolCallsByName[name]
	if !ok2 {
		c = &ToolNameCounter{}
		r.stats.ToolCallsByName[name] = c
	}
	if succeeded {
		c.Succeeded++
	} else {
		c.Failed++
	}
}

// RecordCompaction appends a compaction event and updates its counters.
// turnsDropped is 0 for Level 1 (no turns dropped, only shrunk).
func (r *Recorder) RecordCompaction(turn int, strategy string, tokensBefore, tokensAfter, turnsDropped int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timeline = append(r.timeline, TimelineEvent{
		Turn: turn, Type: EventCompaction,
		Strategy: strategy, TokensBefore: tokensBefore, TokensAfter: tokensAfter,
	})
	r.stats.Compactions++
	r.stats.TurnDrops += turnsDropped
}

// RecordGuardrail appends a guardrail event and updates its counter.
func (r *Recorder) RecordGuardrail(turn int, tool, level string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timeline = append(r.timeline, TimelineEvent{Turn: turn, Type: EventGuardrail, Tool: tool, Level: level})
	r.stats.GuardrailInterventions++
}

// RecordTruncated appends a truncated_response event and updates its counter.
func (r *Recorder) RecordTruncated(turn int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timeline = append(r.timeline, TimelineEvent{Turn: turn, Type: EventTruncatedResponse})
	r.stats.TruncatedResponses++
}

// Finalize assembles the complete Report document. The timeline slice is
// defensively copied so later mutation of the Recorder cannot retroactively
// change an already-emitted report.
func (r *Recorder) Finalize(task, model, provider string, settings Settings, result Result) Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	timeline := make([]TimelineEvent, len(r.timeline))
	copy(timeline, r.timeline)
	return Report{
		Version:   1,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Task:      task,
		Model:     model,
		Provider:  provider,
		Settings:  settings,
		Result:    result,
		Stats:     r.stats,
		Timeline:  timeline,
	}
}

// WriteAtomic serializes rep as indented JSON and writes it to path via a
// temp-file-then-rename so a reader never observes a partial report.
func WriteAtomic(fs afero.Fs, path string, rep Report) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := afero.WriteFile(fs, tmp, data, 0o644); err != nil {
		return err
	}
	return fs.Rename(tmp, path)
}
