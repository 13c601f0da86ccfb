package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/swival/swival/internal/contextmgr"
	"github.com/swival/swival/internal/knowledge"
	"github.com/swival/swival/internal/llm"
)

// LLMSummarizer implements both contextmgr.Summarizer (Level 2/3 compaction
// recaps) and knowledge.Merger (checkpoint-summary map/reduce) with a
// single background completion call against the session's own provider —
// the same model the agent loop drives, called out-of-band with a small,
// fixed instruction rather than the live tool-calling prompt.
type LLMSummarizer struct {
	Provider llm.Provider
}

// Summarize renders msgs as a flat transcript and asks the model for a
// terse recap. A transport or provider error is returned to the caller,
// which falls back to a spliced CheckpointSummary or a static marker
// — this method never panics or retries.
func (s *LLMSummarizer) Summarize(ctx context.Context, msgs []contextmgr.Message) (string, error) {
	if s.Provider == nil || len(msgs) == 0 {
		return "", fmt.Errorf("agent: no provider or nothing to summarize")
	}
	transcript := renderTranscript(msgs)
	resp, err := s.Provider.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: summarizeInstruction},
		{Role: llm.RoleUser, Content: transcript},
	}, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Message.Content), nil
}

// Merge consolidates several CheckpointSummary batches into one, for the
// Checkpoints store's map/reduce pass.
func (s *LLMSummarizer) Merge(ctx context.Context, summaries []knowledge.CheckpointSummary) (string, error) {
	if s.Provider == nil || len(summaries) == 0 {
		return "", fmt.Errorf("agent: no provider or nothing to merge")
	}
	var sb strings.Builder
	for _, cs := range summaries {
		fmt.Fprintf(&sb, "turns %d-%d: %s\n", cs.TurnRangeLow, cs.TurnRangeHi, cs.Text)
	}
	resp, err := s.Provider.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: mergeInstruction},
		{Role: llm.RoleUser, Content: sb.String()},
	}, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Message.Content), nil
}

const summarizeInstruction = "Summarize the following conversation excerpt in 3-5 sentences, preserving facts, decisions, and file paths the agent will still need. Do not add commentary about the summarization itself."

const mergeInstruction = "The following are several period summaries of an ongoing coding task, oldest first. Merge them into a single shorter summary that preserves every fact, decision, and file path still relevant, dropping anything superseded."

// renderTranscript flattens msgs into a plain role-prefixed transcript for
// the summarizer prompt.
func renderTranscript(msgs []contextmgr.Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&sb, "[%s/turn %d] %s\n", m.Role, m.TurnIndex, m.Content)
	}
	return sb.String()
}
