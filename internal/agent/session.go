// Package agent implements the Agent Loop: the DecideNode/ToolNode/AnswerNode
// core.Flow that drives one task from the initial user message to a final
// answer, with graduated context compaction, output capping, the guardrail,
// and the Knowledge Channels wired in at each turn.
package agent

import (
	"fmt"
	"os"

	"github.com/spf13/afero"

	"github.com/swival/swival/internal/contextmgr"
	"github.com/swival/swival/internal/guardrail"
	"github.com/swival/swival/internal/knowledge"
	"github.com/swival/swival/internal/llm"
	"github.com/swival/swival/internal/outputcaps"
	"github.com/swival/swival/internal/report"
	"github.com/swival/swival/internal/snapshot"
	"github.com/swival/swival/internal/tool"
	"github.com/swival/swival/internal/util"
)

// historyMaxBytes caps .swival/HISTORY.md;
// once the file reaches this size, new entries are skipped rather than
// rotated or truncated.
const historyMaxBytes = 500 * 1024

// Session bundles every dependency the Agent Loop's nodes need, so they can
// be constructed from a single reference instead of threading a dozen
// individual fields through each node.
type Session struct {
	Fs       afero.Fs
	Registry *tool.Registry
	Provider llm.Provider

	ModelName    string
	ProviderName string

	ContextMgr *contextmgr.Manager

	// Summarizer backs both compaction recaps and, when Proactive is set,
	// the periodic background checkpoint summaries.
	Summarizer contextmgr.Summarizer
	Proactive  bool

	// BasePrompt is the static part of the system prompt (preamble, tool
	// catalog, instruction files); DecideNode appends the live Knowledge
	// Channels render on top of it every turn.
	BasePrompt string

	Channels *knowledge.Channels
	Merger   knowledge.Merger

	Caps      *outputcaps.Capper
	Guardrail *guardrail.Guardrail
	Snapshot  *snapshot.Controller
	Recorder  *report.Recorder

	HistoryPath string // .swival/HISTORY.md

	// TurnRef is a shared cell DecideNode.Prep updates every turn so the
	// todo and snapshot tools (constructed once, before the loop starts)
	// can read the current turn number through the turnFunc closure they
	// were given at registration time.
	TurnRef *int
}

// AppendHistory records a fetch_url call in the persisted history log, if
// the file hasn't already grown past historyMaxBytes.
func (s *Session) AppendHistory(url, summary string) {
	if s.Fs == nil || s.HistoryPath == "" {
		return
	}
	if info, err := s.Fs.Stat(s.HistoryPath); err == nil && info.Size() >= historyMaxBytes {
		return
	}
	line := fmt.Sprintf("- %s: %s\n", url, util.TruncateRunes(summary, 200))
	f, err := s.Fs.OpenFile(s.HistoryPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.WriteString(line)
}
