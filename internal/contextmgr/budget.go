package contextmgr

import "github.com/swival/swival/internal/util"

// perMessageOverhead approximates the framing tokens a chat wire format adds
// around every message (role marker, delimiters) on top of its content.
const perMessageOverhead = 4

// Manager computes token budgets and drives compaction. It holds no message
// state of its own — every method takes the current message list as an
// argument, so the Agent Loop remains the single owner of conversation state.
type Manager struct {
	ContextWindowTokens int
	MaxOutputTokens     int
	SafetyMargin        int
	SafetyFloor         int
}

// New creates a Manager. contextWindowTokens <= 0 disables budget
// enforcement entirely (Fit always reports enough room).
func New(contextWindowTokens, maxOutputTokens, safetyMargin, safetyFloor int) *Manager {
	return &Manager{
		ContextWindowTokens: contextWindowTokens,
		MaxOutputTokens:     maxOutputTokens,
		SafetyMargin:        safetyMargin,
		SafetyFloor:         safetyFloor,
	}
}

// EstimateTokens sums the estimated token cost of every message, including
// per-message framing overhead.
func (m *Manager) EstimateTokens(msgs []Message) int {
	total := 0
	for _, msg := range msgs {
		total += util.EstimateTokens(msg.Content) + perMessageOverhead
		for _, tc := range msg.ToolCalls {
			total += util.EstimateTokens(string(tc.Arguments)) + perMessageOverhead
		}
	}
	return total
}

// Fit computes the dynamic per-turn output budget for the next LLM call:
// min(configured max output, context window - estimated prompt - safety
// margin). ok=false means the budget has collapsed to or below the safety
// floor and compaction must run before the call proceeds.
func (m *Manager) Fit(msgs []Message) (budget int, ok bool) {
	if m.ContextWindowTokens <= 0 {
		return m.MaxOutputTokens, true
	}
	promptTokens := m.EstimateTokens(msgs)
	budget = m.MaxOutputTokens
	if room := m.ContextWindowTokens - promptTokens - m.SafetyMargin; room < budget {
		budget = room
	}
	return budget, budget > m.SafetyFloor
}
