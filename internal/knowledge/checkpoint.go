package knowledge

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/swival/swival/internal/util"
)

// CheckpointSummary is a proactive, periodic summary of a batch of
// completed turns.
type CheckpointSummary struct {
	TurnRangeLow int
	TurnRangeHi  int
	Text         string
}

// checkpointBatchSize is the turn cadence at which a new proactive summary
// is produced.
const checkpointBatchSize = 10

// checkpointConsolidateTokens is the total-token threshold above which the
// oldest half of the stored summaries is merged into one (map/reduce).
const checkpointConsolidateTokens = 2000

// Merger produces one summary text from several checkpoint summaries,
// backed by a background LLM call. The Agent Loop supplies the
// implementation; Knowledge Channels has no LLM dependency of its own.
type Merger interface {
	Merge(ctx context.Context, summaries []CheckpointSummary) (string, error)
}

// Checkpoints holds the proactive checkpoint-summary batches.
type Checkpoints struct {
	mu       sync.Mutex
	items    []CheckpointSummary
	lastTurn int
}

// NewCheckpoints creates an empty Checkpoints store.
func NewCheckpoints() *Checkpoints {
	return &Checkpoints{}
}

// Due reports whether a new batch is due at currentTurn (every
// checkpointBatchSize completed turns since the last one).
func (c *Checkpoints) Due(currentTurn int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return currentTurn-c.lastTurn >= checkpointBatchSize
}

// MarkScheduled advances the cadence counter as soon as a batch's
// summarization has been kicked off, so a slow background call doesn't make
// Due fire again for the same turns while it is still in flight.
func (c *Checkpoints) MarkScheduled(turn int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if turn > c.lastTurn {
		c.lastTurn = turn
	}
}

// Add records a new batch summary and advances the cadence counter.
func (c *Checkpoints) Add(summary CheckpointSummary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, summary)
	if summary.TurnRangeHi > c.lastTurn {
		c.lastTurn = summary.TurnRangeHi
	}
}

// All returns a defensive copy of all stored summaries, oldest first.
func (c *Checkpoints) All() []CheckpointSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]CheckpointSummary, len(c.items))
	copy(cp, c.items)
	return cp
}

// totalTokens estimates the combined token cost of all stored summaries.
func (c *Checkpoints) totalTokens() int {
	total := 0
	for _, s := range c.items {
		total += util.EstimateTokens(s.Text)
	}
	return total
}

// ConsolidateIfNeeded merges the oldest half of the stored summaries into a
// single summary once their combined size exceeds
// checkpointConsolidateTokens. A nil merger or a
// failing merge call leaves the summaries untouched.
func (c *Checkpoints) ConsolidateIfNeeded(ctx context.Context, merger Merger) {
	c.mu.Lock()
	if c.totalTokens() <= checkpointConsolidateTokens || len(c.items) < 2 {
		c.mu.Unlock()
		return
	}
	half := len(c.items) / 2
	oldest := make([]CheckpointSummary, half)
	copy(oldest, c.items[:half])
	rest := make([]CheckpointSummary, len(c.items)-half)
	copy(rest, c.items[half:])
	c.mu.Unlock()

	if merger == nil {
		return
	}
	text, err := merger.Merge(ctx, oldest)
	if err != nil || text == "" {
		return
	}

	merged := CheckpointSummary{
		TurnRangeLow: oldest[0].TurnRangeLow,
		TurnRangeHi:  oldest[len(oldest)-1].TurnRangeHi,
		Text:         text,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append([]CheckpointSummary{merged}, rest...)
}

// Render serializes all checkpoint summaries for system-prompt injection.
func (c *Checkpoints) Render() string {
	items := c.All()
	if len(items) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Checkpoint summaries\n")
	for _, s := range items {
		fmt.Fprintf(&sb, "- turns %d-%d: %s\n", s.TurnRangeLow, s.TurnRangeHi, s.Text)
	}
	return sb.String()
}

// MostRelevant returns the most recent checkpoint summary's text, used as
// the Context Manager's Level 2/3 fallback when an LLM summarization call
// fails.
func (c *Checkpoints) MostRelevant() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.items) == 0 {
		return ""
	}
	return c.items[len(c.items)-1].Text
}
