package knowledge

import (
	"fmt"
	"strings"
	"sync"
)

// SnapshotRecap is an immutable, time-ordered summary produced when a
// snapshot is restored. Once added it is never edited or removed — it
// survives every compaction level because it lives outside the message list.
type SnapshotRecap struct {
	Label        string
	SummaryText  string
	TurnRangeLow int
	TurnRangeHi  int
}

// Recaps is the append-only store of finalized snapshot recaps.
type Recaps struct {
	mu    sync.Mutex
	items []SnapshotRecap
}

// NewRecaps creates an empty Recaps store.
func NewRecaps() *Recaps {
	return &Recaps{}
}

// Add appends a recap. Recaps are immutable once added.
func (r *Recaps) Add(recap SnapshotRecap) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, recap)
}

// All returns a defensive copy of every recap added so far, oldest first.
func (r *Recaps) All() []SnapshotRecap {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]SnapshotRecap, len(r.items))
	copy(cp, r.items)
	return cp
}

// Render serializes all recaps for system-prompt injection.
func (r *Recaps) Render() string {
	items := r.All()
	if len(items) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Snapshot recaps\n")
	for _, rc := range items {
		fmt.Fprintf(&sb, "- %q (turns %d-%d): %s\n", rc.Label, rc.TurnRangeLow, rc.TurnRangeHi, rc.SummaryText)
	}
	return sb.String()
}
