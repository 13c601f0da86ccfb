package mcp

import (
	"log"
	"sort"

	"github.com/swival/swival/internal/util"
)

// warnSchemaPct and trimSchemaPct are the schema-budget thresholds:
// above warnSchemaPct the total is merely logged, above
// trimSchemaPct servers are evicted (largest schema cost first) until the
// total is back at or under trimSchemaPct.
const (
	warnSchemaPct = 0.30
	trimSchemaPct = 0.50
)

// serverCost is a server's aggregate tool-schema token cost.
type serverCost struct {
	name   string
	tokens int
}

// schemaCost sums the estimated token cost of a single server's advertised
// tool descriptions and JSON schemas.
func schemaCost(infos []ToolInfo) int {
	total := 0
	for _, ti := range infos {
		total += util.EstimateTokens(ti.Description)
		total += util.EstimateTokens(string(ti.InputSchema))
	}
	return total
}

// ApplySchemaBudget runs the startup schema-budgeting pass: total MCP
// schema tokens must end up <= 50% of the context window after trimming. Called once, after ConnectAll, before the agent
// loop starts. Returns the names of any servers it evicted.
func (m *Manager) ApplySchemaBudget(contextWindowTokens int) []string {
	if contextWindowTokens <= 0 {
		return nil
	}

	m.mu.Lock()
	costs := make([]serverCost, 0, len(m.tools))
	total := 0
	for name, infos := range m.tools {
		c := schemaCost(infos)
		costs = append(costs, serverCost{name: name, tokens: c})
		total += c
	}
	m.mu.Unlock()

	if total == 0 {
		return nil
	}

	ratio := float64(total) / float64(contextWindowTokens)
	if ratio > warnSchemaPct {
		log.Printf("[MCP] WARNING: MCP tool schemas consume %.0f%% of the context window (%d/%d tokens)",
			ratio*100, total, contextWindowTokens)
	}
	if ratio <= trimSchemaPct {
		return nil
	}

	// Evict the largest-schema server repeatedly until at or under budget.
	sort.Slice(costs, func(i, j int) bool { return costs[i].tokens > costs[j].tokens })

	var evicted []string
	for _, c := range costs {
		if ratio <= trimSchemaPct {
			break
		}
		m.DropServer(c.name)
		total -= c.tokens
		ratio = float64(total) / float64(contextWindowTokens)
		evicted = append(evicted, c.name)
		log.Printf("[MCP] evicted server %q to stay under the %.0f%% schema budget (now %.0f%%)",
			c.name, trimSchemaPct*100, ratio*100)
	}
	return evicted
}
