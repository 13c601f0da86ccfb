package agent

import (
	"fmt"
	"strings"
)

// InstructionFile is one loaded project instruction file (e.g. AGENTS.md),
// capped and ordered deterministically before injection.
type InstructionFile struct {
	Name    string
	Content string
}

// BuildBasePrompt assembles the static part of the system prompt: a fixed
// preamble, the tool catalog, and any loaded instruction files, in that
// order. The Knowledge Channels render is layered on top of
// this every turn by DecideNode, since it changes turn to turn while this
// part does not.
func BuildBasePrompt(preamble, toolsPrompt string, instructionFiles []InstructionFile) string {
	var sb strings.Builder
	sb.WriteString(preamble)
	if toolsPrompt != "" {
		sb.WriteString("\n\n")
		sb.WriteString(toolsPrompt)
	}
	for _, f := range instructionFiles {
		fmt.Fprintf(&sb, "\n\n## Instructions: %s\n%s\n", f.Name, f.Content)
	}
	return sb.String()
}
