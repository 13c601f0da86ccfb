package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/swival/swival/internal/llm"
)

// YAMLDecisionGuide is appended to the system prompt for providers without
// Function Calling support, instructing the model to emit its per-turn
// decision as a fenced YAML block instead of structured tool calls.
const YAMLDecisionGuide = "On every turn, respond with exactly one fenced YAML block:\n" +
	"```yaml\naction: tool\ntool: <tool name>\nargs:\n  <parameter>: <value>\n```\n" +
	"or, when the task is complete:\n" +
	"```yaml\naction: answer\nanswer: |\n  <your final answer>\n```"

// yamlDecision mirrors the YAML block the model emits in non-FC mode.
type yamlDecision struct {
	Action string         `yaml:"action"`
	Tool   string         `yaml:"tool"`
	Args   map[string]any `yaml:"args"`
	Answer string         `yaml:"answer"`
}

// parseYAMLDecision parses a YAML-mode response body. When the model chose a
// tool, it returns a synthesized ToolCall (with a generated call ID, since
// no provider-assigned ID exists in this mode) and isTool=true. When the
// model chose to answer, it returns the answer text. Anything unparseable
// returns ("", false) and the caller treats the raw text as the answer.
func parseYAMLDecision(raw string) (call llm.ToolCall, answer string, isTool bool) {
	body := extractFencedBlock(raw)

	// The fence content is trimmed; restore its final line break so a
	// literal block scalar (answer: |) keeps its trailing newline.
	var d yamlDecision
	if err := yaml.Unmarshal([]byte(body+"\n"), &d); err != nil {
		return llm.ToolCall{}, "", false
	}

	switch d.Action {
	case "tool":
		if d.Tool == "" {
			return llm.ToolCall{}, "", false
		}
		args, err := json.Marshal(d.Args)
		if err != nil || d.Args == nil {
			args = json.RawMessage("{}")
		}
		return llm.ToolCall{
			ID:        fmt.Sprintf("yaml_%s", uuid.NewString()[:8]),
			Name:      d.Tool,
			Arguments: args,
		}, "", true
	case "answer":
		if d.Answer == "" {
			return llm.ToolCall{}, "", false
		}
		return llm.ToolCall{}, d.Answer, false
	default:
		return llm.ToolCall{}, "", false
	}
}

// extractFencedBlock pulls the content of the first ```yaml (or bare ```)
// code fence out of content, falling back to the whole trimmed text when no
// fence is present.
func extractFencedBlock(content string) string {
	for _, marker := range []string{"```yaml", "```"} {
		if idx := strings.Index(content, marker); idx >= 0 {
			rest := content[idx+len(marker):]
			if end := strings.Index(rest, "```"); end >= 0 {
				return strings.TrimSpace(rest[:end])
			}
		}
	}
	return strings.TrimSpace(content)
}
