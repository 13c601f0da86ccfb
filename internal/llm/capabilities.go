package llm

import "strings"

// ThinkingCapability describes a model's native thinking support.
type ThinkingCapability struct {
	SupportsNativeThinking bool   // Whether the model supports native thinking
	ReasoningEffortParam   string // API parameter name ("reasoning_effort" for OpenAI-compat)
}

// DetectThinkingCapability determines if a model supports native thinking
// based on model name patterns and a known model list.
//
// Detection strategy (priority order):
//  1. Known model list — exact prefix matches for confirmed models
//  2. Keyword matching — model name contains thinking-related keywords
//  3. Default — assume no native thinking support
func DetectThinkingCapability(modelName string) ThinkingCapability {
	lower := strings.ToLower(modelName)

	// Strip common provider prefixes (e.g., "Pro/deepseek-ai/DeepSeek-R1")
	parts := strings.Split(lower, "/")
	baseName := parts[len(parts)-1]

	// 1. Known models with confirmed native thinking support
	knownThinkingModels := []string{
		"deepseek-reasoner",
		"deepseek-r1",
		"deepseek-r2",
		"o1-mini",
		"o1-preview",
		"o1",
		"o3-mini",
		"o3",
		"o4-mini",
		"claude-sonnet-4-5", // Claude with extended thinking
		"claude-3-7-sonnet", // Claude 3.7 Sonnet extended thinking
		"glm-5",             // Zhipu GLM-5 with deep thinking (reasoning_content)
	}

	for _, known := range knownThinkingModels {
		if strings.HasPrefix(baseName, known) {
			return ThinkingCapability{
				SupportsNativeThinking: true,
				ReasoningEffortParam:   "reasoning_effort",
			}
		}
	}

	// 2. Keyword-based detection for unknown/new models
	thinkingKeywords := []string{
		"-r1", "-r2", "reasoner", "thinking",
		"-o1", "-o3", "-o4",
	}

	for _, kw := range thinkingKeywords {
		if strings.Contains(baseName, kw) {
			return ThinkingCapability{
				SupportsNativeThinking: true,
				ReasoningEffortParam:   "reasoning_effort",
			}
		}
	}

	// 3. Default: no native thinking
	return ThinkingCapability{
		SupportsNativeThinking: false,
	}
}

// fcCapableModels lists model name prefixes known to support OpenAI-style
// Function Calling. Matching is done against the lowercased, prefix-stripped
// base name, same as DetectThinkingCapability.
var fcCapableModels = []string{
	"gpt-4", "gpt-3.5", "gpt-5", "o1", "o3", "o4",
	"claude-3", "claude-sonnet", "claude-opus", "claude-haiku",
	"deepseek-chat", "deepseek-v3",
	"qwen2.5", "qwen3",
	"glm-4", "glm-5",
	"kimi-k2",
}

// DetectToolCallingCapability reports whether a model should be driven with
// the Function Calling ("fc") protocol rather than the YAML-mode fallback.
// Unknown models default to false (YAML mode), the conservative choice.
func DetectToolCallingCapability(modelName string) bool {
	lower := strings.ToLower(modelName)
	parts := strings.Split(lower, "/")
	baseName := parts[len(parts)-1]

	for _, known := range fcCapableModels {
		if strings.HasPrefix(baseName, known) {
			return true
		}
	}
	return false
}

// contextWindows maps known model name prefixes to their context window in
// tokens. Some prefixes overlap ("gpt-4" is a prefix of "gpt-4o"), so
// GetContextWindow uses the longest matching prefix.
var contextWindows = map[string]int{
	"gpt-4o":          128_000,
	"gpt-4-turbo":     128_000,
	"gpt-4":           8_192,
	"gpt-3.5-turbo":   16_385,
	"o1":              128_000,
	"o3":              128_000,
	"claude-3-7":      200_000,
	"claude-sonnet-4": 200_000,
	"claude-opus":     200_000,
	"deepseek-chat":   64_000,
	"deepseek-r1":     64_000,
	"qwen2.5":         32_000,
	"glm-5":           128_000,
	"kimi-k2":         128_000,
}

// GetContextWindow returns the known context window in tokens for a model
// name, or 0 if the model is not in the known-model table.
func GetContextWindow(modelName string) int {
	lower := strings.ToLower(modelName)
	parts := strings.Split(lower, "/")
	baseName := parts[len(parts)-1]

	best, bestLen := 0, 0
	for prefix, window := range contextWindows {
		if strings.HasPrefix(baseName, prefix) && len(prefix) > bestLen {
			best, bestLen = window, len(prefix)
		}
	}
	return best
}
