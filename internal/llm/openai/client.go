package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/swival/swival/internal/errs"
	"github.com/swival/swival/internal/llm"
	openailib "github.com/sashabaranov/go-openai"
)

// contextOverflowMarkers are substrings that OpenAI-compatible backends are
// known to emit when a request exceeds the model's context window. Matching
// is best-effort: an unrecognised backend's overflow error surfaces as a
// plain ProviderError instead, and the agent loop treats it as unrecoverable
// for that turn rather than retrying forever.
var contextOverflowMarkers = []string{
	"context_length_exceeded",
	"maximum context length",
	"context window",
	"too many tokens",
	"prompt is too long",
}

func classifyLLMError(err error) error {
	if err == nil {
		return nil
	}
	lower := strings.ToLower(err.Error())
	for _, marker := range contextOverflowMarkers {
		if strings.Contains(lower, marker) {
			return errs.Wrap(errs.ContextOverflow, "provider rejected request as too large", err)
		}
	}
	return errs.Wrap(errs.ProviderError, "LLM call failed", err)
}

// Client implements llm.Provider using the OpenAI-compatible protocol.
// Works with any endpoint that supports the OpenAI chat completions API.
type Client struct {
	client *openailib.Client
	config *Config
}

// GetConfig returns the client's configuration.
func (c *Client) GetConfig() *Config {
	return c.config
}

// NewClient creates a new OpenAI-compatible client.
func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	clientConfig := openailib.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	// Prevent indefinite hangs when the API is unresponsive.
	httpTimeout := time.Duration(config.HTTPTimeout) * time.Second
	clientConfig.HTTPClient = &http.Client{Timeout: httpTimeout}

	return &Client{
		client: openailib.NewClientWithConfig(clientConfig),
		config: config,
	}, nil
}

// NewClientFromEnv creates a client using environment variables.
func NewClientFromEnv() (*Client, error) {
	config, err := NewConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}
	return NewClient(config)
}

func (c *Client) toOpenAIMessages(messages []llm.Message) []openailib.ChatCompletionMessage {
	out := make([]openailib.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		out[i] = openailib.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
		if msg.Role == llm.RoleTool && msg.ToolCallID != "" {
			out[i].ToolCallID = msg.ToolCallID
			if msg.Name != "" {
				out[i].Name = msg.Name
			}
		}
		if msg.Role == llm.RoleAssistant && len(msg.ToolCalls) > 0 {
			tcs := make([]openailib.ToolCall, len(msg.ToolCalls))
			for j, tc := range msg.ToolCalls {
				tcs[j] = openailib.ToolCall{
					ID:   tc.ID,
					Type: openailib.ToolTypeFunction,
					Function: openailib.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				}
			}
			out[i].ToolCalls = tcs
		}
	}
	return out
}

func toOpenAITools(tools []llm.ToolDefinition) []openailib.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openailib.Tool, len(tools))
	for i, t := range tools {
		out[i] = openailib.Tool{
			Type: openailib.ToolTypeFunction,
			Function: &openailib.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		}
	}
	return out
}

func toFinishReason(r openailib.FinishReason) llm.FinishReason {
	switch r {
	case openailib.FinishReasonLength:
		return llm.FinishLength
	case openailib.FinishReasonToolCalls, openailib.FinishReasonFunctionCall:
		return llm.FinishToolCalls
	default:
		return llm.FinishStop
	}
}

// Complete sends messages (with optional tool definitions) to the LLM and
// returns the full response, including the provider's finish reason. The
// response's max-tokens cap comes from the client's configured default; use
// CompleteWithBudget to override it for a single call.
func (c *Client) Complete(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (llm.Response, error) {
	return c.CompleteWithBudget(ctx, messages, tools, c.config.MaxTokens)
}

// CompleteWithBudget behaves like Complete but overrides the max-output-token
// cap for this call alone, letting the agent loop pass the Context Manager's
// dynamic per-turn budget without mutating shared client configuration.
// maxOutputTokens <= 0 falls back to the client's configured default.
func (c *Client) CompleteWithBudget(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition, maxOutputTokens int) (llm.Response, error) {
	if len(messages) == 0 {
		return llm.Response{}, fmt.Errorf("no messages to send")
	}

	req := openailib.ChatCompletionRequest{
		Model:    c.config.Model,
		Messages: c.toOpenAIMessages(messages),
		Tools:    toOpenAITools(tools),
	}
	if c.config.Temperature != nil {
		req.Temperature = *c.config.Temperature
	}
	if c.config.TopP != nil {
		req.TopP = *c.config.TopP
	}
	if c.config.Seed != nil {
		req.Seed = c.config.Seed
	}
	if maxOutputTokens > 0 {
		req.MaxTokens = maxOutputTokens
	} else if c.config.MaxTokens > 0 {
		req.MaxTokens = c.config.MaxTokens
	}
	if len(tools) == 0 && c.config.ResolveThinkingMode() == "native" {
		req.ReasoningEffort = c.config.ReasoningEffort
	}

	var resp openailib.ChatCompletionResponse
	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		resp, lastErr = c.client.CreateChatCompletion(ctx, req)
		if lastErr == nil {
			break
		}
		if attempt < c.config.MaxRetries {
			wait := time.Duration(attempt+1) * time.Second
			log.Printf("[LLM] retry %d/%d after %v, error: %v", attempt+1, c.config.MaxRetries, wait, lastErr)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return llm.Response{}, ctx.Err()
			}
		}
	}
	if lastErr != nil {
		return llm.Response{}, classifyLLMError(fmt.Errorf("LLM call failed after %d retries: %w", c.config.MaxRetries, lastErr))
	}
	if len(resp.Choices) == 0 {
		return llm.Response{}, fmt.Errorf("no choices returned from LLM")
	}

	choice := resp.Choices[0]
	out := llm.Message{
		Role:             llm.RoleAssistant,
		Content:          choice.Message.Content,
		ReasoningContent: choice.Message.ReasoningContent,
	}
	if len(choice.Message.ToolCalls) > 0 {
		out.ToolCalls = make([]llm.ToolCall, len(choice.Message.ToolCalls))
		for i, tc := range choice.Message.ToolCalls {
			out.ToolCalls[i] = llm.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: json.RawMessage(tc.Function.Arguments),
			}
		}
	}

	return llm.Response{Message: out, FinishReason: toFinishReason(choice.FinishReason)}, nil
}

// CompleteStream streams a plain-text completion token-by-token.
func (c *Client) CompleteStream(ctx context.Context, messages []llm.Message, onChunk llm.StreamCallback) (llm.Response, error) {
	if onChunk == nil {
		return c.Complete(ctx, messages, nil)
	}
	if len(messages) == 0 {
		return llm.Response{}, fmt.Errorf("no messages to send")
	}

	req := openailib.ChatCompletionRequest{
		Model:    c.config.Model,
		Messages: c.toOpenAIMessages(messages),
		Stream:   true,
	}
	if c.config.Temperature != nil {
		req.Temperature = *c.config.Temperature
	}
	if c.config.TopP != nil {
		req.TopP = *c.config.TopP
	}
	if c.config.Seed != nil {
		req.Seed = c.config.Seed
	}
	if c.config.MaxTokens > 0 {
		req.MaxTokens = c.config.MaxTokens
	}
	if c.config.ResolveThinkingMode() == "native" {
		req.ReasoningEffort = c.config.ReasoningEffort
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		log.Printf("[LLM] stream creation failed, falling back to sync: %v", err)
		return c.Complete(ctx, messages, nil)
	}
	defer stream.Close()

	var sb, reasoningSB strings.Builder
	finish := llm.FinishStop
	for {
		chunkResp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if sb.Len() > 0 {
				log.Printf("[LLM] stream interrupted after %d chars: %v", sb.Len(), err)
				break
			}
			return llm.Response{}, fmt.Errorf("stream recv error: %w", err)
		}
		if len(chunkResp.Choices) > 0 {
			ch := chunkResp.Choices[0]
			if rc := ch.Delta.ReasoningContent; rc != "" {
				reasoningSB.WriteString(rc)
			}
			if delta := ch.Delta.Content; delta != "" {
				sb.WriteString(delta)
				onChunk(delta)
			}
			if ch.FinishReason != "" {
				finish = toFinishReason(ch.FinishReason)
			}
		}
	}

	return llm.Response{
		Message: llm.Message{
			Role:             llm.RoleAssistant,
			Content:          sb.String(),
			ReasoningContent: reasoningSB.String(),
		},
		FinishReason: finish,
	}, nil
}

// SupportsFunctionCalling reports whether this client's configured model
// should be driven with the Function Calling protocol.
func (c *Client) SupportsFunctionCalling() bool {
	return c.config.ResolveToolCallMode() == "fc"
}

// GetName returns the provider name.
func (c *Client) GetName() string {
	return fmt.Sprintf("openai-compatible (%s)", c.config.Model)
}
