// Package llmclient is a façade over github.com/openai/openai-go/v3's Chat
// Completions API, grounded on the teacher's pkg/connector/provider_openai.go
// (client construction, zerolog request tracing) and
// original_source/src/gpt.rs::call_gpt (30-second deadline, single
// system+user message shape — this bot has no tool-calling or multimodal
// surface, so the Responses-API machinery the teacher needs is unwired).
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/rs/zerolog"

	"github.com/kojira/nostr-chan-go/internal/core"
)

// Client wraps a single OpenAI-compatible chat endpoint.
type Client struct {
	client  openai.Client
	model   string
	timeout time.Duration
	log     zerolog.Logger
}

// New builds a Client. baseURL may be empty to use OpenAI's default
// endpoint (grounded on teacher's NewOpenAIProviderWithBaseURL).
func New(apiKey, baseURL, model string, timeout time.Duration, log zerolog.Logger) *Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Client{
		client:  openai.NewClient(opts...),
		model:   model,
		timeout: timeout,
		log:     log.With().Str("component", "llmclient").Logger(),
	}
}

// Usage reports token accounting for one completion call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Reply is the result of a completed chat call.
type Reply struct {
	Content string
	Usage   Usage
}

// Complete sends a single system+user exchange and returns the first
// choice's content. Deadline-bounded via ctx, grounded on gpt.rs wrapping
// the call in tokio::time::timeout(30s).
func (c *Client) Complete(ctx context.Context, systemPrompt, userContent string) (*Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userContent),
		},
	})
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("chat completion: %w", core.ErrTimeout)
		}
		return nil, fmt.Errorf("chat completion: %w: %v", core.ErrUpstream, err)
	}

	var content string
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}
	return replyFromContent(content, int(resp.Usage.PromptTokens), int(resp.Usage.CompletionTokens))
}

// replyFromContent validates that the model actually returned text and
// packages it with usage, isolated from the SDK response type so it can be
// unit tested without a live API call.
func replyFromContent(content string, promptTokens, completionTokens int) (*Reply, error) {
	if content == "" {
		return nil, core.ErrEmpty
	}
	return &Reply{
		Content: content,
		Usage: Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
		},
	}, nil
}
