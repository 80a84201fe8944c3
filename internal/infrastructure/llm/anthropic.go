package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"ArticlesRanker/internal/domain"
	"ArticlesRanker/internal/ports"
)

// AnthropicClient implements ports.CompletionClient with the Messages API.
type AnthropicClient struct {
	client anthropic.Client
}

var _ ports.CompletionClient = (*AnthropicClient)(nil)

// NewAnthropicClient builds a client. An empty baseURL keeps the SDK default.
func NewAnthropicClient(apiKey, baseURL string, timeout time.Duration) *AnthropicClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}
	return &AnthropicClient{client: anthropic.NewClient(opts...)}
}

// Complete sends one system+user exchange and concatenates the text blocks of the reply.
func (c *AnthropicClient) Complete(ctx context.Context, in ports.CompletionRequest) (ports.Completion, error) {
	if in.Model == "" {
		return ports.Completion{}, errors.New("anthropic client misconfigured")
	}
	maxTokens := int64(in.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(in.Model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(in.Prompt)),
		},
	}
	if strings.TrimSpace(in.System) != "" {
		params.System = []anthropic.TextBlockParam{{Text: in.System}}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return ports.Completion{}, fmt.Errorf("anthropic messages: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return ports.Completion{
		Text:  text.String(),
		Model: string(msg.Model),
		Usage: domain.TokenUsage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}, nil
}
