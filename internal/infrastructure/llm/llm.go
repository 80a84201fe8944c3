// Package llm adapts evaluation model providers to ports.CompletionClient.
package llm

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/time/rate"

	"ArticlesRanker/internal/config"
	"ArticlesRanker/internal/ports"
)

// New creates a completion client for the configured provider, rate limited
// when requestsPerSecond is set.
func New(cfg config.LLMConfig) (ports.CompletionClient, error) {
	var client ports.CompletionClient
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "openai":
		client = NewOpenAIClient(cfg.Endpoint, cfg.APIKey, cfg.Timeout)
	case "anthropic", "claude":
		client = NewAnthropicClient(cfg.APIKey, cfg.Endpoint, cfg.Timeout)
	default:
		return nil, fmt.Errorf("unknown llm provider: %q (valid: openai, anthropic)", cfg.Provider)
	}

	if cfg.RequestsPerSecond > 0 {
		client = NewRateLimited(client, cfg.RequestsPerSecond, cfg.Burst)
	}
	return client, nil
}

// RateLimited throttles calls to an underlying client.
type RateLimited struct {
	next    ports.CompletionClient
	limiter *rate.Limiter
}

var _ ports.CompletionClient = (*RateLimited)(nil)

// NewRateLimited wraps next with a token bucket; burst defaults to 1.
func NewRateLimited(next ports.CompletionClient, rps float64, burst int) *RateLimited {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Complete waits for a token, then delegates.
func (r *RateLimited) Complete(ctx context.Context, req ports.CompletionRequest) (ports.Completion, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return ports.Completion{}, fmt.Errorf("rate limit wait: %w", err)
	}
	return r.next.Complete(ctx, req)
}
