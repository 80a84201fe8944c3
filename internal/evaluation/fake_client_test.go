package evaluation

import (
	"context"
	"strings"
	"sync"

	"ArticlesRanker/internal/domain"
	"ArticlesRanker/internal/ports"
)

// scriptedClient answers each call through respond and records every request.
type scriptedClient struct {
	mu       sync.Mutex
	respond  func(call int, req ports.CompletionRequest) (string, error)
	requests []ports.CompletionRequest
}

func (c *scriptedClient) Complete(ctx context.Context, req ports.CompletionRequest) (ports.Completion, error) {
	c.mu.Lock()
	call := len(c.requests)
	c.requests = append(c.requests, req)
	c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return ports.Completion{}, err
	}
	text, err := c.respond(call, req)
	usage := domain.TokenUsage{InputTokens: 10, OutputTokens: 5}
	if err != nil {
		return ports.Completion{Usage: usage}, err
	}
	return ports.Completion{Text: text, Model: req.Model, Usage: usage}, nil
}

func (c *scriptedClient) calls() []ports.CompletionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ports.CompletionRequest(nil), c.requests...)
}

func (c *scriptedClient) countSystem(prefix string) int {
	n := 0
	for _, r := range c.calls() {
		if strings.HasPrefix(r.System, prefix) {
			n++
		}
	}
	return n
}

func testArticles(n int) []domain.Article {
	out := make([]domain.Article, n)
	for i := range out {
		out[i] = domain.Article{
			ID:      string(rune('a' + i)),
			Title:   "Qubit error correction milestone",
			URL:     "https://example.com/" + string(rune('a'+i)),
			Summary: "A new surface code result.",
		}
	}
	return out
}

var quantum = domain.Keyword{ID: 1, Term: "quantum computing", Aliases: []string{"QC"}, IsActive: true}
