// Package evaluation implements the two-tier LLM evaluation: a cheap Stage 1
// relevance filter and a Stage 2 quality evaluator (single judge or ensemble).
package evaluation

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"ArticlesRanker/internal/domain"
	"ArticlesRanker/internal/ports"
)

// FilteringPreset names a Stage 1 threshold.
type FilteringPreset string

const (
	PresetLoose  FilteringPreset = "loose"
	PresetNormal FilteringPreset = "normal"
	PresetStrict FilteringPreset = "strict"
)

// ParseFilteringPreset resolves a preset name; empty means PresetNormal.
func ParseFilteringPreset(name string) (FilteringPreset, error) {
	switch FilteringPreset(strings.ToLower(strings.TrimSpace(name))) {
	case "", PresetNormal:
		return PresetNormal, nil
	case PresetLoose:
		return PresetLoose, nil
	case PresetStrict:
		return PresetStrict, nil
	default:
		return "", fmt.Errorf("unknown filtering preset %q", name)
	}
}

// Threshold is the minimal 0-10 relevance score that passes.
func (p FilteringPreset) Threshold() float64 {
	switch p {
	case PresetLoose:
		return 2.0
	case PresetStrict:
		return 6.0
	default:
		return 3.0
	}
}

const (
	defaultRelevanceBatch = 10
	maxRelevanceBatch     = 25
	relevanceMaxScore     = 10.0
)

// RelevanceConfig tunes Stage 1.
type RelevanceConfig struct {
	Model     string
	Preset    FilteringPreset
	BatchSize int
	MaxTokens int
}

// RelevanceFilter classifies articles in batches with a low-cost model.
type RelevanceFilter struct {
	client    ports.CompletionClient
	model     string
	threshold float64
	batchSize int
	maxTokens int
	logger    *slog.Logger
}

var _ ports.RelevanceFilter = (*RelevanceFilter)(nil)

// NewRelevanceFilter builds a Stage 1 filter.
func NewRelevanceFilter(client ports.CompletionClient, cfg RelevanceConfig, logger *slog.Logger) *RelevanceFilter {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultRelevanceBatch
	}
	if batch > maxRelevanceBatch {
		batch = maxRelevanceBatch
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &RelevanceFilter{
		client:    client,
		model:     cfg.Model,
		threshold: cfg.Preset.Threshold(),
		batchSize: batch,
		maxTokens: maxTokens,
		logger:    logger,
	}
}

// Threshold returns the active pass mark.
func (f *RelevanceFilter) Threshold() float64 {
	return f.threshold
}

// Filter scores every article. A failed batch is retried once in smaller
// batches; if that fails too the error is Critical.
func (f *RelevanceFilter) Filter(ctx context.Context, keyword domain.Keyword, articles []domain.Article) ([]domain.RelevanceResult, domain.TokenUsage, error) {
	var usage domain.TokenUsage
	results := make([]domain.RelevanceResult, 0, len(articles))

	for start := 0; start < len(articles); start += f.batchSize {
		end := min(start+f.batchSize, len(articles))
		batch := articles[start:end]

		res, u, err := f.evaluateBatch(ctx, keyword, batch)
		usage = usage.Add(u)
		if err != nil {
			if ctx.Err() != nil {
				return results, usage, ctx.Err()
			}
			f.logger.Warn("relevance batch failed, retrying with smaller batches",
				"keyword", keyword.Term, "size", len(batch), "error", err)

			res, u, err = f.retrySmaller(ctx, keyword, batch)
			usage = usage.Add(u)
			if err != nil {
				if ctx.Err() != nil {
					return results, usage, ctx.Err()
				}
				return results, usage, domain.Critical("", "relevance filter unavailable", err)
			}
		}
		results = append(results, res...)
	}

	return results, usage, nil
}

// retrySmaller replays a failed batch in halves. A one-article batch cannot
// shrink and is retried once as is.
func (f *RelevanceFilter) retrySmaller(ctx context.Context, keyword domain.Keyword, batch []domain.Article) ([]domain.RelevanceResult, domain.TokenUsage, error) {
	var usage domain.TokenUsage
	size := max(1, len(batch)/2)
	results := make([]domain.RelevanceResult, 0, len(batch))

	for start := 0; start < len(batch); start += size {
		end := min(start+size, len(batch))
		res, u, err := f.evaluateBatch(ctx, keyword, batch[start:end])
		usage = usage.Add(u)
		if err != nil {
			return nil, usage, err
		}
		results = append(results, res...)
	}
	return results, usage, nil
}

func (f *RelevanceFilter) evaluateBatch(ctx context.Context, keyword domain.Keyword, batch []domain.Article) ([]domain.RelevanceResult, domain.TokenUsage, error) {
	completion, err := f.client.Complete(ctx, ports.CompletionRequest{
		Model:     f.model,
		System:    relevanceSystemPrompt,
		Prompt:    batchPrompt(keyword, batch),
		MaxTokens: f.maxTokens,
	})
	if err != nil {
		return nil, completion.Usage, fmt.Errorf("relevance call: %w", err)
	}

	var resp relevanceResponse
	if err := decodeJSON(completion.Text, &resp); err != nil {
		return nil, completion.Usage, err
	}

	scores := make(map[int]relevanceScore, len(resp.Results))
	for _, r := range resp.Results {
		if r.Score == nil || r.Index < 0 || r.Index >= len(batch) {
			continue
		}
		scores[r.Index] = relevanceScore{value: *r.Score, reason: r.Reason}
	}

	results := make([]domain.RelevanceResult, 0, len(batch))
	for i, a := range batch {
		s, ok := scores[i]
		if !ok {
			f.logger.Debug("article missing from relevance response", "article", a.ID)
		}
		value := math.Max(0, math.Min(relevanceMaxScore, finite(s.value)))
		results = append(results, domain.RelevanceResult{
			ArticleID:      a.ID,
			RelevanceScore: value,
			IsRelevant:     value >= f.threshold,
			Reason:         s.reason,
		})
	}
	return results, completion.Usage, nil
}

type relevanceScore struct {
	value  float64
	reason string
}
