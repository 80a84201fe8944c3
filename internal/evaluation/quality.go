package evaluation

import (
	"context"
	"fmt"
	"log/slog"

	"ArticlesRanker/internal/domain"
	"ArticlesRanker/internal/ports"
)

// RelevanceAxisCutoff excludes an article from ranking when its final Stage 2
// relevance axis (0-20) is below it. It is unrelated to the Stage 1 threshold.
const RelevanceAxisCutoff = 6.0

// Excluded reports whether an evaluation fails the post-hoc relevance gate.
func Excluded(evaluation domain.QualityEvaluation) bool {
	return evaluation.Scores.Relevance < RelevanceAxisCutoff
}

const defaultQualityBatch = 5

// QualityConfig tunes single-judge Stage 2.
type QualityConfig struct {
	Model     string
	BatchSize int
	MaxTokens int
}

// SingleJudge evaluates batches of articles with one higher-capability model call each.
type SingleJudge struct {
	client    ports.CompletionClient
	model     string
	batchSize int
	maxTokens int
	logger    *slog.Logger
}

var _ ports.QualityEvaluator = (*SingleJudge)(nil)

// NewSingleJudge builds the single-judge evaluator.
func NewSingleJudge(client ports.CompletionClient, cfg QualityConfig, logger *slog.Logger) *SingleJudge {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultQualityBatch
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SingleJudge{client: client, model: cfg.Model, batchSize: batch, maxTokens: maxTokens, logger: logger}
}

// Evaluate scores every article. Articles the model skipped come back with a
// Warning; a batch failing after its smaller-batch retry is Critical.
func (j *SingleJudge) Evaluate(ctx context.Context, keyword domain.Keyword, articles []domain.Article) ([]domain.QualityOutcome, domain.TokenUsage, error) {
	var usage domain.TokenUsage
	outcomes := make([]domain.QualityOutcome, 0, len(articles))

	for start := 0; start < len(articles); start += j.batchSize {
		end := min(start+j.batchSize, len(articles))
		batch := articles[start:end]

		res, u, err := j.evaluateBatch(ctx, keyword, batch)
		usage = usage.Add(u)
		if err != nil {
			if ctx.Err() != nil {
				return outcomes, usage, ctx.Err()
			}
			j.logger.Warn("quality batch failed, retrying with smaller batches",
				"keyword", keyword.Term, "size", len(batch), "error", err)

			res, u, err = j.retrySmaller(ctx, keyword, batch)
			usage = usage.Add(u)
			if err != nil {
				if ctx.Err() != nil {
					return outcomes, usage, ctx.Err()
				}
				return outcomes, usage, domain.Critical("", "quality evaluator unavailable", err)
			}
		}
		outcomes = append(outcomes, res...)
	}

	return outcomes, usage, nil
}

// retrySmaller replays a failed batch in halves; a one-article batch is
// retried once as is.
func (j *SingleJudge) retrySmaller(ctx context.Context, keyword domain.Keyword, batch []domain.Article) ([]domain.QualityOutcome, domain.TokenUsage, error) {
	var usage domain.TokenUsage
	size := max(1, len(batch)/2)
	outcomes := make([]domain.QualityOutcome, 0, len(batch))

	for start := 0; start < len(batch); start += size {
		end := min(start+size, len(batch))
		res, u, err := j.evaluateBatch(ctx, keyword, batch[start:end])
		usage = usage.Add(u)
		if err != nil {
			return nil, usage, err
		}
		outcomes = append(outcomes, res...)
	}
	return outcomes, usage, nil
}

func (j *SingleJudge) evaluateBatch(ctx context.Context, keyword domain.Keyword, batch []domain.Article) ([]domain.QualityOutcome, domain.TokenUsage, error) {
	completion, err := j.client.Complete(ctx, ports.CompletionRequest{
		Model:     j.model,
		System:    qualitySystemPrompt,
		Prompt:    batchPrompt(keyword, batch),
		MaxTokens: j.maxTokens,
	})
	if err != nil {
		return nil, completion.Usage, fmt.Errorf("quality call: %w", err)
	}

	var resp qualityResponse
	if err := decodeJSON(completion.Text, &resp); err != nil {
		return nil, completion.Usage, err
	}

	byIndex := make(map[int]domain.QualityEvaluation, len(resp.Results))
	for _, r := range resp.Results {
		if r.Index < 0 || r.Index >= len(batch) {
			continue
		}
		scores := r.axisScores.toScores()
		byIndex[r.Index] = domain.QualityEvaluation{
			Scores:   scores,
			LlmScore: llmScore(r.Total, scores),
			Summary:  r.SummaryJa,
		}
	}

	outcomes := make([]domain.QualityOutcome, 0, len(batch))
	for i, a := range batch {
		ev, ok := byIndex[i]
		if !ok {
			outcomes = append(outcomes, domain.QualityOutcome{
				ArticleID: a.ID,
				Err:       domain.Warning("", a.ID, "missing from quality response", nil),
			})
			continue
		}
		outcomes = append(outcomes, domain.QualityOutcome{ArticleID: a.ID, Evaluation: &ev})
	}
	return outcomes, completion.Usage, nil
}

// NewQualityEvaluator picks ensemble mode when enabled, single-judge otherwise.
func NewQualityEvaluator(client ports.CompletionClient, single QualityConfig, ensemble *EnsembleConfig, logger *slog.Logger) ports.QualityEvaluator {
	if ensemble != nil {
		return NewEnsemble(client, *ensemble, logger)
	}
	return NewSingleJudge(client, single, logger)
}
