package evaluation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"ArticlesRanker/internal/domain"
	"ArticlesRanker/internal/ports"
)

// DefaultTolerance is the per-axis spread (0-20 scale) judges may show and
// still count as agreeing.
const DefaultTolerance = 4.0

// JudgeConfig describes one ensemble member.
type JudgeConfig struct {
	Name   string  `yaml:"name"`
	Model  string  `yaml:"model"`
	Weight float64 `yaml:"weight"`
	Focus  string  `yaml:"focus"`
}

// EnsembleConfig tunes ensemble mode.
type EnsembleConfig struct {
	Judges      []JudgeConfig
	JudgeCount  int
	MetaModel   string
	Tolerance   float64
	Concurrency int
	MaxTokens   int
}

// DefaultJudges is the panel used when none is configured.
func DefaultJudges(model string) []JudgeConfig {
	return []JudgeConfig{
		{Name: "engineer", Model: model, Weight: 1, Focus: "technical depth and correctness"},
		{Name: "analyst", Model: model, Weight: 1, Focus: "novelty and industry impact"},
		{Name: "editor", Model: model, Weight: 1, Focus: "writing quality and fit to the keyword"},
	}
}

// Ensemble runs N independent judges per article and consolidates them,
// calling the meta-judge only when they disagree beyond tolerance.
type Ensemble struct {
	client      ports.CompletionClient
	judges      []JudgeConfig
	metaModel   string
	tolerance   float64
	concurrency int
	maxTokens   int
	logger      *slog.Logger
	now         func() time.Time
}

var _ ports.QualityEvaluator = (*Ensemble)(nil)

// NewEnsemble builds the ensemble evaluator. JudgeCount trims the panel, or
// cycles through it when larger than the configured list.
func NewEnsemble(client ports.CompletionClient, cfg EnsembleConfig, logger *slog.Logger) *Ensemble {
	judges := append([]JudgeConfig(nil), cfg.Judges...)
	if len(judges) == 0 {
		judges = DefaultJudges(cfg.MetaModel)
	}
	if cfg.JudgeCount > 0 && cfg.JudgeCount != len(judges) {
		panel := make([]JudgeConfig, cfg.JudgeCount)
		for i := range panel {
			panel[i] = judges[i%len(judges)]
			if i >= len(judges) {
				panel[i].Name = fmt.Sprintf("%s-%d", panel[i].Name, i/len(judges)+1)
			}
		}
		judges = panel
	}
	for i := range judges {
		if judges[i].Weight <= 0 {
			judges[i].Weight = 1
		}
	}

	tolerance := cfg.Tolerance
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = len(judges)
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Ensemble{
		client:      client,
		judges:      judges,
		metaModel:   cfg.MetaModel,
		tolerance:   tolerance,
		concurrency: concurrency,
		maxTokens:   maxTokens,
		logger:      logger,
		now:         time.Now,
	}
}

// Evaluate runs the ensemble over each article in turn. A failing article is
// reported as a Warning outcome; if every article fails the error is Critical.
func (e *Ensemble) Evaluate(ctx context.Context, keyword domain.Keyword, articles []domain.Article) ([]domain.QualityOutcome, domain.TokenUsage, error) {
	var usage domain.TokenUsage
	outcomes := make([]domain.QualityOutcome, 0, len(articles))
	failed := 0

	for _, article := range articles {
		result, err := e.EvaluateArticle(ctx, keyword, article)
		usage = usage.Add(result.Usage)
		if err != nil {
			if ctx.Err() != nil {
				return outcomes, usage, ctx.Err()
			}
			failed++
			outcomes = append(outcomes, domain.QualityOutcome{
				ArticleID: article.ID,
				Err:       domain.Warning("", article.ID, "ensemble evaluation failed", err),
			})
			continue
		}

		outcomes = append(outcomes, domain.QualityOutcome{
			ArticleID: article.ID,
			Evaluation: &domain.QualityEvaluation{
				Scores:   result.Final,
				LlmScore: result.Final.Total(),
				Summary:  result.Summary,
				Ensemble: &result,
			},
		})
	}

	if len(articles) > 0 && failed == len(articles) {
		return outcomes, usage, domain.Critical("", "ensemble evaluator unavailable", errors.New("every article failed"))
	}
	return outcomes, usage, nil
}

// EvaluateArticle fans the judges out, joins them and consolidates. The
// returned result carries usage even on error.
func (e *Ensemble) EvaluateArticle(ctx context.Context, keyword domain.Keyword, article domain.Article) (domain.EnsembleEvaluationResult, error) {
	started := e.now()
	result := domain.EnsembleEvaluationResult{ArticleID: article.ID}

	judges := make([]domain.JudgeEvaluation, len(e.judges))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, cfg := range e.judges {
		g.Go(func() error {
			ev, err := e.judge(gctx, cfg, keyword, article)
			judges[i] = ev
			if err != nil {
				return fmt.Errorf("judge %s: %w", cfg.Name, err)
			}
			return nil
		})
	}
	err := g.Wait()
	for _, j := range judges {
		result.Usage = result.Usage.Add(j.Usage)
	}
	if err != nil {
		result.Duration = e.now().Sub(started)
		return result, err
	}
	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	result.Judges = judges

	detected := DetectContradictions(judges, e.tolerance)
	mean := WeightedMean(judges)
	if len(detected) == 0 {
		result.SkippedMetaJudge = true
		result.Final = mean
		result.Summary = heaviest(judges).Summary
		result.Duration = e.now().Sub(started)
		return result, nil
	}

	meta, err := e.metaJudge(ctx, keyword, article, judges, detected)
	result.Usage = result.Usage.Add(meta.Usage)
	if err != nil {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		e.logger.Warn("meta-judge failed, falling back to weighted mean",
			"article", article.ID, "error", err)
		result.MetaJudgeFailed = true
		result.Final = mean
		result.Summary = heaviest(judges).Summary
		result.Contradictions = detected
		result.Duration = e.now().Sub(started)
		return result, nil
	}

	result.Meta = &meta
	result.Final = meta.Scores
	result.Summary = meta.Summary
	if result.Summary == "" {
		result.Summary = heaviest(judges).Summary
	}
	result.Contradictions = mergeContradictions(meta.Contradictions, detected)
	result.Duration = e.now().Sub(started)
	return result, nil
}

func (e *Ensemble) judge(ctx context.Context, cfg JudgeConfig, keyword domain.Keyword, article domain.Article) (domain.JudgeEvaluation, error) {
	ev := domain.JudgeEvaluation{JudgeName: cfg.Name, Model: cfg.Model, Weight: cfg.Weight}
	started := e.now()

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if err := ctx.Err(); err != nil {
			return ev, err
		}
		completion, err := e.client.Complete(ctx, ports.CompletionRequest{
			Model:     cfg.Model,
			System:    judgeSystem(cfg.Focus),
			Prompt:    articlePrompt(keyword, article),
			MaxTokens: e.maxTokens,
		})
		ev.Usage = ev.Usage.Add(completion.Usage)
		if err != nil {
			lastErr = err
			continue
		}

		var resp judgeResponse
		if err := decodeJSON(completion.Text, &resp); err != nil {
			lastErr = err
			continue
		}
		if resp.Scores == nil {
			lastErr = errors.New("judge response has no scores")
			continue
		}

		ev.Scores = resp.Scores.toScores()
		ev.Summary = resp.SummaryJa
		ev.Rationale = make(map[domain.Axis]string, len(resp.Rationale))
		for name, text := range resp.Rationale {
			if axis, ok := parseAxis(name); ok {
				ev.Rationale[axis] = text
			}
		}
		ev.Duration = e.now().Sub(started)
		return ev, nil
	}
	ev.Duration = e.now().Sub(started)
	return ev, lastErr
}

func (e *Ensemble) metaJudge(ctx context.Context, keyword domain.Keyword, article domain.Article, judges []domain.JudgeEvaluation, detected []domain.Contradiction) (domain.MetaJudgeResult, error) {
	var meta domain.MetaJudgeResult
	started := e.now()
	prompt := metaPrompt(keyword, article, judges, detected)

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if err := ctx.Err(); err != nil {
			return meta, err
		}
		completion, err := e.client.Complete(ctx, ports.CompletionRequest{
			Model:     e.metaModel,
			System:    metaJudgeSystemPrompt,
			Prompt:    prompt,
			MaxTokens: e.maxTokens * 2,
		})
		meta.Usage = meta.Usage.Add(completion.Usage)
		if err != nil {
			lastErr = err
			continue
		}

		var resp metaResponse
		if err := decodeJSON(completion.Text, &resp); err != nil {
			lastErr = err
			continue
		}
		if resp.Scores == nil {
			lastErr = errors.New("meta-judge response has no scores")
			continue
		}

		meta.Scores = resp.Scores.toScores()
		meta.Confidence = math.Max(0, math.Min(1, finite(resp.Confidence)))
		meta.Summary = resp.SummaryJa
		for _, c := range resp.Contradictions {
			axis, ok := parseAxis(c.Axis)
			if !ok {
				continue
			}
			meta.Contradictions = append(meta.Contradictions, domain.Contradiction{
				Axis:       axis,
				JudgeA:     c.JudgeA,
				JudgeB:     c.JudgeB,
				ScoreA:     c.ScoreA,
				ScoreB:     c.ScoreB,
				Difference: math.Abs(c.Difference),
				Resolution: c.Resolution,
			})
		}
		meta.Duration = e.now().Sub(started)
		return meta, nil
	}
	meta.Duration = e.now().Sub(started)
	return meta, lastErr
}

// DetectContradictions lists every judge pair whose scores on an axis differ
// by more than tolerance.
func DetectContradictions(judges []domain.JudgeEvaluation, tolerance float64) []domain.Contradiction {
	var out []domain.Contradiction
	for _, axis := range domain.Axes() {
		for i := 0; i < len(judges); i++ {
			for k := i + 1; k < len(judges); k++ {
				a, b := judges[i].Scores.Get(axis), judges[k].Scores.Get(axis)
				if diff := math.Abs(a - b); diff > tolerance {
					out = append(out, domain.Contradiction{
						Axis:       axis,
						JudgeA:     judges[i].JudgeName,
						JudgeB:     judges[k].JudgeName,
						ScoreA:     a,
						ScoreB:     b,
						Difference: diff,
					})
				}
			}
		}
	}
	return out
}

// WeightedMean averages each axis by judge weight.
func WeightedMean(judges []domain.JudgeEvaluation) domain.QualityScores {
	var out domain.QualityScores
	var total float64
	for _, j := range judges {
		total += j.Weight
	}
	if total <= 0 {
		return out
	}
	for _, axis := range domain.Axes() {
		var sum float64
		for _, j := range judges {
			sum += j.Scores.Get(axis) * j.Weight
		}
		out.Set(axis, sum/total)
	}
	return out.Clamped()
}

func heaviest(judges []domain.JudgeEvaluation) domain.JudgeEvaluation {
	var best domain.JudgeEvaluation
	for i, j := range judges {
		if i == 0 || j.Weight > best.Weight {
			best = j
		}
	}
	return best
}

// mergeContradictions keeps the meta-judge's entries (they carry resolutions)
// and appends locally detected ones it did not mention.
func mergeContradictions(meta, detected []domain.Contradiction) []domain.Contradiction {
	type key struct {
		axis domain.Axis
		a, b string
	}
	norm := func(c domain.Contradiction) key {
		a, b := c.JudgeA, c.JudgeB
		if b < a {
			a, b = b, a
		}
		return key{axis: c.Axis, a: a, b: b}
	}

	seen := make(map[key]struct{}, len(meta))
	out := make([]domain.Contradiction, 0, len(meta)+len(detected))
	for _, c := range meta {
		seen[norm(c)] = struct{}{}
		out = append(out, c)
	}
	for _, c := range detected {
		if _, ok := seen[norm(c)]; ok {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return axisOrder(out[i].Axis) < axisOrder(out[j].Axis)
	})
	return out
}

func axisOrder(axis domain.Axis) int {
	for i, a := range domain.Axes() {
		if a == axis {
			return i
		}
	}
	return len(domain.Axes())
}
