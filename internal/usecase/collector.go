package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ArticlesRanker/internal/domain"
	"ArticlesRanker/internal/evaluation"
	"ArticlesRanker/internal/ports"
)

// DefaultLookback is how far back a source is searched.
const DefaultLookback = 30 * 24 * time.Hour

const defaultDigestSize = 5

// SourceFetcher pulls candidates from one source.
type SourceFetcher interface {
	Fetch(ctx context.Context, source domain.Source, keyword string, since *time.Time) ([]domain.CandidateArticle, error)
}

// Deduplicator drops already-known candidates and persists the rest.
type Deduplicator interface {
	Filter(ctx context.Context, keywordID int64, source domain.Source, candidates []domain.CandidateArticle) ([]domain.Article, error)
}

// Scorer turns an evaluated article into its final score.
type Scorer interface {
	Score(article domain.Article, source domain.Source) (float64, error)
}

// CollectorDeps wires the driven adapters into the orchestrator.
type CollectorDeps struct {
	Keywords   ports.KeywordRepository
	Sources    ports.SourceRepository
	Fetcher    SourceFetcher
	Dedup      Deduplicator
	Articles   ports.ArticleRepository
	Relevance  ports.RelevanceFilter
	Quality    ports.QualityEvaluator
	Scorer     Scorer
	Sink       ports.ProgressSink
	Notifier   ports.Notifier
	Logger     *slog.Logger
	Lookback   time.Duration
	DigestSize int
	// MaxPerSource caps candidates per source when the job sets no cap.
	MaxPerSource int
	Now          func() time.Time
}

// Collector runs one keyword's collection: every applicable source in order,
// each through fetch, dedup, Stage 1, Stage 2 and scoring.
type Collector struct {
	keywords   ports.KeywordRepository
	sources    ports.SourceRepository
	fetcher    SourceFetcher
	dedup      Deduplicator
	articles   ports.ArticleRepository
	relevance  ports.RelevanceFilter
	quality    ports.QualityEvaluator
	scorer     Scorer
	sink       ports.ProgressSink
	notifier   ports.Notifier
	logger     *slog.Logger
	lookback   time.Duration
	digestSize int
	maxPerSrc  int
	now        func() time.Time
}

// NewCollector constructs the orchestrator.
func NewCollector(deps CollectorDeps) *Collector {
	c := &Collector{
		keywords:   deps.Keywords,
		sources:    deps.Sources,
		fetcher:    deps.Fetcher,
		dedup:      deps.Dedup,
		articles:   deps.Articles,
		relevance:  deps.Relevance,
		quality:    deps.Quality,
		scorer:     deps.Scorer,
		sink:       deps.Sink,
		notifier:   deps.Notifier,
		logger:     deps.Logger,
		lookback:   deps.Lookback,
		digestSize: deps.DigestSize,
		maxPerSrc:  deps.MaxPerSource,
		now:        deps.Now,
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	if c.lookback <= 0 {
		c.lookback = DefaultLookback
	}
	if c.digestSize <= 0 {
		c.digestSize = defaultDigestSize
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

type action int

const (
	actionContinue action = iota
	actionSkipSource
	actionAbort
)

// decide maps an error onto the escalation policy.
func decide(err error) action {
	switch domain.SeverityOf(err) {
	case 0, domain.SeverityWarning:
		return actionContinue
	case domain.SeverityError:
		return actionSkipSource
	default:
		return actionAbort
	}
}

// run carries the per-job state shared by every source.
type run struct {
	job     domain.CollectionJob
	keyword domain.Keyword
	total   int
	since   time.Time
}

// Run executes the job. It returns the per-source results collected so far
// and a non-nil error when the job ended Failed.
func (c *Collector) Run(ctx context.Context, job domain.CollectionJob) ([]domain.SourceCollectionResult, error) {
	started := c.now()
	logger := c.logger.With("keyword_id", job.KeywordID)

	keyword, err := c.keywords.GetKeyword(ctx, job.KeywordID)
	if err != nil {
		return nil, c.fail(ctx, job.KeywordID, "", domain.Critical("", "load keyword", err))
	}
	sources, err := c.sources.ListSourcesForKeyword(ctx, job.KeywordID)
	if err != nil {
		return nil, c.fail(ctx, job.KeywordID, "", domain.Critical("", "load sources", err))
	}

	r := run{job: job, keyword: keyword, total: len(sources), since: started.Add(-c.lookback)}
	logger.Info("collection started", "term", keyword.Term, "sources", len(sources))

	results := make([]domain.SourceCollectionResult, 0, len(sources))
	for i, source := range sources {
		c.emit(ctx, domain.Event{
			Type:         domain.EventPhaseChanged,
			KeywordID:    job.KeywordID,
			Phase:        domain.PhaseCollectingSource,
			SourceName:   source.Name,
			SourceIndex:  i,
			TotalSources: r.total,
		})

		result, err := c.collectSource(ctx, r, i, source)
		switch decide(err) {
		case actionAbort:
			result.Success = false
			result.ErrorMessage = err.Error()
			results = append(results, result)
			c.emit(ctx, domain.Event{Type: domain.EventSourceCompleted, KeywordID: job.KeywordID, SourceName: source.Name, SourceIndex: i, TotalSources: r.total, Result: &result})
			return results, c.fail(ctx, job.KeywordID, source.Name, err)
		case actionSkipSource:
			result.Success = false
			result.ErrorMessage = err.Error()
			c.report(ctx, job.KeywordID, source.Name, err)
		default:
			result.Success = true
		}

		results = append(results, result)
		c.emit(ctx, domain.Event{Type: domain.EventSourceCompleted, KeywordID: job.KeywordID, SourceName: source.Name, SourceIndex: i, TotalSources: r.total, Result: &result})
		logger.Info("source finished", "source", source.Name, "count", result.Count, "scored", result.ScoredCount, "success", result.Success)
	}

	c.emit(ctx, domain.Event{Type: domain.EventJobCompleted, KeywordID: job.KeywordID, TotalSources: r.total})
	logger.Info("collection completed", "duration", c.now().Sub(started), "sources", len(results))

	c.publishDigest(ctx, keyword)
	return results, nil
}

// collectSource runs one source through every stage. The returned result is
// filled as far as the source got.
func (c *Collector) collectSource(ctx context.Context, r run, index int, source domain.Source) (domain.SourceCollectionResult, error) {
	result := domain.SourceCollectionResult{SourceID: source.ID, SourceName: source.Name}
	keywordID := r.job.KeywordID

	since := r.since
	candidates, err := c.fetcher.Fetch(ctx, source, r.keyword.Term, &since)
	if err != nil {
		return result, classify(ctx, source.Name, "fetch failed", err)
	}
	limit := r.job.Debug.MaxArticlesPerSource
	if limit <= 0 {
		limit = c.maxPerSrc
	}
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	articles, err := c.dedup.Filter(ctx, keywordID, source, candidates)
	if err != nil {
		return result, classify(ctx, source.Name, "deduplicate", err)
	}
	result.Count = len(articles)
	c.emit(ctx, domain.Event{
		Type:         domain.EventArticlesFetched,
		KeywordID:    keywordID,
		SourceName:   source.Name,
		SourceIndex:  index,
		TotalSources: r.total,
		Articles:     previews(articles, source.Name),
	})
	if len(articles) == 0 {
		return result, nil
	}

	c.emit(ctx, domain.Event{
		Type:         domain.EventPhaseChanged,
		KeywordID:    keywordID,
		Phase:        domain.PhaseScoringSource,
		SourceName:   source.Name,
		SourceIndex:  index,
		TotalSources: r.total,
	})

	relevant, err := c.filterRelevant(ctx, r, index, source, articles)
	if err != nil {
		return result, err
	}
	if len(relevant) == 0 {
		return result, nil
	}

	scored, err := c.evaluate(ctx, r, index, source, relevant)
	result.ScoredCount = scored
	return result, err
}

// filterRelevant runs Stage 1, or marks everything relevant when the source
// already searched by keyword.
func (c *Collector) filterRelevant(ctx context.Context, r run, index int, source domain.Source, articles []domain.Article) ([]domain.Article, error) {
	keywordID := r.job.KeywordID

	var results []domain.RelevanceResult
	if source.HasServerSideFiltering {
		results = make([]domain.RelevanceResult, len(articles))
		for i, a := range articles {
			results[i] = domain.RelevanceResult{
				ArticleID:      a.ID,
				RelevanceScore: 10,
				IsRelevant:     true,
				Reason:         "filtered by source search",
			}
		}
	} else {
		var usage domain.TokenUsage
		var err error
		results, usage, err = c.relevance.Filter(ctx, r.keyword, articles)
		c.emitUsage(ctx, keywordID, source.Name, domain.UsageRelevance, usage)
		if err != nil {
			return nil, classify(ctx, source.Name, "relevance filter", err)
		}
	}

	if err := c.articles.UpdateRelevance(ctx, results); err != nil {
		return nil, classify(ctx, source.Name, "store relevance", err)
	}

	byID := make(map[string]domain.RelevanceResult, len(results))
	for _, res := range results {
		byID[res.ArticleID] = res
	}
	relevant := make([]domain.Article, 0, len(articles))
	for _, a := range articles {
		res, ok := byID[a.ID]
		if !ok || !res.IsRelevant {
			continue
		}
		a.RelevanceScore = domain.Float64(res.RelevanceScore)
		a.IsRelevant = domain.Bool(true)
		relevant = append(relevant, a)
	}

	c.emit(ctx, domain.Event{
		Type:         domain.EventArticlesPassedFilter,
		KeywordID:    keywordID,
		SourceName:   source.Name,
		SourceIndex:  index,
		TotalSources: r.total,
		Articles:     previews(relevant, source.Name),
		Rejected:     len(articles) - len(relevant),
	})
	return relevant, nil
}

// evaluate runs Stage 2 over relevant articles and stores their scores. It
// returns how many articles received a final score.
func (c *Collector) evaluate(ctx context.Context, r run, index int, source domain.Source, relevant []domain.Article) (int, error) {
	keywordID := r.job.KeywordID

	outcomes, usage, err := c.quality.Evaluate(ctx, r.keyword, relevant)
	c.emitUsage(ctx, keywordID, source.Name, domain.UsageQuality, usage)
	if err != nil {
		return 0, classify(ctx, source.Name, "quality evaluation", err)
	}

	byID := make(map[string]domain.Article, len(relevant))
	for _, a := range relevant {
		byID[a.ID] = a
	}

	var done []domain.Article
	for _, outcome := range outcomes {
		article, ok := byID[outcome.ArticleID]
		if !ok {
			continue
		}
		if outcome.Err != nil {
			c.report(ctx, keywordID, source.Name, asWarning(source.Name, article.ID, outcome.Err))
			continue
		}
		if outcome.Evaluation == nil {
			continue
		}

		applyEvaluation(&article, *outcome.Evaluation)
		if !evaluation.Excluded(*outcome.Evaluation) {
			score, err := c.scorer.Score(article, source)
			if err != nil {
				c.report(ctx, keywordID, source.Name, domain.Warning(source.Name, article.ID, "final score rejected", err))
				continue
			}
			article.FinalScore = domain.Float64(score)
		}

		if err := c.articles.UpdateQuality(ctx, article); err != nil {
			if ctx.Err() != nil {
				return len(done), interrupted(ctx, source.Name)
			}
			c.report(ctx, keywordID, source.Name, domain.Warning(source.Name, article.ID, "store quality", err))
			continue
		}
		done = append(done, article)
	}

	scored := 0
	for _, a := range done {
		if a.FinalScore != nil {
			scored++
		}
	}

	c.emit(ctx, domain.Event{
		Type:         domain.EventArticlesQualityScored,
		KeywordID:    keywordID,
		SourceName:   source.Name,
		SourceIndex:  index,
		TotalSources: r.total,
		Articles:     previews(done, source.Name),
		Scored:       scored,
	})
	return scored, nil
}

// applyEvaluation copies Stage 2 fields onto the article.
func applyEvaluation(a *domain.Article, ev domain.QualityEvaluation) {
	a.TechnicalScore = domain.Float64(ev.Scores.Technical)
	a.NoveltyScore = domain.Float64(ev.Scores.Novelty)
	a.ImpactScore = domain.Float64(ev.Scores.Impact)
	a.QualityScore = domain.Float64(ev.Scores.Quality)
	a.EnsembleRelevanceScore = domain.Float64(ev.Scores.Relevance)
	a.LlmScore = domain.Float64(ev.LlmScore)
	a.SummaryJa = ev.Summary
	a.FinalScore = nil
}

// fail records a fatal error and returns it.
func (c *Collector) fail(ctx context.Context, keywordID int64, source string, err error) error {
	if domain.SeverityOf(err) != domain.SeverityCritical {
		err = domain.Critical(source, "collection failed", err)
	}
	c.logger.Error("collection failed", "keyword_id", keywordID, "source", source, "error", err, "fatal", true)
	// The sink must still see the failure after cancellation.
	c.emit(context.WithoutCancel(ctx), domain.Event{
		Type:       domain.EventJobError,
		KeywordID:  keywordID,
		SourceName: source,
		Severity:   domain.SeverityCritical,
		ArticleID:  domain.ArticleIDOf(err),
		Message:    err.Error(),
		Fatal:      true,
	})
	return err
}

// report records a non-fatal diagnostic.
func (c *Collector) report(ctx context.Context, keywordID int64, source string, err error) {
	severity := domain.SeverityOf(err)
	if severity == domain.SeverityWarning {
		c.logger.Warn("article skipped", "keyword_id", keywordID, "source", source, "error", err)
	} else {
		c.logger.Error("source failed", "keyword_id", keywordID, "source", source, "error", err)
	}
	c.emit(ctx, domain.Event{
		Type:       domain.EventJobError,
		KeywordID:  keywordID,
		SourceName: source,
		Severity:   severity,
		ArticleID:  domain.ArticleIDOf(err),
		Message:    err.Error(),
	})
}

func (c *Collector) emit(ctx context.Context, ev domain.Event) {
	if c.sink == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = c.now()
	}
	if err := c.sink.Publish(ctx, ev); err != nil {
		c.logger.Warn("progress sink failed", "type", ev.Type, "error", err)
	}
}

func (c *Collector) emitUsage(ctx context.Context, keywordID int64, source string, stage domain.UsageStage, usage domain.TokenUsage) {
	if usage.IsZero() {
		return
	}
	c.emit(ctx, domain.Event{Type: domain.EventTokenUsage, KeywordID: keywordID, SourceName: source, Stage: stage, Usage: usage})
}

// publishDigest sends the keyword's best articles to the notifier. Failures
// are warnings; the job has already completed.
func (c *Collector) publishDigest(ctx context.Context, keyword domain.Keyword) {
	if c.notifier == nil {
		return
	}
	ranked, err := c.articles.ListRanked(ctx, keyword.ID, c.digestSize)
	if err == nil && len(ranked) > 0 {
		err = c.notifier.PublishDigest(ctx, buildDigestMessage(keyword, ranked))
	}
	if err != nil {
		c.logger.Warn("digest not delivered", "keyword_id", keyword.ID, "error", err)
	}
}

func buildDigestMessage(keyword domain.Keyword, ranked []domain.Article) string {
	if len(ranked) == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Top articles for %q\n\n", keyword.Term)
	for _, a := range ranked {
		score := 0.0
		if a.FinalScore != nil {
			score = *a.FinalScore
		}
		fmt.Fprintf(&b, "- %s\nScore: %.2f\n", a.Title, score)
		if a.SummaryJa != "" {
			fmt.Fprintf(&b, "%s\n", a.SummaryJa)
		}
		fmt.Fprintf(&b, "%s\n\n", a.URL)
	}
	return b.String()
}

// classify ends the job only when the job's own context is done. Tagged errors
// keep their severity; everything else, including timeouts of a single
// upstream call, abandons just the source.
func classify(ctx context.Context, source, message string, err error) error {
	if ctx.Err() != nil {
		return interrupted(ctx, source)
	}
	var ce *domain.CollectionError
	if errors.As(err, &ce) {
		return err
	}
	return domain.SourceError(source, message, err)
}

func interrupted(ctx context.Context, source string) error {
	return domain.Critical(source, "collection interrupted", ctx.Err())
}

func asWarning(source, articleID string, err error) error {
	var ce *domain.CollectionError
	if errors.As(err, &ce) && ce.Severity == domain.SeverityWarning {
		if ce.Source == "" {
			ce.Source = source
		}
		return ce
	}
	return domain.Warning(source, articleID, "quality evaluation", err)
}

func previews(articles []domain.Article, source string) []domain.ArticlePreview {
	out := make([]domain.ArticlePreview, len(articles))
	for i, a := range articles {
		out[i] = a.Preview(source)
	}
	return out
}
