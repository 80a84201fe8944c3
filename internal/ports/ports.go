package ports

import (
	"context"
	"time"

	"ArticlesRanker/internal/domain"
)

// SourceAdapter pulls candidate articles from one kind of upstream source.
type SourceAdapter interface {
	Name() string
	CanHandle(source domain.Source) bool
	Collect(ctx context.Context, source domain.Source, keyword string, since *time.Time) ([]domain.CandidateArticle, error)
}

// DedupIndex holds the normalized keys already persisted for a keyword.
type DedupIndex struct {
	URLs   map[string]struct{}
	Titles map[string]struct{}
}

// ArticleRepository persists articles and their evaluation results.
type ArticleRepository interface {
	ExistingKeys(ctx context.Context, keywordID int64) (DedupIndex, error)
	// InsertArticles stores new articles and returns the ones actually inserted;
	// rows hitting a uniqueness constraint are silently dropped.
	InsertArticles(ctx context.Context, articles []domain.Article) ([]domain.Article, error)
	UpdateRelevance(ctx context.Context, results []domain.RelevanceResult) error
	UpdateQuality(ctx context.Context, article domain.Article) error
	ListRanked(ctx context.Context, keywordID int64, limit int) ([]domain.Article, error)
}

// KeywordRepository reads keyword records.
type KeywordRepository interface {
	GetKeyword(ctx context.Context, id int64) (domain.Keyword, error)
	ListActiveKeywords(ctx context.Context) ([]domain.Keyword, error)
}

// SourceRepository reads the sources applicable to a keyword, in processing order.
type SourceRepository interface {
	ListSourcesForKeyword(ctx context.Context, keywordID int64) ([]domain.Source, error)
}

// CompletionRequest is a single evaluation model call.
type CompletionRequest struct {
	Model     string
	System    string
	Prompt    string
	MaxTokens int
}

// Completion is the raw model reply together with its token accounting.
type Completion struct {
	Text  string
	Model string
	Usage domain.TokenUsage
}

// CompletionClient talks to an evaluation model (OpenAI-compatible, Anthropic, ...).
type CompletionClient interface {
	Complete(ctx context.Context, req CompletionRequest) (Completion, error)
}

// RelevanceFilter is Stage 1.
type RelevanceFilter interface {
	Filter(ctx context.Context, keyword domain.Keyword, articles []domain.Article) ([]domain.RelevanceResult, domain.TokenUsage, error)
}

// QualityEvaluator is Stage 2 in either single-judge or ensemble mode.
type QualityEvaluator interface {
	Evaluate(ctx context.Context, keyword domain.Keyword, articles []domain.Article) ([]domain.QualityOutcome, domain.TokenUsage, error)
}

// ProgressSink receives pipeline events in emission order.
type ProgressSink interface {
	Publish(ctx context.Context, event domain.Event) error
}

// Notifier streams selected digests to Telegram or other channels.
type Notifier interface {
	PublishDigest(ctx context.Context, digest string) error
}

// Scheduler controls when collections are triggered.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
