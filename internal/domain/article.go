package domain

import (
	"strings"
	"time"
)

// Keyword is the topic a collection run gathers articles for.
type Keyword struct {
	ID       int64
	Term     string
	Aliases  []string
	IsActive bool
}

// Terms returns the term followed by its non-empty aliases.
func (k Keyword) Terms() []string {
	terms := make([]string, 0, len(k.Aliases)+1)
	terms = append(terms, k.Term)
	for _, alias := range k.Aliases {
		if strings.TrimSpace(alias) != "" {
			terms = append(terms, alias)
		}
	}
	return terms
}

// SourceKind tells how an adapter talks to a source.
type SourceKind string

const (
	SourceKindAPI      SourceKind = "api"
	SourceKindScraping SourceKind = "scraping"
	SourceKindFeed     SourceKind = "feed"
)

// Source is a read-only description of an upstream article provider.
type Source struct {
	ID                     int64
	Name                   string
	BaseURL                string
	SearchURLTemplate      string
	Kind                   SourceKind
	HasNativeScore         bool
	HasServerSideFiltering bool
	AuthorityWeight        float64
	Options                map[string]string
}

// Option returns a source option or the fallback when it is unset.
func (s Source) Option(key, fallback string) string {
	if v, ok := s.Options[key]; ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

// CandidateArticle is what a source adapter produces before deduplication.
type CandidateArticle struct {
	Title       string
	URL         string
	Summary     string
	Content     string
	PublishedAt *time.Time
	NativeScore *float64
}

// Article is a persisted, possibly scored candidate.
type Article struct {
	ID                     string
	SourceID               int64
	KeywordID              int64
	Title                  string
	URL                    string
	NormalizedURL          string
	NormalizedTitle        string
	Summary                string
	Content                string
	PublishedAt            *time.Time
	CollectedAt            time.Time
	NativeScore            *float64
	RelevanceScore         *float64
	IsRelevant             *bool
	TechnicalScore         *float64
	NoveltyScore           *float64
	ImpactScore            *float64
	QualityScore           *float64
	EnsembleRelevanceScore *float64
	LlmScore               *float64
	FinalScore             *float64
	RecommendScore         *float64
	SummaryJa              string
}

// Excerpt returns the text handed to evaluation models, capped at limit runes.
func (a Article) Excerpt(limit int) string {
	text := strings.TrimSpace(a.Summary)
	if text == "" {
		text = strings.TrimSpace(a.Content)
	}
	runes := []rune(text)
	if limit > 0 && len(runes) > limit {
		return string(runes[:limit]) + "..."
	}
	return text
}

// Preview converts the article into the compact shape kept in status previews.
func (a Article) Preview(sourceName string) ArticlePreview {
	return ArticlePreview{
		ArticleID:  a.ID,
		SourceName: sourceName,
		Title:      a.Title,
		URL:        a.URL,
		Score:      a.FinalScore,
	}
}

// ArticlePreview is a lightweight article reference for progress reporting.
type ArticlePreview struct {
	ArticleID  string   `json:"articleId"`
	SourceName string   `json:"sourceName"`
	Title      string   `json:"title"`
	URL        string   `json:"url"`
	Score      *float64 `json:"score,omitempty"`
}

// RelevanceResult is the Stage 1 decision for one article.
type RelevanceResult struct {
	ArticleID      string
	RelevanceScore float64
	IsRelevant     bool
	Reason         string
}

// TokenUsage counts model tokens for cost accounting.
type TokenUsage struct {
	InputTokens  int64 `json:"inputTokens"`
	OutputTokens int64 `json:"outputTokens"`
}

// Add returns the sum of both usages.
func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	return TokenUsage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
	}
}

// Total is input plus output tokens.
func (u TokenUsage) Total() int64 {
	return u.InputTokens + u.OutputTokens
}

// IsZero reports whether no tokens were used.
func (u TokenUsage) IsZero() bool {
	return u.InputTokens == 0 && u.OutputTokens == 0
}

// Float64 returns a pointer to v.
func Float64(v float64) *float64 {
	return &v
}

// Bool returns a pointer to v.
func Bool(v bool) *bool {
	return &v
}
