package domain

import "time"

// EventType names a progress notification.
type EventType string

const (
	EventPhaseChanged          EventType = "phase_changed"
	EventSourceCompleted       EventType = "source_completed"
	EventArticlesFetched       EventType = "articles_fetched"
	EventArticlesPassedFilter  EventType = "articles_passed_filter"
	EventArticlesQualityScored EventType = "articles_quality_scored"
	EventTokenUsage            EventType = "token_usage"
	EventJobCompleted          EventType = "job_completed"
	EventJobError              EventType = "job_error"
)

// UsageStage tells which stage spent the tokens of a usage event.
type UsageStage string

const (
	UsageRelevance UsageStage = "relevance"
	UsageQuality   UsageStage = "quality"
)

// Event is a single progress notification emitted by the orchestrator.
// Only the fields relevant to Type are set.
type Event struct {
	Type         EventType               `json:"type"`
	KeywordID    int64                   `json:"keywordId"`
	At           time.Time               `json:"at"`
	Phase        Phase                   `json:"phase,omitempty"`
	SourceName   string                  `json:"sourceName,omitempty"`
	SourceIndex  int                     `json:"sourceIndex"`
	TotalSources int                     `json:"totalSources"`
	Articles     []ArticlePreview        `json:"articles,omitempty"`
	Rejected     int                     `json:"rejected,omitempty"`
	// Scored counts the articles of a quality event that received a final score.
	Scored       int                     `json:"scored,omitempty"`
	Result       *SourceCollectionResult `json:"result,omitempty"`
	Stage        UsageStage              `json:"stage,omitempty"`
	Usage        TokenUsage              `json:"usage"`
	Severity     Severity                `json:"severity,omitempty"`
	ArticleID    string                  `json:"articleId,omitempty"`
	Message      string                  `json:"message,omitempty"`
	Fatal        bool                    `json:"fatal,omitempty"`
}
