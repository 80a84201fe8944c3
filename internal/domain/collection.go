package domain

import "time"

// DebugOptions tweak a single collection run.
type DebugOptions struct {
	MaxArticlesPerSource int `json:"maxArticlesPerSource,omitempty"`
}

// CollectionJob asks the orchestrator to collect one keyword.
type CollectionJob struct {
	KeywordID int64
	QueuedAt  time.Time
	Debug     DebugOptions
}

// Phase enumerates the collection state machine.
type Phase string

const (
	PhaseQueued           Phase = "queued"
	PhaseCollectingSource Phase = "collecting_source"
	PhaseScoringSource    Phase = "scoring_source"
	PhaseCompleted        Phase = "completed"
	PhaseFailed           Phase = "failed"
)

// Terminal reports whether no further transitions follow.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// Running reports whether a job currently owns the keyword.
func (p Phase) Running() bool {
	return p == PhaseCollectingSource || p == PhaseScoringSource
}

// SourceCollectionResult summarizes what one source contributed to a run.
type SourceCollectionResult struct {
	SourceID     int64  `json:"sourceId"`
	SourceName   string `json:"sourceName"`
	Count        int    `json:"count"`
	ScoredCount  int    `json:"scoredCount"`
	Success      bool   `json:"success"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// Diagnostic is a recorded Warning, Error or Critical condition.
type Diagnostic struct {
	Severity   Severity  `json:"severity"`
	SourceName string    `json:"sourceName,omitempty"`
	ArticleID  string    `json:"articleId,omitempty"`
	Message    string    `json:"message"`
	Fatal      bool      `json:"fatal"`
	At         time.Time `json:"at"`
}

// CollectionStatus is the pollable projection of a keyword's latest run.
type CollectionStatus struct {
	KeywordID          int64                    `json:"keywordId"`
	Phase              Phase                    `json:"phase"`
	CurrentSource      string                   `json:"currentSource,omitempty"`
	CurrentSourceIndex int                      `json:"currentSourceIndex"`
	TotalSources       int                      `json:"totalSources"`
	ArticlesCollected  int                      `json:"articlesCollected"`
	ArticlesPassed     int                      `json:"articlesPassed"`
	ArticlesRejected   int                      `json:"articlesRejected"`
	ArticlesScored     int                      `json:"articlesScored"`
	RelevanceUsage     TokenUsage               `json:"relevanceUsage"`
	QualityUsage       TokenUsage               `json:"qualityUsage"`
	SourceResults      []SourceCollectionResult `json:"sourceResults"`
	Errors             []Diagnostic             `json:"errors"`
	Warnings           []Diagnostic             `json:"warnings"`
	FetchedPreview     []ArticlePreview         `json:"fetchedPreview"`
	PendingPreview     []ArticlePreview         `json:"pendingPreview"`
	ScoredPreview      []ArticlePreview         `json:"scoredPreview"`
	FatalMessage       string                   `json:"fatalMessage,omitempty"`
	QueuedAt           time.Time                `json:"queuedAt"`
	StartedAt          *time.Time               `json:"startedAt,omitempty"`
	FinishedAt         *time.Time               `json:"finishedAt,omitempty"`
	UpdatedAt          time.Time                `json:"updatedAt"`
}

// TokenUsage is the run's total across both stages.
func (s CollectionStatus) TokenUsage() TokenUsage {
	return s.RelevanceUsage.Add(s.QualityUsage)
}

// Clone returns a deep copy safe to hand outside the store.
func (s CollectionStatus) Clone() CollectionStatus {
	out := s
	out.SourceResults = append([]SourceCollectionResult(nil), s.SourceResults...)
	out.Errors = append([]Diagnostic(nil), s.Errors...)
	out.Warnings = append([]Diagnostic(nil), s.Warnings...)
	out.FetchedPreview = append([]ArticlePreview(nil), s.FetchedPreview...)
	out.PendingPreview = append([]ArticlePreview(nil), s.PendingPreview...)
	out.ScoredPreview = append([]ArticlePreview(nil), s.ScoredPreview...)
	if s.StartedAt != nil {
		t := *s.StartedAt
		out.StartedAt = &t
	}
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		out.FinishedAt = &t
	}
	return out
}

// ClearPreviews drops every transient preview list.
func (s *CollectionStatus) ClearPreviews() {
	s.FetchedPreview = nil
	s.PendingPreview = nil
	s.ScoredPreview = nil
}
