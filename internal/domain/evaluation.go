package domain

import "time"

// Axis names one dimension of a Stage 2 evaluation. Every axis is scored 0-20.
type Axis string

const (
	AxisTechnical Axis = "technical"
	AxisNovelty   Axis = "novelty"
	AxisImpact    Axis = "impact"
	AxisQuality   Axis = "quality"
	AxisRelevance Axis = "relevance"
)

// AxisMax is the upper bound of every Stage 2 axis.
const AxisMax = 20.0

// Axes lists every Stage 2 axis in canonical order.
func Axes() []Axis {
	return []Axis{AxisTechnical, AxisNovelty, AxisImpact, AxisQuality, AxisRelevance}
}

// QualityScores holds the five Stage 2 axes.
type QualityScores struct {
	Technical float64 `json:"technical"`
	Novelty   float64 `json:"novelty"`
	Impact    float64 `json:"impact"`
	Quality   float64 `json:"quality"`
	Relevance float64 `json:"relevance"`
}

// Get returns the value of one axis.
func (s QualityScores) Get(axis Axis) float64 {
	switch axis {
	case AxisTechnical:
		return s.Technical
	case AxisNovelty:
		return s.Novelty
	case AxisImpact:
		return s.Impact
	case AxisQuality:
		return s.Quality
	case AxisRelevance:
		return s.Relevance
	default:
		return 0
	}
}

// Set assigns one axis.
func (s *QualityScores) Set(axis Axis, v float64) {
	switch axis {
	case AxisTechnical:
		s.Technical = v
	case AxisNovelty:
		s.Novelty = v
	case AxisImpact:
		s.Impact = v
	case AxisQuality:
		s.Quality = v
	case AxisRelevance:
		s.Relevance = v
	}
}

// Clamped bounds every axis to [0, AxisMax].
func (s QualityScores) Clamped() QualityScores {
	var out QualityScores
	for _, axis := range Axes() {
		out.Set(axis, clamp(s.Get(axis), 0, AxisMax))
	}
	return out
}

// Total maps the four quality axes (relevance excluded) onto 0-100.
func (s QualityScores) Total() float64 {
	sum := s.Technical + s.Novelty + s.Impact + s.Quality
	return clamp(sum*100/(4*AxisMax), 0, 100)
}

// QualityEvaluation is the Stage 2 outcome for one article in either mode.
type QualityEvaluation struct {
	Scores   QualityScores
	LlmScore float64
	Summary  string
	Ensemble *EnsembleEvaluationResult
}

// QualityOutcome pairs an article with its evaluation or the reason it has none.
type QualityOutcome struct {
	ArticleID  string
	Evaluation *QualityEvaluation
	Err        error
}

// JudgeEvaluation is one judge's independent view of an article.
type JudgeEvaluation struct {
	JudgeName string
	Model     string
	Weight    float64
	Scores    QualityScores
	Rationale map[Axis]string
	Summary   string
	Usage     TokenUsage
	Duration  time.Duration
}

// Contradiction records two judges disagreeing on one axis beyond tolerance.
type Contradiction struct {
	Axis       Axis    `json:"axis"`
	JudgeA     string  `json:"judgeA"`
	JudgeB     string  `json:"judgeB"`
	ScoreA     float64 `json:"scoreA"`
	ScoreB     float64 `json:"scoreB"`
	Difference float64 `json:"difference"`
	Resolution string  `json:"resolution"`
}

// MetaJudgeResult is the consolidating verdict issued when judges disagree.
type MetaJudgeResult struct {
	Scores         QualityScores
	Confidence     float64
	Summary        string
	Contradictions []Contradiction
	Usage          TokenUsage
	Duration       time.Duration
}

// EnsembleEvaluationResult aggregates all judge calls for one article.
type EnsembleEvaluationResult struct {
	ArticleID        string
	Judges           []JudgeEvaluation
	Meta             *MetaJudgeResult
	Final            QualityScores
	Summary          string
	SkippedMetaJudge bool
	MetaJudgeFailed  bool
	Contradictions   []Contradiction
	Usage            TokenUsage
	Duration         time.Duration
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
