package evaluation

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"ArticlesRanker/internal/domain"
)

var errNoJSON = errors.New("model response contains no JSON object")

// decodeJSON extracts the outermost JSON object from a model reply, tolerating
// code fences and surrounding prose.
func decodeJSON(text string, v any) error {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return errNoJSON
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), v); err != nil {
		return fmt.Errorf("decode model response: %w", err)
	}
	return nil
}

type relevanceResponse struct {
	Results []struct {
		Index  int      `json:"index"`
		Score  *float64 `json:"score"`
		Reason string   `json:"reason"`
	} `json:"results"`
}

type axisScores struct {
	Technical float64 `json:"technical"`
	Novelty   float64 `json:"novelty"`
	Impact    float64 `json:"impact"`
	Quality   float64 `json:"quality"`
	Relevance float64 `json:"relevance"`
}

func (s axisScores) toScores() domain.QualityScores {
	return domain.QualityScores{
		Technical: finite(s.Technical),
		Novelty:   finite(s.Novelty),
		Impact:    finite(s.Impact),
		Quality:   finite(s.Quality),
		Relevance: finite(s.Relevance),
	}.Clamped()
}

type qualityResponse struct {
	Results []struct {
		Index int `json:"index"`
		axisScores
		Total     *float64 `json:"total"`
		SummaryJa string   `json:"summary_ja"`
	} `json:"results"`
}

type judgeResponse struct {
	Scores    *axisScores       `json:"scores"`
	Rationale map[string]string `json:"rationale"`
	SummaryJa string            `json:"summary_ja"`
}

type metaResponse struct {
	Scores         *axisScores `json:"scores"`
	Confidence     float64     `json:"confidence"`
	SummaryJa      string      `json:"summary_ja"`
	Contradictions []struct {
		Axis       string  `json:"axis"`
		JudgeA     string  `json:"judge_a"`
		JudgeB     string  `json:"judge_b"`
		ScoreA     float64 `json:"score_a"`
		ScoreB     float64 `json:"score_b"`
		Difference float64 `json:"difference"`
		Resolution string  `json:"resolution"`
	} `json:"contradictions"`
}

func parseAxis(name string) (domain.Axis, bool) {
	axis := domain.Axis(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range domain.Axes() {
		if axis == known {
			return axis, true
		}
	}
	return "", false
}

// llmScore prefers the model's own total and falls back to the axis-derived one.
func llmScore(total *float64, scores domain.QualityScores) float64 {
	if total != nil && !math.IsNaN(*total) && *total >= 0 && *total <= 100 {
		return *total
	}
	return scores.Total()
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
