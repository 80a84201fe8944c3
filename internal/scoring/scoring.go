// Package scoring turns native popularity and LLM quality into one ranking score.
package scoring

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"ArticlesRanker/internal/domain"
)

// ErrScoreOutOfRange is returned when a computed final score leaves [0,100].
var ErrScoreOutOfRange = errors.New("final score out of range")

// Preset names a (wNative, wLlm) pair.
type Preset string

const (
	PresetQualityFocused    Preset = "quality_focused"
	PresetBalanced          Preset = "balanced"
	PresetPopularityFocused Preset = "popularity_focused"
)

// Weights are the blend factors of the final score.
type Weights struct {
	Native float64
	LLM    float64
}

// ParsePreset resolves a preset name; empty means PresetQualityFocused.
func ParsePreset(name string) (Preset, error) {
	switch Preset(strings.ToLower(strings.TrimSpace(name))) {
	case "", PresetQualityFocused:
		return PresetQualityFocused, nil
	case PresetBalanced:
		return PresetBalanced, nil
	case PresetPopularityFocused:
		return PresetPopularityFocused, nil
	default:
		return "", fmt.Errorf("unknown scoring preset %q", name)
	}
}

// Weights returns the preset's blend factors.
func (p Preset) Weights() Weights {
	switch p {
	case PresetBalanced:
		return Weights{Native: 0.5, LLM: 0.5}
	case PresetPopularityFocused:
		return Weights{Native: 0.7, LLM: 0.3}
	default:
		return Weights{Native: 0.3, LLM: 0.7}
	}
}

// Curve shapes a raw popularity metric onto 0-100.
type Curve string

const (
	CurveLog    Curve = "log"
	CurveLinear Curve = "linear"
)

// Normalization maps one source's raw metric; Cap is the raw value reaching 100.
type Normalization struct {
	Cap   float64
	Curve Curve
}

var defaultNormalizations = map[string]Normalization{
	"hacker news":     {Cap: 500, Curve: CurveLog},
	"hatena bookmark": {Cap: 1000, Curve: CurveLog},
	"qiita":           {Cap: 300, Curve: CurveLog},
	"zenn":            {Cap: 200, Curve: CurveLog},
	"dev.to":          {Cap: 200, Curve: CurveLog},
	"reddit":          {Cap: 2000, Curve: CurveLog},
	"github":          {Cap: 5000, Curve: CurveLog},
}

var fallbackNormalization = Normalization{Cap: 100, Curve: CurveLog}

// Calculator is pure: it performs no I/O.
type Calculator struct {
	weights        Weights
	normalizations map[string]Normalization
}

// NewCalculator builds a calculator; overrides replace per-source curves by
// case-insensitive source name.
func NewCalculator(preset Preset, overrides map[string]Normalization) *Calculator {
	norms := make(map[string]Normalization, len(defaultNormalizations)+len(overrides))
	for name, n := range defaultNormalizations {
		norms[name] = n
	}
	for name, n := range overrides {
		if n.Cap <= 0 {
			continue
		}
		if n.Curve == "" {
			n.Curve = CurveLog
		}
		norms[strings.ToLower(strings.TrimSpace(name))] = n
	}
	return &Calculator{weights: preset.Weights(), normalizations: norms}
}

// Weights exposes the active blend factors.
func (c *Calculator) Weights() Weights {
	return c.weights
}

// NormalizeNativeScore maps a raw popularity metric of the named source onto 0-100.
func (c *Calculator) NormalizeNativeScore(raw float64, sourceName string) float64 {
	if raw <= 0 || math.IsNaN(raw) {
		return 0
	}

	n, ok := c.normalizations[strings.ToLower(strings.TrimSpace(sourceName))]
	if !ok {
		n = fallbackNormalization
	}

	var v float64
	switch n.Curve {
	case CurveLinear:
		v = 100 * raw / n.Cap
	default:
		v = 100 * math.Log1p(raw) / math.Log1p(n.Cap)
	}
	return math.Min(v, 100)
}

// FinalScore computes (normalized*wNative + llm*wLlm) * authority. The result
// is validated, not clamped.
func (c *Calculator) FinalScore(normalizedNative, llmScore, authority float64) (float64, error) {
	score := (normalizedNative*c.weights.Native + llmScore*c.weights.LLM) * authority
	score = math.Round(score*100) / 100
	if math.IsNaN(score) || score < 0 || score > 100 {
		return score, fmt.Errorf("%w: %.2f (native=%.2f llm=%.2f authority=%.2f)",
			ErrScoreOutOfRange, score, normalizedNative, llmScore, authority)
	}
	return score, nil
}

// Score computes the final score of an evaluated article. Sources without a
// native metric rank on the LLM score alone.
func (c *Calculator) Score(article domain.Article, source domain.Source) (float64, error) {
	if article.LlmScore == nil {
		return 0, fmt.Errorf("article %s has no llm score", article.ID)
	}
	llm := *article.LlmScore

	if !source.HasNativeScore || article.NativeScore == nil {
		score := math.Round(llm*source.AuthorityWeight*100) / 100
		if math.IsNaN(score) || score < 0 || score > 100 {
			return score, fmt.Errorf("%w: %.2f", ErrScoreOutOfRange, score)
		}
		return score, nil
	}

	normalized := c.NormalizeNativeScore(*article.NativeScore, source.Name)
	return c.FinalScore(normalized, llm, source.AuthorityWeight)
}
