package evaluation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"ArticlesRanker/internal/domain"
	"ArticlesRanker/internal/ports"
)

func TestRelevanceFilterStrictPreset(t *testing.T) {
	t.Parallel()

	scores := []float64{8, 7, 5, 9, 2, 6, 6.5}
	client := &scriptedClient{respond: func(_ int, _ ports.CompletionRequest) (string, error) {
		parts := make([]string, len(scores))
		for i, s := range scores {
			parts[i] = fmt.Sprintf(`{"index":%d,"score":%v,"reason":"r"}`, i, s)
		}
		return "```json\n{\"results\":[" + strings.Join(parts, ",") + "]}\n```", nil
	}}

	filter := NewRelevanceFilter(client, RelevanceConfig{Model: "small", Preset: PresetStrict}, nil)
	results, usage, err := filter.Filter(context.Background(), quantum, testArticles(len(scores)))
	if err != nil {
		t.Fatalf("Filter returned error: %v", err)
	}
	if len(results) != len(scores) {
		t.Fatalf("expected %d results, got %d", len(scores), len(results))
	}

	passed := 0
	for i, r := range results {
		if r.RelevanceScore != scores[i] {
			t.Fatalf("result %d score = %v, want %v", i, r.RelevanceScore, scores[i])
		}
		if r.IsRelevant {
			passed++
		}
	}
	if passed != 5 {
		t.Fatalf("expected 5 relevant articles at threshold 6.0, got %d", passed)
	}
	if usage.Total() != 15 {
		t.Fatalf("expected usage of one call, got %+v", usage)
	}
}

func TestParseFilteringPreset(t *testing.T) {
	t.Parallel()

	tests := map[string]float64{"": 3, "loose": 2, "Normal": 3, "STRICT": 6}
	for name, want := range tests {
		preset, err := ParseFilteringPreset(name)
		if err != nil {
			t.Fatalf("ParseFilteringPreset(%q): %v", name, err)
		}
		if preset.Threshold() != want {
			t.Fatalf("%q threshold = %v, want %v", name, preset.Threshold(), want)
		}
	}
	if _, err := ParseFilteringPreset("aggressive"); err == nil {
		t.Fatalf("expected error for unknown preset")
	}
}

func TestRelevanceFilterMissingArticleScoresZero(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{respond: func(_ int, _ ports.CompletionRequest) (string, error) {
		return `{"results":[{"index":0,"score":9},{"index":7,"score":9}]}`, nil
	}}

	filter := NewRelevanceFilter(client, RelevanceConfig{Preset: PresetLoose}, nil)
	results, _, err := filter.Filter(context.Background(), quantum, testArticles(2))
	if err != nil {
		t.Fatalf("Filter returned error: %v", err)
	}
	if !results[0].IsRelevant {
		t.Fatalf("first article should pass")
	}
	if results[1].IsRelevant || results[1].RelevanceScore != 0 {
		t.Fatalf("missing article should score 0, got %+v", results[1])
	}
}

func TestRelevanceFilterRetriesSmallerBatches(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{respond: func(call int, req ports.CompletionRequest) (string, error) {
		if call == 0 {
			return "", errors.New("context length exceeded")
		}
		n := strings.Count(req.Prompt, "\n[")
		parts := make([]string, 0, n)
		for i := 0; i < n; i++ {
			parts = append(parts, fmt.Sprintf(`{"index":%d,"score":7}`, i))
		}
		return `{"results":[` + strings.Join(parts, ",") + `]}`, nil
	}}

	filter := NewRelevanceFilter(client, RelevanceConfig{Preset: PresetNormal, BatchSize: 4}, nil)
	results, usage, err := filter.Filter(context.Background(), quantum, testArticles(4))
	if err != nil {
		t.Fatalf("Filter returned error: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	for _, r := range results {
		if !r.IsRelevant {
			t.Fatalf("expected every article relevant after retry, got %+v", r)
		}
	}
	if calls := len(client.calls()); calls != 3 {
		t.Fatalf("expected 1 failed call and 2 half-size retries, got %d calls", calls)
	}
	if usage.Total() != 45 {
		t.Fatalf("usage should include the failed call, got %+v", usage)
	}
}

func TestRelevanceFilterPersistentFailureIsCritical(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{respond: func(int, ports.CompletionRequest) (string, error) {
		return "", errors.New("service unavailable")
	}}

	filter := NewRelevanceFilter(client, RelevanceConfig{}, nil)
	_, _, err := filter.Filter(context.Background(), quantum, testArticles(3))
	if err == nil {
		t.Fatalf("expected error")
	}
	if domain.SeverityOf(err) != domain.SeverityCritical {
		t.Fatalf("expected critical severity, got %v (%v)", domain.SeverityOf(err), err)
	}
}

func TestRelevanceFilterCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &scriptedClient{respond: func(int, ports.CompletionRequest) (string, error) {
		return `{"results":[]}`, nil
	}}
	filter := NewRelevanceFilter(client, RelevanceConfig{}, nil)
	_, _, err := filter.Filter(ctx, quantum, testArticles(2))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRelevanceFilterSingleArticleRetriedOnce(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{respond: func(int, ports.CompletionRequest) (string, error) {
		return "", errors.New("service unavailable")
	}}

	filter := NewRelevanceFilter(client, RelevanceConfig{}, nil)
	_, _, err := filter.Filter(context.Background(), quantum, testArticles(1))
	if domain.SeverityOf(err) != domain.SeverityCritical {
		t.Fatalf("expected critical severity, got %v", err)
	}
	if n := len(client.calls()); n != 2 {
		t.Fatalf("expected the call plus one retry, got %d calls", n)
	}
}
