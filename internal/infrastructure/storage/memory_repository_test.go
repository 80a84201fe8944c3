package storage

import (
	"context"
	"errors"
	"testing"

	"ArticlesRanker/internal/domain"
)

func TestMemoryRepositoryUniqueness(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewMemoryRepository(true)
	inserted, err := repo.InsertArticles(ctx, []domain.Article{
		{ID: "a1", KeywordID: 1, NormalizedURL: "u1", NormalizedTitle: "t1"},
		{ID: "a2", KeywordID: 1, NormalizedURL: "u1", NormalizedTitle: "t2"},
		{ID: "a3", KeywordID: 1, NormalizedURL: "u3", NormalizedTitle: "t1"},
		{ID: "a4", KeywordID: 2, NormalizedURL: "u1", NormalizedTitle: "t1"},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if len(inserted) != 2 || inserted[0].ID != "a1" || inserted[1].ID != "a4" {
		t.Fatalf("unexpected inserted set %+v", inserted)
	}

	if _, err := repo.InsertArticles(ctx, []domain.Article{{Title: "no id"}}); err == nil {
		t.Fatalf("expected error for missing id")
	}

	urlOnly := NewMemoryRepository(false)
	inserted, _ = urlOnly.InsertArticles(ctx, []domain.Article{
		{ID: "b1", KeywordID: 1, NormalizedURL: "u1", NormalizedTitle: "t1"},
		{ID: "b2", KeywordID: 1, NormalizedURL: "u2", NormalizedTitle: "t1"},
	})
	if len(inserted) != 2 {
		t.Fatalf("title collisions must be allowed without the title constraint")
	}
}

func TestMemoryRepositoryRanking(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewMemoryRepository(true)
	_, _ = repo.InsertArticles(ctx, []domain.Article{
		{ID: "low", KeywordID: 1, NormalizedURL: "u1", NormalizedTitle: "t1"},
		{ID: "high", KeywordID: 1, NormalizedURL: "u2", NormalizedTitle: "t2"},
		{ID: "unscored", KeywordID: 1, NormalizedURL: "u3", NormalizedTitle: "t3"},
	})

	if err := repo.UpdateRelevance(ctx, []domain.RelevanceResult{{ArticleID: "low", RelevanceScore: 7, IsRelevant: true}}); err != nil {
		t.Fatalf("relevance: %v", err)
	}
	for id, score := range map[string]float64{"low": 12.5, "high": 56.8} {
		if err := repo.UpdateQuality(ctx, domain.Article{ID: id, FinalScore: domain.Float64(score)}); err != nil {
			t.Fatalf("quality: %v", err)
		}
	}
	if err := repo.UpdateQuality(ctx, domain.Article{ID: "missing"}); err == nil {
		t.Fatalf("expected error for unknown article")
	}

	ranked, err := repo.ListRanked(ctx, 1, 0)
	if err != nil {
		t.Fatalf("ranked: %v", err)
	}
	if len(ranked) != 2 || ranked[0].ID != "high" || ranked[1].ID != "low" {
		t.Fatalf("unexpected ranking %+v", ranked)
	}
	if ranked[1].RelevanceScore == nil || *ranked[1].RelevanceScore != 7 {
		t.Fatalf("relevance lost by quality update")
	}
	if top, _ := repo.ListRanked(ctx, 1, 1); len(top) != 1 {
		t.Fatalf("limit ignored")
	}
}

func TestCatalog(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	catalog := NewCatalog(
		[]domain.Keyword{{ID: 2, Term: "rust", IsActive: false}, {ID: 1, Term: "quantum", IsActive: true}, {ID: 3, Term: "go", IsActive: true}},
		[]domain.Source{{ID: 20, Name: "Zenn"}, {ID: 10, Name: "HN"}, {ID: 30, Name: "Qiita"}},
		map[int64][]int64{3: {30, 10}},
	)

	active, _ := catalog.ListActiveKeywords(ctx)
	if len(active) != 2 || active[0].ID != 1 || active[1].ID != 3 {
		t.Fatalf("unexpected active keywords %+v", active)
	}

	all, _ := catalog.ListSourcesForKeyword(ctx, 1)
	if len(all) != 3 || all[0].Name != "HN" || all[2].Name != "Qiita" {
		t.Fatalf("sources must be ordered by id: %+v", all)
	}
	restricted, _ := catalog.ListSourcesForKeyword(ctx, 3)
	if len(restricted) != 2 || restricted[0].Name != "HN" || restricted[1].Name != "Qiita" {
		t.Fatalf("unexpected restricted sources %+v", restricted)
	}

	if _, err := catalog.GetKeyword(ctx, 99); !errors.Is(err, ErrKeywordNotFound) {
		t.Fatalf("expected ErrKeywordNotFound, got %v", err)
	}
	if _, err := catalog.ListSourcesForKeyword(ctx, 99); !errors.Is(err, ErrKeywordNotFound) {
		t.Fatalf("expected ErrKeywordNotFound, got %v", err)
	}
}
