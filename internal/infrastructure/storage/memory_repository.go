package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"ArticlesRanker/internal/domain"
	"ArticlesRanker/internal/ports"
)

// MemoryRepository keeps articles in process memory. It enforces the same
// per-keyword uniqueness as the Postgres schema.
type MemoryRepository struct {
	mu          sync.RWMutex
	articles    map[string]domain.Article
	order       []string
	titleUnique bool
}

var _ ports.ArticleRepository = (*MemoryRepository)(nil)

// NewMemoryRepository builds an empty repository.
func NewMemoryRepository(titleUnique bool) *MemoryRepository {
	return &MemoryRepository{
		articles:    map[string]domain.Article{},
		titleUnique: titleUnique,
	}
}

// ExistingKeys returns the normalized url/title sets of a keyword.
func (r *MemoryRepository) ExistingKeys(_ context.Context, keywordID int64) (ports.DedupIndex, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	index := ports.DedupIndex{URLs: map[string]struct{}{}, Titles: map[string]struct{}{}}
	for _, a := range r.articles {
		if a.KeywordID != keywordID {
			continue
		}
		index.URLs[a.NormalizedURL] = struct{}{}
		index.Titles[a.NormalizedTitle] = struct{}{}
	}
	return index, nil
}

// InsertArticles stores articles that do not violate uniqueness.
func (r *MemoryRepository) InsertArticles(_ context.Context, articles []domain.Article) ([]domain.Article, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inserted := make([]domain.Article, 0, len(articles))
	for _, a := range articles {
		if a.ID == "" {
			return inserted, fmt.Errorf("article %q has no id", a.Title)
		}
		if _, exists := r.articles[a.ID]; exists || r.conflicts(a) {
			continue
		}
		r.articles[a.ID] = a
		r.order = append(r.order, a.ID)
		inserted = append(inserted, a)
	}
	return inserted, nil
}

func (r *MemoryRepository) conflicts(candidate domain.Article) bool {
	for _, a := range r.articles {
		if a.KeywordID != candidate.KeywordID {
			continue
		}
		if a.NormalizedURL == candidate.NormalizedURL {
			return true
		}
		if r.titleUnique && a.NormalizedTitle == candidate.NormalizedTitle {
			return true
		}
	}
	return false
}

// UpdateRelevance stores Stage 1 decisions.
func (r *MemoryRepository) UpdateRelevance(_ context.Context, results []domain.RelevanceResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, res := range results {
		a, ok := r.articles[res.ArticleID]
		if !ok {
			return fmt.Errorf("article %s not found", res.ArticleID)
		}
		a.RelevanceScore = domain.Float64(res.RelevanceScore)
		a.IsRelevant = domain.Bool(res.IsRelevant)
		r.articles[a.ID] = a
	}
	return nil
}

// UpdateQuality stores Stage 2 fields and scores.
func (r *MemoryRepository) UpdateQuality(_ context.Context, article domain.Article) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.articles[article.ID]
	if !ok {
		return fmt.Errorf("article %s not found", article.ID)
	}
	a.TechnicalScore = article.TechnicalScore
	a.NoveltyScore = article.NoveltyScore
	a.ImpactScore = article.ImpactScore
	a.QualityScore = article.QualityScore
	a.EnsembleRelevanceScore = article.EnsembleRelevanceScore
	a.LlmScore = article.LlmScore
	a.FinalScore = article.FinalScore
	a.RecommendScore = article.RecommendScore
	a.SummaryJa = article.SummaryJa
	r.articles[a.ID] = a
	return nil
}

// ListRanked returns scored articles of a keyword, best first.
func (r *MemoryRepository) ListRanked(_ context.Context, keywordID int64, limit int) ([]domain.Article, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ranked []domain.Article
	for _, id := range r.order {
		a := r.articles[id]
		if a.KeywordID == keywordID && a.FinalScore != nil {
			ranked = append(ranked, a)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return *ranked[i].FinalScore > *ranked[j].FinalScore
	})
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

// All returns every stored article of a keyword in insertion order.
func (r *MemoryRepository) All(keywordID int64) []domain.Article {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Article
	for _, id := range r.order {
		if a := r.articles[id]; a.KeywordID == keywordID {
			out = append(out, a)
		}
	}
	return out
}
