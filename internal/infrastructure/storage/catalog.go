package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"ArticlesRanker/internal/domain"
	"ArticlesRanker/internal/ports"
)

// ErrKeywordNotFound is returned for unknown keyword ids.
var ErrKeywordNotFound = errors.New("keyword not found")

// Catalog serves keyword and source records defined in configuration.
type Catalog struct {
	keywords map[int64]domain.Keyword
	sources  []domain.Source
	// keywordSources restricts a keyword to specific source ids; absent means all.
	keywordSources map[int64][]int64
}

var (
	_ ports.KeywordRepository = (*Catalog)(nil)
	_ ports.SourceRepository  = (*Catalog)(nil)
)

// NewCatalog indexes the given records. Sources are served ordered by id.
func NewCatalog(keywords []domain.Keyword, sources []domain.Source, keywordSources map[int64][]int64) *Catalog {
	c := &Catalog{
		keywords:       make(map[int64]domain.Keyword, len(keywords)),
		sources:        append([]domain.Source(nil), sources...),
		keywordSources: keywordSources,
	}
	for _, k := range keywords {
		c.keywords[k.ID] = k
	}
	sort.SliceStable(c.sources, func(i, j int) bool { return c.sources[i].ID < c.sources[j].ID })
	return c
}

// GetKeyword returns a keyword by id.
func (c *Catalog) GetKeyword(_ context.Context, id int64) (domain.Keyword, error) {
	k, ok := c.keywords[id]
	if !ok {
		return domain.Keyword{}, fmt.Errorf("%w: %d", ErrKeywordNotFound, id)
	}
	return k, nil
}

// ListActiveKeywords returns active keywords ordered by id.
func (c *Catalog) ListActiveKeywords(_ context.Context) ([]domain.Keyword, error) {
	out := make([]domain.Keyword, 0, len(c.keywords))
	for _, k := range c.keywords {
		if k.IsActive {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListSourcesForKeyword returns the keyword's sources of interest, or every source.
func (c *Catalog) ListSourcesForKeyword(_ context.Context, keywordID int64) ([]domain.Source, error) {
	if _, ok := c.keywords[keywordID]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrKeywordNotFound, keywordID)
	}

	ids, restricted := c.keywordSources[keywordID]
	if !restricted || len(ids) == 0 {
		return append([]domain.Source(nil), c.sources...), nil
	}

	allowed := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		allowed[id] = struct{}{}
	}
	out := make([]domain.Source, 0, len(ids))
	for _, s := range c.sources {
		if _, ok := allowed[s.ID]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}
