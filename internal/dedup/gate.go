package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"ArticlesRanker/internal/domain"
	"ArticlesRanker/internal/ports"
)

// Mode selects how strict duplicate detection is.
type Mode string

const (
	// ModeURLAndTitle treats an exact normalized URL or title match as a duplicate.
	// Distinct articles sharing a title across sources collide; that is accepted.
	ModeURLAndTitle Mode = "url_and_title"
	// ModeURLOnly ignores titles.
	ModeURLOnly Mode = "url_only"
)

// ParseMode resolves a configured mode name; empty means ModeURLAndTitle.
func ParseMode(name string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(name))) {
	case "", ModeURLAndTitle:
		return ModeURLAndTitle, nil
	case ModeURLOnly:
		return ModeURLOnly, nil
	default:
		return "", fmt.Errorf("unknown dedup mode %q", name)
	}
}

// Gate filters fresh candidates against the articles already persisted for a
// keyword and persists the survivors.
type Gate struct {
	repo   ports.ArticleRepository
	mode   Mode
	now    func() time.Time
	logger *slog.Logger
}

// NewGate wires the gate to a repository.
func NewGate(repo ports.ArticleRepository, mode Mode, logger *slog.Logger) *Gate {
	if mode == "" {
		mode = ModeURLAndTitle
	}
	return &Gate{repo: repo, mode: mode, now: time.Now, logger: logger}
}

// Filter returns only the candidates that were not present yet, after persisting them.
func (g *Gate) Filter(ctx context.Context, keywordID int64, source domain.Source, candidates []domain.CandidateArticle) ([]domain.Article, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	index, err := g.repo.ExistingKeys(ctx, keywordID)
	if err != nil {
		return nil, fmt.Errorf("load existing keys: %w", err)
	}
	if index.URLs == nil {
		index.URLs = map[string]struct{}{}
	}
	if index.Titles == nil {
		index.Titles = map[string]struct{}{}
	}

	collectedAt := g.now().UTC()
	fresh := make([]domain.Article, 0, len(candidates))
	skipped := 0
	for _, c := range candidates {
		normURL := NormalizeURL(c.URL)
		normTitle := NormalizeTitle(c.Title)
		if normURL == "" || normTitle == "" {
			skipped++
			continue
		}
		if _, dup := index.URLs[normURL]; dup {
			skipped++
			continue
		}
		if g.mode == ModeURLAndTitle {
			if _, dup := index.Titles[normTitle]; dup {
				skipped++
				continue
			}
		}

		// Later candidates in the same batch are checked against earlier ones.
		index.URLs[normURL] = struct{}{}
		index.Titles[normTitle] = struct{}{}

		fresh = append(fresh, domain.Article{
			ID:              uuid.NewString(),
			SourceID:        source.ID,
			KeywordID:       keywordID,
			Title:           strings.TrimSpace(c.Title),
			URL:             strings.TrimSpace(c.URL),
			NormalizedURL:   normURL,
			NormalizedTitle: normTitle,
			Summary:         strings.TrimSpace(c.Summary),
			Content:         c.Content,
			PublishedAt:     c.PublishedAt,
			CollectedAt:     collectedAt,
			NativeScore:     c.NativeScore,
		})
	}

	if len(fresh) == 0 {
		g.debug("all candidates were duplicates", "source", source.Name, "skipped", skipped)
		return nil, nil
	}

	inserted, err := g.repo.InsertArticles(ctx, fresh)
	if err != nil {
		return nil, fmt.Errorf("persist articles: %w", err)
	}

	g.debug("dedup done", "source", source.Name, "candidates", len(candidates), "inserted", len(inserted), "skipped", skipped)
	return inserted, nil
}

func (g *Gate) debug(msg string, args ...any) {
	if g.logger != nil {
		g.logger.Debug(msg, args...)
	}
}
