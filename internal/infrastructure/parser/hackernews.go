package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ArticlesRanker/internal/domain"
	"ArticlesRanker/internal/ports"
)

const (
	hackerNewsAPI   = "https://hn.algolia.com/api/v1"
	hackerNewsItem  = "https://news.ycombinator.com/item?id="
	hackerNewsLimit = 50
)

// HackerNewsAdapter searches stories through the Algolia API. Results are
// already keyword-filtered server side and carry points as native score.
type HackerNewsAdapter struct {
	client *http.Client
}

var _ ports.SourceAdapter = (*HackerNewsAdapter)(nil)

// NewHackerNewsAdapter wires an HTTP client; nil uses a 20s timeout client.
func NewHackerNewsAdapter(client *http.Client) *HackerNewsAdapter {
	return &HackerNewsAdapter{client: defaultHTTPClient(client)}
}

// Name identifies the adapter inside the registry.
func (a *HackerNewsAdapter) Name() string {
	return "hackernews"
}

// CanHandle accepts API sources pointing at the Algolia HN endpoint.
func (a *HackerNewsAdapter) CanHandle(source domain.Source) bool {
	return source.Kind == domain.SourceKindAPI &&
		(strings.Contains(source.BaseURL, "hn.algolia.com") || source.Option("api", "") == "hackernews")
}

type hnResponse struct {
	Hits []struct {
		ObjectID   string `json:"objectID"`
		Title      string `json:"title"`
		URL        string `json:"url"`
		Points     *int   `json:"points"`
		StoryText  string `json:"story_text"`
		CreatedAtI int64  `json:"created_at_i"`
	} `json:"hits"`
}

// Collect queries search_by_date for stories newer than since.
func (a *HackerNewsAdapter) Collect(ctx context.Context, source domain.Source, keyword string, since *time.Time) ([]domain.CandidateArticle, error) {
	base := strings.TrimSuffix(source.BaseURL, "/")
	if base == "" {
		base = hackerNewsAPI
	}

	query := url.Values{}
	query.Set("query", keyword)
	query.Set("tags", "story")
	query.Set("hitsPerPage", source.Option("hitsPerPage", strconv.Itoa(hackerNewsLimit)))
	if since != nil {
		query.Set("numericFilters", fmt.Sprintf("created_at_i>%d", since.Unix()))
	}

	body, err := get(ctx, a.client, base+"/search_by_date?"+query.Encode())
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var decoded hnResponse
	if err := json.NewDecoder(body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode hacker news response: %w", err)
	}

	articles := make([]domain.CandidateArticle, 0, len(decoded.Hits))
	for _, hit := range decoded.Hits {
		if strings.TrimSpace(hit.Title) == "" {
			continue
		}
		link := hit.URL
		if link == "" {
			link = hackerNewsItem + hit.ObjectID
		}

		candidate := domain.CandidateArticle{
			Title:   strings.TrimSpace(hit.Title),
			URL:     link,
			Summary: truncate(plainText(hit.StoryText), summaryLimit),
		}
		if hit.CreatedAtI > 0 {
			published := time.Unix(hit.CreatedAtI, 0).UTC()
			candidate.PublishedAt = &published
		}
		if hit.Points != nil {
			points := float64(*hit.Points)
			candidate.NativeScore = &points
		}
		articles = append(articles, candidate)
	}
	return articles, nil
}
