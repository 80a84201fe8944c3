package parser

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"ArticlesRanker/internal/domain"
	"ArticlesRanker/internal/ports"
)

const summaryLimit = 600

// FeedAdapter reads RSS/Atom search feeds. Hatena-style feeds carry a
// bookmark count extension used as the native score.
type FeedAdapter struct {
	client *http.Client
	parser *gofeed.Parser
}

var _ ports.SourceAdapter = (*FeedAdapter)(nil)

// NewFeedAdapter wires an HTTP client; nil uses a 20s timeout client.
func NewFeedAdapter(client *http.Client) *FeedAdapter {
	return &FeedAdapter{client: defaultHTTPClient(client), parser: gofeed.NewParser()}
}

// Name identifies the adapter inside the registry.
func (a *FeedAdapter) Name() string {
	return "feed"
}

// CanHandle accepts feed sources with a search template.
func (a *FeedAdapter) CanHandle(source domain.Source) bool {
	return source.Kind == domain.SourceKindFeed && source.SearchURLTemplate != ""
}

// Collect fetches and parses the feed for keyword, dropping items older than since.
func (a *FeedAdapter) Collect(ctx context.Context, source domain.Source, keyword string, since *time.Time) ([]domain.CandidateArticle, error) {
	feedURL, err := searchURL(source.SearchURLTemplate, keyword)
	if err != nil {
		return nil, err
	}

	body, err := get(ctx, a.client, feedURL)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	feed, err := a.parser.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", source.Name, err)
	}

	scoreExt := source.Option("scoreExtension", "hatena:bookmarkcount")
	articles := make([]domain.CandidateArticle, 0, len(feed.Items))
	for _, item := range feed.Items {
		if strings.TrimSpace(item.Title) == "" || strings.TrimSpace(item.Link) == "" {
			continue
		}

		var published *time.Time
		if item.PublishedParsed != nil {
			published = item.PublishedParsed
		} else if item.UpdatedParsed != nil {
			published = item.UpdatedParsed
		}
		if before(published, since) {
			continue
		}

		desc := item.Description
		if desc == "" {
			desc = item.Content
		}

		candidate := domain.CandidateArticle{
			Title:       strings.TrimSpace(item.Title),
			URL:         resolveLink(feedURL, item.Link),
			Summary:     truncate(plainText(desc), summaryLimit),
			Content:     plainText(item.Content),
			PublishedAt: published,
		}
		if source.HasNativeScore {
			candidate.NativeScore = extensionCount(item, scoreExt)
		}
		articles = append(articles, candidate)
	}
	return articles, nil
}

// extensionCount reads a numeric "prefix:name" extension element.
func extensionCount(item *gofeed.Item, qualified string) *float64 {
	prefix, name, ok := strings.Cut(qualified, ":")
	if !ok || item.Extensions == nil {
		return nil
	}
	values := item.Extensions[prefix][name]
	if len(values) == 0 {
		return nil
	}
	n, ok := parseCount(values[0].Value)
	if !ok {
		return nil
	}
	return &n
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n <= 3 {
		return string(runes[:n])
	}
	return string(runes[:n-3]) + "..."
}
