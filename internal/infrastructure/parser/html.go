package parser

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"ArticlesRanker/internal/domain"
	"ArticlesRanker/internal/ports"
)

var dateExpr = regexp.MustCompile(`\d{1,2} [A-Za-z]{3} \d{4}`)

// Selector defaults used when a scraping source sets no options.
const (
	defaultItemSelector    = "article"
	defaultTitleSelector   = "h2, h3"
	defaultLinkSelector    = "a[href]"
	defaultSummarySelector = "p"
	defaultDateSelector    = "time"
)

// HTMLAdapter scrapes a search results page with CSS selectors taken from the
// source options (item, title, link, summary, date, score).
type HTMLAdapter struct {
	client *http.Client
}

var _ ports.SourceAdapter = (*HTMLAdapter)(nil)

// NewHTMLAdapter wires an HTTP client; nil uses a 20s timeout client.
func NewHTMLAdapter(client *http.Client) *HTMLAdapter {
	return &HTMLAdapter{client: defaultHTTPClient(client)}
}

// Name identifies the adapter inside the registry.
func (a *HTMLAdapter) Name() string {
	return "html"
}

// CanHandle accepts scraping sources with a search template.
func (a *HTMLAdapter) CanHandle(source domain.Source) bool {
	return source.Kind == domain.SourceKindScraping && source.SearchURLTemplate != ""
}

// Collect fetches the search page for keyword and extracts every item.
func (a *HTMLAdapter) Collect(ctx context.Context, source domain.Source, keyword string, since *time.Time) ([]domain.CandidateArticle, error) {
	pageURL, err := searchURL(source.SearchURLTemplate, keyword)
	if err != nil {
		return nil, err
	}

	body, err := get(ctx, a.client, pageURL)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	return extractItems(doc, source, pageURL, since), nil
}

func extractItems(doc *goquery.Document, source domain.Source, pageURL string, since *time.Time) []domain.CandidateArticle {
	var collected []domain.CandidateArticle
	seen := map[string]struct{}{}

	doc.Find(source.Option("item", defaultItemSelector)).Each(func(_ int, item *goquery.Selection) {
		candidate, ok := parseItem(item, source, pageURL)
		if !ok || before(candidate.PublishedAt, since) {
			return
		}
		if _, dup := seen[candidate.URL]; dup {
			return
		}
		seen[candidate.URL] = struct{}{}
		collected = append(collected, candidate)
	})

	return collected
}

func parseItem(item *goquery.Selection, source domain.Source, pageURL string) (domain.CandidateArticle, bool) {
	var candidate domain.CandidateArticle

	title := strings.TrimSpace(item.Find(source.Option("title", defaultTitleSelector)).First().Text())
	link := item.Find(source.Option("link", defaultLinkSelector)).First()
	href, _ := link.Attr("href")
	if title == "" {
		title = strings.TrimSpace(link.Text())
	}
	if title == "" || strings.TrimSpace(href) == "" {
		return candidate, false
	}

	candidate.Title = strings.Join(strings.Fields(title), " ")
	candidate.URL = resolveLink(pageURL, href)
	candidate.Summary = plainText(item.Find(source.Option("summary", defaultSummarySelector)).First().Text())

	if published, ok := parseDate(item.Find(source.Option("date", defaultDateSelector)).First(), source.Option("dateLayout", time.RFC3339)); ok {
		candidate.PublishedAt = &published
	}

	if selector := source.Option("score", ""); selector != "" && source.HasNativeScore {
		if n, ok := parseCount(item.Find(selector).First().Text()); ok {
			candidate.NativeScore = &n
		}
	}

	return candidate, true
}

// parseDate tries the datetime attribute with layout, then the "2 Jan 2006"
// form commonly printed on listing pages.
func parseDate(sel *goquery.Selection, layout string) (time.Time, bool) {
	if sel.Length() == 0 {
		return time.Time{}, false
	}
	if attr, ok := sel.Attr("datetime"); ok {
		if t, err := time.Parse(layout, strings.TrimSpace(attr)); err == nil {
			return t.UTC(), true
		}
	}
	text := strings.TrimSpace(sel.Text())
	if t, err := time.Parse(layout, text); err == nil {
		return t.UTC(), true
	}
	if match := dateExpr.FindString(text); match != "" {
		if t, err := time.Parse("2 Jan 2006", match); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
