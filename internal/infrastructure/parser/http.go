// Package parser holds the source adapters that turn upstream listings into
// candidate articles.
package parser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const userAgent = "ArticlesRanker/1.0"

var numberExpr = regexp.MustCompile(`\d[\d,]*`)

func defaultHTTPClient(client *http.Client) *http.Client {
	if client == nil {
		return &http.Client{Timeout: 20 * time.Second}
	}
	return client
}

// get performs a GET and returns the body for a 200 response.
func get(ctx context.Context, client *http.Client, target string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", target, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%s returned %s", target, resp.Status)
	}
	return resp.Body, nil
}

// searchURL substitutes the escaped keyword into a {keyword} template.
func searchURL(template, keyword string) (string, error) {
	if strings.TrimSpace(template) == "" {
		return "", fmt.Errorf("search url template is empty")
	}
	raw := strings.ReplaceAll(template, "{keyword}", url.QueryEscape(keyword))
	if _, err := url.Parse(raw); err != nil {
		return "", fmt.Errorf("invalid search url %s: %w", raw, err)
	}
	return raw, nil
}

// resolveLink makes href absolute against the page it was found on.
func resolveLink(page, href string) string {
	href = strings.TrimSpace(href)
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	base, err := url.Parse(page)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

// plainText strips markup from an HTML fragment.
func plainText(fragment string) string {
	if !strings.Contains(fragment, "<") {
		return strings.Join(strings.Fields(fragment), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.Join(strings.Fields(fragment), " ")
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// parseCount reads the first integer in text such as "1,234 users".
func parseCount(text string) (float64, bool) {
	match := numberExpr.FindString(text)
	if match == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(strings.ReplaceAll(match, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func before(published *time.Time, since *time.Time) bool {
	return published != nil && since != nil && published.Before(*since)
}
