package scanner

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"ArticlesRanker/internal/domain"
)

type stubAdapter struct {
	name     string
	kind     domain.SourceKind
	failures int32
	calls    atomic.Int32
}

func (s *stubAdapter) Name() string { return s.name }

func (s *stubAdapter) CanHandle(source domain.Source) bool { return source.Kind == s.kind }

func (s *stubAdapter) Collect(_ context.Context, source domain.Source, keyword string, _ *time.Time) ([]domain.CandidateArticle, error) {
	if s.calls.Add(1) <= s.failures {
		return nil, errors.New("upstream 502")
	}
	return []domain.CandidateArticle{{Title: keyword + " from " + source.Name, URL: "https://example.com/1"}}, nil
}

func TestRegistryResolve(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	first := &stubAdapter{name: "feed", kind: domain.SourceKindFeed}
	registry.Register(first)
	registry.Register(&stubAdapter{name: "feed-2", kind: domain.SourceKindFeed})
	registry.Register(&stubAdapter{name: "api", kind: domain.SourceKindAPI})

	adapter, err := registry.Resolve(domain.Source{Name: "Qiita", Kind: domain.SourceKindFeed})
	if err != nil || adapter != first {
		t.Fatalf("expected the first registered feed adapter, got %v, %v", adapter, err)
	}

	replacement := &stubAdapter{name: "feed", kind: domain.SourceKindFeed}
	registry.Register(replacement)
	if got := strings.Join(registry.Names(), ","); got != "feed,feed-2,api" {
		t.Fatalf("names = %s", got)
	}
	if adapter, _ := registry.Resolve(domain.Source{Kind: domain.SourceKindFeed}); adapter != replacement {
		t.Fatalf("replacement not used")
	}

	_, err = registry.Resolve(domain.Source{Name: "Blog", Kind: domain.SourceKindScraping})
	if !errors.Is(err, ErrNoAdapter) {
		t.Fatalf("expected ErrNoAdapter, got %v", err)
	}
}

func TestFetcherRetriesOnce(t *testing.T) {
	t.Parallel()

	adapter := &stubAdapter{name: "api", kind: domain.SourceKindAPI, failures: 1}
	registry := NewRegistry()
	registry.Register(adapter)
	fetcher := NewFetcher(registry, 0, time.Millisecond)

	out, err := fetcher.Fetch(context.Background(), domain.Source{ID: 1, Name: "HN", Kind: domain.SourceKindAPI}, "quantum", nil)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(out) != 1 || out[0].Title != "quantum from HN" || adapter.calls.Load() != 2 {
		t.Fatalf("unexpected result %+v after %d calls", out, adapter.calls.Load())
	}
}

func TestFetcherGivesUpAfterSecondFailure(t *testing.T) {
	t.Parallel()

	adapter := &stubAdapter{name: "api", kind: domain.SourceKindAPI, failures: 5}
	registry := NewRegistry()
	registry.Register(adapter)
	fetcher := NewFetcher(registry, 100, 0)

	_, err := fetcher.Fetch(context.Background(), domain.Source{ID: 1, Name: "HN", Kind: domain.SourceKindAPI}, "quantum", nil)
	if err == nil || !strings.Contains(err.Error(), "api: upstream 502") {
		t.Fatalf("expected wrapped adapter error, got %v", err)
	}
	if adapter.calls.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", adapter.calls.Load())
	}
}

func TestFetcherStopsOnCancel(t *testing.T) {
	t.Parallel()

	adapter := &stubAdapter{name: "api", kind: domain.SourceKindAPI, failures: 5}
	registry := NewRegistry()
	registry.Register(adapter)
	fetcher := NewFetcher(registry, 0, time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := fetcher.Fetch(ctx, domain.Source{ID: 1, Kind: domain.SourceKindAPI}, "quantum", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}
