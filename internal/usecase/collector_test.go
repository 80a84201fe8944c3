package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"ArticlesRanker/internal/dedup"
	"ArticlesRanker/internal/domain"
	"ArticlesRanker/internal/evaluation"
	"ArticlesRanker/internal/infrastructure/storage"
	"ArticlesRanker/internal/scoring"
	"ArticlesRanker/internal/sink"
	"ArticlesRanker/internal/status"
)

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeFetcher struct {
	mu     sync.Mutex
	bySrc  map[int64]func() ([]domain.CandidateArticle, error)
	calls  []int64
	sinces []time.Time
}

func (f *fakeFetcher) Fetch(_ context.Context, source domain.Source, _ string, since *time.Time) ([]domain.CandidateArticle, error) {
	f.mu.Lock()
	f.calls = append(f.calls, source.ID)
	if since != nil {
		f.sinces = append(f.sinces, *since)
	}
	fn := f.bySrc[source.ID]
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn()
}

// fakeRelevance scores articles by title against a threshold.
type fakeRelevance struct {
	threshold float64
	scores    map[string]float64
	err       error
	calls     int
}

func (f *fakeRelevance) Filter(_ context.Context, _ domain.Keyword, articles []domain.Article) ([]domain.RelevanceResult, domain.TokenUsage, error) {
	f.calls++
	usage := domain.TokenUsage{InputTokens: 10, OutputTokens: 5}
	if f.err != nil {
		return nil, usage, f.err
	}
	out := make([]domain.RelevanceResult, 0, len(articles))
	for _, a := range articles {
		score := f.scores[a.Title]
		out = append(out, domain.RelevanceResult{ArticleID: a.ID, RelevanceScore: score, IsRelevant: score >= f.threshold})
	}
	return out, usage, nil
}

// fakeQuality evaluates every article with the same scores unless told otherwise.
type fakeQuality struct {
	llm        float64
	relevance  map[string]float64
	failTitles map[string]bool
	before     func(ctx context.Context) error
	seen       []string
}

func (f *fakeQuality) Evaluate(ctx context.Context, _ domain.Keyword, articles []domain.Article) ([]domain.QualityOutcome, domain.TokenUsage, error) {
	if f.before != nil {
		if err := f.before(ctx); err != nil {
			return nil, domain.TokenUsage{}, err
		}
	}
	out := make([]domain.QualityOutcome, 0, len(articles))
	for _, a := range articles {
		f.seen = append(f.seen, a.Title)
		if f.failTitles[a.Title] {
			out = append(out, domain.QualityOutcome{ArticleID: a.ID, Err: errors.New("judge unavailable")})
			continue
		}
		rel := 15.0
		if v, ok := f.relevance[a.Title]; ok {
			rel = v
		}
		out = append(out, domain.QualityOutcome{
			ArticleID: a.ID,
			Evaluation: &domain.QualityEvaluation{
				Scores:   domain.QualityScores{Technical: 16, Novelty: 16, Impact: 16, Quality: 16, Relevance: rel},
				LlmScore: f.llm,
				Summary:  "summary of " + a.Title,
			},
		})
	}
	return out, domain.TokenUsage{InputTokens: 100, OutputTokens: 40}, nil
}

// eventRecorder keeps the type of every published event.
type eventRecorder struct {
	types []domain.EventType
}

func (r *eventRecorder) Publish(_ context.Context, event domain.Event) error {
	r.types = append(r.types, event.Type)
	return nil
}

type recordingNotifier struct {
	digests []string
}

func (n *recordingNotifier) PublishDigest(_ context.Context, digest string) error {
	n.digests = append(n.digests, digest)
	return nil
}

func candidates(prefix string, n int) []domain.CandidateArticle {
	out := make([]domain.CandidateArticle, n)
	for i := range out {
		out[i] = domain.CandidateArticle{
			Title:       fmt.Sprintf("%s article %d", prefix, i),
			URL:         fmt.Sprintf("https://example.com/%s/%d", prefix, i),
			Summary:     "about quantum computing",
			NativeScore: domain.Float64(100),
		}
	}
	return out
}

type harness struct {
	repo      *storage.MemoryRepository
	fetcher   *fakeFetcher
	relevance *fakeRelevance
	quality   *fakeQuality
	recorder  *eventRecorder
	store     *status.Store
	notifier  *recordingNotifier
	collector *Collector
}

func newHarness(t *testing.T, sources ...domain.Source) *harness {
	t.Helper()

	keyword := domain.Keyword{ID: 1, Term: "quantum computing", Aliases: []string{"QC"}, IsActive: true}
	catalog := storage.NewCatalog([]domain.Keyword{keyword}, sources, nil)
	repo := storage.NewMemoryRepository(true)

	h := &harness{
		repo:      repo,
		fetcher:   &fakeFetcher{bySrc: map[int64]func() ([]domain.CandidateArticle, error){}},
		relevance: &fakeRelevance{threshold: evaluation.PresetStrict.Threshold(), scores: map[string]float64{}},
		quality:   &fakeQuality{llm: 80},
		recorder:  &eventRecorder{},
		store:     status.NewStore(),
		notifier:  &recordingNotifier{},
	}
	calculator := scoring.NewCalculator(scoring.PresetQualityFocused, map[string]scoring.Normalization{
		"Hacker News": {Cap: 200, Curve: scoring.CurveLinear},
	})

	h.collector = NewCollector(CollectorDeps{
		Keywords:  catalog,
		Sources:   catalog,
		Fetcher:   h.fetcher,
		Dedup:     dedup.NewGate(repo, dedup.ModeURLAndTitle, nil),
		Articles:  repo,
		Relevance: h.relevance,
		Quality:   h.quality,
		Scorer:    calculator,
		Sink:      sink.NewFanout(h.recorder, status.NewProjector(h.store, 50, nil)),
		Notifier:  h.notifier,
		Now:       func() time.Time { return testNow },
	})
	return h
}

var hackerNews = domain.Source{ID: 1, Name: "Hacker News", Kind: domain.SourceKindAPI, HasNativeScore: true, AuthorityWeight: 0.8}

func TestCollectorStrictScenario(t *testing.T) {
	t.Parallel()

	h := newHarness(t, hackerNews)
	all := candidates("qc", 10)

	// Three of the ten are already known.
	if _, err := dedup.NewGate(h.repo, dedup.ModeURLAndTitle, nil).Filter(context.Background(), 1, hackerNews, all[:3]); err != nil {
		t.Fatalf("seed: %v", err)
	}
	h.fetcher.bySrc[1] = func() ([]domain.CandidateArticle, error) { return all, nil }
	for i, score := range []float64{8, 7, 5, 9, 2, 6, 6.5} {
		h.relevance.scores[all[3+i].Title] = score
	}
	// Passes Stage 1 but fails the Stage 2 relevance axis.
	h.quality.relevance = map[string]float64{all[3].Title: 5}

	results, err := h.collector.Run(context.Background(), domain.CollectionJob{KeywordID: 1})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(results) != 1 || !results[0].Success {
		t.Fatalf("unexpected results %+v", results)
	}
	if results[0].Count != 7 {
		t.Fatalf("expected 7 new articles, got %d", results[0].Count)
	}
	if len(h.quality.seen) != 5 {
		t.Fatalf("expected 5 articles in stage 2, got %v", h.quality.seen)
	}
	if results[0].ScoredCount != 4 {
		t.Fatalf("expected 4 scored articles, got %d", results[0].ScoredCount)
	}

	if want := testNow.Add(-DefaultLookback); len(h.fetcher.sinces) != 1 || !h.fetcher.sinces[0].Equal(want) {
		t.Fatalf("expected since %v, got %v", want, h.fetcher.sinces)
	}

	ranked, err := h.repo.ListRanked(context.Background(), 1, 0)
	if err != nil {
		t.Fatalf("ranked: %v", err)
	}
	if len(ranked) != 4 {
		t.Fatalf("expected 4 ranked articles, got %d", len(ranked))
	}
	for _, a := range ranked {
		if math.Abs(*a.FinalScore-56.8) > 1e-9 {
			t.Fatalf("expected final score 56.8, got %v", *a.FinalScore)
		}
		if *a.FinalScore < 0 || *a.FinalScore > 100 {
			t.Fatalf("score out of bounds: %v", *a.FinalScore)
		}
	}

	for _, a := range h.repo.All(1) {
		if a.IsRelevant != nil && !*a.IsRelevant && a.TechnicalScore != nil {
			t.Fatalf("rejected article %q acquired stage 2 fields", a.Title)
		}
		if a.Title == all[3].Title && a.FinalScore != nil {
			t.Fatalf("article below the relevance axis cutoff must not be ranked")
		}
	}

	want := []domain.EventType{
		domain.EventPhaseChanged,
		domain.EventArticlesFetched,
		domain.EventPhaseChanged,
		domain.EventTokenUsage,
		domain.EventArticlesPassedFilter,
		domain.EventTokenUsage,
		domain.EventArticlesQualityScored,
		domain.EventSourceCompleted,
		domain.EventJobCompleted,
	}
	got := h.recorder.types
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("unexpected events:\n got %v\nwant %v", got, want)
	}

	st, ok := h.store.Get(1)
	if !ok {
		t.Fatalf("status missing")
	}
	if st.Phase != domain.PhaseCompleted || st.ArticlesCollected != 7 || st.ArticlesPassed != 5 || st.ArticlesRejected != 2 {
		t.Fatalf("unexpected status %+v", st)
	}
	if st.ArticlesScored != results[0].ScoredCount {
		t.Fatalf("status counts %d scored articles, source result %d", st.ArticlesScored, results[0].ScoredCount)
	}
	if st.RelevanceUsage.Total() != 15 || st.QualityUsage.Total() != 140 {
		t.Fatalf("unexpected usage %+v / %+v", st.RelevanceUsage, st.QualityUsage)
	}
	if len(st.FetchedPreview)+len(st.PendingPreview)+len(st.ScoredPreview) != 0 {
		t.Fatalf("previews must be cleared on completion")
	}

	if len(h.notifier.digests) != 1 {
		t.Fatalf("expected one digest, got %d", len(h.notifier.digests))
	}
}

func TestCollectorRerunIsIdempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, hackerNews)
	batch := candidates("same", 4)
	h.fetcher.bySrc[1] = func() ([]domain.CandidateArticle, error) { return batch, nil }

	if _, err := h.collector.Run(context.Background(), domain.CollectionJob{KeywordID: 1}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	results, err := h.collector.Run(context.Background(), domain.CollectionJob{KeywordID: 1})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if results[0].Count != 0 {
		t.Fatalf("expected no new articles on replay, got %d", results[0].Count)
	}
	if n := len(h.repo.All(1)); n != 4 {
		t.Fatalf("expected 4 stored articles, got %d", n)
	}
	if h.relevance.calls != 1 {
		t.Fatalf("stage 1 should not run without new articles, got %d calls", h.relevance.calls)
	}
}

func TestCollectorSourceErrorContinues(t *testing.T) {
	t.Parallel()

	second := domain.Source{ID: 2, Name: "Hatena", Kind: domain.SourceKindFeed, HasServerSideFiltering: true, AuthorityWeight: 0.5}
	h := newHarness(t, hackerNews, second)
	h.fetcher.bySrc[1] = func() ([]domain.CandidateArticle, error) { return nil, errors.New("503 from upstream") }
	h.fetcher.bySrc[2] = func() ([]domain.CandidateArticle, error) { return candidates("hatena", 2), nil }

	results, err := h.collector.Run(context.Background(), domain.CollectionJob{KeywordID: 1})
	if err != nil {
		t.Fatalf("source errors must not fail the job: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected both sources, got %+v", results)
	}
	if results[0].Success || results[0].ErrorMessage == "" {
		t.Fatalf("first source should fail with a message: %+v", results[0])
	}
	if !results[1].Success || results[1].Count != 2 || results[1].ScoredCount != 2 {
		t.Fatalf("second source should succeed: %+v", results[1])
	}
	if h.relevance.calls != 0 {
		t.Fatalf("server-side filtered source must bypass stage 1")
	}

	st, _ := h.store.Get(1)
	if st.Phase != domain.PhaseCompleted || len(st.Errors) != 1 || st.Errors[0].Fatal {
		t.Fatalf("unexpected status %+v", st)
	}
	if st.Errors[0].Severity != domain.SeverityError || st.Errors[0].SourceName != "Hacker News" {
		t.Fatalf("unexpected diagnostic %+v", st.Errors[0])
	}
}

func TestCollectorUpstreamTimeoutSkipsOnlyThatSource(t *testing.T) {
	t.Parallel()

	slow := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()
	client := &http.Client{Timeout: 20 * time.Millisecond}

	second := domain.Source{ID: 2, Name: "Hatena", Kind: domain.SourceKindFeed, HasServerSideFiltering: true, AuthorityWeight: 0.5}
	h := newHarness(t, hackerNews, second)
	h.fetcher.bySrc[1] = func() ([]domain.CandidateArticle, error) {
		resp, err := client.Get(slow.URL)
		if err != nil {
			return nil, err
		}
		_ = resp.Body.Close()
		return nil, nil
	}
	h.fetcher.bySrc[2] = func() ([]domain.CandidateArticle, error) { return candidates("hatena", 2), nil }

	results, err := h.collector.Run(context.Background(), domain.CollectionJob{KeywordID: 1})
	if err != nil {
		t.Fatalf("an upstream timeout must not fail the job: %v", err)
	}
	if len(results) != 2 || results[0].Success || !results[1].Success {
		t.Fatalf("unexpected results %+v", results)
	}
	if fmt.Sprint(h.fetcher.calls) != "[1 2]" {
		t.Fatalf("every source must be fetched, got %v", h.fetcher.calls)
	}

	st, _ := h.store.Get(1)
	if st.Phase != domain.PhaseCompleted || len(st.Errors) != 1 || st.Errors[0].Severity != domain.SeverityError {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestClassifyJobDeadlineIsCritical(t *testing.T) {
	t.Parallel()

	upstream := fmt.Errorf("get feed: %w", context.DeadlineExceeded)
	if got := classify(context.Background(), "HN", "fetch failed", upstream); domain.SeverityOf(got) != domain.SeverityError {
		t.Fatalf("upstream deadline should abandon the source, got %v", got)
	}

	ctx, cancel := context.WithDeadline(context.Background(), testNow)
	defer cancel()
	got := classify(ctx, "HN", "fetch failed", upstream)
	if domain.SeverityOf(got) != domain.SeverityCritical || !errors.Is(got, context.DeadlineExceeded) {
		t.Fatalf("expired job deadline must be critical, got %v", got)
	}

	tagged := domain.Warning("HN", "a1", "bad", nil)
	if classify(context.Background(), "HN", "x", tagged) != tagged {
		t.Fatalf("tagged errors keep their severity")
	}
}

func TestCollectorCriticalFailsJob(t *testing.T) {
	t.Parallel()

	second := domain.Source{ID: 2, Name: "Hatena", Kind: domain.SourceKindFeed, AuthorityWeight: 0.5}
	h := newHarness(t, hackerNews, second)
	h.fetcher.bySrc[1] = func() ([]domain.CandidateArticle, error) { return candidates("qc", 3), nil }
	h.relevance.err = domain.Critical("", "relevance evaluator unavailable", errors.New("timeout"))

	results, err := h.collector.Run(context.Background(), domain.CollectionJob{KeywordID: 1})
	if domain.SeverityOf(err) != domain.SeverityCritical {
		t.Fatalf("expected critical error, got %v", err)
	}
	if len(results) != 1 || results[0].Success {
		t.Fatalf("expected one failed source result, got %+v", results)
	}
	if len(h.fetcher.calls) != 1 {
		t.Fatalf("no further sources may run after a critical error, fetched %v", h.fetcher.calls)
	}

	st, _ := h.store.Get(1)
	if st.Phase != domain.PhaseFailed || st.FatalMessage == "" || st.FinishedAt == nil {
		t.Fatalf("unexpected status %+v", st)
	}
	// Partial results stay persisted.
	if n := len(h.repo.All(1)); n != 3 {
		t.Fatalf("expected persisted articles to survive, got %d", n)
	}
	if len(h.notifier.digests) != 0 {
		t.Fatalf("failed jobs send no digest")
	}
}

func TestCollectorArticleWarningSkipsOnlyThatArticle(t *testing.T) {
	t.Parallel()

	h := newHarness(t, hackerNews)
	batch := candidates("qc", 3)
	h.fetcher.bySrc[1] = func() ([]domain.CandidateArticle, error) { return batch, nil }
	for _, c := range batch {
		h.relevance.scores[c.Title] = 9
	}
	h.quality.failTitles = map[string]bool{batch[1].Title: true}

	results, err := h.collector.Run(context.Background(), domain.CollectionJob{KeywordID: 1})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !results[0].Success || results[0].ScoredCount != 2 {
		t.Fatalf("unexpected result %+v", results[0])
	}

	st, _ := h.store.Get(1)
	if len(st.Warnings) != 1 || st.Warnings[0].ArticleID == "" || len(st.Errors) != 0 {
		t.Fatalf("expected one article warning, got %+v / %+v", st.Warnings, st.Errors)
	}
}

func TestCollectorCancellation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, hackerNews)
	ctx, cancel := context.WithCancel(context.Background())
	batch := candidates("qc", 2)
	h.fetcher.bySrc[1] = func() ([]domain.CandidateArticle, error) { return batch, nil }
	for _, c := range batch {
		h.relevance.scores[c.Title] = 9
	}
	h.quality.before = func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	}

	_, err := h.collector.Run(ctx, domain.CollectionJob{KeywordID: 1})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}

	st, _ := h.store.Get(1)
	if st.Phase != domain.PhaseFailed {
		t.Fatalf("cancelled job should end failed, got %s", st.Phase)
	}
	for _, a := range h.repo.All(1) {
		if a.LlmScore != nil {
			t.Fatalf("no stage 2 fields may be stored after cancellation")
		}
	}
}

func TestCollectorDebugCap(t *testing.T) {
	t.Parallel()

	h := newHarness(t, hackerNews)
	h.fetcher.bySrc[1] = func() ([]domain.CandidateArticle, error) { return candidates("qc", 10), nil }

	results, err := h.collector.Run(context.Background(), domain.CollectionJob{
		KeywordID: 1,
		Debug:     domain.DebugOptions{MaxArticlesPerSource: 3},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if results[0].Count != 3 {
		t.Fatalf("expected the cap to apply, got %d", results[0].Count)
	}
}

func TestCollectorUnknownKeywordFails(t *testing.T) {
	t.Parallel()

	h := newHarness(t, hackerNews)
	_, err := h.collector.Run(context.Background(), domain.CollectionJob{KeywordID: 99})
	if !errors.Is(err, storage.ErrKeywordNotFound) {
		t.Fatalf("expected ErrKeywordNotFound, got %v", err)
	}
	st, ok := h.store.Get(99)
	if !ok || st.Phase != domain.PhaseFailed {
		t.Fatalf("expected failed status, got %+v", st)
	}
}

func TestDecide(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want action
	}{
		{nil, actionContinue},
		{domain.Warning("s", "a", "bad", nil), actionContinue},
		{domain.SourceError("s", "down", nil), actionSkipSource},
		{errors.New("untagged"), actionSkipSource},
		{domain.Critical("", "llm down", nil), actionAbort},
		{fmt.Errorf("wrapped: %w", context.Canceled), actionAbort},
		{fmt.Errorf("client timeout: %w", context.DeadlineExceeded), actionSkipSource},
	}
	for _, tc := range cases {
		if got := decide(tc.err); got != tc.want {
			t.Fatalf("decide(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
