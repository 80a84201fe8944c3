package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"ArticlesRanker/internal/domain"
	"ArticlesRanker/internal/ports"
)

// ErrNoAdapter is returned when no registered adapter can handle a source.
var ErrNoAdapter = errors.New("no adapter can handle source")

// Registry keeps adapters in registration order and resolves them per source.
type Registry struct {
	adapters []ports.SourceAdapter
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds an adapter, replacing one with the same name.
func (r *Registry) Register(adapter ports.SourceAdapter) {
	for i, existing := range r.adapters {
		if existing.Name() == adapter.Name() {
			r.adapters[i] = adapter
			return
		}
	}
	r.adapters = append(r.adapters, adapter)
}

// Resolve returns the first adapter able to handle the source.
func (r *Registry) Resolve(source domain.Source) (ports.SourceAdapter, error) {
	for _, adapter := range r.adapters {
		if adapter.CanHandle(source) {
			return adapter, nil
		}
	}
	return nil, fmt.Errorf("%w %s", ErrNoAdapter, source.Name)
}

// Names lists registered adapters.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for _, adapter := range r.adapters {
		names = append(names, adapter.Name())
	}
	return names
}

// Fetcher resolves an adapter and runs it under a per-source rate limit,
// retrying a failed fetch once.
type Fetcher struct {
	registry   *Registry
	rps        float64
	retryDelay time.Duration

	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
}

// NewFetcher wraps a registry. rps <= 0 disables rate limiting.
func NewFetcher(registry *Registry, rps float64, retryDelay time.Duration) *Fetcher {
	return &Fetcher{
		registry:   registry,
		rps:        rps,
		retryDelay: retryDelay,
		limiters:   map[int64]*rate.Limiter{},
	}
}

// Fetch collects candidates for the keyword term from one source.
func (f *Fetcher) Fetch(ctx context.Context, source domain.Source, keyword string, since *time.Time) ([]domain.CandidateArticle, error) {
	adapter, err := f.registry.Resolve(source)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		if err := f.wait(ctx, source.ID); err != nil {
			return nil, err
		}

		candidates, err := adapter.Collect(ctx, source, keyword, since)
		if err == nil {
			return candidates, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if attempt == 1 && f.retryDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(f.retryDelay):
			}
		}
	}

	return nil, fmt.Errorf("%s: %w", adapter.Name(), lastErr)
}

func (f *Fetcher) wait(ctx context.Context, sourceID int64) error {
	if f.rps <= 0 {
		return nil
	}

	f.mu.Lock()
	limiter, ok := f.limiters[sourceID]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(f.rps), 1)
		f.limiters[sourceID] = limiter
	}
	f.mu.Unlock()

	return limiter.Wait(ctx)
}
