package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ArticlesRanker/internal/domain"
	"ArticlesRanker/internal/infrastructure/storage"
	"ArticlesRanker/internal/status"
)

// orderRunner records job order and marks each job completed in the store.
type orderRunner struct {
	mu    sync.Mutex
	store *status.Store
	order []int64
	gate  chan struct{}
}

func (r *orderRunner) Run(_ context.Context, job domain.CollectionJob) ([]domain.SourceCollectionResult, error) {
	if r.gate != nil {
		<-r.gate
	}
	r.mu.Lock()
	r.order = append(r.order, job.KeywordID)
	r.mu.Unlock()
	r.store.Update(job.KeywordID, time.Now(), func(st *domain.CollectionStatus) {
		st.Phase = domain.PhaseCompleted
	})
	return nil, nil
}

func (r *orderRunner) Order() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.order...)
}

func TestQueueRunsJobsInOrder(t *testing.T) {
	t.Parallel()

	store := status.NewStore()
	runner := &orderRunner{store: store}
	q := NewQueue(4, store, runner, nil)

	depths := []int{}
	q.OnDepthChange(func(n int) { depths = append(depths, n) })

	for _, id := range []int64{3, 1, 2} {
		st, err := q.Enqueue(domain.CollectionJob{KeywordID: id})
		if err != nil {
			t.Fatalf("enqueue %d: %v", id, err)
		}
		if st.Phase != domain.PhaseQueued {
			t.Fatalf("expected queued status, got %s", st.Phase)
		}
	}
	if q.Len() != 3 {
		t.Fatalf("expected 3 waiting jobs, got %d", q.Len())
	}

	q.Close()
	q.Run(context.Background())

	got := runner.Order()
	if len(got) != 3 || got[0] != 3 || got[1] != 1 || got[2] != 2 {
		t.Fatalf("unexpected order %v", got)
	}
	if len(depths) == 0 || depths[len(depths)-1] != 0 {
		t.Fatalf("expected depth to drain to 0, got %v", depths)
	}
	if _, err := q.Enqueue(domain.CollectionJob{KeywordID: 9}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
}

func TestQueueRejectsDuplicateKeyword(t *testing.T) {
	t.Parallel()

	store := status.NewStore()
	q := NewQueue(4, store, &orderRunner{store: store}, nil)

	if _, err := q.Enqueue(domain.CollectionJob{KeywordID: 1}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	_, err := q.Enqueue(domain.CollectionJob{KeywordID: 1})
	if !errors.Is(err, ErrAlreadyQueued) || !errors.Is(err, status.ErrActive) {
		t.Fatalf("expected ErrAlreadyQueued, got %v", err)
	}
}

func TestQueueFull(t *testing.T) {
	t.Parallel()

	store := status.NewStore()
	q := NewQueue(1, store, &orderRunner{store: store}, nil)

	if _, err := q.Enqueue(domain.CollectionJob{KeywordID: 1}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.Enqueue(domain.CollectionJob{KeywordID: 2}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	st, _ := store.Get(2)
	if st.Phase != domain.PhaseFailed {
		t.Fatalf("overflowing job must not stay queued, got %s", st.Phase)
	}
}

func TestQueueSingleConsumerStopsOnCancel(t *testing.T) {
	t.Parallel()

	store := status.NewStore()
	runner := &orderRunner{store: store, gate: make(chan struct{})}
	q := NewQueue(4, store, runner, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()

	_, _ = q.Enqueue(domain.CollectionJob{KeywordID: 1})
	_, _ = q.Enqueue(domain.CollectionJob{KeywordID: 2})
	runner.gate <- struct{}{}
	cancel()
	// Unblock the second job in case the consumer picked it up before noticing cancel.
	close(runner.gate)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("consumer did not stop")
	}
	if got := runner.Order(); len(got) == 0 || got[0] != 1 {
		t.Fatalf("expected keyword 1 first, got %v", got)
	}
}

type fakeDriver struct {
	job func(time.Time)
}

func (d *fakeDriver) Start(_ context.Context, job func(time.Time)) error {
	d.job = job
	return nil
}

func (d *fakeDriver) Stop(context.Context) error { return nil }

func TestSchedulerEnqueuesActiveKeywords(t *testing.T) {
	t.Parallel()

	catalog := storage.NewCatalog([]domain.Keyword{
		{ID: 1, Term: "go", IsActive: true},
		{ID: 2, Term: "rust", IsActive: false},
		{ID: 3, Term: "zig", IsActive: true},
	}, nil, nil)
	store := status.NewStore()
	q := NewQueue(8, store, &orderRunner{store: store}, nil)
	driver := &fakeDriver{}

	s := NewScheduler(driver, catalog, q, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	driver.job(time.Now())
	if q.Len() != 2 {
		t.Fatalf("expected 2 queued keywords, got %d", q.Len())
	}

	// A second tick while both are still queued adds nothing.
	if n := s.EnqueueActive(context.Background(), time.Now()); n != 0 {
		t.Fatalf("expected duplicates to be skipped, queued %d", n)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
