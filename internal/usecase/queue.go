package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ArticlesRanker/internal/domain"
	"ArticlesRanker/internal/status"
)

var (
	// ErrAlreadyQueued is returned when the keyword already has a pending or running job.
	ErrAlreadyQueued = fmt.Errorf("enqueue: %w", status.ErrActive)
	// ErrQueueFull is returned when the buffer is exhausted.
	ErrQueueFull = errors.New("collection queue is full")
	// ErrQueueClosed is returned after Close.
	ErrQueueClosed = errors.New("collection queue is closed")
)

const defaultQueueSize = 64

// Runner executes a single collection job.
type Runner interface {
	Run(ctx context.Context, job domain.CollectionJob) ([]domain.SourceCollectionResult, error)
}

// Queue is a FIFO of collection jobs drained by one consumer, so at most one
// keyword is collected at a time.
type Queue struct {
	jobs    chan domain.CollectionJob
	store   *status.Store
	runner  Runner
	logger  *slog.Logger
	now     func() time.Time
	onDepth func(int)

	mu     sync.RWMutex
	closed bool
}

// NewQueue builds a queue of the given capacity.
func NewQueue(size int, store *status.Store, runner Runner, logger *slog.Logger) *Queue {
	if size <= 0 {
		size = defaultQueueSize
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Queue{
		jobs:   make(chan domain.CollectionJob, size),
		store:  store,
		runner: runner,
		logger: logger,
		now:    time.Now,
	}
}

// OnDepthChange registers a callback receiving the queue length after each change.
func (q *Queue) OnDepthChange(fn func(int)) {
	q.onDepth = fn
}

// Enqueue creates the Queued status and schedules the job.
func (q *Queue) Enqueue(job domain.CollectionJob) (domain.CollectionStatus, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return domain.CollectionStatus{}, ErrQueueClosed
	}

	if job.QueuedAt.IsZero() {
		job.QueuedAt = q.now()
	}
	st, err := q.store.Create(job.KeywordID, job.QueuedAt)
	if errors.Is(err, status.ErrActive) {
		return st, ErrAlreadyQueued
	}
	if err != nil {
		return st, err
	}

	select {
	case q.jobs <- job:
	default:
		q.store.Update(job.KeywordID, q.now(), func(s *domain.CollectionStatus) {
			s.Phase = domain.PhaseFailed
			s.FatalMessage = ErrQueueFull.Error()
		})
		return st, ErrQueueFull
	}

	q.reportDepth()
	q.logger.Info("collection queued", "keyword_id", job.KeywordID, "depth", len(q.jobs))
	return st, nil
}

// Run drains the queue until ctx is cancelled or the queue is closed.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-q.jobs:
			if !ok {
				return
			}
			q.reportDepth()
			if _, err := q.runner.Run(ctx, job); err != nil {
				q.logger.Error("collection job failed", "keyword_id", job.KeywordID, "error", err)
			}
		}
	}
}

// Close stops accepting jobs; Run returns once the buffer is drained.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
}

// Len reports the number of waiting jobs.
func (q *Queue) Len() int {
	return len(q.jobs)
}

func (q *Queue) reportDepth() {
	if q.onDepth != nil {
		q.onDepth(len(q.jobs))
	}
}
