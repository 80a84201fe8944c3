package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"ArticlesRanker/internal/domain"
	"ArticlesRanker/internal/ports"
)

// Scheduler wires the cron driver to the job queue: every tick enqueues each
// active keyword.
type Scheduler struct {
	driver   ports.Scheduler
	keywords ports.KeywordRepository
	queue    *Queue
	logger   *slog.Logger
}

// NewScheduler returns a helper to start/stop recurring collections.
func NewScheduler(driver ports.Scheduler, keywords ports.KeywordRepository, queue *Queue, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{driver: driver, keywords: keywords, queue: queue, logger: logger}
}

// Start registers the enqueue job with the driver.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.queue == nil {
		return nil
	}

	return s.driver.Start(ctx, func(trigger time.Time) {
		s.EnqueueActive(ctx, trigger)
	})
}

// EnqueueActive queues every active keyword, skipping ones already pending.
func (s *Scheduler) EnqueueActive(ctx context.Context, trigger time.Time) int {
	keywords, err := s.keywords.ListActiveKeywords(ctx)
	if err != nil {
		s.logger.Error("list active keywords", "error", err)
		return 0
	}

	queued := 0
	for _, kw := range keywords {
		_, err := s.queue.Enqueue(domain.CollectionJob{KeywordID: kw.ID, QueuedAt: trigger})
		switch {
		case err == nil:
			queued++
		case errors.Is(err, ErrAlreadyQueued):
			s.logger.Debug("keyword already queued", "keyword_id", kw.ID)
		default:
			s.logger.Warn("scheduled enqueue failed", "keyword_id", kw.ID, "error", err)
		}
	}
	s.logger.Info("scheduled collections queued", "count", queued, "trigger", trigger)
	return queued
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
