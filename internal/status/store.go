// Package status keeps the pollable per-keyword collection status and
// projects progress events onto it.
package status

import (
	"errors"
	"sort"
	"sync"
	"time"

	"ArticlesRanker/internal/domain"
)

var (
	// ErrNotFound is returned for keywords without a status.
	ErrNotFound = errors.New("status not found")
	// ErrActive is returned when a keyword already has a queued or running job.
	ErrActive = errors.New("collection already queued or running")
)

// Store is the keyed, mutable status projection. Reads return deep copies.
type Store struct {
	mu       sync.RWMutex
	statuses map[int64]*domain.CollectionStatus
}

// NewStore builds an empty store.
func NewStore() *Store {
	return &Store{statuses: map[int64]*domain.CollectionStatus{}}
}

// Create starts a fresh Queued status, replacing a terminal one. It refuses
// while the keyword is queued or running.
func (s *Store) Create(keywordID int64, queuedAt time.Time) (domain.CollectionStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.statuses[keywordID]; ok && !existing.Phase.Terminal() {
		return existing.Clone(), ErrActive
	}
	st := newStatus(keywordID, queuedAt)
	s.statuses[keywordID] = st
	return st.Clone(), nil
}

// Get returns a copy of the keyword's status.
func (s *Store) Get(keywordID int64) (domain.CollectionStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.statuses[keywordID]
	if !ok {
		return domain.CollectionStatus{}, false
	}
	return st.Clone(), true
}

// Update mutates the keyword's status in place, creating a Queued one stamped
// with at when none exists.
func (s *Store) Update(keywordID int64, at time.Time, fn func(*domain.CollectionStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.statuses[keywordID]
	if !ok {
		st = newStatus(keywordID, at)
		s.statuses[keywordID] = st
	}
	fn(st)
}

// Clear drops a finished status.
func (s *Store) Clear(keywordID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.statuses[keywordID]
	if !ok {
		return ErrNotFound
	}
	if !st.Phase.Terminal() {
		return ErrActive
	}
	delete(s.statuses, keywordID)
	return nil
}

// List returns copies of every status ordered by keyword id.
func (s *Store) List() []domain.CollectionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.CollectionStatus, 0, len(s.statuses))
	for _, st := range s.statuses {
		out = append(out, st.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].KeywordID < out[j].KeywordID })
	return out
}

func newStatus(keywordID int64, queuedAt time.Time) *domain.CollectionStatus {
	return &domain.CollectionStatus{
		KeywordID: keywordID,
		Phase:     domain.PhaseQueued,
		QueuedAt:  queuedAt,
		UpdatedAt: queuedAt,
	}
}
