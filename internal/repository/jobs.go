package repository

import (
	"context"
	"errors"
	"sync"

	"github.com/iago/section-writer-back/internal/domain"
)

var ErrNotFound = errors.New("resource not found")

// JobMutator edits a private copy of a job; returning an error discards it.
type JobMutator func(job *domain.Job) error

// JobStore abstracts job persistence. Update applies a mutator atomically per
// job id so pollers never observe a partially written record.
type JobStore interface {
	Put(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, jobID string) (domain.Job, error)
	Update(ctx context.Context, jobID string, mutate JobMutator) (domain.Job, error)
	Expire(ctx context.Context, jobID string) error
}

// MemoryJobStore keeps jobs in process memory. Records live until restart.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]domain.Job
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs: make(map[string]domain.Job),
	}
}

func (s *MemoryJobStore) Put(_ context.Context, job domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, jobID string) (domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return domain.Job{}, ErrNotFound
	}
	return job.Clone(), nil
}

func (s *MemoryJobStore) Update(_ context.Context, jobID string, mutate JobMutator) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.jobs[jobID]
	if !ok {
		return domain.Job{}, ErrNotFound
	}
	next := current.Clone()
	if err := mutate(&next); err != nil {
		return domain.Job{}, err
	}
	s.jobs[jobID] = next
	return next.Clone(), nil
}

func (s *MemoryJobStore) Expire(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.jobs, jobID)
	return nil
}

func (s *MemoryJobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}
