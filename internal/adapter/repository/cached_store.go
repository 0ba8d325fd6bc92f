package repository

import (
	"context"
	"errors"
	"log/slog"

	"cv-optimizer/internal/domain"
	"cv-optimizer/internal/usecase"
)

// CachedJobStore writes through to a durable backend and serves terminal
// jobs from memory. Non-terminal jobs can still be moved by another
// instance, so their reads always go to the backend. A stale write evicts
// the cached copy.
type CachedJobStore struct {
	cache   *MemoryJobStore
	backend usecase.JobStore
	logger  *slog.Logger
}

func NewCachedJobStore(backend usecase.JobStore, logger *slog.Logger) *CachedJobStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedJobStore{cache: NewMemoryJobStore(), backend: backend, logger: logger}
}

func (s *CachedJobStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	if j, err := s.cache.Get(ctx, id); err == nil && j.Status.IsTerminal() {
		return j, nil
	}
	j, err := s.backend.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			s.cache.evict(id)
		}
		return nil, err
	}
	s.cache.set(j)
	return j, nil
}

func (s *CachedJobStore) Put(ctx context.Context, j *domain.Job) error {
	if err := s.backend.Put(ctx, j); err != nil {
		if errors.Is(err, domain.ErrStaleWrite) {
			s.cache.evict(j.ID)
			s.logger.Info("store.cache.evicted", "job_id", j.ID)
		}
		return err
	}
	s.cache.set(j)
	return nil
}
