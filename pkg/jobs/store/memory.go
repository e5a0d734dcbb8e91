package store

import (
	"context"
	"sync"

	"alephauto/pkg/jobs/models"
)

// MemoryStore is an in-process JobRepository used by tests and by
// single-node deployments that don't need durability across restarts.
type MemoryStore struct {
	mu    sync.RWMutex
	jobs  map[string]models.Job
	retry map[string]models.RetryInfo
	order []string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:  make(map[string]models.Job),
		retry: make(map[string]models.RetryInfo),
	}
}

func (s *MemoryStore) Save(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; !exists {
		s.order = append(s.order, job.ID)
	}
	s.jobs[job.ID] = *job
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &job, nil
}

func (s *MemoryStore) Load(_ context.Context, filter Filter) ([]models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Job
	for _, id := range s.order {
		job := s.jobs[id]
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.Type != "" && job.Type != filter.Type {
			continue
		}
		if filter.OriginalID != "" && job.OriginalID != filter.OriginalID {
			continue
		}
		out = append(out, job)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) Counts(_ context.Context, jobType string) (Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c Counts
	for _, job := range s.jobs {
		if jobType != "" && job.Type != jobType {
			continue
		}
		switch job.Status {
		case models.StatusCreated:
			c.Created++
		case models.StatusQueued:
			c.Queued++
		case models.StatusRunning:
			c.Running++
		case models.StatusCompleted:
			c.Completed++
		case models.StatusFailed:
			c.Failed++
		}
	}
	return c, nil
}

func (s *MemoryStore) Last(_ context.Context, jobType string, status models.Status) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *models.Job
	for i := len(s.order) - 1; i >= 0; i-- {
		job := s.jobs[s.order[i]]
		if job.Type == jobType && job.Status == status {
			j := job
			found = &j
			break
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (s *MemoryStore) BulkImport(_ context.Context, jobs []models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range jobs {
		if _, exists := s.jobs[job.ID]; !exists {
			s.order = append(s.order, job.ID)
		}
		s.jobs[job.ID] = job
	}
	return nil
}

func (s *MemoryStore) GetRetryInfo(_ context.Context, originalID string) (*models.RetryInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.retry[originalID]
	if !ok {
		return nil, ErrNotFound
	}
	return &info, nil
}

func (s *MemoryStore) SaveRetryInfo(_ context.Context, info *models.RetryInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retry[info.OriginalID] = *info
	return nil
}

func (s *MemoryStore) DeleteRetryInfo(_ context.Context, originalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.retry, originalID)
	return nil
}
