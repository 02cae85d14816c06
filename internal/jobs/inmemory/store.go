package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dvloznov/statement-reconciler/internal/jobs"
)

// Store is an in-memory implementation of JobStore.
// It stores jobs in memory and is safe for concurrent use.
// Data is lost on service restart.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*jobs.BatchJob
	now  func() time.Time
}

// NewStore creates a new in-memory job store.
func NewStore() *Store {
	return &Store{
		jobs: make(map[string]*jobs.BatchJob),
		now:  time.Now,
	}
}

// SaveJob implements the JobStore interface. A raised stop flag is never lowered.
func (s *Store) SaveJob(ctx context.Context, job *jobs.BatchJob) error {
	if job.JobID == "" {
		return fmt.Errorf("job ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := job.Clone()
	if old, ok := s.jobs[job.JobID]; ok && old.StopRequested {
		c.StopRequested = true
	}
	s.jobs[job.JobID] = c

	return nil
}

// GetJob implements the JobStore interface.
func (s *Store) GetJob(ctx context.Context, jobID string) (*jobs.BatchJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return nil, fmt.Errorf("GetJob %s: %w", jobID, jobs.ErrJobNotFound)
	}

	return job.Clone(), nil
}

// ListJobs implements the JobStore interface.
func (s *Store) ListJobs(ctx context.Context, filter jobs.JobFilter) ([]*jobs.BatchJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*jobs.BatchJob{}

	for _, job := range s.jobs {
		if filter.CompanyID != "" && job.CompanyID != filter.CompanyID {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		result = append(result, job.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].JobID < result[j].JobID
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []*jobs.BatchJob{}, nil
		}
		result = result[filter.Offset:]
	}

	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}

	return result, nil
}

// UpdateJobStatus implements the JobStore interface.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID string, status jobs.JobStatus, errorMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return fmt.Errorf("UpdateJobStatus %s: %w", jobID, jobs.ErrJobNotFound)
	}

	now := s.now()
	switch {
	case status == jobs.JobStatusRunning:
		job.StartedAt = &now
		job.CompletedAt = nil
	case status.Terminal():
		job.CompletedAt = &now
	}

	job.Status = status
	job.Error = errorMsg
	if status == jobs.JobStatusCompleted || status == jobs.JobStatusStopped {
		job.CurrentItem = ""
	}

	return nil
}

// UpdateProgress implements the JobStore interface.
func (s *Store) UpdateProgress(ctx context.Context, jobID string, progress jobs.Progress, currentItem string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return fmt.Errorf("UpdateProgress %s: %w", jobID, jobs.ErrJobNotFound)
	}
	job.Progress = progress
	job.CurrentItem = currentItem
	return nil
}

// SetSummary implements the JobStore interface.
func (s *Store) SetSummary(ctx context.Context, jobID string, summary jobs.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return fmt.Errorf("SetSummary %s: %w", jobID, jobs.ErrJobNotFound)
	}
	summary.Failures = append([]jobs.ItemFailure(nil), summary.Failures...)
	job.Summary = &summary
	return nil
}

// RequestStop implements the JobStore interface.
func (s *Store) RequestStop(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return fmt.Errorf("RequestStop %s: %w", jobID, jobs.ErrJobNotFound)
	}
	if job.Status.Terminal() {
		return nil
	}
	job.StopRequested = true
	return nil
}

// Ensure Store implements JobStore interface.
var _ jobs.JobStore = (*Store)(nil)
