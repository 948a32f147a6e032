package service

import (
	"fmt"
	"sync"
	"time"

	"github.com/timmy/odstat/internal/domain"
)

// ProgressStore tracks import jobs by id. Implementations must be safe for
// concurrent use; each id has a single writer, the run that owns it.
type ProgressStore interface {
	// Begin registers a new run for id. It fails with domain.ErrImportRunning
	// while a previous run of the same id has not reached a terminal state.
	Begin(job domain.ImportJob) error

	// Update moves id forward. Backward status moves are ignored and percent
	// never decreases.
	Update(id string, status domain.ImportStatus, percent int, message string)

	// AddError records a soft failure without changing the status.
	AddError(id, message string)

	// Complete marks id completed at 100%.
	Complete(id, message string, records int)

	// Fail marks id as failed, keeping the last percent.
	Fail(id, message string)

	// Get returns a copy of the job.
	Get(id string) (domain.ImportJob, bool)

	// Reap drops terminal jobs that finished before cutoff and returns how many were dropped.
	Reap(cutoff time.Time) int
}

// MemoryProgressStore is a process-wide ProgressStore backed by a map.
type MemoryProgressStore struct {
	mu   sync.RWMutex
	jobs map[string]*domain.ImportJob
	now  func() time.Time
}

// NewMemoryProgressStore creates an empty store.
func NewMemoryProgressStore() *MemoryProgressStore {
	return &MemoryProgressStore{
		jobs: make(map[string]*domain.ImportJob),
		now:  time.Now,
	}
}

func (s *MemoryProgressStore) Begin(job domain.ImportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.jobs[job.ID]; ok && !cur.Status.IsTerminal() {
		return fmt.Errorf("%w: %s (%s)", domain.ErrImportRunning, job.ID, cur.Status)
	}

	now := s.now()
	job.Status = domain.ImportStatusStarting
	job.Progress = 0
	job.Errors = nil
	job.RecordCount = 0
	job.StartedAt = now
	job.UpdatedAt = now
	job.CompletedAt = nil
	if job.Message == "" {
		job.Message = "import started"
	}
	s.jobs[job.ID] = &job
	return nil
}

func (s *MemoryProgressStore) Update(id string, status domain.ImportStatus, percent int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || !job.Status.CanTransitionTo(status) || status.IsTerminal() {
		return
	}
	job.Status = status
	job.Progress = max(job.Progress, min(percent, 99))
	if message != "" {
		job.Message = message
	}
	job.UpdatedAt = s.now()
}

func (s *MemoryProgressStore) AddError(id, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status.IsTerminal() {
		return
	}
	job.Errors = append(job.Errors, message)
	job.UpdatedAt = s.now()
}

func (s *MemoryProgressStore) Complete(id, message string, records int) {
	s.finish(id, domain.ImportStatusCompleted, message, func(job *domain.ImportJob) {
		job.Progress = 100
		job.RecordCount = records
	})
}

func (s *MemoryProgressStore) Fail(id, message string) {
	s.finish(id, domain.ImportStatusError, message, nil)
}

func (s *MemoryProgressStore) finish(id string, status domain.ImportStatus, message string, apply func(*domain.ImportJob)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status.IsTerminal() {
		return
	}
	now := s.now()
	job.Status = status
	job.Message = message
	job.UpdatedAt = now
	job.CompletedAt = &now
	if apply != nil {
		apply(job)
	}
}

func (s *MemoryProgressStore) Get(id string) (domain.ImportJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.ImportJob{}, false
	}
	out := *job
	out.Errors = append(domain.StringArray(nil), job.Errors...)
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		out.CompletedAt = &t
	}
	return out, true
}

func (s *MemoryProgressStore) Reap(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, job := range s.jobs {
		if job.Status.IsTerminal() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(s.jobs, id)
			n++
		}
	}
	return n
}
