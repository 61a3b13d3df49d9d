package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dvloznov/finance-import/internal/jobs"
)

const (
	// DefaultRetention is how long a completed or failed job stays visible
	// after the store saw it finish.
	DefaultRetention = 24 * time.Hour
	// DefaultMaxFinished caps the completed and failed jobs kept in memory.
	DefaultMaxFinished = 1000
)

// Store keeps populate jobs in memory, indexed by id and by batch. Active jobs
// are always kept; finished ones are dropped once they exceed the retention
// window or the cap, oldest first.
type Store struct {
	mu      sync.RWMutex
	jobs    map[string]*jobs.PopulateBatchJob
	byBatch map[int64]string // batch id -> newest job id
	// finished lists terminal jobs in the order the store saw them finish.
	finished []finishedJob

	retention   time.Duration
	maxFinished int
	now         func() time.Time
}

type finishedJob struct {
	id string
	at time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithRetention keeps finished jobs for d. Zero or negative keeps them until
// the cap evicts them.
func WithRetention(d time.Duration) StoreOption {
	return func(s *Store) { s.retention = d }
}

// WithMaxFinished caps the number of finished jobs kept. Zero or negative
// disables the cap.
func WithMaxFinished(n int) StoreOption {
	return func(s *Store) { s.maxFinished = n }
}

// WithStoreClock replaces time.Now, for tests.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty job store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		jobs:        make(map[string]*jobs.PopulateBatchJob),
		byBatch:     make(map[int64]string),
		retention:   DefaultRetention,
		maxFinished: DefaultMaxFinished,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SaveJob implements jobs.JobStore. The store keeps its own copy of job.
func (s *Store) SaveJob(ctx context.Context, job *jobs.PopulateBatchJob) error {
	if job.JobID == "" {
		return fmt.Errorf("save job for batch %d: job ID is required", job.BatchID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, seen := s.jobs[job.JobID]
	wasTerminal := seen && prev.Status.Terminal()

	stored := *job
	s.jobs[job.JobID] = &stored

	if newest, ok := s.jobs[s.byBatch[job.BatchID]]; !ok || !newest.CreatedAt.After(stored.CreatedAt) {
		s.byBatch[job.BatchID] = job.JobID
	}
	if stored.Status.Terminal() && !wasTerminal {
		s.finished = append(s.finished, finishedJob{id: job.JobID, at: s.now()})
	}

	s.prune()
	return nil
}

// prune drops finished jobs beyond the cap or older than the retention.
// Callers hold s.mu.
func (s *Store) prune() {
	cutoff := time.Time{}
	if s.retention > 0 {
		cutoff = s.now().Add(-s.retention)
	}

	for len(s.finished) > 0 {
		oldest := s.finished[0]
		job, ok := s.jobs[oldest.id]
		if !ok || !job.Status.Terminal() {
			s.finished = s.finished[1:]
			continue
		}

		overCap := s.maxFinished > 0 && len(s.finished) > s.maxFinished
		expired := !cutoff.IsZero() && oldest.at.Before(cutoff)
		if !overCap && !expired {
			return
		}
		s.finished = s.finished[1:]
		s.remove(job)
	}
}

func (s *Store) remove(job *jobs.PopulateBatchJob) {
	delete(s.jobs, job.JobID)
	if s.byBatch[job.BatchID] != job.JobID {
		return
	}
	delete(s.byBatch, job.BatchID)

	// Another job of the same batch may still be kept.
	var newest *jobs.PopulateBatchJob
	for _, other := range s.jobs {
		if other.BatchID == job.BatchID && (newest == nil || other.CreatedAt.After(newest.CreatedAt)) {
			newest = other
		}
	}
	if newest != nil {
		s.byBatch[job.BatchID] = newest.JobID
	}
}

// GetJob implements jobs.JobStore.
func (s *Store) GetJob(ctx context.Context, jobID string) (*jobs.PopulateBatchJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", jobs.ErrJobNotFound, jobID)
	}
	found := *job
	return &found, nil
}

// LatestForBatch implements jobs.JobStore.
func (s *Store) LatestForBatch(ctx context.Context, batchID int64) (*jobs.PopulateBatchJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[s.byBatch[batchID]]
	if !ok {
		return nil, fmt.Errorf("%w: no job for batch %d", jobs.ErrJobNotFound, batchID)
	}
	found := *job
	return &found, nil
}

// ListJobs implements jobs.JobStore. Jobs are returned newest first.
func (s *Store) ListJobs(ctx context.Context, filter jobs.JobFilter) ([]*jobs.PopulateBatchJob, error) {
	s.mu.RLock()
	matched := make([]*jobs.PopulateBatchJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		if filter.BatchID != 0 && job.BatchID != filter.BatchID {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		found := *job
		matched = append(matched, &found)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].JobID < matched[j].JobID
	})

	if filter.Offset >= len(matched) {
		return []*jobs.PopulateBatchJob{}, nil
	}
	matched = matched[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

var _ jobs.JobStore = (*Store)(nil)
