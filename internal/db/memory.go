package db

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mtr002/jobpulse/internal/interfaces"
)

// MemoryStore keeps jobs and user profiles in process memory. It backs tests
// and single-process development runs where API and worker share one binary.
type MemoryStore struct {
	mu    sync.RWMutex
	jobs  map[string]*interfaces.Job
	users map[string]*interfaces.User
	seq   map[string]int64
	next  int64
	now   func() time.Time

	open atomic.Int64
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:  make(map[string]*interfaces.Job),
		users: make(map[string]*interfaces.User),
		seq:   make(map[string]int64),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Create inserts a new PENDING job
func (s *MemoryStore) Create(_ context.Context, in *interfaces.JobCreate) (*interfaces.Job, error) {
	now := s.now()
	job := &interfaces.Job{
		ID:        uuid.New().String(),
		OwnerID:   in.OwnerID,
		JobType:   in.JobType,
		InputData: in.InputData,
		Status:    interfaces.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.jobs[job.ID] = job.Clone()
	s.next++
	s.seq[job.ID] = s.next
	s.mu.Unlock()

	return job, nil
}

// GetByID returns a copy of the stored job
func (s *MemoryStore) GetByID(_ context.Context, id string) (*interfaces.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, interfaces.ErrJobNotFound
	}
	return job.Clone(), nil
}

// GetByOwner lists an owner's jobs, newest first
func (s *MemoryStore) GetByOwner(_ context.Context, ownerID string, skip, limit int) ([]*interfaces.Job, error) {
	return s.list(func(j *interfaces.Job) bool { return j.OwnerID == ownerID }, skip, limit), nil
}

// GetByStatus lists jobs in a status, newest first
func (s *MemoryStore) GetByStatus(_ context.Context, status interfaces.JobStatus, skip, limit int) ([]*interfaces.Job, error) {
	return s.list(func(j *interfaces.Job) bool { return j.Status == status }, skip, limit), nil
}

func (s *MemoryStore) list(match func(*interfaces.Job) bool, skip, limit int) []*interfaces.Job {
	s.mu.RLock()
	var out []*interfaces.Job
	order := make(map[string]int64)
	for id, j := range s.jobs {
		if match(j) {
			out = append(out, j.Clone())
			order[id] = s.seq[id]
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(a, b int) bool {
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.After(out[b].CreatedAt)
		}
		return order[out[a].ID] > order[out[b].ID]
	})

	skip, limit = pageBounds(skip, limit)
	if skip >= len(out) {
		return []*interfaces.Job{}
	}
	out = out[skip:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

// Update applies a partial update and returns the stored result
func (s *MemoryStore) Update(_ context.Context, id string, u *interfaces.JobUpdate) (*interfaces.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, interfaces.ErrJobNotFound
	}
	u.Apply(job, s.now())
	return job.Clone(), nil
}

// Delete removes a job and reports whether it existed
func (s *MemoryStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return false, nil
	}
	delete(s.jobs, id)
	delete(s.seq, id)
	return true, nil
}

// Ping always succeeds
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Session returns a session sharing this store's data
func (s *MemoryStore) Session(context.Context) (interfaces.JobSession, error) {
	s.open.Add(1)
	return &memorySession{MemoryStore: s}, nil
}

// OpenSessions reports how many sessions have not been closed yet.
func (s *MemoryStore) OpenSessions() int64 {
	return s.open.Load()
}

type memorySession struct {
	*MemoryStore
	once sync.Once
}

func (m *memorySession) Close() error {
	m.once.Do(func() { m.open.Add(-1) })
	return nil
}
