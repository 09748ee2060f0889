package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/mtr002/jobpulse/internal/interfaces"
	"github.com/mtr002/jobpulse/internal/logger"
	"github.com/mtr002/jobpulse/internal/metrics"
	"github.com/mtr002/jobpulse/internal/queue"
)

var (
	// ErrForbidden is returned when a caller asks for a job it does not own
	ErrForbidden = errors.New("job belongs to another owner")
	// ErrUnknownJobType is returned when no work function handles a job type
	ErrUnknownJobType = errors.New("unknown job type")
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// TypeChecker reports whether a job type can be executed.
type TypeChecker interface {
	Has(jobType string) bool
}

// Manager implements the job use cases on top of a store and a task queue
type Manager struct {
	store interfaces.JobStore
	queue queue.Enqueuer
	types TypeChecker
}

// NewManager creates a job manager. types may be nil to accept any job type.
func NewManager(store interfaces.JobStore, q queue.Enqueuer, types TypeChecker) *Manager {
	return &Manager{
		store: store,
		queue: q,
		types: types,
	}
}

// SubmitJob persists a new PENDING job and enqueues it for execution. A queue
// failure is logged; the job stays PENDING and is still returned.
func (m *Manager) SubmitJob(ctx context.Context, ownerID, jobType string, input map[string]any) (*interfaces.Job, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("owner id cannot be empty")
	}
	if jobType == "" {
		return nil, fmt.Errorf("job type cannot be empty")
	}
	if m.types != nil && !m.types.Has(jobType) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJobType, jobType)
	}
	if input == nil {
		input = map[string]any{}
	}

	job, err := m.store.Create(ctx, &interfaces.JobCreate{
		OwnerID:   ownerID,
		JobType:   jobType,
		InputData: input,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	log := logger.WithJobID(job.ID)
	task := queue.Task{JobID: job.ID, JobType: job.JobType, InputData: job.InputData}
	if err := m.queue.Enqueue(ctx, job.ID, task); err != nil {
		metrics.JobsEnqueueFailedTotal.Inc()
		log.Error().Err(err).Str("type", job.JobType).Msg("Job persisted but enqueue failed")
		return job, nil
	}

	metrics.JobsSubmittedTotal.Inc()
	log.Info().Str("type", job.JobType).Str("owner_id", ownerID).Msg("Job submitted successfully")
	return job, nil
}

// GetJob retrieves a job by ID
func (m *Manager) GetJob(ctx context.Context, id string) (*interfaces.Job, error) {
	return m.store.GetByID(ctx, id)
}

// GetOwnedJob retrieves a job and checks it belongs to ownerID
func (m *Manager) GetOwnedJob(ctx context.Context, ownerID, id string) (*interfaces.Job, error) {
	job, err := m.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != ownerID {
		return nil, ErrForbidden
	}
	return job, nil
}

// ListOwnerJobs returns the owner's jobs, newest first
func (m *Manager) ListOwnerJobs(ctx context.Context, ownerID string, skip, limit int) ([]*interfaces.Job, error) {
	skip, limit = clampPage(skip, limit)
	return m.store.GetByOwner(ctx, ownerID, skip, limit)
}

// ListByStatus returns jobs in the given status, newest first
func (m *Manager) ListByStatus(ctx context.Context, status interfaces.JobStatus, skip, limit int) ([]*interfaces.Job, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("unknown job status %q", status)
	}
	skip, limit = clampPage(skip, limit)
	return m.store.GetByStatus(ctx, status, skip, limit)
}

// DeleteOwnedJob removes a job owned by ownerID
func (m *Manager) DeleteOwnedJob(ctx context.Context, ownerID, id string) error {
	if _, err := m.GetOwnedJob(ctx, ownerID, id); err != nil {
		return err
	}
	deleted, err := m.store.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	if !deleted {
		return interfaces.ErrJobNotFound
	}
	return nil
}

func clampPage(skip, limit int) (int, int) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return skip, limit
}
