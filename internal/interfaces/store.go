package interfaces

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// JobStatus represents the current state of a job
type JobStatus string

const (
	StatusPending    JobStatus = "PENDING"
	StatusProcessing JobStatus = "PROCESSING"
	StatusCompleted  JobStatus = "COMPLETED"
	StatusFailed     JobStatus = "FAILED"
)

// ErrJobNotFound is returned by stores when no job has the requested id.
var ErrJobNotFound = errors.New("job not found")

// IsTerminal reports whether no further transitions are possible.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Job represents a unit of asynchronous work and its persisted lifecycle
type Job struct {
	ID           string         `json:"id"`
	OwnerID      string         `json:"owner_id"`
	JobType      string         `json:"job_type"`
	InputData    map[string]any `json:"input_data"`
	Status       JobStatus      `json:"status"`
	OutputData   map[string]any `json:"output_data,omitempty"`
	ArtifactURL  string         `json:"artifact_url,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
}

// String returns a string representation of the job
func (j *Job) String() string {
	return fmt.Sprintf("Job{ID: %s, Owner: %s, Type: %s, Status: %s}",
		j.ID, j.OwnerID, j.JobType, j.Status)
}

// Clone returns a deep-enough copy: maps and time pointers are not shared.
func (j *Job) Clone() *Job {
	c := *j
	c.InputData = cloneMap(j.InputData)
	c.OutputData = cloneMap(j.OutputData)
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// JobCreate carries the caller-provided fields of a new job.
type JobCreate struct {
	OwnerID   string         `json:"owner_id"`
	JobType   string         `json:"job_type"`
	InputData map[string]any `json:"input_data"`
}

// JobUpdate is a partial update. Nil fields are left untouched; UpdatedAt is
// always refreshed by the store.
type JobUpdate struct {
	Status       *JobStatus
	OutputData   map[string]any
	ArtifactURL  *string
	ErrorMessage *string
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

// Apply copies the non-nil fields of u onto j and stamps UpdatedAt.
func (u *JobUpdate) Apply(j *Job, now time.Time) {
	if u.Status != nil {
		j.Status = *u.Status
	}
	if u.OutputData != nil {
		j.OutputData = cloneMap(u.OutputData)
	}
	if u.ArtifactURL != nil {
		j.ArtifactURL = *u.ArtifactURL
	}
	if u.ErrorMessage != nil {
		j.ErrorMessage = *u.ErrorMessage
	}
	if u.StartedAt != nil {
		t := *u.StartedAt
		j.StartedAt = &t
	}
	if u.CompletedAt != nil {
		t := *u.CompletedAt
		j.CompletedAt = &t
	}
	j.UpdatedAt = now
}

// JobStore interface defines the persistence operations on job records
type JobStore interface {
	Create(ctx context.Context, in *JobCreate) (*Job, error)
	GetByID(ctx context.Context, id string) (*Job, error)
	GetByOwner(ctx context.Context, ownerID string, skip, limit int) ([]*Job, error)
	GetByStatus(ctx context.Context, status JobStatus, skip, limit int) ([]*Job, error)
	Update(ctx context.Context, id string, u *JobUpdate) (*Job, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// JobSession is a JobStore bound to one acquired connection or session.
// Close releases it and must be called on every exit path.
type JobSession interface {
	JobStore
	Close() error
}

// SessionProvider hands out scoped sessions, one per task execution.
type SessionProvider interface {
	Session(ctx context.Context) (JobSession, error)
}

// Pinger is implemented by stores that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}
