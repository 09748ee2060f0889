package jobs

import (
	"errors"
	"fmt"
	"time"

	"github.com/mtr002/jobpulse/internal/interfaces"
)

// ErrInvalidTransition is returned when a status change is not allowed
var ErrInvalidTransition = errors.New("invalid job status transition")

// allowed lists the target statuses reachable from each status.
// PROCESSING -> PROCESSING is accepted so a redelivered task is idempotent.
var allowed = map[interfaces.JobStatus][]interfaces.JobStatus{
	interfaces.StatusPending:    {interfaces.StatusProcessing},
	interfaces.StatusProcessing: {interfaces.StatusProcessing, interfaces.StatusCompleted, interfaces.StatusFailed},
}

// Fields holds the values a transition may set.
type Fields struct {
	OutputData   map[string]any
	ArtifactURL  string
	ErrorMessage string
}

// CanTransition reports whether from -> to is in the allowed set.
func CanTransition(from, to interfaces.JobStatus) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition returns a copy of job moved to the target status. The input job
// is never modified.
func Transition(job *interfaces.Job, to interfaces.JobStatus, f Fields, now time.Time) (*interfaces.Job, error) {
	if job == nil {
		return nil, fmt.Errorf("%w: nil job", ErrInvalidTransition)
	}
	if !CanTransition(job.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, to)
	}

	next := job.Clone()
	next.Status = to

	switch to {
	case interfaces.StatusProcessing:
		if next.StartedAt == nil {
			t := now
			next.StartedAt = &t
		}

	case interfaces.StatusCompleted:
		if len(f.OutputData) == 0 && f.ArtifactURL == "" {
			return nil, fmt.Errorf("%w: completed job needs output data or artifact url", ErrInvalidTransition)
		}
		next.OutputData = f.OutputData
		next.ArtifactURL = f.ArtifactURL
		next.ErrorMessage = ""
		next.CompletedAt = completedAt(job, now)

	case interfaces.StatusFailed:
		if f.ErrorMessage == "" {
			return nil, fmt.Errorf("%w: failed job needs an error message", ErrInvalidTransition)
		}
		next.ErrorMessage = f.ErrorMessage
		next.OutputData = nil
		next.ArtifactURL = ""
		next.CompletedAt = completedAt(job, now)
	}

	next.UpdatedAt = now
	return next, nil
}

func completedAt(job *interfaces.Job, now time.Time) *time.Time {
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		return &t
	}
	t := now
	return &t
}

// UpdateFor builds the partial update that persists a transitioned job.
func UpdateFor(job *interfaces.Job) *interfaces.JobUpdate {
	status := job.Status
	u := &interfaces.JobUpdate{
		Status:    &status,
		StartedAt: job.StartedAt,
	}

	switch job.Status {
	case interfaces.StatusCompleted:
		u.OutputData = job.OutputData
		if job.ArtifactURL != "" {
			url := job.ArtifactURL
			u.ArtifactURL = &url
		}
		u.CompletedAt = job.CompletedAt
	case interfaces.StatusFailed:
		msg := job.ErrorMessage
		u.ErrorMessage = &msg
		u.CompletedAt = job.CompletedAt
	}

	return u
}
