package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mtr002/jobpulse/internal/events"
	"github.com/mtr002/jobpulse/internal/interfaces"
	"github.com/mtr002/jobpulse/internal/jobs"
	"github.com/mtr002/jobpulse/internal/logger"
	"github.com/mtr002/jobpulse/internal/metrics"
	"github.com/mtr002/jobpulse/internal/queue"
)

var (
	// ErrSoftTimeout marks a run that outlived its soft deadline
	ErrSoftTimeout = errors.New("soft deadline exceeded")
	// ErrHardTimeout is returned when the executor gave up waiting on a run.
	// The job is left PROCESSING.
	ErrHardTimeout = errors.New("hard deadline exceeded")
)

// EventPublisher sends status events; failures are logged, never fatal
type EventPublisher interface {
	Publish(ctx context.Context, evt events.StatusEvent) error
}

// Outcome is the classified result of one execution
type Outcome struct {
	Status   interfaces.JobStatus
	Reason   string
	TimedOut bool
}

// Executor runs one task at a time against a scoped store session
type Executor struct {
	sessions  interfaces.SessionProvider
	registry  *Registry
	publisher EventPublisher
	soft      time.Duration
	hard      time.Duration
	now       func() time.Time
}

// NewExecutor validates the deadlines: 0 < soft < hard
func NewExecutor(sessions interfaces.SessionProvider, registry *Registry, publisher EventPublisher, soft, hard time.Duration) (*Executor, error) {
	if soft <= 0 || hard <= soft {
		return nil, fmt.Errorf("invalid deadlines: soft %s must be positive and below hard %s", soft, hard)
	}
	return &Executor{
		sessions:  sessions,
		registry:  registry,
		publisher: publisher,
		soft:      soft,
		hard:      hard,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// TimeoutMessage is the error message stored on a soft timeout
func (e *Executor) TimeoutMessage() string {
	return "Timed out after " + strconv.FormatFloat(e.soft.Seconds(), 'f', -1, 64) + "s"
}

// Execute drives job jobID through PROCESSING to a terminal state.
func (e *Executor) Execute(ctx context.Context, jobID string, task queue.Task) (Outcome, error) {
	log := logger.WithJobID(jobID)

	session, err := e.sessions.Session(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to open store session: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to release store session")
		}
	}()

	job, err := session.GetByID(ctx, jobID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load job %s: %w", jobID, err)
	}

	if task.JobType != "" && task.JobType != job.JobType {
		log.Warn().Str("task_type", task.JobType).Str("job_type", job.JobType).Msg("Task type differs from stored job, using stored")
	}

	fn, err := e.registry.Lookup(job.JobType)
	if err != nil {
		log.Error().Err(err).Msg("No work function for job")
		return Outcome{Status: job.Status}, err
	}

	job, err = e.advance(ctx, session, job, interfaces.StatusProcessing, jobs.Fields{}, "Job started")
	if err != nil {
		if errors.Is(err, jobs.ErrInvalidTransition) {
			log.Warn().Err(err).Msg("Skipping job that cannot enter PROCESSING")
		}
		return Outcome{}, err
	}

	start := time.Now()
	result, runErr := e.run(ctx, fn, job.InputData)
	metrics.JobProcessingDuration.Observe(time.Since(start).Seconds())

	switch {
	case errors.Is(runErr, ErrHardTimeout):
		metrics.JobTimeoutsTotal.WithLabelValues("hard").Inc()
		log.Error().Dur("hard_deadline", e.hard).Msg("Hard deadline reached, job left PROCESSING")
		return Outcome{Status: interfaces.StatusProcessing, Reason: runErr.Error(), TimedOut: true}, ErrHardTimeout

	case errors.Is(runErr, ErrSoftTimeout):
		metrics.JobTimeoutsTotal.WithLabelValues("soft").Inc()
		msg := e.TimeoutMessage()
		log.Warn().Dur("soft_deadline", e.soft).Msg("Soft deadline exceeded")
		if _, err := e.advance(ctx, session, job, interfaces.StatusFailed, jobs.Fields{ErrorMessage: msg}, msg); err != nil {
			log.Error().Err(err).Msg("Could not mark timed out job as FAILED")
			return Outcome{Status: interfaces.StatusProcessing, Reason: msg, TimedOut: true}, nil
		}
		metrics.JobsFailedTotal.Inc()
		return Outcome{Status: interfaces.StatusFailed, Reason: msg, TimedOut: true}, nil

	case runErr != nil:
		return e.fail(ctx, session, job, runErr.Error())
	}

	if result == nil || (len(result.OutputData) == 0 && result.ArtifactURL == "") {
		return e.fail(ctx, session, job, "work function returned no output")
	}

	fields := jobs.Fields{OutputData: result.OutputData, ArtifactURL: result.ArtifactURL}
	if _, err := e.advance(ctx, session, job, interfaces.StatusCompleted, fields, "Job completed"); err != nil {
		log.Error().Err(err).Msg("Failed to mark job COMPLETED")
		return Outcome{Status: interfaces.StatusProcessing}, err
	}

	metrics.JobsCompletedTotal.Inc()
	log.Info().Str("type", job.JobType).Msg("Job completed")
	return Outcome{Status: interfaces.StatusCompleted}, nil
}

func (e *Executor) fail(ctx context.Context, store interfaces.JobStore, job *interfaces.Job, reason string) (Outcome, error) {
	log := logger.WithJobID(job.ID)
	if _, err := e.advance(ctx, store, job, interfaces.StatusFailed, jobs.Fields{ErrorMessage: reason}, reason); err != nil {
		log.Error().Err(err).Msg("Failed to mark job FAILED")
		return Outcome{Status: interfaces.StatusProcessing, Reason: reason}, err
	}
	metrics.JobsFailedTotal.Inc()
	log.Info().Str("error", reason).Msg("Job failed")
	return Outcome{Status: interfaces.StatusFailed, Reason: reason}, nil
}

// advance applies the transition, persists it and publishes the status when
// it changed
func (e *Executor) advance(ctx context.Context, store interfaces.JobStore, job *interfaces.Job, to interfaces.JobStatus, f jobs.Fields, message string) (*interfaces.Job, error) {
	next, err := jobs.Transition(job, to, f, e.now())
	if err != nil {
		return nil, err
	}

	saved, err := store.Update(ctx, job.ID, jobs.UpdateFor(next))
	if err != nil {
		return nil, fmt.Errorf("persist %s: %w", to, err)
	}

	// a redelivered PROCESSING job was already announced
	if e.publisher != nil && job.Status != saved.Status {
		// errors are logged by the publisher; the transition already stands
		_ = e.publisher.Publish(ctx, events.NewStatusEvent(saved, message))
	}
	return saved, nil
}

type runResult struct {
	res *Result
	err error
}

// run calls fn with a context cancelled at the soft deadline. If fn has not
// returned by the hard deadline it is abandoned.
func (e *Executor) run(ctx context.Context, fn WorkFunc, input map[string]any) (*Result, error) {
	softCtx, cancel := context.WithTimeout(ctx, e.soft)
	defer cancel()

	done := make(chan runResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- runResult{err: fmt.Errorf("work function panicked: %v", r)}
			}
		}()
		res, err := fn(softCtx, input)
		done <- runResult{res: res, err: err}
	}()

	hard := time.NewTimer(e.hard)
	defer hard.Stop()

	select {
	case r := <-done:
		if errors.Is(softCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, ErrSoftTimeout
		}
		return r.res, r.err
	case <-hard.C:
		return nil, ErrHardTimeout
	}
}
