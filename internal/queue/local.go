package queue

import (
	"context"
	"sync"

	"github.com/mtr002/jobpulse/internal/logger"
)

// Local is an in-process queue for single-binary deployments. Tasks are
// buffered and forwarded to a Sink by Run.
type Local struct {
	mu     sync.RWMutex
	tasks  chan Task
	closed bool
}

func NewLocal(buffer int) *Local {
	if buffer <= 0 {
		buffer = 128
	}
	return &Local{tasks: make(chan Task, buffer)}
}

// Enqueue blocks while the buffer is full, until ctx is done.
func (l *Local) Enqueue(ctx context.Context, jobID string, task Task) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}

	task.JobID = jobID
	select {
	case l.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run forwards tasks to sink until ctx is cancelled or the queue is closed.
func (l *Local) Run(ctx context.Context, sink Sink) {
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-l.tasks:
			if !ok {
				return
			}
			if err := sink.Submit(ctx, Delivery{Task: task}); err != nil {
				logger.WithJobID(task.JobID).Error().Err(err).Msg("Worker pool rejected task")
			}
		}
	}
}

// Close stops accepting tasks. Buffered tasks are still drained by Run.
func (l *Local) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.tasks)
	}
}
