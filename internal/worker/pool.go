package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/mtr002/jobpulse/internal/events"
	"github.com/mtr002/jobpulse/internal/interfaces"
	"github.com/mtr002/jobpulse/internal/jobs"
	"github.com/mtr002/jobpulse/internal/logger"
	"github.com/mtr002/jobpulse/internal/metrics"
	"github.com/mtr002/jobpulse/internal/queue"
)

// ErrPoolStopped is returned by Submit when the pool is not running
var ErrPoolStopped = errors.New("worker pool stopped")

// Runner executes one task; *Executor implements it
type Runner interface {
	Execute(ctx context.Context, jobID string, task queue.Task) (Outcome, error)
}

// Pool represents a worker pool that executes deliveries from a queue consumer
type Pool struct {
	runner      Runner
	workerCount int
	deliveries  chan queue.Delivery

	mu      sync.Mutex
	running bool
	scope   string
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPool creates a stopped pool with workerCount goroutines once started
func NewPool(runner Runner, workerCount int) *Pool {
	if workerCount <= 0 {
		workerCount = 1
	}
	return &Pool{
		runner:      runner,
		workerCount: workerCount,
		deliveries:  make(chan queue.Delivery),
	}
}

// Start begins processing deliveries. Every start opens a new execution
// scope, so event clients from a previous run are never reused.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}

	p.scope = uuid.New().String()
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.running = true

	logger.Logger.Info().Int("worker_count", p.workerCount).Str("scope", p.scope).Msg("Starting worker pool")
	metrics.ActiveWorkers.Set(float64(p.workerCount))

	runCtx := events.WithScope(context.Background(), p.scope)
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i, p.ctx, runCtx)
	}
}

// Stop stops accepting deliveries and waits for in-flight executions. An
// execution is bounded by the executor's hard deadline.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	logger.Logger.Info().Msg("Stopping worker pool")
	p.wg.Wait()
	metrics.ActiveWorkers.Set(0)
	logger.Logger.Info().Msg("Worker pool stopped")
}

// Scope returns the execution scope of the current run
func (p *Pool) Scope() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scope
}

// Submit hands a delivery to an idle worker, blocking until one is free,
// ctx is done, or the pool stops.
func (p *Pool) Submit(ctx context.Context, d queue.Delivery) error {
	p.mu.Lock()
	running, poolCtx := p.running, p.ctx
	p.mu.Unlock()
	if !running {
		return ErrPoolStopped
	}

	select {
	case p.deliveries <- d:
		return nil
	case <-poolCtx.Done():
		return ErrPoolStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// worker executes deliveries until the pool is stopped
func (p *Pool) worker(id int, ctx, runCtx context.Context) {
	defer p.wg.Done()

	logger.Logger.Info().Int("worker_id", id).Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Logger.Info().Int("worker_id", id).Msg("Worker shutting down")
			return
		case d := <-p.deliveries:
			p.process(id, runCtx, d)
		}
	}
}

func (p *Pool) process(workerID int, ctx context.Context, d queue.Delivery) {
	log := logger.WithJobID(d.Task.JobID)
	log.Info().Int("worker_id", workerID).Str("type", d.Task.JobType).Msg("Processing job")

	outcome, err := p.runner.Execute(ctx, d.Task.JobID, d.Task)

	ok, requeue := settlement(err)
	if err != nil {
		log.Error().Int("worker_id", workerID).Err(err).Bool("requeue", requeue).Msg("Job execution ended with error")
	} else {
		log.Info().Int("worker_id", workerID).Str("status", string(outcome.Status)).Msg("Job execution finished")
	}

	if serr := d.Settle(ok, requeue); serr != nil {
		log.Warn().Err(serr).Msg("Failed to settle delivery")
	}
}

// settlement decides how a delivery is acknowledged. Errors that a retry
// cannot fix are acked; store or session failures are requeued.
func settlement(err error) (ok, requeue bool) {
	switch {
	case err == nil:
		return true, false
	case errors.Is(err, interfaces.ErrJobNotFound),
		errors.Is(err, jobs.ErrInvalidTransition),
		errors.Is(err, jobs.ErrUnknownJobType),
		errors.Is(err, ErrHardTimeout):
		return true, false
	default:
		return false, true
	}
}
