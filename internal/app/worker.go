package app

import (
	"github.com/mtr002/jobpulse/internal/config"
	"github.com/mtr002/jobpulse/internal/events"
	"github.com/mtr002/jobpulse/internal/interfaces"
	"github.com/mtr002/jobpulse/internal/storage"
	"github.com/mtr002/jobpulse/internal/worker"
)

// JobTypes builds the work-function registry. artifacts may be nil.
func JobTypes(artifacts *storage.MinioStore) *worker.Registry {
	r := worker.NewRegistry()
	// a nil *MinioStore must not reach RegisterBuiltins as a non-nil interface
	if artifacts != nil {
		worker.RegisterBuiltins(r, artifacts)
	} else {
		worker.RegisterBuiltins(r, nil)
	}
	return r
}

// Runtime is the execution side: executor, pool and the event publisher
// they report through
type Runtime struct {
	Registry  *worker.Registry
	Pool      *worker.Pool
	Publisher *events.Publisher
}

func NewRuntime(sessions interfaces.SessionProvider, registry *worker.Registry, dial events.Dialer, cfg config.WorkerConfig) (*Runtime, error) {
	publisher := events.NewPublisher(dial)
	executor, err := worker.NewExecutor(sessions, registry, publisher, cfg.SoftDeadline, cfg.HardDeadline)
	if err != nil {
		return nil, err
	}
	return &Runtime{
		Registry:  registry,
		Pool:      worker.NewPool(executor, cfg.Count),
		Publisher: publisher,
	}, nil
}

func (r *Runtime) Start() { r.Pool.Start() }

// Stop waits for in-flight executions, which are bounded by the hard deadline
func (r *Runtime) Stop() {
	r.Pool.Stop()
	r.Publisher.Close()
}
