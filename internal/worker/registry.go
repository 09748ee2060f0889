package worker

import (
	"context"
	"fmt"
	"sort"

	"github.com/mtr002/jobpulse/internal/jobs"
)

// Result is what a work function produces on success. At least one of
// OutputData or ArtifactURL must be set.
type Result struct {
	OutputData  map[string]any
	ArtifactURL string
}

// WorkFunc runs one job. ctx is cancelled at the soft deadline and the
// function is expected to return promptly when it is.
type WorkFunc func(ctx context.Context, input map[string]any) (*Result, error)

// Registry maps job types to work functions. It is filled at startup and
// read-only afterwards.
type Registry struct {
	funcs map[string]WorkFunc
}

func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]WorkFunc)}
}

// Register adds fn under jobType, replacing any previous entry
func (r *Registry) Register(jobType string, fn WorkFunc) {
	r.funcs[jobType] = fn
}

// Has reports whether jobType can be executed
func (r *Registry) Has(jobType string) bool {
	_, ok := r.funcs[jobType]
	return ok
}

// Lookup returns the work function for jobType or jobs.ErrUnknownJobType
func (r *Registry) Lookup(jobType string) (WorkFunc, error) {
	fn, ok := r.funcs[jobType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", jobs.ErrUnknownJobType, jobType)
	}
	return fn, nil
}

// Types lists registered job types in sorted order
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.funcs))
	for t := range r.funcs {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
