package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mtr002/jobpulse/internal/db"
	"github.com/mtr002/jobpulse/internal/events"
	"github.com/mtr002/jobpulse/internal/interfaces"
	"github.com/mtr002/jobpulse/internal/jobs"
	"github.com/mtr002/jobpulse/internal/queue"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.StatusEvent
}

func (p *recordingPublisher) Publish(_ context.Context, evt events.StatusEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) statuses() []interfaces.JobStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]interfaces.JobStatus, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Status)
	}
	return out
}

type fixture struct {
	store    *db.MemoryStore
	registry *Registry
	pub      *recordingPublisher
	exec     *Executor
}

func newFixture(t *testing.T, soft, hard time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		store:    db.NewMemoryStore(),
		registry: NewRegistry(),
		pub:      &recordingPublisher{},
	}
	exec, err := NewExecutor(f.store, f.registry, f.pub, soft, hard)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	f.exec = exec
	return f
}

func (f *fixture) createJob(t *testing.T, owner, jobType string, input map[string]any) *interfaces.Job {
	t.Helper()
	job, err := f.store.Create(context.Background(), &interfaces.JobCreate{OwnerID: owner, JobType: jobType, InputData: input})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return job
}

func (f *fixture) execute(t *testing.T, job *interfaces.Job) (Outcome, error) {
	t.Helper()
	return f.exec.Execute(context.Background(), job.ID, queue.Task{JobID: job.ID, JobType: job.JobType, InputData: job.InputData})
}

func (f *fixture) reload(t *testing.T, id string) *interfaces.Job {
	t.Helper()
	job, err := f.store.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	return job
}

func (f *fixture) assertSessionsClosed(t *testing.T) {
	t.Helper()
	if n := f.store.OpenSessions(); n != 0 {
		t.Errorf("open sessions = %d, want 0", n)
	}
}

func equalStatuses(got, want []interfaces.JobStatus) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestExecuteCompletes(t *testing.T) {
	f := newFixture(t, time.Second, 2*time.Second)
	f.registry.Register("X", func(context.Context, map[string]any) (*Result, error) {
		return &Result{OutputData: map[string]any{"n": 42}}, nil
	})
	job := f.createJob(t, "U1", "X", nil)

	outcome, err := f.execute(t, job)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome.Status != interfaces.StatusCompleted {
		t.Errorf("outcome = %+v, want COMPLETED", outcome)
	}

	got := f.reload(t, job.ID)
	if got.Status != interfaces.StatusCompleted {
		t.Errorf("status = %s, want COMPLETED", got.Status)
	}
	if got.OutputData["n"] != 42 {
		t.Errorf("output = %v, want n=42", got.OutputData)
	}
	if got.StartedAt == nil || got.CompletedAt == nil {
		t.Fatalf("timestamps not set: started=%v completed=%v", got.StartedAt, got.CompletedAt)
	}
	if got.CompletedAt.Before(*got.StartedAt) {
		t.Errorf("completed_at %v before started_at %v", got.CompletedAt, got.StartedAt)
	}
	if got.ErrorMessage != "" {
		t.Errorf("error_message = %q, want empty", got.ErrorMessage)
	}

	want := []interfaces.JobStatus{interfaces.StatusProcessing, interfaces.StatusCompleted}
	if s := f.pub.statuses(); !equalStatuses(s, want) {
		t.Errorf("published %v, want %v", s, want)
	}
	if f.pub.events[0].OwnerID != "U1" || f.pub.events[0].JobID != job.ID {
		t.Errorf("event addressing = %+v", f.pub.events[0])
	}
	f.assertSessionsClosed(t)
}

func TestExecuteWorkError(t *testing.T) {
	f := newFixture(t, time.Second, 2*time.Second)
	f.registry.Register("X", func(context.Context, map[string]any) (*Result, error) {
		return nil, errors.New("boom")
	})
	job := f.createJob(t, "U1", "X", nil)

	outcome, err := f.execute(t, job)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome.Status != interfaces.StatusFailed || outcome.Reason != "boom" {
		t.Errorf("outcome = %+v", outcome)
	}

	got := f.reload(t, job.ID)
	if got.Status != interfaces.StatusFailed || got.ErrorMessage != "boom" {
		t.Errorf("job = %s %q, want FAILED boom", got.Status, got.ErrorMessage)
	}
	if got.OutputData != nil {
		t.Errorf("output = %v, want unset", got.OutputData)
	}

	want := []interfaces.JobStatus{interfaces.StatusProcessing, interfaces.StatusFailed}
	if s := f.pub.statuses(); !equalStatuses(s, want) {
		t.Errorf("published %v, want %v", s, want)
	}
	f.assertSessionsClosed(t)
}

func TestExecuteSoftTimeout(t *testing.T) {
	soft, hard := 50*time.Millisecond, time.Second
	f := newFixture(t, soft, hard)
	f.registry.Register("X", func(ctx context.Context, _ map[string]any) (*Result, error) {
		if err := sleep(ctx, 10*time.Second); err != nil {
			return nil, err
		}
		return &Result{OutputData: map[string]any{"late": true}}, nil
	})
	job := f.createJob(t, "U1", "X", nil)

	start := time.Now()
	outcome, err := f.execute(t, job)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if elapsed > hard {
		t.Errorf("execution took %s, longer than the hard deadline", elapsed)
	}
	if !outcome.TimedOut || outcome.Status != interfaces.StatusFailed {
		t.Errorf("outcome = %+v", outcome)
	}

	got := f.reload(t, job.ID)
	if got.Status != interfaces.StatusFailed {
		t.Fatalf("status = %s, want FAILED", got.Status)
	}
	if got.ErrorMessage != "Timed out after 0.05s" {
		t.Errorf("error_message = %q", got.ErrorMessage)
	}
	f.assertSessionsClosed(t)
}

func TestExecuteSoftTimeoutIgnoredByFunction(t *testing.T) {
	f := newFixture(t, 30*time.Millisecond, time.Second)
	f.registry.Register("X", func(context.Context, map[string]any) (*Result, error) {
		time.Sleep(100 * time.Millisecond)
		return &Result{OutputData: map[string]any{"n": 1}}, nil
	})
	job := f.createJob(t, "U1", "X", nil)

	if _, err := f.execute(t, job); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	got := f.reload(t, job.ID)
	if got.Status != interfaces.StatusFailed || !strings.Contains(got.ErrorMessage, "Timed out after") {
		t.Errorf("job = %s %q, want timeout failure", got.Status, got.ErrorMessage)
	}
}

func TestExecuteHardTimeoutLeavesProcessing(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond, 80*time.Millisecond)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	f.registry.Register("X", func(context.Context, map[string]any) (*Result, error) {
		<-release
		return &Result{OutputData: map[string]any{"n": 1}}, nil
	})
	job := f.createJob(t, "U1", "X", nil)

	outcome, err := f.execute(t, job)
	if !errors.Is(err, ErrHardTimeout) {
		t.Fatalf("err = %v, want ErrHardTimeout", err)
	}
	if outcome.Status != interfaces.StatusProcessing {
		t.Errorf("outcome = %+v", outcome)
	}

	got := f.reload(t, job.ID)
	if got.Status != interfaces.StatusProcessing {
		t.Errorf("status = %s, want PROCESSING", got.Status)
	}
	want := []interfaces.JobStatus{interfaces.StatusProcessing}
	if s := f.pub.statuses(); !equalStatuses(s, want) {
		t.Errorf("published %v, want %v", s, want)
	}
	f.assertSessionsClosed(t)
}

func TestExecuteJobNotFound(t *testing.T) {
	f := newFixture(t, time.Second, 2*time.Second)

	_, err := f.exec.Execute(context.Background(), "missing", queue.Task{JobID: "missing", JobType: "X"})
	if !errors.Is(err, interfaces.ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
	if len(f.pub.statuses()) != 0 {
		t.Errorf("events published for a missing job")
	}
	f.assertSessionsClosed(t)
}

func TestExecuteUnknownType(t *testing.T) {
	f := newFixture(t, time.Second, 2*time.Second)
	job := f.createJob(t, "U1", "nope", nil)

	_, err := f.execute(t, job)
	if !errors.Is(err, jobs.ErrUnknownJobType) {
		t.Fatalf("err = %v, want ErrUnknownJobType", err)
	}
	if got := f.reload(t, job.ID); got.Status != interfaces.StatusPending {
		t.Errorf("status = %s, want PENDING", got.Status)
	}
	if len(f.pub.statuses()) != 0 {
		t.Errorf("events published for an unknown type")
	}
}

func TestExecuteRedeliveredTerminalJob(t *testing.T) {
	f := newFixture(t, time.Second, 2*time.Second)
	calls := 0
	f.registry.Register("X", func(context.Context, map[string]any) (*Result, error) {
		calls++
		return &Result{OutputData: map[string]any{"n": 1}}, nil
	})
	job := f.createJob(t, "U1", "X", nil)

	if _, err := f.execute(t, job); err != nil {
		t.Fatalf("first Execute: %v", err)
	}
	_, err := f.execute(t, job)
	if !errors.Is(err, jobs.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	if calls != 1 {
		t.Errorf("work function ran %d times, want 1", calls)
	}
	if got := f.reload(t, job.ID); got.Status != interfaces.StatusCompleted {
		t.Errorf("status = %s, want COMPLETED", got.Status)
	}
	if n := len(f.pub.statuses()); n != 2 {
		t.Errorf("published %d events, want 2", n)
	}
	f.assertSessionsClosed(t)
}

func TestExecuteRedeliveredProcessingJobKeepsStartedAt(t *testing.T) {
	f := newFixture(t, time.Second, 2*time.Second)
	f.registry.Register("X", func(context.Context, map[string]any) (*Result, error) {
		return &Result{OutputData: map[string]any{"n": 1}}, nil
	})
	job := f.createJob(t, "U1", "X", nil)

	started := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	processing := interfaces.StatusProcessing
	if _, err := f.store.Update(context.Background(), job.ID, &interfaces.JobUpdate{Status: &processing, StartedAt: &started}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if _, err := f.execute(t, job); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	got := f.reload(t, job.ID)
	if got.Status != interfaces.StatusCompleted {
		t.Errorf("status = %s, want COMPLETED", got.Status)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(started) {
		t.Errorf("started_at = %v, want %v", got.StartedAt, started)
	}
	if got := f.pub.statuses(); len(got) != 1 || got[0] != interfaces.StatusCompleted {
		t.Errorf("published %v, want only COMPLETED", got)
	}
}

func TestExecuteRecoversPanic(t *testing.T) {
	f := newFixture(t, time.Second, 2*time.Second)
	f.registry.Register("X", func(context.Context, map[string]any) (*Result, error) {
		panic("kaboom")
	})
	job := f.createJob(t, "U1", "X", nil)

	if _, err := f.execute(t, job); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	got := f.reload(t, job.ID)
	if got.Status != interfaces.StatusFailed || !strings.Contains(got.ErrorMessage, "kaboom") {
		t.Errorf("job = %s %q", got.Status, got.ErrorMessage)
	}
}

func TestExecuteEmptyResultFails(t *testing.T) {
	f := newFixture(t, time.Second, 2*time.Second)
	f.registry.Register("X", func(context.Context, map[string]any) (*Result, error) {
		return &Result{}, nil
	})
	job := f.createJob(t, "U1", "X", nil)

	if _, err := f.execute(t, job); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := f.reload(t, job.ID); got.Status != interfaces.StatusFailed {
		t.Errorf("status = %s, want FAILED", got.Status)
	}
}

// failingStore rejects FAILED writes so the soft-timeout path has to swallow
// the error.
type failingStore struct {
	*db.MemoryStore
}

func (s failingStore) Session(ctx context.Context) (interfaces.JobSession, error) {
	inner, err := s.MemoryStore.Session(ctx)
	if err != nil {
		return nil, err
	}
	return failingSession{inner}, nil
}

type failingSession struct {
	interfaces.JobSession
}

func (s failingSession) Update(ctx context.Context, id string, u *interfaces.JobUpdate) (*interfaces.Job, error) {
	if u.Status != nil && *u.Status == interfaces.StatusFailed {
		return nil, errors.New("store unavailable")
	}
	return s.JobSession.Update(ctx, id, u)
}

func TestExecuteSoftTimeoutWriteFailureIsSwallowed(t *testing.T) {
	store := db.NewMemoryStore()
	registry := NewRegistry()
	registry.Register("X", func(ctx context.Context, _ map[string]any) (*Result, error) {
		return nil, sleep(ctx, time.Second)
	})
	exec, err := NewExecutor(failingStore{store}, registry, nil, 20*time.Millisecond, time.Second)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}

	job, _ := store.Create(context.Background(), &interfaces.JobCreate{OwnerID: "U1", JobType: "X"})
	outcome, err := exec.Execute(context.Background(), job.ID, queue.Task{JobID: job.ID, JobType: "X"})
	if err != nil {
		t.Fatalf("Execute should swallow the write failure, got %v", err)
	}
	if outcome.Status != interfaces.StatusProcessing || !outcome.TimedOut {
		t.Errorf("outcome = %+v", outcome)
	}
	got, _ := store.GetByID(context.Background(), job.ID)
	if got.Status != interfaces.StatusProcessing {
		t.Errorf("status = %s, want PROCESSING", got.Status)
	}
	if n := store.OpenSessions(); n != 0 {
		t.Errorf("open sessions = %d, want 0", n)
	}
}

func TestNewExecutorRejectsBadDeadlines(t *testing.T) {
	tests := []struct {
		soft, hard time.Duration
	}{
		{0, time.Second},
		{time.Second, time.Second},
		{2 * time.Second, time.Second},
	}
	for _, tt := range tests {
		if _, err := NewExecutor(db.NewMemoryStore(), NewRegistry(), nil, tt.soft, tt.hard); err == nil {
			t.Errorf("NewExecutor(soft=%s, hard=%s) accepted invalid deadlines", tt.soft, tt.hard)
		}
	}
}

func TestTimeoutMessage(t *testing.T) {
	exec, err := NewExecutor(db.NewMemoryStore(), NewRegistry(), nil, 5*time.Second, 10*time.Second)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	if got := exec.TimeoutMessage(); got != "Timed out after 5s" {
		t.Errorf("TimeoutMessage() = %q", got)
	}
}
