package app

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mtr002/jobpulse/internal/config"
	"github.com/mtr002/jobpulse/internal/events"
	"github.com/mtr002/jobpulse/internal/interfaces"
	"github.com/mtr002/jobpulse/internal/jobs"
	"github.com/mtr002/jobpulse/internal/websocket"
)

type pushConn struct{ msgs chan []byte }

func (c *pushConn) Send(data []byte) error {
	c.msgs <- data
	return nil
}

func (c *pushConn) Close() error { return nil }

// TestSingleProcessPipeline drives a job from submission to a pushed
// COMPLETED status with every backend in memory
func TestSingleProcessPipeline(t *testing.T) {
	ctx := context.Background()

	store, closeStore, err := OpenStore(ctx, config.StoreConfig{Backend: "memory"})
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer closeStore()

	producer, err := OpenProducer(config.QueueConfig{Backend: "memory"}, "test")
	if err != nil {
		t.Fatalf("OpenProducer: %v", err)
	}
	defer producer.Close()

	bus := events.NewMemoryBus()
	dial, err := EventDialer(config.EventsConfig{Backend: "memory"}, "test", bus)
	if err != nil {
		t.Fatalf("EventDialer: %v", err)
	}

	registry := JobTypes(nil)
	rt, err := NewRuntime(store, registry, dial, config.WorkerConfig{
		Count:        2,
		SoftDeadline: time.Second,
		HardDeadline: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	rt.Start()
	defer rt.Stop()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go producer.Local.Run(runCtx, rt.Pool)

	connections := websocket.NewRegistry()
	conn := &pushConn{msgs: make(chan []byte, 8)}
	connections.Register("U1", conn)

	sub := events.NewSubscriber(dial, connections)
	if err := sub.Start(ctx); err != nil {
		t.Fatalf("subscriber Start: %v", err)
	}
	defer sub.Stop(ctx)

	manager := jobs.NewManager(store, producer, registry)
	job, err := manager.SubmitJob(ctx, "U1", "uppercase", map[string]any{"text": "hi"})
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}

	var seen []interfaces.JobStatus
	deadline := time.After(3 * time.Second)
	for len(seen) == 0 || seen[len(seen)-1] != interfaces.StatusCompleted {
		select {
		case data := <-conn.msgs:
			var msg events.PushMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				t.Fatalf("bad push %s: %v", data, err)
			}
			if msg.JobID != job.ID {
				t.Fatalf("push for job %s, want %s", msg.JobID, job.ID)
			}
			seen = append(seen, msg.Status)
		case <-deadline:
			t.Fatalf("statuses pushed = %v, never COMPLETED", seen)
		}
	}
	if len(seen) != 2 || seen[0] != interfaces.StatusProcessing {
		t.Errorf("pushed statuses = %v", seen)
	}

	got, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != interfaces.StatusCompleted || got.OutputData["text"] != "HI" {
		t.Errorf("stored job = %+v", got)
	}
}

func TestBackendSelectionErrors(t *testing.T) {
	ctx := context.Background()
	if _, _, err := OpenStore(ctx, config.StoreConfig{Backend: "sqlite"}); err == nil {
		t.Error("unknown store backend accepted")
	}
	if _, err := OpenProducer(config.QueueConfig{Backend: "kafka"}, "test"); err == nil {
		t.Error("unknown queue backend accepted")
	}
	if _, err := EventDialer(config.EventsConfig{Backend: "memory"}, "test", nil); err == nil {
		t.Error("memory events without a bus accepted")
	}
	if _, _, err := StartConsumer(ctx, config.QueueConfig{Backend: "memory"}, "test", nil); err == nil {
		t.Error("memory queue has no standalone consumer")
	}
}

func TestOptionalBackendsDisabled(t *testing.T) {
	ctx := context.Background()
	if a, err := Artifacts(ctx, config.StorageConfig{}); a != nil || err != nil {
		t.Errorf("Artifacts disabled = %v, %v", a, err)
	}
	l, closeFn, err := Limiter(ctx, config.RateLimitConfig{})
	if l != nil || err != nil {
		t.Errorf("Limiter disabled = %v, %v", l, err)
	}
	closeFn()

	if JobTypes(nil).Has("report") {
		t.Error("report registered without object storage")
	}

	v, err := Verifier(config.AuthConfig{DevMode: true})
	if err != nil {
		t.Fatalf("Verifier: %v", err)
	}
	if owner, err := v.Verify("dev_anything"); err != nil || owner != "dev_user" {
		t.Errorf("dev verify = %q, %v", owner, err)
	}
	if _, err := Verifier(config.AuthConfig{}); err == nil {
		t.Error("empty jwt secret accepted")
	}
}
