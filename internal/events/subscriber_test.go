package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mtr002/jobpulse/internal/interfaces"
	"github.com/mtr002/jobpulse/internal/metrics"
)

type notification struct {
	ownerID string
	payload PushMessage
}

type recordingNotifier struct {
	mu      sync.Mutex
	failFor string
	got     chan notification
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{got: make(chan notification, 16)}
}

func (n *recordingNotifier) Notify(ownerID string, payload any) error {
	n.mu.Lock()
	fail := n.failFor == ownerID
	n.mu.Unlock()
	if fail {
		return errors.New("registry unavailable")
	}
	n.got <- notification{ownerID: ownerID, payload: payload.(PushMessage)}
	return nil
}

func (n *recordingNotifier) next(t *testing.T) notification {
	t.Helper()
	select {
	case got := <-n.got:
		return got
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
	return notification{}
}

func startSubscriber(t *testing.T, bus *MemoryBus, n Notifier) *Subscriber {
	t.Helper()
	s := NewSubscriber(bus.Dialer(), n)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { s.Stop(context.Background()) })
	return s
}

func TestSubscriberDispatchesPublishedEvents(t *testing.T) {
	bus := NewMemoryBus()
	n := newRecordingNotifier()
	startSubscriber(t, bus, n)

	p := NewPublisher(bus.Dialer())
	defer p.Close()

	evt := StatusEvent{OwnerID: "U1", JobID: "J1", Status: interfaces.StatusCompleted, Message: "done"}
	if err := p.Publish(context.Background(), evt); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	got := n.next(t)
	if got.ownerID != "U1" {
		t.Errorf("owner = %q, want U1", got.ownerID)
	}
	want := PushMessage{JobID: "J1", Status: interfaces.StatusCompleted, Message: "done"}
	if got.payload != want {
		t.Errorf("payload = %+v, want %+v", got.payload, want)
	}
}

func TestSubscriberSkipsBadMessagesAndKeepsListening(t *testing.T) {
	bus := NewMemoryBus()
	n := newRecordingNotifier()
	n.failFor = "broken"
	startSubscriber(t, bus, n)

	client, _ := bus.Dialer()(context.Background())
	defer client.Close()

	payloads := []string{
		`garbage`,
		`{"type":"something_else","owner_id":"U1","job_id":"J0","status":"PENDING"}`,
		`{"type":"job_status_update","job_id":"J0","status":"PENDING"}`,
		`{"type":"job_status_update","owner_id":"broken","job_id":"J0","status":"PENDING"}`,
		`{"type":"job_status_update","owner_id":"U1","job_id":"J1","status":"PROCESSING"}`,
	}
	for _, p := range payloads {
		if err := client.Publish(context.Background(), Channel, []byte(p)); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	got := n.next(t)
	if got.payload.JobID != "J1" {
		t.Fatalf("first dispatched job = %q, want J1", got.payload.JobID)
	}
	select {
	case extra := <-n.got:
		t.Errorf("unexpected notification %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscriberLifecycle(t *testing.T) {
	bus := NewMemoryBus()
	s := NewSubscriber(bus.Dialer(), newRecordingNotifier())

	if s.State() != StateStopped {
		t.Fatalf("initial state = %s, want stopped", s.State())
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop on stopped subscriber: %v", err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if s.State() != StateListening {
		t.Errorf("state = %s, want listening", s.State())
	}
	if got := bus.Subscribers(Channel); got != 1 {
		t.Errorf("subscriptions = %d, want 1 after double Start", got)
	}

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.State() != StateStopped {
		t.Errorf("state = %s, want stopped", s.State())
	}
	if got := bus.Subscribers(Channel); got != 0 {
		t.Errorf("subscriptions = %d, want 0 after Stop", got)
	}

	// restartable
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	s.Stop(context.Background())
}

func TestSubscriberStartDialFailure(t *testing.T) {
	s := NewSubscriber(func(context.Context) (Client, error) {
		return nil, errors.New("connection refused")
	}, newRecordingNotifier())

	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected Start to fail")
	}
	if s.State() != StateStopped {
		t.Errorf("state = %s, want stopped", s.State())
	}
}

func waitForState(t *testing.T, s *Subscriber, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("state = %s, want %s", s.State(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// dropSubscription ends the live subscription the way a lost connection does
func dropSubscription(s *Subscriber) {
	s.mu.Lock()
	sub := s.sub
	s.mu.Unlock()
	sub.Close()
}

func TestSubscriberRestartsAfterSubscriptionEnds(t *testing.T) {
	bus := NewMemoryBus()
	n := newRecordingNotifier()
	s := startSubscriber(t, bus, n)

	dropSubscription(s)
	waitForState(t, s, StateStopped)
	if got := bus.Subscribers(Channel); got != 0 {
		t.Fatalf("subscriptions = %d after loop exit", got)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start after loop exit: %v", err)
	}
	if s.State() != StateListening {
		t.Fatalf("state = %s, want listening", s.State())
	}

	client, _ := bus.Dialer()(context.Background())
	defer client.Close()
	raw := `{"type":"job_status_update","owner_id":"U1","job_id":"J1","status":"COMPLETED"}`
	if err := client.Publish(context.Background(), Channel, []byte(raw)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if got := n.next(t); got.ownerID != "U1" || got.payload.JobID != "J1" {
		t.Errorf("notification = %+v", got)
	}
}

func TestSupervisorRestartsSubscriber(t *testing.T) {
	bus := NewMemoryBus()
	n := newRecordingNotifier()
	s := startSubscriber(t, bus, n)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Supervise(ctx, 10*time.Millisecond)

	dropSubscription(s)
	deadline := time.Now().Add(2 * time.Second)
	for bus.Subscribers(Channel) != 1 || s.State() != StateListening {
		if time.Now().After(deadline) {
			t.Fatalf("not resubscribed: state = %s", s.State())
		}
		time.Sleep(5 * time.Millisecond)
	}

	client, _ := bus.Dialer()(context.Background())
	defer client.Close()
	raw := `{"type":"job_status_update","owner_id":"U2","job_id":"J2","status":"FAILED"}`
	client.Publish(context.Background(), Channel, []byte(raw))
	if got := n.next(t); got.payload.JobID != "J2" {
		t.Errorf("notification = %+v", got)
	}
}

func TestSubscriberCountsForeignMessagesApartFromMalformed(t *testing.T) {
	bus := NewMemoryBus()
	n := newRecordingNotifier()
	startSubscriber(t, bus, n)

	wrongType := metrics.EventsReceivedTotal.WithLabelValues("wrong_type")
	malformed := metrics.EventsReceivedTotal.WithLabelValues("malformed")
	wrongBefore, malformedBefore := testutil.ToFloat64(wrongType), testutil.ToFloat64(malformed)

	client, _ := bus.Dialer()(context.Background())
	defer client.Close()
	for _, p := range []string{
		`{"type":"job_progress","owner_id":"U1","job_id":"J1","status":"PROCESSING"}`,
		`{"type":"job_status_update","owner_id":"U1","job_id":"J1","status":"COMPLETED"}`,
	} {
		if err := client.Publish(context.Background(), Channel, []byte(p)); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	if got := n.next(t); got.payload.JobID != "J1" {
		t.Fatalf("dispatched %+v", got)
	}
	if d := testutil.ToFloat64(wrongType) - wrongBefore; d != 1 {
		t.Errorf("wrong_type grew by %v, want 1", d)
	}
	if d := testutil.ToFloat64(malformed) - malformedBefore; d != 0 {
		t.Errorf("malformed grew by %v, want 0", d)
	}
}
