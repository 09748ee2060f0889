package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mtr002/jobpulse/internal/events"
	"github.com/mtr002/jobpulse/internal/interfaces"
)

type fakeConn struct {
	mu       sync.Mutex
	fail     bool
	received [][]byte
	closed   bool
	notify   chan []byte
}

func newFakeConn(fail bool) *fakeConn {
	return &fakeConn{fail: fail, notify: make(chan []byte, 8)}
}

func (c *fakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("broken pipe")
	}
	c.received = append(c.received, data)
	c.notify <- data
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.received)
}

func TestNotifyIsolatesFailingConnection(t *testing.T) {
	r := NewRegistry()
	conns := []*fakeConn{newFakeConn(false), newFakeConn(false), newFakeConn(true), newFakeConn(false)}
	for _, c := range conns {
		r.Register("U1", c)
	}

	if err := r.Notify("U1", map[string]string{"job_id": "J1"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	for i, c := range conns {
		if c.fail {
			if !c.closed {
				t.Errorf("failing connection %d was not closed", i)
			}
			continue
		}
		if c.count() != 1 {
			t.Errorf("connection %d received %d messages, want 1", i, c.count())
		}
	}
	if got := r.Count("U1"); got != 3 {
		t.Errorf("registered = %d, want 3 after pruning", got)
	}

	// pruned connection no longer receives
	r.Notify("U1", map[string]string{"job_id": "J2"})
	if got := r.Count("U1"); got != 3 {
		t.Errorf("registered = %d after second notify", got)
	}
}

func TestNotifyWithoutConnections(t *testing.T) {
	r := NewRegistry()
	if err := r.Notify("nobody", map[string]string{"a": "b"}); err != nil {
		t.Errorf("Notify with no connections = %v", err)
	}
}

func TestNotifyUnencodablePayload(t *testing.T) {
	r := NewRegistry()
	r.Register("U1", newFakeConn(false))
	if err := r.Notify("U1", make(chan int)); err == nil {
		t.Error("expected an encoding error")
	}
}

func TestRegisterUnregister(t *testing.T) {
	r := NewRegistry()
	a, b := newFakeConn(false), newFakeConn(false)

	r.Register("U1", a)
	r.Register("U1", a)
	r.Register("U1", b)
	if got := r.Count("U1"); got != 2 {
		t.Fatalf("count = %d, want 2", got)
	}

	r.Unregister("U1", a)
	r.Unregister("U1", a)
	r.Unregister("U2", b)
	if got := r.Count("U1"); got != 1 {
		t.Errorf("count = %d, want 1", got)
	}

	r.CloseAll()
	if !b.closed || r.Count("U1") != 0 {
		t.Error("CloseAll left connections behind")
	}
}

func TestSubscriberFanOutByOwner(t *testing.T) {
	bus := events.NewMemoryBus()
	r := NewRegistry()
	u1a, u1b, other := newFakeConn(false), newFakeConn(false), newFakeConn(false)
	r.Register("U1", u1a)
	r.Register("U1", u1b)
	r.Register("U2", other)

	sub := events.NewSubscriber(bus.Dialer(), r)
	if err := sub.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sub.Stop(context.Background())

	client, _ := bus.Dialer()(context.Background())
	defer client.Close()
	raw := `{"type":"job_status_update","owner_id":"U1","job_id":"J1","status":"COMPLETED"}`
	if err := client.Publish(context.Background(), events.Channel, []byte(raw)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	for _, c := range []*fakeConn{u1a, u1b} {
		select {
		case data := <-c.notify:
			var msg events.PushMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				t.Fatalf("bad push %s: %v", data, err)
			}
			if msg.JobID != "J1" || msg.Status != interfaces.StatusCompleted {
				t.Errorf("push = %+v", msg)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("connection of U1 never received the event")
		}
	}

	select {
	case data := <-other.notify:
		t.Errorf("other owner received %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}
