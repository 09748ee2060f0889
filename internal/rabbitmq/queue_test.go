package rabbitmq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/mtr002/jobpulse/internal/queue"
)

type fakeChannel struct {
	closed    bool
	failNext  error
	published []amqp.Publishing
}

func (c *fakeChannel) PublishWithContext(_ context.Context, _, _ string, _, _ bool, msg amqp.Publishing) error {
	if c.failNext != nil {
		err := c.failNext
		c.failNext = nil
		c.closed = true
		return err
	}
	c.published = append(c.published, msg)
	return nil
}

func (c *fakeChannel) IsClosed() bool { return c.closed }
func (c *fakeChannel) Close() error   { c.closed = true; return nil }

func newTestPublisher(channels ...*fakeChannel) (*Publisher, *int) {
	opened := 0
	p := &Publisher{
		queue: queue.Name,
		open: func() (publishChannel, error) {
			if opened >= len(channels) {
				return nil, errors.New("broker unreachable")
			}
			ch := channels[opened]
			opened++
			return ch, nil
		},
	}
	return p, &opened
}

func TestPublisherRedialsClosedChannel(t *testing.T) {
	first, second := &fakeChannel{}, &fakeChannel{}
	p, opened := newTestPublisher(first, second)
	ctx := context.Background()

	if err := p.Enqueue(ctx, "J1", queue.Task{JobID: "J1", JobType: "echo"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	first.closed = true // broker restarted

	if err := p.Enqueue(ctx, "J2", queue.Task{JobID: "J2", JobType: "echo"}); err != nil {
		t.Fatalf("Enqueue after broker restart: %v", err)
	}
	if *opened != 2 {
		t.Errorf("opened %d channels, want 2", *opened)
	}
	if len(second.published) != 1 || second.published[0].MessageId != "J2" {
		t.Errorf("second channel published %+v", second.published)
	}
	if second.published[0].DeliveryMode != amqp.Persistent {
		t.Errorf("delivery mode = %d, want persistent", second.published[0].DeliveryMode)
	}
}

func TestPublisherRetriesOnceAfterPublishError(t *testing.T) {
	first := &fakeChannel{failNext: amqp.ErrClosed}
	second := &fakeChannel{}
	p, _ := newTestPublisher(first, second)

	if err := p.Enqueue(context.Background(), "J1", queue.Task{JobID: "J1"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if len(second.published) != 1 {
		t.Errorf("retry published %d messages, want 1", len(second.published))
	}
}

func TestPublisherReportsUnreachableBroker(t *testing.T) {
	p, _ := newTestPublisher(&fakeChannel{failNext: amqp.ErrClosed})
	if err := p.Enqueue(context.Background(), "J1", queue.Task{JobID: "J1"}); err == nil {
		t.Fatal("Enqueue succeeded with the broker gone")
	}
}

type ackRecorder struct {
	mu      sync.Mutex
	acked   []uint64
	nacked  []uint64
	requeue []bool
}

func (a *ackRecorder) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = append(a.acked, tag)
	return nil
}

func (a *ackRecorder) Nack(tag uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacked = append(a.nacked, tag)
	a.requeue = append(a.requeue, requeue)
	return nil
}

func (a *ackRecorder) Reject(tag uint64, requeue bool) error { return a.Nack(tag, false, requeue) }

type chanSink chan queue.Delivery

func (s chanSink) Submit(_ context.Context, d queue.Delivery) error {
	s <- d
	return nil
}

type rejectSink struct{}

func (rejectSink) Submit(context.Context, queue.Delivery) error { return errors.New("pool full") }

func TestConsumerReportsClosedDeliveries(t *testing.T) {
	c := newConsumer(queue.Name, 1, make(chanSink, 1))
	msgs := make(chan amqp.Delivery)
	go c.loop(context.Background(), msgs)

	close(msgs) // broker went away

	select {
	case err := <-c.Failed():
		if !errors.Is(err, ErrDeliveriesClosed) {
			t.Errorf("Failed() = %v, want ErrDeliveriesClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("consumer loss was never reported")
	}
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not exit")
	}
}

func TestConsumerQuietOnCancel(t *testing.T) {
	c := newConsumer(queue.Name, 1, make(chanSink, 1))
	ctx, cancel := context.WithCancel(context.Background())
	go c.loop(ctx, make(chan amqp.Delivery))

	cancel()
	<-c.Done()
	select {
	case err := <-c.Failed():
		t.Errorf("Failed() = %v after cancel, want nothing", err)
	default:
	}
}

func TestConsumerSettlesThroughSink(t *testing.T) {
	sink := make(chanSink, 1)
	c := newConsumer(queue.Name, 1, sink)
	acks := &ackRecorder{}
	body, _ := queue.Task{JobID: "J1", JobType: "echo"}.Encode()

	c.handle(context.Background(), amqp.Delivery{Acknowledger: acks, DeliveryTag: 7, Body: body})

	d := <-sink
	if d.Task.JobID != "J1" {
		t.Fatalf("task = %+v", d.Task)
	}
	if err := d.Settle(false, true); err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if len(acks.nacked) != 1 || acks.nacked[0] != 7 || !acks.requeue[0] {
		t.Errorf("nacked %v requeue %v, want tag 7 requeued", acks.nacked, acks.requeue)
	}
}

func TestConsumerDropsUndecodableTask(t *testing.T) {
	c := newConsumer(queue.Name, 1, make(chanSink, 1))
	acks := &ackRecorder{}

	c.handle(context.Background(), amqp.Delivery{Acknowledger: acks, DeliveryTag: 3, Body: []byte("{")})

	if len(acks.nacked) != 1 || acks.requeue[0] {
		t.Errorf("nacked %v requeue %v, want a dead-lettered nack", acks.nacked, acks.requeue)
	}
}

func TestConsumerRequeuesRejectedTask(t *testing.T) {
	c := newConsumer(queue.Name, 1, rejectSink{})
	acks := &ackRecorder{}
	body, _ := queue.Task{JobID: "J1"}.Encode()

	c.handle(context.Background(), amqp.Delivery{Acknowledger: acks, DeliveryTag: 9, Body: body})

	if len(acks.nacked) != 1 || !acks.requeue[0] {
		t.Errorf("nacked %v requeue %v, want requeue", acks.nacked, acks.requeue)
	}
}
