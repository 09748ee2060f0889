// Package rabbitmq implements the task queue on a durable AMQP queue with
// manual acknowledgements, giving at-least-once delivery to workers.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/mtr002/jobpulse/internal/logger"
	"github.com/mtr002/jobpulse/internal/queue"
)

// ErrDeliveriesClosed is reported by a Consumer whose broker channel went
// away. amqp091 does not reconnect, so the consumer is finished.
var ErrDeliveriesClosed = errors.New("rabbitmq delivery channel closed")

// Dial opens an AMQP connection
func Dial(url string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	return conn, nil
}

func declare(ch *amqp.Channel, name string) error {
	_, err := ch.QueueDeclare(
		name,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", name, err)
	}
	return nil
}

type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}

// ownedChannel closes its connection together with the channel
type ownedChannel struct {
	*amqp.Channel
	conn *amqp.Connection
}

func (c ownedChannel) Close() error {
	c.Channel.Close()
	return c.conn.Close()
}

func openChannel(url, name string) (publishChannel, error) {
	conn, err := Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := declare(ch, name); err != nil {
		conn.Close()
		return nil, err
	}
	return ownedChannel{Channel: ch, conn: conn}, nil
}

// Publisher enqueues tasks as persistent messages on the default exchange.
// It owns its connection and redials once when the broker dropped it.
type Publisher struct {
	queue string
	open  func() (publishChannel, error)

	mu      sync.Mutex
	channel publishChannel
}

// NewPublisher connects to url and declares the queue
func NewPublisher(url, name string) (*Publisher, error) {
	p := &Publisher{
		queue: name,
		open:  func() (publishChannel, error) { return openChannel(url, name) },
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.connectLocked(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Publisher) connectLocked() error {
	if p.channel != nil && !p.channel.IsClosed() {
		return nil
	}
	p.resetLocked()
	ch, err := p.open()
	if err != nil {
		return err
	}
	p.channel = ch
	return nil
}

func (p *Publisher) resetLocked() {
	if p.channel != nil {
		p.channel.Close()
		p.channel = nil
	}
}

// Enqueue publishes one task. amqp channels are not safe for concurrent
// publishing, hence the mutex.
func (p *Publisher) Enqueue(ctx context.Context, jobID string, task queue.Task) error {
	body, err := task.Encode()
	if err != nil {
		return err
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    jobID,
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.publishLocked(ctx, msg)
	if err == nil {
		return nil
	}
	logger.WithJobID(jobID).Warn().Err(err).Msg("RabbitMQ publish failed, reconnecting")
	p.resetLocked()
	if err := p.publishLocked(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish task: %w", err)
	}
	return nil
}

func (p *Publisher) publishLocked(ctx context.Context, msg amqp.Publishing) error {
	if err := p.connectLocked(); err != nil {
		return err
	}
	return p.channel.PublishWithContext(ctx,
		"",      // default exchange
		p.queue, // routing key
		false,
		false,
		msg,
	)
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
	return nil
}

// Consumer pulls tasks with manual ack and hands them to a queue.Sink. The
// sink settles each delivery once the executor is done with it.
type Consumer struct {
	channel  *amqp.Channel
	queue    string
	prefetch int
	sink     queue.Sink
	done     chan struct{}
	failed   chan error
}

// NewConsumer opens a channel, declares the queue and sets the prefetch
func NewConsumer(conn *amqp.Connection, name string, prefetch int, sink queue.Sink) (*Consumer, error) {
	if prefetch <= 0 {
		prefetch = 1
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := declare(ch, name); err != nil {
		ch.Close()
		return nil, err
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	c := newConsumer(name, prefetch, sink)
	c.channel = ch
	return c, nil
}

func newConsumer(name string, prefetch int, sink queue.Sink) *Consumer {
	return &Consumer{
		queue:    name,
		prefetch: prefetch,
		sink:     sink,
		done:     make(chan struct{}),
		failed:   make(chan error, 1),
	}
}

// Start begins consuming in the background until ctx is cancelled or the
// channel closes
func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.channel.Consume(
		c.queue,
		"",
		false, // manual ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	go c.loop(ctx, msgs)
	logger.Logger.Info().Str("queue", c.queue).Int("prefetch", c.prefetch).Msg("RabbitMQ consumer started")
	return nil
}

// Failed yields ErrDeliveriesClosed if the broker side ends the consumer.
// It stays silent after a ctx cancellation.
func (c *Consumer) Failed() <-chan error { return c.failed }

// Done is closed once the consume loop has exited
func (c *Consumer) Done() <-chan struct{} { return c.done }

func (c *Consumer) loop(ctx context.Context, msgs <-chan amqp.Delivery) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			logger.Logger.Info().Msg("RabbitMQ consumer shutting down")
			return
		case msg, ok := <-msgs:
			if !ok {
				logger.Logger.Error().Str("queue", c.queue).Msg("RabbitMQ delivery channel closed")
				c.failed <- ErrDeliveriesClosed
				return
			}
			c.handle(ctx, msg)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg amqp.Delivery) {
	task, err := queue.Decode(msg.Body)
	if err != nil {
		logger.Logger.Error().Err(err).Msg("Dropping undecodable task")
		msg.Nack(false, false)
		return
	}

	d := queue.Delivery{
		Task: task,
		Ack:  func() error { return msg.Ack(false) },
		Nack: func(requeue bool) error { return msg.Nack(false, requeue) },
	}
	if err := c.sink.Submit(ctx, d); err != nil {
		logger.WithJobID(task.JobID).Warn().Err(err).Msg("Worker pool rejected task, requeueing")
		msg.Nack(false, true)
	}
}

// Close stops the channel; in-flight unacked deliveries are redelivered by
// the broker
func (c *Consumer) Close() error {
	return c.channel.Close()
}
