package nats

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/mtr002/jobpulse/internal/logger"
	"github.com/mtr002/jobpulse/internal/queue"
)

// Queue enqueues tasks on the execute subject. Core NATS delivers at most
// once; a task sent while no worker is subscribed is lost and the job stays
// PENDING.
type Queue struct {
	conn *nats.Conn
}

func NewQueue(conn *nats.Conn) *Queue {
	return &Queue{conn: conn}
}

func (q *Queue) Enqueue(_ context.Context, jobID string, task queue.Task) error {
	data, err := task.Encode()
	if err != nil {
		return err
	}

	msg := nats.NewMsg(ExecuteSubject)
	msg.Header.Set("Job-Id", jobID)
	msg.Data = data
	if err := q.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish task: %w", err)
	}
	return nil
}

// Consumer receives tasks through the worker queue group and hands them to
// a queue.Sink
type Consumer struct {
	conn *nats.Conn
	sub  *nats.Subscription
	sink queue.Sink
}

func NewConsumer(conn *nats.Conn, sink queue.Sink) *Consumer {
	return &Consumer{conn: conn, sink: sink}
}

// Start subscribes. Deliveries are submitted with ctx, so cancelling it
// rejects tasks still arriving.
func (c *Consumer) Start(ctx context.Context) error {
	sub, err := c.conn.QueueSubscribe(ExecuteSubject, QueueGroup, func(msg *nats.Msg) {
		task, err := queue.Decode(msg.Data)
		if err != nil {
			logger.Logger.Error().Err(err).Msg("Dropping undecodable task")
			return
		}
		if err := c.sink.Submit(ctx, queue.Delivery{Task: task}); err != nil {
			logger.WithJobID(task.JobID).Error().Err(err).Msg("Worker pool rejected task")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", ExecuteSubject, err)
	}

	c.sub = sub
	logger.Logger.Info().Str("subject", ExecuteSubject).Str("group", QueueGroup).Msg("NATS consumer started")
	return nil
}

func (c *Consumer) Close() {
	if c.sub != nil {
		c.sub.Unsubscribe()
	}
}
