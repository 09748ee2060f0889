// Package queue defines the task-queue contract shared by the API process
// (producer) and the worker process (consumer).
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Queue name used by every backend (subject, AMQP queue, gRPC service).
const Name = "ai_jobs"

// ErrClosed is returned when a backend has already been shut down.
var ErrClosed = errors.New("queue closed")

// Task is the payload carried by the queue for one job execution.
type Task struct {
	JobID     string         `json:"job_id"`
	JobType   string         `json:"job_type"`
	InputData map[string]any `json:"input_data"`
}

// Encode serializes a task for the wire.
func (t Task) Encode() ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task: %w", err)
	}
	return data, nil
}

// Decode parses a task from the wire.
func Decode(data []byte) (Task, error) {
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return Task{}, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	if t.JobID == "" {
		return Task{}, errors.New("task is missing job_id")
	}
	return t, nil
}

// Enqueuer hands a task to the queue. A nil error means the task was accepted.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobID string, task Task) error
}

// Delivery is one dequeued task plus its acknowledgement hooks. Ack and Nack
// may be nil for backends without acknowledgements.
type Delivery struct {
	Task Task
	Ack  func() error
	Nack func(requeue bool) error
}

// Settle acknowledges the delivery; requeue is only consulted on failure.
func (d Delivery) Settle(ok, requeue bool) error {
	if ok {
		if d.Ack != nil {
			return d.Ack()
		}
		return nil
	}
	if d.Nack != nil {
		return d.Nack(requeue)
	}
	return nil
}

// Sink accepts deliveries from a consumer, typically the worker pool.
type Sink interface {
	Submit(ctx context.Context, d Delivery) error
}
