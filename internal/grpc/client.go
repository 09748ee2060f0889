package grpc

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/mtr002/jobpulse/internal/queue"
)

// Client enqueues tasks on a worker's TaskQueue service
type Client struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

func NewClient(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client for %s: %w", addr, err)
	}

	return &Client{
		conn:    conn,
		timeout: 10 * time.Second,
	}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Enqueue sends the task and reports whether the worker accepted it
func (c *Client) Enqueue(ctx context.Context, jobID string, task queue.Task) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	task.JobID = jobID
	req, err := encodeTask(task)
	if err != nil {
		return err
	}

	resp := new(wrapperspb.BoolValue)
	if err := c.conn.Invoke(ctx, enqueueMethod, req, resp); err != nil {
		return fmt.Errorf("enqueue rpc failed: %w", err)
	}
	if !resp.GetValue() {
		return fmt.Errorf("worker did not accept job %s", jobID)
	}
	return nil
}

func encodeTask(task queue.Task) (*structpb.Struct, error) {
	input := task.InputData
	if input == nil {
		input = map[string]any{}
	}
	s, err := structpb.NewStruct(map[string]any{
		"job_id":     task.JobID,
		"job_type":   task.JobType,
		"input_data": input,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode task: %w", err)
	}
	return s, nil
}

func decodeTask(s *structpb.Struct) (queue.Task, error) {
	m := s.AsMap()
	task := queue.Task{}
	task.JobID, _ = m["job_id"].(string)
	task.JobType, _ = m["job_type"].(string)
	task.InputData, _ = m["input_data"].(map[string]any)
	if task.JobID == "" {
		return queue.Task{}, fmt.Errorf("task is missing job_id")
	}
	return task, nil
}
