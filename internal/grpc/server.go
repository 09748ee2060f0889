// Package grpc exposes the task queue as a gRPC service on the worker and
// provides the matching API-side client.
package grpc

import (
	"context"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/mtr002/jobpulse/internal/logger"
	"github.com/mtr002/jobpulse/internal/queue"
)

const (
	serviceName   = "jobpulse.TaskQueue"
	enqueueMethod = "/" + serviceName + "/Enqueue"
)

type taskQueueServer interface {
	Enqueue(ctx context.Context, req *structpb.Struct) (*wrapperspb.BoolValue, error)
}

var taskQueueDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*taskQueueServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Enqueue", Handler: enqueueHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "jobpulse/taskqueue",
}

func enqueueHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(taskQueueServer).Enqueue(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: enqueueMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(taskQueueServer).Enqueue(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// Server hosts the TaskQueue service and the standard health service
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	sink   queue.Sink
}

// NewServer creates a server. sink may be nil when the worker only needs
// health checks.
func NewServer(sink queue.Sink) *Server {
	s := &Server{
		grpc:   grpc.NewServer(),
		health: health.NewServer(),
		sink:   sink,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	if sink != nil {
		s.grpc.RegisterService(&taskQueueDesc, &taskQueue{sink: sink})
		s.health.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	}
	return s
}

// Serve listens on addr and blocks until Stop
func (s *Server) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	logger.Logger.Info().Str("addr", addr).Msg("gRPC server listening")
	return s.grpc.Serve(lis)
}

// SetServing flips the overall health status
func (s *Server) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
}

func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

type taskQueue struct {
	sink queue.Sink
}

func (t *taskQueue) Enqueue(ctx context.Context, req *structpb.Struct) (*wrapperspb.BoolValue, error) {
	task, err := decodeTask(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	// The RPC context ends with the call; the pool runs the task on its own.
	if err := t.sink.Submit(context.WithoutCancel(ctx), queue.Delivery{Task: task}); err != nil {
		logger.WithJobID(task.JobID).Warn().Err(err).Msg("Rejected task over gRPC")
		return wrapperspb.Bool(false), nil
	}
	return wrapperspb.Bool(true), nil
}
