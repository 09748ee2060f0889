package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/mtr002/jobpulse/internal/app"
	"github.com/mtr002/jobpulse/internal/config"
	"github.com/mtr002/jobpulse/internal/grpc"
	"github.com/mtr002/jobpulse/internal/logger"
	"github.com/mtr002/jobpulse/internal/queue"
)

const serviceName = "jobpulse-worker"

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "jobpulse-worker",
		Short:         "Executes queued jobs and publishes their status events",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger.Init(serviceName, cfg.Log.Level, cfg.Log.Format)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if cfg.Queue.Backend == "memory" {
				return errors.New("queue.backend memory runs inside jobpulse-server; pick nats, rabbitmq or grpc for a standalone worker")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a TOML config file")

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger.Logger.Info().
		Int("workers", cfg.Worker.Count).
		Str("queue", cfg.Queue.Backend).
		Str("events", cfg.Events.Backend).
		Dur("soft_deadline", cfg.Worker.SoftDeadline).
		Dur("hard_deadline", cfg.Worker.HardDeadline).
		Msg("Starting worker service")

	store, closeStore, err := app.OpenStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()

	artifacts, err := app.Artifacts(ctx, cfg.Storage)
	if err != nil {
		return err
	}

	dial, err := app.EventDialer(cfg.Events, serviceName, nil)
	if err != nil {
		return err
	}

	rt, err := app.NewRuntime(store, app.JobTypes(artifacts), dial, cfg.Worker)
	if err != nil {
		return err
	}
	rt.Start()
	logger.Logger.Info().
		Strs("job_types", rt.Registry.Types()).
		Str("scope", rt.Pool.Scope()).
		Msg("Worker pool started")

	// the gRPC server always carries health; it also accepts tasks with the grpc backend
	var sink queue.Sink
	if cfg.Queue.Backend == "grpc" {
		sink = rt.Pool
	}
	grpcServer := grpc.NewServer(sink)
	grpcServer.SetServing(true)

	errCh := make(chan error, 2)
	go func() {
		if err := grpcServer.Serve(cfg.Worker.GRPCAddr); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: cfg.Worker.MetricsAddr, Handler: metricsMux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Logger.Info().Str("addr", cfg.Worker.MetricsAddr).Msg("Metrics listener started")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics listener: %w", err)
		}
	}()

	stopConsumer, consumerFailed, err := app.StartConsumer(ctx, cfg.Queue, serviceName, rt.Pool)
	if err != nil {
		grpcServer.Stop()
		rt.Stop()
		return err
	}

	select {
	case err = <-errCh:
	case cerr := <-consumerFailed:
		// exit so the supervisor restarts us against a fresh connection
		err = fmt.Errorf("queue consumer: %w", cerr)
	case <-ctx.Done():
		logger.Logger.Info().Msg("Shutting down gracefully...")
	}

	// stop intake first, then let in-flight executions finish
	grpcServer.SetServing(false)
	stopConsumer()
	grpcServer.Stop()
	rt.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	metricsServer.Shutdown(shutdownCtx)

	logger.Logger.Info().Msg("Worker service stopped")
	return err
}
