package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mtr002/jobpulse/internal/api"
	"github.com/mtr002/jobpulse/internal/app"
	"github.com/mtr002/jobpulse/internal/auth"
	"github.com/mtr002/jobpulse/internal/config"
	"github.com/mtr002/jobpulse/internal/events"
	"github.com/mtr002/jobpulse/internal/interfaces"
	"github.com/mtr002/jobpulse/internal/jobs"
	"github.com/mtr002/jobpulse/internal/logger"
	"github.com/mtr002/jobpulse/internal/users"
	"github.com/mtr002/jobpulse/internal/websocket"
)

const (
	serviceName     = "jobpulse-api"
	subscriberRetry = 5 * time.Second
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "jobpulse-server",
		Short:         "Job API and live status push service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a TOML config file")
	root.AddCommand(migrateCommand(&configPath), tokenCommand(&configPath))

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger.Init(serviceName, cfg.Log.Level, cfg.Log.Format)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func migrateCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the job store schema and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			_, closeStore, err := app.OpenStore(cmd.Context(), cfg.Store)
			if err != nil {
				return err
			}
			closeStore()
			logger.Logger.Info().Str("backend", cfg.Store.Backend).Msg("Store schema is up to date")
			return nil
		},
	}
}

func tokenCommand(configPath *string) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <owner-id>",
		Short: "Issue a signed bearer token for local testing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			v, err := auth.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
			if err != nil {
				return err
			}
			token, err := v.Issue(args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	logger.Logger.Info().
		Str("store", cfg.Store.Backend).
		Str("queue", cfg.Queue.Backend).
		Str("events", cfg.Events.Backend).
		Msg("Starting API service")

	store, closeStore, err := app.OpenStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()

	artifacts, err := app.Artifacts(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	registry := app.JobTypes(artifacts)

	producer, err := app.OpenProducer(cfg.Queue, serviceName)
	if err != nil {
		return err
	}
	defer producer.Close()

	verifier, err := app.Verifier(cfg.Auth)
	if err != nil {
		return err
	}

	limiter, closeLimiter, err := app.Limiter(ctx, cfg.RateLimit)
	if err != nil {
		return err
	}
	defer closeLimiter()

	// the memory backends only make sense with the worker running in-process
	var bus *events.MemoryBus
	if cfg.Events.Backend == "memory" {
		bus = events.NewMemoryBus()
	}
	dial, err := app.EventDialer(cfg.Events, serviceName, bus)
	if err != nil {
		return err
	}

	if producer.Local != nil {
		rt, err := app.NewRuntime(store, registry, dial, cfg.Worker)
		if err != nil {
			return err
		}
		rt.Start()
		defer rt.Stop()

		forwardCtx, cancelForward := context.WithCancel(context.Background())
		defer cancelForward()
		go producer.Local.Run(forwardCtx, rt.Pool)
		logger.Logger.Info().Int("workers", cfg.Worker.Count).Msg("Running embedded worker pool")
	}

	connections := websocket.NewRegistry()
	defer connections.CloseAll()

	subscriber := events.NewSubscriber(dial, connections)
	if err := subscriber.Start(ctx); err != nil {
		// push is an optimisation over polling; keep serving without it
		logger.Logger.Error().Err(err).Msg("Event subscriber failed to start")
	}
	superviseCtx, cancelSupervise := context.WithCancel(ctx)
	supervised := make(chan struct{})
	go func() {
		defer close(supervised)
		subscriber.Supervise(superviseCtx, subscriberRetry)
	}()

	checks := map[string]interfaces.Pinger{"store": store}
	router := api.NewRouter(api.Options{
		Service:     serviceName,
		Jobs:        jobs.NewManager(store, producer, registry),
		Users:       users.NewService(store),
		Verifier:    verifier,
		Push:        websocket.NewHandler(connections, verifier),
		Limiter:     limiter,
		Checks:      checks,
		CORSOrigins: cfg.Server.CORSOrigins,
	})
	server := api.NewServer(cfg.Server.Addr, router)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err = <-errCh:
	case <-ctx.Done():
		logger.Logger.Info().Msg("Shutting down gracefully...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if serr := server.Shutdown(shutdownCtx); serr != nil && !errors.Is(serr, context.Canceled) {
		logger.Logger.Warn().Err(serr).Msg("HTTP server shutdown")
	}
	cancelSupervise()
	<-supervised
	if serr := subscriber.Stop(shutdownCtx); serr != nil {
		logger.Logger.Warn().Err(serr).Msg("Event subscriber shutdown")
	}

	logger.Logger.Info().Msg("API service stopped")
	return err
}
