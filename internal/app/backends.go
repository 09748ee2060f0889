// Package app assembles the configured backends for the server and worker
// processes.
package app

import (
	"context"
	"fmt"

	natsgo "github.com/nats-io/nats.go"

	"github.com/mtr002/jobpulse/internal/api"
	"github.com/mtr002/jobpulse/internal/auth"
	"github.com/mtr002/jobpulse/internal/config"
	"github.com/mtr002/jobpulse/internal/db"
	"github.com/mtr002/jobpulse/internal/events"
	"github.com/mtr002/jobpulse/internal/grpc"
	"github.com/mtr002/jobpulse/internal/interfaces"
	"github.com/mtr002/jobpulse/internal/logger"
	"github.com/mtr002/jobpulse/internal/nats"
	"github.com/mtr002/jobpulse/internal/queue"
	"github.com/mtr002/jobpulse/internal/rabbitmq"
	"github.com/mtr002/jobpulse/internal/redis"
	"github.com/mtr002/jobpulse/internal/storage"
)

// Store is what every store backend provides
type Store interface {
	interfaces.JobStore
	interfaces.UserStore
	interfaces.SessionProvider
	interfaces.Pinger
}

// OpenStore connects the configured store and applies its schema
func OpenStore(ctx context.Context, cfg config.StoreConfig) (Store, func(), error) {
	switch cfg.Backend {
	case "memory":
		return db.NewMemoryStore(), func() {}, nil

	case "postgres":
		pg := db.DefaultConfig()
		pg.DSN = cfg.PostgresDSN
		database, err := db.Connect(ctx, pg)
		if err != nil {
			return nil, nil, err
		}
		if err := db.RunMigrations(ctx, database); err != nil {
			database.Close()
			return nil, nil, err
		}
		return db.NewStore(database), func() { database.Close() }, nil

	case "mongo":
		client, err := db.ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, nil, err
		}
		store := db.NewMongoStore(client, cfg.MongoDB)
		if err := store.Migrate(ctx); err != nil {
			client.Disconnect(context.Background())
			return nil, nil, err
		}
		return store, func() { client.Disconnect(context.Background()) }, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

// EventDialer returns the dialer for the shared event channel. bus backs the
// memory backend and may be nil otherwise.
func EventDialer(cfg config.EventsConfig, name string, bus *events.MemoryBus) (events.Dialer, error) {
	switch cfg.Backend {
	case "redis":
		return redis.Dialer(cfg.RedisURL), nil
	case "nats":
		return nats.Dialer(cfg.NATSURL, name), nil
	case "memory":
		if bus == nil {
			return nil, fmt.Errorf("memory event bus only works inside a single process")
		}
		return bus.Dialer(), nil
	}
	return nil, fmt.Errorf("unknown events backend %q", cfg.Backend)
}

// Producer is the API side of the task queue
type Producer struct {
	queue.Enqueuer
	Local *queue.Local
	close func()
}

func (p *Producer) Close() { p.close() }

// OpenProducer connects the task-queue producer
func OpenProducer(cfg config.QueueConfig, name string) (*Producer, error) {
	switch cfg.Backend {
	case "memory":
		l := queue.NewLocal(0)
		return &Producer{Enqueuer: l, Local: l, close: l.Close}, nil

	case "nats":
		conn, err := nats.Connect(cfg.NATSURL, name)
		if err != nil {
			return nil, err
		}
		return &Producer{Enqueuer: nats.NewQueue(conn), close: conn.Close}, nil

	case "rabbitmq":
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.Name)
		if err != nil {
			return nil, err
		}
		return &Producer{Enqueuer: pub, close: func() { pub.Close() }}, nil

	case "grpc":
		client, err := grpc.NewClient(cfg.GRPCTarget)
		if err != nil {
			return nil, err
		}
		return &Producer{Enqueuer: client, close: func() { client.Close() }}, nil
	}
	return nil, fmt.Errorf("unknown queue backend %q", cfg.Backend)
}

// StartConsumer attaches the worker side of the task queue to sink. The grpc
// backend is served by the worker's gRPC server instead. The returned channel
// reports a consumer that died on its own; it is nil for backends that
// reconnect by themselves.
func StartConsumer(ctx context.Context, cfg config.QueueConfig, name string, sink queue.Sink) (func(), <-chan error, error) {
	switch cfg.Backend {
	case "nats":
		conn, err := nats.Connect(cfg.NATSURL, name)
		if err != nil {
			return nil, nil, err
		}
		c := nats.NewConsumer(conn, sink)
		if err := c.Start(ctx); err != nil {
			conn.Close()
			return nil, nil, err
		}
		return func() {
			c.Close()
			drain(conn)
		}, nil, nil

	case "rabbitmq":
		conn, err := rabbitmq.Dial(cfg.RabbitURL)
		if err != nil {
			return nil, nil, err
		}
		c, err := rabbitmq.NewConsumer(conn, cfg.Name, cfg.Prefetch, sink)
		if err != nil {
			conn.Close()
			return nil, nil, err
		}
		if err := c.Start(ctx); err != nil {
			c.Close()
			conn.Close()
			return nil, nil, err
		}
		return func() {
			c.Close()
			conn.Close()
		}, c.Failed(), nil

	case "grpc":
		return func() {}, nil, nil
	}
	return nil, nil, fmt.Errorf("queue backend %q has no standalone consumer", cfg.Backend)
}

func drain(conn *natsgo.Conn) {
	if err := conn.Drain(); err != nil {
		conn.Close()
	}
}

// Verifier builds the bearer-token verifier
func Verifier(cfg config.AuthConfig) (auth.Verifier, error) {
	if cfg.DevMode {
		logger.Logger.Warn().Msg("Auth dev mode enabled: any token starting with dev_ is accepted")
		return auth.DevVerifier{Prefix: "dev_", OwnerID: "dev_user"}, nil
	}
	return auth.NewJWTVerifier(cfg.JWTSecret, cfg.Issuer)
}

// Artifacts connects object storage, or returns nil when it is disabled
func Artifacts(ctx context.Context, cfg config.StorageConfig) (*storage.MinioStore, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	store, err := storage.NewMinioStore(storage.Config{
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		Bucket:    cfg.Bucket,
		UseSSL:    cfg.UseSSL,
		URLExpiry: cfg.URLExpiry,
	})
	if err != nil {
		return nil, err
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// Limiter connects the job-creation rate limiter, or returns nil when disabled
func Limiter(ctx context.Context, cfg config.RateLimitConfig) (api.RateLimiter, func(), error) {
	if !cfg.Enabled {
		return nil, func() {}, nil
	}
	client, err := redis.Connect(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return redis.NewLimiter(client, cfg.Limit, cfg.Window), func() { client.Close() }, nil
}
