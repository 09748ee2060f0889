// Package redis adapts go-redis to the event bus and backs the request
// rate limiter.
package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mtr002/jobpulse/internal/events"
)

// Connect parses a redis:// URL, builds a client and pings it
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connect error: %w", err)
	}
	return client, nil
}

// Dialer returns an events.Dialer that opens a new Redis client per call.
// Each publisher scope gets its own connection pool.
func Dialer(url string) events.Dialer {
	return func(ctx context.Context) (events.Client, error) {
		client, err := Connect(ctx, url)
		if err != nil {
			return nil, err
		}
		return &Bus{client: client}, nil
	}
}

// Bus is a Redis pub/sub client for status events
type Bus struct {
	client *redis.Client
}

// Publish sends data on channel
func (b *Bus) Publish(ctx context.Context, channel string, data []byte) error {
	if err := b.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish to %s: %w", channel, err)
	}
	return nil
}

// Subscribe opens a pub/sub connection on channel and waits for the
// subscription to be confirmed.
func (b *Bus) Subscribe(ctx context.Context, channel string) (events.Subscription, error) {
	ps := b.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("redis subscribe to %s: %w", channel, err)
	}

	sub := &subscription{
		ps:   ps,
		out:  make(chan []byte),
		done: make(chan struct{}),
	}
	go sub.forward()
	return sub, nil
}

// Close releases the underlying connection pool
func (b *Bus) Close() error {
	return b.client.Close()
}

type subscription struct {
	ps   *redis.PubSub
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func (s *subscription) forward() {
	defer close(s.out)
	for msg := range s.ps.Channel() {
		select {
		case s.out <- []byte(msg.Payload):
		case <-s.done:
			return
		}
	}
}

func (s *subscription) Messages() <-chan []byte { return s.out }

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
