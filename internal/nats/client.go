package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/mtr002/jobpulse/internal/events"
	"github.com/mtr002/jobpulse/internal/logger"
)

// Connect dials NATS with reconnect handling logged through zerolog
func Connect(url, name string) (*nats.Conn, error) {
	if url == "" {
		url = nats.DefaultURL
	}

	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Logger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Logger.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return conn, nil
}

// Dialer returns an events.Dialer opening one NATS connection per client
func Dialer(url, name string) events.Dialer {
	return func(context.Context) (events.Client, error) {
		conn, err := Connect(url, name)
		if err != nil {
			return nil, err
		}
		return &Bus{conn: conn}, nil
	}
}

// Bus publishes and subscribes status events over core NATS subjects
type Bus struct {
	conn *nats.Conn
}

func (b *Bus) Publish(_ context.Context, channel string, data []byte) error {
	if err := b.conn.Publish(channel, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}

func (b *Bus) Subscribe(_ context.Context, channel string) (events.Subscription, error) {
	ch := make(chan *nats.Msg, 256)
	sub, err := b.conn.ChanSubscribe(channel, ch)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	s := &subscription{sub: sub, in: ch, out: make(chan []byte), done: make(chan struct{})}
	go s.forward()
	return s, nil
}

func (b *Bus) Close() error {
	if b.conn != nil {
		b.conn.Close()
	}
	return nil
}

type subscription struct {
	sub  *nats.Subscription
	in   chan *nats.Msg
	out  chan []byte
	done chan struct{}
}

func (s *subscription) forward() {
	defer close(s.out)
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.in:
			select {
			case s.out <- msg.Data:
			case <-s.done:
				return
			}
		}
	}
}

func (s *subscription) Messages() <-chan []byte { return s.out }

func (s *subscription) Close() error {
	select {
	case <-s.done:
		return nil
	default:
		close(s.done)
	}
	return s.sub.Unsubscribe()
}
