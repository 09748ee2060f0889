package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mtr002/jobpulse/internal/logger"
	"github.com/mtr002/jobpulse/internal/metrics"
)

// State is the lifecycle state of a Subscriber
type State int

const (
	StateStopped State = iota
	StateStarting
	StateListening
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateListening:
		return "listening"
	case StateStopping:
		return "stopping"
	}
	return "unknown"
}

// Notifier delivers a payload to every live connection of an owner
type Notifier interface {
	Notify(ownerID string, payload any) error
}

// Subscriber listens on the shared channel and hands each status event to a
// Notifier. One instance runs per API process.
type Subscriber struct {
	dial     Dialer
	notifier Notifier
	channel  string

	mu     sync.Mutex
	state  State
	client Client
	sub    Subscription
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSubscriber creates a stopped subscriber
func NewSubscriber(dial Dialer, notifier Notifier) *Subscriber {
	return &Subscriber{
		dial:     dial,
		notifier: notifier,
		channel:  Channel,
	}
}

// State reports the current lifecycle state
func (s *Subscriber) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start subscribes and begins listening. It is a no-op when already running.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateStopped {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStarting
	s.mu.Unlock()

	client, sub, err := s.subscribe(ctx)
	if err != nil {
		s.mu.Lock()
		s.state = StateStopped
		s.mu.Unlock()
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.client = client
	s.sub = sub
	s.cancel = cancel
	s.done = done
	s.state = StateListening
	s.mu.Unlock()

	go s.listen(loopCtx, sub, done)

	logger.Logger.Info().Str("channel", s.channel).Msg("Event subscriber listening")
	return nil
}

func (s *Subscriber) subscribe(ctx context.Context) (Client, Subscription, error) {
	client, err := s.dial(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to dial event bus: %w", err)
	}
	sub, err := client.Subscribe(ctx, s.channel)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to subscribe to %s: %w", s.channel, err)
	}
	return client, sub, nil
}

func (s *Subscriber) listen(ctx context.Context, sub Subscription, done chan struct{}) {
	defer close(done)

	msgs := sub.Messages()
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				logger.Logger.Warn().Str("channel", s.channel).Msg("Event subscription closed")
				s.release(done)
				return
			}
			s.dispatch(data)
		}
	}
}

// release tears down a loop that ended because its subscription closed, so
// a later Start can subscribe again. Stop owns teardown once it has begun.
func (s *Subscriber) release(done chan struct{}) {
	s.mu.Lock()
	if s.state != StateListening || s.done != done {
		s.mu.Unlock()
		return
	}
	cancel, sub, client := s.cancel, s.sub, s.client
	s.client, s.sub, s.cancel, s.done = nil, nil, nil, nil
	s.state = StateStopped
	s.mu.Unlock()

	cancel()
	sub.Close()
	if err := client.Close(); err != nil {
		logger.Logger.Warn().Err(err).Msg("Failed to close event client")
	}
}

// Supervise calls Start every interval until ctx is done, restarting the
// subscriber after its subscription ends or a start attempt fails.
func (s *Subscriber) Supervise(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.State() != StateStopped {
				continue
			}
			if err := s.Start(ctx); err != nil {
				logger.Logger.Warn().Err(err).Msg("Event subscriber restart failed")
			}
		}
	}
}

func (s *Subscriber) dispatch(data []byte) {
	evt, err := Parse(data)
	if err != nil {
		switch {
		case errors.Is(err, ErrIncompleteEvent):
			metrics.EventsReceivedTotal.WithLabelValues("incomplete").Inc()
			logger.Logger.Debug().Bytes("payload", data).Msg("Skipping incomplete status event")
		case errors.Is(err, ErrUnexpectedType):
			// other message kinds may share the channel
			metrics.EventsReceivedTotal.WithLabelValues("wrong_type").Inc()
			logger.Logger.Debug().Err(err).Msg("Skipping non-status message")
		default:
			metrics.EventsReceivedTotal.WithLabelValues("malformed").Inc()
			logger.Logger.Warn().Err(err).Msg("Skipping malformed status event")
		}
		return
	}

	if err := s.notifier.Notify(evt.OwnerID, evt.Push()); err != nil {
		metrics.EventsReceivedTotal.WithLabelValues("notify_failed").Inc()
		logger.Logger.Error().Err(err).
			Str("owner_id", evt.OwnerID).
			Str("job_id", evt.JobID).
			Str("status", string(evt.Status)).
			Msg("Notify failed")
		return
	}
	metrics.EventsReceivedTotal.WithLabelValues("dispatched").Inc()
}

// Stop cancels the listen loop, waits for it to exit, then releases the
// subscription and the client. Stopping a stopped subscriber is a no-op.
func (s *Subscriber) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateListening {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStopping
	cancel, done, sub, client := s.cancel, s.done, s.sub, s.client
	s.mu.Unlock()

	cancel()

	var waitErr error
	select {
	case <-done:
	case <-ctx.Done():
		waitErr = fmt.Errorf("waiting for subscriber loop: %w", ctx.Err())
	}

	if err := sub.Close(); err != nil {
		logger.Logger.Warn().Err(err).Msg("Failed to close event subscription")
	}
	if err := client.Close(); err != nil {
		logger.Logger.Warn().Err(err).Msg("Failed to close event client")
	}

	s.mu.Lock()
	s.client, s.sub, s.cancel, s.done = nil, nil, nil, nil
	s.state = StateStopped
	s.mu.Unlock()

	logger.Logger.Info().Msg("Event subscriber stopped")
	return waitErr
}
