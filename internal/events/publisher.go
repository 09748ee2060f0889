package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/mtr002/jobpulse/internal/logger"
	"github.com/mtr002/jobpulse/internal/metrics"
)

// Publisher writes status events to the shared channel. The bus client is
// built lazily and remembered together with the scope that built it; a call
// from another scope discards it and dials again.
type Publisher struct {
	dial    Dialer
	channel string

	mu     sync.Mutex
	client Client
	scope  string
}

// NewPublisher creates a publisher on the default channel
func NewPublisher(dial Dialer) *Publisher {
	return &Publisher{dial: dial, channel: Channel}
}

// Publish sends evt. A failed send is retried once with a freshly dialled
// client; a second failure drops the event and is returned for logging only.
func (p *Publisher) Publish(ctx context.Context, evt StatusEvent) error {
	data, err := evt.Marshal()
	if err != nil {
		metrics.EventsPublishedTotal.WithLabelValues("dropped").Inc()
		return err
	}

	log := logger.WithJobID(evt.JobID)

	err = p.send(ctx, data, false)
	if err == nil {
		metrics.EventsPublishedTotal.WithLabelValues("ok").Inc()
		log.Debug().Str("channel", p.channel).Str("status", string(evt.Status)).Msg("Status event published")
		return nil
	}

	log.Warn().Err(err).Str("status", string(evt.Status)).Msg("Publish failed, retrying with a new client")

	if err = p.send(ctx, data, true); err == nil {
		metrics.EventsPublishedTotal.WithLabelValues("retried").Inc()
		log.Debug().Str("channel", p.channel).Str("status", string(evt.Status)).Msg("Status event published on retry")
		return nil
	}

	metrics.EventsPublishedTotal.WithLabelValues("dropped").Inc()
	log.Error().Err(err).Str("status", string(evt.Status)).Msg("Status event dropped")
	return fmt.Errorf("failed to publish status event: %w", err)
}

func (p *Publisher) send(ctx context.Context, data []byte, fresh bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	scope := ScopeFrom(ctx)
	if fresh || p.client == nil || p.scope != scope {
		p.resetLocked()
		client, err := p.dial(ctx)
		if err != nil {
			return fmt.Errorf("failed to dial event bus: %w", err)
		}
		p.client = client
		p.scope = scope
	}

	return p.client.Publish(ctx, p.channel, data)
}

func (p *Publisher) resetLocked() {
	if p.client == nil {
		return
	}
	if err := p.client.Close(); err != nil {
		logger.Logger.Debug().Err(err).Msg("Closing stale event client")
	}
	p.client = nil
	p.scope = ""
}

// Close releases the memoized client
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
	return nil
}
