package events

import (
	"context"
	"sync"

	"github.com/mtr002/jobpulse/internal/logger"
)

const memoryBuffer = 64

// MemoryBus is an in-process channel bus for single-binary runs and tests.
// Like a network bus, a subscriber that is not keeping up loses messages.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]*memorySub
	nextID uint64
}

// NewMemoryBus creates an empty bus
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[uint64]*memorySub)}
}

// Dialer returns a Dialer handing out clients attached to this bus
func (b *MemoryBus) Dialer() Dialer {
	return func(context.Context) (Client, error) {
		return &memoryClient{bus: b}, nil
	}
}

func (b *MemoryBus) publish(channel string, data []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs[channel] {
		msg := append([]byte(nil), data...)
		select {
		case sub.ch <- msg:
		default:
			logger.Logger.Warn().Str("channel", channel).Msg("Memory bus subscriber full, dropping message")
		}
	}
}

func (b *MemoryBus) subscribe(channel string) *memorySub {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &memorySub{bus: b, channel: channel, id: b.nextID, ch: make(chan []byte, memoryBuffer)}
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[uint64]*memorySub)
	}
	b.subs[channel][sub.id] = sub
	return sub
}

func (b *MemoryBus) remove(sub *memorySub) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub.channel][sub.id]; !ok {
		return
	}
	delete(b.subs[sub.channel], sub.id)
	close(sub.ch)
}

// Subscribers reports how many subscriptions are open on channel
func (b *MemoryBus) Subscribers(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel])
}

type memoryClient struct {
	bus *MemoryBus

	mu     sync.Mutex
	subs   []*memorySub
	closed bool
}

func (c *memoryClient) Publish(_ context.Context, channel string, data []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return errClientClosed
	}
	c.bus.publish(channel, data)
	return nil
}

func (c *memoryClient) Subscribe(_ context.Context, channel string) (Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errClientClosed
	}
	sub := c.bus.subscribe(channel)
	c.subs = append(c.subs, sub)
	return sub, nil
}

func (c *memoryClient) Close() error {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.closed = true
	c.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	return nil
}

type memorySub struct {
	bus     *MemoryBus
	channel string
	id      uint64
	ch      chan []byte
}

func (s *memorySub) Messages() <-chan []byte { return s.ch }

func (s *memorySub) Close() error {
	s.bus.remove(s)
	return nil
}
