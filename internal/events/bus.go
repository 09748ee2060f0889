package events

import (
	"context"
	"errors"
)

var errClientClosed = errors.New("event client closed")

// Client is a connection to the shared event channel
type Client interface {
	Publish(ctx context.Context, channel string, data []byte) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
	Close() error
}

// Subscription streams raw payloads from one channel. Messages is closed
// once the subscription ends.
type Subscription interface {
	Messages() <-chan []byte
	Close() error
}

// Dialer builds a fresh bus client
type Dialer func(ctx context.Context) (Client, error)

type scopeKey struct{}

// WithScope tags ctx with the execution scope that owns any client built
// under it. A worker pool mints a new scope every time it starts.
func WithScope(ctx context.Context, scope string) context.Context {
	return context.WithValue(ctx, scopeKey{}, scope)
}

// ScopeFrom returns the scope carried by ctx, or "" for the process default.
func ScopeFrom(ctx context.Context) string {
	if s, ok := ctx.Value(scopeKey{}).(string); ok {
		return s
	}
	return ""
}
