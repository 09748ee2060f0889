// Package websocket delivers job status pushes to live client connections.
package websocket

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mtr002/jobpulse/internal/logger"
	"github.com/mtr002/jobpulse/internal/metrics"
)

// Connection is one live push connection
type Connection interface {
	Send(data []byte) error
	Close() error
}

// Registry indexes live connections by owner. An owner may hold several
// connections at once (tabs, devices).
type Registry struct {
	mu    sync.RWMutex
	conns map[string]map[Connection]struct{}
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]map[Connection]struct{})}
}

// Register adds conn under ownerID
func (r *Registry) Register(ownerID string, conn Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.conns[ownerID]
	if !ok {
		set = make(map[Connection]struct{})
		r.conns[ownerID] = set
	}
	if _, dup := set[conn]; !dup {
		set[conn] = struct{}{}
		metrics.ActiveConnections.Inc()
	}
	logger.WithOwnerID(ownerID).Debug().Int("connections", len(set)).Msg("Connection registered")
}

// Unregister removes conn. Unknown connections are ignored.
func (r *Registry) Unregister(ownerID string, conn Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(ownerID, conn)
}

func (r *Registry) removeLocked(ownerID string, conn Connection) bool {
	set, ok := r.conns[ownerID]
	if !ok {
		return false
	}
	if _, ok := set[conn]; !ok {
		return false
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(r.conns, ownerID)
	}
	metrics.ActiveConnections.Dec()
	return true
}

// Count reports the connections registered for ownerID
func (r *Registry) Count(ownerID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[ownerID])
}

// Notify sends payload as JSON to every connection of ownerID. A connection
// that fails the write is closed and removed; the others still receive the
// message. Only an unencodable payload is reported as an error.
func (r *Registry) Notify(ownerID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode push payload: %w", err)
	}

	r.mu.RLock()
	targets := make([]Connection, 0, len(r.conns[ownerID]))
	for c := range r.conns[ownerID] {
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	var dead []Connection
	for _, c := range targets {
		if err := c.Send(data); err != nil {
			logger.WithOwnerID(ownerID).Debug().Err(err).Msg("Push failed, dropping connection")
			dead = append(dead, c)
			continue
		}
		metrics.NotificationsDeliveredTotal.Inc()
	}

	if len(dead) == 0 {
		return nil
	}

	r.mu.Lock()
	for _, c := range dead {
		if r.removeLocked(ownerID, c) {
			metrics.ConnectionsPrunedTotal.Inc()
		}
	}
	r.mu.Unlock()

	for _, c := range dead {
		c.Close()
	}
	return nil
}

// CloseAll closes every registered connection, used on shutdown
func (r *Registry) CloseAll() {
	r.mu.Lock()
	var all []Connection
	for owner, set := range r.conns {
		for c := range set {
			all = append(all, c)
			metrics.ActiveConnections.Dec()
		}
		delete(r.conns, owner)
	}
	r.mu.Unlock()

	for _, c := range all {
		c.Close()
	}
}
