package remote

import (
	"sync"

	"github.com/portside-dev/portside/internal/logger"
)

// ConnectionFactory builds the Connection for a client identity. The
// factory is where per-client notifiers get bound.
type ConnectionFactory func(clientID string) *Connection

// Registry maps client identities to their Remote Connections. Instances
// are created lazily and destroyed explicitly; the registry is constructed
// by the composition root and injected wherever it is needed.
type Registry struct {
	mu      sync.RWMutex
	conns   map[string]*Connection
	factory ConnectionFactory
}

// NewRegistry creates a registry with a connection factory. A nil factory
// defaults to bare connections with no notifier, which is what tests want.
func NewRegistry(factory ConnectionFactory) *Registry {
	if factory == nil {
		factory = func(clientID string) *Connection {
			return NewConnection(clientID, 0, nil)
		}
	}
	return &Registry{
		conns:   make(map[string]*Connection),
		factory: factory,
	}
}

// Get returns the client's connection, creating an unconnected one on first
// reference. The same instance is returned until Remove.
func (r *Registry) Get(clientID string) *Connection {
	r.mu.RLock()
	conn, exists := r.conns[clientID]
	r.mu.RUnlock()
	if exists {
		return conn
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, exists := r.conns[clientID]; exists {
		return conn
	}
	conn = r.factory(clientID)
	r.conns[clientID] = conn
	logger.Debugf("📇 remote connection created for client %s", clientID)
	return conn
}

// Has reports whether a connection exists for the client.
func (r *Registry) Has(clientID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.conns[clientID]
	return exists
}

// Remove disconnects and forgets the client's connection. This is the
// single teardown entry point used on transport loss and on explicit
// disconnect requests.
func (r *Registry) Remove(clientID string) {
	r.mu.Lock()
	conn, exists := r.conns[clientID]
	if exists {
		delete(r.conns, clientID)
	}
	r.mu.Unlock()

	if !exists {
		return
	}
	conn.Disconnect()
	logger.Debugf("🧹 remote connection removed for client %s", clientID)
}

// Count returns the number of tracked connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Cleanup disconnects and removes every tracked connection. Used at server
// shutdown only.
func (r *Registry) Cleanup() {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.conns = make(map[string]*Connection)
	r.mu.Unlock()

	for _, c := range conns {
		c.Disconnect()
	}
	if len(conns) > 0 {
		logger.Infof("🧹 cleaned up %d remote connection(s)", len(conns))
	}
}
