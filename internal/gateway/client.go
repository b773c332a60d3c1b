package gateway

import (
	"sync"
	"sync/atomic"

	"github.com/portside-dev/portside/internal/models"
)

// outboxBuffer sizes each client's outbound queue. Writers block when it
// fills, which backpressures shell pumps instead of reordering or dropping
// frames mid stream.
const outboxBuffer = 256

// Client is one transport connection's server-side state: its identity,
// auth state and the outbound frame queue drained by the single writer
// pump. Everything sent to the client goes through Send so frame order is
// the channel order.
type Client struct {
	ID string

	outbox chan models.Envelope
	done   chan struct{}

	closeOnce sync.Once
	authed    atomic.Bool
}

// NewClient creates the state for a freshly accepted transport connection.
func NewClient(id string) *Client {
	return &Client{
		ID:     id,
		outbox: make(chan models.Envelope, outboxBuffer),
		done:   make(chan struct{}),
	}
}

// Send queues one envelope for the writer pump. It blocks while the outbox
// is full and reports false once the client is closed, so stream pumps
// stop cleanly when the transport goes away.
func (c *Client) Send(env models.Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.outbox <- env:
		return true
	case <-c.done:
		return false
	}
}

// Outbox is the writer pump's read side.
func (c *Client) Outbox() <-chan models.Envelope {
	return c.outbox
}

// Done is closed when the client is closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close releases anything blocked in Send. Idempotent; called by the
// transport layer exactly when the socket dies.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Authenticated reports whether the auth handshake has succeeded.
func (c *Client) Authenticated() bool {
	return c.authed.Load()
}

// SetAuthenticated marks the handshake as passed.
func (c *Client) SetAuthenticated() {
	c.authed.Store(true)
}

// Clients tracks the live transport connections by client id. Stream
// producers that outlive a single dispatch (shell close notifications)
// look their client up here so a departed client is a no-op, never a
// dangling pointer.
type Clients struct {
	mu sync.RWMutex
	m  map[string]*Client
}

// NewClients creates an empty client table.
func NewClients() *Clients {
	return &Clients{m: make(map[string]*Client)}
}

// Add registers a client under its id.
func (c *Clients) Add(client *Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[client.ID] = client
}

// Get returns the client or nil.
func (c *Clients) Get(id string) *Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.m[id]
}

// Remove drops the client from the table. The caller closes it.
func (c *Clients) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, id)
}

// Count reports the number of live clients.
func (c *Clients) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}
