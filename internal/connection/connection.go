// Package connection implements the Connection model and the
// process-wide connection registry of spec §3/§4.2.
package connection

import (
	"fmt"
	"net"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/evantahler/bun-actionhero-sub000/internal/session"
)

// Type is the transport a Connection was created from.
type Type string

const (
	TypeWeb       Type = "web"
	TypeWebSocket Type = "websocket"
	TypeJob       Type = "job"
	TypeCLI       Type = "cli"
	TypeMCP       Type = "mcp"
)

// RateLimitInfo is attached by the rate-limit middleware (spec §4.6) so
// the HTTP response layer can emit X-RateLimit-* headers.
type RateLimitInfo struct {
	Limit     int
	Remaining int
	ResetAt   int64 // epoch millis
}

// Connection carries per-client state shared across the dispatch
// pipeline. Session is a value, not a pointer, per spec §9's note on
// breaking the Connection<->Session reference cycle.
type Connection struct {
	Type       Type
	Identifier string // e.g. peer IP
	ID         string // UUID or incoming cookie value

	mu            sync.RWMutex
	subscriptions map[string]struct{}
	wsWriteMu     sync.Mutex

	session       session.Session
	sessionLoaded bool

	RateLimit *RateLimitInfo

	// RawSocket is the underlying transport handle: *websocket.Conn for
	// websocket connections, nil otherwise. Typed as `any` because HTTP
	// connections have no persistent socket to reference.
	RawSocket any
}

// New creates a Connection of the given type/identifier/id.
func New(typ Type, identifier, id string) *Connection {
	return &Connection{
		Type:          typ,
		Identifier:    identifier,
		ID:            id,
		subscriptions: make(map[string]struct{}),
	}
}

// Session returns the cached session value and whether one has been
// loaded for this connection's lifetime.
func (c *Connection) Session() (session.Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session, c.sessionLoaded
}

// SetSession caches the session value for this connection's lifetime.
func (c *Connection) SetSession(s session.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = s
	c.sessionLoaded = true
}

// Subscribe adds channel to this connection's subscription set.
func (c *Connection) Subscribe(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscriptions[channel] = struct{}{}
}

// Unsubscribe removes channel from this connection's subscription set.
func (c *Connection) Unsubscribe(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscriptions, channel)
}

// IsSubscribed reports whether this connection is subscribed to channel.
func (c *Connection) IsSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[channel]
	return ok
}

// Subscriptions returns a snapshot of the subscription set.
func (c *Connection) Subscriptions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.subscriptions))
	for ch := range c.subscriptions {
		out = append(out, ch)
	}
	return out
}

// WSConn returns the gorilla websocket connection, or nil.
func (c *Connection) WSConn() *websocket.Conn {
	if ws, ok := c.RawSocket.(*websocket.Conn); ok {
		return ws
	}
	return nil
}

// WriteJSON serializes v as a single WebSocket text frame. gorilla's
// Conn requires a single writer at a time; this serializes concurrent
// writers (a dispatch reply racing a pub/sub broadcast delivery).
func (c *Connection) WriteJSON(v any) error {
	ws := c.WSConn()
	if ws == nil {
		return fmt.Errorf("connection %s has no websocket", c.ID)
	}
	c.wsWriteMu.Lock()
	defer c.wsWriteMu.Unlock()
	return ws.WriteJSON(v)
}

// PeerIPFromAddr extracts the host portion of a net.Addr-style string,
// falling back to the raw value if it has no port.
func PeerIPFromAddr(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// Registry is the process-wide ordered collection of live connections
// (spec §3 invariant: every Connection appears exactly once until
// destroyed). Lookup is by id alone; type and identifier are not part
// of the key. Iteration preserves insertion order for the broadcast
// ordering guarantee of spec §5.
type Registry struct {
	mu      sync.RWMutex
	order   []*Connection
	byID    map[string]*Connection
}

func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*Connection)}
}

// Add registers conn. Re-adding the same ID replaces the prior entry in
// place, preserving its position in the order slice.
func (r *Registry) Add(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[conn.ID]; exists {
		for i, c := range r.order {
			if c.ID == conn.ID {
				r.order[i] = conn
				break
			}
		}
		r.byID[conn.ID] = conn
		return
	}
	r.order = append(r.order, conn)
	r.byID[conn.ID] = conn
}

// Remove destroys conn: removes it from the registry (and, by contract,
// callers are responsible for also removing it from all presence
// tables — pubsub.Bus.DestroyConnection does both).
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return
	}
	delete(r.byID, id)
	for i, c := range r.order {
		if c.ID == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get returns the connection with the given id, if any.
func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	return c, ok
}

// Each calls fn for every live connection in registry order. fn must
// not mutate the registry.
func (r *Registry) Each(fn func(*Connection)) {
	r.mu.RLock()
	snapshot := make([]*Connection, len(r.order))
	copy(snapshot, r.order)
	r.mu.RUnlock()
	for _, c := range snapshot {
		fn(c)
	}
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
