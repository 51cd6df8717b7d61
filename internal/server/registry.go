package server

import "sync"

// Registry maps peer identities to their single live connection. All reads
// and writes go through one lock; TryRegister holds it across the liveness
// check and the insert.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Connection)}
}

// TryRegister inserts c unless its identity already has a live connection.
func (r *Registry) TryRegister(c *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[c.Identity()]; exists {
		return false
	}
	r.conns[c.Identity()] = c
	return true
}

// Remove deletes the entry for c's identity if it still points at c. A
// stale close never evicts a newer session.
func (r *Registry) Remove(c *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.conns[c.Identity()]; ok && current == c {
		delete(r.conns, c.Identity())
		return true
	}
	return false
}

// Lookup returns the live connection for identity, or nil.
func (r *Registry) Lookup(identity string) *Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[identity]
}

// IsConnected reports whether identity has a live connection.
func (r *Registry) IsConnected(identity string) bool {
	return r.Lookup(identity) != nil
}

// Subscribers returns the connections subscribed to endpoint, excluding
// exclude (which may be nil).
func (r *Registry) Subscribers(endpoint string, exclude *Connection) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		if c == exclude || !c.Subscribes(endpoint) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Snapshot returns every registered connection.
func (r *Registry) Snapshot() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
