package gateway

import (
	"sync"

	"github.com/princevash/openclaw-mt/internal/rpc"
)

// Registry is the active connection set. Mutations take the write lock;
// broadcast iterates over a copy so a slow send never holds the lock.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*Client)}
}

// AddClient registers a connection.
func (r *Registry) AddClient(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.id] = c
}

// RemoveClient unregisters a connection by id.
func (r *Registry) RemoveClient(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, connID)
}

// Len returns the number of active connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

func (r *Registry) snapshot() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

// ForEachClient calls fn for every active connection.
func (r *Registry) ForEachClient(fn func(*Client)) {
	for _, c := range r.snapshot() {
		fn(c)
	}
}

// ClientsByIP returns the connections originating from an IP.
func (r *Registry) ClientsByIP(ip string) []*Client {
	var out []*Client
	for _, c := range r.snapshot() {
		if c.caller.SourceIP == ip {
			out = append(out, c)
		}
	}
	return out
}

// HasAuthorizedClientForIP reports whether any authenticated connection,
// tenant or not, originated from the IP.
func (r *Registry) HasAuthorizedClientForIP(ip string) bool {
	return len(r.ClientsByIP(ip)) > 0
}

// EvictTenant closes every connection authenticated as the tenant. Called
// when a tenant is disabled or removed.
func (r *Registry) EvictTenant(tenantID string) int {
	var evicted int
	for _, c := range r.snapshot() {
		if c.caller.TenantID == tenantID {
			c.Close()
			evicted++
		}
	}
	return evicted
}

// Broadcast fans an event out to every connection.
func (r *Registry) Broadcast(event string, payload any, dropIfSlow bool) {
	frame := rpc.EventFrame{Event: event, Payload: payload}
	for _, c := range r.snapshot() {
		c.Send(frame, dropIfSlow)
	}
}

// BroadcastToTenant restricts the fan-out to connections authenticated as
// the tenant. Cross-tenant listeners never see the event.
func (r *Registry) BroadcastToTenant(tenantID, event string, payload any, dropIfSlow bool) {
	frame := rpc.EventFrame{Event: event, Payload: payload}
	for _, c := range r.snapshot() {
		if c.caller.TenantID == tenantID {
			c.Send(frame, dropIfSlow)
		}
	}
}

// BroadcastToConnIDs restricts the fan-out to the given connection ids.
func (r *Registry) BroadcastToConnIDs(event string, payload any, connIDs map[string]struct{}, dropIfSlow bool) {
	frame := rpc.EventFrame{Event: event, Payload: payload}
	for _, c := range r.snapshot() {
		if _, ok := connIDs[c.id]; ok {
			c.Send(frame, dropIfSlow)
		}
	}
}
