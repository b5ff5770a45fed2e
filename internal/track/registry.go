package track

import (
	"sync"
	"time"
)

// Registry is the authoritative mapping from subscription target to
// the connections interested in it. It is the only shared mutable
// structure in the subsystem; every operation touches at most one
// interest set, so a single short-critical-section mutex is enough to
// keep lookups from blocking on unrelated traffic.
type Registry struct {
	mu      sync.RWMutex
	open    map[string]*Conn            // every live conn, subscribed or not
	all     map[string]*Conn            // connID -> conn watching every bus
	byBus   map[string]map[string]*Conn // busID -> connID -> conn
	targets map[string]Target           // connID -> current target
}

func NewRegistry() *Registry {
	return &Registry{
		open:    make(map[string]*Conn),
		all:     make(map[string]*Conn),
		byBus:   make(map[string]map[string]*Conn),
		targets: make(map[string]Target),
	}
}

// Attach records a live connection before it has a target, so shutdown
// teardown reaches observers that authenticated but never subscribed.
func (r *Registry) Attach(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open[c.ID] = c
}

// Register adds or replaces the connection's entry. A connection
// already registered under a different target is atomically moved; a
// subscription replaces, it never merges.
func (r *Registry) Register(c *Conn, t Target) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open[c.ID] = c
	r.detachLocked(c.ID)
	r.targets[c.ID] = t
	if t.All {
		r.all[c.ID] = c
		return
	}
	set, ok := r.byBus[t.BusID]
	if !ok {
		set = make(map[string]*Conn)
		r.byBus[t.BusID] = set
	}
	set[c.ID] = c
}

// Unregister removes the connection entirely, from the open set and
// from whichever interest set it belongs to. Idempotent: duplicate
// close events are a no-op.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.open, connID)
	r.detachLocked(connID)
}

func (r *Registry) detachLocked(connID string) {
	t, ok := r.targets[connID]
	if !ok {
		return
	}
	delete(r.targets, connID)
	if t.All {
		delete(r.all, connID)
		return
	}
	if set, ok := r.byBus[t.BusID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.byBus, t.BusID)
		}
	}
}

// InterestedIn returns every connection that should receive a sample
// for busID: fleet-wide subscribers plus that bus's subscribers.
func (r *Registry) InterestedIn(busID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Conn, 0, len(r.all)+len(r.byBus[busID]))
	for _, c := range r.all {
		out = append(out, c)
	}
	for _, c := range r.byBus[busID] {
		out = append(out, c)
	}
	return out
}

// Len returns the number of registered (subscribed) connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.targets)
}

// ConnInfo is the ops-facing view of one registered connection.
type ConnInfo struct {
	ID         string    `json:"id"`
	ActorID    string    `json:"actorId"`
	Role       Role      `json:"role"`
	Target     string    `json:"target"`
	State      string    `json:"state"`
	CreatedAt  time.Time `json:"createdAt"`
	LastActive time.Time `json:"lastActive"`
}

// SnapshotView returns a copy of the live connections for the ops
// endpoint. Connections that have not subscribed yet show target
// "none".
func (r *Registry) SnapshotView() []ConnInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ConnInfo, 0, len(r.open))
	for id, c := range r.open {
		target := "none"
		if t, ok := r.targets[id]; ok {
			target = t.String()
		}
		out = append(out, ConnInfo{
			ID:         c.ID,
			ActorID:    c.Identity.ActorID,
			Role:       c.Identity.Role,
			Target:     target,
			State:      c.State(),
			CreatedAt:  c.CreatedAt,
			LastActive: c.LastActive(),
		})
	}
	return out
}

// Drain empties the registry and returns every live connection,
// including those that never subscribed, for shutdown teardown.
func (r *Registry) Drain() []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Conn, 0, len(r.open))
	for _, c := range r.open {
		out = append(out, c)
	}
	r.open = make(map[string]*Conn)
	r.all = make(map[string]*Conn)
	r.byBus = make(map[string]map[string]*Conn)
	r.targets = make(map[string]Target)
	return out
}
