// Package registry keeps the table of registered display names, keyed by
// connection identity.
package registry

import (
	"sort"
	"sync"
)

type entry struct {
	name string
	seq  uint64
}

// Registry maps connection identities to display names. An entry exists only
// between a connection's first registration and its removal. All methods are
// safe for concurrent use and linearizable with respect to each other.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
	nextSeq uint64
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register inserts or renames the entry for id and returns the roster as it
// stands after the change.
func (r *Registry) Register(id, name string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		e.seq = r.nextSeq
		r.nextSeq++
	}
	e.name = name
	r.entries[id] = e

	return r.snapshotLocked()
}

// Remove deletes the entry for id. The roster is returned only when an entry
// was actually removed; removing an unknown id is a no-op.
func (r *Registry) Remove(id string) ([]string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[id]; !ok {
		return nil, false
	}
	delete(r.entries, id)

	return r.snapshotLocked(), true
}

// Snapshot returns the current roster in registration order.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.snapshotLocked()
}

// Name returns the display name registered for id.
func (r *Registry) Name(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	return e.name, ok
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}

func (r *Registry) snapshotLocked() []string {
	ordered := make([]entry, 0, len(r.entries))
	for _, e := range r.entries {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].seq < ordered[j].seq })

	roster := make([]string, len(ordered))
	for i, e := range ordered {
		roster[i] = e.name
	}
	return roster
}
