// Package lock provides single-flight mutual exclusion keyed by instance
// id: at most one pipeline run may hold a given instance at a time, and a
// concurrent duplicate is rejected rather than queued.
package lock

import (
	"fmt"
	"sync"
)

// ErrHeld is returned when the instance is already held by an in-flight
// run.
var ErrHeld = fmt.Errorf("instance lock already held")

// Registry tracks which instance ids currently have a run in flight.
type Registry struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewRegistry creates an empty lock registry.
func NewRegistry() *Registry {
	return &Registry{held: make(map[string]bool)}
}

// TryAcquire takes the lock for the instance id, or returns ErrHeld if a
// run is already in flight. It never blocks.
func (r *Registry) TryAcquire(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.held[id] {
		return ErrHeld
	}
	r.held[id] = true
	return nil
}

// Release frees the lock for the instance id. Releasing an unheld lock is
// a no-op.
func (r *Registry) Release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.held, id)
}

// IsHeld reports whether a run currently holds the instance.
func (r *Registry) IsHeld(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.held[id]
}
