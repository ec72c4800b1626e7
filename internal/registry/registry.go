// Package registry tracks live session coordinators by id.
package registry

import (
	"sort"
	"sync"

	"github.com/miguelbaldi/krust/internal/domain"
	"github.com/miguelbaldi/krust/internal/session"
)

// Registry is the in-memory index of sessions. It starts empty on every
// process start; cached rows from earlier runs stay on disk but are not
// re-registered.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session.Coordinator
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{sessions: make(map[string]*session.Coordinator)}
}

// Put registers or replaces a coordinator under its session id.
func (r *Registry) Put(id string, c *session.Coordinator) {
	r.mu.Lock()
	r.sessions[id] = c
	r.mu.Unlock()
}

// Get returns the coordinator for a session id.
func (r *Registry) Get(id string) (*session.Coordinator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.sessions[id]
	return c, ok
}

// Remove deregisters and returns the coordinator, if present.
func (r *Registry) Remove(id string) (*session.Coordinator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	return c, ok
}

// List returns session states sorted by start time, newest first.
func (r *Registry) List() []domain.SessionState {
	r.mu.RLock()
	out := make([]domain.SessionState, 0, len(r.sessions))
	for _, c := range r.sessions {
		out = append(out, c.State())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// CancelAll requests a stop on every registered session and waits for them.
// Used on shutdown so flushes finish at a batch boundary.
func (r *Registry) CancelAll() {
	r.mu.RLock()
	all := make([]*session.Coordinator, 0, len(r.sessions))
	for _, c := range r.sessions {
		all = append(all, c)
	}
	r.mu.RUnlock()

	for _, c := range all {
		c.Cancel()
	}
	for _, c := range all {
		c.Wait()
	}
}
