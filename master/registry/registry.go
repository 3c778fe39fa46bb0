// Package registry tracks connected worker RPC handles keyed by worker id
// (§3 Worker, §2 "Worker Registry"). Classification as idle/active/main/
// waiting is derived by the Scheduler from its own pools; the registry
// only owns identity, the remote handle, and liveness.
package registry

import (
	"sync"
	"time"

	"github.com/pydra/pydra/master/rpc"
)

// Worker is an authenticated RPC handle (§3).
type Worker struct {
	ID       string // node-host:port:core-index form
	Remote   *rpc.RemoteWorker
	Live     bool
	LastSeen time.Time
}

// Registry is the Worker Registry (§2). It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]*Worker
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{workers: make(map[string]*Worker)}
}

// Register adds or replaces the entry for a worker id.
func (r *Registry) Register(w *Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w.Live = true
	w.LastSeen = time.Now()
	r.workers[w.ID] = w
}

// Unregister removes a worker id from the registry, e.g. on disconnect.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.workers, id)
}

// Get returns the worker for id, if known.
func (r *Registry) Get(id string) (*Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[id]
	return w, ok
}

// MarkSeen updates a worker's liveness timestamp, e.g. on heartbeat.
func (r *Registry) MarkSeen(id string) {
	r.mu.RLock()
	w, ok := r.workers[id]
	r.mu.RUnlock()
	if ok {
		w.LastSeen = time.Now()
	}
}

// List returns every registered worker.
func (r *Registry) List() []*Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Worker, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, w)
	}
	return out
}

// Stale returns worker ids whose LastSeen exceeds threshold — candidates
// for the reactor's idle-timeout disconnect handling (§5 Timeouts).
func (r *Registry) Stale(threshold time.Duration) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := time.Now()
	var out []string
	for id, w := range r.workers {
		if now.Sub(w.LastSeen) > threshold {
			out = append(out, id)
		}
	}
	return out
}
