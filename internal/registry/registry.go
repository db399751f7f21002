// Package registry tracks per-executor capability state: which sender an
// executor is bound to and whether it is ready. Written by session runners,
// read by the capacity controller and the control API. Readers tolerate
// eventual consistency bounded by loop cadence.
package registry

import (
	"sort"
	"sync"

	"sendbot/internal/sender"
)

// Entry is a point-in-time view of one executor's capability state.
type Entry struct {
	ID    string
	Ready bool
}

type Registry struct {
	mu      sync.RWMutex
	senders map[string]sender.Sender
	ready   map[string]bool
}

func New() *Registry {
	return &Registry{
		senders: make(map[string]sender.Sender),
		ready:   make(map[string]bool),
	}
}

// Register adds an executor slot. Idempotent.
func (r *Registry) Register(id string) {
	r.mu.Lock()
	if _, ok := r.ready[id]; !ok {
		r.ready[id] = false
	}
	r.mu.Unlock()
}

// Bind replaces the executor's sender. A nil sender unbinds it.
func (r *Registry) Bind(id string, s sender.Sender) {
	r.mu.Lock()
	if s == nil {
		delete(r.senders, id)
	} else {
		r.senders[id] = s
	}
	if _, ok := r.ready[id]; !ok {
		r.ready[id] = false
	}
	r.mu.Unlock()
}

func (r *Registry) SetReady(id string, ready bool) {
	r.mu.Lock()
	r.ready[id] = ready
	r.mu.Unlock()
}

// Resolve returns the executor's current sender and readiness. The sender is
// nil if none is bound.
func (r *Registry) Resolve(id string) (sender.Sender, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.senders[id], r.ready[id]
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ready)
}

func (r *Registry) ReadyCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, ok := range r.ready {
		if ok {
			n++
		}
	}
	return n
}

// AnyReady reports whether at least one executor can deliver.
func (r *Registry) AnyReady() bool {
	return r.ReadyCount() > 0
}

// Snapshot returns all entries sorted by executor id.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.ready))
	for id, ok := range r.ready {
		out = append(out, Entry{ID: id, Ready: ok})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
