// Package guard provides the in-process mutual exclusion used by scheduler
// jobs: a job never overlaps a still-running instance of itself.
package guard

import "sync"

type SingleFlight struct {
	mu       sync.Mutex
	inflight map[string]bool
}

func NewSingleFlight() *SingleFlight {
	return &SingleFlight{inflight: make(map[string]bool)}
}

// TryAcquire claims the named slot. Returns false when a run already holds
// it; the caller must skip, not wait.
func (g *SingleFlight) TryAcquire(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inflight[name] {
		return false
	}
	g.inflight[name] = true
	return true
}

func (g *SingleFlight) Release(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inflight, name)
}
