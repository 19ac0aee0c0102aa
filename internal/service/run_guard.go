package service

import "sync"

// RunGuard is a per-key try-lock. A second caller for a held key is turned
// away immediately rather than queued.
type RunGuard struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func NewRunGuard() *RunGuard {
	return &RunGuard{running: map[string]struct{}{}}
}

// TryAcquire returns a release func and true when key was free. Release is
// safe to call more than once.
func (g *RunGuard) TryAcquire(key string) (func(), bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running == nil {
		g.running = map[string]struct{}{}
	}
	if _, busy := g.running[key]; busy {
		return func() {}, false
	}
	g.running[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.running, key)
			g.mu.Unlock()
		})
	}, true
}

func (g *RunGuard) Busy(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, busy := g.running[key]
	return busy
}
