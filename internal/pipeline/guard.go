package pipeline

import "sync/atomic"

// Guard admits one reconstruction at a time.
type Guard struct {
	running atomic.Bool
}

// TryAcquire claims the guard. It reports false if a run is in progress.
func (g *Guard) TryAcquire() bool {
	return g.running.CompareAndSwap(false, true)
}

// Release frees the guard.
func (g *Guard) Release() {
	g.running.Store(false)
}

// Running reports whether a run holds the guard.
func (g *Guard) Running() bool {
	return g.running.Load()
}
