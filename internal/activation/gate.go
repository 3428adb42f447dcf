// Package activation implements the delegated-activation retry policy:
// a call fails because a downstream surface is not up, the owning
// module asks the client to bring it up, waits for the client to report
// back, and retries the call exactly once.
package activation

import (
	"context"
	"sync"
	"time"
)

// Gate is a one-shot readiness latch. A waiter blocks until Signal is
// called (or the deadline passes); Reset arms it for the next
// activation round. Signal before Wait is remembered, so the client
// reporting readiness early does not lose the edge.
type Gate struct {
	mu     sync.Mutex
	ch     chan struct{}
	closed bool
}

// NewGate returns an armed gate.
func NewGate() *Gate {
	return &Gate{ch: make(chan struct{})}
}

// Reset re-arms the gate, discarding any previous signal.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ch = make(chan struct{})
	g.closed = false
}

// Signal marks the gate ready. Safe to call more than once.
func (g *Gate) Signal() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.closed = true
	close(g.ch)
}

// Wait blocks until the gate is signaled, the timeout passes, or ctx is
// done. It reports whether the signal arrived in time.
func (g *Gate) Wait(ctx context.Context, timeout time.Duration) bool {
	g.mu.Lock()
	ch := g.ch
	g.mu.Unlock()

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case <-ch:
		return true
	case <-t.C:
		return false
	case <-ctx.Done():
		return false
	}
}
