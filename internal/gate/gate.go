// Package gate provides the counting semaphore that bounds live workers.
// Capacity can be adjusted at runtime: a resize waits for the gate to go
// idle, then swaps the capacity; acquires issued during the resize block
// until it completes and observe the new capacity.
package gate

import (
	"context"
	"fmt"
	"sync"
)

// Gate is a resizable counting semaphore with an idle signal.
type Gate struct {
	mu       sync.Mutex
	capacity int
	inFlight int
	resizing bool
	// wake is closed and replaced whenever a slot frees or a resize
	// completes, waking blocked acquirers.
	wake chan struct{}
	// idle is closed while no slot is held and replaced when one is
	// acquired.
	idle chan struct{}
}

// New creates a gate with the given capacity.
func New(capacity int) (*Gate, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}
	idle := make(chan struct{})
	close(idle)
	return &Gate{
		capacity: capacity,
		wake:     make(chan struct{}),
		idle:     idle,
	}, nil
}

// Acquire blocks until a slot is free or the context expires.
func (g *Gate) Acquire(ctx context.Context) error {
	for {
		g.mu.Lock()
		if !g.resizing && g.inFlight < g.capacity {
			if g.inFlight == 0 {
				g.idle = make(chan struct{})
			}
			g.inFlight++
			g.mu.Unlock()
			return nil
		}
		wake := g.wake
		g.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return fmt.Errorf("acquiring gate slot: %w", ctx.Err())
		}
	}
}

// Release frees a slot. Releasing an unheld gate is a no-op.
func (g *Gate) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inFlight == 0 {
		return
	}
	g.inFlight--
	if g.inFlight == 0 {
		close(g.idle)
	}
	g.broadcastLocked()
}

// SetCapacity blocks until all slots are free, then swaps the capacity.
// Acquires issued while the resize is pending wait for it to complete.
func (g *Gate) SetCapacity(ctx context.Context, capacity int) error {
	if capacity <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}

	g.mu.Lock()
	if g.resizing {
		g.mu.Unlock()
		return ErrResizeInProgress
	}
	g.resizing = true
	for g.inFlight > 0 {
		idle := g.idle
		g.mu.Unlock()
		select {
		case <-idle:
		case <-ctx.Done():
			g.mu.Lock()
			g.resizing = false
			g.broadcastLocked()
			g.mu.Unlock()
			return fmt.Errorf("waiting for gate to go idle: %w", ctx.Err())
		}
		g.mu.Lock()
	}
	g.capacity = capacity
	g.resizing = false
	g.broadcastLocked()
	g.mu.Unlock()
	return nil
}

// Idle returns a channel that is closed while no slot is held.
func (g *Gate) Idle() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.idle
}

// Capacity returns the current capacity.
func (g *Gate) Capacity() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.capacity
}

// InFlight returns the number of held slots.
func (g *Gate) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight
}

func (g *Gate) broadcastLocked() {
	close(g.wake)
	g.wake = make(chan struct{})
}
