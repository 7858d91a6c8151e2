package queue

import "sync"

// Coordinator wakes the worker when new work may exist and serializes the
// check-and-claim section.
//
// The signal is a single slot: any number of Signal calls before the worker
// looks collapse into one wake-up. Signal never blocks.
type Coordinator struct {
	signal chan struct{}
	mu     sync.Mutex
}

// NewCoordinator creates a coordinator with the signal cleared
func NewCoordinator() *Coordinator {
	return &Coordinator{
		signal: make(chan struct{}, 1),
	}
}

// Signal raises the wake signal
func (c *Coordinator) Signal() {
	select {
	case c.signal <- struct{}{}:
	default:
	}
}

// Clear drops a pending signal, if any
func (c *Coordinator) Clear() {
	select {
	case <-c.signal:
	default:
	}
}

// Wait returns the channel that receives when the signal is raised.
// Receiving from it consumes the signal.
func (c *Coordinator) Wait() <-chan struct{} {
	return c.signal
}

// Raised reports whether a signal is pending without consuming it
func (c *Coordinator) Raised() bool {
	return len(c.signal) > 0
}

// Lock enters the check-and-claim section
func (c *Coordinator) Lock() {
	c.mu.Lock()
}

// Unlock leaves the check-and-claim section
func (c *Coordinator) Unlock() {
	c.mu.Unlock()
}
