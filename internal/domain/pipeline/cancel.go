package pipeline

import "sync"

// Signal is polled at suspension points (top of each pagination loop,
// between write chunks). It never interrupts work in flight.
type Signal interface {
	Cancelled() bool
}

// Canceller is the cooperative cancellation signal of one run.
type Canceller struct {
	once sync.Once
	ch   chan struct{}
}

// NewCanceller returns an armed, not yet cancelled signal.
func NewCanceller() *Canceller {
	return &Canceller{ch: make(chan struct{})}
}

// Cancel requests a stop. Safe to call more than once and concurrently.
func (c *Canceller) Cancel() {
	c.once.Do(func() { close(c.ch) })
}

// Cancelled reports whether Cancel has been called.
func (c *Canceller) Cancelled() bool {
	select {
	case <-c.ch:
		return true
	default:
		return false
	}
}

// Done is closed once Cancel has been called.
func (c *Canceller) Done() <-chan struct{} {
	return c.ch
}

// Never is a Signal that is never cancelled.
type Never struct{}

// Cancelled always returns false.
func (Never) Cancelled() bool { return false }
