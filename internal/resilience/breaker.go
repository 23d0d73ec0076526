// Package resilience guards calls to optional external services so a
// struggling dependency cannot slow down a sync run.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

func (s state) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Breaker opens after maxFailures consecutive failures and rejects calls
// until timeout has passed. It then lets a single probe through; the probe's
// outcome closes or reopens it.
type Breaker struct {
	name        string
	maxFailures int
	timeout     time.Duration
	now         func() time.Time

	mu       sync.Mutex
	state    state
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker returns an unnamed breaker.
func NewBreaker(maxFailures int, timeout time.Duration) *Breaker {
	return NewNamedBreaker("", maxFailures, timeout)
}

// NewNamedBreaker returns a breaker whose state changes are logged under name.
func NewNamedBreaker(name string, maxFailures int, timeout time.Duration) *Breaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &Breaker{name: name, maxFailures: maxFailures, timeout: timeout, now: time.Now}
}

// Execute runs fn unless the breaker is open. Errors caused by ctx ending
// are returned but do not count as failures of the guarded service.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	probe, ok := b.admit()
	if !ok {
		return ErrCircuitOpen
	}

	err := fn(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	if probe {
		b.probing = false
	}
	switch {
	case err == nil:
		b.succeed()
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		// caller gave up; the service is not at fault
	default:
		b.fail()
	}
	return err
}

// admit reports whether a call may proceed and whether it is the half-open probe.
func (b *Breaker) admit() (probe, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == stateOpen && b.now().Sub(b.openedAt) >= b.timeout {
		b.state = stateHalfOpen
	}
	switch b.state {
	case stateClosed:
		return false, true
	case stateHalfOpen:
		if b.probing {
			return false, false
		}
		b.probing = true
		return true, true
	default:
		return false, false
	}
}

// fail must be called with b.mu held.
func (b *Breaker) fail() {
	b.failures++
	if b.state != stateHalfOpen && b.failures < b.maxFailures {
		return
	}
	if b.state != stateOpen {
		slog.Warn("circuit breaker opened", "breaker", b.name, "failures", b.failures, "retry_in", b.timeout)
	}
	b.state = stateOpen
	b.openedAt = b.now()
}

// succeed must be called with b.mu held.
func (b *Breaker) succeed() {
	if b.state != stateClosed {
		slog.Info("circuit breaker closed", "breaker", b.name)
	}
	b.failures = 0
	b.state = stateClosed
}

// State returns "closed", "open" or "half-open". An open breaker whose
// timeout has elapsed reports open until the next call probes it. A nil
// breaker is always closed.
func (b *Breaker) State() string {
	if b == nil {
		return stateClosed.String()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.String()
}
