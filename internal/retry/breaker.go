package retry

import (
	"fmt"
	"sync"
	"time"

	ncerr "tcplog/internal/errors"
)

// State is a circuit breaker position.
type State int

const (
	// StateClosed lets every dial through.
	StateClosed State = iota
	// StateOpen rejects dials without trying.
	StateOpen
	// StateHalfOpen lets probes through until enough succeed.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// BreakerConfig tunes a [CircuitBreaker].
type BreakerConfig struct {
	// MaxFailures consecutive failures open the circuit (default 5).
	MaxFailures int
	// ResetTimeout is how long the circuit stays open (default 30s).
	ResetTimeout time.Duration
	// HalfOpenMax successes in a row close it again (default 1).
	HalfOpenMax int
	// OnStateChange runs under the breaker's lock on every transition.
	OnStateChange func(from, to State)
}

// OpenError is returned while the circuit is open.  It matches
// errors.ErrCircuitOpen.
type OpenError struct {
	Failures int
	RetryIn  time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("%v after %d failures, next probe in %v",
		ncerr.ErrCircuitOpen, e.Failures, e.RetryIn.Truncate(time.Millisecond))
}

func (e *OpenError) Unwrap() error { return ncerr.ErrCircuitOpen }

// CircuitBreaker guards upstream dials.  A session whose dial is
// rejected is closed like any other dial failure; nothing is retried.
type CircuitBreaker struct {
	mu        sync.Mutex
	cfg       BreakerConfig
	state     State
	failures  int
	successes int
	openedAt  time.Time
	now       func() time.Time
}

// NewCircuitBreaker builds a breaker, filling in defaults for zero
// fields.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// Execute runs fn unless the circuit is open, and feeds its outcome
// back into the breaker.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.Allow(); err != nil {
		return err
	}
	err := fn()
	cb.Report(err)
	return err
}

// Allow reports whether a call may proceed.  An expired open circuit
// moves to half-open here.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateOpen {
		return nil
	}
	elapsed := cb.now().Sub(cb.openedAt)
	if elapsed >= cb.cfg.ResetTimeout {
		cb.setState(StateHalfOpen)
		return nil
	}
	return &OpenError{Failures: cb.failures, RetryIn: cb.cfg.ResetTimeout - elapsed}
}

// Report records the outcome of an allowed call.
func (cb *CircuitBreaker) Report(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failures++
		cb.successes = 0
		if cb.state == StateHalfOpen || cb.failures >= cb.cfg.MaxFailures {
			cb.openedAt = cb.now()
			cb.setState(StateOpen)
		}
		return
	}

	cb.successes++
	if cb.state == StateHalfOpen && cb.successes < cb.cfg.HalfOpenMax {
		return
	}
	cb.failures = 0
	cb.setState(StateClosed)
}

// State returns the current position.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset closes the circuit and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures, cb.successes = 0, 0
	cb.setState(StateClosed)
}

func (cb *CircuitBreaker) setState(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}
