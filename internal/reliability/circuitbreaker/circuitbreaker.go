package circuitbreaker

import (
	"sync"
	"time"
)

// State is the breaker position.
type State int

const (
	StateClosed State = iota
	StateOpen
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
	default:
		return "unknown"
	}
}

// CircuitBreaker fails fast once a dependency has failed repeatedly. After
// the cooldown it lets a probe through (half-open); the probe's outcome
// decides whether the circuit closes again or snaps back open.
type CircuitBreaker struct {
	mu          sync.Mutex
	state       State
	failures    int32
	successes   int32
	openedAt    time.Time
	maxFailures int32
	minSuccess  int32
	cooldown    time.Duration
}

// NewCircuitBreaker creates a breaker that opens after failureThreshold
// consecutive failures and closes again after successThreshold probe
// successes, waiting at least timeout between open and half-open.
func NewCircuitBreaker(failureThreshold, successThreshold int32, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		state:       StateClosed,
		maxFailures: failureThreshold,
		minSuccess:  successThreshold,
		cooldown:    timeout,
	}
}

// AllowRequest reports whether a call may proceed, flipping open to
// half-open once the cooldown has elapsed.
func (cb *CircuitBreaker) AllowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		return true
	default:
		if time.Since(cb.openedAt) > cb.cooldown {
			cb.state = StateHalfOpen
			cb.failures = 0
			cb.successes = 0
			return true
		}
		return false
	}
}

// RecordSuccess notes a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.minSuccess {
			cb.state = StateClosed
			cb.failures = 0
			cb.successes = 0
		}
	}
}

// RecordFailure notes a failed call. A failure during a half-open probe
// reopens the circuit immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.maxFailures {
			cb.state = StateOpen
			cb.openedAt = time.Now()
		}
	case StateHalfOpen:
		cb.state = StateOpen
		cb.openedAt = time.Now()
		cb.failures = 0
		cb.successes = 0
	}
}

// GetState returns the current breaker position.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
