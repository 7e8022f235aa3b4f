package billing

import (
	"context"
	"sync"
	"time"
)

// CircuitBreakerState represents the current state of the circuit breaker.
type CircuitBreakerState string

const (
	StateClosed   CircuitBreakerState = "closed"
	StateOpen     CircuitBreakerState = "open"
	StateHalfOpen CircuitBreakerState = "half_open"
)

// CircuitBreaker guards calls to the billing platform.
type CircuitBreaker interface {
	// Execute runs fn unless the circuit is open.
	Execute(ctx context.Context, fn func() error) error
	// Success records a successful execution.
	Success()
	// Failure records a failed execution.
	Failure(err error)
	// State returns the current state of the circuit breaker.
	State() CircuitBreakerState
}

// DefaultCircuitBreaker opens after failureThreshold consecutive transient
// failures. Once resetTimeout has passed it admits a single trial call,
// whose outcome closes or re-opens the circuit. Calls arriving while the
// trial call is in flight are refused.
type DefaultCircuitBreaker struct {
	mu sync.Mutex

	state            CircuitBreakerState
	failureThreshold int
	resetTimeout     time.Duration
	failures         int
	openedAt         time.Time
	inTrial          bool
	now              func() time.Time

	onStateChange func(state CircuitBreakerState)
}

// NewDefaultCircuitBreaker creates a circuit breaker. Non-positive values
// select a threshold of 5 and a 30s reset timeout.
func NewDefaultCircuitBreaker(failureThreshold int, resetTimeout time.Duration,
	onStateChange func(state CircuitBreakerState)) *DefaultCircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	return &DefaultCircuitBreaker{
		state:            StateClosed,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		now:              time.Now,
		onStateChange:    onStateChange,
	}
}

func (cb *DefaultCircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stateLocked()
}

func (cb *DefaultCircuitBreaker) stateLocked() CircuitBreakerState {
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Execute runs fn. Only retryable failures count against the breaker: a 4xx
// rejection of one payload says nothing about the platform's health.
func (cb *DefaultCircuitBreaker) Execute(_ context.Context, fn func() error) error {
	ok, trial := cb.admit()
	if !ok {
		return ErrCircuitOpen
	}

	err := fn()
	if err != nil && IsRetryable(err) {
		cb.failure(trial)
	} else {
		cb.success(trial)
	}
	return err
}

// admit decides whether a call may run. When the reset timeout has lapsed
// the first caller becomes the trial call, and only its outcome can close
// or re-open the circuit.
func (cb *DefaultCircuitBreaker) admit() (ok, trial bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.stateLocked() {
	case StateClosed:
		return true, false
	case StateHalfOpen:
		if cb.inTrial {
			return false, false
		}
		cb.inTrial = true
		cb.changeState(StateHalfOpen)
		return true, true
	default:
		return false, false
	}
}

// Success records a successful call made outside Execute. It never stands
// in for the half-open trial.
func (cb *DefaultCircuitBreaker) Success() {
	cb.success(false)
}

// Failure records a failed call made outside Execute. It never stands in
// for the half-open trial.
func (cb *DefaultCircuitBreaker) Failure(_ error) {
	cb.failure(false)
}

func (cb *DefaultCircuitBreaker) success(trial bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if trial {
		cb.inTrial = false
		cb.failures = 0
		cb.changeState(StateClosed)
		return
	}
	// Calls admitted before the circuit opened report into a state they
	// no longer describe.
	if cb.state == StateClosed {
		cb.failures = 0
	}
}

func (cb *DefaultCircuitBreaker) failure(trial bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if trial {
		cb.inTrial = false
		cb.openedAt = cb.now()
		cb.changeState(StateOpen)
		return
	}
	if cb.state != StateClosed {
		return
	}
	cb.failures++
	if cb.failures >= cb.failureThreshold {
		cb.openedAt = cb.now()
		cb.changeState(StateOpen)
	}
}

func (cb *DefaultCircuitBreaker) changeState(newState CircuitBreakerState) {
	if cb.state == newState {
		return
	}
	cb.state = newState
	if cb.onStateChange != nil {
		cb.onStateChange(newState)
	}
}
