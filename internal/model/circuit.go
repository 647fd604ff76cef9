package model

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen indicates the circuit breaker is rejecting requests.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState represents the current state of the circuit breaker.
type CircuitState int

const (
	// CircuitClosed allows all requests through (normal operation).
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects all requests (upstream considered down).
	CircuitOpen
	// CircuitHalfOpen allows probe requests to test recovery.
	CircuitHalfOpen
)

// String returns a human-readable state name.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the circuit breaker.
type CircuitBreakerConfig struct {
	FailureThreshold int           // Consecutive failures before opening
	SuccessThreshold int           // Consecutive successes in half-open before closing
	Timeout          time.Duration // How long the circuit stays open before probing
}

// DefaultCircuitBreakerConfig returns sensible defaults for LLM API calls.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// CircuitBreaker implements the circuit breaker pattern for upstream model calls.
// It prevents hammering a failing provider and gives it time to recover.
//
// State transitions:
//
//	closed --(failures >= threshold)--> open
//	open --(timeout elapsed)--> half-open
//	half-open --(successes >= threshold)--> closed
//	half-open --(any failure)--> open
//
// Safe for concurrent use.
type CircuitBreaker struct {
	mu sync.Mutex

	failureThreshold int
	successThreshold int
	timeout          time.Duration

	state       CircuitState
	failures    int
	successes   int
	lastFailure time.Time
}

// NewCircuitBreaker creates a circuit breaker. Zero-value config fields
// fall back to DefaultCircuitBreakerConfig values.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	defaults := DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaults.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = defaults.SuccessThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}

	return &CircuitBreaker{
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		timeout:          cfg.Timeout,
		state:            CircuitClosed,
	}
}

// Allow reports whether a request may proceed.
// Returns ErrCircuitOpen when the circuit is open and the timeout has not elapsed.
// An open circuit whose timeout has elapsed transitions to half-open and
// lets the probe through.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if time.Since(cb.lastFailure) >= cb.timeout {
			cb.state = CircuitHalfOpen
			cb.successes = 0
			return nil
		}
		return ErrCircuitOpen
	default:
		return nil
	}
}

// Success records a successful request.
func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitHalfOpen:
		cb.successes++
		if cb.successes >= cb.successThreshold {
			cb.state = CircuitClosed
			cb.failures = 0
			cb.successes = 0
		}
	case CircuitClosed:
		cb.failures = 0
	case CircuitOpen:
		// Late success from a request that was in flight when the circuit
		// opened. Ignored: recovery is probed via half-open.
	}
}

// Failure records a failed request.
func (cb *CircuitBreaker) Failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailure = time.Now()

	switch cb.state {
	case CircuitHalfOpen:
		// Probe failed, back to open
		cb.state = CircuitOpen
		cb.successes = 0
	case CircuitClosed:
		cb.failures++
		if cb.failures >= cb.failureThreshold {
			cb.state = CircuitOpen
		}
	case CircuitOpen:
		// Already open
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the circuit back to closed. Intended for tests and
// operator intervention.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CircuitClosed
	cb.failures = 0
	cb.successes = 0
}
