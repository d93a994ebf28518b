package governance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker is in the open state.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState represents the state of a circuit breaker.
type CircuitState string

const (
	// StateClosed indicates calls flow through normally.
	StateClosed CircuitState = "closed"
	// StateOpen indicates calls are rejected until the cool-down elapses.
	StateOpen CircuitState = "open"
	// StateHalfOpen indicates a limited number of probe calls are allowed.
	StateHalfOpen CircuitState = "half-open"
)

// CircuitBreakerConfig defines thresholds for circuit breaking.
type CircuitBreakerConfig struct {
	// MaxFailures is the consecutive-failure threshold before opening.
	MaxFailures int
	// Cooldown is how long the circuit stays open before probing again.
	Cooldown time.Duration
	// MaxHalfOpenProbes is how many probe calls half-open admits before a
	// state decision (close on success streak, reopen on any failure).
	MaxHalfOpenProbes int
}

// DefaultCircuitBreakerConfig returns sensible defaults for guarding
// governance checkpoint calls.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxFailures:       5,
		Cooldown:          30 * time.Second,
		MaxHalfOpenProbes: 3,
	}
}

// CircuitBreaker protects one collaborator endpoint. When the collaborator
// fails repeatedly the breaker opens and callers short-circuit to their
// fail-safe outcome instead of waiting out another timeout.
type CircuitBreaker struct {
	mu     sync.Mutex
	state  CircuitState
	config CircuitBreakerConfig

	consecutiveFailures  int
	consecutiveSuccesses int
	halfOpenProbes       int
	openUntil            time.Time
	lastStateChange      time.Time
}

// NewCircuitBreaker creates a circuit breaker with the provided configuration.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = 5
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 30 * time.Second
	}
	if config.MaxHalfOpenProbes <= 0 {
		config.MaxHalfOpenProbes = 3
	}
	return &CircuitBreaker{
		state:           StateClosed,
		config:          config,
		lastStateChange: time.Now(),
	}
}

// Execute wraps a collaborator call with breaker protection. Context
// cancellation is checked up front so an already-dead request never consumes
// a half-open probe.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := cb.beforeCall(); err != nil {
		return err
	}

	err := fn(ctx)
	cb.afterCall(err)
	return err
}

func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if now.After(cb.openUntil) {
			cb.transitionLocked(StateHalfOpen, now)
			cb.halfOpenProbes++
			return nil
		}
		return ErrCircuitOpen
	case StateHalfOpen:
		if cb.halfOpenProbes < cb.config.MaxHalfOpenProbes {
			cb.halfOpenProbes++
			return nil
		}
		return ErrCircuitOpen
	default:
		return fmt.Errorf("unknown circuit breaker state: %s", cb.state)
	}
}

func (cb *CircuitBreaker) afterCall(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	if err != nil {
		cb.consecutiveFailures++
		cb.consecutiveSuccesses = 0
		switch cb.state {
		case StateHalfOpen:
			cb.transitionLocked(StateOpen, now)
		case StateClosed:
			if cb.consecutiveFailures >= cb.config.MaxFailures {
				cb.transitionLocked(StateOpen, now)
			}
		}
		return
	}

	cb.consecutiveSuccesses++
	cb.consecutiveFailures = 0
	if cb.state == StateHalfOpen && cb.consecutiveSuccesses >= cb.config.MaxHalfOpenProbes {
		cb.transitionLocked(StateClosed, now)
	}
}

func (cb *CircuitBreaker) transitionLocked(next CircuitState, now time.Time) {
	if cb.state == next {
		return
	}
	cb.state = next
	cb.lastStateChange = now
	cb.consecutiveFailures = 0
	cb.consecutiveSuccesses = 0
	cb.halfOpenProbes = 0
	if next == StateOpen {
		cb.openUntil = now.Add(cb.config.Cooldown)
	} else {
		cb.openUntil = time.Time{}
	}
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset manually returns the breaker to the closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionLocked(StateClosed, time.Now())
}
