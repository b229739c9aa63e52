// Package breaker implements the circuit breaker state machine guarding
// outbound dependencies, plus degradation strategies composed from it.
package breaker

import (
	"sync"
	"time"

	logging "github.com/roelfdiedericks/clawgate/internal/logging"
)

// State is a circuit breaker state.
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
		return "half_open"
	}
	return "unknown"
}

// Config holds breaker thresholds.
type Config struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	HalfOpenMaxCalls int
	SuccessThreshold int
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		HalfOpenMaxCalls: 3,
		SuccessThreshold: 2,
	}
}

// Stats is a point-in-time view of breaker counters.
type Stats struct {
	State           State
	FailureCount    int
	SuccessCount    int
	LastFailureTime time.Time
	TotalFailures   int64
	TotalSuccesses  int64
	StateChanges    int64
}

// StateChangeFunc is invoked on every transition.
type StateChangeFunc func(name string, from, to State)

// CircuitBreaker protects a single named dependency. All methods are safe
// for concurrent use; the critical section covers only state and counters.
type CircuitBreaker struct {
	name          string
	config        Config
	onStateChange StateChangeFunc

	mu            sync.Mutex
	state         State
	stats         Stats
	halfOpenCalls int

	now func() time.Time // injectable clock for tests
}

// New creates a breaker in the closed state.
func New(name string, config Config, onStateChange StateChangeFunc) *CircuitBreaker {
	return &CircuitBreaker{
		name:          name,
		config:        config,
		onStateChange: onStateChange,
		state:         StateClosed,
		now:           time.Now,
	}
}

// Name returns the breaker's dependency name.
func (cb *CircuitBreaker) Name() string { return cb.name }

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Config returns the breaker thresholds.
func (cb *CircuitBreaker) Config() Config { return cb.config }

// Stats returns a copy of the current counters.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	s := cb.stats
	s.State = cb.state
	return s
}

// CanExecute reports whether a call may proceed, advancing open->half_open
// after the recovery timeout and counting half-open probes.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true

	case StateOpen:
		if cb.now().Sub(cb.stats.LastFailureTime) >= cb.config.RecoveryTimeout {
			// The transition resets the probe counter; this call is admitted
			// on top of the half-open allowance.
			cb.transitionTo(StateHalfOpen)
			return true
		}
		return false

	case StateHalfOpen:
		if cb.halfOpenCalls < cb.config.HalfOpenMaxCalls {
			cb.halfOpenCalls++
			return true
		}
		return false
	}
	return true
}

// RecordSuccess records a successful call against the breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.stats.TotalSuccesses++
	cb.stats.SuccessCount++

	switch cb.state {
	case StateHalfOpen:
		if cb.stats.SuccessCount >= cb.config.SuccessThreshold {
			cb.transitionTo(StateClosed)
			logging.L_info("breaker: recovered", "name", cb.name)
		}
	case StateClosed:
		cb.stats.FailureCount = 0
	}
}

// RecordFailure records a failed call against the breaker.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.stats.TotalFailures++
	cb.stats.FailureCount++
	cb.stats.LastFailureTime = cb.now()

	switch cb.state {
	case StateHalfOpen:
		cb.transitionTo(StateOpen)
		logging.L_warn("breaker: reopened", "name", cb.name)
	case StateClosed:
		if cb.stats.FailureCount >= cb.config.FailureThreshold {
			cb.transitionTo(StateOpen)
			logging.L_error("breaker: opened",
				"name", cb.name,
				"threshold", cb.config.FailureThreshold)
		}
	}
}

// Reset forces the breaker back to closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionTo(StateClosed)
}

// transitionTo moves to a new state and resets the counters that belong to
// the old one. Caller holds cb.mu.
func (cb *CircuitBreaker) transitionTo(newState State) {
	oldState := cb.state
	if oldState == newState {
		return
	}

	cb.state = newState
	cb.stats.StateChanges++

	switch newState {
	case StateClosed:
		cb.stats.FailureCount = 0
		cb.stats.SuccessCount = 0
		cb.halfOpenCalls = 0
	case StateOpen:
		cb.stats.SuccessCount = 0
		cb.halfOpenCalls = 0
	case StateHalfOpen:
		cb.stats.FailureCount = 0
		cb.stats.SuccessCount = 0
		cb.halfOpenCalls = 0
	}

	logging.L_info("breaker: state changed",
		"name", cb.name, "from", oldState, "to", newState)

	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, oldState, newState)
	}
}

// StatsMap projects the breaker for the management API.
func (cb *CircuitBreaker) StatsMap() map[string]any {
	stats := cb.Stats()
	return map[string]any{
		"name":              cb.name,
		"state":             stats.State.String(),
		"failure_count":     stats.FailureCount,
		"success_count":     stats.SuccessCount,
		"total_failures":    stats.TotalFailures,
		"total_successes":   stats.TotalSuccesses,
		"state_changes":     stats.StateChanges,
		"last_failure_time": unixOrZero(stats.LastFailureTime),
		"config": map[string]any{
			"failure_threshold":   cb.config.FailureThreshold,
			"recovery_timeout":    int(cb.config.RecoveryTimeout.Seconds()),
			"half_open_max_calls": cb.config.HalfOpenMaxCalls,
			"success_threshold":   cb.config.SuccessThreshold,
		},
	}
}

func unixOrZero(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / 1e9
}
