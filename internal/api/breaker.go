package api

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// CircuitState represents the current state of the circuit breaker
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateHalfOpen
	StateOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned by Execute while the breaker refuses calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig holds configuration for the circuit breaker
type CircuitBreakerConfig struct {
	MaxFailures   int           // Consecutive failures before opening
	ResetTimeout  time.Duration // Time to wait before letting a trial call through
	SuccessCount  int           // Successes needed to close from half-open
	Logger        *slog.Logger
	// OnStateChange runs with the breaker locked and must not call back into it.
	OnStateChange func(from, to CircuitState)
}

// CircuitBreaker stops calling the users backend after repeated failures. It never
// retries; a refused call fails immediately with ErrCircuitOpen. While half-open a
// single trial call is in flight at a time.
type CircuitBreaker struct {
	config        CircuitBreakerConfig
	state         CircuitState
	failures      int
	successes     int
	trialInFlight bool
	lastFailTime  time.Time
	mutex         sync.Mutex
}

func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = 5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}
	if config.SuccessCount <= 0 {
		config.SuccessCount = 1
	}

	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
	}
}

// Execute runs fn unless the circuit is open. A non-nil error from fn counts as a
// failure and is returned unchanged.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	allowed, trial := cb.allow()
	if !allowed {
		return ErrCircuitOpen
	}

	if err := fn(); err != nil {
		cb.recordFailure(trial)
		return err
	}
	cb.recordSuccess(trial)
	return nil
}

// allow reports whether a call may run and whether it is the half-open trial call.
func (cb *CircuitBreaker) allow() (allowed, trial bool) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case StateClosed:
		return true, false
	case StateOpen:
		if time.Since(cb.lastFailTime) < cb.config.ResetTimeout {
			return false, false
		}
		cb.setState(StateHalfOpen)
	}

	if cb.trialInFlight {
		return false, false
	}
	cb.trialInFlight = true
	return true, true
}

func (cb *CircuitBreaker) recordFailure(trial bool) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if trial {
		cb.trialInFlight = false
	}
	cb.failures++
	cb.successes = 0
	cb.lastFailTime = time.Now()

	if cb.config.Logger != nil {
		cb.config.Logger.Warn("Circuit breaker recorded failure",
			slog.Int("failures", cb.failures),
			slog.Int("max_failures", cb.config.MaxFailures))
	}

	if cb.state == StateHalfOpen || (cb.state == StateClosed && cb.failures >= cb.config.MaxFailures) {
		cb.setState(StateOpen)
	}
}

func (cb *CircuitBreaker) recordSuccess(trial bool) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if trial {
		cb.trialInFlight = false
	}

	if cb.state != StateHalfOpen {
		cb.failures = 0
		return
	}

	cb.successes++
	if cb.successes >= cb.config.SuccessCount {
		cb.setState(StateClosed)
		cb.failures = 0
		cb.successes = 0
	}
}

// setState must be called with the mutex held
func (cb *CircuitBreaker) setState(newState CircuitState) {
	oldState := cb.state
	if oldState == newState {
		return
	}
	cb.state = newState

	if cb.config.Logger != nil {
		cb.config.Logger.Warn("Users backend circuit breaker state changed",
			slog.String("from", oldState.String()),
			slog.String("to", newState.String()))
	}

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(oldState, newState)
	}
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}
