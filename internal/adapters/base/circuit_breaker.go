package base

import (
	"errors"
	"sync"
	"time"
)

// BreakerState represents the current state of the circuit breaker
type BreakerState int

const (
	// BreakerClosed - requests flow normally
	BreakerClosed BreakerState = iota
	// BreakerOpen - requests fail immediately
	BreakerOpen
	// BreakerHalfOpen - probing whether the gateway recovered
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrBreakerOpen is returned when the circuit breaker rejects a call.
var ErrBreakerOpen = errors.New("gateway circuit breaker is open")

// BreakerConfig configures circuit breaker behavior. Only infrastructure
// failures trip the breaker; a payment decline is a healthy gateway answer
// and must be recorded as success.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures before opening
	MaxFailures int
	// CoolDown is how long the circuit stays open before probing
	CoolDown time.Duration
	// MaxProbes is how many concurrent requests half-open admits
	MaxProbes int
}

// DefaultBreakerConfig returns the production defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxFailures: 5,
		CoolDown:    30 * time.Second,
		MaxProbes:   1,
	}
}

// CircuitBreaker guards the gateway against hammering a dead upstream.
// Callers decide what counts as a failure: Allow admits or rejects the
// call, Record reports how it went.
type CircuitBreaker struct {
	mu       sync.Mutex
	state    BreakerState
	failures int
	probes   int
	openedAt time.Time
	cfg      BreakerConfig

	now func() time.Time // injectable for tests
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultBreakerConfig().MaxFailures
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = DefaultBreakerConfig().CoolDown
	}
	if cfg.MaxProbes <= 0 {
		cfg.MaxProbes = DefaultBreakerConfig().MaxProbes
	}
	return &CircuitBreaker{
		state: BreakerClosed,
		cfg:   cfg,
		now:   time.Now,
	}
}

// Allow reports whether a call may proceed. A rejected call must not call
// Record.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		return nil

	case BreakerOpen:
		if cb.now().Sub(cb.openedAt) < cb.cfg.CoolDown {
			return ErrBreakerOpen
		}
		cb.transition(BreakerHalfOpen)
		cb.probes++
		return nil

	case BreakerHalfOpen:
		if cb.probes >= cb.cfg.MaxProbes {
			return ErrBreakerOpen
		}
		cb.probes++
		return nil
	}
	return ErrBreakerOpen
}

// Record reports the outcome of an admitted call. failed must be true only
// for infrastructure failures (transport errors, 5xx); gateway declines are
// successes.
func (cb *CircuitBreaker) Record(failed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if failed {
		cb.failures++
		switch cb.state {
		case BreakerClosed:
			if cb.failures >= cb.cfg.MaxFailures {
				cb.transition(BreakerOpen)
			}
		case BreakerHalfOpen:
			// A failed probe reopens immediately
			cb.transition(BreakerOpen)
		}
		return
	}

	switch cb.state {
	case BreakerClosed:
		cb.failures = 0
	case BreakerHalfOpen:
		cb.transition(BreakerClosed)
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) transition(next BreakerState) {
	if cb.state == next {
		return
	}
	cb.state = next
	cb.failures = 0
	cb.probes = 0
	if next == BreakerOpen {
		cb.openedAt = cb.now()
	}
}
