package provider

import (
	"context"
	"errors"
	"sync"
	"time"
)

// CircuitState represents the state of the circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitOpen                         // Failing, reject requests
	CircuitHalfOpen                     // Testing if the provider recovered
)

// CircuitBreakerConfig holds circuit breaker settings.
type CircuitBreakerConfig struct {
	Enabled          bool
	FailureThreshold int           // Number of failures before opening
	SuccessThreshold int           // Number of successes to close from half-open
	Timeout          time.Duration // How long to stay open before half-open
}

// ErrCircuitOpen is returned while the circuit is open.
var ErrCircuitOpen = errors.New("circuit breaker is open: provider unavailable")

// CircuitBreaker wraps a Provider with the circuit breaker pattern so a
// failing upstream trips fast instead of stacking up timed-out calls.
type CircuitBreaker struct {
	inner  Provider
	config CircuitBreakerConfig

	mu          sync.Mutex
	state       CircuitState
	failures    int
	successes   int
	lastFailure time.Time
}

// WithCircuitBreaker decorates a provider. When the config is disabled
// the provider is returned unwrapped.
func WithCircuitBreaker(inner Provider, config CircuitBreakerConfig) Provider {
	if !config.Enabled {
		return inner
	}
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold == 0 {
		config.SuccessThreshold = 2
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	return &CircuitBreaker{
		inner:  inner,
		config: config,
		state:  CircuitClosed,
	}
}

// Name returns the wrapped provider's identifier.
func (cb *CircuitBreaker) Name() string {
	return cb.inner.Name()
}

// Generate forwards to the wrapped provider unless the circuit is open.
func (cb *CircuitBreaker) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	if err := cb.allow(); err != nil {
		return "", err
	}

	out, err := cb.inner.Generate(ctx, prompt, opts)
	cb.record(err)
	return out, err
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen {
		if time.Since(cb.lastFailure) > cb.config.Timeout {
			cb.state = CircuitHalfOpen
			cb.successes = 0
		} else {
			return ErrCircuitOpen
		}
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failures++
		cb.lastFailure = time.Now()
		if cb.state == CircuitHalfOpen || cb.failures >= cb.config.FailureThreshold {
			cb.state = CircuitOpen
		}
		return
	}

	switch cb.state {
	case CircuitHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.state = CircuitClosed
			cb.failures = 0
		}
	case CircuitClosed:
		cb.failures = 0
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
