package clients

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/flowforge/flowforge/pkg/errors"
)

// CircuitState represents the state of a circuit breaker
type CircuitState int32

const (
	// StateClosed allows all requests to pass through
	StateClosed CircuitState = iota
	// StateOpen blocks all requests until the cooldown elapses
	StateOpen
	// StateHalfOpen allows probe requests to test recovery
	StateHalfOpen
)

func (s CircuitState) String() string {
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

// CircuitBreakerConfig tunes the breaker thresholds
type CircuitBreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening
	SuccessThreshold int           // consecutive successes before closing again
	Cooldown         time.Duration // time the circuit stays open
}

// DefaultCircuitBreakerConfig returns the thresholds used by connectors
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Cooldown:         30 * time.Second,
	}
}

// CircuitBreaker protects an origin from request storms after repeated
// failures. Closed passes everything, open rejects everything until the
// cooldown elapses, half-open lets probes through.
type CircuitBreaker struct {
	config CircuitBreakerConfig
	logger *zap.Logger

	mu            sync.Mutex
	state         CircuitState
	failures      int
	successes     int
	nextRetryTime time.Time
}

// NewCircuitBreaker creates a breaker in the closed state
func NewCircuitBreaker(config CircuitBreakerConfig, logger *zap.Logger) *CircuitBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CircuitBreaker{
		config: config,
		logger: logger.With(zap.String("component", "circuit_breaker")),
		state:  StateClosed,
	}
}

// Execute runs fn under breaker protection. When the circuit is open it
// fails fast with a transient error so callers can retry later.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.allow() {
		return errors.New(errors.ErrorTypeTransient, "circuit breaker is open")
	}

	err := fn()
	if err != nil {
		cb.recordFailure()
		return err
	}
	cb.recordSuccess()
	return nil
}

// State returns the current circuit state
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if time.Now().After(cb.nextRetryTime) {
			cb.state = StateHalfOpen
			cb.successes = 0
			cb.logger.Info("circuit breaker half-open")
			return true
		}
		return false
	default:
		return false
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	if cb.state == StateHalfOpen {
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.state = StateClosed
			cb.logger.Info("circuit breaker closed")
		}
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.successes = 0
	cb.failures++
	if cb.state == StateHalfOpen || cb.failures >= cb.config.FailureThreshold {
		cb.state = StateOpen
		cb.nextRetryTime = time.Now().Add(cb.config.Cooldown)
		cb.logger.Warn("circuit breaker opened",
			zap.Int("failures", cb.failures),
			zap.Time("next_retry", cb.nextRetryTime))
	}
}
