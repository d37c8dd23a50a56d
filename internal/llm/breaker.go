package llm

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// Defaults per the circuit breaker contract.
const (
	DefaultFailureThreshold  = 5
	DefaultResetTimeout      = 60 * time.Second
	DefaultHalfOpenSuccesses = 3
)

// ErrCircuitOpen is the distinct error surfaced while a provider's breaker
// is open.
var ErrCircuitOpen = gobreaker.ErrOpenState

// breakerRegistry lazily creates one circuit breaker per provider name.
type breakerRegistry struct {
	mu                sync.Mutex
	breakers          map[string]*gobreaker.CircuitBreaker
	failureThreshold  uint32
	resetTimeout      time.Duration
	halfOpenSuccesses uint32
}

func newBreakerRegistry(failureThreshold uint32, resetTimeout time.Duration) *breakerRegistry {
	if failureThreshold == 0 {
		failureThreshold = DefaultFailureThreshold
	}
	if resetTimeout <= 0 {
		resetTimeout = DefaultResetTimeout
	}
	return &breakerRegistry{
		breakers:          make(map[string]*gobreaker.CircuitBreaker),
		failureThreshold:  failureThreshold,
		resetTimeout:      resetTimeout,
		halfOpenSuccesses: DefaultHalfOpenSuccesses,
	}
}

func (r *breakerRegistry) get(provider string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[provider]; ok {
		return cb
	}
	threshold := r.failureThreshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        provider,
		MaxRequests: r.halfOpenSuccesses,
		Timeout:     r.resetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
	})
	r.breakers[provider] = cb
	return cb
}

func (r *breakerRegistry) execute(provider string, fn func() (interface{}, error)) (interface{}, error) {
	return r.get(provider).Execute(fn)
}
