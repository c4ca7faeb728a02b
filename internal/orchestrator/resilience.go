package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/agentic/conclave/internal/agent"
	"github.com/agentic/conclave/internal/observability"
)

// BreakerRegistry manages one circuit breaker per agent role. A role whose
// agents fail repeatedly is taken out of rotation for a cooldown window
// instead of burning retry budgets on it.
type BreakerRegistry struct {
	mu       sync.Mutex
	log      *observability.Logger
	breakers map[agent.Role]*gobreaker.CircuitBreaker
}

// NewBreakerRegistry creates a breaker registry.
func NewBreakerRegistry(log *observability.Logger) *BreakerRegistry {
	if log == nil {
		log = observability.NewLogger("breaker", nil)
	}
	return &BreakerRegistry{
		log:      log,
		breakers: make(map[agent.Role]*gobreaker.CircuitBreaker),
	}
}

// Get returns the breaker for a role, creating it on first use.
func (r *BreakerRegistry) Get(role agent.Role) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[role]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        string(role),
		MaxRequests: 3,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.log.Warn("circuit breaker state change", "role", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			// Caller cancellation is not an agent failure.
			if err == nil || errors.Is(err, context.Canceled) {
				return true
			}
			return false
		},
	})
	r.breakers[role] = cb
	return cb
}

// retryBackOff returns the pacing policy applied between sub-task retry
// attempts. The attempt count is bounded separately; MaxElapsedTime stays
// unset so the per-task timeout is the only wall clock limit.
func retryBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.Multiplier = 2.0
	bo.RandomizationFactor = 0.5
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// pause waits for the next backoff interval or until the context ends.
func pause(ctx context.Context, bo backoff.BackOff) error {
	wait := bo.NextBackOff()
	if wait == backoff.Stop {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
