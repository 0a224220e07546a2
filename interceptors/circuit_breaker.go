package interceptors

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glimte/mmate-scopebus/messaging"
)

// ErrCircuitOpen is returned for invocations skipped by an open breaker
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state
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
		return "half-open"
	default:
		return "unknown"
	}
}

type breaker struct {
	state       State
	failures    int
	lastFailure time.Time
}

const defaultStaleFactor = 10

// CircuitBreakerInterceptor stops invoking a subscriber that keeps failing.
// Each subscription has its own breaker: after failureThreshold consecutive
// failures it opens and its invocations are skipped with ErrCircuitOpen.
// Once timeout has passed a single trial invocation is let through; success
// closes the breaker, failure or a panic opens it again.
//
// Breakers of subscriptions that have not failed for staleAfter are dropped,
// so unsubscribed or reclaimed subscriptions do not accumulate.
type CircuitBreakerInterceptor struct {
	mu               sync.Mutex
	breakers         map[string]*breaker
	failureThreshold int
	timeout          time.Duration
	staleAfter       time.Duration
	lastSweep        time.Time
	now              func() time.Time
	logger           *slog.Logger
}

// CircuitBreakerOption configures the circuit breaker
type CircuitBreakerOption func(*CircuitBreakerInterceptor)

// WithFailureThreshold sets the consecutive failures that open a breaker
func WithFailureThreshold(threshold int) CircuitBreakerOption {
	return func(i *CircuitBreakerInterceptor) {
		if threshold > 0 {
			i.failureThreshold = threshold
		}
	}
}

// WithTimeout sets how long a breaker stays open
func WithTimeout(timeout time.Duration) CircuitBreakerOption {
	return func(i *CircuitBreakerInterceptor) {
		i.timeout = timeout
	}
}

// WithStaleAfter sets how long an idle breaker is kept. It defaults to ten
// times the timeout.
func WithStaleAfter(d time.Duration) CircuitBreakerOption {
	return func(i *CircuitBreakerInterceptor) {
		i.staleAfter = d
	}
}

// WithBreakerLogger sets the logger for state changes
func WithBreakerLogger(logger *slog.Logger) CircuitBreakerOption {
	return func(i *CircuitBreakerInterceptor) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// NewCircuitBreakerInterceptor creates a new circuit breaker interceptor
func NewCircuitBreakerInterceptor(options ...CircuitBreakerOption) *CircuitBreakerInterceptor {
	i := &CircuitBreakerInterceptor{
		breakers:         make(map[string]*breaker),
		failureThreshold: 5,
		timeout:          30 * time.Second,
		now:              time.Now,
		logger:           slog.Default(),
	}

	for _, opt := range options {
		opt(i)
	}
	if i.staleAfter <= 0 {
		i.staleAfter = defaultStaleFactor * i.timeout
	}
	i.lastSweep = i.now()

	return i
}

// Intercept implements Interceptor
func (i *CircuitBreakerInterceptor) Intercept(inv messaging.Invocation, next messaging.Handler) (err error) {
	if err := i.allow(inv); err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			i.record(inv, &messaging.PanicError{Value: r})
			panic(r)
		}
		i.record(inv, err)
	}()

	return next.Invoke(inv)
}

// Name implements Interceptor
func (i *CircuitBreakerInterceptor) Name() string {
	return "CircuitBreakerInterceptor"
}

// State returns the breaker state of a subscription
func (i *CircuitBreakerInterceptor) State(subscriptionID string) State {
	i.mu.Lock()
	defer i.mu.Unlock()

	if b, ok := i.breakers[subscriptionID]; ok {
		return b.state
	}
	return StateClosed
}

// Reset closes every breaker
func (i *CircuitBreakerInterceptor) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()
	clear(i.breakers)
}

func (i *CircuitBreakerInterceptor) allow(inv messaging.Invocation) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	b, ok := i.breakers[inv.SubscriptionID]
	if !ok {
		return nil
	}

	switch b.state {
	case StateOpen:
		retryAt := b.lastFailure.Add(i.timeout)
		if i.now().Before(retryAt) {
			return fmt.Errorf("%w: subscription %s until %s", ErrCircuitOpen, inv.SubscriptionID, retryAt.Format(time.RFC3339))
		}
		i.transition(inv, b, StateHalfOpen)
		return nil
	case StateHalfOpen:
		// a trial invocation is already running
		return fmt.Errorf("%w: subscription %s is half-open", ErrCircuitOpen, inv.SubscriptionID)
	default:
		return nil
	}
}

func (i *CircuitBreakerInterceptor) record(inv messaging.Invocation, err error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.sweep()

	b, ok := i.breakers[inv.SubscriptionID]
	if err == nil {
		if ok {
			if b.state != StateClosed {
				i.transition(inv, b, StateClosed)
			}
			delete(i.breakers, inv.SubscriptionID)
		}
		return
	}

	if !ok {
		b = &breaker{state: StateClosed}
		i.breakers[inv.SubscriptionID] = b
	}
	b.failures++
	b.lastFailure = i.now()

	if b.state == StateHalfOpen || b.failures >= i.failureThreshold {
		if b.state != StateOpen {
			i.transition(inv, b, StateOpen)
		}
	}
}

// sweep drops breakers whose last failure is older than staleAfter. It runs
// at most once per staleAfter.
func (i *CircuitBreakerInterceptor) sweep() {
	now := i.now()
	if now.Sub(i.lastSweep) < i.staleAfter {
		return
	}
	i.lastSweep = now

	for id, b := range i.breakers {
		if now.Sub(b.lastFailure) >= i.staleAfter {
			delete(i.breakers, id)
		}
	}
}

func (i *CircuitBreakerInterceptor) transition(inv messaging.Invocation, b *breaker, to State) {
	i.logger.Warn("circuit breaker state changed",
		"scope", inv.Scope,
		"contract", inv.Contract.Name(),
		"subscriptionId", inv.SubscriptionID,
		"from", b.state.String(),
		"to", to.String(),
		"failures", b.failures,
	)
	b.state = to
}
