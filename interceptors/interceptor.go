package interceptors

import (
	"errors"
	"log/slog"
	"time"

	"github.com/glimte/mmate-scopebus/contracts"
	"github.com/glimte/mmate-scopebus/messaging"
)

// Interceptor processes a subscriber invocation before it reaches the subscriber
type Interceptor interface {
	// Intercept processes an invocation and calls the next handler in the chain
	Intercept(inv messaging.Invocation, next messaging.Handler) error

	// Name returns the interceptor name for logging and debugging
	Name() string
}

// InterceptorFunc is a function adapter for Interceptor
type InterceptorFunc struct {
	name string
	fn   func(inv messaging.Invocation, next messaging.Handler) error
}

// NewInterceptorFunc creates a new function-based interceptor
func NewInterceptorFunc(name string, fn func(inv messaging.Invocation, next messaging.Handler) error) *InterceptorFunc {
	return &InterceptorFunc{name: name, fn: fn}
}

// Intercept implements Interceptor
func (i *InterceptorFunc) Intercept(inv messaging.Invocation, next messaging.Handler) error {
	return i.fn(inv, next)
}

// Name implements Interceptor
func (i *InterceptorFunc) Name() string {
	return i.name
}

// InterceptorChain manages a chain of interceptors
type InterceptorChain struct {
	interceptors []Interceptor
	logger       *slog.Logger
}

// NewInterceptorChain creates a new interceptor chain
func NewInterceptorChain(logger *slog.Logger) *InterceptorChain {
	if logger == nil {
		logger = slog.Default()
	}

	return &InterceptorChain{
		interceptors: make([]Interceptor, 0),
		logger:       logger,
	}
}

// Add adds an interceptor to the chain
func (c *InterceptorChain) Add(interceptor Interceptor) *InterceptorChain {
	c.interceptors = append(c.interceptors, interceptor)
	return c
}

// Len returns the number of interceptors in the chain
func (c *InterceptorChain) Len() int {
	return len(c.interceptors)
}

// Execute executes the interceptor chain
func (c *InterceptorChain) Execute(inv messaging.Invocation, finalHandler messaging.Handler) error {
	if len(c.interceptors) == 0 {
		return finalHandler.Invoke(inv)
	}

	// Build the chain in reverse order
	handler := finalHandler
	for i := len(c.interceptors) - 1; i >= 0; i-- {
		interceptor := c.interceptors[i]
		currentHandler := handler
		handler = messaging.HandlerFunc(func(inv messaging.Invocation) error {
			return interceptor.Intercept(inv, currentHandler)
		})
	}

	return handler.Invoke(inv)
}

// Middleware adapts the chain for messaging.WithMiddleware
func (c *InterceptorChain) Middleware() messaging.MiddlewareFunc {
	return func(inv messaging.Invocation, next messaging.Handler) error {
		return c.Execute(inv, next)
	}
}

// Built-in interceptors

// LoggingInterceptor logs subscriber invocations
type LoggingInterceptor struct {
	logger *slog.Logger
}

// NewLoggingInterceptor creates a new logging interceptor
func NewLoggingInterceptor(logger *slog.Logger) *LoggingInterceptor {
	if logger == nil {
		logger = slog.Default()
	}

	return &LoggingInterceptor{logger: logger}
}

// Intercept implements Interceptor
func (i *LoggingInterceptor) Intercept(inv messaging.Invocation, next messaging.Handler) error {
	start := time.Now()

	err := next.Invoke(inv)
	duration := time.Since(start)

	if err != nil {
		i.logger.Error("invocation failed",
			"scope", inv.Scope,
			"contract", inv.Contract.Name(),
			"subscriptionId", inv.SubscriptionID,
			"duration", duration,
			"error", err,
		)
	} else {
		i.logger.Debug("invocation completed",
			"scope", inv.Scope,
			"contract", inv.Contract.Name(),
			"subscriptionId", inv.SubscriptionID,
			"duration", duration,
		)
	}

	return err
}

// Name implements Interceptor
func (i *LoggingInterceptor) Name() string {
	return "LoggingInterceptor"
}

// Error types recorded by MetricsInterceptor
const (
	ErrorTypeMismatch = "invocation_mismatch"
	ErrorTypePanic    = "panic"
	ErrorTypeFailure  = "handler_failure"
	ErrorTypeOpen     = "circuit_open"
	ErrorTypeFiltered = "filtered"
)

// MetricsInterceptor collects metrics about subscriber invocations
type MetricsInterceptor struct {
	collector MetricsCollector
}

// MetricsCollector defines the interface for collecting invocation metrics
type MetricsCollector interface {
	IncrementInvocationCount(contract string)
	RecordProcessingTime(contract string, duration time.Duration)
	IncrementErrorCount(contract string, errorType string)
}

// NewMetricsInterceptor creates a new metrics interceptor
func NewMetricsInterceptor(collector MetricsCollector) *MetricsInterceptor {
	return &MetricsInterceptor{collector: collector}
}

// Intercept implements Interceptor
func (i *MetricsInterceptor) Intercept(inv messaging.Invocation, next messaging.Handler) error {
	start := time.Now()
	contract := inv.Contract.Name()

	i.collector.IncrementInvocationCount(contract)

	err := next.Invoke(inv)
	duration := time.Since(start)

	i.collector.RecordProcessingTime(contract, duration)

	if err != nil {
		i.collector.IncrementErrorCount(contract, ErrorType(err))
	}

	return err
}

// Name implements Interceptor
func (i *MetricsInterceptor) Name() string {
	return "MetricsInterceptor"
}

// ErrorType names the metrics category of an invocation error
func ErrorType(err error) string {
	var panicErr *messaging.PanicError
	switch {
	case errors.Is(err, contracts.ErrArgumentMismatch):
		return ErrorTypeMismatch
	case errors.As(err, &panicErr):
		return ErrorTypePanic
	case errors.Is(err, ErrCircuitOpen):
		return ErrorTypeOpen
	case errors.Is(err, ErrFiltered):
		return ErrorTypeFiltered
	default:
		return ErrorTypeFailure
	}
}

// Default interceptor chain builder

// DefaultInterceptorChainBuilder builds a common interceptor chain
type DefaultInterceptorChainBuilder struct {
	chain  *InterceptorChain
	logger *slog.Logger
}

// NewDefaultInterceptorChainBuilder creates a new builder
func NewDefaultInterceptorChainBuilder(logger *slog.Logger) *DefaultInterceptorChainBuilder {
	if logger == nil {
		logger = slog.Default()
	}

	return &DefaultInterceptorChainBuilder{
		chain:  NewInterceptorChain(logger),
		logger: logger,
	}
}

// WithLogging adds logging interceptor
func (b *DefaultInterceptorChainBuilder) WithLogging() *DefaultInterceptorChainBuilder {
	b.chain.Add(NewLoggingInterceptor(b.logger))
	return b
}

// WithMetrics adds metrics interceptor
func (b *DefaultInterceptorChainBuilder) WithMetrics(collector MetricsCollector) *DefaultInterceptorChainBuilder {
	b.chain.Add(NewMetricsInterceptor(collector))
	return b
}

// WithFilter adds a filtering interceptor
func (b *DefaultInterceptorChainBuilder) WithFilter(filter InvocationFilter, skipBehavior SkipBehavior) *DefaultInterceptorChainBuilder {
	b.chain.Add(NewFilteringInterceptor(filter, skipBehavior).WithLogger(b.logger))
	return b
}

// WithCircuitBreaker adds a per-subscription circuit breaker
func (b *DefaultInterceptorChainBuilder) WithCircuitBreaker(options ...CircuitBreakerOption) *DefaultInterceptorChainBuilder {
	options = append([]CircuitBreakerOption{WithBreakerLogger(b.logger)}, options...)
	b.chain.Add(NewCircuitBreakerInterceptor(options...))
	return b
}

// WithCustom adds a custom interceptor
func (b *DefaultInterceptorChainBuilder) WithCustom(interceptor Interceptor) *DefaultInterceptorChainBuilder {
	b.chain.Add(interceptor)
	return b
}

// Build returns the built interceptor chain
func (b *DefaultInterceptorChainBuilder) Build() *InterceptorChain {
	return b.chain
}
