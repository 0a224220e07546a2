package interceptors

import (
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/glimte/mmate-scopebus/contracts"
	"github.com/glimte/mmate-scopebus/messaging"
	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// Test contracts
type Arguments func(x, y int)

type Ping func()

// Mock handler
type mockHandler struct {
	mock.Mock
}

func (m *mockHandler) Invoke(inv messaging.Invocation) error {
	args := m.Called(inv)
	return args.Error(0)
}

// Mock metrics collector
type mockMetricsCollector struct {
	mock.Mock
}

func (m *mockMetricsCollector) IncrementInvocationCount(contract string) {
	m.Called(contract)
}

func (m *mockMetricsCollector) RecordProcessingTime(contract string, duration time.Duration) {
	m.Called(contract, duration)
}

func (m *mockMetricsCollector) IncrementErrorCount(contract string, errorType string) {
	m.Called(contract, errorType)
}

func testInvocation() messaging.Invocation {
	return messaging.Invocation{
		Scope:          "net",
		Contract:       contracts.MustOf[Arguments](),
		SubscriptionID: "sub-1",
		Args:           []any{1, 2},
	}
}

func TestInterceptorChain(t *testing.T) {
	t.Run("NewInterceptorChain creates empty chain", func(t *testing.T) {
		logger := slog.Default()
		chain := NewInterceptorChain(logger)

		assert.NotNil(t, chain)
		assert.Equal(t, logger, chain.logger)
		assert.Empty(t, chain.interceptors)
		assert.Equal(t, 0, chain.Len())
	})

	t.Run("NewInterceptorChain defaults nil logger", func(t *testing.T) {
		chain := NewInterceptorChain(nil)

		assert.NotNil(t, chain.logger)
	})

	t.Run("Execute with no interceptors calls final handler", func(t *testing.T) {
		chain := NewInterceptorChain(slogt.New(t))
		handler := &mockHandler{}
		inv := testInvocation()
		handler.On("Invoke", inv).Return(nil)

		err := chain.Execute(inv, handler)

		assert.NoError(t, err)
		handler.AssertExpectations(t)
	})

	t.Run("Execute runs interceptors in order", func(t *testing.T) {
		var order []string
		record := func(name string) Interceptor {
			return NewInterceptorFunc(name, func(inv messaging.Invocation, next messaging.Handler) error {
				order = append(order, name)
				return next.Invoke(inv)
			})
		}

		chain := NewInterceptorChain(slogt.New(t)).Add(record("first")).Add(record("second"))
		final := messaging.HandlerFunc(func(inv messaging.Invocation) error {
			order = append(order, "final")
			return nil
		})

		require.NoError(t, chain.Execute(testInvocation(), final))
		assert.Equal(t, []string{"first", "second", "final"}, order)
		assert.Equal(t, 2, chain.Len())
	})

	t.Run("Execute propagates errors", func(t *testing.T) {
		chain := NewInterceptorChain(slogt.New(t)).Add(NewLoggingInterceptor(slogt.New(t)))
		handler := &mockHandler{}
		failure := errors.New("handler error")
		handler.On("Invoke", mock.Anything).Return(failure)

		err := chain.Execute(testInvocation(), handler)

		assert.Equal(t, failure, err)
	})

	t.Run("InterceptorFunc reports its name", func(t *testing.T) {
		i := NewInterceptorFunc("custom", func(inv messaging.Invocation, next messaging.Handler) error {
			return next.Invoke(inv)
		})

		assert.Equal(t, "custom", i.Name())
	})
}

func TestChainAsMiddleware(t *testing.T) {
	t.Run("Chain runs around every subscriber of a dispatch", func(t *testing.T) {
		var seen []string
		chain := NewInterceptorChain(slogt.New(t)).Add(NewInterceptorFunc("record",
			func(inv messaging.Invocation, next messaging.Handler) error {
				seen = append(seen, inv.Scope+":"+inv.Contract.Name())
				return next.Invoke(inv)
			}))

		d := messaging.NewDispatcher("net",
			messaging.WithDispatcherLogger(slogt.New(t)),
			messaging.WithMiddleware(chain.Middleware()),
		)
		calls := 0
		require.NoError(t, messaging.Subscribe[Ping](d, func() { calls++ }))
		require.NoError(t, messaging.Subscribe[Ping](d, func() { calls++ }))

		messaging.Publish[Ping](d)

		assert.Equal(t, 2, calls)
		assert.Equal(t, []string{"net:Ping", "net:Ping"}, seen)
	})
}

func TestLoggingInterceptor(t *testing.T) {
	t.Run("Passes through results", func(t *testing.T) {
		i := NewLoggingInterceptor(slogt.New(t))
		handler := &mockHandler{}
		handler.On("Invoke", mock.Anything).Return(nil).Once()

		assert.NoError(t, i.Intercept(testInvocation(), handler))
		assert.Equal(t, "LoggingInterceptor", i.Name())
		handler.AssertExpectations(t)
	})

	t.Run("Defaults nil logger", func(t *testing.T) {
		i := NewLoggingInterceptor(nil)

		assert.NotNil(t, i.logger)
	})
}

func TestMetricsInterceptor(t *testing.T) {
	t.Run("Records successful invocation", func(t *testing.T) {
		collector := &mockMetricsCollector{}
		collector.On("IncrementInvocationCount", "Arguments").Once()
		collector.On("RecordProcessingTime", "Arguments", mock.AnythingOfType("time.Duration")).Once()

		handler := &mockHandler{}
		handler.On("Invoke", mock.Anything).Return(nil)

		err := NewMetricsInterceptor(collector).Intercept(testInvocation(), handler)

		assert.NoError(t, err)
		collector.AssertExpectations(t)
		collector.AssertNotCalled(t, "IncrementErrorCount", mock.Anything, mock.Anything)
	})

	t.Run("Records failures by error type", func(t *testing.T) {
		collector := &mockMetricsCollector{}
		collector.On("IncrementInvocationCount", "Arguments")
		collector.On("RecordProcessingTime", "Arguments", mock.Anything)
		collector.On("IncrementErrorCount", "Arguments", ErrorTypeFailure).Once()

		handler := &mockHandler{}
		handler.On("Invoke", mock.Anything).Return(errors.New("failed"))

		err := NewMetricsInterceptor(collector).Intercept(testInvocation(), handler)

		assert.Error(t, err)
		collector.AssertExpectations(t)
	})

	t.Run("ErrorType classifies invocation errors", func(t *testing.T) {
		mismatch := contracts.MustOf[Arguments]().CheckArgs([]any{1})

		assert.Equal(t, ErrorTypeMismatch, ErrorType(mismatch))
		assert.Equal(t, ErrorTypePanic, ErrorType(&messaging.PanicError{Value: "boom"}))
		assert.Equal(t, ErrorTypeOpen, ErrorType(fmt.Errorf("%w: sub-1", ErrCircuitOpen)))
		assert.Equal(t, ErrorTypeFiltered, ErrorType(fmt.Errorf("%w: sub-1", ErrFiltered)))
		assert.Equal(t, ErrorTypeFailure, ErrorType(errors.New("other")))
	})

	t.Run("Panics inside a dispatcher are counted", func(t *testing.T) {
		collector := &mockMetricsCollector{}
		collector.On("IncrementInvocationCount", "Ping").Once()
		collector.On("RecordProcessingTime", "Ping", mock.Anything).Once()
		collector.On("IncrementErrorCount", "Ping", ErrorTypePanic).Once()

		d := messaging.NewDispatcher("",
			messaging.WithDispatcherLogger(slogt.New(t)),
			messaging.WithMiddleware(NewInterceptorChain(slogt.New(t)).Add(NewMetricsInterceptor(collector)).Middleware()),
		)
		require.NoError(t, messaging.Subscribe[Ping](d, func() { panic("boom") }))

		messaging.Publish[Ping](d)

		collector.AssertExpectations(t)
	})
}

func TestDefaultInterceptorChainBuilder(t *testing.T) {
	t.Run("Builds chain with selected interceptors", func(t *testing.T) {
		collector := &mockMetricsCollector{}

		chain := NewDefaultInterceptorChainBuilder(slogt.New(t)).
			WithLogging().
			WithMetrics(collector).
			WithFilter(NewScopeFilter("net"), SkipSilently).
			WithCircuitBreaker(WithFailureThreshold(3)).
			WithCustom(NewInterceptorFunc("custom", func(inv messaging.Invocation, next messaging.Handler) error {
				return next.Invoke(inv)
			})).
			Build()

		require.Equal(t, 5, chain.Len())
		assert.Equal(t, "LoggingInterceptor", chain.interceptors[0].Name())
		assert.Equal(t, "MetricsInterceptor", chain.interceptors[1].Name())
		assert.Equal(t, "FilteringInterceptor", chain.interceptors[2].Name())
		assert.Equal(t, "CircuitBreakerInterceptor", chain.interceptors[3].Name())
		assert.Equal(t, "custom", chain.interceptors[4].Name())
	})

	t.Run("Nil logger is defaulted", func(t *testing.T) {
		b := NewDefaultInterceptorChainBuilder(nil)

		assert.NotNil(t, b.logger)
	})
}
