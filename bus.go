// Copyright 2024 Mmate Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package scopebus

import (
	"log/slog"

	"github.com/glimte/mmate-scopebus/contracts"
	"github.com/glimte/mmate-scopebus/interceptors"
	"github.com/glimte/mmate-scopebus/messaging"
	"github.com/glimte/mmate-scopebus/monitor"
)

// Bus provides the main entry point for scopebus. It owns a Registry whose
// dispatchers share the bus logger, metrics and interceptors.
//
// A *Bus is a messaging.Target resolving to the default scope:
//
//	bus := scopebus.New(scopebus.WithDefaultMetrics())
//	err := messaging.Subscribe[Arguments](bus, func(x, y int) { ... })
//	messaging.Publish[Arguments](bus, 100, 200)
type Bus struct {
	registry *messaging.Registry
	metrics  *monitor.SimpleMetricsCollector
}

// New creates a bus with options
func New(options ...Option) *Bus {
	cfg := &busConfig{
		logger: slog.Default(),
	}

	for _, opt := range options {
		opt(cfg)
	}

	chain := interceptors.NewInterceptorChain(cfg.logger)
	dispatcherOpts := []messaging.DispatcherOption{}

	if cfg.metrics != nil {
		chain.Add(interceptors.NewMetricsInterceptor(cfg.metrics))
		dispatcherOpts = append(dispatcherOpts, messaging.WithMetrics(cfg.metrics))
	}
	for _, i := range cfg.interceptors {
		chain.Add(i)
	}
	if chain.Len() > 0 {
		dispatcherOpts = append(dispatcherOpts, messaging.WithMiddleware(chain.Middleware()))
	}
	if cfg.errorHandler != nil {
		dispatcherOpts = append(dispatcherOpts, messaging.WithErrorHandler(cfg.errorHandler))
	}

	registry := messaging.NewRegistry(
		messaging.WithRegistryLogger(cfg.logger),
		messaging.WithDispatcherOptions(dispatcherOpts...),
	)

	cfg.logger.Debug("bus created",
		"interceptors", chain.Len(),
		"metrics", cfg.metrics != nil,
	)

	return &Bus{
		registry: registry,
		metrics:  cfg.metrics,
	}
}

// Registry returns the underlying scope registry
func (b *Bus) Registry() *messaging.Registry {
	return b.registry
}

// GetDispatcher returns the dispatcher for scope, creating it on first use
func (b *Bus) GetDispatcher(scope string) *messaging.Dispatcher {
	return b.registry.GetDispatcher(scope)
}

// Resolve implements messaging.Target with the default scope
func (b *Bus) Resolve() *messaging.Dispatcher {
	return b.registry.Default()
}

// Dispatch dispatches c with args in the default scope
func (b *Bus) Dispatch(c contracts.Contract, args ...any) {
	b.registry.Dispatch(c, args...)
}

// MetricsCollector returns the bus collector, or nil when metrics are disabled
func (b *Bus) MetricsCollector() *monitor.SimpleMetricsCollector {
	return b.metrics
}

// GetMetricsSummary returns collected metrics. It returns an empty summary
// when metrics are disabled.
func (b *Bus) GetMetricsSummary() monitor.MetricsSummary {
	if b.metrics == nil {
		return monitor.MetricsSummary{}
	}
	return b.metrics.GetMetricsSummary()
}

// busConfig holds bus configuration
type busConfig struct {
	logger       *slog.Logger
	metrics      *monitor.SimpleMetricsCollector
	interceptors []interceptors.Interceptor
	errorHandler messaging.ErrorHandler
}

// Option configures the bus
type Option func(*busConfig)

// WithLogger sets the logger for all components
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *busConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithDefaultLogger uses the default logger
func WithDefaultLogger() Option {
	return func(cfg *busConfig) {
		cfg.logger = slog.Default()
	}
}

// WithMetrics records dispatcher and invocation metrics into collector
func WithMetrics(collector *monitor.SimpleMetricsCollector) Option {
	return func(cfg *busConfig) {
		cfg.metrics = collector
	}
}

// WithDefaultMetrics records metrics into a new in-memory collector
func WithDefaultMetrics() Option {
	return func(cfg *busConfig) {
		cfg.metrics = monitor.NewSimpleMetricsCollector()
	}
}

// WithInterceptors adds interceptors run around every subscriber invocation.
// They run after the metrics interceptor, in the order given.
func WithInterceptors(list ...interceptors.Interceptor) Option {
	return func(cfg *busConfig) {
		cfg.interceptors = append(cfg.interceptors, list...)
	}
}

// WithErrorHandler receives every subscriber failure in every scope
func WithErrorHandler(handler messaging.ErrorHandler) Option {
	return func(cfg *busConfig) {
		cfg.errorHandler = handler
	}
}
