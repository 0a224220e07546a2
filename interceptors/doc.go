// Package interceptors provides a flexible interceptor system for subscriber invocations.
//
// Interceptors add cross-cutting concerns to dispatch without modifying
// subscribers. A chain is installed on a dispatcher as middleware and runs
// once for every live subscriber of a dispatch pass.
//
// Built-in interceptors:
//   - LoggingInterceptor: Logs invocations with timing information
//   - MetricsInterceptor: Counts invocations, processing time and errors per contract
//   - FilteringInterceptor: Skips invocations by contract, scope, argument or custom filters
//   - When, ForContracts: Run an interceptor only for matching invocations
//   - CircuitBreakerInterceptor: Stops invoking a subscription that keeps failing
//
// Example usage:
//
//	chain := interceptors.NewDefaultInterceptorChainBuilder(logger).
//		WithLogging().
//		WithMetrics(collector).
//		WithFilter(interceptors.NewScopeFilter("ui"), interceptors.SkipWithLog).
//		Build()
//
//	registry := messaging.NewRegistry(
//		messaging.WithDispatcherOptions(messaging.WithMiddleware(chain.Middleware())),
//	)
//
// Interceptors are executed in the order they are added to the chain, with the
// subscriber being called last.
package interceptors
