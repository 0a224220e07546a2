// Package messaging provides the scoped, typed in-process dispatcher.
//
// This package implements:
//   - Dispatcher: holds the subscribers of one scope and delivers dispatched contracts
//   - Registry: maps scope names to dispatchers, "" being the default scope
//   - Subscribe / SubscribeMethod: register standalone handlers or methods bound to an owner
//   - Unsubscribe / UnsubscribeMethod: idempotent removal by identity
//   - Publish: dispatch a contract by type
//   - Middleware: wrap every subscriber invocation for cross-cutting concerns
//
// Key behavior:
//   - Owners of method subscriptions are held weakly; subscriptions of
//     collected owners are removed lazily by the next dispatch
//   - Subscribing the same owner and callable twice fails with ErrDuplicateSubscription
//   - Dispatch works on a snapshot, so handlers may subscribe, unsubscribe
//     and dispatch while it runs
//   - A failing or panicking subscriber never stops the rest of the pass;
//     failures go to the logger and the optional ErrorHandler
//
// Example usage:
//
//	type Arguments func(x, y int)
//
//	registry := messaging.NewRegistry(messaging.WithRegistryLogger(logger))
//
//	err := messaging.Subscribe[Arguments](registry, func(x, y int) {
//		fmt.Println(x + y)
//	})
//
//	// Bind a method; the widget is not kept alive by the subscription
//	err = messaging.SubscribeMethod[Arguments](registry.GetDispatcher("ui"), widget, (*Widget).OnArguments)
//
//	messaging.Publish[Arguments](registry, 100, 200)
//	registry.GetDispatcher("ui").Dispatch(contracts.MustOf[Arguments](), 1, 2)
//
// Dispatch is synchronous: every handler has returned when Dispatch returns.
// Dispatchers are safe for concurrent use; their lock is never held while a
// handler runs.
package messaging
