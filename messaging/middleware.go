package messaging

import (
	"github.com/glimte/mmate-scopebus/contracts"
)

// Invocation describes one call of one subscriber within a dispatch pass
type Invocation struct {
	Scope          string
	Contract       contracts.Contract
	SubscriptionID string
	Args           []any
}

// Handler invokes a subscriber
type Handler interface {
	Invoke(inv Invocation) error
}

// HandlerFunc is a function adapter for Handler
type HandlerFunc func(inv Invocation) error

// Invoke implements Handler
func (f HandlerFunc) Invoke(inv Invocation) error {
	return f(inv)
}

// MiddlewareFunc wraps a subscriber invocation. Middleware runs on the
// dispatching goroutine, once per live subscriber.
type MiddlewareFunc func(inv Invocation, next Handler) error

// ErrorHandler receives subscriber failures observed during dispatch
type ErrorHandler func(err *SubscriberError)
