package messaging

import (
	"errors"
	"fmt"

	"github.com/glimte/mmate-scopebus/contracts"
)

var (
	// ErrDuplicateSubscription is returned when the same owner and callable
	// are subscribed twice to one contract in one scope
	ErrDuplicateSubscription = errors.New("duplicate subscription")

	// ErrInvocationMismatch is reported when dispatch arguments do not fit a
	// subscriber's parameters
	ErrInvocationMismatch = errors.New("invocation mismatch")

	// ErrHandlerFailure is reported when a subscriber returns an error or panics
	ErrHandlerFailure = errors.New("handler failure")

	// ErrInvalidHandler is returned when a callable cannot serve a contract
	ErrInvalidHandler = errors.New("invalid handler")

	// ErrNilOwner is returned when a method subscription has no owner
	ErrNilOwner = errors.New("owner cannot be nil")
)

// SubscriberError describes a failure of a single subscriber during dispatch.
// It matches both its Kind and its cause with errors.Is.
type SubscriberError struct {
	Scope          string
	Contract       contracts.Contract
	SubscriptionID string
	Kind           error // ErrInvocationMismatch or ErrHandlerFailure
	Err            error
}

// Error implements error
func (e *SubscriberError) Error() string {
	return fmt.Sprintf("%s: scope=%q contract=%s subscription=%s: %v",
		e.Kind, e.Scope, e.Contract.Name(), e.SubscriptionID, e.Err)
}

// Unwrap returns the kind and the cause
func (e *SubscriberError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// PanicError wraps a value recovered from a panicking subscriber
type PanicError struct {
	Value any
}

// Error implements error
func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panicked: %v", e.Value)
}

// Unwrap returns the panic value when it is an error
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

func classify(err error) error {
	if errors.Is(err, contracts.ErrArgumentMismatch) {
		return ErrInvocationMismatch
	}
	return ErrHandlerFailure
}
