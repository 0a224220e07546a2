package messaging

import (
	"github.com/glimte/mmate-scopebus/contracts"
)

// Target resolves the dispatcher an operation applies to.
// A *Dispatcher resolves to itself and a *Registry to its default scope.
type Target interface {
	Resolve() *Dispatcher
}

// Subscribe registers a standalone handler for the contract F.
//
//	type Arguments func(x, y int)
//
//	err := messaging.Subscribe[Arguments](registry, func(x, y int) { ... })
//
// Subscribing the same function value twice fails with
// ErrDuplicateSubscription. Bound method values such as w.OnArguments are
// rejected with ErrInvalidHandler; subscribe methods with SubscribeMethod.
func Subscribe[F any](t Target, handler F) error {
	c, err := contracts.Of[F]()
	if err != nil {
		return err
	}
	sub, err := newStandalone(c, handler)
	if err != nil {
		return err
	}
	return t.Resolve().add(sub)
}

// Unsubscribe removes a standalone handler of F. Removing a handler that is
// not subscribed is a no-op.
func Unsubscribe[F any](t Target, handler F) {
	c, err := contracts.Of[F]()
	if err != nil {
		return
	}
	id, ok := standaloneIdentity(handler)
	if !ok {
		return
	}
	t.Resolve().remove(c, id)
}

// SubscribeMethod registers method for the contract F, bound to owner.
// method is a method expression taking owner as its first parameter followed
// by the parameters of F:
//
//	err := messaging.SubscribeMethod[Arguments](registry, w, (*Widget).OnArguments)
//
// The dispatcher holds owner weakly. Once owner is garbage collected the
// subscription is skipped and removed by the next dispatch of F. Owners of a
// zero-size type and owners outside the heap, such as package-level
// variables, cannot be tracked weakly; they are held strongly and stay
// subscribed until UnsubscribeMethod.
func SubscribeMethod[F any, T any, M any](t Target, owner *T, method M) error {
	c, err := contracts.Of[F]()
	if err != nil {
		return err
	}
	sub, err := newMethod(c, owner, method)
	if err != nil {
		return err
	}
	return t.Resolve().add(sub)
}

// UnsubscribeMethod removes the subscription of method bound to owner.
// Removing a subscription that is not present, for instance because its
// owner was already reclaimed, is a no-op.
func UnsubscribeMethod[F any, T any, M any](t Target, owner *T, method M) {
	c, err := contracts.Of[F]()
	if err != nil || owner == nil {
		return
	}
	id, ok := methodIdentity(owner, method)
	if !ok {
		return
	}
	t.Resolve().remove(c, id)
}

// Publish dispatches the contract F with args. An invalid contract type is
// logged and ignored.
func Publish[F any](t Target, args ...any) {
	d := t.Resolve()
	c, err := contracts.Of[F]()
	if err != nil {
		d.logger.Error("cannot publish", "error", err)
		return
	}
	d.Dispatch(c, args...)
}
