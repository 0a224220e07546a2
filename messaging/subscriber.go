package messaging

import (
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"unsafe"
	"weak"

	"github.com/glimte/mmate-scopebus/contracts"
	"github.com/google/uuid"
)

// identity locates a subscription within a contract bucket. owner holds the
// ownerKey of a method subscription and nil for standalone handlers. Weak
// pointers made from the same *T compare equal.
type identity struct {
	owner any
	fn    uintptr
}

// invoker calls a subscriber's callable with a boxed argument list
type invoker func(owner any, args []any) error

// subscriber is one registration in a contract bucket
type subscriber struct {
	id       identity
	subID    string
	contract contracts.Contract

	// resolve reports the live owner, or false once the owner is gone.
	// Standalone subscribers always resolve to (nil, true).
	resolve func() (any, bool)
	invoke  invoker
}

func alwaysAlive() (any, bool) { return nil, true }

// funcID returns the address of fn's closure. Top-level functions and
// method expressions have a single static closure, so the value is stable
// for every reference to them; a capturing closure is identified by its own
// allocation, which the subscriber keeps reachable.
func funcID[F any](fn F) (uintptr, bool) {
	if reflect.TypeFor[F]().Kind() != reflect.Func {
		return 0, false
	}
	return *(*uintptr)(unsafe.Pointer(&fn)), true
}

func standaloneIdentity[F any](handler F) (identity, bool) {
	id, ok := funcID(handler)
	return identity{fn: id}, ok
}

func methodIdentity[T any, M any](owner *T, method M) (identity, bool) {
	id, ok := funcID(method)
	return identity{owner: ownerKey(owner), fn: id}, ok
}

// zeroSized keys owners of a zero-size type; all of them are interchangeable
type zeroSized[T any] struct{}

// ownerKey returns a weak pointer to owner when the runtime can track it.
// Values of a zero-size type share one address and pointers outside the
// heap, such as package-level variables, are never collected; weak.Make
// aborts the process on both, so they are keyed strongly instead.
func ownerKey[T any](owner *T) any {
	switch {
	case reflect.TypeFor[T]().Size() == 0:
		return zeroSized[T]{}
	case !weakable(owner):
		return owner
	default:
		return weak.Make(owner)
	}
}

// weakable reports whether owner points into the heap. AddCleanup returns
// the zero Cleanup for pointers it cannot track.
func weakable[T any](owner *T) bool {
	c := runtime.AddCleanup(owner, func(int) {}, 0)
	if c == (runtime.Cleanup{}) {
		return false
	}
	c.Stop()
	return true
}

// isMethodValue reports whether fn is a bound method value such as l.OnPing.
// The compiler implements those with a wrapper whose symbol ends in "-fm".
func isMethodValue(fn reflect.Value) bool {
	f := runtime.FuncForPC(fn.Pointer())
	return f != nil && strings.HasSuffix(f.Name(), "-fm")
}

func newStandalone[F any](c contracts.Contract, handler F) (*subscriber, error) {
	fn, err := handlerValue(c, handler, nil)
	if err != nil {
		return nil, err
	}
	if isMethodValue(fn) {
		return nil, fmt.Errorf("%w: %s is a bound method value, subscribe it with SubscribeMethod",
			ErrInvalidHandler, runtime.FuncForPC(fn.Pointer()).Name())
	}
	id, ok := standaloneIdentity(handler)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a function type", ErrInvalidHandler, handler)
	}

	return &subscriber{
		id:       id,
		subID:    uuid.New().String(),
		contract: c,
		resolve:  alwaysAlive,
		invoke:   newInvoker(c, fn, false),
	}, nil
}

func newMethod[T any, M any](c contracts.Contract, owner *T, method M) (*subscriber, error) {
	if owner == nil {
		return nil, ErrNilOwner
	}
	fn, err := handlerValue(c, method, reflect.TypeFor[*T]())
	if err != nil {
		return nil, err
	}
	id, ok := methodIdentity(owner, method)
	if !ok {
		return nil, fmt.Errorf("%w: method must be passed as a function value, not %s", ErrInvalidHandler, reflect.TypeFor[M]())
	}

	sub := &subscriber{
		id:       id,
		subID:    uuid.New().String(),
		contract: c,
		invoke:   newInvoker(c, fn, true),
	}

	wp, tracked := id.owner.(weak.Pointer[T])
	if !tracked {
		sub.resolve = func() (any, bool) { return owner, true }
		return sub, nil
	}

	// Only the weak pointer is captured; the subscription must not keep the
	// owner reachable.
	sub.resolve = func() (any, bool) {
		p := wp.Value()
		if p == nil {
			return nil, false
		}
		return p, true
	}
	return sub, nil
}

func handlerValue(c contracts.Contract, handler any, receiver reflect.Type) (reflect.Value, error) {
	fn := reflect.ValueOf(handler)
	if !fn.IsValid() || (fn.Kind() == reflect.Func && fn.IsNil()) {
		return reflect.Value{}, fmt.Errorf("%w: handler cannot be nil", ErrInvalidHandler)
	}
	if err := c.CheckHandler(fn.Type(), receiver); err != nil {
		return reflect.Value{}, fmt.Errorf("%w: %v", ErrInvalidHandler, err)
	}
	return fn, nil
}

var (
	plainFuncType = reflect.TypeFor[func()]()
	errorFuncType = reflect.TypeFor[func() error]()
)

// newInvoker builds the type-erased call path for fn once, at subscribe time.
// Arguments are checked against the contract before every call so a
// mismatch surfaces as contracts.ErrArgumentMismatch instead of a reflect panic.
func newInvoker(c contracts.Contract, fn reflect.Value, bound bool) invoker {
	returnsError := fn.Type().NumOut() == 1

	if !bound && c.NumParams() == 0 {
		if returnsError {
			call := fn.Convert(errorFuncType).Interface().(func() error)
			return func(_ any, args []any) error {
				if len(args) != 0 {
					return c.CheckArgs(args)
				}
				return call()
			}
		}

		call := fn.Convert(plainFuncType).Interface().(func())
		return func(_ any, args []any) error {
			if len(args) != 0 {
				return c.CheckArgs(args)
			}
			call()
			return nil
		}
	}

	return func(owner any, args []any) error {
		if err := c.CheckArgs(args); err != nil {
			return err
		}

		in := make([]reflect.Value, 0, len(args)+1)
		if bound {
			in = append(in, reflect.ValueOf(owner))
		}
		for i, arg := range args {
			if arg == nil {
				in = append(in, reflect.Zero(c.Param(i)))
				continue
			}
			in = append(in, reflect.ValueOf(arg))
		}

		out := fn.Call(in)
		if returnsError && !out[0].IsNil() {
			return out[0].Interface().(error)
		}
		return nil
	}
}
