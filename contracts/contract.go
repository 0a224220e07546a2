package contracts

import (
	"fmt"
	"reflect"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// Contract identifies a message shape: the ordered parameter list that
// publishers and subscribers of the contract agree on.
//
// A contract is declared as a named function type:
//
//	type Arguments func(x, y int)
//	type Ping func()
//	type Saved func(path string) error
//
// Contract values are comparable and safe to use as map keys. Two contracts
// are equal only when they were built from the same Go type.
type Contract struct {
	typ reflect.Type
}

// Of returns the contract declared by the function type F
func Of[F any]() (Contract, error) {
	return FromType(reflect.TypeFor[F]())
}

// MustOf is like Of but panics if F is not a valid contract type
func MustOf[F any]() Contract {
	c, err := Of[F]()
	if err != nil {
		panic(err)
	}
	return c
}

// FromType returns the contract declared by t
func FromType(t reflect.Type) (Contract, error) {
	if t == nil {
		return Contract{}, fmt.Errorf("%w: type cannot be nil", ErrInvalidContract)
	}
	if t.Kind() != reflect.Func {
		return Contract{}, fmt.Errorf("%w: %v is a %v, not a function type", ErrInvalidContract, t, t.Kind())
	}
	if t.IsVariadic() {
		return Contract{}, fmt.Errorf("%w: %v is variadic", ErrInvalidContract, t)
	}
	switch t.NumOut() {
	case 0:
	case 1:
		if t.Out(0) != errorType {
			return Contract{}, fmt.Errorf("%w: %v may only return error", ErrInvalidContract, t)
		}
	default:
		return Contract{}, fmt.Errorf("%w: %v returns %d values", ErrInvalidContract, t, t.NumOut())
	}

	return Contract{typ: t}, nil
}

// Type returns the function type the contract was declared with
func (c Contract) Type() reflect.Type {
	return c.typ
}

// IsZero reports whether c is the zero Contract
func (c Contract) IsZero() bool {
	return c.typ == nil
}

// Name returns the declared type name, or the function signature for
// unnamed contract types
func (c Contract) Name() string {
	if c.typ == nil {
		return ""
	}
	if name := c.typ.Name(); name != "" {
		return name
	}
	return c.typ.String()
}

// String returns the package qualified contract name
func (c Contract) String() string {
	if c.typ == nil {
		return "<nil contract>"
	}
	return c.typ.String()
}

// NumParams returns the number of positional arguments of the contract
func (c Contract) NumParams() int {
	if c.typ == nil {
		return 0
	}
	return c.typ.NumIn()
}

// Param returns the type of the i'th positional argument
func (c Contract) Param(i int) reflect.Type {
	return c.typ.In(i)
}

// ReturnsError reports whether handlers of the contract return an error
func (c Contract) ReturnsError() bool {
	return c.typ != nil && c.typ.NumOut() == 1
}

// CheckArgs verifies that args positionally match the contract's parameters.
// A nil argument is accepted for parameters whose kind can hold nil.
func (c Contract) CheckArgs(args []any) error {
	if c.typ == nil {
		return ErrInvalidContract
	}
	if len(args) != c.typ.NumIn() {
		return &ArgumentError{
			Contract: c,
			Position: -1,
			Reason:   fmt.Sprintf("expected %d arguments, got %d", c.typ.NumIn(), len(args)),
		}
	}

	for i, arg := range args {
		want := c.typ.In(i)
		if arg == nil {
			if !nilable(want) {
				return &ArgumentError{
					Contract: c,
					Position: i,
					Reason:   fmt.Sprintf("nil is not a valid %v", want),
				}
			}
			continue
		}
		if got := reflect.TypeOf(arg); !got.AssignableTo(want) {
			return &ArgumentError{
				Contract: c,
				Position: i,
				Reason:   fmt.Sprintf("%v is not assignable to %v", got, want),
			}
		}
	}

	return nil
}

// CheckHandler verifies that fn accepts exactly the contract's parameters.
// When receiver is non-nil fn must take it as an extra leading parameter,
// which is the shape of a method expression such as (*Widget).OnSaved.
// fn may return nothing or a single error.
func (c Contract) CheckHandler(fn reflect.Type, receiver reflect.Type) error {
	if c.typ == nil {
		return ErrInvalidContract
	}
	if fn == nil || fn.Kind() != reflect.Func {
		return fmt.Errorf("handler for %s must be a function, got %v", c.Name(), fn)
	}
	if fn.IsVariadic() {
		return fmt.Errorf("handler %v for %s cannot be variadic", fn, c.Name())
	}

	offset := 0
	if receiver != nil {
		offset = 1
		if fn.NumIn() == 0 || fn.In(0) != receiver {
			return fmt.Errorf("handler %v for %s must take %v as its first parameter", fn, c.Name(), receiver)
		}
	}

	if fn.NumIn()-offset != c.typ.NumIn() {
		return fmt.Errorf("handler %v takes %d parameters, %s has %d", fn, fn.NumIn()-offset, c.Name(), c.typ.NumIn())
	}
	for i := 0; i < c.typ.NumIn(); i++ {
		if fn.In(i+offset) != c.typ.In(i) {
			return fmt.Errorf("handler %v parameter %d is %v, %s expects %v", fn, i, fn.In(i+offset), c.Name(), c.typ.In(i))
		}
	}

	switch {
	case fn.NumOut() == 0:
	case fn.NumOut() == 1 && fn.Out(0) == errorType:
	default:
		return fmt.Errorf("handler %v for %s may only return error", fn, c.Name())
	}

	return nil
}

func nilable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Pointer, reflect.Slice, reflect.UnsafePointer:
		return true
	}
	return false
}
