package contracts

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidContract is returned when a type cannot serve as a contract
	ErrInvalidContract = errors.New("invalid contract")

	// ErrArgumentMismatch is returned when dispatch arguments do not fit a contract
	ErrArgumentMismatch = errors.New("argument mismatch")
)

// ArgumentError describes why an argument list does not fit a contract
type ArgumentError struct {
	Contract Contract
	Position int // -1 when the argument count is wrong
	Reason   string
}

// Error implements error
func (e *ArgumentError) Error() string {
	if e.Position < 0 {
		return fmt.Sprintf("%s: %s: %s", ErrArgumentMismatch, e.Contract.Name(), e.Reason)
	}
	return fmt.Sprintf("%s: %s argument %d: %s", ErrArgumentMismatch, e.Contract.Name(), e.Position, e.Reason)
}

// Unwrap returns ErrArgumentMismatch
func (e *ArgumentError) Unwrap() error {
	return ErrArgumentMismatch
}
