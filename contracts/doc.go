// Package contracts defines message contracts for the scopebus dispatcher.
//
// A contract is the parameter list that a publisher and its subscribers agree
// on. Contracts are declared as named function types and identified by Go
// type identity:
//   - Of / MustOf: obtain the Contract for a declared function type
//   - CheckArgs: validate a positional argument list before invocation
//   - CheckHandler: validate a handler or method expression at subscribe time
//
// Contracts are only ever used as lookup keys; they are never instantiated.
package contracts
