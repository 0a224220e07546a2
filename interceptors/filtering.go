package interceptors

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/glimte/mmate-scopebus/contracts"
	"github.com/glimte/mmate-scopebus/messaging"
)

// ErrFiltered is returned by a FilteringInterceptor configured with SkipWithError
var ErrFiltered = errors.New("invocation filtered")

// InvocationFilter defines the interface for invocation filtering
type InvocationFilter interface {
	// ShouldProcess returns true if the invocation should reach the subscriber
	ShouldProcess(inv messaging.Invocation) (bool, error)
}

// InvocationFilterFunc is a function adapter for InvocationFilter
type InvocationFilterFunc func(inv messaging.Invocation) (bool, error)

// ShouldProcess implements InvocationFilter
func (f InvocationFilterFunc) ShouldProcess(inv messaging.Invocation) (bool, error) {
	return f(inv)
}

// FilteringInterceptor filters invocations based on conditions
type FilteringInterceptor struct {
	filter       InvocationFilter
	skipBehavior SkipBehavior
	logger       *slog.Logger
}

// SkipBehavior defines what happens when an invocation is filtered out
type SkipBehavior int

const (
	// SkipSilently skips the invocation without error
	SkipSilently SkipBehavior = iota
	// SkipWithError returns ErrFiltered, which the dispatcher reports
	SkipWithError
	// SkipWithLog logs that the invocation was skipped
	SkipWithLog
)

// NewFilteringInterceptor creates a new filtering interceptor
func NewFilteringInterceptor(filter InvocationFilter, skipBehavior SkipBehavior) *FilteringInterceptor {
	return &FilteringInterceptor{
		filter:       filter,
		skipBehavior: skipBehavior,
		logger:       slog.Default(),
	}
}

// WithLogger sets the logger used by SkipWithLog
func (i *FilteringInterceptor) WithLogger(logger *slog.Logger) *FilteringInterceptor {
	if logger != nil {
		i.logger = logger
	}
	return i
}

// Intercept implements Interceptor
func (i *FilteringInterceptor) Intercept(inv messaging.Invocation, next messaging.Handler) error {
	shouldProcess, err := i.filter.ShouldProcess(inv)
	if err != nil {
		return fmt.Errorf("filter error: %w", err)
	}

	if !shouldProcess {
		switch i.skipBehavior {
		case SkipWithError:
			return fmt.Errorf("%w: scope=%q contract=%s", ErrFiltered, inv.Scope, inv.Contract.Name())
		case SkipWithLog:
			i.logger.Info("invocation skipped",
				"scope", inv.Scope,
				"contract", inv.Contract.Name(),
				"subscriptionId", inv.SubscriptionID,
			)
			return nil
		default: // SkipSilently
			return nil
		}
	}

	return next.Invoke(inv)
}

// Name implements Interceptor
func (i *FilteringInterceptor) Name() string {
	return "FilteringInterceptor"
}

// AllOf passes an invocation only when every filter passes it. Filters are
// evaluated in order and stop at the first rejection or error.
func AllOf(filters ...InvocationFilter) InvocationFilter {
	return InvocationFilterFunc(func(inv messaging.Invocation) (bool, error) {
		for _, filter := range filters {
			if ok, err := filter.ShouldProcess(inv); err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	})
}

// AnyOf passes an invocation when at least one filter passes it
func AnyOf(filters ...InvocationFilter) InvocationFilter {
	return InvocationFilterFunc(func(inv messaging.Invocation) (bool, error) {
		for _, filter := range filters {
			if ok, err := filter.ShouldProcess(inv); err != nil || ok {
				return ok, err
			}
		}
		return false, nil
	})
}

// Not inverts filter. Errors are passed through.
func Not(filter InvocationFilter) InvocationFilter {
	return InvocationFilterFunc(func(inv messaging.Invocation) (bool, error) {
		ok, err := filter.ShouldProcess(inv)
		return !ok && err == nil, err
	})
}

// ContractFilter only allows invocations of specific contracts
type ContractFilter struct {
	allowed map[contracts.Contract]bool
}

// NewContractFilter creates a filter that only allows the given contracts
func NewContractFilter(allowed ...contracts.Contract) *ContractFilter {
	m := make(map[contracts.Contract]bool, len(allowed))
	for _, c := range allowed {
		m[c] = true
	}
	return &ContractFilter{allowed: m}
}

// ShouldProcess implements InvocationFilter
func (f *ContractFilter) ShouldProcess(inv messaging.Invocation) (bool, error) {
	return f.allowed[inv.Contract], nil
}

// ScopeFilter only allows invocations in specific scopes
type ScopeFilter struct {
	allowed map[string]bool
}

// NewScopeFilter creates a filter that only allows the given scopes
func NewScopeFilter(scopes ...string) *ScopeFilter {
	m := make(map[string]bool, len(scopes))
	for _, s := range scopes {
		m[s] = true
	}
	return &ScopeFilter{allowed: m}
}

// ShouldProcess implements InvocationFilter
func (f *ScopeFilter) ShouldProcess(inv messaging.Invocation) (bool, error) {
	return f.allowed[inv.Scope], nil
}

// ArgumentFilter passes invocations whose argument at a position matches.
// Invocations with fewer arguments are rejected.
type ArgumentFilter struct {
	position int
	match    func(arg any) bool
}

// NewArgumentFilter creates a filter on the argument at position
func NewArgumentFilter(position int, match func(arg any) bool) *ArgumentFilter {
	return &ArgumentFilter{position: position, match: match}
}

// ShouldProcess implements InvocationFilter
func (f *ArgumentFilter) ShouldProcess(inv messaging.Invocation) (bool, error) {
	if f.position < 0 || f.position >= len(inv.Args) {
		return false, nil
	}
	return f.match(inv.Args[f.position]), nil
}

// When runs interceptor only for invocations that condition passes; the
// others go straight to the next handler.
func When(condition InvocationFilter, interceptor Interceptor) Interceptor {
	name := fmt.Sprintf("When[%s]", interceptor.Name())
	return NewInterceptorFunc(name, func(inv messaging.Invocation, next messaging.Handler) error {
		apply, err := condition.ShouldProcess(inv)
		if err != nil {
			return fmt.Errorf("condition for %s on %s: %w", interceptor.Name(), inv.Contract.Name(), err)
		}
		if !apply {
			return next.Invoke(inv)
		}
		return interceptor.Intercept(inv, next)
	})
}

// ForContracts runs interceptor only for invocations of the given contracts
func ForContracts(interceptor Interceptor, allowed ...contracts.Contract) Interceptor {
	return When(NewContractFilter(allowed...), interceptor)
}
