package messaging

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/glimte/mmate-scopebus/contracts"
)

// DefaultScope is the scope used by the Registry's convenience forms
const DefaultScope = ""

// Registry maps scope names to their Dispatcher. A dispatcher is created on
// first reference and lives as long as the registry.
type Registry struct {
	dispatchers       map[string]*Dispatcher
	mu                sync.RWMutex
	logger            *slog.Logger
	dispatcherOptions []DispatcherOption
}

// RegistryOption configures the Registry
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger used by the registry and its dispatchers
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithDispatcherOptions applies options to every dispatcher the registry creates
func WithDispatcherOptions(options ...DispatcherOption) RegistryOption {
	return func(r *Registry) {
		r.dispatcherOptions = append(r.dispatcherOptions, options...)
	}
}

// NewRegistry creates an empty registry
func NewRegistry(options ...RegistryOption) *Registry {
	r := &Registry{
		dispatchers: make(map[string]*Dispatcher),
		logger:      slog.Default(),
	}

	for _, opt := range options {
		opt(r)
	}

	return r
}

// GetDispatcher returns the dispatcher for scope, creating it if needed.
// Every call with the same scope returns the same dispatcher.
func (r *Registry) GetDispatcher(scope string) *Dispatcher {
	r.mu.RLock()
	d, exists := r.dispatchers[scope]
	r.mu.RUnlock()
	if exists {
		return d
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if d, exists := r.dispatchers[scope]; exists {
		return d
	}

	options := make([]DispatcherOption, 0, len(r.dispatcherOptions)+1)
	options = append(options, WithDispatcherLogger(r.logger))
	options = append(options, r.dispatcherOptions...)

	d = NewDispatcher(scope, options...)
	r.dispatchers[scope] = d

	r.logger.Debug("created dispatcher", "scope", scope)

	return d
}

// Default returns the dispatcher of the default scope
func (r *Registry) Default() *Dispatcher {
	return r.GetDispatcher(DefaultScope)
}

// Resolve implements Target with the default scope
func (r *Registry) Resolve() *Dispatcher {
	return r.Default()
}

// Dispatch dispatches c in the default scope
func (r *Registry) Dispatch(c contracts.Contract, args ...any) {
	r.Default().Dispatch(c, args...)
}

// Scopes returns the names of all scopes that have a dispatcher, sorted
func (r *Registry) Scopes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	scopes := make([]string, 0, len(r.dispatchers))
	for scope := range r.dispatchers {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)
	return scopes
}
