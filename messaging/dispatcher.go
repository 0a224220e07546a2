package messaging

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/bits-and-blooms/bitset"
	"github.com/glimte/mmate-scopebus/contracts"
)

// Dispatcher owns the subscribers of one scope and delivers dispatched
// contracts to them.
//
// The lock only guards the subscriber map; handlers always run with no
// lock held, so they may subscribe, unsubscribe and dispatch reentrantly.
type Dispatcher struct {
	scope        string
	subscribers  map[contracts.Contract]map[identity]*subscriber
	mu           sync.Mutex
	logger       *slog.Logger
	middleware   []MiddlewareFunc
	errorHandler ErrorHandler
	metrics      MetricsCollector
	snapshots    sync.Pool
}

// DispatcherOption configures the Dispatcher
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the logger
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMiddleware adds middleware wrapped around every handler invocation
func WithMiddleware(middleware ...MiddlewareFunc) DispatcherOption {
	return func(d *Dispatcher) {
		d.middleware = append(d.middleware, middleware...)
	}
}

// WithErrorHandler receives every subscriber failure observed during dispatch
func WithErrorHandler(handler ErrorHandler) DispatcherOption {
	return func(d *Dispatcher) {
		d.errorHandler = handler
	}
}

// WithMetrics sets the metrics collector
func WithMetrics(collector MetricsCollector) DispatcherOption {
	return func(d *Dispatcher) {
		if collector != nil {
			d.metrics = collector
		}
	}
}

// NewDispatcher creates a dispatcher for scope
func NewDispatcher(scope string, options ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		scope:       scope,
		subscribers: make(map[contracts.Contract]map[identity]*subscriber),
		logger:      slog.Default(),
		metrics:     &NoOpMetricsCollector{},
	}
	d.snapshots.New = func() any { return new(snapshot) }

	for _, opt := range options {
		opt(d)
	}

	d.logger = d.logger.With("scope", scope)

	return d
}

// Scope returns the scope name the dispatcher was created for
func (d *Dispatcher) Scope() string {
	return d.scope
}

// Resolve implements Target
func (d *Dispatcher) Resolve() *Dispatcher {
	return d
}

func (d *Dispatcher) add(sub *subscriber) error {
	d.mu.Lock()
	bucket, exists := d.subscribers[sub.contract]
	if !exists {
		bucket = make(map[identity]*subscriber)
		d.subscribers[sub.contract] = bucket
	}
	if _, dup := bucket[sub.id]; dup {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s in scope %q", ErrDuplicateSubscription, sub.contract.Name(), d.scope)
	}
	bucket[sub.id] = sub
	d.mu.Unlock()

	d.metrics.RecordSubscription(d.scope, sub.contract.Name(), 1)
	d.logger.Debug("subscribed",
		"contract", sub.contract.Name(),
		"subscriptionId", sub.subID,
	)

	return nil
}

func (d *Dispatcher) remove(c contracts.Contract, id identity) {
	d.mu.Lock()
	bucket, exists := d.subscribers[c]
	if !exists {
		d.mu.Unlock()
		return
	}
	sub, found := bucket[id]
	if !found {
		d.mu.Unlock()
		return
	}
	delete(bucket, id)
	if len(bucket) == 0 {
		delete(d.subscribers, c)
	}
	d.mu.Unlock()

	d.metrics.RecordSubscription(d.scope, c.Name(), -1)
	d.logger.Debug("unsubscribed",
		"contract", c.Name(),
		"subscriptionId", sub.subID,
	)
}

// Dispatch invokes every live subscriber of c with args.
//
// Subscribers are taken from a snapshot made before the first invocation:
// each of them is attempted exactly once, and subscribers added while the
// pass runs are first invoked by the next Dispatch. Subscribers whose owner
// has been collected are skipped and removed. Failures of individual
// subscribers are reported to the logger and the error handler and never
// stop the pass.
func (d *Dispatcher) Dispatch(c contracts.Contract, args ...any) {
	snap := d.snapshot(c)
	if snap == nil {
		d.logger.Debug("no subscribers for contract", "contract", c.Name())
		return
	}
	defer d.release(snap)

	for i, sub := range snap.subs {
		owner, alive := sub.resolve()
		if !alive {
			snap.dead.Set(uint(i))
			continue
		}
		snap.owners[i] = owner
	}

	if snap.dead.Any() {
		d.reclaim(c, snap)
	}

	live := len(snap.subs) - int(snap.dead.Count())
	d.metrics.RecordDispatch(d.scope, c.Name(), live)

	for i, sub := range snap.subs {
		if snap.dead.Test(uint(i)) {
			continue
		}
		d.invoke(sub, snap.owners[i], args)
	}
}

// HasSubscribers reports whether c has at least one registered subscriber.
// Subscribers whose owner has been collected count until the next Dispatch
// of c reclaims them.
func (d *Dispatcher) HasSubscribers(c contracts.Contract) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, exists := d.subscribers[c]
	return exists
}

// SubscriberCount returns the number of registered subscribers of c
func (d *Dispatcher) SubscriberCount(c contracts.Contract) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.subscribers[c])
}

// Contracts returns all contracts that currently have subscribers
func (d *Dispatcher) Contracts() []contracts.Contract {
	d.mu.Lock()
	defer d.mu.Unlock()

	result := make([]contracts.Contract, 0, len(d.subscribers))
	for c := range d.subscribers {
		result = append(result, c)
	}
	return result
}

func (d *Dispatcher) invoke(sub *subscriber, owner any, args []any) {
	inv := Invocation{
		Scope:          d.scope,
		Contract:       sub.contract,
		SubscriptionID: sub.subID,
		Args:           args,
	}

	final := HandlerFunc(func(inv Invocation) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = &PanicError{Value: r}
			}
		}()
		return sub.invoke(owner, inv.Args)
	})

	if err := d.run(d.buildMiddlewareChain(final), inv); err != nil {
		d.report(&SubscriberError{
			Scope:          d.scope,
			Contract:       sub.contract,
			SubscriptionID: sub.subID,
			Kind:           classify(err),
			Err:            err,
		})
	}
}

// run isolates panics raised by middleware
func (d *Dispatcher) run(handler Handler, inv Invocation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return handler.Invoke(inv)
}

func (d *Dispatcher) report(err *SubscriberError) {
	d.logger.Error("subscriber failed",
		"contract", err.Contract.Name(),
		"subscriptionId", err.SubscriptionID,
		"kind", err.Kind.Error(),
		"error", err.Err,
	)

	if d.errorHandler != nil {
		d.errorHandler(err)
	}
}

// buildMiddlewareChain builds the middleware execution chain
func (d *Dispatcher) buildMiddlewareChain(handler Handler) Handler {
	if len(d.middleware) == 0 {
		return handler
	}

	// Build chain in reverse order
	result := handler
	for i := len(d.middleware) - 1; i >= 0; i-- {
		middleware := d.middleware[i]
		next := result
		result = HandlerFunc(func(inv Invocation) error {
			return middleware(inv, next)
		})
	}

	return result
}

// snapshot is the frozen subscriber list of one dispatch pass.
// owners pins live owners until the pass completes.
type snapshot struct {
	subs   []*subscriber
	owners []any
	dead   bitset.BitSet
}

func (d *Dispatcher) snapshot(c contracts.Contract) *snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	bucket, exists := d.subscribers[c]
	if !exists {
		return nil
	}

	snap := d.snapshots.Get().(*snapshot)
	for _, sub := range bucket {
		snap.subs = append(snap.subs, sub)
	}
	if cap(snap.owners) < len(snap.subs) {
		snap.owners = make([]any, len(snap.subs))
	} else {
		snap.owners = snap.owners[:len(snap.subs)]
	}
	return snap
}

func (d *Dispatcher) release(snap *snapshot) {
	// Clear references so pooled buffers do not keep owners alive.
	clear(snap.subs)
	clear(snap.owners)
	snap.subs = snap.subs[:0]
	snap.owners = snap.owners[:0]
	snap.dead.ClearAll()
	d.snapshots.Put(snap)
}

// reclaim prunes the snapshot's dead subscribers from the current bucket,
// which handlers may already have changed since the snapshot was taken.
func (d *Dispatcher) reclaim(c contracts.Contract, snap *snapshot) {
	d.mu.Lock()
	bucket := d.subscribers[c]
	removed := 0
	for i, ok := snap.dead.NextSet(0); ok; i, ok = snap.dead.NextSet(i + 1) {
		sub := snap.subs[i]
		if current, found := bucket[sub.id]; found && current == sub {
			delete(bucket, sub.id)
			removed++
		}
	}
	if bucket != nil && len(bucket) == 0 {
		delete(d.subscribers, c)
	}
	d.mu.Unlock()

	if removed > 0 {
		d.metrics.RecordReclaimed(d.scope, c.Name(), removed)
		d.logger.Debug("reclaimed subscribers",
			"contract", c.Name(),
			"count", removed,
		)
	}
}
