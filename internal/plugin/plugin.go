package plugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/lcnomoto/cctailpipe/pkg/types"
)

// Filter decides whether a record passes. Implementations may block (the
// sample filter waits on a rate limiter, a future filter might call out over
// the network), so they take a context. A filter failure is isolated to the
// invocation that produced it.
type Filter interface {
	// Name returns the instance name used as a lookup key.
	Name() string

	// Filter reports whether the record passes.
	Filter(ctx context.Context, rec *types.Record) (bool, error)
}

// Output consumes a record for a side effect.
type Output interface {
	// Name returns the instance name used as a lookup key.
	Name() string

	// Send delivers a single record to the output destination.
	Send(ctx context.Context, rec *types.Record) error

	// Close releases resources held by the output.
	Close() error
}

// FilterFactory constructs a filter instance from its JSON-encoded options.
type FilterFactory func(name string, options []byte) (Filter, error)

// OutputFactory constructs an output instance from its JSON-encoded options.
type OutputFactory func(name string, options []byte) (Output, error)

// Registry is the compile-time registration table mapping plugin kinds to
// factories. Plugin packages register their kinds at wiring time; no dynamic
// code loading is involved.
type Registry struct {
	mu          sync.RWMutex
	filterKinds map[string]FilterFactory
	outputKinds map[string]OutputFactory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		filterKinds: make(map[string]FilterFactory),
		outputKinds: make(map[string]OutputFactory),
	}
}

// RegisterFilterKind adds a filter factory under kind. Registering the same
// kind twice is a wiring bug.
func (r *Registry) RegisterFilterKind(kind string, factory FilterFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.filterKinds[kind]; exists {
		return fmt.Errorf("filter kind %q already registered", kind)
	}
	r.filterKinds[kind] = factory
	return nil
}

// RegisterOutputKind adds an output factory under kind.
func (r *Registry) RegisterOutputKind(kind string, factory OutputFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.outputKinds[kind]; exists {
		return fmt.Errorf("output kind %q already registered", kind)
	}
	r.outputKinds[kind] = factory
	return nil
}

// NewFilter constructs a named filter instance of the given kind.
func (r *Registry) NewFilter(kind, name string, options []byte) (Filter, error) {
	r.mu.RLock()
	factory, ok := r.filterKinds[kind]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown filter kind: %s", kind)
	}
	f, err := factory(name, options)
	if err != nil {
		return nil, fmt.Errorf("failed to construct filter %s (%s): %w", name, kind, err)
	}
	return f, nil
}

// NewOutput constructs a named output instance of the given kind.
func (r *Registry) NewOutput(kind, name string, options []byte) (Output, error) {
	r.mu.RLock()
	factory, ok := r.outputKinds[kind]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown output kind: %s", kind)
	}
	o, err := factory(name, options)
	if err != nil {
		return nil, fmt.Errorf("failed to construct output %s (%s): %w", name, kind, err)
	}
	return o, nil
}

// FilterKinds lists registered filter kinds.
func (r *Registry) FilterKinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.filterKinds))
	for k := range r.filterKinds {
		kinds = append(kinds, k)
	}
	return kinds
}

// OutputKinds lists registered output kinds.
func (r *Registry) OutputKinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.outputKinds))
	for k := range r.outputKinds {
		kinds = append(kinds, k)
	}
	return kinds
}
