package callback

import (
	"sync"

	"github.com/amp-labs/amp-dispatch/assert"
)

// table is the type-erased view of an Interface the registry needs for
// bookkeeping and teardown.
type table interface {
	count() int
	reset()
}

// Registry owns every callback interface declared against it and the one
// mutex that guards their subscription tables.
type Registry struct {
	mu            sync.Mutex
	tables        map[string]table
	closed        bool
	staleDelivery bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithStaleDelivery controls what happens to a delivery whose subscription
// was unregistered after it was queued but before it ran. By default such
// deliveries are dropped when they reach the front of the queue. Passing true
// lets them run one last time.
func WithStaleDelivery(allow bool) Option {
	return func(r *Registry) {
		r.staleDelivery = allow
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		tables: make(map[string]table),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

func (r *Registry) declare(name string, t table) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, exists := r.tables[name]
	assert.False(exists, "callback interface %q declared twice", name)

	r.tables[name] = t
}

// Len returns the number of live subscriptions across all interfaces.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := 0
	for _, t := range r.tables {
		total += t.count()
	}

	return total
}

// Close drops every subscription. Later registrations fail with errors.ErrClosed.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range r.tables {
		t.reset()
	}

	r.closed = true
}

// Closed reports whether Close has been called.
func (r *Registry) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.closed
}
