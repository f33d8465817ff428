// Package callback implements asynchronous, cross-thread callback dispatch.
//
// A callback Interface declares a named, fixed-capacity list of subscriptions.
// Each subscription pairs a callback body with a Target: the execution context
// (normally a worker thread) that the body is marshaled to. Invoke copies the
// payload once per subscription and hands a Delivery to every subscriber's
// Target; the body later runs on that target, never on the caller.
//
// Deliveries aimed at the same target run in the order they were dispatched.
// There is no ordering across different targets.
package callback

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrCapacityExhausted is returned when an interface has no free subscription slot.
	ErrCapacityExhausted = errors.New("callback interface capacity exhausted")
	// ErrDuplicateSubscription is returned when the (callback, target) pair is already registered.
	ErrDuplicateSubscription = errors.New("duplicate callback subscription")
)

// Target runs deliveries on its own execution context. Dispatch must not run
// the delivery inline; it queues it and returns. Implementations must be
// comparable (pointer receivers), since subscription identity compares targets;
// Register panics on a target whose dynamic type is not.
type Target interface {
	Name() string
	Dispatch(d Delivery) error
}

// Delivery is one marshaled callback invocation. The target's consumer calls
// Run exactly once.
type Delivery struct {
	iface    string
	callback string
	run      func(ctx context.Context)
}

// NewDelivery wraps fn as a delivery. It's meant for targets and tests that
// need to push work through the same path as callback invocations.
func NewDelivery(iface, callback string, fn func(ctx context.Context)) Delivery {
	return Delivery{iface: iface, callback: callback, run: fn}
}

// Interface returns the name of the callback interface that produced the delivery.
func (d Delivery) Interface() string {
	return d.iface
}

// Callback returns the name of the callback body.
func (d Delivery) Callback() string {
	return d.callback
}

// Valid reports whether the delivery carries a body.
func (d Delivery) Valid() bool {
	return d.run != nil
}

// Run executes the callback body on the caller's goroutine.
func (d Delivery) Run(ctx context.Context) {
	if d.run != nil {
		d.run(ctx)
	}
}

// Callback is a named callback body. Its pointer is its identity: create it
// once and reuse the same value for Register, Lookup and timer calls.
type Callback[T any] struct {
	name string
	fn   func(ctx context.Context, payload T)
}

// New creates a callback body.
func New[T any](name string, fn func(ctx context.Context, payload T)) *Callback[T] {
	return &Callback[T]{name: name, fn: fn}
}

// Name returns the callback's name.
func (c *Callback[T]) Name() string {
	return c.name
}

// Cloner lets payload types that hold references provide a deep copy. Plain
// value types are copied by assignment.
type Cloner[T any] interface {
	Clone() T
}

func copyPayload[T any](v T) T { //nolint:ireturn
	if c, ok := any(v).(Cloner[T]); ok {
		return c.Clone()
	}

	return v
}

// Handle identifies one registered subscription. The zero Handle matches nothing.
type Handle struct {
	slot int
	id   uuid.UUID
}

// IsZero returns true for the zero Handle.
func (h Handle) IsZero() bool {
	return h.id == uuid.Nil
}

// Slot returns the subscription slot index inside its interface. Timer slots
// are co-indexed with it.
func (h Handle) Slot() int {
	return h.slot
}

func (h Handle) String() string {
	if h.IsZero() {
		return "handle(none)"
	}

	return fmt.Sprintf("handle(%d:%s)", h.slot, h.id)
}
