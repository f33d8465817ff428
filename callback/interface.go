package callback

import (
	"context"
	"fmt"
	"reflect"

	"facette.io/natsort"
	"github.com/amp-labs/amp-dispatch/assert"
	"github.com/amp-labs/amp-dispatch/errors"
	"github.com/amp-labs/amp-dispatch/logger"
	"github.com/google/uuid"
)

type subscription[T any] struct {
	id     uuid.UUID
	cb     *Callback[T]
	target Target
}

func (s *subscription[T]) active() bool {
	return s.id != uuid.Nil
}

// Interface is a declared callback interface carrying payloads of type T.
// Its capacity is fixed at declaration time.
type Interface[T any] struct {
	reg   *Registry
	name  string
	slots []subscription[T]
}

// NewInterface declares a callback interface on reg. Names must be unique per
// registry and capacity must be positive.
func NewInterface[T any](reg *Registry, name string, capacity int) *Interface[T] {
	assert.NotNil(reg, "callback interface %q needs a registry", name)
	assert.True(capacity > 0, "callback interface %q needs a positive capacity", name)

	iface := &Interface[T]{
		reg:   reg,
		name:  name,
		slots: make([]subscription[T], capacity),
	}

	reg.declare(name, iface)
	subscriptions.WithLabelValues(name).Set(0)

	return iface
}

// Name returns the interface name.
func (i *Interface[T]) Name() string {
	return i.name
}

// Capacity returns the maximum number of subscriptions.
func (i *Interface[T]) Capacity() int {
	return len(i.slots)
}

// Register subscribes cb to run on target whenever the interface is invoked.
// It fails with ErrCapacityExhausted when every slot is taken and with
// ErrDuplicateSubscription when the same pair is already registered.
func (i *Interface[T]) Register(cb *Callback[T], target Target) (Handle, error) {
	assert.NotNil(cb, "nil callback registered on %q", i.name)
	assert.NotNil(target, "nil target registered on %q", i.name)
	assert.True(reflect.TypeOf(target).Comparable(),
		"target %s on %q has a non-comparable type %T", target.Name(), i.name, target)

	i.reg.mu.Lock()
	defer i.reg.mu.Unlock()

	if i.reg.closed {
		return Handle{}, fmt.Errorf("register on %q: %w", i.name, errors.ErrClosed)
	}

	free := -1

	for idx := range i.slots {
		sub := &i.slots[idx]

		if !sub.active() {
			if free < 0 {
				free = idx
			}

			continue
		}

		if sub.cb == cb && sub.target == target {
			return Handle{}, fmt.Errorf("%w: %s on %s (%s)",
				ErrDuplicateSubscription, cb.name, target.Name(), i.name)
		}
	}

	if free < 0 {
		return Handle{}, fmt.Errorf("%w: %s (capacity %d)", ErrCapacityExhausted, i.name, len(i.slots))
	}

	id := uuid.New()
	i.slots[free] = subscription[T]{id: id, cb: cb, target: target}

	subscriptions.WithLabelValues(i.name).Inc()

	return Handle{slot: free, id: id}, nil
}

// Unregister removes the subscription identified by h. Unknown or stale
// handles are ignored.
func (i *Interface[T]) Unregister(h Handle) {
	if h.IsZero() {
		return
	}

	i.reg.mu.Lock()
	defer i.reg.mu.Unlock()

	i.unregisterLocked(h)
}

// UnregisterPair removes the subscription of the (cb, target) pair, if any.
func (i *Interface[T]) UnregisterPair(cb *Callback[T], target Target) {
	i.reg.mu.Lock()
	defer i.reg.mu.Unlock()

	if h, ok := i.lookupLocked(cb, target); ok {
		i.unregisterLocked(h)
	}
}

func (i *Interface[T]) unregisterLocked(h Handle) {
	if h.slot < 0 || h.slot >= len(i.slots) || i.slots[h.slot].id != h.id {
		return
	}

	i.slots[h.slot] = subscription[T]{}

	subscriptions.WithLabelValues(i.name).Dec()
}

// Lookup returns the handle of the (cb, target) pair if it is registered.
func (i *Interface[T]) Lookup(cb *Callback[T], target Target) (Handle, bool) {
	i.reg.mu.Lock()
	defer i.reg.mu.Unlock()

	return i.lookupLocked(cb, target)
}

func (i *Interface[T]) lookupLocked(cb *Callback[T], target Target) (Handle, bool) {
	for idx := range i.slots {
		sub := &i.slots[idx]
		if sub.active() && sub.cb == cb && sub.target == target {
			return Handle{slot: idx, id: sub.id}, true
		}
	}

	return Handle{}, false
}

// Registered reports whether h still identifies a live subscription.
func (i *Interface[T]) Registered(h Handle) bool {
	if h.IsZero() {
		return false
	}

	i.reg.mu.Lock()
	defer i.reg.mu.Unlock()

	return h.slot >= 0 && h.slot < len(i.slots) && i.slots[h.slot].id == h.id
}

// Len returns the number of live subscriptions.
func (i *Interface[T]) Len() int {
	i.reg.mu.Lock()
	defer i.reg.mu.Unlock()

	return i.count()
}

// Subscribers returns "callback@target" for each live subscription in
// natural sort order.
func (i *Interface[T]) Subscribers() []string {
	i.reg.mu.Lock()

	out := make([]string, 0, len(i.slots))

	for idx := range i.slots {
		sub := &i.slots[idx]
		if sub.active() {
			out = append(out, sub.cb.name+"@"+sub.target.Name())
		}
	}

	i.reg.mu.Unlock()

	natsort.Sort(out)

	return out
}

// Invoke hands a copy of payload to every current subscriber's target and
// returns without waiting for any of them to run. The caller may reuse
// payload as soon as Invoke returns.
func (i *Interface[T]) Invoke(ctx context.Context, payload T) {
	invocations.WithLabelValues(i.name).Inc()

	i.reg.mu.Lock()

	type pending struct {
		handle Handle
		sub    subscription[T]
	}

	subs := make([]pending, 0, len(i.slots))

	for idx := range i.slots {
		if i.slots[idx].active() {
			subs = append(subs, pending{
				handle: Handle{slot: idx, id: i.slots[idx].id},
				sub:    i.slots[idx],
			})
		}
	}

	i.reg.mu.Unlock()

	for _, p := range subs {
		i.dispatch(ctx, p.handle, p.sub, payload)
	}
}

// InvokeHandle dispatches payload to exactly the subscription identified by h.
// It returns false if h is no longer registered.
func (i *Interface[T]) InvokeHandle(ctx context.Context, h Handle, payload T) bool {
	if h.IsZero() {
		return false
	}

	i.reg.mu.Lock()

	if h.slot < 0 || h.slot >= len(i.slots) || i.slots[h.slot].id != h.id {
		i.reg.mu.Unlock()

		return false
	}

	sub := i.slots[h.slot]

	i.reg.mu.Unlock()

	invocations.WithLabelValues(i.name).Inc()
	i.dispatch(ctx, h, sub, payload)

	return true
}

func (i *Interface[T]) dispatch(ctx context.Context, h Handle, sub subscription[T], payload T) {
	data := copyPayload(payload)
	stale := i.reg.staleDelivery

	delivery := Delivery{
		iface:    i.name,
		callback: sub.cb.name,
		run: func(runCtx context.Context) {
			if !stale && !i.Registered(h) {
				staleDropped.WithLabelValues(i.name).Inc()
				logger.Get(runCtx).Debug("dropping delivery for unregistered subscription",
					"interface", i.name,
					"callback", sub.cb.name)

				return
			}

			sub.cb.fn(runCtx, data)
		},
	}

	err := sub.target.Dispatch(delivery)
	if err != nil {
		dispatchFailures.WithLabelValues(i.name, sub.target.Name()).Inc()
		logger.Get(ctx).Warn("callback dispatch failed",
			"interface", i.name,
			"callback", sub.cb.name,
			"target", sub.target.Name(),
			"error", err)

		return
	}

	dispatched.WithLabelValues(i.name, sub.target.Name()).Inc()
}

func (i *Interface[T]) count() int {
	n := 0

	for idx := range i.slots {
		if i.slots[idx].active() {
			n++
		}
	}

	return n
}

func (i *Interface[T]) reset() {
	for idx := range i.slots {
		i.slots[idx] = subscription[T]{}
	}

	subscriptions.WithLabelValues(i.name).Set(0)
}
