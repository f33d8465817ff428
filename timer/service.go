// Package timer implements periodic timers that fire callbacks on worker
// threads.
//
// A Service owns a callback interface with a fixed number of slots and a bank
// of timer slots co-indexed with it: the subscription in slot i is fired by
// timer slot i. Timers are scanned by ProcessTimers, which worker threads call
// on every tick, so a timer is never more precise than the tick interval.
package timer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/amp-labs/amp-dispatch/assert"
	"github.com/amp-labs/amp-dispatch/callback"
	commonerrors "github.com/amp-labs/amp-dispatch/errors"
	"github.com/amp-labs/amp-dispatch/envutil"
	"github.com/amp-labs/amp-dispatch/logger"
)

// DefaultSlots is the timer capacity used when neither WithSlots nor
// TIMER_SLOTS says otherwise.
const DefaultSlots = 5

var (
	// ErrTimerActive is returned by Start when the pair already has a running timer.
	ErrTimerActive = errors.New("timer already active")
	// ErrZeroTimeout is returned by Start for a zero period.
	ErrZeroTimeout = errors.New("timer timeout must be positive")

	errNoSlots = errors.New("timer slots must be positive")
)

// Callback is the body a timer fires. Timers carry no payload.
type Callback = callback.Callback[struct{}]

// NewCallback creates a timer callback body.
func NewCallback(name string, fn func(ctx context.Context)) *Callback {
	return callback.New(name, func(ctx context.Context, _ struct{}) { fn(ctx) })
}

type slot struct {
	enabled bool
	handle  callback.Handle
	name    string
	anchor  Ticks
	timeout Ticks
}

// Service is a bank of periodic timers.
type Service struct {
	name  string
	clock Clock
	ctx   context.Context //nolint:containedctx

	mu     sync.Mutex
	iface  *callback.Interface[struct{}]
	slots  []slot
	closed bool
}

type options struct {
	name  string
	clock Clock
	slots int
}

// Option configures a Service.
type Option func(*options)

// WithClock replaces the monotonic clock, mostly for tests.
func WithClock(c Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithSlots sets how many timers can be armed at once.
func WithSlots(n int) Option {
	return func(o *options) {
		o.slots = n
	}
}

// WithName names the service and its callback interface. Two services on the
// same registry need different names.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// New creates a timer service whose callback interface is declared on reg.
func New(reg *callback.Registry, opts ...Option) *Service {
	slots := envutil.Int("TIMER_SLOTS",
		envutil.Default(DefaultSlots),
		envutil.Validate(positiveSlots)).ValueOrElse(DefaultSlots)

	o := &options{
		name:  "timers",
		slots: slots,
	}

	for _, opt := range opts {
		opt(o)
	}

	assert.True(o.slots > 0, "timer service %q needs at least one slot", o.name)

	if o.clock == nil {
		o.clock = NewMonotonicClock()
	}

	svc := &Service{
		name:  o.name,
		clock: o.clock,
		ctx:   logger.WithSubsystem(context.Background(), "timer"),
		iface: callback.NewInterface[struct{}](reg, o.name, o.slots),
		slots: make([]slot, o.slots),
	}

	active.WithLabelValues(o.name).Set(0)

	return svc
}

func positiveSlots(n int) error {
	if n < 1 {
		return fmt.Errorf("%w: %d", errNoSlots, n)
	}

	return nil
}

// Name returns the service name.
func (s *Service) Name() string {
	return s.name
}

// Capacity returns the number of timer slots.
func (s *Service) Capacity() int {
	return len(s.slots)
}

// Start arms a periodic timer that fires cb on target every timeout ticks,
// counting from now. A pair that is already running must be stopped before it
// can be started again.
func (s *Service) Start(cb *Callback, target callback.Target, timeout Ticks) (callback.Handle, error) {
	if timeout == 0 {
		return callback.Handle{}, fmt.Errorf("%w: %s", ErrZeroTimeout, cb.Name())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return callback.Handle{}, fmt.Errorf("start %s: %w", cb.Name(), commonerrors.ErrClosed)
	}

	if _, found := s.iface.Lookup(cb, target); found {
		return callback.Handle{}, fmt.Errorf("%w: %s on %s", ErrTimerActive, cb.Name(), target.Name())
	}

	h, err := s.iface.Register(cb, target)
	if err != nil {
		return callback.Handle{}, err
	}

	assert.InRange(h.Slot(), len(s.slots))
	assert.False(s.slots[h.Slot()].enabled, "timer slot %d of %s is already armed", h.Slot(), s.name)

	s.slots[h.Slot()] = slot{
		enabled: true,
		handle:  h,
		name:    cb.Name(),
		anchor:  s.clock.Now(),
		timeout: timeout,
	}

	active.WithLabelValues(s.name).Inc()

	logger.Get(s.ctx).Debug("timer started",
		"service", s.name, "callback", cb.Name(), "target", target.Name(), "timeout", timeout)

	return h, nil
}

// Stop disarms the timer of the pair and removes its subscription. Stopping a
// pair that isn't running does nothing.
func (s *Service) Stop(cb *Callback, target callback.Target) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, found := s.iface.Lookup(cb, target)
	if !found {
		return
	}

	s.disarmLocked(h)
}

// Active reports whether the pair has a running timer.
func (s *Service) Active(cb *Callback, target callback.Target) bool {
	_, found := s.iface.Lookup(cb, target)

	return found
}

// Len returns the number of armed timers.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0

	for _, sl := range s.slots {
		if sl.enabled {
			n++
		}
	}

	return n
}

// ProcessTimers fires every armed timer whose period has elapsed. A timer
// fires at most once per call; a timer that fell more than one period behind
// is re-anchored to now rather than fired repeatedly to catch up.
func (s *Service) ProcessTimers() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	now := s.clock.Now()

	for idx := range s.slots {
		sl := &s.slots[idx]

		if !sl.enabled || now-sl.anchor < sl.timeout {
			continue
		}

		sl.anchor += sl.timeout

		if now-sl.anchor >= sl.timeout {
			sl.anchor = now

			resyncs.WithLabelValues(s.name, sl.name).Inc()
		}

		fired.WithLabelValues(s.name, sl.name).Inc()

		if !s.iface.InvokeHandle(s.ctx, sl.handle, struct{}{}) {
			// Subscription went away behind our back.
			*sl = slot{}

			active.WithLabelValues(s.name).Dec()
		}
	}
}

// Close stops every timer. Later Start calls fail with errors.ErrClosed.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	for idx := range s.slots {
		if s.slots[idx].enabled {
			s.disarmLocked(s.slots[idx].handle)
		}
	}

	s.closed = true
}

func (s *Service) disarmLocked(h callback.Handle) {
	assert.InRange(h.Slot(), len(s.slots))

	if s.slots[h.Slot()].enabled {
		active.WithLabelValues(s.name).Dec()
	}

	s.slots[h.Slot()] = slot{}
	s.iface.Unregister(h)
}
