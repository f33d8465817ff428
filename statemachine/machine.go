package statemachine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/amp-labs/amp-dispatch/assert"
	"github.com/amp-labs/amp-dispatch/callback"
	"github.com/amp-labs/amp-dispatch/logger"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/atomic"
)

// FatalHandler receives conditions a machine cannot continue from. If it
// returns, the offending call returns without touching the machine.
type FatalHandler func(ctx context.Context, err *FatalError)

// PanicOnFatal is the default FatalHandler.
func PanicOnFatal(_ context.Context, err *FatalError) {
	panic(err)
}

type hop struct {
	target StateID
	data   any
}

type posted struct {
	event EventID
	data  any
}

// Machine is one instance of a Definition with its own data and current
// state. Machines take no locks: every event for one machine must arrive on
// the same goroutine, normally a worker thread reached through Post.
type Machine[D any] struct {
	def     *Definition[D]
	name    string
	data    *D
	current StateID
	fatal   FatalHandler
	log     *slog.Logger

	busy     *atomic.Bool
	inAction bool
	pending  *hop

	events *callback.Interface[posted]
	target callback.Target
}

type machineOptions struct {
	name   string
	fatal  FatalHandler
	log    *slog.Logger
	reg    *callback.Registry
	target callback.Target
}

// Option configures a Machine.
type Option func(*machineOptions)

// WithName names the instance. Defaults to the definition name.
func WithName(name string) Option {
	return func(o *machineOptions) {
		o.name = name
	}
}

// WithFatalHandler replaces PanicOnFatal.
func WithFatalHandler(h FatalHandler) Option {
	return func(o *machineOptions) {
		o.fatal = h
	}
}

// WithLogger sets the logger used for transition logs. Without it the
// machine logs through logger.Get on the event context.
func WithLogger(l *slog.Logger) Option {
	return func(o *machineOptions) {
		o.log = l
	}
}

// WithTarget binds the machine to a dispatch target. Post then delivers
// events through a callback interface declared on reg, so they execute on
// target no matter which goroutine posted them.
func WithTarget(reg *callback.Registry, target callback.Target) Option {
	return func(o *machineOptions) {
		o.reg = reg
		o.target = target
	}
}

// New creates a machine in the initial state owning data.
func (d *Definition[D]) New(data *D, opts ...Option) *Machine[D] {
	assert.NotNil(data, "statemachine %s needs instance data", d.name)

	o := &machineOptions{
		name:  d.name,
		fatal: PanicOnFatal,
	}

	for _, opt := range opts {
		opt(o)
	}

	m := &Machine[D]{
		def:     d,
		name:    o.name,
		data:    data,
		current: d.initial,
		fatal:   o.fatal,
		log:     o.log,
		busy:    atomic.NewBool(false),
	}

	if o.target != nil {
		assert.NotNil(o.reg, "statemachine %s bound without a registry", o.name)

		m.target = o.target
		m.events = callback.NewInterface[posted](o.reg, "statemachine."+o.name, 1)

		_, err := m.events.Register(callback.New(o.name+".event", m.runPosted), o.target)
		assert.True(err == nil, "binding statemachine %s: %v", o.name, err)
	}

	return m
}

// Name returns the instance name.
func (m *Machine[D]) Name() string {
	return m.name
}

// Definition returns the definition the machine runs.
func (m *Machine[D]) Definition() *Definition[D] {
	return m.def
}

// Data returns the instance data. It must only be touched from the goroutine
// that delivers the machine's events.
func (m *Machine[D]) Data() *D {
	return m.data
}

// Current returns the current state.
func (m *Machine[D]) Current() StateID {
	return m.current
}

// StateName returns the name of a state of this machine's definition.
func (m *Machine[D]) StateName(id StateID) string {
	return m.def.StateName(id)
}

// Post delivers event to the machine on its bound target and returns without
// waiting for it to run.
func (m *Machine[D]) Post(ctx context.Context, event EventID, data any) error {
	if m.events == nil {
		return fmt.Errorf("%w: %s", ErrNotBound, m.name)
	}

	assert.InRange(int(event), len(m.def.events))

	m.events.Invoke(ctx, posted{event: event, data: data})

	return nil
}

func (m *Machine[D]) runPosted(ctx context.Context, p posted) {
	m.Event(ctx, p.event, p.data)
}

// Event feeds an external event into the machine and runs the resulting
// transition, plus any internal events queued by the actions it ran, before
// returning.
func (m *Machine[D]) Event(ctx context.Context, event EventID, data any) {
	assert.InRange(int(event), len(m.def.events))

	if !m.busy.CompareAndSwap(false, true) {
		m.fail(ctx, event, ErrConcurrentEvent)

		return
	}

	defer func() {
		m.pending = nil
		m.busy.Store(false)
	}()

	from := m.current
	outcome := m.def.table[event][from]

	ctx, span := startEventSpan(ctx, m, event)
	defer span.End()

	switch outcome.kind {
	case kindIgnored:
		recordEvent(span, m.name, m.def.events[event], outcomeIgnored)

		return
	case kindCannotHappen:
		recordEvent(span, m.name, m.def.events[event], outcomeFatal)
		span.SetStatus(codes.Error, ErrCannotHappen.Error())

		m.fail(ctx, event, ErrCannotHappen)

		return
	case kindGoto:
	}

	target := outcome.target

	if guard := m.def.states[target].funcs.Guard; guard != nil && !guard(ctx, m, data) {
		recordEvent(span, m.name, m.def.events[event], outcomeGuarded)
		m.logger(ctx).Debug("transition rejected by guard",
			"event", m.def.events[event],
			"from", m.def.states[from].name,
			"to", m.def.states[target].name)

		return
	}

	recordEvent(span, m.name, m.def.events[event], outcomeTransition)

	m.enter(ctx, target, data, true)

	for m.pending != nil {
		next := *m.pending
		m.pending = nil

		m.enter(ctx, next.target, next.data, false)
	}

	setFinalState(span, m.def.states[m.current].name)
}

// InternalEvent moves the machine to target once the running action returns,
// without running the current state's exit action or target's guard. It may
// only be called from an entry or state action of the event being processed,
// and at most once per action. Guards and exit actions cannot call it.
func (m *Machine[D]) InternalEvent(ctx context.Context, target StateID, data any) {
	assert.InRange(int(target), len(m.def.states))

	if !m.busy.Load() || !m.inAction {
		m.fail(ctx, -1, ErrNoActiveEvent)

		return
	}

	if m.pending != nil {
		m.fail(ctx, -1, ErrInternalEventPending)

		return
	}

	m.pending = &hop{target: target, data: data}
}

func (m *Machine[D]) enter(ctx context.Context, target StateID, data any, external bool) {
	from := m.current
	changed := target != from

	if exit := m.def.states[from].funcs.Exit; external && changed && exit != nil {
		exit(ctx, m)
	}

	m.current = target

	st := m.def.states[target]

	if changed {
		transitions.WithLabelValues(m.name, m.def.states[from].name, st.name).Inc()
		m.logger(ctx).Debug("state changed",
			"from", m.def.states[from].name,
			"to", st.name,
			"internal", !external)

		if st.funcs.Entry != nil {
			m.runAction(ctx, st.funcs.Entry, data)
		}
	}

	m.runAction(ctx, st.funcs.Action, data)
}

func (m *Machine[D]) runAction(ctx context.Context, fn ActionFunc[D], data any) {
	m.inAction = true
	defer func() { m.inAction = false }()

	fn(ctx, m, data)
}

func (m *Machine[D]) fail(ctx context.Context, event EventID, err error) {
	fe := &FatalError{
		Machine: m.name,
		State:   m.def.StateName(m.current),
		Event:   m.def.EventName(event),
		Err:     err,
	}

	m.logger(ctx).Error("statemachine fatal error", "error", fe)

	m.fatal(ctx, fe)
}

func (m *Machine[D]) logger(ctx context.Context) *slog.Logger {
	if m.log != nil {
		return m.log.With("machine", m.name)
	}

	return logger.Get(ctx).With("machine", m.name)
}
