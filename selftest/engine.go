package selftest

import (
	"context"
	"fmt"

	"github.com/amp-labs/amp-dispatch/callback"
	"github.com/amp-labs/amp-dispatch/logger"
	"github.com/amp-labs/amp-dispatch/statemachine"
)

// Engine states.
const (
	EngineIdle statemachine.StateID = iota
	EngineCompleted
	EngineFailed
	EngineStartCentrifugeTest
	EngineStartPressureTest
)

// Engine events. engineComplete is raised only by the sub-machines.
const (
	EngineStart statemachine.EventID = iota
	EngineCancel
	engineComplete
)

// EngineData is the engine machine's instance data.
type EngineData struct {
	TestActive bool
}

type engineMachine = statemachine.Machine[EngineData]

// Engine runs the centrifuge test and then the pressure test. The
// sub-machines must run on the engine's thread: the engine drives them by
// calling their events directly.
type Engine struct {
	deps       Deps
	machine    *statemachine.Machine[EngineData]
	centrifuge *Centrifuge
	pressure   *Pressure

	onCompleted *callback.Callback[struct{}]
	onFailed    *callback.Callback[struct{}]

	Status    *callback.Interface[Status]
	Completed *callback.Interface[struct{}]
	Failed    *callback.Interface[struct{}]
}

// NewEngine builds the engine and subscribes it to both sub-machines.
func NewEngine(deps Deps, centrifuge *Centrifuge, pressure *Pressure) (*Engine, error) {
	deps = deps.withDefaults()

	e := &Engine{
		deps:       deps,
		centrifuge: centrifuge,
		pressure:   pressure,
		Status:     callback.NewInterface[Status](deps.Registry, "selftest.engine.status", subscriberCapacity),
		Completed:  callback.NewInterface[struct{}](deps.Registry, "selftest.engine.completed", subscriberCapacity),
		Failed:     callback.NewInterface[struct{}](deps.Registry, "selftest.engine.failed", subscriberCapacity),
	}

	def, err := e.definition()
	if err != nil {
		return nil, err
	}

	e.machine = def.New(&EngineData{}, statemachine.WithTarget(deps.Registry, deps.Thread))

	e.onCompleted = callback.New("engine.subtest-completed", func(ctx context.Context, _ struct{}) {
		e.machine.Event(ctx, engineComplete, nil)
	})
	e.onFailed = callback.New("engine.subtest-failed", func(ctx context.Context, _ struct{}) {
		e.machine.Event(ctx, EngineCancel, nil)
	})

	subs := []struct {
		iface *callback.Interface[struct{}]
		cb    *callback.Callback[struct{}]
	}{
		{centrifuge.Completed, e.onCompleted},
		{centrifuge.Failed, e.onFailed},
		{pressure.Completed, e.onCompleted},
		{pressure.Failed, e.onFailed},
	}

	for _, sub := range subs {
		if _, err := sub.iface.Register(sub.cb, deps.Thread); err != nil {
			return nil, fmt.Errorf("subscribing engine to %s: %w", sub.iface.Name(), err)
		}
	}

	return e, nil
}

// New wires a complete self-test: centrifuge, pressure and engine on one thread.
func New(deps Deps) (*Engine, error) {
	centrifuge, err := NewCentrifuge(deps)
	if err != nil {
		return nil, err
	}

	pressure, err := NewPressure(deps)
	if err != nil {
		return nil, err
	}

	return NewEngine(deps, centrifuge, pressure)
}

// Machine returns the underlying state machine.
func (e *Engine) Machine() *statemachine.Machine[EngineData] {
	return e.machine
}

// Centrifuge returns the centrifuge sub-machine.
func (e *Engine) Centrifuge() *Centrifuge {
	return e.centrifuge
}

// Pressure returns the pressure sub-machine.
func (e *Engine) Pressure() *Pressure {
	return e.pressure
}

// Start begins a self-test. Safe from any goroutine.
func (e *Engine) Start(ctx context.Context) error {
	return e.machine.Post(ctx, EngineStart, nil)
}

// Cancel fails the running self-test. Safe from any goroutine.
func (e *Engine) Cancel(ctx context.Context) error {
	return e.machine.Post(ctx, EngineCancel, nil)
}

func (e *Engine) log(ctx context.Context, m *engineMachine) {
	logger.Get(ctx).Info("self-test engine", "state", m.StateName(m.Current()), "active", m.Data().TestActive)
}

func (e *Engine) definition() (*statemachine.Definition[EngineData], error) {
	bld := statemachine.NewBuilder[EngineData]("engine")

	mustState(bld.State("Idle", statemachine.StateFuncs[EngineData]{
		Action: func(ctx context.Context, m *engineMachine, _ any) {
			m.Data().TestActive = false
			e.log(ctx, m)
			e.Status.Invoke(ctx, Status{TestActive: false})
		},
	}), EngineIdle)

	mustState(bld.State("Completed", statemachine.StateFuncs[EngineData]{
		Action: func(ctx context.Context, m *engineMachine, _ any) {
			e.log(ctx, m)
			e.Completed.Invoke(ctx, struct{}{})
			m.InternalEvent(ctx, EngineIdle, nil)
		},
	}), EngineCompleted)

	mustState(bld.State("Failed", statemachine.StateFuncs[EngineData]{
		Action: func(ctx context.Context, m *engineMachine, _ any) {
			e.log(ctx, m)
			e.Failed.Invoke(ctx, struct{}{})
			m.InternalEvent(ctx, EngineIdle, nil)
		},
	}), EngineFailed)

	mustState(bld.State("StartCentrifugeTest", statemachine.StateFuncs[EngineData]{
		Action: func(ctx context.Context, m *engineMachine, _ any) {
			m.Data().TestActive = true
			e.log(ctx, m)
			e.centrifuge.start(ctx)
			e.Status.Invoke(ctx, Status{TestActive: true})
		},
	}), EngineStartCentrifugeTest)

	mustState(bld.State("StartPressureTest", statemachine.StateFuncs[EngineData]{
		Action: func(ctx context.Context, m *engineMachine, _ any) {
			e.log(ctx, m)
			e.pressure.start(ctx)
		},
	}), EngineStartPressureTest)

	mustEvent(bld.Event("Start"), EngineStart)
	mustEvent(bld.Event("Cancel"), EngineCancel)
	mustEvent(bld.Event("Complete"), engineComplete)

	bld.On(EngineStart, EngineIdle, statemachine.Goto(EngineStartCentrifugeTest)).
		On(EngineStart, EngineStartCentrifugeTest, statemachine.Ignored()).
		On(EngineStart, EngineStartPressureTest, statemachine.Ignored())

	bld.On(engineComplete, EngineIdle, statemachine.Ignored()).
		On(engineComplete, EngineStartCentrifugeTest, statemachine.Goto(EngineStartPressureTest)).
		On(engineComplete, EngineStartPressureTest, statemachine.Goto(EngineCompleted))

	bld.OnAll(EngineCancel, statemachine.Goto(EngineFailed))
	bld.On(EngineCancel, EngineIdle, statemachine.Ignored())

	return bld.Build()
}
