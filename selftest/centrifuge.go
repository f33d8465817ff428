package selftest

import (
	"context"

	"github.com/amp-labs/amp-dispatch/callback"
	"github.com/amp-labs/amp-dispatch/logger"
	"github.com/amp-labs/amp-dispatch/statemachine"
	"github.com/amp-labs/amp-dispatch/timer"
)

// Centrifuge states.
const (
	CentrifugeIdle statemachine.StateID = iota
	CentrifugeCompleted
	CentrifugeFailed
	CentrifugeStartTest
	CentrifugeAcceleration
	CentrifugeWaitForAcceleration
	CentrifugeDeceleration
	CentrifugeWaitForDeceleration
)

// Centrifuge events.
const (
	CentrifugeStart statemachine.EventID = iota
	CentrifugeCancel
	CentrifugePoll
)

// TargetSpeed is the speed the centrifuge spins up to before slowing down.
const TargetSpeed = 5

// CentrifugeData is the centrifuge machine's instance data.
type CentrifugeData struct {
	Speed int
}

// Centrifuge spins up to TargetSpeed one step per poll, spins back down, and
// reports the result on Completed or Failed.
type Centrifuge struct {
	deps    Deps
	machine *statemachine.Machine[CentrifugeData]
	poll    *timer.Callback

	Completed *callback.Interface[struct{}]
	Failed    *callback.Interface[struct{}]
}

// NewCentrifuge builds the centrifuge machine in Idle.
func NewCentrifuge(deps Deps) (*Centrifuge, error) {
	deps = deps.withDefaults()

	c := &Centrifuge{
		deps:      deps,
		Completed: callback.NewInterface[struct{}](deps.Registry, "selftest.centrifuge.completed", 1),
		Failed:    callback.NewInterface[struct{}](deps.Registry, "selftest.centrifuge.failed", 1),
	}

	c.poll = timer.NewCallback("centrifuge.poll", func(ctx context.Context) {
		c.machine.Event(ctx, CentrifugePoll, nil)
	})

	def, err := c.definition()
	if err != nil {
		return nil, err
	}

	c.machine = def.New(&CentrifugeData{}, statemachine.WithTarget(deps.Registry, deps.Thread))

	return c, nil
}

// Machine returns the underlying state machine.
func (c *Centrifuge) Machine() *statemachine.Machine[CentrifugeData] {
	return c.machine
}

// Cancel aborts a running test. Safe from any goroutine.
func (c *Centrifuge) Cancel(ctx context.Context) error {
	return c.machine.Post(ctx, CentrifugeCancel, nil)
}

// Start begins a test from any goroutine.
func (c *Centrifuge) Start(ctx context.Context) error {
	return c.machine.Post(ctx, CentrifugeStart, nil)
}

// start runs Start synchronously; only for callers already on the thread.
func (c *Centrifuge) start(ctx context.Context) {
	c.machine.Event(ctx, CentrifugeStart, nil)
}

type centrifugeMachine = statemachine.Machine[CentrifugeData]

func (c *Centrifuge) log(ctx context.Context, m *centrifugeMachine) {
	logger.Get(ctx).Info("centrifuge", "state", m.StateName(m.Current()), "speed", m.Data().Speed)
}

func (c *Centrifuge) stopPolling(ctx context.Context, _ *centrifugeMachine) {
	logger.Get(ctx).Debug("centrifuge polling stopped")
	c.deps.Timers.Stop(c.poll, c.deps.Thread)
}

func (c *Centrifuge) startPolling(ctx context.Context, m *centrifugeMachine, _ any) {
	c.log(ctx, m)

	if err := restartPolling(c.deps, c.poll); err != nil {
		logger.Get(ctx).Error("centrifuge cannot poll", "error", err)
	}
}

func (c *Centrifuge) definition() (*statemachine.Definition[CentrifugeData], error) {
	bld := statemachine.NewBuilder[CentrifugeData]("centrifuge")

	mustState(bld.State("Idle", statemachine.StateFuncs[CentrifugeData]{
		Entry: func(ctx context.Context, m *centrifugeMachine, _ any) {
			m.Data().Speed = 0
			c.stopPolling(ctx, m)
		},
		Action: func(ctx context.Context, m *centrifugeMachine, _ any) {
			c.log(ctx, m)
		},
	}), CentrifugeIdle)

	mustState(bld.State("Completed", statemachine.StateFuncs[CentrifugeData]{
		Action: func(ctx context.Context, m *centrifugeMachine, _ any) {
			c.log(ctx, m)
			m.InternalEvent(ctx, CentrifugeIdle, nil)
			c.Completed.Invoke(ctx, struct{}{})
		},
	}), CentrifugeCompleted)

	mustState(bld.State("Failed", statemachine.StateFuncs[CentrifugeData]{
		Action: func(ctx context.Context, m *centrifugeMachine, _ any) {
			c.log(ctx, m)
			m.InternalEvent(ctx, CentrifugeIdle, nil)
			c.Failed.Invoke(ctx, struct{}{})
		},
	}), CentrifugeFailed)

	mustState(bld.State("StartTest", statemachine.StateFuncs[CentrifugeData]{
		// A spinning centrifuge can't start a test.
		Guard: func(_ context.Context, m *centrifugeMachine, _ any) bool {
			return m.Data().Speed == 0
		},
		Action: func(ctx context.Context, m *centrifugeMachine, _ any) {
			c.log(ctx, m)
			m.InternalEvent(ctx, CentrifugeAcceleration, nil)
		},
	}), CentrifugeStartTest)

	mustState(bld.State("Acceleration", statemachine.StateFuncs[CentrifugeData]{
		Action: c.startPolling,
	}), CentrifugeAcceleration)

	mustState(bld.State("WaitForAcceleration", statemachine.StateFuncs[CentrifugeData]{
		Action: func(ctx context.Context, m *centrifugeMachine, _ any) {
			c.log(ctx, m)

			m.Data().Speed++
			if m.Data().Speed >= TargetSpeed {
				m.InternalEvent(ctx, CentrifugeDeceleration, nil)
			}
		},
		Exit: c.stopPolling,
	}), CentrifugeWaitForAcceleration)

	mustState(bld.State("Deceleration", statemachine.StateFuncs[CentrifugeData]{
		Action: c.startPolling,
	}), CentrifugeDeceleration)

	mustState(bld.State("WaitForDeceleration", statemachine.StateFuncs[CentrifugeData]{
		Action: func(ctx context.Context, m *centrifugeMachine, _ any) {
			c.log(ctx, m)

			speed := m.Data().Speed
			m.Data().Speed--

			if speed == 0 {
				m.InternalEvent(ctx, CentrifugeCompleted, nil)
			}
		},
		Exit: c.stopPolling,
	}), CentrifugeWaitForDeceleration)

	mustEvent(bld.Event("Start"), CentrifugeStart)
	mustEvent(bld.Event("Cancel"), CentrifugeCancel)
	mustEvent(bld.Event("Poll"), CentrifugePoll)

	spinning := []statemachine.StateID{
		CentrifugeStartTest,
		CentrifugeAcceleration,
		CentrifugeWaitForAcceleration,
		CentrifugeDeceleration,
		CentrifugeWaitForDeceleration,
	}

	bld.On(CentrifugeStart, CentrifugeIdle, statemachine.Goto(CentrifugeStartTest))
	bld.On(CentrifugeCancel, CentrifugeIdle, statemachine.Ignored())

	for _, st := range spinning {
		bld.On(CentrifugeStart, st, statemachine.Ignored())
		bld.On(CentrifugeCancel, st, statemachine.Goto(CentrifugeFailed))
	}

	bld.OnAll(CentrifugePoll, statemachine.Ignored())
	bld.On(CentrifugePoll, CentrifugeAcceleration, statemachine.Goto(CentrifugeWaitForAcceleration))
	bld.On(CentrifugePoll, CentrifugeWaitForAcceleration, statemachine.Goto(CentrifugeWaitForAcceleration))
	bld.On(CentrifugePoll, CentrifugeDeceleration, statemachine.Goto(CentrifugeWaitForDeceleration))
	bld.On(CentrifugePoll, CentrifugeWaitForDeceleration, statemachine.Goto(CentrifugeWaitForDeceleration))

	return bld.Build()
}
