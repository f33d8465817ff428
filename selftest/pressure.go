package selftest

import (
	"context"
	"embed"
	"fmt"

	"github.com/amp-labs/amp-dispatch/callback"
	"github.com/amp-labs/amp-dispatch/logger"
	"github.com/amp-labs/amp-dispatch/statemachine"
	"github.com/amp-labs/amp-dispatch/timer"
)

//go:embed machines/*.yaml
var machines embed.FS

// Pressure states, in the order machines/pressure.yaml declares them.
const (
	PressureIdle statemachine.StateID = iota
	PressureCompleted
	PressureFailed
	PressureStartTest
)

// Pressure events.
const (
	PressureStart statemachine.EventID = iota
	PressureCancel
	PressurePoll
)

// PressureData is the pressure machine's instance data.
type PressureData struct {
	Pressure int
}

type pressureMachine = statemachine.Machine[PressureData]

// Pressure runs a pressure test. The simulated test passes as soon as the
// chamber is found depressurized.
type Pressure struct {
	deps    Deps
	machine *statemachine.Machine[PressureData]
	poll    *timer.Callback

	Completed *callback.Interface[struct{}]
	Failed    *callback.Interface[struct{}]
}

// NewPressure loads the pressure machine from its embedded definition.
func NewPressure(deps Deps) (*Pressure, error) {
	deps = deps.withDefaults()

	p := &Pressure{
		deps:      deps,
		Completed: callback.NewInterface[struct{}](deps.Registry, "selftest.pressure.completed", 1),
		Failed:    callback.NewInterface[struct{}](deps.Registry, "selftest.pressure.failed", 1),
	}

	p.poll = timer.NewCallback("pressure.poll", func(ctx context.Context) {
		p.machine.Event(ctx, PressurePoll, nil)
	})

	def, err := statemachine.LoadDefinitionFromFS(machines, "machines/pressure.yaml", p.actions())
	if err != nil {
		return nil, fmt.Errorf("loading pressure machine: %w", err)
	}

	for name, want := range map[string]statemachine.StateID{
		"Idle": PressureIdle, "Completed": PressureCompleted, "Failed": PressureFailed, "StartTest": PressureStartTest,
	} {
		got, _ := def.LookupState(name)
		mustState(got, want)
	}

	for name, want := range map[string]statemachine.EventID{
		"Start": PressureStart, "Cancel": PressureCancel, "Poll": PressurePoll,
	} {
		got, _ := def.LookupEvent(name)
		mustEvent(got, want)
	}

	p.machine = def.New(&PressureData{}, statemachine.WithTarget(deps.Registry, deps.Thread))

	return p, nil
}

// Machine returns the underlying state machine.
func (p *Pressure) Machine() *statemachine.Machine[PressureData] {
	return p.machine
}

// Start begins a test from any goroutine.
func (p *Pressure) Start(ctx context.Context) error {
	return p.machine.Post(ctx, PressureStart, nil)
}

// Cancel aborts a running test. Safe from any goroutine.
func (p *Pressure) Cancel(ctx context.Context) error {
	return p.machine.Post(ctx, PressureCancel, nil)
}

func (p *Pressure) start(ctx context.Context) {
	p.machine.Event(ctx, PressureStart, nil)
}

func (p *Pressure) report(ctx context.Context, m *pressureMachine, _ any) {
	logger.Get(ctx).Info("pressure", "state", m.StateName(m.Current()), "pressure", m.Data().Pressure)
}

func (p *Pressure) actions() statemachine.Actions[PressureData] {
	return statemachine.Actions[PressureData]{
		Guards: map[string]statemachine.GuardFunc[PressureData]{
			"depressurized": func(_ context.Context, m *pressureMachine, _ any) bool {
				return m.Data().Pressure == 0
			},
		},
		Actions: map[string]statemachine.ActionFunc[PressureData]{
			"reset": func(_ context.Context, m *pressureMachine, _ any) {
				m.Data().Pressure = 0
				p.deps.Timers.Stop(p.poll, p.deps.Thread)
			},
			"report": p.report,
			"completed": func(ctx context.Context, m *pressureMachine, data any) {
				p.report(ctx, m, data)
				m.InternalEvent(ctx, PressureIdle, nil)
				p.Completed.Invoke(ctx, struct{}{})
			},
			"failed": func(ctx context.Context, m *pressureMachine, data any) {
				p.report(ctx, m, data)
				m.InternalEvent(ctx, PressureIdle, nil)
				p.Failed.Invoke(ctx, struct{}{})
			},
			"startTest": func(ctx context.Context, m *pressureMachine, data any) {
				p.report(ctx, m, data)
				m.InternalEvent(ctx, PressureCompleted, nil)
			},
		},
	}
}
