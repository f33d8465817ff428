package statemachine

import "context"

// StateID indexes a state of one definition.
type StateID int

// EventID indexes an event of one definition.
type EventID int

// GuardFunc decides whether an external transition into its state may happen.
type GuardFunc[D any] func(ctx context.Context, m *Machine[D], data any) bool

// ActionFunc is a state action or entry action. data is the event data.
type ActionFunc[D any] func(ctx context.Context, m *Machine[D], data any)

// ExitFunc runs when an external transition leaves its state.
type ExitFunc[D any] func(ctx context.Context, m *Machine[D])

// StateFuncs holds the functions of one state. Action is required.
type StateFuncs[D any] struct {
	Guard  GuardFunc[D]
	Entry  ActionFunc[D]
	Action ActionFunc[D]
	Exit   ExitFunc[D]
}

type outcomeKind int

const (
	kindCannotHappen outcomeKind = iota
	kindIgnored
	kindGoto
)

// Outcome is one cell of a transition table.
type Outcome struct {
	kind   outcomeKind
	target StateID
}

// Goto moves the machine to target.
func Goto(target StateID) Outcome {
	return Outcome{kind: kindGoto, target: target}
}

// Ignored drops the event without side effects.
func Ignored() Outcome {
	return Outcome{kind: kindIgnored}
}

// CannotHappen marks the event as illegal in that state. It's the default
// for every cell that isn't set.
func CannotHappen() Outcome {
	return Outcome{kind: kindCannotHappen}
}

// Target returns the destination state and whether the outcome is a transition.
func (o Outcome) Target() (StateID, bool) {
	return o.target, o.kind == kindGoto
}

func (o Outcome) String() string {
	switch o.kind {
	case kindGoto:
		return "goto"
	case kindIgnored:
		return "ignored"
	default:
		return "cannot_happen"
	}
}
