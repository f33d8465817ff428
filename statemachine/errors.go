package statemachine

import (
	"errors"
	"fmt"
)

// Definition errors, returned by Builder.Build and LoadDefinition.
var (
	// ErrStateRequired indicates that a definition has no states.
	ErrStateRequired = errors.New("at least one state is required")
	// ErrStateNameRequired indicates that a state was declared without a name.
	ErrStateNameRequired = errors.New("state name is required")
	// ErrDuplicateStateName indicates that two states share a name.
	ErrDuplicateStateName = errors.New("duplicate state name")
	// ErrDuplicateEventName indicates that two events share a name.
	ErrDuplicateEventName = errors.New("duplicate event name")
	// ErrStateActionRequired indicates that a state has no state action.
	ErrStateActionRequired = errors.New("state action is required")
	// ErrStateNotFound indicates a reference to an undeclared state.
	ErrStateNotFound = errors.New("state not found")
	// ErrEventNotFound indicates a reference to an undeclared event.
	ErrEventNotFound = errors.New("event not found")
	// ErrActionNotFound indicates that a YAML definition names an unbound function.
	ErrActionNotFound = errors.New("action not found")
	// ErrInvalidOutcome indicates an unparseable transition cell.
	ErrInvalidOutcome = errors.New("invalid transition outcome")
	// ErrInvalidConfig indicates a malformed YAML definition.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Runtime errors, reported through the machine's fatal handler.
var (
	// ErrCannotHappen indicates an event arrived in a state whose cell forbids it.
	ErrCannotHappen = errors.New("event cannot happen in current state")
	// ErrNoActiveEvent indicates InternalEvent was called outside an entry or state action.
	ErrNoActiveEvent = errors.New("internal event outside of event processing")
	// ErrInternalEventPending indicates a second internal event was queued by one action.
	ErrInternalEventPending = errors.New("internal event already pending")
	// ErrConcurrentEvent indicates an event arrived while another was executing.
	ErrConcurrentEvent = errors.New("event delivered while another event is executing")
)

// ErrNotBound is returned by Post on a machine created without WithTarget.
var ErrNotBound = errors.New("state machine not bound to a dispatch target")

// FatalError describes a condition the machine cannot continue from.
type FatalError struct {
	Machine string
	State   string
	Event   string
	Err     error
}

func (e *FatalError) Error() string {
	if e.Event == "" {
		return fmt.Sprintf("statemachine %s in state %s: %v", e.Machine, e.State, e.Err)
	}

	return fmt.Sprintf("statemachine %s in state %s on event %s: %v", e.Machine, e.State, e.Event, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}
