package statemachine

import (
	"fmt"

	"github.com/amp-labs/amp-dispatch/errors"
)

type stateDef[D any] struct {
	name  string
	funcs StateFuncs[D]
}

type cell struct {
	event   EventID
	from    StateID
	outcome Outcome
}

// Builder assembles a Definition. States and events are numbered in the
// order they are declared. Mistakes are collected and reported by Build.
type Builder[D any] struct {
	name    string
	states  []stateDef[D]
	events  []string
	cells   []cell
	initial StateID
	errs    errors.Collection
}

// NewBuilder starts a definition named name.
func NewBuilder[D any](name string) *Builder[D] {
	return &Builder[D]{name: name}
}

// State declares a state and returns its id. The first declared state is the
// initial state unless Initial says otherwise.
func (b *Builder[D]) State(name string, funcs StateFuncs[D]) StateID {
	id := StateID(len(b.states))

	switch {
	case name == "":
		b.errs.Add(fmt.Errorf("state %d: %w", id, ErrStateNameRequired))
	case b.stateIndex(name) >= 0:
		b.errs.Add(fmt.Errorf("%w: %s", ErrDuplicateStateName, name))
	}

	if funcs.Action == nil {
		b.errs.Add(fmt.Errorf("state %s: %w", name, ErrStateActionRequired))
	}

	b.states = append(b.states, stateDef[D]{name: name, funcs: funcs})

	return id
}

// Event declares an event and returns its id.
func (b *Builder[D]) Event(name string) EventID {
	for _, existing := range b.events {
		if existing == name {
			b.errs.Add(fmt.Errorf("%w: %s", ErrDuplicateEventName, name))
		}
	}

	b.events = append(b.events, name)

	return EventID(len(b.events) - 1)
}

// On sets the outcome of event while in state from. Later calls for the same
// cell win.
func (b *Builder[D]) On(event EventID, from StateID, outcome Outcome) *Builder[D] {
	b.cells = append(b.cells, cell{event: event, from: from, outcome: outcome})

	return b
}

// OnAll sets the outcome of event for every state declared so far.
func (b *Builder[D]) OnAll(event EventID, outcome Outcome) *Builder[D] {
	for id := range b.states {
		b.On(event, StateID(id), outcome)
	}

	return b
}

// Initial picks the state new machines start in.
func (b *Builder[D]) Initial(id StateID) *Builder[D] {
	b.initial = id

	return b
}

func (b *Builder[D]) stateIndex(name string) int {
	for idx, st := range b.states {
		if st.name == name {
			return idx
		}
	}

	return -1
}

func (b *Builder[D]) validState(id StateID) bool {
	return id >= 0 && int(id) < len(b.states)
}

// Build checks the declarations and freezes them into a Definition.
func (b *Builder[D]) Build() (*Definition[D], error) {
	errs := b.errs

	if len(b.states) == 0 {
		errs.Add(ErrStateRequired)
	}

	if len(b.states) > 0 && !b.validState(b.initial) {
		errs.Add(fmt.Errorf("initial state %d: %w", b.initial, ErrStateNotFound))
	}

	table := make([][]Outcome, len(b.events))
	for ev := range table {
		table[ev] = make([]Outcome, len(b.states))
	}

	for _, c := range b.cells {
		if c.event < 0 || int(c.event) >= len(b.events) {
			errs.Add(fmt.Errorf("event %d: %w", c.event, ErrEventNotFound))

			continue
		}

		if !b.validState(c.from) {
			errs.Add(fmt.Errorf("event %s from state %d: %w", b.events[c.event], c.from, ErrStateNotFound))

			continue
		}

		if target, ok := c.outcome.Target(); ok && !b.validState(target) {
			errs.Add(fmt.Errorf("event %s to state %d: %w", b.events[c.event], target, ErrStateNotFound))

			continue
		}

		table[c.event][c.from] = c.outcome
	}

	if err := errs.GetError(); err != nil {
		return nil, fmt.Errorf("statemachine %s: %w", b.name, err)
	}

	return &Definition[D]{
		name:    b.name,
		states:  append([]stateDef[D](nil), b.states...),
		events:  append([]string(nil), b.events...),
		table:   table,
		initial: b.initial,
	}, nil
}

// Definition is an immutable state and transition table shared by any number
// of machines.
type Definition[D any] struct {
	name    string
	states  []stateDef[D]
	events  []string
	table   [][]Outcome
	initial StateID
}

// Name returns the definition name.
func (d *Definition[D]) Name() string {
	return d.name
}

// Initial returns the initial state.
func (d *Definition[D]) Initial() StateID {
	return d.initial
}

// States returns the number of states.
func (d *Definition[D]) States() int {
	return len(d.states)
}

// StateName returns the name of id, or "" if it's out of range.
func (d *Definition[D]) StateName(id StateID) string {
	if id < 0 || int(id) >= len(d.states) {
		return ""
	}

	return d.states[id].name
}

// EventName returns the name of id, or "" if it's out of range.
func (d *Definition[D]) EventName(id EventID) string {
	if id < 0 || int(id) >= len(d.events) {
		return ""
	}

	return d.events[id]
}

// LookupState finds a state by name.
func (d *Definition[D]) LookupState(name string) (StateID, bool) {
	for idx, st := range d.states {
		if st.name == name {
			return StateID(idx), true
		}
	}

	return 0, false
}

// LookupEvent finds an event by name.
func (d *Definition[D]) LookupEvent(name string) (EventID, bool) {
	for idx, ev := range d.events {
		if ev == name {
			return EventID(idx), true
		}
	}

	return 0, false
}

// Outcome returns the transition table cell for event in state from.
func (d *Definition[D]) Outcome(event EventID, from StateID) Outcome {
	return d.table[event][from]
}
