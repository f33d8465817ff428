// Package statemachine runs table-driven finite state machines.
//
// A Definition holds an ordered list of states and, for every event, one
// transition table cell per state: a target state, Ignored, or CannotHappen.
// Each state has a state action and may have a guard, an entry action and an
// exit action.
//
// An external event looks up its cell for the current state. Ignored does
// nothing. CannotHappen is reported to the machine's fatal handler, which
// panics by default. A target state first has its guard consulted; if the
// transition goes ahead, the old state's exit action runs (only when the
// state actually changes), then the target's entry action (likewise only on
// change) and finally its state action. Actions may queue one internal event
// each, which moves the machine again before Event returns, skipping the exit
// action and the guard.
//
// Machines do no locking of their own. All events for one machine must be
// delivered on the same goroutine; binding the machine to a worker thread with
// WithTarget and sending events through Post is how other goroutines reach it.
package statemachine
