// Package selftest drives a simulated instrument self-test with three state
// machines sharing one worker thread: an engine that sequences a centrifuge
// test and a pressure test, and reports progress through callback interfaces.
package selftest

import (
	"errors"
	"fmt"

	"github.com/amp-labs/amp-dispatch/assert"
	"github.com/amp-labs/amp-dispatch/callback"
	"github.com/amp-labs/amp-dispatch/envutil"
	"github.com/amp-labs/amp-dispatch/statemachine"
	"github.com/amp-labs/amp-dispatch/timer"
)

// DefaultPollTicks is the polling period of the test machines.
const DefaultPollTicks = timer.Ticks(100)

// subscriberCapacity bounds the subscribers of each public callback interface.
const subscriberCapacity = 4

// Status is published whenever the engine starts or stops testing.
type Status struct {
	TestActive bool
}

// Deps are the shared collaborators of the self-test machines. All machines
// built from the same Deps run on Thread.
type Deps struct {
	Registry  *callback.Registry
	Timers    *timer.Service
	Thread    callback.Target
	PollTicks timer.Ticks
}

func (d Deps) withDefaults() Deps {
	assert.NotNil(d.Registry, "selftest needs a callback registry")
	assert.NotNil(d.Timers, "selftest needs a timer service")
	assert.NotNil(d.Thread, "selftest needs a dispatch target")

	if d.PollTicks == 0 {
		d.PollTicks = timer.Ticks(envutil.Uint32("SELFTEST_POLL_TICKS",
			envutil.Default(uint32(DefaultPollTicks)),
			envutil.Validate(positivePoll)).ValueOrElse(uint32(DefaultPollTicks)))
	}

	return d
}

var errZeroPoll = errors.New("poll period must be positive")

func positivePoll(n uint32) error {
	if n == 0 {
		return errZeroPoll
	}

	return nil
}

// mustState checks that a state was numbered as the package constants expect.
func mustState(got, want statemachine.StateID) {
	assert.True(got == want, "state numbered %d, expected %d", got, want)
}

func mustEvent(got, want statemachine.EventID) {
	assert.True(got == want, "event numbered %d, expected %d", got, want)
}

// restartPolling re-arms the poll timer from now.
func restartPolling(d Deps, cb *timer.Callback) error {
	d.Timers.Stop(cb, d.Thread)

	if _, err := d.Timers.Start(cb, d.Thread, d.PollTicks); err != nil {
		return fmt.Errorf("starting %s: %w", cb.Name(), err)
	}

	return nil
}
