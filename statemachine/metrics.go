package statemachine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Event outcomes used as metric labels and span attributes.
const (
	outcomeTransition = "transition"
	outcomeIgnored    = "ignored"
	outcomeGuarded    = "guarded"
	outcomeFatal      = "fatal"
)

var (
	// eventsTotal counts external events by machine, event and outcome.
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "statemachine_events_total",
		Help: "Total number of events by machine, event, and outcome",
	}, []string{"machine", "event", "outcome"})

	// transitions counts state changes, internal hops included.
	transitions = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "statemachine_transitions_total",
		Help: "Total number of state transitions by machine, from_state, and to_state",
	}, []string{"machine", "from_state", "to_state"})
)
